package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tinko_recovery/internal/models"
)

// MemoryStore keeps everything in process memory. It backs the service when no
// DATABASE_URL is configured and is the store used by the engine tests.
type MemoryStore struct {
	mu sync.RWMutex

	merchants  map[uint]*models.Merchant
	payments   map[models.PaymentKey]*models.PaymentEvent
	attempts   map[uint]*models.RecoveryAttempt
	deliveries []models.WebhookDelivery

	nextMerchantID uint
	nextPaymentID  uint
	nextAttemptID  uint
	nextDeliveryID uint

	now func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		merchants: make(map[uint]*models.Merchant),
		payments:  make(map[models.PaymentKey]*models.PaymentEvent),
		attempts:  make(map[uint]*models.RecoveryAttempt),
		now:       time.Now,
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// -----------------------------------------------------------------------------
// Merchants
// -----------------------------------------------------------------------------

func (s *MemoryStore) CreateMerchant(ctx context.Context, m *models.Merchant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.merchants {
		if existing.APIKey == m.APIKey {
			return fmt.Errorf("duplicate api key")
		}
	}
	s.nextMerchantID++
	m.ID = s.nextMerchantID
	m.CreatedAt = s.now()
	m.UpdatedAt = m.CreatedAt
	cp := *m
	s.merchants[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMerchant(ctx context.Context, id uint) (*models.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.merchants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetMerchantByAPIKey(ctx context.Context, apiKey string) (*models.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.merchants {
		if m.APIKey == apiKey {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) RotateAPIKey(ctx context.Context, merchantID uint, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.merchants[merchantID]
	if !ok {
		return ErrNotFound
	}
	m.APIKey = apiKey
	m.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) RotateWebhookSecret(ctx context.Context, merchantID uint, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.merchants[merchantID]
	if !ok {
		return ErrNotFound
	}
	m.WebhookSecret = secret
	m.UpdatedAt = s.now()
	return nil
}

// -----------------------------------------------------------------------------
// Payments
// -----------------------------------------------------------------------------

func (s *MemoryStore) UpsertFailed(ctx context.Context, f FailedPayment) (*models.PaymentEvent, UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[f.Key()]
	if !ok {
		at := f.At
		s.nextPaymentID++
		p = &models.PaymentEvent{
			ID:               s.nextPaymentID,
			CreatedAt:        s.now(),
			MerchantID:       f.MerchantID,
			GatewayPaymentID: f.GatewayPaymentID,
			Gateway:          f.Gateway,
			CustomerEmail:    f.Email,
			CustomerPhone:    f.Phone,
			Amount:           f.Amount,
			Currency:         f.Currency,
			Status:           models.PaymentStatusFailed,
			FailureReason:    f.Reason,
			RawPayload:       f.RawPayload,
			FailedAt:         &at,
		}
		p.UpdatedAt = p.CreatedAt
		s.payments[f.Key()] = p
		cp := *p
		return &cp, UpsertCreated, nil
	}

	if p.Status == models.PaymentStatusRecovered {
		cp := *p
		return &cp, UpsertRejected, nil
	}

	applyFailureUpdate(p, f)
	p.UpdatedAt = s.now()
	cp := *p
	return &cp, UpsertUpdated, nil
}

func (s *MemoryStore) MarkRecovered(ctx context.Context, r RecoveredPayment) (*models.PaymentEvent, RecoverOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := r.At
	p, ok := s.payments[r.Key()]
	if !ok {
		s.nextPaymentID++
		p = &models.PaymentEvent{
			ID:               s.nextPaymentID,
			CreatedAt:        s.now(),
			MerchantID:       r.MerchantID,
			GatewayPaymentID: r.GatewayPaymentID,
			Gateway:          r.Gateway,
			CustomerEmail:    r.Email,
			CustomerPhone:    r.Phone,
			Amount:           r.Amount,
			Currency:         r.Currency,
			Status:           models.PaymentStatusRecovered,
			RawPayload:       r.RawPayload,
			RecoveredAt:      &at,
		}
		p.UpdatedAt = p.CreatedAt
		s.payments[r.Key()] = p
		cp := *p
		return &cp, RecoverCreated, nil
	}

	if p.Status == models.PaymentStatusRecovered {
		cp := *p
		return &cp, RecoverAlready, nil
	}

	p.Status = models.PaymentStatusRecovered
	p.RecoveredAt = &at
	p.UpdatedAt = s.now()
	cp := *p
	return &cp, RecoverTransitioned, nil
}

func (s *MemoryStore) GetPayment(ctx context.Context, key models.PaymentKey) (*models.PaymentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetLatestFailedForMerchant(ctx context.Context, merchantID uint) (*models.PaymentEvent, error) {
	list, err := s.ListPayments(ctx, PaymentFilter{MerchantID: merchantID, Status: models.PaymentStatusFailed, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return &list[0], nil
}

func (s *MemoryStore) ListPayments(ctx context.Context, filter PaymentFilter) ([]models.PaymentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PaymentEvent
	for _, p := range s.payments {
		if p.MerchantID != filter.MerchantID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, *p)
	}
	// Newest first, ties broken by id like the SQL ordering.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Stats(ctx context.Context, merchantID uint) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	for _, p := range s.payments {
		if p.MerchantID != merchantID || p.FailedAt == nil {
			continue
		}
		st.FailedCount++
		if p.Status == models.PaymentStatusRecovered {
			st.RecoveredCount++
			st.RecoveredAmount += p.Amount
		}
	}
	return st, nil
}

// -----------------------------------------------------------------------------
// Attempts
// -----------------------------------------------------------------------------

func (s *MemoryStore) CreateAttempts(ctx context.Context, key models.PaymentKey, attempts []models.RecoveryAttempt, at time.Time) ([]models.RecoveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[key]
	if !ok {
		return nil, ErrNotFound
	}

	existing := make(map[int]bool)
	for _, a := range s.attempts {
		if a.Key() == key {
			existing[a.AttemptNo] = true
		}
	}
	for _, a := range attempts {
		if existing[a.AttemptNo] {
			continue
		}
		s.nextAttemptID++
		a.ID = s.nextAttemptID
		a.PaymentEventID = p.ID
		a.MerchantID = key.MerchantID
		a.GatewayPaymentID = key.GatewayPaymentID
		a.CreatedAt = s.now()
		a.UpdatedAt = a.CreatedAt
		a.PaymentEvent = nil
		cp := a
		s.attempts[a.ID] = &cp
		existing[a.AttemptNo] = true
	}
	stamp := at
	p.AttemptsScheduledAt = &stamp

	return s.attemptsLocked(func(a *models.RecoveryAttempt) bool { return a.Key() == key }), nil
}

func (s *MemoryStore) GetAttempt(ctx context.Context, id uint) (*models.RecoveryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListAttempts(ctx context.Context, key models.PaymentKey) ([]models.RecoveryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attemptsLocked(func(a *models.RecoveryAttempt) bool { return a.Key() == key }), nil
}

func (s *MemoryStore) ListPendingAttempts(ctx context.Context, key models.PaymentKey) ([]models.RecoveryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attemptsLocked(func(a *models.RecoveryAttempt) bool {
		return a.Key() == key && a.Status == models.AttemptStatusScheduled
	}), nil
}

func (s *MemoryStore) ListDueAttempts(ctx context.Context, filter DueFilter) ([]models.RecoveryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.attemptsLocked(func(a *models.RecoveryAttempt) bool {
		if a.ID <= filter.AfterID || !claimable(a, filter.StaleBefore) {
			return false
		}
		return filter.DueBefore.IsZero() || !a.ScheduledAt.After(filter.DueBefore)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ClaimAttempt(ctx context.Context, id uint, now, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[id]
	if !ok || !claimable(a, staleBefore) {
		return false, nil
	}
	p, ok := s.payments[a.Key()]
	if !ok || p.Status != models.PaymentStatusFailed {
		return false, nil
	}
	claimed := now
	a.ClaimedAt = &claimed
	a.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) RecordAttemptResult(ctx context.Context, id uint, res AttemptResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[id]
	if !ok || a.Status != models.AttemptStatusScheduled || a.ClaimedAt == nil {
		return false, nil
	}
	a.Status = res.Status
	a.Recipient = res.Recipient
	a.Error = res.Error
	if res.Status == models.AttemptStatusSent {
		sentAt := res.At
		a.SentAt = &sentAt
	}
	a.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) CancelAttempt(ctx context.Context, id uint, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[id]
	if !ok || !claimable(a, staleBefore) {
		return false, nil
	}
	a.Status = models.AttemptStatusCancelled
	a.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) CancelPendingAttempts(ctx context.Context, key models.PaymentKey, staleBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, a := range s.attempts {
		if a.Key() == key && claimable(a, staleBefore) {
			a.Status = models.AttemptStatusCancelled
			a.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

// attemptsLocked returns copies of the matching attempts ordered by attempt number.
// Callers hold mu.
func (s *MemoryStore) attemptsLocked(match func(*models.RecoveryAttempt) bool) []models.RecoveryAttempt {
	var out []models.RecoveryAttempt
	for _, a := range s.attempts {
		if match(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AttemptNo != out[j].AttemptNo {
			return out[i].AttemptNo < out[j].AttemptNo
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// -----------------------------------------------------------------------------
// Webhook deliveries
// -----------------------------------------------------------------------------

func (s *MemoryStore) RecordWebhookDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDeliveryID++
	d.ID = s.nextDeliveryID
	d.CreatedAt = s.now()
	s.deliveries = append(s.deliveries, *d)
	return nil
}

// WebhookDeliveries returns the recorded deliveries in arrival order.
func (s *MemoryStore) WebhookDeliveries() []models.WebhookDelivery {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.WebhookDelivery(nil), s.deliveries...)
}

// applyFailureUpdate refreshes the fields a repeated failure may carry. Empty
// values never overwrite stored ones.
func applyFailureUpdate(p *models.PaymentEvent, f FailedPayment) {
	if f.Reason != "" {
		p.FailureReason = f.Reason
	}
	if f.Email != "" {
		p.CustomerEmail = f.Email
	}
	if f.Phone != "" {
		p.CustomerPhone = f.Phone
	}
	if len(f.RawPayload) > 0 {
		p.RawPayload = f.RawPayload
	}
}

var _ Store = (*MemoryStore)(nil)
