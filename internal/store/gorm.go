package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tinko_recovery/internal/models"
)

// GormStore is the Postgres implementation of Store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

const (
	paymentKeyCond = "merchant_id = ? AND gateway_payment_id = ?"
	claimableCond  = "(claimed_at IS NULL OR claimed_at < ?)"
	paymentFailed  = "EXISTS (SELECT 1 FROM payment_events pe WHERE pe.merchant_id = recovery_attempts.merchant_id AND pe.gateway_payment_id = recovery_attempts.gateway_payment_id AND pe.status = ?)"
)

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// -----------------------------------------------------------------------------
// Merchants
// -----------------------------------------------------------------------------

func (s *GormStore) CreateMerchant(ctx context.Context, m *models.Merchant) error {
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *GormStore) GetMerchant(ctx context.Context, id uint) (*models.Merchant, error) {
	var m models.Merchant
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *GormStore) GetMerchantByAPIKey(ctx context.Context, apiKey string) (*models.Merchant, error) {
	var m models.Merchant
	if err := s.db.WithContext(ctx).Where("api_key = ?", apiKey).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *GormStore) RotateAPIKey(ctx context.Context, merchantID uint, apiKey string) error {
	return s.updateMerchant(ctx, merchantID, "api_key", apiKey)
}

func (s *GormStore) RotateWebhookSecret(ctx context.Context, merchantID uint, secret string) error {
	return s.updateMerchant(ctx, merchantID, "webhook_secret", secret)
}

func (s *GormStore) updateMerchant(ctx context.Context, merchantID uint, column, value string) error {
	res := s.db.WithContext(ctx).Model(&models.Merchant{}).Where("id = ?", merchantID).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// -----------------------------------------------------------------------------
// Payments
// -----------------------------------------------------------------------------

func (s *GormStore) UpsertFailed(ctx context.Context, f FailedPayment) (*models.PaymentEvent, UpsertOutcome, error) {
	var (
		out     models.PaymentEvent
		outcome UpsertOutcome
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		at := f.At
		fresh := models.PaymentEvent{
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
		created, err := insertPayment(tx, &fresh)
		if err != nil {
			return err
		}
		if created {
			out, outcome = fresh, UpsertCreated
			return nil
		}

		if err := lockPayment(tx, f.Key(), &out); err != nil {
			return err
		}
		if out.Status == models.PaymentStatusRecovered {
			outcome = UpsertRejected
			return nil
		}

		updates := map[string]interface{}{}
		if f.Reason != "" {
			updates["failure_reason"] = f.Reason
		}
		if f.Email != "" {
			updates["customer_email"] = f.Email
		}
		if f.Phone != "" {
			updates["customer_phone"] = f.Phone
		}
		if len(f.RawPayload) > 0 {
			updates["raw_payload"] = f.RawPayload
		}
		if len(updates) > 0 {
			if err := tx.Model(&models.PaymentEvent{}).Where("id = ? AND status = ?", out.ID, models.PaymentStatusFailed).Updates(updates).Error; err != nil {
				return err
			}
		}
		applyFailureUpdate(&out, f)
		outcome = UpsertUpdated
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return &out, outcome, nil
}

func (s *GormStore) MarkRecovered(ctx context.Context, r RecoveredPayment) (*models.PaymentEvent, RecoverOutcome, error) {
	var (
		out     models.PaymentEvent
		outcome RecoverOutcome
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		at := r.At
		fresh := models.PaymentEvent{
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
		created, err := insertPayment(tx, &fresh)
		if err != nil {
			return err
		}
		if created {
			out, outcome = fresh, RecoverCreated
			return nil
		}

		if err := lockPayment(tx, r.Key(), &out); err != nil {
			return err
		}
		if out.Status == models.PaymentStatusRecovered {
			outcome = RecoverAlready
			return nil
		}

		res := tx.Model(&models.PaymentEvent{}).
			Where("id = ? AND status = ?", out.ID, models.PaymentStatusFailed).
			Updates(map[string]interface{}{"status": models.PaymentStatusRecovered, "recovered_at": at})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			outcome = RecoverAlready
			return nil
		}
		out.Status = models.PaymentStatusRecovered
		out.RecoveredAt = &at
		outcome = RecoverTransitioned
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return &out, outcome, nil
}

// insertPayment inserts p unless a row with the same key exists.
func insertPayment(tx *gorm.DB, p *models.PaymentEvent) (bool, error) {
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "merchant_id"}, {Name: "gateway_payment_id"}},
		DoNothing: true,
	}).Create(p)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func lockPayment(tx *gorm.DB, key models.PaymentKey, dest *models.PaymentEvent) error {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(paymentKeyCond, key.MerchantID, key.GatewayPaymentID).
		First(dest).Error
}

func (s *GormStore) GetPayment(ctx context.Context, key models.PaymentKey) (*models.PaymentEvent, error) {
	var p models.PaymentEvent
	if err := s.db.WithContext(ctx).Where(paymentKeyCond, key.MerchantID, key.GatewayPaymentID).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *GormStore) GetLatestFailedForMerchant(ctx context.Context, merchantID uint) (*models.PaymentEvent, error) {
	var p models.PaymentEvent
	err := s.db.WithContext(ctx).
		Where("merchant_id = ? AND status = ?", merchantID, models.PaymentStatusFailed).
		Order("created_at desc, id desc").
		First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *GormStore) ListPayments(ctx context.Context, filter PaymentFilter) ([]models.PaymentEvent, error) {
	q := s.db.WithContext(ctx).Where("merchant_id = ?", filter.MerchantID)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var out []models.PaymentEvent
	if err := q.Order("created_at desc, id desc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) Stats(ctx context.Context, merchantID uint) (Stats, error) {
	var st Stats
	err := s.db.WithContext(ctx).Raw(`
		SELECT
		  COUNT(*) AS failed_count,
		  COUNT(*) FILTER (WHERE status = ?) AS recovered_count,
		  COALESCE(SUM(amount) FILTER (WHERE status = ?), 0) AS recovered_amount
		FROM payment_events
		WHERE merchant_id = ? AND failed_at IS NOT NULL`,
		models.PaymentStatusRecovered, models.PaymentStatusRecovered, merchantID,
	).Scan(&st).Error
	return st, err
}

// -----------------------------------------------------------------------------
// Attempts
// -----------------------------------------------------------------------------

func (s *GormStore) CreateAttempts(ctx context.Context, key models.PaymentKey, attempts []models.RecoveryAttempt, at time.Time) ([]models.RecoveryAttempt, error) {
	var out []models.RecoveryAttempt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.PaymentEvent
		if err := tx.Select("id").Where(paymentKeyCond, key.MerchantID, key.GatewayPaymentID).First(&p).Error; err != nil {
			return notFound(err)
		}

		if len(attempts) > 0 {
			rows := make([]models.RecoveryAttempt, len(attempts))
			for i, a := range attempts {
				a.ID = 0
				a.PaymentEventID = p.ID
				a.MerchantID = key.MerchantID
				a.GatewayPaymentID = key.GatewayPaymentID
				a.PaymentEvent = nil
				rows[i] = a
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "merchant_id"}, {Name: "gateway_payment_id"}, {Name: "attempt_no"}},
				DoNothing: true,
			}).Create(&rows).Error
			if err != nil {
				return err
			}
		}

		if err := tx.Model(&models.PaymentEvent{}).Where("id = ?", p.ID).Update("attempts_scheduled_at", at).Error; err != nil {
			return err
		}

		return tx.Where(paymentKeyCond, key.MerchantID, key.GatewayPaymentID).Order("attempt_no").Find(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) GetAttempt(ctx context.Context, id uint) (*models.RecoveryAttempt, error) {
	var a models.RecoveryAttempt
	if err := s.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *GormStore) ListAttempts(ctx context.Context, key models.PaymentKey) ([]models.RecoveryAttempt, error) {
	var out []models.RecoveryAttempt
	err := s.db.WithContext(ctx).
		Where(paymentKeyCond, key.MerchantID, key.GatewayPaymentID).
		Order("attempt_no").
		Find(&out).Error
	return out, err
}

func (s *GormStore) ListPendingAttempts(ctx context.Context, key models.PaymentKey) ([]models.RecoveryAttempt, error) {
	var out []models.RecoveryAttempt
	err := s.db.WithContext(ctx).
		Where(paymentKeyCond, key.MerchantID, key.GatewayPaymentID).
		Where("status = ?", models.AttemptStatusScheduled).
		Order("attempt_no").
		Find(&out).Error
	return out, err
}

func (s *GormStore) ListDueAttempts(ctx context.Context, filter DueFilter) ([]models.RecoveryAttempt, error) {
	q := s.db.WithContext(ctx).
		Where("status = ?", models.AttemptStatusScheduled).
		Where(claimableCond, filter.StaleBefore)
	if !filter.DueBefore.IsZero() {
		q = q.Where("scheduled_at <= ?", filter.DueBefore)
	}
	if filter.AfterID > 0 {
		q = q.Where("id > ?", filter.AfterID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var out []models.RecoveryAttempt
	err := q.Order("id").Find(&out).Error
	return out, err
}

func (s *GormStore) ClaimAttempt(ctx context.Context, id uint, now, staleBefore time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.RecoveryAttempt{}).
		Where("id = ? AND status = ?", id, models.AttemptStatusScheduled).
		Where(claimableCond, staleBefore).
		Where(paymentFailed, models.PaymentStatusFailed).
		Update("claimed_at", now)
	return res.RowsAffected == 1, res.Error
}

func (s *GormStore) RecordAttemptResult(ctx context.Context, id uint, r AttemptResult) (bool, error) {
	updates := map[string]interface{}{
		"status":    r.Status,
		"recipient": r.Recipient,
		"error":     r.Error,
	}
	if r.Status == models.AttemptStatusSent {
		updates["sent_at"] = r.At
	}
	res := s.db.WithContext(ctx).Model(&models.RecoveryAttempt{}).
		Where("id = ? AND status = ? AND claimed_at IS NOT NULL", id, models.AttemptStatusScheduled).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (s *GormStore) CancelAttempt(ctx context.Context, id uint, staleBefore time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.RecoveryAttempt{}).
		Where("id = ? AND status = ?", id, models.AttemptStatusScheduled).
		Where(claimableCond, staleBefore).
		Update("status", models.AttemptStatusCancelled)
	return res.RowsAffected == 1, res.Error
}

func (s *GormStore) CancelPendingAttempts(ctx context.Context, key models.PaymentKey, staleBefore time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.RecoveryAttempt{}).
		Where(paymentKeyCond, key.MerchantID, key.GatewayPaymentID).
		Where("status = ?", models.AttemptStatusScheduled).
		Where(claimableCond, staleBefore).
		Update("status", models.AttemptStatusCancelled)
	return res.RowsAffected, res.Error
}

// -----------------------------------------------------------------------------
// Webhook deliveries
// -----------------------------------------------------------------------------

func (s *GormStore) RecordWebhookDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	return s.db.WithContext(ctx).Create(d).Error
}

var _ Store = (*GormStore)(nil)
