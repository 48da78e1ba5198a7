package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tinko_recovery/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// UpsertOutcome says what UpsertFailed did.
type UpsertOutcome int

const (
	// UpsertCreated means the payment was unseen and is now tracked as failed.
	UpsertCreated UpsertOutcome = iota + 1
	// UpsertUpdated means the payment was already failed; reason and contact were refreshed.
	UpsertUpdated
	// UpsertRejected means the payment is recovered and was left untouched.
	UpsertRejected
)

// RecoverOutcome says what MarkRecovered did.
type RecoverOutcome int

const (
	// RecoverTransitioned means a failed payment moved to recovered.
	RecoverTransitioned RecoverOutcome = iota + 1
	// RecoverCreated means the payment was unseen and was recorded directly as recovered.
	RecoverCreated
	// RecoverAlready means the payment was already recovered.
	RecoverAlready
)

// FailedPayment is the normalized content of a payment failure notification.
type FailedPayment struct {
	MerchantID       uint
	GatewayPaymentID string
	Gateway          string
	Email            string
	Phone            string
	Amount           int64
	Currency         string
	Reason           string
	RawPayload       json.RawMessage
	At               time.Time
}

// Key returns the payment key of the notification.
func (f FailedPayment) Key() models.PaymentKey {
	return models.PaymentKey{MerchantID: f.MerchantID, GatewayPaymentID: f.GatewayPaymentID}
}

// RecoveredPayment is the normalized content of a capture notification.
type RecoveredPayment struct {
	MerchantID       uint
	GatewayPaymentID string
	Gateway          string
	Email            string
	Phone            string
	Amount           int64
	Currency         string
	RawPayload       json.RawMessage
	At               time.Time
}

// Key returns the payment key of the notification.
func (r RecoveredPayment) Key() models.PaymentKey {
	return models.PaymentKey{MerchantID: r.MerchantID, GatewayPaymentID: r.GatewayPaymentID}
}

// Stats are the merchant dashboard aggregates. Payments first seen as captured
// never failed and are not counted.
type Stats struct {
	FailedCount     int64 `json:"failed_count"`
	RecoveredCount  int64 `json:"recovered_count"`
	RecoveredAmount int64 `json:"recovered_amount"` // minor units
}

// PaymentFilter narrows ListPayments. A zero Limit means no limit.
type PaymentFilter struct {
	MerchantID uint
	Status     models.PaymentStatus
	Limit      int
}

// DueFilter selects scheduled attempts for the reconciliation sweep. A zero
// DueBefore selects regardless of scheduled time. Claims older than StaleBefore
// are treated as abandoned. Results are ordered by id; pass the last id seen as
// AfterID to read the next page.
type DueFilter struct {
	DueBefore   time.Time
	StaleBefore time.Time
	AfterID     uint
	Limit       int
}

// AttemptResult is the terminal outcome of an executed attempt.
type AttemptResult struct {
	Status    models.AttemptStatus
	At        time.Time
	Recipient string
	Error     string
}

// Store is the durable state of merchants, payments and their recovery attempts.
// Every write that depends on current state is conditional, so two writers racing
// on the same payment cannot both succeed.
type Store interface {
	Ping(ctx context.Context) error

	CreateMerchant(ctx context.Context, m *models.Merchant) error
	GetMerchant(ctx context.Context, id uint) (*models.Merchant, error)
	GetMerchantByAPIKey(ctx context.Context, apiKey string) (*models.Merchant, error)
	RotateAPIKey(ctx context.Context, merchantID uint, apiKey string) error
	RotateWebhookSecret(ctx context.Context, merchantID uint, secret string) error

	UpsertFailed(ctx context.Context, f FailedPayment) (*models.PaymentEvent, UpsertOutcome, error)
	MarkRecovered(ctx context.Context, r RecoveredPayment) (*models.PaymentEvent, RecoverOutcome, error)
	GetPayment(ctx context.Context, key models.PaymentKey) (*models.PaymentEvent, error)
	GetLatestFailedForMerchant(ctx context.Context, merchantID uint) (*models.PaymentEvent, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]models.PaymentEvent, error)
	Stats(ctx context.Context, merchantID uint) (Stats, error)

	// CreateAttempts persists a whole schedule in one transaction and stamps the
	// payment's attempts_scheduled_at. Attempts that already exist are kept as they
	// are. It returns every attempt of the payment ordered by attempt number.
	CreateAttempts(ctx context.Context, key models.PaymentKey, attempts []models.RecoveryAttempt, at time.Time) ([]models.RecoveryAttempt, error)
	GetAttempt(ctx context.Context, id uint) (*models.RecoveryAttempt, error)
	ListAttempts(ctx context.Context, key models.PaymentKey) ([]models.RecoveryAttempt, error)
	ListPendingAttempts(ctx context.Context, key models.PaymentKey) ([]models.RecoveryAttempt, error)
	ListDueAttempts(ctx context.Context, filter DueFilter) ([]models.RecoveryAttempt, error)

	// ClaimAttempt marks a scheduled attempt in flight. It fails when the attempt is
	// no longer scheduled, is freshly claimed by someone else, or its payment is no
	// longer failed.
	ClaimAttempt(ctx context.Context, id uint, now, staleBefore time.Time) (bool, error)
	// RecordAttemptResult stores the outcome of a claimed attempt. Only the first
	// result is kept.
	RecordAttemptResult(ctx context.Context, id uint, res AttemptResult) (bool, error)
	// CancelAttempt cancels one scheduled attempt unless it is freshly claimed.
	CancelAttempt(ctx context.Context, id uint, staleBefore time.Time) (bool, error)
	// CancelPendingAttempts cancels every scheduled attempt of the payment that is
	// not freshly claimed and returns the number cancelled.
	CancelPendingAttempts(ctx context.Context, key models.PaymentKey, staleBefore time.Time) (int64, error)

	RecordWebhookDelivery(ctx context.Context, d *models.WebhookDelivery) error
}

// claimable reports whether an attempt may be claimed or cancelled at this point.
func claimable(a *models.RecoveryAttempt, staleBefore time.Time) bool {
	if a.Status != models.AttemptStatusScheduled {
		return false
	}
	return a.ClaimedAt == nil || a.ClaimedAt.Before(staleBefore)
}
