package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"tinko_recovery/internal/metrics"
	"tinko_recovery/internal/models"
	"tinko_recovery/internal/store"
)

// AckOutcome says what a webhook did to the payment's state.
type AckOutcome string

const (
	AckCreated           AckOutcome = "created"
	AckUpdated           AckOutcome = "updated"
	AckRecovered         AckOutcome = "recovered"
	AckRecordedRecovered AckOutcome = "recorded_recovered"
	AckDuplicate         AckOutcome = "duplicate"
	AckAnomaly           AckOutcome = "anomaly"
	AckIgnored           AckOutcome = "ignored"
)

// Ack is returned for every accepted webhook, including no-ops.
type Ack struct {
	Outcome   AckOutcome           `json:"outcome"`
	EventType string               `json:"event"`
	PaymentID string               `json:"payment_id,omitempty"`
	Payment   *models.PaymentEvent `json:"-"`
}

// Inbound is one webhook delivery. Verified is set by the transport once the
// signature has been checked against the merchant's secret.
type Inbound struct {
	Merchant *models.Merchant
	Verified bool
	Body     []byte
}

// EventSink receives the domain events produced by state transitions. It is
// called while the payment lock is held.
type EventSink interface {
	OnPaymentFailed(ctx context.Context, p *models.PaymentEvent) ([]models.RecoveryAttempt, error)
	OnPaymentRecovered(ctx context.Context, p *models.PaymentEvent) (int64, error)
}

// Ingestor turns gateway webhooks into payment state transitions. Deliveries
// may repeat and arrive out of order; each one performs at most one transition.
type Ingestor struct {
	store  store.Store
	locker Locker
	sink   EventSink
	log    *zap.Logger
	now    func() time.Time
}

func NewIngestor(st store.Store, locker Locker, sink EventSink, log *zap.Logger) *Ingestor {
	return &Ingestor{store: st, locker: locker, sink: sink, log: log, now: time.Now}
}

func (i *Ingestor) Ingest(ctx context.Context, in Inbound) (ack Ack, err error) {
	defer func() {
		i.recordDelivery(ctx, in, ack, err)
	}()

	if in.Merchant == nil || !in.Verified {
		return Ack{}, ingestErr(ErrUnauthenticated, nil)
	}

	ev, perr := parseRazorpay(in.Body)
	if perr != nil {
		i.log.Warn("Malformed webhook rejected", zap.Uint("merchant_id", in.Merchant.ID), zap.Error(perr))
		return Ack{}, ingestErr(ErrMalformed, perr)
	}

	switch ev.Type {
	case EventPaymentFailed:
		return i.handleFailed(ctx, in, ev)
	case EventPaymentCaptured:
		return i.handleCaptured(ctx, in, ev)
	default:
		return Ack{Outcome: AckIgnored, EventType: ev.Type, PaymentID: ev.PaymentID}, nil
	}
}

func (i *Ingestor) handleFailed(ctx context.Context, in Inbound, ev gatewayEvent) (Ack, error) {
	key := models.PaymentKey{MerchantID: in.Merchant.ID, GatewayPaymentID: ev.PaymentID}
	log := i.log.With(zap.String("payment", key.String()), zap.String("event", ev.Type))

	unlock, err := i.locker.Lock(ctx, key.String())
	if err != nil {
		return Ack{}, ingestErr(ErrStoreUnavailable, err)
	}
	defer unlock()

	p, outcome, err := i.store.UpsertFailed(ctx, store.FailedPayment{
		MerchantID:       key.MerchantID,
		GatewayPaymentID: key.GatewayPaymentID,
		Gateway:          models.PaymentGatewayRazorpay,
		Email:            ev.Email,
		Phone:            ev.Phone,
		Amount:           ev.Amount,
		Currency:         ev.Currency,
		Reason:           ev.Reason,
		RawPayload:       json.RawMessage(in.Body),
		At:               i.now(),
	})
	if err != nil {
		return Ack{}, ingestErr(ErrStoreUnavailable, err)
	}

	ack := Ack{EventType: ev.Type, PaymentID: ev.PaymentID, Payment: p}

	switch outcome {
	case store.UpsertRejected:
		log.Warn("Failure reported for a recovered payment, ignoring")
		ack.Outcome = AckAnomaly
		return ack, nil
	case store.UpsertUpdated:
		ack.Outcome = AckUpdated
		if p.AttemptsScheduledAt != nil {
			return ack, nil
		}
		// The row exists but its schedule was never persisted.
		log.Info("Re-emitting payment failed, schedule missing")
	default:
		ack.Outcome = AckCreated
	}

	attempts, err := i.sink.OnPaymentFailed(ctx, p)
	if err != nil {
		return Ack{}, ingestErr(ErrStoreUnavailable, err)
	}
	log.Info("Payment failed, recovery scheduled", zap.Int("attempts", len(attempts)))
	return ack, nil
}

func (i *Ingestor) handleCaptured(ctx context.Context, in Inbound, ev gatewayEvent) (Ack, error) {
	key := models.PaymentKey{MerchantID: in.Merchant.ID, GatewayPaymentID: ev.PaymentID}
	log := i.log.With(zap.String("payment", key.String()), zap.String("event", ev.Type))

	unlock, err := i.locker.Lock(ctx, key.String())
	if err != nil {
		return Ack{}, ingestErr(ErrStoreUnavailable, err)
	}
	defer unlock()

	p, outcome, err := i.store.MarkRecovered(ctx, store.RecoveredPayment{
		MerchantID:       key.MerchantID,
		GatewayPaymentID: key.GatewayPaymentID,
		Gateway:          models.PaymentGatewayRazorpay,
		Email:            ev.Email,
		Phone:            ev.Phone,
		Amount:           ev.Amount,
		Currency:         ev.Currency,
		RawPayload:       json.RawMessage(in.Body),
		At:               i.now(),
	})
	if err != nil {
		return Ack{}, ingestErr(ErrStoreUnavailable, err)
	}

	ack := Ack{EventType: ev.Type, PaymentID: ev.PaymentID, Payment: p}

	switch outcome {
	case store.RecoverAlready:
		ack.Outcome = AckDuplicate
	case store.RecoverCreated:
		log.Info("Capture for an unseen payment, recorded as recovered")
		ack.Outcome = AckRecordedRecovered
	default:
		ack.Outcome = AckRecovered
		// A failed cancel leaves scheduled rows behind; the executor re-checks the
		// payment before sending, so they can never fire.
		n, err := i.sink.OnPaymentRecovered(ctx, p)
		if err != nil {
			log.Error("Failed to cancel pending attempts", zap.Error(err))
		} else {
			log.Info("Payment recovered", zap.Int64("cancelled_attempts", n))
		}
	}
	return ack, nil
}

// recordDelivery writes the audit row and metrics. Failures here never change
// the acknowledgement. Deliveries without a known merchant only count.
func (i *Ingestor) recordDelivery(ctx context.Context, in Inbound, ack Ack, err error) {
	outcome := string(ack.Outcome)
	switch {
	case errors.Is(err, ErrUnauthenticated):
		outcome = "unauthenticated"
	case errors.Is(err, ErrMalformed):
		outcome = "malformed"
	case err != nil:
		outcome = "error"
	}

	eventType := ack.EventType
	if eventType == "" {
		eventType = "unknown"
	}
	metrics.WebhooksReceived.WithLabelValues(models.PaymentGatewayRazorpay, eventType, outcome).Inc()
	if in.Merchant == nil {
		return
	}

	var meta json.RawMessage
	if json.Valid(in.Body) {
		meta = json.RawMessage(in.Body)
	}
	d := &models.WebhookDelivery{
		MerchantID:       in.Merchant.ID,
		Gateway:          models.PaymentGatewayRazorpay,
		EventType:        ack.EventType,
		GatewayPaymentID: ack.PaymentID,
		Outcome:          outcome,
		Metadata:         meta,
	}
	if werr := i.store.RecordWebhookDelivery(context.WithoutCancel(ctx), d); werr != nil {
		i.log.Warn("Failed to record webhook delivery", zap.Error(werr))
	}
}
