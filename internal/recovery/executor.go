package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tinko_recovery/internal/channels"
	"tinko_recovery/internal/config"
	"tinko_recovery/internal/metrics"
	"tinko_recovery/internal/models"
	"tinko_recovery/internal/store"
)

// ExecOutcome is what an execution did with the attempt.
type ExecOutcome string

const (
	ExecSent      ExecOutcome = "sent"
	ExecFailed    ExecOutcome = "failed"
	ExecCancelled ExecOutcome = "cancelled"
	ExecSkipped   ExecOutcome = "skipped"
)

// Dispatcher routes a message to the sender for a channel.
type Dispatcher interface {
	Supports(ch models.Channel) bool
	Send(ctx context.Context, ch models.Channel, recipient string, msg channels.Message) (channels.SendResult, error)
}

// Executor runs one attempt: it re-reads the attempt and its payment, claims the
// attempt, sends outside the lock and records exactly one result.
type Executor struct {
	store      store.Store
	locker     Locker
	dispatcher Dispatcher
	policy     config.Policy
	log        *zap.Logger
	now        func() time.Time
}

func NewExecutor(st store.Store, locker Locker, dispatcher Dispatcher, policy config.Policy, log *zap.Logger) *Executor {
	return &Executor{
		store:      st,
		locker:     locker,
		dispatcher: dispatcher,
		policy:     policy,
		log:        log,
		now:        time.Now,
	}
}

func (e *Executor) Execute(ctx context.Context, attemptID uint) (ExecOutcome, error) {
	a, p, outcome, err := e.claim(ctx, attemptID)
	if err != nil || outcome != "" {
		return outcome, err
	}

	log := e.log.With(
		zap.Uint("attempt_id", a.ID),
		zap.String("payment", a.Key().String()),
		zap.Int("attempt_no", a.AttemptNo),
		zap.String("channel", string(a.Channel)),
	)

	result := store.AttemptResult{Status: models.AttemptStatusSent}
	recipient := Recipient(a.Channel, p)
	if recipient == "" {
		result.Status = models.AttemptStatusFailed
		result.Error = fmt.Sprintf("no %s recipient for payment", a.Channel)
	} else {
		result.Recipient = recipient
		msg := e.compose(ctx, a, p, log)

		start := time.Now()
		_, sendErr := e.dispatcher.Send(ctx, a.Channel, recipient, msg)
		metrics.SendLatency.WithLabelValues(string(a.Channel)).Observe(time.Since(start).Seconds())
		if sendErr != nil {
			result.Status = models.AttemptStatusFailed
			result.Error = sendErr.Error()
		}
	}
	result.At = e.now()

	// The send happened; its result is recorded even if the caller gave up.
	recorded, err := e.store.RecordAttemptResult(context.WithoutCancel(ctx), a.ID, result)
	if err != nil {
		return ExecFailed, fmt.Errorf("record attempt result: %w", err)
	}
	if !recorded {
		log.Warn("Attempt result already recorded by another executor")
		return ExecSkipped, nil
	}

	outcome = ExecSent
	if result.Status == models.AttemptStatusFailed {
		outcome = ExecFailed
		log.Warn("Recovery attempt failed", zap.String("error", result.Error))
	} else {
		log.Info("Recovery attempt sent")
	}
	metrics.AttemptsExecuted.WithLabelValues(string(a.Channel), string(outcome)).Inc()
	return outcome, nil
}

// claim runs the precondition checks under the payment lock. A non-empty outcome
// means the attempt must not be sent.
func (e *Executor) claim(ctx context.Context, attemptID uint) (*models.RecoveryAttempt, *models.PaymentEvent, ExecOutcome, error) {
	a, err := e.store.GetAttempt(ctx, attemptID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ExecSkipped, nil
	}
	if err != nil {
		return nil, nil, "", fmt.Errorf("load attempt %d: %w", attemptID, err)
	}

	unlock, err := e.locker.Lock(ctx, a.Key().String())
	if err != nil {
		return nil, nil, "", fmt.Errorf("lock payment %s: %w", a.Key(), err)
	}
	defer unlock()

	// Reload under the lock; the first read only told us which lock to take.
	a, err = e.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, nil, "", fmt.Errorf("reload attempt %d: %w", attemptID, err)
	}
	if a.Status != models.AttemptStatusScheduled {
		return nil, nil, ExecSkipped, nil
	}

	p, err := e.store.GetPayment(ctx, a.Key())
	if err != nil {
		return nil, nil, "", fmt.Errorf("load payment %s: %w", a.Key(), err)
	}

	now := e.now()
	staleBefore := now.Add(-e.policy.ClaimTTL)

	if p.Status != models.PaymentStatusFailed {
		ok, err := e.store.CancelAttempt(ctx, a.ID, staleBefore)
		if err != nil {
			return nil, nil, "", fmt.Errorf("cancel attempt %d: %w", a.ID, err)
		}
		if !ok {
			// Another executor holds a live claim and records the result.
			return nil, nil, ExecSkipped, nil
		}
		metrics.AttemptsCancelled.Inc()
		return nil, nil, ExecCancelled, nil
	}

	ok, err := e.store.ClaimAttempt(ctx, a.ID, now, staleBefore)
	if err != nil {
		return nil, nil, "", fmt.Errorf("claim attempt %d: %w", a.ID, err)
	}
	if !ok {
		return nil, nil, ExecSkipped, nil
	}
	return a, p, "", nil
}

func (e *Executor) compose(ctx context.Context, a *models.RecoveryAttempt, p *models.PaymentEvent, log *zap.Logger) channels.Message {
	m, err := e.store.GetMerchant(ctx, a.MerchantID)
	if err != nil {
		log.Warn("Merchant not loaded, composing without merchant details", zap.Error(err))
		m = nil
	}
	return channels.Compose(e.policy.MessageTemplate, channels.MessageData{
		Merchant:  m,
		Payment:   p,
		AttemptNo: a.AttemptNo,
		LinkBase:  e.policy.RetryLinkBase,
	})
}

// Recipient is the address the channel delivers to, read from the payment's
// current contact details.
func Recipient(ch models.Channel, p *models.PaymentEvent) string {
	if ch.NeedsPhone() {
		return channels.NormalizeMSISDN(p.CustomerPhone)
	}
	return p.CustomerEmail
}
