package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tinko_recovery/internal/config"
	"tinko_recovery/internal/metrics"
	"tinko_recovery/internal/models"
	"tinko_recovery/internal/store"
)

// Runner executes one attempt by id.
type Runner interface {
	Execute(ctx context.Context, attemptID uint) (ExecOutcome, error)
}

// Scheduler turns a failed payment into persisted attempts and fires them with
// in-process timers. Timers are only an optimisation: the scheduled rows are the
// source of truth and the sweep re-arms or runs anything a restart dropped.
type Scheduler struct {
	store    store.Store
	runner   Runner
	supports func(models.Channel) bool
	policy   config.Policy
	log      *zap.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	timers    map[uint]*time.Timer
	byPayment map[models.PaymentKey][]uint
	wg        sync.WaitGroup
}

// NewScheduler builds a scheduler. supports reports which channels have a
// sender; nil treats every channel as available.
func NewScheduler(st store.Store, runner Runner, supports func(models.Channel) bool, policy config.Policy, log *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:     st,
		runner:    runner,
		supports:  supports,
		policy:    policy,
		log:       log,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		timers:    make(map[uint]*time.Timer),
		byPayment: make(map[models.PaymentKey][]uint),
	}
}

// Plan builds the attempts for a payment from the policy table, measured from
// the first failure.
func (s *Scheduler) Plan(p *models.PaymentEvent) []models.RecoveryAttempt {
	base := s.now()
	if p.FailedAt != nil {
		base = *p.FailedAt
	}

	steps := s.policy.Plan()
	out := make([]models.RecoveryAttempt, 0, len(steps))
	for n, st := range steps {
		out = append(out, models.RecoveryAttempt{
			MerchantID:       p.MerchantID,
			GatewayPaymentID: p.GatewayPaymentID,
			AttemptNo:        n + 1,
			Channel:          ResolveChannel(st.Channel, p, s.supports),
			ScheduledAt:      base.Add(st.Delay),
			Status:           models.AttemptStatusScheduled,
		})
	}
	return out
}

// ResolveChannel falls back to a channel the payment has contact details for:
// phone channels go to email without a phone, email goes to whatsapp without an
// address. A fallback is only taken when supports reports a sender for it.
// Otherwise the configured channel is kept and the attempt fails.
func ResolveChannel(ch models.Channel, p *models.PaymentEvent, supports func(models.Channel) bool) models.Channel {
	usable := func(c models.Channel) bool { return supports == nil || supports(c) }
	switch {
	case ch.NeedsPhone() && p.CustomerPhone == "" && p.CustomerEmail != "" && usable(models.ChannelEmail):
		return models.ChannelEmail
	case ch == models.ChannelEmail && p.CustomerEmail == "" && p.CustomerPhone != "" && usable(models.ChannelWhatsapp):
		return models.ChannelWhatsapp
	default:
		return ch
	}
}

// OnPaymentFailed persists the whole schedule and only then arms its timers. If
// persisting fails nothing is armed. Callers hold the payment lock.
func (s *Scheduler) OnPaymentFailed(ctx context.Context, p *models.PaymentEvent) ([]models.RecoveryAttempt, error) {
	plan := s.Plan(p)

	attempts, err := s.store.CreateAttempts(ctx, p.Key(), plan, s.now())
	if err != nil {
		return nil, fmt.Errorf("persist recovery schedule: %w", err)
	}

	for _, a := range attempts {
		if a.Status != models.AttemptStatusScheduled {
			continue
		}
		metrics.AttemptsScheduled.WithLabelValues(string(a.Channel)).Inc()
		s.Arm(a)
	}
	return attempts, nil
}

// OnPaymentRecovered cancels every attempt that is not in flight and revokes
// their timers. Callers hold the payment lock.
func (s *Scheduler) OnPaymentRecovered(ctx context.Context, p *models.PaymentEvent) (int64, error) {
	s.revoke(p.Key())

	n, err := s.store.CancelPendingAttempts(ctx, p.Key(), s.now().Add(-s.policy.ClaimTTL))
	if err != nil {
		return 0, fmt.Errorf("cancel pending attempts: %w", err)
	}
	metrics.AttemptsCancelled.Add(float64(n))
	return n, nil
}

// Arm sets a timer for a scheduled attempt. Arming an attempt twice is a no-op.
func (s *Scheduler) Arm(a models.RecoveryAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if _, ok := s.timers[a.ID]; ok {
		return
	}

	delay := a.ScheduledAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	id, key := a.ID, a.Key()
	s.timers[id] = time.AfterFunc(delay, func() { s.fire(id, key) })
	s.byPayment[key] = append(s.byPayment[key], id)
	metrics.TimersArmed.Inc()
}

func (s *Scheduler) fire(id uint, key models.PaymentKey) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, ok := s.timers[id]; !ok {
		s.mu.Unlock()
		return
	}
	s.forgetLocked(id, key)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	outcome, err := s.runner.Execute(s.ctx, id)
	if err != nil {
		s.log.Error("Attempt execution failed", zap.Uint("attempt_id", id), zap.Error(err))
		return
	}
	s.log.Debug("Attempt executed", zap.Uint("attempt_id", id), zap.String("outcome", string(outcome)))
}

func (s *Scheduler) revoke(key models.PaymentKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.byPayment[key] {
		if t, ok := s.timers[id]; ok {
			t.Stop()
			delete(s.timers, id)
			metrics.TimersArmed.Dec()
		}
	}
	delete(s.byPayment, key)
}

func (s *Scheduler) forgetLocked(id uint, key models.PaymentKey) {
	delete(s.timers, id)
	metrics.TimersArmed.Dec()

	ids := s.byPayment[key]
	for n, other := range ids {
		if other == id {
			ids = append(ids[:n], ids[n+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(s.byPayment, key)
	} else {
		s.byPayment[key] = ids
	}
}

// Armed is the number of timers currently armed.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop revokes all timers and waits for running executions until ctx is done,
// after which their context is cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
		metrics.TimersArmed.Dec()
	}
	s.byPayment = make(map[models.PaymentKey][]uint)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	defer s.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
