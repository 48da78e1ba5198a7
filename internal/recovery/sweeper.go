package recovery

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/teambition/rrule-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tinko_recovery/internal/config"
	"tinko_recovery/internal/metrics"
	"tinko_recovery/internal/store"
)

// sweepBatchSize is how many attempts one sweep page loads.
const sweepBatchSize = 500

// SweepReport summarizes one reconciliation pass.
type SweepReport struct {
	Found     int
	Armed     int
	Sent      int64
	Failed    int64
	Cancelled int64
	Skipped   int64
	Errors    int64
}

// Sweeper reconciles durable scheduled attempts with what is actually armed or
// running. Overdue attempts are executed through a bounded pool; future ones are
// handed to the scheduler when there is one.
type Sweeper struct {
	store     store.Store
	runner    Runner
	scheduler *Scheduler
	policy    config.Policy
	log       *zap.Logger
	now       func() time.Time
	batchSize int
}

// NewSweeper builds a sweeper. scheduler may be nil, in which case future
// attempts are left for a later pass.
func NewSweeper(st store.Store, runner Runner, scheduler *Scheduler, policy config.Policy, log *zap.Logger) *Sweeper {
	return &Sweeper{
		store:     st,
		runner:    runner,
		scheduler: scheduler,
		policy:    policy,
		log:       log,
		now:       time.Now,
		batchSize: sweepBatchSize,
	}
}

// Sweep runs one pass. Attempts are read in pages of batchSize. With a
// scheduler, attempts due within the policy's arm horizon get timers; anything
// later waits for a later pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := s.now()

	filter := store.DueFilter{
		DueBefore:   now,
		StaleBefore: now.Add(-s.policy.ClaimTTL),
		Limit:       s.batchSize,
	}
	if s.scheduler != nil {
		filter.DueBefore = now.Add(s.policy.ArmHorizon)
	}

	var sent, failed, cancelled, skipped, errs atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.policy.SweepConcurrency)

	for {
		attempts, err := s.store.ListDueAttempts(ctx, filter)
		if err != nil {
			_ = g.Wait()
			metrics.SweepRuns.WithLabelValues("error").Inc()
			return report, fmt.Errorf("list due attempts: %w", err)
		}
		report.Found += len(attempts)

		for _, a := range attempts {
			if a.ScheduledAt.After(now) {
				if s.scheduler != nil {
					s.scheduler.Arm(a)
					report.Armed++
				}
				continue
			}

			id := a.ID
			g.Go(func() error {
				outcome, err := s.runner.Execute(gctx, id)
				if err != nil {
					errs.Add(1)
					s.log.Error("Sweep execution failed", zap.Uint("attempt_id", id), zap.Error(err))
					return nil
				}
				switch outcome {
				case ExecSent:
					sent.Add(1)
				case ExecFailed:
					failed.Add(1)
				case ExecCancelled:
					cancelled.Add(1)
				default:
					skipped.Add(1)
				}
				return nil
			})
		}

		if filter.Limit <= 0 || len(attempts) < filter.Limit {
			break
		}
		filter.AfterID = attempts[len(attempts)-1].ID
	}
	_ = g.Wait()

	report.Sent = sent.Load()
	report.Failed = failed.Load()
	report.Cancelled = cancelled.Load()
	report.Skipped = skipped.Load()
	report.Errors = errs.Load()

	metrics.SweepRuns.WithLabelValues("ok").Inc()
	s.log.Info("Reconciliation sweep completed",
		zap.Int("found", report.Found),
		zap.Int("armed", report.Armed),
		zap.Int64("sent", report.Sent),
		zap.Int64("failed", report.Failed),
		zap.Int64("cancelled", report.Cancelled),
		zap.Int64("skipped", report.Skipped),
		zap.Int64("errors", report.Errors),
	)
	return report, nil
}

// NextRun returns the next occurrence of the sweep rule strictly after now.
func NextRun(rule string, now time.Time) (time.Time, error) {
	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid sweep rule %q: %w", rule, err)
	}
	r.DTStart(now)
	next := r.After(now, false)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("sweep rule %q has no occurrence after %s", rule, now.Format(time.RFC3339))
	}
	return next, nil
}

// Run sweeps immediately and then on every occurrence of the policy's sweep
// rule until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if _, err := NextRun(s.policy.SweepRRule, s.now()); err != nil {
		return err
	}

	for {
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Error("Reconciliation sweep failed", zap.Error(err))
		}

		next, err := NextRun(s.policy.SweepRRule, s.now())
		if err != nil {
			return err
		}
		s.log.Debug("Next sweep scheduled", zap.Time("at", next))

		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}
