package recovery

import (
	"context"

	"go.uber.org/zap"

	"tinko_recovery/internal/config"
	"tinko_recovery/internal/store"
)

// Engine wires the ingestor, scheduler, executor and sweep around one store.
type Engine struct {
	Ingestor  *Ingestor
	Scheduler *Scheduler
	Executor  *Executor
	Sweeper   *Sweeper

	log *zap.Logger
}

func NewEngine(st store.Store, locker Locker, dispatcher Dispatcher, policy config.Policy, log *zap.Logger) *Engine {
	executor := NewExecutor(st, locker, dispatcher, policy, log.Named("executor"))
	scheduler := NewScheduler(st, executor, dispatcher.Supports, policy, log.Named("scheduler"))
	return &Engine{
		Ingestor:  NewIngestor(st, locker, scheduler, log.Named("ingestor")),
		Scheduler: scheduler,
		Executor:  executor,
		Sweeper:   NewSweeper(st, executor, scheduler, policy, log.Named("sweeper")),
		log:       log,
	}
}

// Start runs the reconciliation sweep in the background: once immediately, which
// re-arms timers lost in a restart, then on the configured cadence.
func (e *Engine) Start(ctx context.Context) {
	go func() {
		if err := e.Sweeper.Run(ctx); err != nil {
			e.log.Error("Reconciliation sweep stopped", zap.Error(err))
		}
	}()
}

// Stop revokes all timers and waits for in-flight executions.
func (e *Engine) Stop(ctx context.Context) error {
	return e.Scheduler.Stop(ctx)
}
