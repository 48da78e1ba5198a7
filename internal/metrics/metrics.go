package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhooksReceived counts inbound gateway webhooks by event type and outcome
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_webhooks_received_total",
			Help: "Total number of gateway webhooks received",
		},
		[]string{"gateway", "event", "outcome"},
	)

	// AttemptsScheduled counts recovery attempts persisted per channel
	AttemptsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_attempts_scheduled_total",
			Help: "Total number of recovery attempts scheduled",
		},
		[]string{"channel"},
	)

	// AttemptsExecuted counts attempt executions by channel and result
	AttemptsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_attempts_executed_total",
			Help: "Total number of recovery attempt executions",
		},
		[]string{"channel", "outcome"},
	)

	// AttemptsCancelled counts attempts cancelled because the payment recovered
	AttemptsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recovery_attempts_cancelled_total",
			Help: "Total number of recovery attempts cancelled",
		},
	)

	// SendLatency tracks channel provider latency
	SendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recovery_send_latency_seconds",
			Help:    "Channel send latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	// SweepRuns counts reconciliation sweeps
	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_sweep_runs_total",
			Help: "Total number of reconciliation sweeps",
		},
		[]string{"result"},
	)

	// TimersArmed tracks in-process attempt timers currently armed
	TimersArmed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recovery_timers_armed",
			Help: "Number of attempt timers currently armed",
		},
	)
)
