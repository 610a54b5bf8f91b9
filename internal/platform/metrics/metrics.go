// Package metrics registers the Prometheus instruments for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	RunsStarted        *prometheus.CounterVec
	RunsCompleted      *prometheus.CounterVec
	StageRetries       *prometheus.CounterVec
	LedgerTransactions *prometheus.CounterVec
	WebhookAttempts    prometheus.Counter
	WebhookExhausted   prometheus.Counter
	StageDuration      *prometheus.HistogramVec
}

// New creates and registers all pipeline metrics on the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh
// registry to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicepassport_runs_started_total",
			Help: "Pipeline runs started, by workflow type.",
		}, []string{"workflow"}),
		RunsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicepassport_runs_completed_total",
			Help: "Pipeline runs completed, by workflow type and outcome.",
		}, []string{"workflow", "outcome"}),
		StageRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicepassport_stage_retries_total",
			Help: "Stage-level retries of transient failures, by stage.",
		}, []string{"stage"}),
		LedgerTransactions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicepassport_ledger_transactions_total",
			Help: "Ledger transactions submitted, by function and result.",
		}, []string{"function", "result"}),
		WebhookAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicepassport_webhook_attempts_total",
			Help: "Webhook delivery attempts, including retries.",
		}),
		WebhookExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicepassport_webhook_exhausted_total",
			Help: "Webhook deliveries that ran out of retry attempts.",
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicepassport_stage_duration_seconds",
			Help:    "Wall time per pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}
}
