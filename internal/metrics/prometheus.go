package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	eventsProcessedTotal *prometheus.CounterVec
	eventsDedupedTotal   *prometheus.CounterVec

	actionsTotal   *prometheus.CounterVec
	actionDuration prometheus.Histogram
	deadLettersTotal prometheus.Counter

	reconcileTicksTotal  *prometheus.CounterVec
	reconcileDuration    prometheus.Histogram
	eventsSynthesized    prometheus.Counter
	schemaChecksTotal    *prometheus.CounterVec

	tasksClaimedTotal prometheus.Counter
	cronFiresTotal    prometheus.Counter

	logger *zap.SugaredLogger
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// Metrics that fail to register are logged and left unregistered; the
// sink stays functional either way.
func NewPrometheusSink(reg prometheus.Registerer, logger *zap.SugaredLogger) *PrometheusSink {
	s := &PrometheusSink{logger: logger}

	s.eventsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trellis_engine_events_processed_total",
		Help: "Total number of change events accepted into the pipeline.",
	}, []string{"origin"})
	s.eventsDedupedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trellis_engine_events_deduped_total",
		Help: "Total number of change events dropped by the idempotency guard.",
	}, []string{"origin"})
	s.actionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trellis_executor_actions_total",
		Help: "Total number of action executions by outcome.",
	}, []string{"outcome"})
	s.actionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "trellis_executor_action_duration_seconds",
		Help:    "Action delivery latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.deadLettersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trellis_executor_dead_letters_total",
		Help: "Total number of dead-lettered action executions.",
	})
	s.reconcileTicksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trellis_recon_ticks_total",
		Help: "Total number of reconciliation ticks per table.",
	}, []string{"table", "result"})
	s.reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "trellis_recon_tick_duration_seconds",
		Help:    "Duration of each per-table reconciliation tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
	s.eventsSynthesized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trellis_recon_events_synthesized_total",
		Help: "Total number of change events synthesized by the compensating poller.",
	})
	s.schemaChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trellis_schema_checks_total",
		Help: "Total number of schema watcher checks per table.",
	}, []string{"table", "changed"})
	s.tasksClaimedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trellis_delay_tasks_claimed_total",
		Help: "Total number of delayed tasks claimed for execution.",
	})
	s.cronFiresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trellis_cron_fires_total",
		Help: "Total number of cron job firings.",
	})

	s.register(reg, s.eventsProcessedTotal, "trellis_engine_events_processed_total")
	s.register(reg, s.eventsDedupedTotal, "trellis_engine_events_deduped_total")
	s.register(reg, s.actionsTotal, "trellis_executor_actions_total")
	s.register(reg, s.actionDuration, "trellis_executor_action_duration_seconds")
	s.register(reg, s.deadLettersTotal, "trellis_executor_dead_letters_total")
	s.register(reg, s.reconcileTicksTotal, "trellis_recon_ticks_total")
	s.register(reg, s.reconcileDuration, "trellis_recon_tick_duration_seconds")
	s.register(reg, s.eventsSynthesized, "trellis_recon_events_synthesized_total")
	s.register(reg, s.schemaChecksTotal, "trellis_schema_checks_total")
	s.register(reg, s.tasksClaimedTotal, "trellis_delay_tasks_claimed_total")
	s.register(reg, s.cronFiresTotal, "trellis_cron_fires_total")

	return s
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil && s.logger != nil {
		s.logger.Warnw("Failed to register metric", "metric", name, "error", err)
	}
}

func (s *PrometheusSink) EventProcessed(origin string) {
	s.eventsProcessedTotal.WithLabelValues(origin).Inc()
}

func (s *PrometheusSink) EventDeduped(origin string) {
	s.eventsDedupedTotal.WithLabelValues(origin).Inc()
}

func (s *PrometheusSink) ActionExecuted(outcome string, duration time.Duration) {
	s.actionsTotal.WithLabelValues(outcome).Inc()
	s.actionDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DeadLettered() {
	s.deadLettersTotal.Inc()
}

func (s *PrometheusSink) ReconcileTick(table string, duration time.Duration, synthesized int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.reconcileTicksTotal.WithLabelValues(table, result).Inc()
	s.reconcileDuration.Observe(duration.Seconds())
	s.eventsSynthesized.Add(float64(synthesized))
}

func (s *PrometheusSink) SchemaCheck(table string, changed bool) {
	label := "false"
	if changed {
		label = "true"
	}
	s.schemaChecksTotal.WithLabelValues(table, label).Inc()
}

func (s *PrometheusSink) TasksClaimed(count int) {
	s.tasksClaimedTotal.Add(float64(count))
}

func (s *PrometheusSink) CronFired() {
	s.cronFiresTotal.Inc()
}
