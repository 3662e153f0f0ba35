package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// PrometheusSink implements Sink with the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	eventsDispatched prometheus.Counter
	ruleEvaluations  *prometheus.CounterVec
	scheduledFires   prometheus.Counter

	executionsTotal    *prometheus.CounterVec
	executionDuration  prometheus.Histogram
	executionsInFlight prometheus.Gauge

	actionAttempts *prometheus.CounterVec
	actionRetries  *prometheus.CounterVec

	temporalQueries       *prometheus.CounterVec
	temporalQueryDuration prometheus.Histogram
}

// NewPrometheusSink creates the collectors and registers them with reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initDispatchMetrics(reg)
	s.initExecutionMetrics(reg)
	s.initTemporalMetrics(reg)
	return s
}

func (s *PrometheusSink) initDispatchMetrics(reg prometheus.Registerer) {
	s.eventsDispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "automation_events_dispatched_total",
		Help: "Total number of standardized events dispatched to the rule registry.",
	})
	s.ruleEvaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_rule_evaluations_total",
		Help: "Total number of rule evaluations by trigger type and match result.",
	}, []string{"trigger", "matched"})
	s.scheduledFires = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "automation_scheduled_fires_total",
		Help: "Total number of cron fires of scheduled rules.",
	})

	s.register(reg, s.eventsDispatched, "automation_events_dispatched_total")
	s.register(reg, s.ruleEvaluations, "automation_rule_evaluations_total")
	s.register(reg, s.scheduledFires, "automation_scheduled_fires_total")
}

func (s *PrometheusSink) initExecutionMetrics(reg prometheus.Registerer) {
	s.executionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_executions_total",
		Help: "Total number of finished executions by aggregate status.",
	}, []string{"status"})
	s.executionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "automation_execution_duration_seconds",
		Help:    "Duration of an execution's action pipeline in seconds.",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
	s.executionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "automation_executions_in_flight",
		Help: "Number of executions currently running.",
	})
	s.actionAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_action_attempts_total",
		Help: "Total number of executor invocations by action type and outcome.",
	}, []string{"action_type", "outcome"})
	s.actionRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_action_retries_total",
		Help: "Total number of retries (excludes first attempt).",
	}, []string{"action_type"})

	s.register(reg, s.executionsTotal, "automation_executions_total")
	s.register(reg, s.executionDuration, "automation_execution_duration_seconds")
	s.register(reg, s.executionsInFlight, "automation_executions_in_flight")
	s.register(reg, s.actionAttempts, "automation_action_attempts_total")
	s.register(reg, s.actionRetries, "automation_action_retries_total")
}

func (s *PrometheusSink) initTemporalMetrics(reg prometheus.Registerer) {
	s.temporalQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_temporal_queries_total",
		Help: "Total number of event history queries by outcome.",
	}, []string{"outcome"})
	s.temporalQueryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "automation_temporal_query_duration_seconds",
		Help:    "Event history query latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})

	s.register(reg, s.temporalQueries, "automation_temporal_queries_total")
	s.register(reg, s.temporalQueryDuration, "automation_temporal_query_duration_seconds")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Warn().Err(err).Str("component", "metrics").Msgf("failed to register %s", name)
	}
}

func (s *PrometheusSink) EventDispatched() {
	s.eventsDispatched.Inc()
}

func (s *PrometheusSink) RuleEvaluated(trigger string, matched bool) {
	s.ruleEvaluations.WithLabelValues(trigger, strconv.FormatBool(matched)).Inc()
}

func (s *PrometheusSink) ScheduledFire() {
	s.scheduledFires.Inc()
}

func (s *PrometheusSink) ExecutionStarted() {
	s.executionsInFlight.Inc()
}

func (s *PrometheusSink) ExecutionCompleted(status string, duration time.Duration) {
	s.executionsInFlight.Dec()
	s.executionsTotal.WithLabelValues(status).Inc()
	s.executionDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) ActionAttempt(actionType, outcome string) {
	s.actionAttempts.WithLabelValues(actionType, outcome).Inc()
}

func (s *PrometheusSink) ActionRetry(actionType string) {
	s.actionRetries.WithLabelValues(actionType).Inc()
}

func (s *PrometheusSink) TemporalQuery(outcome string, duration time.Duration) {
	s.temporalQueries.WithLabelValues(outcome).Inc()
	s.temporalQueryDuration.Observe(duration.Seconds())
}
