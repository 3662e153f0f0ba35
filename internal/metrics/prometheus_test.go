package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusSink(reg), reg
}

func TestPrometheusSink_Execution(t *testing.T) {
	sink, _ := newTestSink(t)

	sink.ExecutionStarted()
	sink.ExecutionStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.executionsInFlight))

	sink.ExecutionCompleted("partial_failure", 150*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.executionsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.executionsTotal.WithLabelValues("partial_failure")))
	assert.Equal(t, 0.0, testutil.ToFloat64(sink.executionsTotal.WithLabelValues("success")))
}

func TestPrometheusSink_ActionsAndRules(t *testing.T) {
	sink, _ := newTestSink(t)

	sink.ActionAttempt("sendHttpRequest", OutcomeTransient)
	sink.ActionAttempt("sendHttpRequest", OutcomeTransient)
	sink.ActionAttempt("sendHttpRequest", OutcomeSuccess)
	sink.ActionRetry("sendHttpRequest")
	sink.RuleEvaluated("event", true)
	sink.RuleEvaluated("event", false)
	sink.EventDispatched()
	sink.ScheduledFire()
	sink.TemporalQuery(OutcomeError, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.actionAttempts.WithLabelValues("sendHttpRequest", OutcomeTransient)))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.actionRetries.WithLabelValues("sendHttpRequest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.ruleEvaluations.WithLabelValues("event", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.eventsDispatched))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.scheduledFires))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.temporalQueries.WithLabelValues(OutcomeError)))
}

func TestPrometheusSink_DuplicateRegistrationDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewPrometheusSink(reg)
	assert.NotPanics(t, func() {
		second := NewPrometheusSink(reg)
		second.EventDispatched()
	})
}

func TestNoopSink_SatisfiesSink(t *testing.T) {
	var s Sink = NewNoopSink()
	assert.NotPanics(t, func() {
		s.ExecutionStarted()
		s.ExecutionCompleted("success", time.Millisecond)
		s.TemporalQuery(OutcomeSuccess, time.Millisecond)
	})
}
