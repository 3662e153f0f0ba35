package metrics

import "time"

// NoopSink is used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) EventDispatched()                                         {}
func (n *NoopSink) RuleEvaluated(trigger string, matched bool)               {}
func (n *NoopSink) ScheduledFire()                                           {}
func (n *NoopSink) ExecutionStarted()                                        {}
func (n *NoopSink) ExecutionCompleted(status string, duration time.Duration) {}
func (n *NoopSink) ActionAttempt(actionType, outcome string)                 {}
func (n *NoopSink) ActionRetry(actionType string)                            {}
func (n *NoopSink) TemporalQuery(outcome string, duration time.Duration)     {}
