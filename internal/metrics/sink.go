// Package metrics records engine metrics.
package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations must not block or propagate errors.
type Sink interface {
	// Dispatch metrics
	EventDispatched()
	RuleEvaluated(trigger string, matched bool)
	ScheduledFire()

	// Execution metrics
	ExecutionStarted()
	ExecutionCompleted(status string, duration time.Duration)

	// Action metrics
	ActionAttempt(actionType, outcome string)
	ActionRetry(actionType string)

	// Temporal metrics
	TemporalQuery(outcome string, duration time.Duration)
}

// Outcome labels for ActionAttempt and TemporalQuery.
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
	OutcomePermanent = "permanent"
	OutcomeError     = "error"
)
