package models

import (
	"encoding/json"
	"time"
)

// ExecutionStatus is the aggregate outcome of one execution
type ExecutionStatus string

const (
	// ExecutionStatusRunning is the provisional status until the pipeline finishes
	ExecutionStatusRunning        ExecutionStatus = "running"
	ExecutionStatusSuccess        ExecutionStatus = "success"
	ExecutionStatusPartialFailure ExecutionStatus = "partial_failure"
	ExecutionStatusFailure        ExecutionStatus = "failure"
)

// ActionStatus is the outcome of one action within an execution
type ActionStatus string

const (
	ActionStatusRunning ActionStatus = "running"
	ActionStatusSuccess ActionStatus = "success"
	ActionStatusFailure ActionStatus = "failure"
	ActionStatusSkipped ActionStatus = "skipped"
)

// AutomationExecution is the audit record of one rule run
type AutomationExecution struct {
	ID                    string          `json:"id"`
	AutomationID          string          `json:"automationId"`
	TriggerTimestamp      time.Time       `json:"triggerTimestamp"`
	TriggerEventID        *string         `json:"triggerEventId"`
	TriggerContext        map[string]any  `json:"triggerContext"`
	TotalActions          int             `json:"totalActions"`
	ExecutionStatus       ExecutionStatus `json:"executionStatus"`
	SuccessfulActions     int             `json:"successfulActions"`
	FailedActions         int             `json:"failedActions"`
	StateConditionsMet    *bool           `json:"stateConditionsMet"`
	TemporalConditionsMet *bool           `json:"temporalConditionsMet"`
	ExecutionDurationMs   *int64          `json:"executionDurationMs"`
	CreatedAt             time.Time       `json:"createdAt"`
	CompletedAt           *time.Time      `json:"completedAt,omitempty"`
}

// AutomationActionExecution is the audit record of one action. Retries
// accumulate RetryCount on the same record.
type AutomationActionExecution struct {
	ID                  string          `json:"id"`
	ExecutionID         string          `json:"executionId"`
	ActionIndex         int             `json:"actionIndex"`
	ActionType          ActionType      `json:"actionType"`
	ActionParams        json.RawMessage `json:"actionParams"`
	Status              ActionStatus    `json:"status"`
	ErrorMessage        *string         `json:"errorMessage,omitempty"`
	RetryCount          int             `json:"retryCount"`
	ResultData          map[string]any  `json:"resultData,omitempty"`
	ExecutionDurationMs *int64          `json:"executionDurationMs,omitempty"`
	StartedAt           time.Time       `json:"startedAt"`
	CompletedAt         *time.Time      `json:"completedAt,omitempty"`
}

// ExecutionSummary is the read model used by audit consumers
type ExecutionSummary struct {
	Execution AutomationExecution         `json:"execution"`
	Actions   []AutomationActionExecution `json:"actions"`
}
