package models

import (
	"errors"
	"time"

	"github.com/austin-smith/fusion-bridge-sub010/internal/engine"
	domain "github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error  string        `json:"error"`
	Fields []FieldReason `json:"fields,omitempty"`
}

type FieldReason struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// NewErrorResponse flattens validation errors into per-field reasons
func NewErrorResponse(msg string, err error) ErrorResponse {
	resp := ErrorResponse{Error: msg}
	var list domain.ValidationErrors
	var single *domain.ValidationError
	switch {
	case errors.As(err, &list):
		for _, e := range list {
			resp.Fields = append(resp.Fields, FieldReason{Field: e.Field, Reason: e.Reason})
		}
	case errors.As(err, &single):
		resp.Fields = []FieldReason{{Field: single.Field, Reason: single.Reason}}
	}
	return resp
}

// RuleResponse is a stored rule with its registry state
type RuleResponse struct {
	domain.AutomationRule
	Status     engine.RuleStatus `json:"status"`
	LastError  string            `json:"lastError,omitempty"`
	TimeZone   string            `json:"timeZone,omitempty"`
	NextFireAt *time.Time        `json:"nextFireAt,omitempty"`
}

func NewRuleResponse(rule domain.AutomationRule, state engine.RuleState, registered bool) RuleResponse {
	resp := RuleResponse{AutomationRule: rule, Status: engine.RuleStatusDisabled}
	if registered {
		resp.Status = state.Status
		resp.LastError = state.LastError
		resp.TimeZone = state.TimeZone
		resp.NextFireAt = state.NextFireAt
	}
	return resp
}

type FireResponse struct {
	ExecutionID string `json:"executionId"`
}

type EventAccepted struct {
	EventID string `json:"eventId"`
	Queued  bool   `json:"queued"`
}
