// Package audit records executions and their per-action outcomes.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

var (
	// ErrAuditWrite wraps every store failure on the write path
	ErrAuditWrite = errors.New("audit write failed")
	// ErrNotFound is returned by the read path for unknown executions
	ErrNotFound = errors.New("execution not found")
)

// ActionCompletion is the final state of one action record
type ActionCompletion struct {
	Status       models.ActionStatus
	ErrorMessage *string
	RetryCount   int
	ResultData   map[string]any
	DurationMs   int64
	CompletedAt  time.Time
}

// ExecutionCompletion is the final state of an execution record
type ExecutionCompletion struct {
	Status            models.ExecutionStatus
	SuccessfulActions int
	FailedActions     int
	DurationMs        int64
	CompletedAt       time.Time
}

// Store persists audit records. Only the pipeline run that opened an
// execution writes to it, so implementations need no conflict handling.
type Store interface {
	InsertExecution(ctx context.Context, exec *models.AutomationExecution) error
	UpdateConditionResults(ctx context.Context, executionID string, stateMet, temporalMet *bool) error
	InsertActionExecution(ctx context.Context, action *models.AutomationActionExecution) error
	CompleteActionExecution(ctx context.Context, actionExecutionID string, c ActionCompletion) error
	CompleteExecution(ctx context.Context, executionID string, c ExecutionCompletion) error

	GetExecution(ctx context.Context, executionID string) (*models.AutomationExecution, error)
	ListActionExecutions(ctx context.Context, executionID string) ([]models.AutomationActionExecution, error)
	ListExecutions(ctx context.Context, ruleID string, limit int) ([]models.AutomationExecution, error)
}

// StartParams opens an execution record
type StartParams struct {
	RuleID           string
	TriggerEventID   *string
	TriggerTimestamp time.Time
	TriggerContext   map[string]any
	TotalActions     int
}

// Service is best-effort: write failures are logged and never returned to
// the caller, so a broken store cannot block the actions being audited.
type Service struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates an audit service over store
func NewService(store Store) *Service {
	return &Service{
		store:  store,
		logger: log.With().Str("component", "audit").Logger(),
		now:    time.Now,
	}
}

// StartExecution inserts a provisional execution record and returns its id.
// The id is valid even if the insert failed.
func (s *Service) StartExecution(ctx context.Context, p StartParams) string {
	id := uuid.NewString()
	exec := &models.AutomationExecution{
		ID:               id,
		AutomationID:     p.RuleID,
		TriggerTimestamp: p.TriggerTimestamp,
		TriggerEventID:   p.TriggerEventID,
		TriggerContext:   p.TriggerContext,
		TotalActions:     p.TotalActions,
		ExecutionStatus:  models.ExecutionStatusRunning,
		CreatedAt:        s.now().UTC(),
	}
	s.check(s.store.InsertExecution(ctx, exec), "start execution", id)
	return id
}

// UpdateConditionResults records which condition stages were evaluated.
// Nil means not applicable.
func (s *Service) UpdateConditionResults(ctx context.Context, executionID string, stateMet, temporalMet *bool) {
	s.check(s.store.UpdateConditionResults(ctx, executionID, stateMet, temporalMet), "update condition results", executionID)
}

// StartActionExecution inserts a running action record with the resolved
// params and returns its id.
func (s *Service) StartActionExecution(ctx context.Context, executionID string, index int, action models.Action) string {
	id := uuid.NewString()
	params, err := json.Marshal(action.Params)
	if err != nil {
		s.logger.Warn().Err(err).Str("execution_id", executionID).Int("action_index", index).Msg("could not encode action params")
		params = json.RawMessage("null")
	}
	rec := &models.AutomationActionExecution{
		ID:           id,
		ExecutionID:  executionID,
		ActionIndex:  index,
		ActionType:   action.Type,
		ActionParams: params,
		Status:       models.ActionStatusRunning,
		StartedAt:    s.now().UTC(),
	}
	s.check(s.store.InsertActionExecution(ctx, rec), "start action execution", executionID)
	return id
}

// CompleteActionExecution finalizes one action record
func (s *Service) CompleteActionExecution(ctx context.Context, actionExecutionID string, c ActionCompletion) {
	if c.CompletedAt.IsZero() {
		c.CompletedAt = s.now().UTC()
	}
	s.check(s.store.CompleteActionExecution(ctx, actionExecutionID, c), "complete action execution", actionExecutionID)
}

// CompleteExecution finalizes the execution record
func (s *Service) CompleteExecution(ctx context.Context, executionID string, c ExecutionCompletion) {
	if c.CompletedAt.IsZero() {
		c.CompletedAt = s.now().UTC()
	}
	s.check(s.store.CompleteExecution(ctx, executionID, c), "complete execution", executionID)
}

// GetExecutionSummary returns an execution with its action records ordered
// by action index.
func (s *Service) GetExecutionSummary(ctx context.Context, executionID string) (*models.ExecutionSummary, error) {
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	actions, err := s.store.ListActionExecutions(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("list action executions: %w", err)
	}
	if actions == nil {
		actions = []models.AutomationActionExecution{}
	}
	return &models.ExecutionSummary{Execution: *exec, Actions: actions}, nil
}

// ListExecutions returns the most recent executions, optionally for one rule
func (s *Service) ListExecutions(ctx context.Context, ruleID string, limit int) ([]models.AutomationExecution, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.store.ListExecutions(ctx, ruleID, limit)
}

func (s *Service) check(err error, op, id string) {
	if err == nil {
		return
	}
	err = fmt.Errorf("%w: %s: %v", ErrAuditWrite, op, err)
	s.logger.Error().Err(err).Str("record_id", id).Msg("audit write failed")
}

// ComputeStatus is the aggregate status law: no failures is success, all
// failed is failure, anything in between is partial_failure.
func ComputeStatus(total, failed int) models.ExecutionStatus {
	switch {
	case failed == 0:
		return models.ExecutionStatusSuccess
	case failed >= total:
		return models.ExecutionStatusFailure
	default:
		return models.ExecutionStatusPartialFailure
	}
}
