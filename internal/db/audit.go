package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/austin-smith/fusion-bridge-sub010/internal/audit"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

var _ audit.Store = (*DB)(nil)

const executionColumns = `id, automation_id, trigger_timestamp, trigger_event_id, trigger_context, total_actions,
	execution_status, successful_actions, failed_actions, state_conditions_met, temporal_conditions_met,
	execution_duration_ms, created_at, completed_at`

// InsertExecution stores a new execution record
func (d *DB) InsertExecution(ctx context.Context, e *models.AutomationExecution) error {
	triggerCtx, err := json.Marshal(e.TriggerContext)
	if err != nil {
		return err
	}
	_, err = d.pool.Exec(ctx,
		`INSERT INTO automation_executions (id, automation_id, trigger_timestamp, trigger_event_id, trigger_context,
		   total_actions, execution_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.AutomationID, e.TriggerTimestamp, e.TriggerEventID, triggerCtx, e.TotalActions, string(e.ExecutionStatus), e.CreatedAt)
	return err
}

// UpdateConditionResults records the condition stage outcomes
func (d *DB) UpdateConditionResults(ctx context.Context, executionID string, stateMet, temporalMet *bool) error {
	_, err := d.pool.Exec(ctx,
		"UPDATE automation_executions SET state_conditions_met = $1, temporal_conditions_met = $2 WHERE id = $3",
		stateMet, temporalMet, executionID)
	return err
}

// InsertActionExecution stores a running action record
func (d *DB) InsertActionExecution(ctx context.Context, a *models.AutomationActionExecution) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO automation_action_executions (id, execution_id, action_index, action_type, action_params, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.ExecutionID, a.ActionIndex, string(a.ActionType), []byte(a.ActionParams), string(a.Status), a.StartedAt)
	return err
}

// CompleteActionExecution finalizes an action record
func (d *DB) CompleteActionExecution(ctx context.Context, id string, c audit.ActionCompletion) error {
	var result []byte
	if c.ResultData != nil {
		var err error
		if result, err = json.Marshal(c.ResultData); err != nil {
			return err
		}
	}
	_, err := d.pool.Exec(ctx,
		`UPDATE automation_action_executions
		 SET status = $1, error_message = $2, retry_count = $3, result_data = $4, execution_duration_ms = $5, completed_at = $6
		 WHERE id = $7`,
		string(c.Status), c.ErrorMessage, c.RetryCount, result, c.DurationMs, c.CompletedAt, id)
	return err
}

// CompleteExecution finalizes an execution record
func (d *DB) CompleteExecution(ctx context.Context, id string, c audit.ExecutionCompletion) error {
	_, err := d.pool.Exec(ctx,
		`UPDATE automation_executions
		 SET execution_status = $1, successful_actions = $2, failed_actions = $3, execution_duration_ms = $4, completed_at = $5
		 WHERE id = $6`,
		string(c.Status), c.SuccessfulActions, c.FailedActions, c.DurationMs, c.CompletedAt, id)
	return err
}

// GetExecution fetches one execution record
func (d *DB) GetExecution(ctx context.Context, id string) (*models.AutomationExecution, error) {
	row := d.pool.QueryRow(ctx, "SELECT "+executionColumns+" FROM automation_executions WHERE id = $1", id)
	e, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, audit.ErrNotFound
	}
	return e, err
}

// ListExecutions fetches the most recent executions, optionally of one rule
func (d *DB) ListExecutions(ctx context.Context, ruleID string, limit int) ([]models.AutomationExecution, error) {
	rows, err := d.pool.Query(ctx,
		"SELECT "+executionColumns+` FROM automation_executions
		 WHERE $1 = '' OR automation_id = $1 ORDER BY created_at DESC LIMIT $2`, ruleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AutomationExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ListActionExecutions fetches the action records of an execution by index
func (d *DB) ListActionExecutions(ctx context.Context, executionID string) ([]models.AutomationActionExecution, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, execution_id, action_index, action_type, action_params, status, error_message, retry_count,
		   result_data, execution_duration_ms, started_at, completed_at
		 FROM automation_action_executions WHERE execution_id = $1 ORDER BY action_index`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AutomationActionExecution
	for rows.Next() {
		var (
			a            models.AutomationActionExecution
			actionType   string
			status       string
			params       []byte
			result       []byte
			completedAt  *time.Time
			durationMs   *int64
			errorMessage *string
		)
		if err := rows.Scan(&a.ID, &a.ExecutionID, &a.ActionIndex, &actionType, &params, &status, &errorMessage,
			&a.RetryCount, &result, &durationMs, &a.StartedAt, &completedAt); err != nil {
			return nil, err
		}
		a.ActionType = models.ActionType(actionType)
		a.Status = models.ActionStatus(status)
		a.ActionParams = params
		a.ErrorMessage = errorMessage
		a.ExecutionDurationMs = durationMs
		a.CompletedAt = completedAt
		if len(result) > 0 {
			if err := json.Unmarshal(result, &a.ResultData); err != nil {
				return nil, err
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanExecution(row pgx.Row) (*models.AutomationExecution, error) {
	var (
		e          models.AutomationExecution
		status     string
		triggerCtx []byte
	)
	if err := row.Scan(&e.ID, &e.AutomationID, &e.TriggerTimestamp, &e.TriggerEventID, &triggerCtx, &e.TotalActions,
		&status, &e.SuccessfulActions, &e.FailedActions, &e.StateConditionsMet, &e.TemporalConditionsMet,
		&e.ExecutionDurationMs, &e.CreatedAt, &e.CompletedAt); err != nil {
		return nil, err
	}
	e.ExecutionStatus = models.ExecutionStatus(status)
	if len(triggerCtx) > 0 {
		if err := json.Unmarshal(triggerCtx, &e.TriggerContext); err != nil {
			return nil, err
		}
	}
	return &e, nil
}
