package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/austin-smith/fusion-bridge-sub010/internal/audit"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

// MemoryAuditStore is an audit.Store kept in maps
type MemoryAuditStore struct {
	mu         sync.Mutex
	executions map[string]*models.AutomationExecution
	actions    map[string]*models.AutomationActionExecution
	// FailWrites makes every write return it
	FailWrites error
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{
		executions: map[string]*models.AutomationExecution{},
		actions:    map[string]*models.AutomationActionExecution{},
	}
}

func (s *MemoryAuditStore) InsertExecution(_ context.Context, exec *models.AutomationExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	cp := *exec
	s.executions[exec.ID] = &cp
	return nil
}

func (s *MemoryAuditStore) UpdateConditionResults(_ context.Context, executionID string, stateMet, temporalMet *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	exec, ok := s.executions[executionID]
	if !ok {
		return audit.ErrNotFound
	}
	exec.StateConditionsMet = stateMet
	exec.TemporalConditionsMet = temporalMet
	return nil
}

func (s *MemoryAuditStore) InsertActionExecution(_ context.Context, a *models.AutomationActionExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	cp := *a
	s.actions[a.ID] = &cp
	return nil
}

func (s *MemoryAuditStore) CompleteActionExecution(_ context.Context, id string, c audit.ActionCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	a, ok := s.actions[id]
	if !ok {
		return audit.ErrNotFound
	}
	d := c.DurationMs
	at := c.CompletedAt
	a.Status = c.Status
	a.ErrorMessage = c.ErrorMessage
	a.RetryCount = c.RetryCount
	a.ResultData = c.ResultData
	a.ExecutionDurationMs = &d
	a.CompletedAt = &at
	return nil
}

func (s *MemoryAuditStore) CompleteExecution(_ context.Context, id string, c audit.ExecutionCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	exec, ok := s.executions[id]
	if !ok {
		return audit.ErrNotFound
	}
	d := c.DurationMs
	at := c.CompletedAt
	exec.ExecutionStatus = c.Status
	exec.SuccessfulActions = c.SuccessfulActions
	exec.FailedActions = c.FailedActions
	exec.ExecutionDurationMs = &d
	exec.CompletedAt = &at
	return nil
}

func (s *MemoryAuditStore) GetExecution(_ context.Context, id string) (*models.AutomationExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, audit.ErrNotFound
	}
	cp := *exec
	return &cp, nil
}

func (s *MemoryAuditStore) ListActionExecutions(_ context.Context, executionID string) ([]models.AutomationActionExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AutomationActionExecution
	for _, a := range s.actions {
		if a.ExecutionID == executionID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActionIndex < out[j].ActionIndex })
	return out, nil
}

func (s *MemoryAuditStore) ListExecutions(_ context.Context, ruleID string, limit int) ([]models.AutomationExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AutomationExecution
	for _, e := range s.executions {
		if ruleID == "" || e.AutomationID == ruleID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Executions returns every execution record of ruleID
func (s *MemoryAuditStore) Executions(ruleID string) []models.AutomationExecution {
	out, _ := s.ListExecutions(context.Background(), ruleID, 0)
	return out
}

// Completed reports whether the execution has been finalized
func (s *MemoryAuditStore) Completed(executionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	return ok && exec.CompletedAt != nil
}
