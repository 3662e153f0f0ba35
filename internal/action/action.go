// Package action runs the ordered action list of a matched rule.
package action

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

// ResultKind classifies an executor outcome
type ResultKind int

const (
	ResultOK ResultKind = iota
	// ResultTransient failures are retried (network, timeout, 5xx)
	ResultTransient
	// ResultPermanent failures are recorded immediately (bad input, 4xx)
	ResultPermanent
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultTransient:
		return "transient"
	case ResultPermanent:
		return "permanent"
	}
	return fmt.Sprintf("ResultKind(%d)", int(k))
}

// Result is returned by executors instead of panicking or classifying errors
// by type.
type Result struct {
	Kind ResultKind
	Data map[string]any
	Err  error
}

// Ok is a successful result with optional data
func Ok(data map[string]any) Result {
	return Result{Kind: ResultOK, Data: data}
}

// Transient is a retryable failure
func Transient(err error) Result {
	return Result{Kind: ResultTransient, Err: err}
}

// Permanent is a non-retryable failure
func Permanent(err error) Result {
	return Result{Kind: ResultPermanent, Err: err}
}

// OrgContext identifies who and what an action runs on behalf of
type OrgContext struct {
	OrganizationID string
	LocationID     string
	AreaID         string
	DeviceID       string
	RuleID         string
	ExecutionID    string
	TriggeredAt    time.Time
}

// Executor performs the side effect of one action type. Params have
// already been template-resolved.
type Executor interface {
	Execute(ctx context.Context, params models.ActionParams, org OrgContext) Result
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, params models.ActionParams, org OrgContext) Result

func (f ExecutorFunc) Execute(ctx context.Context, params models.ActionParams, org OrgContext) Result {
	return f(ctx, params, org)
}

// Registry maps action types to executors
type Registry struct {
	mu        sync.RWMutex
	executors map[models.ActionType]Executor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{executors: make(map[models.ActionType]Executor)}
}

// Register sets the executor for t, replacing any previous one
func (r *Registry) Register(t models.ActionType, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[t] = e
}

// Lookup returns the executor for t
func (r *Registry) Lookup(t models.ActionType) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[t]
	return e, ok
}
