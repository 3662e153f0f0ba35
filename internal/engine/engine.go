package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/austin-smith/fusion-bridge-sub010/internal/action"
	"github.com/austin-smith/fusion-bridge-sub010/internal/audit"
	"github.com/austin-smith/fusion-bridge-sub010/internal/metrics"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
	"github.com/austin-smith/fusion-bridge-sub010/internal/scheduler"
	"github.com/austin-smith/fusion-bridge-sub010/internal/temporal"
)

var (
	ErrRuleNotFound = errors.New("rule not found")
	ErrNotScheduled = errors.New("rule does not have a scheduled trigger")
	ErrRuleInactive = errors.New("rule is not active")
	ErrShuttingDown = errors.New("engine is shutting down")
	// ErrDeviceNotFound is returned by topology stores for unknown devices
	ErrDeviceNotFound = errors.New("device not found")
)

// TopologyStore resolves device and location context
type TopologyStore interface {
	GetDeviceContext(ctx context.Context, deviceID string) (models.DeviceContext, error)
	GetLocation(ctx context.Context, locationID string) (*models.Location, error)
}

// RuleStore persists rule definitions
type RuleStore interface {
	ListRules(ctx context.Context) ([]models.AutomationRule, error)
	GetRule(ctx context.Context, ruleID string) (*models.AutomationRule, error)
	SaveRule(ctx context.Context, rule models.AutomationRule) error
	DeleteRule(ctx context.Context, ruleID string) error
}

// ExecutionReport is sent to observers when an execution finishes
type ExecutionReport struct {
	ExecutionID       string                 `json:"executionId"`
	RuleID            string                 `json:"ruleId"`
	RuleName          string                 `json:"ruleName"`
	TriggerEventID    *string                `json:"triggerEventId"`
	Status            models.ExecutionStatus `json:"status"`
	SuccessfulActions int                    `json:"successfulActions"`
	FailedActions     int                    `json:"failedActions"`
	DurationMs        int64                  `json:"durationMs"`
	CompletedAt       time.Time              `json:"completedAt"`
}

// ExecutionObserver is notified of finished executions. Implementations
// must not block.
type ExecutionObserver interface {
	ExecutionCompleted(report ExecutionReport)
}

// RuleStatus is the registry state of a rule
type RuleStatus string

const (
	RuleStatusActive RuleStatus = "active"
	// RuleStatusError rules are registered but never fire
	RuleStatusError RuleStatus = "error"
	// RuleStatusDisabled is reported for disabled rules, which are never registered
	RuleStatusDisabled RuleStatus = "disabled"
)

// RuleState describes one registered rule
type RuleState struct {
	Rule       models.AutomationRule `json:"rule"`
	Status     RuleStatus            `json:"status"`
	LastError  string                `json:"lastError,omitempty"`
	TimeZone   string                `json:"timeZone,omitempty"`
	NextFireAt *time.Time            `json:"nextFireAt,omitempty"`
}

type registeredRule struct {
	rule        models.AutomationRule
	fingerprint string
	generation  uint64
	status      RuleStatus
	lastErr     error
	timeZone    string
	location    *models.Location
}

// Deps are the collaborators of the engine
type Deps struct {
	Topology  TopologyStore
	Temporal  *temporal.Service
	Pipeline  *action.Pipeline
	Audit     *audit.Service
	Scheduler *scheduler.Scheduler
	Metrics   metrics.Sink
	// DefaultTimeZone is used for scheduled rules whose location carries no timezone
	DefaultTimeZone string
}

// Engine is the trigger registry and dispatch entry point
type Engine struct {
	topology        TopologyStore
	temporal        *temporal.Service
	pipeline        *action.Pipeline
	audit           *audit.Service
	scheduler       *scheduler.Scheduler
	metrics         metrics.Sink
	defaultTimeZone string
	logger          zerolog.Logger

	mu         sync.RWMutex
	rules      map[string]*registeredRule
	generation uint64

	obsMu     sync.RWMutex
	observers []ExecutionObserver

	execCtx    context.Context
	cancelExec context.CancelFunc
	// lifeMu orders the closing flag against inFlight.Add so no dispatch
	// is counted after Shutdown has started waiting.
	lifeMu   sync.Mutex
	closing  bool
	inFlight sync.WaitGroup
}

// NewEngine creates a new engine instance
func NewEngine(deps Deps) *Engine {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoopSink()
	}
	if deps.Scheduler == nil {
		deps.Scheduler = scheduler.NewScheduler()
	}
	execCtx, cancel := context.WithCancel(context.Background())
	return &Engine{
		topology:        deps.Topology,
		temporal:        deps.Temporal,
		pipeline:        deps.Pipeline,
		audit:           deps.Audit,
		scheduler:       deps.Scheduler,
		metrics:         deps.Metrics,
		defaultTimeZone: deps.DefaultTimeZone,
		logger:          log.With().Str("component", "engine").Logger(),
		rules:           make(map[string]*registeredRule),
		execCtx:         execCtx,
		cancelExec:      cancel,
	}
}

// Start starts the cron scheduler
func (e *Engine) Start() {
	e.scheduler.Start()
	e.logger.Info().Int("rules", e.ruleCount()).Msg("engine started")
}

// Shutdown stops scheduled fires and waits for in-flight dispatches and
// executions until ctx expires. Past the deadline, pending history queries
// are cancelled and actions that have not started are recorded as skipped.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.lifeMu.Lock()
	e.closing = true
	e.lifeMu.Unlock()
	e.scheduler.Stop()

	done := make(chan struct{})
	go func() {
		e.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancelExec()
		e.logger.Info().Msg("engine stopped")
		return nil
	case <-ctx.Done():
		e.logger.Warn().Msg("shutdown deadline reached, cancelling in-flight executions")
		e.cancelExec()
		<-done
		return ctx.Err()
	}
}

// acquire counts one unit of work against shutdown. It fails once
// Shutdown has started; callers must call e.inFlight.Done when it succeeds.
func (e *Engine) acquire() bool {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.closing {
		return false
	}
	e.inFlight.Add(1)
	return true
}

// Wait blocks until every in-flight execution has finished
func (e *Engine) Wait() {
	e.inFlight.Wait()
}

// AddObserver registers an execution observer
func (e *Engine) AddObserver(o ExecutionObserver) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, o)
}

// RegisterRule validates and (re)registers a rule. The previous version of
// the rule is torn down before the new one is armed. A scheduled rule whose
// cron or timezone cannot be resolved stays registered with status error.
// Disabled rules are unregistered.
func (e *Engine) RegisterRule(ctx context.Context, rule models.AutomationRule) (RuleState, error) {
	if err := rule.Validate(); err != nil {
		return RuleState{}, err
	}
	if !rule.Enabled {
		e.UnregisterRule(rule.ID)
		return RuleState{Rule: rule, Status: RuleStatusDisabled}, nil
	}

	reg := &registeredRule{rule: rule, fingerprint: rule.Fingerprint(), status: RuleStatusActive}
	var sched cron.Schedule
	if rule.IsScheduled() {
		if len(rule.TemporalConditions) > 0 {
			e.logger.Warn().Str("rule_id", rule.ID).Msg("temporal conditions on a scheduled rule are treated as met")
		}
		var err error
		sched, err = e.resolveSchedule(ctx, reg)
		if err != nil {
			reg.status = RuleStatusError
			reg.lastErr = err
			e.logger.Error().Err(err).Str("rule_id", rule.ID).Msg("scheduled rule will not fire")
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardownLocked(rule.ID)
	e.generation++
	reg.generation = e.generation
	e.rules[rule.ID] = reg
	if sched != nil {
		id, gen := rule.ID, reg.generation
		e.scheduler.Schedule(id, sched, func() { e.fireScheduled(id, gen, time.Now()) })
	}
	e.logger.Info().Str("rule_id", rule.ID).Str("trigger", string(rule.Trigger.Type)).Str("status", string(reg.status)).Msg("rule registered")
	return e.stateLocked(reg), nil
}

// UnregisterRule removes a rule and cancels its pending fire. In-flight
// executions of the rule run to completion.
func (e *Engine) UnregisterRule(ruleID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[ruleID]; !ok {
		return false
	}
	e.teardownLocked(ruleID)
	e.logger.Info().Str("rule_id", ruleID).Msg("rule unregistered")
	return true
}

func (e *Engine) teardownLocked(ruleID string) {
	old, ok := e.rules[ruleID]
	if !ok {
		return
	}
	if old.rule.IsScheduled() {
		e.scheduler.Remove(ruleID)
	}
	delete(e.rules, ruleID)
}

// SyncReport summarises a SyncRules call
type SyncReport struct {
	Registered []string          `json:"registered"`
	Removed    []string          `json:"removed"`
	Unchanged  int               `json:"unchanged"`
	Invalid    map[string]string `json:"invalid,omitempty"`
}

// SyncRules reconciles the registry with a complete rule set. New or
// changed rules are re-registered, rules missing from the set or disabled
// are removed and unchanged rules are left armed. A changed rule that fails
// validation is removed rather than left running in its old version.
func (e *Engine) SyncRules(ctx context.Context, rules []models.AutomationRule) SyncReport {
	report := SyncReport{Invalid: map[string]string{}}
	wanted := make(map[string]bool, len(rules))

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		wanted[rule.ID] = true
		e.mu.RLock()
		existing, ok := e.rules[rule.ID]
		unchanged := ok && existing.fingerprint == rule.Fingerprint()
		e.mu.RUnlock()
		if unchanged {
			report.Unchanged++
			continue
		}
		if _, err := e.RegisterRule(ctx, rule); err != nil {
			report.Invalid[rule.ID] = err.Error()
			e.logger.Error().Err(err).Str("rule_id", rule.ID).Msg("rule rejected during sync")
			// the previous version no longer matches its stored definition
			if ok && e.UnregisterRule(rule.ID) {
				report.Removed = append(report.Removed, rule.ID)
			}
			continue
		}
		report.Registered = append(report.Registered, rule.ID)
	}

	e.mu.RLock()
	var stale []string
	for id := range e.rules {
		if !wanted[id] {
			stale = append(stale, id)
		}
	}
	e.mu.RUnlock()
	for _, id := range stale {
		if e.UnregisterRule(id) {
			report.Removed = append(report.Removed, id)
		}
	}
	e.logger.Info().
		Int("registered", len(report.Registered)).
		Int("removed", len(report.Removed)).
		Int("unchanged", report.Unchanged).
		Int("invalid", len(report.Invalid)).
		Msg("rules synced")
	return report
}

// Rules lists every registered rule ordered by id
func (e *Engine) Rules() []RuleState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]RuleState, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, e.stateLocked(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rule.ID < out[j].Rule.ID })
	return out
}

// Rule returns the state of one registered rule
func (e *Engine) Rule(ruleID string) (RuleState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[ruleID]
	if !ok {
		return RuleState{}, false
	}
	return e.stateLocked(r), true
}

func (e *Engine) stateLocked(r *registeredRule) RuleState {
	st := RuleState{Rule: r.rule, Status: r.status, TimeZone: r.timeZone}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	if r.rule.IsScheduled() && r.status == RuleStatusActive {
		if next, ok := e.scheduler.NextFire(r.rule.ID); ok {
			st.NextFireAt = &next
		}
	}
	return st
}

func (e *Engine) ruleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// resolveSchedule picks the rule's timezone (trigger, then location scope)
// and parses its cron expression.
func (e *Engine) resolveSchedule(ctx context.Context, reg *registeredRule) (cron.Schedule, error) {
	rule := reg.rule
	if rule.LocationScopeID != "" && e.topology != nil {
		loc, err := e.topology.GetLocation(ctx, rule.LocationScopeID)
		if err != nil && rule.Trigger.TimeZone == "" {
			return nil, &scheduler.ResolutionError{RuleID: rule.ID, Err: fmt.Errorf("load location %s: %w", rule.LocationScopeID, err)}
		}
		reg.location = loc
	}

	tz := rule.Trigger.TimeZone
	if tz == "" && reg.location != nil {
		tz = reg.location.TimeZone
		if tz == "" {
			tz = e.defaultTimeZone
		}
	}
	reg.timeZone = tz

	sched, err := scheduler.ParseSchedule(rule.Trigger.CronExpression, tz)
	if err != nil {
		var resErr *scheduler.ResolutionError
		if errors.As(err, &resErr) {
			resErr.RuleID = rule.ID
		}
		return nil, err
	}
	return sched, nil
}
