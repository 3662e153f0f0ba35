package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/austin-smith/fusion-bridge-sub010/internal/action"
	"github.com/austin-smith/fusion-bridge-sub010/internal/audit"
	"github.com/austin-smith/fusion-bridge-sub010/internal/facts"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
	"github.com/austin-smith/fusion-bridge-sub010/internal/temporal"
)

// trigger carries what an execution was started from
type trigger struct {
	eventID     *string
	at          time.Time
	facts       facts.FactMap
	org         action.OrgContext
	stateMet    *bool
	temporalMet *bool
}

// DispatchEvent evaluates every active event-triggered rule against event
// and starts an execution for each match. It returns the ids of the
// started executions; the executions themselves run asynchronously.
func (e *Engine) DispatchEvent(ctx context.Context, event models.StandardizedEvent) ([]string, error) {
	if !e.acquire() {
		return nil, ErrShuttingDown
	}
	defer e.inFlight.Done()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.execCtx, cancel)
	defer stop()

	e.metrics.EventDispatched()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	device := models.DeviceContext{DeviceID: event.DeviceID}
	if e.topology != nil && event.DeviceID != "" {
		dc, err := e.topology.GetDeviceContext(ctx, event.DeviceID)
		if err != nil {
			e.logger.Warn().Err(err).Str("device_id", event.DeviceID).Str("event_id", event.ID).Msg("device context unavailable, topology facts absent")
		} else {
			device = dc
		}
	}
	f := facts.Resolve(event, device)
	anchor := temporal.Anchor{Event: event, Device: device}

	var executionIDs []string
	for _, reg := range e.eventRules() {
		if id, ok := e.dispatchToRule(ctx, reg, event, device, f, anchor); ok {
			executionIDs = append(executionIDs, id)
		}
	}
	return executionIDs, nil
}

// dispatchToRule is the crash boundary around one rule
func (e *Engine) dispatchToRule(ctx context.Context, reg *registeredRule, event models.StandardizedEvent, device models.DeviceContext, f facts.FactMap, anchor temporal.Anchor) (executionID string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("rule_id", reg.rule.ID).
				Str("event_id", event.ID).
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("rule dispatch panicked")
			executionID, ok = "", false
		}
	}()

	res := e.evaluateEventRule(ctx, &reg.rule, f, anchor)
	if !res.matched {
		e.logger.Debug().Str("rule_id", reg.rule.ID).Str("event_id", event.ID).Msg("rule did not match")
		return "", false
	}

	eventID := event.ID
	org := action.OrgContext{
		OrganizationID: firstNonEmpty(device.OrganizationID, reg.rule.OrganizationID),
		LocationID:     firstNonEmpty(reg.rule.LocationScopeID, device.LocationID),
		AreaID:         device.AreaID,
		DeviceID:       event.DeviceID,
		RuleID:         reg.rule.ID,
		TriggeredAt:    event.Timestamp,
	}
	return e.startExecution(reg.rule, trigger{
		eventID:     &eventID,
		at:          event.Timestamp,
		facts:       f,
		org:         org,
		stateMet:    res.stateMet,
		temporalMet: res.temporalMet,
	})
}

// eventRules snapshots the active event-triggered rules. A dispatch sees
// exactly one version of each rule.
func (e *Engine) eventRules() []*registeredRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*registeredRule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.status == RuleStatusActive && r.rule.Trigger.Type == models.TriggerEvent {
			out = append(out, r)
		}
	}
	return out
}

// fireScheduled is the cron callback. It is a no-op when the rule was
// re-registered or removed since the entry was armed.
func (e *Engine) fireScheduled(ruleID string, generation uint64, firedAt time.Time) {
	if !e.acquire() {
		return
	}
	defer e.inFlight.Done()
	e.mu.RLock()
	reg, ok := e.rules[ruleID]
	current := ok && reg.generation == generation && reg.status == RuleStatusActive
	e.mu.RUnlock()
	if !current {
		return
	}
	e.metrics.ScheduledFire()
	e.runScheduled(reg, firedAt)
}

// FireRule runs a scheduled rule immediately and returns the execution id
func (e *Engine) FireRule(ctx context.Context, ruleID string) (string, error) {
	if !e.acquire() {
		return "", ErrShuttingDown
	}
	defer e.inFlight.Done()
	e.mu.RLock()
	reg, ok := e.rules[ruleID]
	e.mu.RUnlock()
	if !ok {
		return "", ErrRuleNotFound
	}
	if !reg.rule.IsScheduled() {
		return "", ErrNotScheduled
	}
	if reg.status != RuleStatusActive {
		return "", fmt.Errorf("%w: %v", ErrRuleInactive, reg.lastErr)
	}
	id := e.runScheduled(reg, time.Now())
	if id == "" {
		if e.execCtx.Err() != nil {
			return "", ErrShuttingDown
		}
		return "", fmt.Errorf("fire rule %s: execution not started", ruleID)
	}
	return id, nil
}

func (e *Engine) runScheduled(reg *registeredRule, firedAt time.Time) string {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("rule_id", reg.rule.ID).Str("panic", fmt.Sprint(r)).Msg("scheduled fire panicked")
		}
	}()
	rule := reg.rule
	f := facts.ForSchedule(firedAt, rule.Trigger.CronExpression, reg.timeZone, reg.location)

	var temporalMet *bool
	if len(rule.TemporalConditions) > 0 {
		met := true
		temporalMet = &met
	}
	org := action.OrgContext{
		OrganizationID: rule.OrganizationID,
		LocationID:     rule.LocationScopeID,
		RuleID:         rule.ID,
		TriggeredAt:    firedAt,
	}
	if org.OrganizationID == "" && reg.location != nil {
		org.OrganizationID = reg.location.OrganizationID
	}
	e.logger.Info().Str("rule_id", rule.ID).Time("fired_at", firedAt).Msg("scheduled rule fired")
	id, _ := e.startExecution(rule, trigger{at: firedAt, facts: f, org: org, temporalMet: temporalMet})
	return id
}

// startExecution opens the audit record and runs the pipeline in the
// background under the engine's execution context. The caller must hold an
// inFlight count. Nothing is started once the shutdown deadline has passed.
func (e *Engine) startExecution(rule models.AutomationRule, t trigger) (string, bool) {
	if e.execCtx.Err() != nil {
		e.logger.Warn().Str("rule_id", rule.ID).Msg("shutdown deadline passed, match dropped")
		return "", false
	}
	executionID := e.audit.StartExecution(e.execCtx, audit.StartParams{
		RuleID:           rule.ID,
		TriggerEventID:   t.eventID,
		TriggerTimestamp: t.at,
		TriggerContext:   map[string]any(t.facts),
		TotalActions:     len(rule.Actions),
	})
	if t.stateMet != nil || t.temporalMet != nil {
		e.audit.UpdateConditionResults(e.execCtx, executionID, t.stateMet, t.temporalMet)
	}

	e.metrics.ExecutionStarted()
	e.inFlight.Add(1)
	go e.runExecution(executionID, rule, t)
	return executionID, true
}

func (e *Engine) runExecution(executionID string, rule models.AutomationRule, t trigger) {
	defer e.inFlight.Done()
	auditCtx := context.WithoutCancel(e.execCtx)

	outcome := action.Outcome{Status: models.ExecutionStatusFailure, FailedActions: len(rule.Actions)}
	func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error().Str("execution_id", executionID).Str("panic", fmt.Sprint(r)).Msg("execution panicked")
			}
		}()
		outcome = e.pipeline.Run(e.execCtx, executionID, rule.Actions, t.facts, t.org)
	}()

	e.audit.CompleteExecution(auditCtx, executionID, audit.ExecutionCompletion{
		Status:            outcome.Status,
		SuccessfulActions: outcome.SuccessfulActions,
		FailedActions:     outcome.FailedActions,
		DurationMs:        outcome.Duration.Milliseconds(),
	})
	e.metrics.ExecutionCompleted(string(outcome.Status), outcome.Duration)
	e.logger.Info().
		Str("execution_id", executionID).
		Str("rule_id", rule.ID).
		Str("status", string(outcome.Status)).
		Int("successful", outcome.SuccessfulActions).
		Int("failed", outcome.FailedActions).
		Msg("execution completed")

	report := ExecutionReport{
		ExecutionID:       executionID,
		RuleID:            rule.ID,
		RuleName:          rule.Name,
		TriggerEventID:    t.eventID,
		Status:            outcome.Status,
		SuccessfulActions: outcome.SuccessfulActions,
		FailedActions:     outcome.FailedActions,
		DurationMs:        outcome.Duration.Milliseconds(),
		CompletedAt:       time.Now().UTC(),
	}
	e.obsMu.RLock()
	observers := append([]ExecutionObserver(nil), e.observers...)
	e.obsMu.RUnlock()
	for _, o := range observers {
		o.ExecutionCompleted(report)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
