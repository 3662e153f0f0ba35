package engine

import (
	"context"

	"github.com/austin-smith/fusion-bridge-sub010/internal/automation"
	"github.com/austin-smith/fusion-bridge-sub010/internal/facts"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
	"github.com/austin-smith/fusion-bridge-sub010/internal/temporal"
)

// matchResult is the outcome of evaluating one rule against one event
type matchResult struct {
	matched     bool
	stateMet    *bool
	temporalMet *bool
}

// inScope reports whether the event's device belongs to the rule's
// organization and location scope. Unknown topology never excludes.
func inScope(rule *models.AutomationRule, device models.DeviceContext) bool {
	if rule.OrganizationID != "" && device.OrganizationID != "" && rule.OrganizationID != device.OrganizationID {
		return false
	}
	if rule.LocationScopeID != "" && device.LocationID != "" && rule.LocationScopeID != device.LocationID {
		return false
	}
	return true
}

// evaluateEventRule runs the trigger group and then the temporal
// conditions, stopping at the first stage that fails.
func (e *Engine) evaluateEventRule(ctx context.Context, rule *models.AutomationRule, f facts.FactMap, anchor temporal.Anchor) matchResult {
	if !inScope(rule, anchor.Device) {
		return matchResult{}
	}
	stateMet := automation.Evaluate(rule.Trigger.Conditions, f)
	e.metrics.RuleEvaluated(string(models.TriggerEvent), stateMet)
	if !stateMet {
		return matchResult{stateMet: &stateMet}
	}
	res := matchResult{stateMet: &stateMet}
	if len(rule.TemporalConditions) == 0 {
		res.matched = true
		return res
	}
	temporalMet := e.temporal != nil && e.temporal.CheckAll(ctx, rule.TemporalConditions, anchor)
	res.temporalMet = &temporalMet
	res.matched = temporalMet
	return res
}
