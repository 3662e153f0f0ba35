package models

import (
	"fmt"
	"strings"
)

// ValidationError describes one malformed part of a rule
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidationErrors collects every problem found in a rule
type ValidationErrors []*ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return "invalid rule: " + strings.Join(msgs, "; ")
}

type validator struct {
	errs ValidationErrors
}

func (v *validator) add(field, format string, args ...any) {
	v.errs = append(v.errs, &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)})
}

// Validate checks the structural invariants of a rule. It returns nil or a
// ValidationErrors value.
func (r *AutomationRule) Validate() error {
	v := &validator{}
	if r.ID == "" {
		v.add("id", "is required")
	}

	switch r.Trigger.Type {
	case TriggerEvent:
		if r.Trigger.Conditions == nil {
			v.add("trigger.conditions", "is required for event triggers")
		} else {
			v.group("trigger.conditions", r.Trigger.Conditions)
		}
	case TriggerScheduled:
		if strings.TrimSpace(r.Trigger.CronExpression) == "" {
			v.add("trigger.cronExpression", "is required for scheduled triggers")
		}
		if r.Trigger.TimeZone == "" && r.LocationScopeID == "" {
			v.add("trigger.timeZone", "is required when the rule has no locationScopeId")
		}
	default:
		v.add("trigger.type", "unknown trigger type %q", r.Trigger.Type)
	}

	for i := range r.TemporalConditions {
		v.temporal(fmt.Sprintf("temporalConditions[%d]", i), &r.TemporalConditions[i])
	}

	if len(r.Actions) == 0 {
		v.add("actions", "at least one action is required")
	}
	for i, a := range r.Actions {
		field := fmt.Sprintf("actions[%d]", i)
		if a.Params == nil {
			v.add(field, "params are required")
			continue
		}
		if a.Params.ActionType() != a.Type {
			v.add(field, "params of type %s do not match action type %s", a.Params.ActionType(), a.Type)
			continue
		}
		if err := a.Params.Validate(); err != nil {
			v.add(field+".params", "%v", err)
		}
	}

	if len(v.errs) == 0 {
		return nil
	}
	return v.errs
}

func (v *validator) group(field string, g *RuleGroup) {
	if g.Combinator != CombinatorAll && g.Combinator != CombinatorAny {
		v.add(field, "unknown combinator %q", g.Combinator)
		return
	}
	if len(g.Children) == 0 {
		v.add(field, "%s must contain at least one element", g.Combinator)
		return
	}
	for i, child := range g.Children {
		childField := fmt.Sprintf("%s.%s[%d]", field, g.Combinator, i)
		switch n := child.(type) {
		case *RuleGroup:
			if n == nil {
				v.add(childField, "is empty")
				continue
			}
			v.group(childField, n)
		case *RuleCondition:
			if n == nil {
				v.add(childField, "is empty")
				continue
			}
			v.condition(childField, n)
		default:
			v.add(childField, "unsupported node %T", child)
		}
	}
}

func (v *validator) condition(field string, c *RuleCondition) {
	if c.Fact == "" {
		v.add(field+".fact", "is required")
	}
	known := false
	for _, op := range SupportedOperators {
		if c.Operator == op {
			known = true
			break
		}
	}
	if !known {
		v.add(field+".operator", "unsupported operator %q", c.Operator)
		return
	}
	if c.Operator == OpIn || c.Operator == OpNotIn {
		if _, ok := c.Value.([]any); !ok {
			v.add(field+".value", "must be an array for operator %s", c.Operator)
		}
	}
}

func (v *validator) temporal(field string, t *TemporalCondition) {
	switch t.Type {
	case TemporalEventOccurred, TemporalNoEventOccurred:
	default:
		if !t.Type.IsCountBased() {
			v.add(field+".type", "unknown temporal type %q", t.Type)
		}
	}
	if t.Type.IsCountBased() && t.ExpectedEventCount == nil {
		v.add(field+".expectedEventCount", "is required for %s", t.Type)
	}
	switch t.Scoping {
	case ScopeAnywhere, ScopeSameArea, ScopeSameLocation:
	default:
		v.add(field+".scoping", "unknown scoping %q", t.Scoping)
	}
	if t.EventFilter == nil {
		v.add(field+".eventFilter", "is required")
	} else {
		v.group(field+".eventFilter", t.EventFilter)
	}
	if t.TimeWindowSecondsBefore != nil && *t.TimeWindowSecondsBefore < 0 {
		v.add(field+".timeWindowSecondsBefore", "must not be negative")
	}
	if t.TimeWindowSecondsAfter != nil && *t.TimeWindowSecondsAfter < 0 {
		v.add(field+".timeWindowSecondsAfter", "must not be negative")
	}
}
