package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Combinator joins the children of a RuleGroup
type Combinator string

const (
	CombinatorAll Combinator = "all"
	CombinatorAny Combinator = "any"
)

// Operator is a leaf comparison operator
type Operator string

const (
	OpEqual                Operator = "equal"
	OpNotEqual             Operator = "notEqual"
	OpLessThan             Operator = "lessThan"
	OpLessThanInclusive    Operator = "lessThanInclusive"
	OpGreaterThan          Operator = "greaterThan"
	OpGreaterThanInclusive Operator = "greaterThanInclusive"
	OpIn                   Operator = "in"
	OpNotIn                Operator = "notIn"
	OpContains             Operator = "contains"
	OpDoesNotContain       Operator = "doesNotContain"
)

// SupportedOperators lists every operator accepted by the evaluator
var SupportedOperators = []Operator{
	OpEqual, OpNotEqual,
	OpLessThan, OpLessThanInclusive, OpGreaterThan, OpGreaterThanInclusive,
	OpIn, OpNotIn, OpContains, OpDoesNotContain,
}

// RuleNode is either a *RuleGroup or a *RuleCondition. Trees are built once
// and never mutated afterwards.
type RuleNode interface {
	ruleNode()
}

// RuleGroup is an all/any combinator over conditions and nested groups
type RuleGroup struct {
	Combinator Combinator
	Children   []RuleNode
}

// RuleCondition compares one fact against a literal value
type RuleCondition struct {
	Fact     string   `json:"fact"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
	Path     string   `json:"path,omitempty"`
}

func (*RuleGroup) ruleNode()     {}
func (*RuleCondition) ruleNode() {}

// All builds an "all" group
func All(children ...RuleNode) *RuleGroup {
	return &RuleGroup{Combinator: CombinatorAll, Children: children}
}

// Any builds an "any" group
func Any(children ...RuleNode) *RuleGroup {
	return &RuleGroup{Combinator: CombinatorAny, Children: children}
}

// Cond builds a leaf condition
func Cond(fact string, op Operator, value any) *RuleCondition {
	return &RuleCondition{Fact: fact, Operator: op, Value: value}
}

// MarshalJSON encodes the group as {"all": [...]} or {"any": [...]}
func (g RuleGroup) MarshalJSON() ([]byte, error) {
	if g.Combinator != CombinatorAll && g.Combinator != CombinatorAny {
		return nil, fmt.Errorf("rule group: unknown combinator %q", g.Combinator)
	}
	children := g.Children
	if children == nil {
		children = []RuleNode{}
	}
	return json.Marshal(map[string][]RuleNode{string(g.Combinator): children})
}

// UnmarshalJSON decodes {"all": [...]} or {"any": [...]}. Children carrying
// an all/any key decode as groups, everything else as conditions.
func (g *RuleGroup) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("rule group: %w", err)
	}
	allRaw, hasAll := raw[string(CombinatorAll)]
	anyRaw, hasAny := raw[string(CombinatorAny)]
	switch {
	case hasAll && hasAny:
		return errors.New("rule group: both all and any are set")
	case hasAll:
		g.Combinator = CombinatorAll
		return g.decodeChildren(allRaw)
	case hasAny:
		g.Combinator = CombinatorAny
		return g.decodeChildren(anyRaw)
	default:
		return errors.New("rule group: one of all or any is required")
	}
}

func (g *RuleGroup) decodeChildren(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("rule group %s: %w", g.Combinator, err)
	}
	g.Children = make([]RuleNode, 0, len(items))
	for i, item := range items {
		node, err := decodeNode(item)
		if err != nil {
			return fmt.Errorf("rule group %s[%d]: %w", g.Combinator, i, err)
		}
		g.Children = append(g.Children, node)
	}
	return nil
}

func decodeNode(data []byte) (RuleNode, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, err
	}
	_, hasAll := keys[string(CombinatorAll)]
	_, hasAny := keys[string(CombinatorAny)]
	if hasAll || hasAny {
		var group RuleGroup
		if err := group.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return &group, nil
	}
	var cond RuleCondition
	if err := json.Unmarshal(data, &cond); err != nil {
		return nil, err
	}
	return &cond, nil
}
