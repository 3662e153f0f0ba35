package automation

import (
	"github.com/austin-smith/fusion-bridge-sub010/internal/facts"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

// Evaluate reports whether facts satisfy the rule tree. It never panics:
// any unexpected node shape evaluates to false.
func Evaluate(group *models.RuleGroup, f facts.FactMap) (result bool) {
	defer func() {
		if recover() != nil {
			result = false
		}
	}()
	return evaluateGroup(group, f)
}

// evaluateGroup walks one all/any combinator, short-circuiting on the first
// decisive child.
func evaluateGroup(group *models.RuleGroup, f facts.FactMap) bool {
	if group == nil || len(group.Children) == 0 {
		return false
	}
	switch group.Combinator {
	case models.CombinatorAll:
		for _, child := range group.Children {
			if !evaluateNode(child, f) {
				return false
			}
		}
		return true
	case models.CombinatorAny:
		for _, child := range group.Children {
			if evaluateNode(child, f) {
				return true
			}
		}
		return false
	}
	return false
}

func evaluateNode(node models.RuleNode, f facts.FactMap) bool {
	switch n := node.(type) {
	case *models.RuleGroup:
		return evaluateGroup(n, f)
	case *models.RuleCondition:
		if n == nil {
			return false
		}
		return evaluateCondition(n, f)
	}
	return false
}

// evaluateCondition compares one fact. A missing fact or unresolvable path
// makes the condition false for every operator, including the negated ones.
func evaluateCondition(cond *models.RuleCondition, f facts.FactMap) bool {
	actual, ok := f.Lookup(cond.Fact, cond.Path)
	if !ok {
		return false
	}
	return Compare(actual, cond.Operator, facts.NormalizeValue(cond.Value))
}
