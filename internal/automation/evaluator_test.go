package automation

import (
	"math"
	"testing"

	"github.com/austin-smith/fusion-bridge-sub010/internal/facts"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestEvaluate_DoorOpenWhileArmed(t *testing.T) {
	rule := models.All(
		models.Cond("eventType", models.OpEqual, "DOOR_OPEN"),
		models.Cond("areaState", models.OpEqual, "ARMED"),
	)

	assert.True(t, Evaluate(rule, facts.FactMap{"eventType": "DOOR_OPEN", "areaState": "ARMED"}))
	assert.False(t, Evaluate(rule, facts.FactMap{"eventType": "DOOR_OPEN", "areaState": "DISARMED"}))
}

// panicky is a node type the evaluator does not know about
type panicky struct{ models.RuleNode }

func TestEvaluate_ShortCircuit(t *testing.T) {
	f := facts.FactMap{"a": 1.0}
	pass := models.Cond("a", models.OpEqual, 1)
	fail := models.Cond("a", models.OpEqual, 2)

	// an unknown node after the decisive child is never visited
	assert.False(t, Evaluate(&models.RuleGroup{Combinator: models.CombinatorAll, Children: []models.RuleNode{fail, panicky{}}}, f))
	assert.True(t, Evaluate(&models.RuleGroup{Combinator: models.CombinatorAny, Children: []models.RuleNode{pass, panicky{}}}, f))

	assert.True(t, Evaluate(models.All(pass, pass), f))
	assert.False(t, Evaluate(models.All(pass, fail), f))
	assert.True(t, Evaluate(models.Any(fail, pass), f))
	assert.False(t, Evaluate(models.Any(fail, fail), f))
}

func TestEvaluate_MissingFactDoesNotAbortSiblings(t *testing.T) {
	rule := models.Any(
		models.Cond("missing", models.OpNotEqual, "x"),
		models.All(models.Cond("eventType", models.OpIn, []any{"A", "B"})),
	)
	assert.True(t, Evaluate(rule, facts.FactMap{"eventType": "B"}))
}

func TestEvaluate_DefensiveShapes(t *testing.T) {
	f := facts.FactMap{"a": "x"}
	assert.False(t, Evaluate(nil, f))
	assert.False(t, Evaluate(models.All(), f))
	assert.False(t, Evaluate(&models.RuleGroup{Combinator: "none", Children: []models.RuleNode{models.Cond("a", models.OpEqual, "x")}}, f))
	assert.False(t, Evaluate(models.All(panicky{}), f))
	assert.False(t, Evaluate(models.All(models.Cond("a", "matches", "x")), f))
}

func TestEvaluate_Pure(t *testing.T) {
	rule := models.All(models.Cond("payload", models.OpGreaterThan, 10))
	rule.Children[0].(*models.RuleCondition).Path = "$.reading"
	f := facts.FactMap{"payload": map[string]any{"reading": 12.5}}
	first := Evaluate(rule, f)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Evaluate(rule, f))
	}
	assert.True(t, first)
}

func TestCompare_Operators(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		op       models.Operator
		expected any
		want     bool
	}{
		{"equal strings", "a", models.OpEqual, "a", true},
		{"equal number vs string is strict", 5.0, models.OpEqual, "5", false},
		{"equal numbers", 5.0, models.OpEqual, 5.0, true},
		{"equal bools", true, models.OpEqual, true, true},
		{"not equal", "a", models.OpNotEqual, "b", true},
		{"less than", 1.0, models.OpLessThan, 2.0, true},
		{"less than numeric string", "1.5", models.OpLessThan, 2.0, true},
		{"less than inclusive", 2.0, models.OpLessThanInclusive, 2.0, true},
		{"greater than non numeric", "abc", models.OpGreaterThan, 1.0, false},
		{"greater than bool", true, models.OpGreaterThan, 0.0, false},
		{"greater than inclusive", 3.0, models.OpGreaterThanInclusive, "3", true},
		{"greater than empty string", "", models.OpGreaterThan, -1.0, false},
		{"greater than exponent string", "1e3", models.OpGreaterThan, 999.0, true},
		{"greater than Inf string", "Inf", models.OpGreaterThan, 5.0, false},
		{"greater than infinity string", "-infinity", models.OpLessThan, 5.0, false},
		{"less than NaN string", "NaN", models.OpLessThan, 5.0, false},
		{"less than hex string", "0x1p-2", models.OpLessThan, 5.0, false},
		{"less than overflow string", "1e999", models.OpGreaterThan, 5.0, false},
		{"greater than Inf value", math.Inf(1), models.OpGreaterThan, 5.0, false},
		{"in", "B", models.OpIn, []any{"A", "B"}, true},
		{"in numeric", 2.0, models.OpIn, []any{1.0, 2.0}, true},
		{"in non array", "B", models.OpIn, "B", false},
		{"not in", "C", models.OpNotIn, []any{"A", "B"}, true},
		{"not in non array", "C", models.OpNotIn, "AB", false},
		{"contains array", []any{"x", "y"}, models.OpContains, "y", true},
		{"contains substring", "front door", models.OpContains, "door", true},
		{"contains wrong shape", 12.0, models.OpContains, "1", false},
		{"does not contain array", []any{"x"}, models.OpDoesNotContain, "y", true},
		{"does not contain substring", "front door", models.OpDoesNotContain, "door", false},
		{"does not contain wrong shape", "abc", models.OpDoesNotContain, 1.0, false},
		{"unknown operator", "a", models.Operator("regex"), "a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.actual, tt.op, tt.expected))
		})
	}
}

func TestEvaluate_MissingFactFalseForNegatedOperators(t *testing.T) {
	empty := facts.FactMap{}
	for _, op := range []models.Operator{models.OpNotEqual, models.OpNotIn, models.OpDoesNotContain} {
		var value any = "x"
		if op == models.OpNotIn {
			value = []any{"x"}
		}
		assert.False(t, Evaluate(models.All(models.Cond("gone", op, value)), empty), string(op))
	}
}
