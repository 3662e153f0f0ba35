package automation

import (
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

// Compare applies op to a present fact value and a normalized rule value.
// Shape mismatches yield false.
func Compare(actual any, op models.Operator, expected any) bool {
	switch op {
	case models.OpEqual:
		return equalValues(actual, expected)
	case models.OpNotEqual:
		return !equalValues(actual, expected)
	case models.OpLessThan, models.OpLessThanInclusive, models.OpGreaterThan, models.OpGreaterThanInclusive:
		a, okA := toNumber(actual)
		e, okE := toNumber(expected)
		if !okA || !okE {
			return false
		}
		switch op {
		case models.OpLessThan:
			return a < e
		case models.OpLessThanInclusive:
			return a <= e
		case models.OpGreaterThan:
			return a > e
		default:
			return a >= e
		}
	case models.OpIn:
		list, ok := expected.([]any)
		return ok && member(list, actual)
	case models.OpNotIn:
		list, ok := expected.([]any)
		return ok && !member(list, actual)
	case models.OpContains:
		found, ok := contains(actual, expected)
		return ok && found
	case models.OpDoesNotContain:
		found, ok := contains(actual, expected)
		return ok && !found
	}
	return false
}

func equalValues(a, b any) bool {
	if x, ok := a.(float64); ok {
		if y, ok := b.(float64); ok {
			return x == y
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func member(list []any, v any) bool {
	for _, item := range list {
		if equalValues(item, v) {
			return true
		}
	}
	return false
}

// contains reports (found, applicable). Arrays test element membership,
// strings test substrings.
func contains(actual, expected any) (bool, bool) {
	switch a := actual.(type) {
	case []any:
		return member(a, expected), true
	case string:
		e, ok := expected.(string)
		if !ok {
			return false, false
		}
		return strings.Contains(a, e), true
	}
	return false, false
}

// toNumber accepts finite numbers and decimal numeric strings
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case string:
		s := strings.TrimSpace(n)
		if s == "" || !decimalString(s) {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// decimalString rejects what ParseFloat accepts beyond plain decimals:
// hex floats, underscores, Inf and NaN.
func decimalString(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-', r == '+', r == 'e', r == 'E':
		default:
			return false
		}
	}
	return true
}
