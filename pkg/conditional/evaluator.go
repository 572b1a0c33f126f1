// Package conditional evaluates field/operator/value conditions against event context data.
package conditional

import (
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/dukex/fieldflow/pkg/fieldpath"
	"github.com/dukex/fieldflow/pkg/models"
)

// Evaluate reports whether every condition holds for data. An empty list holds.
// Evaluation never fails: a field that cannot be resolved only satisfies
// not_equals and not_contains.
func Evaluate(conditions []models.Condition, data map[string]any) bool {
	for _, condition := range conditions {
		if !EvaluateOne(condition, data) {
			return false
		}
	}

	return true
}

// EvaluateOne evaluates a single condition.
func EvaluateOne(condition models.Condition, data map[string]any) bool {
	value, defined := fieldpath.Resolve(data, condition.Field)
	if !defined {
		return condition.Operator == models.OperatorNotEquals ||
			condition.Operator == models.OperatorNotContains
	}

	switch condition.Operator {
	case models.OperatorEquals:
		return StrictEqual(value, condition.Value)
	case models.OperatorNotEquals:
		return !StrictEqual(value, condition.Value)
	case models.OperatorGreaterThan:
		return toNumber(value) > toNumber(condition.Value)
	case models.OperatorLessThan:
		return toNumber(value) < toNumber(condition.Value)
	case models.OperatorContains:
		return containsFold(value, condition.Value)
	case models.OperatorNotContains:
		return !containsFold(value, condition.Value)
	case models.OperatorIn:
		list, ok := toList(condition.Value)

		return ok && member(list, value)
	case models.OperatorNotIn:
		list, ok := toList(condition.Value)

		return ok && !member(list, value)
	default:
		return false
	}
}

// StrictEqual compares two values without converting between strings, numbers and booleans.
// Numbers of different Go kinds are equal when they hold the same value.
func StrictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	left, leftIsNumber := fieldpath.Number(a)
	right, rightIsNumber := fieldpath.Number(b)

	if leftIsNumber || rightIsNumber {
		return leftIsNumber && rightIsNumber && left == right
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)

		return ok && av == bv
	case bool:
		bv, ok := b.(bool)

		return ok && av == bv
	}

	return reflect.DeepEqual(a, b)
}

// toNumber converts loosely: numeric strings parse, booleans become 1 or 0,
// nil becomes 0, and anything else is NaN so that every comparison fails.
func toNumber(value any) float64 {
	if number, ok := fieldpath.Number(value); ok {
		return number
	}

	switch v := value.(type) {
	case nil:
		return 0
	case bool:
		if v {
			return 1
		}

		return 0
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0
		}

		number, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}

		return number
	}

	return math.NaN()
}

func containsFold(value, needle any) bool {
	return strings.Contains(
		strings.ToLower(fieldpath.String(value)),
		strings.ToLower(fieldpath.String(needle)),
	)
}

func toList(value any) ([]any, bool) {
	if list, ok := value.([]any); ok {
		return list, true
	}

	rv := reflect.ValueOf(value)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}

	list := make([]any, rv.Len())
	for i := range list {
		list[i] = rv.Index(i).Interface()
	}

	return list, true
}

func member(list []any, value any) bool {
	for _, item := range list {
		if StrictEqual(item, value) {
			return true
		}
	}

	return false
}
