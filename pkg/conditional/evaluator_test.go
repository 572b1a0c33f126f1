package conditional

import (
	"testing"

	"github.com/dukex/fieldflow/pkg/models"
	"github.com/stretchr/testify/assert"
)

func cond(field string, operator models.Operator, value any) models.Condition {
	return models.Condition{Field: field, Operator: operator, Value: value}
}

func TestEvaluate_EmptyConditions(t *testing.T) {
	assert.True(t, Evaluate(nil, nil))
	assert.True(t, Evaluate([]models.Condition{}, map[string]any{"a": 1}))
}

func TestEvaluateOne_Operators(t *testing.T) {
	data := map[string]any{
		"amount": 750.0,
		"count":  3,
		"status": "Completed",
		"tags":   []any{"vip", "commercial"},
		"job": map[string]any{
			"id":        "J1",
			"client_id": "C1",
			"total":     "1200.50",
		},
		"notes":  nil,
		"active": true,
	}

	tests := []struct {
		name      string
		condition models.Condition
		expected  bool
	}{
		{"equals string", cond("status", models.OperatorEquals, "Completed"), true},
		{"equals is case sensitive", cond("status", models.OperatorEquals, "completed"), false},
		{"equals across numeric kinds", cond("count", models.OperatorEquals, 3.0), true},
		{"equals does not coerce strings", cond("count", models.OperatorEquals, "3"), false},
		{"equals nested path", cond("job.client_id", models.OperatorEquals, "C1"), true},
		{"equals bool", cond("active", models.OperatorEquals, true), true},
		{"equals null", cond("notes", models.OperatorEquals, nil), true},
		{"not equals", cond("status", models.OperatorNotEquals, "pending"), true},
		{"greater than number", cond("amount", models.OperatorGreaterThan, 500), true},
		{"greater than numeric string", cond("job.total", models.OperatorGreaterThan, "1000"), true},
		{"greater than non numeric is false", cond("status", models.OperatorGreaterThan, 1), false},
		{"less than", cond("count", models.OperatorLessThan, 10), true},
		{"less than non numeric value is false", cond("count", models.OperatorLessThan, "many"), false},
		{"contains case insensitive", cond("status", models.OperatorContains, "PLETE"), true},
		{"contains on number", cond("amount", models.OperatorContains, "75"), true},
		{"not contains", cond("status", models.OperatorNotContains, "cancel"), true},
		{"in", cond("status", models.OperatorIn, []any{"Scheduled", "Completed"}), true},
		{"in typed slice", cond("count", models.OperatorIn, []int{1, 2, 3}), true},
		{"in missing member", cond("status", models.OperatorIn, []any{"Scheduled"}), false},
		{"in requires array", cond("status", models.OperatorIn, "Completed"), false},
		{"not in", cond("status", models.OperatorNotIn, []any{"Cancelled"}), true},
		{"not in requires array", cond("status", models.OperatorNotIn, "Cancelled"), false},
		{"unknown operator", cond("status", models.Operator("matches"), ".*"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EvaluateOne(tt.condition, data))
		})
	}
}

func TestEvaluateOne_UndefinedField(t *testing.T) {
	data := map[string]any{"job": map[string]any{"id": "J1"}}

	tests := []struct {
		operator models.Operator
		value    any
		expected bool
	}{
		{models.OperatorEquals, "x", false},
		{models.OperatorNotEquals, "x", true},
		{models.OperatorGreaterThan, 0, false},
		{models.OperatorLessThan, 0, false},
		{models.OperatorContains, "x", false},
		{models.OperatorNotContains, "x", true},
		{models.OperatorIn, []any{"x"}, false},
		{models.OperatorNotIn, []any{"x"}, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.operator), func(t *testing.T) {
			assert.Equal(t, tt.expected, EvaluateOne(cond("job.client.name", tt.operator, tt.value), data))
		})
	}
}

func TestEvaluate_AndSemantics(t *testing.T) {
	data := map[string]any{"amount": 100, "status": "paid"}

	c1 := cond("amount", models.OperatorGreaterThan, 50)
	c2 := cond("status", models.OperatorEquals, "paid")
	c3 := cond("status", models.OperatorEquals, "open")

	for _, pair := range [][2]models.Condition{{c1, c2}, {c1, c3}, {c3, c2}, {c3, c3}} {
		both := Evaluate([]models.Condition{pair[0], pair[1]}, data)
		separately := Evaluate([]models.Condition{pair[0]}, data) && Evaluate([]models.Condition{pair[1]}, data)

		assert.Equal(t, separately, both)
	}
}

func TestEvaluate_Purity(t *testing.T) {
	conditions := []models.Condition{
		cond("invoice.amount", models.OperatorGreaterThan, 500),
		cond("invoice.status", models.OperatorIn, []any{"paid", "partial"}),
	}

	build := func() map[string]any {
		return map[string]any{"invoice": map[string]any{"amount": 900, "status": "paid"}}
	}

	first := Evaluate(conditions, build())
	for range 10 {
		assert.Equal(t, first, Evaluate(conditions, build()))
	}

	assert.True(t, first)
}
