// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package condition_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aegis-pdp/aegis/internal/access/condition"
	"github.com/aegis-pdp/aegis/pkg/errutil"
)

var twoPM = time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)

func req(attrs map[string]any) condition.Request {
	return condition.Request{Subject: "u1", Attributes: attrs, Now: twoPM}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name  string
		cond  condition.Condition
		attrs map[string]any
		want  bool
	}{
		// TIME reads the hour of day.
		{"time equals hour", condition.Condition{Kind: condition.KindTime, Operator: condition.OpEquals, Value: 14}, nil, true},
		{"time between business hours", condition.Condition{Kind: condition.KindTime, Operator: condition.OpBetween, Value: []any{9, 17}}, nil, true},
		{"time between inclusive upper", condition.Condition{Kind: condition.KindTime, Operator: condition.OpBetween, Value: []int{9, 14}}, nil, true},
		{"time outside range", condition.Condition{Kind: condition.KindTime, Operator: condition.OpBetween, Value: []any{0, 6}}, nil, false},
		{"time less than", condition.Condition{Kind: condition.KindTime, Operator: condition.OpLessThan, Value: 9}, nil, false},

		// EQUALS / NOT_EQUALS normalise numbers.
		{"int equals float", condition.Condition{Kind: condition.KindAmount, Operator: condition.OpEquals, Value: 100.0}, map[string]any{"amount": 100}, true},
		{"string equals", condition.Condition{Kind: condition.KindLocation, Operator: condition.OpEquals, Value: "office"}, map[string]any{"location": "office"}, true},
		{"string not equals", condition.Condition{Kind: condition.KindDevice, Operator: condition.OpNotEquals, Value: "mobile"}, map[string]any{"device": "laptop"}, true},
		{"absent equals is false", condition.Condition{Kind: condition.KindIP, Operator: condition.OpEquals, Value: "10.0.0.1"}, nil, false},
		{"absent not equals is true", condition.Condition{Kind: condition.KindIP, Operator: condition.OpNotEquals, Value: "10.0.0.1"}, nil, true},
		{"mixed types not equal", condition.Condition{Kind: condition.KindAmount, Operator: condition.OpEquals, Value: "100"}, map[string]any{"amount": 100}, false},

		// Ordered comparisons need numbers or times.
		{"amount greater", condition.Condition{Kind: condition.KindAmount, Operator: condition.OpGreaterThan, Value: 1000}, map[string]any{"amount": int64(5000)}, true},
		{"amount not greater", condition.Condition{Kind: condition.KindAmount, Operator: condition.OpGreaterThan, Value: 1000}, map[string]any{"amount": 1000}, false},
		{"frequency less", condition.Condition{Kind: condition.KindFrequency, Operator: condition.OpLessThan, Value: 10}, map[string]any{"frequency": float32(3)}, true},
		{"string greater fails closed", condition.Condition{Kind: condition.KindLocation, Operator: condition.OpGreaterThan, Value: "a"}, map[string]any{"location": "b"}, false},
		{"absent greater fails", condition.Condition{Kind: condition.KindAmount, Operator: condition.OpGreaterThan, Value: 1}, nil, false},
		{"times compare", condition.Condition{Kind: condition.KindAmount, Operator: condition.OpLessThan, Value: twoPM}, map[string]any{"amount": twoPM.Add(-time.Hour)}, true},

		// BETWEEN needs exactly two bounds.
		{"between malformed", condition.Condition{Kind: condition.KindAmount, Operator: condition.OpBetween, Value: []any{1}}, map[string]any{"amount": 1}, false},
		{"between scalar", condition.Condition{Kind: condition.KindAmount, Operator: condition.OpBetween, Value: 5}, map[string]any{"amount": 5}, false},
		{"between inclusive lower", condition.Condition{Kind: condition.KindAmount, Operator: condition.OpBetween, Value: []float64{10, 20}}, map[string]any{"amount": 10}, true},

		// IN / NOT_IN need a set.
		{"in set", condition.Condition{Kind: condition.KindLocation, Operator: condition.OpIn, Value: []string{"office", "home"}}, map[string]any{"location": "home"}, true},
		{"not in set", condition.Condition{Kind: condition.KindLocation, Operator: condition.OpIn, Value: []any{"office"}}, map[string]any{"location": "cafe"}, false},
		{"in with scalar value", condition.Condition{Kind: condition.KindLocation, Operator: condition.OpIn, Value: "office"}, map[string]any{"location": "office"}, false},
		{"not_in excludes", condition.Condition{Kind: condition.KindIP, Operator: condition.OpNotIn, Value: []any{"10.0.0.1"}}, map[string]any{"ip": "10.0.0.1"}, false},
		{"not_in admits", condition.Condition{Kind: condition.KindIP, Operator: condition.OpNotIn, Value: []any{"10.0.0.1"}}, map[string]any{"ip": "10.0.0.2"}, true},
		{"not_in absent", condition.Condition{Kind: condition.KindIP, Operator: condition.OpNotIn, Value: []any{"10.0.0.1"}}, nil, true},
		{"not_in scalar value", condition.Condition{Kind: condition.KindIP, Operator: condition.OpNotIn, Value: "10.0.0.1"}, map[string]any{"ip": "x"}, false},
		{"in numeric set", condition.Condition{Kind: condition.KindAmount, Operator: condition.OpIn, Value: []any{1.0, 2.0}}, map[string]any{"amount": 2}, true},

		// Unknown kinds pass; unknown operators fail.
		{"unknown kind passes", condition.Condition{Kind: "WEATHER", Operator: condition.OpEquals, Value: "sunny"}, nil, true},
		{"unknown operator fails", condition.Condition{Kind: condition.KindAmount, Operator: "LIKE", Value: 1}, map[string]any{"amount": 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, condition.Evaluate(tt.cond, req(tt.attrs)))
		})
	}
}

func TestEvaluate_TimeUsesRequestClock(t *testing.T) {
	c := condition.Condition{Kind: condition.KindTime, Operator: condition.OpBetween, Value: []any{9, 17}}
	twoAM := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

	assert.True(t, condition.Evaluate(c, condition.Request{Now: twoPM}))
	assert.False(t, condition.Evaluate(c, condition.Request{Now: twoAM}))
}

func TestAll(t *testing.T) {
	amount := condition.Condition{Kind: condition.KindAmount, Operator: condition.OpLessThan, Value: 100}
	office := condition.Condition{Kind: condition.KindLocation, Operator: condition.OpEquals, Value: "office"}

	assert.True(t, condition.All(nil, req(nil)))
	assert.True(t, condition.All([]condition.Condition{amount, office}, req(map[string]any{"amount": 5, "location": "office"})))
	assert.False(t, condition.All([]condition.Condition{amount, office}, req(map[string]any{"amount": 5, "location": "home"})))
}

func TestValidate(t *testing.T) {
	valid := []condition.Condition{
		{Kind: condition.KindTime, Operator: condition.OpBetween, Value: []any{9, 17}},
		{Kind: condition.KindIP, Operator: condition.OpIn, Value: []string{"a"}},
		{Kind: condition.KindAmount, Operator: condition.OpGreaterThan, Value: 10},
		{Kind: "FUTURE", Operator: condition.OpEquals, Value: "x"},
	}
	for _, c := range valid {
		assert.NoError(t, condition.Validate(c), "%+v", c)
	}

	invalid := []condition.Condition{
		{Kind: condition.KindTime, Operator: condition.OpBetween, Value: []any{9}},
		{Kind: condition.KindIP, Operator: condition.OpIn, Value: "a"},
		{Kind: condition.KindAmount, Operator: condition.OpEquals, Value: []any{1}},
		{Kind: condition.KindAmount, Operator: "ROUGHLY", Value: 1},
	}
	for _, c := range invalid {
		err := condition.Validate(c)
		errutil.AssertErrorCode(t, err, "CONDITION_INVALID")
		errutil.AssertErrorKind(t, err, errutil.KindValidation)
	}
}
