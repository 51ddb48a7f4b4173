// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package condition evaluates typed access conditions against a request.
//
// Evaluation is pure: it never errors and never panics. Missing attributes
// and type mismatches make a predicate false, with one exception: a condition
// of an unrecognised kind evaluates to true. That keeps rules written before a
// new kind existed from suddenly denying; operators wanting fail-closed
// behaviour should reject unknown kinds when policies are created.
package condition

import (
	"reflect"
	"time"

	"github.com/aegis-pdp/aegis/pkg/errutil"
)

// Kind selects where the compared value comes from.
type Kind string

// Condition kinds. TIME reads the hour of day (0-23) of the evaluation time;
// the others read the request attribute named by the lower-cased kind.
const (
	KindTime      Kind = "TIME"
	KindIP        Kind = "IP"
	KindLocation  Kind = "LOCATION"
	KindDevice    Kind = "DEVICE"
	KindAmount    Kind = "AMOUNT"
	KindFrequency Kind = "FREQUENCY"
)

// Operator compares the resolved value with the condition value.
type Operator string

// Operators.
const (
	OpEquals      Operator = "EQUALS"
	OpNotEquals   Operator = "NOT_EQUALS"
	OpGreaterThan Operator = "GREATER_THAN"
	OpLessThan    Operator = "LESS_THAN"
	OpBetween     Operator = "BETWEEN"
	OpIn          Operator = "IN"
	OpNotIn       Operator = "NOT_IN"
)

// Request attribute keys read by the non-TIME kinds.
const (
	AttrIP        = "ip"
	AttrLocation  = "location"
	AttrDevice    = "device"
	AttrAmount    = "amount"
	AttrFrequency = "frequency"
)

// Condition is a single predicate. Value is a scalar, a two-element list for
// BETWEEN, or a list for IN and NOT_IN.
type Condition struct {
	Kind     Kind     `json:"type" yaml:"type" jsonschema:"required,enum=TIME,enum=IP,enum=LOCATION,enum=DEVICE,enum=AMOUNT,enum=FREQUENCY"`
	Operator Operator `json:"operator" yaml:"operator" jsonschema:"required,enum=EQUALS,enum=NOT_EQUALS,enum=GREATER_THAN,enum=LESS_THAN,enum=BETWEEN,enum=IN,enum=NOT_IN"`
	Value    any      `json:"value" yaml:"value"`
}

// Request is what conditions are evaluated against.
type Request struct {
	// Subject is the requesting user ID.
	Subject string
	// Attributes is the caller-supplied context.
	Attributes map[string]any
	// Now is the evaluation time.
	Now time.Time
}

// Evaluate reports whether c holds for req.
func Evaluate(c Condition, req Request) bool {
	actual, known := resolve(c.Kind, req)
	if !known {
		// Unknown kinds are permissive; see the package comment.
		return true
	}
	return apply(c.Operator, actual, c.Value)
}

// All reports whether every condition holds. An empty list holds.
func All(conds []Condition, req Request) bool {
	for _, c := range conds {
		if !Evaluate(c, req) {
			return false
		}
	}
	return true
}

// Validate checks the operator and the shape of the value. Kinds are not
// checked so that unknown kinds remain loadable.
func Validate(c Condition) error {
	switch c.Operator {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan:
		if isList(c.Value) {
			return invalid(c, "value must be a scalar")
		}
	case OpBetween:
		if l, ok := toList(c.Value); !ok || len(l) != 2 {
			return invalid(c, "BETWEEN needs a two-element list")
		}
	case OpIn, OpNotIn:
		if !isList(c.Value) {
			return invalid(c, "value must be a list")
		}
	default:
		return invalid(c, "unknown operator")
	}
	return nil
}

func invalid(c Condition, msg string) error {
	return errutil.Validation("CONDITION_INVALID").
		With("kind", string(c.Kind)).
		With("operator", string(c.Operator)).
		Errorf("invalid condition: %s", msg)
}

func resolve(kind Kind, req Request) (any, bool) {
	var key string
	switch kind {
	case KindTime:
		return req.Now.Hour(), true
	case KindIP:
		key = AttrIP
	case KindLocation:
		key = AttrLocation
	case KindDevice:
		key = AttrDevice
	case KindAmount:
		key = AttrAmount
	case KindFrequency:
		key = AttrFrequency
	default:
		return nil, false
	}
	return req.Attributes[key], true
}

func apply(op Operator, actual, expected any) bool {
	switch op {
	case OpEquals:
		return actual != nil && valuesEqual(actual, expected)
	case OpNotEquals:
		return actual == nil || !valuesEqual(actual, expected)
	case OpGreaterThan:
		c, ok := compare(actual, expected)
		return ok && c > 0
	case OpLessThan:
		c, ok := compare(actual, expected)
		return ok && c < 0
	case OpBetween:
		bounds, ok := toList(expected)
		if !ok || len(bounds) != 2 {
			return false
		}
		lo, okLo := compare(actual, bounds[0])
		hi, okHi := compare(actual, bounds[1])
		return okLo && okHi && lo >= 0 && hi <= 0
	case OpIn:
		set, ok := toList(expected)
		return ok && actual != nil && contains(set, actual)
	case OpNotIn:
		set, ok := toList(expected)
		return ok && (actual == nil || !contains(set, actual))
	default:
		return false
	}
}

// compare orders two numbers or two times. ok is false for any other pair.
func compare(a, b any) (int, bool) {
	if an, ok := toFloat64(a); ok {
		bn, ok := toFloat64(b)
		if !ok {
			return 0, false
		}
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		default:
			return 0, true
		}
	}
	at, aok := toTime(a)
	bt, bok := toTime(b)
	if aok && bok {
		return at.Compare(bt), true
	}
	return 0, false
}

// valuesEqual compares two values with numeric and time coercion.
func valuesEqual(a, b any) bool {
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	aStr, aIsStr := a.(string)
	bStr, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return aStr == bStr
	}
	aBool, aIsBool := a.(bool)
	bBool, bIsBool := b.(bool)
	if aIsBool && bIsBool {
		return aBool == bBool
	}
	return false
}

func contains(set []any, v any) bool {
	for _, e := range set {
		if valuesEqual(v, e) {
			return true
		}
	}
	return false
}

// toFloat64 attempts to convert a value to float64, handling all Go numeric
// types that may appear in attribute maps.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	default:
		return time.Time{}, false
	}
}

func isList(v any) bool {
	_, ok := toList(v)
	return ok
}

// toList converts any slice or array to []any.
func toList(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
