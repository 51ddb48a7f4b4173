// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package policy_test

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-pdp/aegis/internal/access/condition"
	"github.com/aegis-pdp/aegis/internal/access/policy"
	"github.com/aegis-pdp/aegis/internal/access/rbac"
	"github.com/aegis-pdp/aegis/internal/event"
	"github.com/aegis-pdp/aegis/internal/ids"
	"github.com/aegis-pdp/aegis/internal/store"
	"github.com/aegis-pdp/aegis/pkg/errutil"
)

func newEngine(t *testing.T, opts ...policy.Option) (*policy.Engine, *store.Memory[policy.Policy], *event.Buffer) {
	t.Helper()
	st := store.NewMemory[policy.Policy](store.KindPolicies)
	buf := event.NewBuffer(nil)
	e, err := policy.NewEngine(context.Background(), st, rbac.NewMatcher(), buf, opts...)
	require.NoError(t, err)
	return e, st, buf
}

func create(t *testing.T, e *policy.Engine, name string, priority int, rules ...policy.Rule) policy.Policy {
	t.Helper()
	p, err := e.CreatePolicy(context.Background(), policy.NewPolicy{Name: name, Priority: priority, Rules: rules})
	require.NoError(t, err)
	return p
}

func at(hour int) condition.Request {
	return condition.Request{Now: time.Date(2026, 3, 4, hour, 0, 0, 0, time.UTC)}
}

func TestEvaluate_NoPolicyGrants(t *testing.T) {
	e, _, _ := newEngine(t)
	d := e.Evaluate("documents", "read", at(12))
	assert.True(t, d.Granted())
	assert.Equal(t, policy.ReasonNoPolicy, d.Reason)
	assert.Empty(t, d.PolicyID)
	assert.NoError(t, d.Err())
}

func TestEvaluate_BusinessHours(t *testing.T) {
	e, _, _ := newEngine(t)
	p := create(t, e, "business-hours", 100,
		policy.Rule{Resource: "transactions", Action: "write", Effect: policy.EffectDeny,
			Conditions: []condition.Condition{{Kind: condition.KindTime, Operator: condition.OpLessThan, Value: 9}}},
		policy.Rule{Resource: "transactions", Action: "write", Effect: policy.EffectDeny,
			Conditions: []condition.Condition{{Kind: condition.KindTime, Operator: condition.OpGreaterThan, Value: 17}}},
	)

	night := e.Evaluate("transactions", "write", at(2))
	assert.False(t, night.Granted())
	assert.Equal(t, "Access denied by policy: business-hours", night.Reason)
	assert.Equal(t, p.ID, night.PolicyID)
	errutil.AssertErrorCode(t, night.Err(), policy.CodeAccessDenied)
	errutil.AssertErrorKind(t, night.Err(), errutil.KindAuthorization)

	day := e.Evaluate("transactions", "write", at(14))
	assert.True(t, day.Granted())
	assert.Empty(t, day.PolicyID)

	evening := e.Evaluate("transactions", "write", at(20))
	assert.False(t, evening.Granted())

	assert.True(t, e.Evaluate("transactions", "read", at(2)).Granted(), "non-matching action is not applicable")
}

func TestEvaluate_PriorityOrder(t *testing.T) {
	e, _, _ := newEngine(t)
	create(t, e, "low-deny", 10, policy.Rule{Resource: "docs:*", Action: "*", Effect: policy.EffectDeny})
	high := create(t, e, "high-allow", 50, policy.Rule{Resource: "docs:*", Action: "read", Effect: policy.EffectAllow})

	d := e.Evaluate("docs:1", "read", at(12))
	assert.True(t, d.Granted())
	assert.Equal(t, high.ID, d.PolicyID)
	assert.Equal(t, "Access granted by policy: high-allow", d.Reason)

	d = e.Evaluate("docs:1", "write", at(12))
	assert.False(t, d.Granted())
	assert.Equal(t, "Access denied by policy: low-deny", d.Reason)
}

func TestEvaluate_TiesKeepCreationOrder(t *testing.T) {
	e, _, _ := newEngine(t)
	first := create(t, e, "first", 5, policy.Rule{Resource: "r", Action: "a", Effect: policy.EffectDeny})
	create(t, e, "second", 5, policy.Rule{Resource: "r", Action: "a", Effect: policy.EffectAllow})

	for range 10 {
		d := e.Evaluate("r", "a", at(12))
		assert.False(t, d.Granted())
		assert.Equal(t, first.ID, d.PolicyID)
	}
}

func TestEvaluate_RulesWithinPolicyInOrder(t *testing.T) {
	e, _, _ := newEngine(t)
	create(t, e, "mixed", 1,
		policy.Rule{Resource: "payments", Action: "approve", Effect: policy.EffectAllow,
			Conditions: []condition.Condition{{Kind: condition.KindAmount, Operator: condition.OpLessThan, Value: 1000}}},
		policy.Rule{Resource: "payments", Action: "approve", Effect: policy.EffectDeny},
	)
	small := condition.Request{Attributes: map[string]any{"amount": 10}}
	large := condition.Request{Attributes: map[string]any{"amount": 5000}}
	assert.True(t, e.Evaluate("payments", "approve", small).Granted())
	assert.False(t, e.Evaluate("payments", "approve", large).Granted())
}

func TestEvaluate_InactivePolicySkipped(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)
	p := create(t, e, "deny-all", 1, policy.Rule{Resource: "*", Action: "*", Effect: policy.EffectDeny})
	require.False(t, e.Evaluate("x", "y", at(1)).Granted())

	_, err := e.SetPolicyActive(ctx, p.ID, false)
	require.NoError(t, err)
	assert.True(t, e.Evaluate("x", "y", at(1)).Granted())
	assert.Empty(t, e.Snapshot().Policies)

	_, err = e.SetPolicyActive(ctx, p.ID, true)
	require.NoError(t, err)
	assert.False(t, e.Evaluate("x", "y", at(1)).Granted())

	_, err = e.SetPolicyActive(ctx, "missing", true)
	errutil.AssertErrorCode(t, err, policy.CodePolicyNotFound)
}

func TestSnapshot_IsReplacedNotMutated(t *testing.T) {
	e, _, _ := newEngine(t)
	before := e.Snapshot()
	create(t, e, "p", 1, policy.Rule{Resource: "r", Action: "a", Effect: policy.EffectAllow})
	after := e.Snapshot()
	assert.Empty(t, before.Policies)
	assert.Len(t, after.Policies, 1)
}

func TestCreatePolicy_Validation(t *testing.T) {
	e, st, buf := newEngine(t)
	ctx := context.Background()
	tests := []struct {
		name string
		in   policy.NewPolicy
		code string
	}{
		{"empty name", policy.NewPolicy{Name: " ", Rules: []policy.Rule{{Resource: "r", Action: "a", Effect: policy.EffectAllow}}}, policy.CodeInvalidPolicy},
		{"no rules", policy.NewPolicy{Name: "p"}, policy.CodeInvalidPolicy},
		{"bad effect", policy.NewPolicy{Name: "p", Rules: []policy.Rule{{Resource: "r", Action: "a", Effect: "MAYBE"}}}, policy.CodeInvalidPolicy},
		{"empty resource", policy.NewPolicy{Name: "p", Rules: []policy.Rule{{Action: "a", Effect: policy.EffectAllow}}}, "RBAC_INVALID_PATTERN"},
		{"bad condition", policy.NewPolicy{Name: "p", Rules: []policy.Rule{{Resource: "r", Action: "a", Effect: policy.EffectAllow,
			Conditions: []condition.Condition{{Kind: condition.KindTime, Operator: condition.OpBetween, Value: 3}}}}}, "CONDITION_INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.CreatePolicy(ctx, tt.in)
			errutil.AssertErrorCode(t, err, tt.code)
			errutil.AssertErrorKind(t, err, errutil.KindValidation)
		})
	}
	assert.Zero(t, st.Len())
	assert.Empty(t, buf.Drain())
}

func TestCreatePolicy_PersistsAndEmits(t *testing.T) {
	e, st, buf := newEngine(t)
	p := create(t, e, "p", 7, policy.Rule{Resource: "r", Action: "a", Effect: policy.EffectAllow})

	stored, err := st.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "p", stored.Name)
	assert.True(t, stored.Active)

	evs := buf.Drain()
	require.Len(t, evs, 1)
	assert.Equal(t, event.KindPolicyCreated, evs[0].Kind)
	assert.Equal(t, event.PolicyCreated{PolicyID: p.ID, Name: "p", Priority: 7}, evs[0].Payload)

	_, err = e.CreatePolicy(context.Background(), policy.NewPolicy{Name: "P", Rules: p.Rules})
	errutil.AssertErrorCode(t, err, policy.CodePolicyNameTaken)
}

func TestNewEngine_LoadsStoredPolicies(t *testing.T) {
	e, st, _ := newEngine(t)
	create(t, e, "deny", 1, policy.Rule{Resource: "r", Action: "a", Effect: policy.EffectDeny})

	reloaded, err := policy.NewEngine(context.Background(), st, rbac.NewMatcher(), event.Discard)
	require.NoError(t, err)
	assert.False(t, reloaded.Evaluate("r", "a", at(1)).Granted())
	assert.Len(t, reloaded.Policies(), 1)
}

func TestRestore(t *testing.T) {
	src, _, _ := newEngine(t)
	p := create(t, src, "p", 3, policy.Rule{Resource: "r", Action: "a", Effect: policy.EffectDeny})

	dst, st, _ := newEngine(t)
	require.NoError(t, dst.Restore(context.Background(), src.Policies()))
	got, ok := dst.Policy(p.ID)
	require.True(t, ok)
	assert.Equal(t, p.CreatedAt, got.CreatedAt)
	assert.False(t, dst.Evaluate("r", "a", at(1)).Granted())

	bad := p
	bad.ID = "not-a-ulid"
	other, st2, _ := newEngine(t)
	err := other.Restore(context.Background(), []policy.Policy{bad})
	errutil.AssertErrorCode(t, err, "INVALID_ID")
	assert.Zero(t, st2.Len())
	assert.Equal(t, 1, st.Len())
}

func TestRestore_AppliesCreateChecks(t *testing.T) {
	allow := []policy.Rule{{Resource: "r", Action: "a", Effect: policy.EffectAllow}}
	tests := []struct {
		name     string
		policies []policy.Policy
		code     string
		kind     errutil.Kind
	}{
		{
			name:     "name clashes with an existing policy",
			policies: []policy.Policy{{ID: ids.New(), Name: "NIGHT", Rules: allow, Active: true}},
			code:     policy.CodePolicyNameTaken,
			kind:     errutil.KindConflict,
		},
		{
			name: "names clash within the bundle",
			policies: []policy.Policy{
				{ID: ids.New(), Name: "weekend", Rules: allow, Active: true},
				{ID: ids.New(), Name: "Weekend", Rules: allow, Active: true},
			},
			code: policy.CodePolicyNameTaken,
			kind: errutil.KindConflict,
		},
		{
			name:     "malformed rule glob",
			policies: []policy.Policy{{ID: ids.New(), Name: "glob", Rules: []policy.Rule{{Resource: "[", Action: "a", Effect: policy.EffectDeny}}}},
			code:     "RBAC_INVALID_PATTERN",
			kind:     errutil.KindValidation,
		},
		{
			name:     "no rules",
			policies: []policy.Policy{{ID: ids.New(), Name: "empty"}},
			code:     policy.CodeInvalidPolicy,
			kind:     errutil.KindValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, st, _ := newEngine(t)
			create(t, e, "night", 1, policy.Rule{Resource: "r", Action: "a", Effect: policy.EffectDeny})
			bystander := policy.Policy{ID: ids.New(), Name: "bystander", Rules: allow, Active: true}
			restored := append(slices.Clone(tt.policies), bystander)

			err := e.CheckRestore(restored)
			errutil.AssertErrorCode(t, err, tt.code)

			err = e.Restore(context.Background(), restored)
			errutil.AssertErrorCode(t, err, tt.code)
			errutil.AssertErrorKind(t, err, tt.kind)
			assert.Equal(t, 1, st.Len(), "nothing written on failure")
			assert.Len(t, e.Policies(), 1)
		})
	}
}

func TestRestore_ReplacingKeepsItsOwnName(t *testing.T) {
	e, _, _ := newEngine(t)
	p := create(t, e, "night", 1, policy.Rule{Resource: "r", Action: "a", Effect: policy.EffectDeny})

	p.Name = "Night"
	p.Priority = 5
	require.NoError(t, e.Restore(context.Background(), []policy.Policy{p}))
	got, ok := e.PolicyByName("night")
	require.True(t, ok)
	assert.Equal(t, 5, got.Priority)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := policy.NewMetrics(reg)
	e, _, _ := newEngine(t, policy.WithMetrics(m))
	create(t, e, "deny-writes", 1, policy.Rule{Resource: "*", Action: "write", Effect: policy.EffectDeny})

	e.Evaluate("r", "write", at(1))
	e.Evaluate("r", "read", at(1))
	e.Evaluate("r", "read", at(1))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["aegis_policy_evaluate_duration_seconds"])
	assert.True(t, names["aegis_policy_evaluations_total"])

	n, err := testutil.GatherAndCount(reg, "aegis_policy_active")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.InDelta(t, 1, gaugeValue(t, reg, "aegis_policy_active"), 0)
	assert.InDelta(t, 2, counterValue(t, reg, "default_allow"), 0)
	assert.InDelta(t, 1, counterValue(t, reg, "deny"), 0)
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func counterValue(t *testing.T, reg *prometheus.Registry, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "aegis_policy_evaluations_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
