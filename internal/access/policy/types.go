// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package policy evaluates attribute-based access policies. Policies are
// ordered by priority and the first rule that fires decides; when nothing
// fires the request is allowed, since role-based checks have already passed.
package policy

import (
	"slices"
	"strings"
	"time"

	"github.com/aegis-pdp/aegis/internal/access/condition"
	"github.com/aegis-pdp/aegis/internal/access/rbac"
	"github.com/aegis-pdp/aegis/pkg/errutil"
)

// Effect is the outcome a rule produces when it fires.
type Effect string

// Effects.
const (
	EffectAllow Effect = "ALLOW"
	EffectDeny  Effect = "DENY"
)

// Valid reports whether e is a known effect.
func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// Rule fires when resource and action match and every condition holds.
// An empty condition list always holds.
type Rule struct {
	Resource   string                `json:"resource" yaml:"resource" jsonschema:"required"`
	Action     string                `json:"action" yaml:"action" jsonschema:"required"`
	Conditions []condition.Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Effect     Effect                `json:"effect" yaml:"effect" jsonschema:"required,enum=ALLOW,enum=DENY"`
}

// Policy is a named, prioritised list of rules. Higher priorities are
// evaluated first.
type Policy struct {
	ID          string    `json:"id" yaml:"id" jsonschema:"required"`
	Name        string    `json:"name" yaml:"name" jsonschema:"required"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Rules       []Rule    `json:"rules" yaml:"rules" jsonschema:"required,minItems=1"`
	Priority    int       `json:"priority" yaml:"priority"`
	Active      bool      `json:"active" yaml:"active"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a copy that shares no slices with p.
func (p Policy) Clone() Policy {
	p.Rules = slices.Clone(p.Rules)
	for i := range p.Rules {
		p.Rules[i].Conditions = slices.Clone(p.Rules[i].Conditions)
	}
	return p
}

// NewPolicy is the input to Engine.CreatePolicy.
type NewPolicy struct {
	Name        string
	Description string
	Rules       []Rule
	Priority    int
}

// Validation codes.
const (
	CodeInvalidPolicy  = "POLICY_INVALID"
	CodePolicyNotFound = "POLICY_NOT_FOUND"
)

// validatePolicy checks the name, every rule pattern, effect and condition.
func validatePolicy(m *rbac.Matcher, name string, rules []Rule) error {
	if strings.TrimSpace(name) == "" {
		return errutil.Validation(CodeInvalidPolicy).Errorf("policy name cannot be empty")
	}
	if len(rules) == 0 {
		return errutil.Validation(CodeInvalidPolicy).
			With("name", name).
			Errorf("policy must have at least one rule")
	}
	for i, r := range rules {
		if !r.Effect.Valid() {
			return errutil.Validation(CodeInvalidPolicy).
				With("name", name).
				With("rule", i).
				With("effect", string(r.Effect)).
				Errorf("rule effect must be ALLOW or DENY")
		}
		if err := m.ValidatePattern("resource", r.Resource); err != nil {
			return err
		}
		if err := m.ValidatePattern("action", r.Action); err != nil {
			return err
		}
		for _, c := range r.Conditions {
			if err := condition.Validate(c); err != nil {
				return err
			}
		}
	}
	return nil
}
