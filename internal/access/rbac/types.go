// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package rbac maintains roles and permissions and resolves a user's
// effective permission set.
package rbac

import (
	"slices"
	"time"

	"github.com/aegis-pdp/aegis/internal/access/condition"
)

// Permission grants one (resource, action) pair. Resource and Action are
// glob patterns with ':' as the separator: "documents:*" matches
// "documents:42", "**" crosses separators and a bare "*" matches any value.
type Permission struct {
	ID          string                `json:"id" yaml:"id" jsonschema:"required"`
	Resource    string                `json:"resource" yaml:"resource" jsonschema:"required"`
	Action      string                `json:"action" yaml:"action" jsonschema:"required"`
	Description string                `json:"description,omitempty" yaml:"description,omitempty"`
	Conditions  []condition.Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Active      bool                  `json:"active" yaml:"active"`
	CreatedAt   time.Time             `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at" yaml:"updated_at"`
}

// Role groups permissions. InheritsFrom lists parent roles whose permissions
// this role also carries.
type Role struct {
	ID           string    `json:"id" yaml:"id" jsonschema:"required"`
	Name         string    `json:"name" yaml:"name" jsonschema:"required"`
	Description  string    `json:"description,omitempty" yaml:"description,omitempty"`
	Permissions  []string  `json:"permissions" yaml:"permissions"`
	InheritsFrom []string  `json:"inherits_from,omitempty" yaml:"inherits_from,omitempty"`
	Active       bool      `json:"active" yaml:"active"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep copy.
func (r Role) Clone() Role {
	r.Permissions = slices.Clone(r.Permissions)
	r.InheritsFrom = slices.Clone(r.InheritsFrom)
	return r
}

// Clone returns a deep copy. Condition values are shared; they are never mutated.
func (p Permission) Clone() Permission {
	p.Conditions = slices.Clone(p.Conditions)
	return p
}

// NewPermission is the input to Graph.CreatePermission.
type NewPermission struct {
	Resource    string
	Action      string
	Description string
	Conditions  []condition.Condition
}

// NewRole is the input to Graph.CreateRole.
type NewRole struct {
	Name         string
	Description  string
	Permissions  []string
	InheritsFrom []string
}
