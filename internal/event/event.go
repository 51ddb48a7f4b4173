// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package event carries the notifications the decision point emits for
// collaborators such as audit trails and dashboards.
package event

import (
	"time"

	"github.com/aegis-pdp/aegis/internal/ids"
)

// Kind identifies an event type.
type Kind string

// Event kinds.
const (
	KindUserCreated          Kind = "userCreated"
	KindUserAuthenticated    Kind = "userAuthenticated"
	KindAccountLocked        Kind = "accountLocked"
	KindUserLoggedOut        Kind = "userLoggedOut"
	KindRoleAssigned         Kind = "roleAssigned"
	KindRoleRemoved          Kind = "roleRemoved"
	KindRoleCreated          Kind = "roleCreated"
	KindPermissionCreated    Kind = "permissionCreated"
	KindPolicyCreated        Kind = "policyCreated"
	KindAccessRequested      Kind = "accessRequested"
	KindSessionsCleaned      Kind = "sessionsCleaned"
	KindConfigUpdated        Kind = "configUpdated"
	KindAccessControlStopped Kind = "accessControlStopped"
)

// Kinds lists every event kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindUserCreated, KindUserAuthenticated, KindAccountLocked, KindUserLoggedOut,
		KindRoleAssigned, KindRoleRemoved, KindRoleCreated, KindPermissionCreated,
		KindPolicyCreated, KindAccessRequested, KindSessionsCleaned, KindConfigUpdated,
		KindAccessControlStopped,
	}
}

// Event is a single notification. Payload holds one of the payload structs
// below, matching Kind.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// New stamps a payload with a fresh ID and the given time.
func New(kind Kind, at time.Time, payload any) Event {
	return Event{
		ID:        ids.New(),
		Kind:      kind,
		Timestamp: at,
		Payload:   payload,
	}
}

// UserCreated is the payload of KindUserCreated.
type UserCreated struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// UserAuthenticated is the payload of KindUserAuthenticated. SessionID is
// empty when session management is disabled.
type UserAuthenticated struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	SessionID string `json:"session_id,omitempty"`
}

// AccountLocked is the payload of KindAccountLocked.
type AccountLocked struct {
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	Reason         string `json:"reason"`
	FailedAttempts int    `json:"failed_attempts"`
}

// UserLoggedOut is the payload of KindUserLoggedOut.
type UserLoggedOut struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// RoleAssignment is the payload of KindRoleAssigned and KindRoleRemoved.
type RoleAssignment struct {
	UserID   string `json:"user_id"`
	RoleID   string `json:"role_id"`
	RoleName string `json:"role_name"`
}

// RoleCreated is the payload of KindRoleCreated.
type RoleCreated struct {
	RoleID string `json:"role_id"`
	Name   string `json:"name"`
}

// PermissionCreated is the payload of KindPermissionCreated.
type PermissionCreated struct {
	PermissionID string `json:"permission_id"`
	Resource     string `json:"resource"`
	Action       string `json:"action"`
}

// PolicyCreated is the payload of KindPolicyCreated.
type PolicyCreated struct {
	PolicyID string `json:"policy_id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// AccessRequested is the payload of KindAccessRequested.
type AccessRequested struct {
	RequestID string         `json:"request_id,omitempty"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id,omitempty"`
	Resource  string         `json:"resource"`
	Action    string         `json:"action"`
	Context   map[string]any `json:"context,omitempty"`
	Granted   bool           `json:"granted"`
	Reason    string         `json:"reason,omitempty"`
	PolicyID  string         `json:"policy_id,omitempty"`
}

// SessionsCleaned is the payload of KindSessionsCleaned.
type SessionsCleaned struct {
	Count int `json:"count"`
}

// ConfigUpdated is the payload of KindConfigUpdated. Config holds the new
// configuration value.
type ConfigUpdated struct {
	Config any `json:"config"`
}

// AccessControlStopped is the payload of KindAccessControlStopped.
type AccessControlStopped struct{}
