// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package auth

import (
	"net/mail"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/aegis-pdp/aegis/pkg/errutil"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// User is an account. JSON field names are part of the storage format.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`

	Roles             []string `json:"roles"`
	DirectPermissions []string `json:"direct_permissions"`

	// Permissions is the cached effective permission set, computed at
	// PermissionsGeneration of the role graph.
	Permissions           []string `json:"permissions"`
	PermissionsGeneration uint64   `json:"permissions_generation"`

	Active         bool `json:"active"`
	Locked         bool `json:"locked"`
	FailedAttempts int  `json:"failed_attempts"`

	MFAEnabled bool   `json:"mfa_enabled"`
	MFASecret  string `json:"mfa_secret,omitempty"`

	// PasswordHistory holds previous hashes, newest first.
	PasswordHistory []string `json:"password_history,omitempty"`

	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	PasswordChangedAt time.Time  `json:"password_changed_at"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
}

// Clone returns a deep copy.
func (u User) Clone() User {
	u.Roles = slices.Clone(u.Roles)
	u.DirectPermissions = slices.Clone(u.DirectPermissions)
	u.Permissions = slices.Clone(u.Permissions)
	u.PasswordHistory = slices.Clone(u.PasswordHistory)
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		u.LastLoginAt = &t
	}
	return u
}

// Redacted returns a deep copy without credential material.
func (u User) Redacted() User {
	u = u.Clone()
	u.PasswordHash = ""
	u.MFASecret = ""
	u.PasswordHistory = nil
	return u
}

// HasRole reports whether roleID is assigned.
func (u *User) HasRole(roleID string) bool {
	return slices.Contains(u.Roles, roleID)
}

// AddRole assigns roleID, reporting whether it was newly added.
func (u *User) AddRole(roleID string) bool {
	if u.HasRole(roleID) {
		return false
	}
	u.Roles = append(u.Roles, roleID)
	return true
}

// RemoveRole unassigns roleID, reporting whether it was present.
func (u *User) RemoveRole(roleID string) bool {
	i := slices.Index(u.Roles, roleID)
	if i < 0 {
		return false
	}
	u.Roles = slices.Delete(u.Roles, i, i+1)
	return true
}

// Grant adds a direct permission grant, reporting whether it was newly added.
func (u *User) Grant(permissionID string) bool {
	if slices.Contains(u.DirectPermissions, permissionID) {
		return false
	}
	u.DirectPermissions = append(u.DirectPermissions, permissionID)
	return true
}

// Revoke removes a direct permission grant, reporting whether it was present.
func (u *User) Revoke(permissionID string) bool {
	i := slices.Index(u.DirectPermissions, permissionID)
	if i < 0 {
		return false
	}
	u.DirectPermissions = slices.Delete(u.DirectPermissions, i, i+1)
	return true
}

// HasPermission reports whether permissionID is in the cached effective set.
func (u *User) HasPermission(permissionID string) bool {
	return slices.Contains(u.Permissions, permissionID)
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	if username == "" {
		return errutil.Validation(CodeInvalidUsername).Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return errutil.Validation(CodeInvalidUsername).
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return errutil.Validation(CodeInvalidUsername).
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return errutil.Validation(CodeInvalidUsername).
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// ValidateEmail checks that email is a bare address such as a@b.example.
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return errutil.Validation(CodeInvalidEmail).
			With("email", email).
			Errorf("invalid email address")
	}
	return nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
