// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package pdp

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aegis-pdp/aegis/internal/auth"
	"github.com/aegis-pdp/aegis/internal/event"
	"github.com/aegis-pdp/aegis/pkg/errutil"
)

// Login is the result of a successful authentication. Session is nil when
// session management is disabled.
type Login struct {
	UserID   string              `json:"user_id"`
	Username string              `json:"username"`
	Session  *auth.IssuedSession `json:"session,omitempty"`
}

// CreateUser registers a new active user. Role IDs must exist.
func (s *Service) CreateUser(ctx context.Context, in auth.NewUser) (auth.User, error) {
	s.mu.Lock()
	user, err := s.createUser(ctx, in)
	s.mu.Unlock()
	s.flush()
	if err != nil {
		return auth.User{}, err
	}
	return user.Redacted(), nil
}

func (s *Service) createUser(ctx context.Context, in auth.NewUser) (auth.User, error) {
	if err := s.graph.RequireRoles(in.Roles); err != nil {
		return auth.User{}, err
	}
	user, err := s.users.Create(ctx, in)
	if err != nil {
		return auth.User{}, err
	}
	s.recompute(&user)
	if err := s.users.Save(ctx, user); err != nil {
		return auth.User{}, err
	}
	return user, nil
}

// Authenticate verifies credentials and, when session management is
// enabled, issues a session. mfaCode is only consulted for users with MFA
// enabled while MFA is enabled in the configuration.
func (s *Service) Authenticate(ctx context.Context, username, password, mfaCode string) (Login, error) {
	ctx, span := tracer.Start(ctx, "pdp.Authenticate")
	defer span.End()

	s.mu.Lock()
	login, err := s.authenticate(ctx, username, password, mfaCode)
	s.mu.Unlock()
	s.flush()

	result := "ok"
	if err != nil {
		result = errutil.Code(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	} else {
		span.SetAttributes(attribute.String("user.id", login.UserID))
	}
	s.metrics.authentications.WithLabelValues(result).Inc()
	return login, err
}

func (s *Service) authenticate(ctx context.Context, username, password, mfaCode string) (Login, error) {
	user, err := s.users.VerifyCredentials(ctx, username, password, mfaCode)
	if err != nil {
		return Login{}, err
	}

	login := Login{UserID: user.ID, Username: user.Username}
	if s.cfg.EnableSessionManagement {
		issued, err := s.sessions.Create(ctx, user.ID)
		if err != nil {
			return Login{}, err
		}
		login.Session = &issued
	}

	var sessionID string
	if login.Session != nil {
		sessionID = login.Session.Session.ID
	}
	s.logger.Info("user authenticated", "user_id", user.ID, "session_id", sessionID)
	s.pending.Emit(event.KindUserAuthenticated, event.UserAuthenticated{
		UserID:    user.ID,
		Username:  user.Username,
		SessionID: sessionID,
	})
	return login, nil
}

// ChangePassword replaces a user's credential after verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users.ChangePassword(ctx, userID, current, next)
}

// EnrollMFA generates a TOTP secret for the user. MFA is enforced only after
// ConfirmMFA succeeds.
func (s *Service) EnrollMFA(ctx context.Context, userID string) (secret, url string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users.EnrollMFA(ctx, userID)
}

// ConfirmMFA enables MFA once code matches the enrolled secret.
func (s *Service) ConfirmMFA(ctx context.Context, userID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users.ConfirmMFA(ctx, userID, code)
}

// DisableMFA turns MFA off for the user.
func (s *Service) DisableMFA(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users.DisableMFA(ctx, userID)
}

// UnlockUser clears the lockout state of a user.
func (s *Service) UnlockUser(ctx context.Context, userID string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, err := s.users.Unlock(ctx, userID)
	if err != nil {
		return auth.User{}, err
	}
	return user.Redacted(), nil
}

// SetUserActive activates or deactivates a user. Deactivation ends every
// session the user holds.
func (s *Service) SetUserActive(ctx context.Context, userID string, active bool) (auth.User, error) {
	s.mu.Lock()
	user, err := s.setUserActive(ctx, userID, active)
	s.mu.Unlock()
	s.flush()
	if err != nil {
		return auth.User{}, err
	}
	return user.Redacted(), nil
}

func (s *Service) setUserActive(ctx context.Context, userID string, active bool) (auth.User, error) {
	user, err := s.users.SetActive(ctx, userID, active)
	if err != nil {
		return auth.User{}, err
	}
	if !active {
		n, err := s.sessions.LogoutAll(ctx, userID)
		if err != nil {
			return auth.User{}, err
		}
		s.logger.Info("user deactivated", "user_id", userID, "sessions_ended", n)
	}
	return user, nil
}

// AssignRole adds a role to a user. Assigning a role the user already has
// changes nothing and emits nothing.
func (s *Service) AssignRole(ctx context.Context, userID, roleID string) error {
	s.mu.Lock()
	err := s.changeRole(ctx, userID, roleID, true)
	s.mu.Unlock()
	s.flush()
	return err
}

// RemoveRole removes a role from a user. Removing a role the user does not
// have changes nothing and emits nothing.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID string) error {
	s.mu.Lock()
	err := s.changeRole(ctx, userID, roleID, false)
	s.mu.Unlock()
	s.flush()
	return err
}

func (s *Service) changeRole(ctx context.Context, userID, roleID string, assign bool) error {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	role, ok := s.graph.Role(roleID)
	if !ok {
		return s.graph.RequireRoles([]string{roleID})
	}

	var changed bool
	if assign {
		changed = user.AddRole(roleID)
	} else {
		changed = user.RemoveRole(roleID)
	}
	if !changed {
		return nil
	}
	s.recompute(&user)
	if err := s.users.Save(ctx, user); err != nil {
		return err
	}

	kind := event.KindRoleRemoved
	if assign {
		kind = event.KindRoleAssigned
	}
	s.logger.Info("role assignment changed", "user_id", userID, "role_id", roleID, "assigned", assign)
	s.pending.Emit(kind, event.RoleAssignment{UserID: userID, RoleID: roleID, RoleName: role.Name})
	return nil
}

// GrantPermission grants a permission to a user directly. It is idempotent.
func (s *Service) GrantPermission(ctx context.Context, userID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changeGrant(ctx, userID, permissionID, true)
}

// RevokePermission removes a direct grant. It is idempotent.
func (s *Service) RevokePermission(ctx context.Context, userID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changeGrant(ctx, userID, permissionID, false)
}

func (s *Service) changeGrant(ctx context.Context, userID, permissionID string, grant bool) error {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.graph.RequirePermissions([]string{permissionID}); err != nil {
		return err
	}
	var changed bool
	if grant {
		changed = user.Grant(permissionID)
	} else {
		changed = user.Revoke(permissionID)
	}
	if !changed {
		return nil
	}
	s.recompute(&user)
	if err := s.users.Save(ctx, user); err != nil {
		return err
	}
	s.logger.Info("direct permission changed", "user_id", userID, "permission_id", permissionID, "granted", grant)
	return nil
}

// GetUser returns a user without credential material.
func (s *Service) GetUser(ctx context.Context, userID string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return auth.User{}, err
	}
	return s.fresh(user).Redacted(), nil
}

// GetUserByUsername looks a user up by name, case-insensitively.
func (s *Service) GetUserByUsername(ctx context.Context, username string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return auth.User{}, err
	}
	return s.fresh(user).Redacted(), nil
}

// ListUsers returns every user without credential material.
func (s *Service) ListUsers(ctx context.Context) ([]auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i] = s.fresh(users[i]).Redacted()
	}
	return users, nil
}

// recompute refreshes the cached effective permission set. Callers hold the
// write lock.
func (s *Service) recompute(user *auth.User) {
	user.Permissions = s.graph.Effective(user.Roles, user.DirectPermissions)
	user.PermissionsGeneration = s.graph.Generation()
}

// fresh returns user with an up-to-date permission set without persisting
// it. Callers hold at least the read lock.
func (s *Service) fresh(user auth.User) auth.User {
	if user.PermissionsGeneration != s.graph.Generation() {
		s.recompute(&user)
	}
	return user
}
