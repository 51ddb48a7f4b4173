// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package pdp

import (
	"context"

	"github.com/aegis-pdp/aegis/internal/auth"
	"github.com/aegis-pdp/aegis/pkg/errutil"
)

func sessionsDisabled() error {
	return errutil.Authentication(auth.CodeSessionsDisabled).Errorf("session management is disabled")
}

// ValidateSession returns the active session for an access token and
// records the access. It fails when session management is disabled.
func (s *Service) ValidateSession(ctx context.Context, token string) (auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.EnableSessionManagement {
		return auth.Session{}, sessionsDisabled()
	}
	return s.sessions.Validate(ctx, token)
}

// RefreshSession rotates both tokens of a live session and extends it.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (auth.IssuedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.EnableSessionManagement {
		return auth.IssuedSession{}, sessionsDisabled()
	}
	return s.sessions.Refresh(ctx, refreshToken)
}

// Logout ends the session for token. It reports false for unknown or
// already-ended sessions.
func (s *Service) Logout(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	ok, err := s.sessions.Logout(ctx, token)
	s.mu.Unlock()
	s.flush()
	return ok, err
}

// LogoutAll ends every session of a user and returns how many ended.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	n, err := s.sessions.LogoutAll(ctx, userID)
	s.mu.Unlock()
	s.flush()
	return n, err
}

// ActiveSessions returns the live sessions of a user.
func (s *Service) ActiveSessions(ctx context.Context, userID string) ([]auth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions.Active(ctx, userID)
}
