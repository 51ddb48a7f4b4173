// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/aegis-pdp/aegis/internal/event"
	"github.com/aegis-pdp/aegis/internal/ids"
	"github.com/aegis-pdp/aegis/internal/store"
	"github.com/aegis-pdp/aegis/pkg/errutil"
)

// SessionRetention is how long ended sessions are kept before a sweep purges them.
const SessionRetention = 24 * time.Hour

// Sessions manages the session lifecycle. Sessions are keyed by access-token
// hash; a second collection maps refresh-token hashes to access-token hashes.
type Sessions struct {
	sessions store.Store[Session]
	refresh  store.Store[string]
	events   event.Emitter
	timeout  time.Duration
	clock    func() time.Time
	logger   *slog.Logger
}

// SessionsOption configures Sessions.
type SessionsOption func(*Sessions)

// WithSessionClock sets the time source.
func WithSessionClock(clock func() time.Time) SessionsOption {
	return func(s *Sessions) { s.clock = clock }
}

// WithSessionLogger sets the logger.
func WithSessionLogger(logger *slog.Logger) SessionsOption {
	return func(s *Sessions) { s.logger = logger }
}

// NewSessions creates a session manager issuing sessions valid for timeout.
func NewSessions(sessions store.Store[Session], refresh store.Store[string], events event.Emitter, timeout time.Duration, opts ...SessionsOption) (*Sessions, error) {
	if sessions == nil {
		return nil, oops.Errorf("session store is required")
	}
	if refresh == nil {
		return nil, oops.Errorf("refresh index store is required")
	}
	if events == nil {
		return nil, oops.Errorf("event emitter is required")
	}
	if timeout <= 0 {
		return nil, oops.With("timeout", timeout.String()).Errorf("session timeout must be positive")
	}
	s := &Sessions{
		sessions: sessions,
		refresh:  refresh,
		events:   events,
		timeout:  timeout,
		clock:    time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetTimeout changes the lifetime of sessions issued from now on.
func (s *Sessions) SetTimeout(timeout time.Duration) {
	s.timeout = timeout
}

// Create issues a new session for userID.
func (s *Sessions) Create(ctx context.Context, userID string) (IssuedSession, error) {
	access, accessHash, err := GenerateSessionToken()
	if err != nil {
		return IssuedSession{}, err
	}
	refresh, refreshHash, err := GenerateSessionToken()
	if err != nil {
		return IssuedSession{}, err
	}

	now := s.clock()
	sess := Session{
		ID:             ids.New(),
		UserID:         userID,
		TokenHash:      accessHash,
		RefreshHash:    refreshHash,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.timeout),
		LastAccessedAt: now,
		Active:         true,
	}
	if err := s.save(ctx, sess); err != nil {
		return IssuedSession{}, err
	}

	s.logger.Debug("session created", "session_id", sess.ID, "user_id", userID)
	return IssuedSession{Session: sess, AccessToken: access, RefreshToken: refresh}, nil
}

// Validate returns the active session for token and records the access.
// A session found past its expiry is ended on the spot.
func (s *Sessions) Validate(ctx context.Context, token string) (Session, error) {
	sess, err := s.lookup(ctx, token)
	if err != nil {
		return Session{}, err
	}

	now := s.clock()
	if err := s.checkUsable(ctx, &sess, now); err != nil {
		return Session{}, err
	}

	sess.LastAccessedAt = now
	if err := s.sessions.Put(ctx, sess.TokenHash, sess); err != nil {
		return Session{}, oops.Code("SESSION_UPDATE_FAILED").With("session_id", sess.ID).Wrap(err)
	}
	return sess, nil
}

// Refresh rotates both tokens of the session owning refreshToken and extends
// its expiry. The old tokens stop working immediately.
func (s *Sessions) Refresh(ctx context.Context, refreshToken string) (IssuedSession, error) {
	if refreshToken == "" {
		return IssuedSession{}, errutil.Validation(CodeSessionTokenEmpty).Errorf("refresh token cannot be empty")
	}
	accessHash, err := s.refresh.Get(ctx, HashSessionToken(refreshToken))
	if err != nil {
		return IssuedSession{}, s.lookupError(err)
	}
	sess, err := s.sessions.Get(ctx, accessHash)
	if err != nil {
		return IssuedSession{}, s.lookupError(err)
	}

	now := s.clock()
	if err := s.checkUsable(ctx, &sess, now); err != nil {
		return IssuedSession{}, err
	}

	access, newAccessHash, err := GenerateSessionToken()
	if err != nil {
		return IssuedSession{}, err
	}
	refresh, newRefreshHash, err := GenerateSessionToken()
	if err != nil {
		return IssuedSession{}, err
	}

	if err := s.remove(ctx, sess); err != nil {
		return IssuedSession{}, err
	}
	sess.TokenHash = newAccessHash
	sess.RefreshHash = newRefreshHash
	sess.ExpiresAt = now.Add(s.timeout)
	sess.LastAccessedAt = now
	if err := s.save(ctx, sess); err != nil {
		return IssuedSession{}, err
	}

	s.logger.Debug("session refreshed", "session_id", sess.ID, "user_id", sess.UserID)
	return IssuedSession{Session: sess, AccessToken: access, RefreshToken: refresh}, nil
}

// Logout ends the session for token. It returns false when the token is
// unknown or the session has already ended.
func (s *Sessions) Logout(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	sess, err := s.sessions.Get(ctx, HashSessionToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, oops.Code("SESSION_LOOKUP_FAILED").Wrap(err)
	}
	if !sess.Active {
		return false, nil
	}
	if err := s.endSession(ctx, sess, EndLoggedOut); err != nil {
		return false, err
	}
	return true, nil
}

// LogoutAll ends every active session of userID and returns how many ended.
func (s *Sessions) LogoutAll(ctx context.Context, userID string) (int, error) {
	var owned []Session
	err := s.sessions.Iterate(ctx, func(_ string, sess Session) error {
		if sess.UserID == userID && sess.Active {
			owned = append(owned, sess)
		}
		return nil
	})
	if err != nil {
		return 0, oops.Code("SESSION_SCAN_FAILED").With("user_id", userID).Wrap(err)
	}
	for _, sess := range owned {
		if err := s.endSession(ctx, sess, EndLoggedOut); err != nil {
			return 0, err
		}
	}
	return len(owned), nil
}

// Sweep ends every active session past its expiry and purges sessions that
// ended more than SessionRetention ago. It emits sessionsCleaned with the
// count, which it also returns, only when at least one session expired.
func (s *Sessions) Sweep(ctx context.Context) (int, error) {
	now := s.clock()
	var expired, stale []Session
	err := s.sessions.Iterate(ctx, func(_ string, sess Session) error {
		switch {
		case sess.Active && sess.IsExpiredAt(now):
			expired = append(expired, sess)
		case !sess.Active && sess.EndedAt != nil && now.Sub(*sess.EndedAt) > SessionRetention:
			stale = append(stale, sess)
		}
		return nil
	})
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").Wrap(err)
	}

	for _, sess := range expired {
		sess.end(EndExpired, now)
		if err := s.sessions.Put(ctx, sess.TokenHash, sess); err != nil {
			return 0, oops.Code("SESSION_SWEEP_FAILED").With("session_id", sess.ID).Wrap(err)
		}
	}
	for _, sess := range stale {
		if err := s.remove(ctx, sess); err != nil {
			return 0, err
		}
	}

	if len(expired) > 0 || len(stale) > 0 {
		s.logger.Info("session sweep completed", "expired", len(expired), "purged", len(stale))
	}
	if len(expired) > 0 {
		s.events.Emit(event.KindSessionsCleaned, event.SessionsCleaned{Count: len(expired)})
	}
	return len(expired), nil
}

// Active returns the active, unexpired sessions of userID.
func (s *Sessions) Active(ctx context.Context, userID string) ([]Session, error) {
	now := s.clock()
	var out []Session
	err := s.sessions.Iterate(ctx, func(_ string, sess Session) error {
		if sess.UserID == userID && sess.Active && !sess.IsExpiredAt(now) {
			out = append(out, sess)
		}
		return nil
	})
	if err != nil {
		return nil, oops.Code("SESSION_SCAN_FAILED").With("user_id", userID).Wrap(err)
	}
	return out, nil
}

// CountActive returns the number of active, unexpired sessions.
func (s *Sessions) CountActive(ctx context.Context) (int, error) {
	now := s.clock()
	n := 0
	err := s.sessions.Iterate(ctx, func(_ string, sess Session) error {
		if sess.Active && !sess.IsExpiredAt(now) {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, oops.Code("SESSION_SCAN_FAILED").Wrap(err)
	}
	return n, nil
}

func (s *Sessions) lookup(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, errutil.Validation(CodeSessionTokenEmpty).Errorf("session token cannot be empty")
	}
	sess, err := s.sessions.Get(ctx, HashSessionToken(token))
	if err != nil {
		return Session{}, s.lookupError(err)
	}
	return sess, nil
}

func (s *Sessions) lookupError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return errutil.Authentication(CodeSessionInvalid).Errorf("invalid session token")
	}
	return oops.Code("SESSION_LOOKUP_FAILED").Wrap(err)
}

// checkUsable fails for ended sessions, ending sess first if it has just expired.
func (s *Sessions) checkUsable(ctx context.Context, sess *Session, now time.Time) error {
	if sess.Active && sess.IsExpiredAt(now) {
		sess.end(EndExpired, now)
		if err := s.sessions.Put(ctx, sess.TokenHash, *sess); err != nil {
			return oops.Code("SESSION_UPDATE_FAILED").With("session_id", sess.ID).Wrap(err)
		}
		s.logger.Debug("session expired on access", "session_id", sess.ID, "user_id", sess.UserID)
	}
	if sess.Active {
		return nil
	}
	if sess.EndReason == EndLoggedOut {
		return errutil.Authentication(CodeSessionLoggedOut).
			With("session_id", sess.ID).
			Errorf("session has been logged out")
	}
	return errutil.Authentication(CodeSessionExpired).
		With("session_id", sess.ID).
		Errorf("session has expired")
}

func (s *Sessions) endSession(ctx context.Context, sess Session, reason EndReason) error {
	sess.end(reason, s.clock())
	if err := s.sessions.Put(ctx, sess.TokenHash, sess); err != nil {
		return oops.Code("SESSION_UPDATE_FAILED").With("session_id", sess.ID).Wrap(err)
	}
	if reason == EndLoggedOut {
		s.events.Emit(event.KindUserLoggedOut, event.UserLoggedOut{UserID: sess.UserID, SessionID: sess.ID})
	}
	return nil
}

func (s *Sessions) save(ctx context.Context, sess Session) error {
	if err := s.sessions.Put(ctx, sess.TokenHash, sess); err != nil {
		return oops.Code("SESSION_CREATE_FAILED").With("session_id", sess.ID).Wrap(err)
	}
	if err := s.refresh.Put(ctx, sess.RefreshHash, sess.TokenHash); err != nil {
		return oops.Code("SESSION_CREATE_FAILED").With("session_id", sess.ID).Wrap(err)
	}
	return nil
}

func (s *Sessions) remove(ctx context.Context, sess Session) error {
	if err := s.sessions.Delete(ctx, sess.TokenHash); err != nil && !errors.Is(err, store.ErrNotFound) {
		return oops.Code("SESSION_DELETE_FAILED").With("session_id", sess.ID).Wrap(err)
	}
	if err := s.refresh.Delete(ctx, sess.RefreshHash); err != nil && !errors.Is(err, store.ErrNotFound) {
		return oops.Code("SESSION_DELETE_FAILED").With("session_id", sess.ID).Wrap(err)
	}
	return nil
}
