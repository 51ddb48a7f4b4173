// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package pdp

import (
	"context"
	"maps"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aegis-pdp/aegis/internal/access/audit"
	"github.com/aegis-pdp/aegis/internal/access/condition"
	"github.com/aegis-pdp/aegis/internal/access/policy"
	"github.com/aegis-pdp/aegis/internal/access/rbac"
	"github.com/aegis-pdp/aegis/internal/auth"
	"github.com/aegis-pdp/aegis/internal/event"
	"github.com/aegis-pdp/aegis/internal/ids"
	"github.com/aegis-pdp/aegis/pkg/errutil"
)

// Denial reasons.
const (
	ReasonUserNotFound            = "User not found"
	ReasonUserInactive            = "User account is inactive"
	ReasonUserLocked              = "User account is locked"
	ReasonInsufficientPermissions = "Insufficient permissions"
	ReasonInvalidSession          = "Invalid session"
	ReasonSessionExpired          = "Session expired"
	ReasonSessionLoggedOut        = "Session logged out"
)

// CodeInvalidRequest is returned for access checks with missing fields.
const CodeInvalidRequest = "ACCESS_REQUEST_INVALID"

// CheckAccess decides whether userID may perform action on resource. The
// checks run in order and the first failing one decides: the user exists,
// is active, is not locked, holds a matching permission, and no policy
// denies. attrs is the request context read by conditions.
//
// Denials are returned as decisions, not errors. Errors mean the request
// was malformed or storage failed.
func (s *Service) CheckAccess(ctx context.Context, userID, resource, action string, attrs map[string]any) (policy.Decision, error) {
	return s.check(ctx, userID, "", resource, action, attrs)
}

// CheckSessionAccess validates the session for token and checks access for
// its owner. Invalid, expired and logged-out sessions are denials.
func (s *Service) CheckSessionAccess(ctx context.Context, token, resource, action string, attrs map[string]any) (policy.Decision, error) {
	sess, err := s.ValidateSession(ctx, token)
	if err != nil {
		if reason, ok := sessionDenial(err); ok {
			d := policy.Deny(reason, "")
			s.report(ctx, "", "", resource, action, attrs, d, s.GetConfig().EnableAuditLogging)
			s.flush()
			return d, nil
		}
		return policy.Decision{}, err
	}
	return s.check(ctx, sess.UserID, sess.ID, resource, action, attrs)
}

func sessionDenial(err error) (string, bool) {
	switch errutil.Code(err) {
	case auth.CodeSessionInvalid:
		return ReasonInvalidSession, true
	case auth.CodeSessionExpired:
		return ReasonSessionExpired, true
	case auth.CodeSessionLoggedOut:
		return ReasonSessionLoggedOut, true
	}
	return "", false
}

func (s *Service) check(ctx context.Context, userID, sessionID, resource, action string, attrs map[string]any) (policy.Decision, error) {
	ctx, span := tracer.Start(ctx, "pdp.CheckAccess", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("access.resource", resource),
		attribute.String("access.action", action),
	))
	defer span.End()

	if err := validateRequest(userID, resource, action); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		return policy.Decision{}, err
	}

	s.mu.RLock()
	d, stale, err := s.decide(ctx, userID, resource, action, attrs)
	if err == nil {
		s.report(ctx, userID, sessionID, resource, action, attrs, d, s.cfg.EnableAuditLogging)
	}
	s.mu.RUnlock()

	if err == nil && stale {
		s.refreshCache(ctx, userID)
	}
	s.flush()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "access check failed")
		return policy.Decision{}, err
	}
	span.SetAttributes(
		attribute.Bool("access.granted", d.Granted()),
		attribute.String("access.reason", d.Reason),
	)
	return d, nil
}

func validateRequest(userID, resource, action string) error {
	var missing []string
	if userID == "" {
		missing = append(missing, "user_id")
	}
	if resource == "" {
		missing = append(missing, "resource")
	}
	if action == "" {
		missing = append(missing, "action")
	}
	if len(missing) > 0 {
		return errutil.Validation(CodeInvalidRequest).
			With("missing", strings.Join(missing, ",")).
			Errorf("access request is missing required fields")
	}
	return nil
}

// decide runs the gates under the read lock. stale reports that the user's
// cached permission set is out of date; the decision already used a fresh one.
func (s *Service) decide(ctx context.Context, userID, resource, action string, attrs map[string]any) (policy.Decision, bool, error) {
	user, err := s.users.Get(ctx, userID)
	if errutil.Code(err) == auth.CodeUserNotFound {
		return policy.Deny(ReasonUserNotFound, ""), false, nil
	}
	if err != nil {
		return policy.Decision{}, false, err
	}
	if !user.Active {
		return policy.Deny(ReasonUserInactive, ""), false, nil
	}
	if user.Locked {
		return policy.Deny(ReasonUserLocked, ""), false, nil
	}

	stale := user.PermissionsGeneration != s.graph.Generation()
	req := condition.Request{Subject: userID, Attributes: attrs, Now: s.clock()}

	if s.cfg.EnableRoleBasedAccess {
		perms := s.fresh(user).Permissions
		if _, ok := s.graph.Match(perms, resource, action, req); !ok {
			return policy.Deny(ReasonInsufficientPermissions, ""), stale, nil
		}
	}
	if !s.cfg.EnableAttributeBasedAccess {
		return policy.Grant(policy.ReasonNoPolicy, ""), stale, nil
	}
	return s.engine.Evaluate(resource, action, req), stale, nil
}

// report counts the decision, records it when granted and record is set,
// and emits accessRequested.
func (s *Service) report(ctx context.Context, userID, sessionID, resource, action string, attrs map[string]any, d policy.Decision, record bool) {
	s.stats.total.Add(1)
	if d.Granted() {
		s.stats.granted.Add(1)
	} else {
		s.stats.denied.Add(1)
	}
	s.metrics.decisions.WithLabelValues(outcome(d.Granted())).Inc()

	id := ids.New()
	if d.Granted() && record {
		s.audit.Log(audit.Record{
			ID:        id,
			UserID:    userID,
			SessionID: sessionID,
			Resource:  resource,
			Action:    action,
			Context:   maps.Clone(attrs),
			Timestamp: s.clock(),
			Granted:   true,
			Reason:    d.Reason,
			PolicyID:  d.PolicyID,
		})
	}
	if !d.Granted() {
		s.logger.DebugContext(ctx, "access denied",
			"user_id", userID, "resource", resource, "action", action, "reason", d.Reason)
	}
	s.pending.Emit(event.KindAccessRequested, event.AccessRequested{
		RequestID: id,
		UserID:    userID,
		SessionID: sessionID,
		Resource:  resource,
		Action:    action,
		Context:   maps.Clone(attrs),
		Granted:   d.Granted(),
		Reason:    d.Reason,
		PolicyID:  d.PolicyID,
	})
}

// refreshCache persists a recomputed permission set for userID if it is
// still stale once the write lock is held. Failures only cost a recompute
// on the next check, so they are logged.
func (s *Service) refreshCache(ctx context.Context, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		errutil.LogError(ctx, s.logger, "permission cache refresh failed", err)
		return
	}
	if user.PermissionsGeneration == s.graph.Generation() {
		return
	}
	s.recompute(&user)
	if err := s.users.Save(ctx, user); err != nil {
		errutil.LogError(ctx, s.logger, "permission cache refresh failed", err)
	}
}

// EffectivePermissions returns every permission the user holds through
// direct grants and roles, including inherited ones.
func (s *Service) EffectivePermissions(ctx context.Context, userID string) ([]rbac.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	permIDs := s.fresh(user).Permissions
	out := make([]rbac.Permission, 0, len(permIDs))
	for _, id := range permIDs {
		if p, ok := s.graph.Permission(id); ok {
			out = append(out, p)
		}
	}
	return out, nil
}
