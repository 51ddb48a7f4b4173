// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package pdp

import (
	"context"

	"github.com/aegis-pdp/aegis/internal/access/audit"
)

// Stats summarizes decisions since start and the current entity counts.
type Stats struct {
	TotalRequests   uint64 `json:"total_requests"`
	GrantedRequests uint64 `json:"granted_requests"`
	DeniedRequests  uint64 `json:"denied_requests"`

	Users          int `json:"users"`
	ActiveUsers    int `json:"active_users"`
	LockedUsers    int `json:"locked_users"`
	ActiveSessions int `json:"active_sessions"`
	Roles          int `json:"roles"`
	Permissions    int `json:"permissions"`
	Policies       int `json:"policies"`
	ActivePolicies int `json:"active_policies"`

	// AuditRecords is the number of records retained in memory;
	// AuditRecordsTotal counts every record ever appended.
	AuditRecords      int    `json:"audit_records"`
	AuditRecordsTotal uint64 `json:"audit_records_total"`
}

// RecentAccessRequests returns up to limit of the most recent recorded
// decisions, oldest first. A limit of zero or less returns all retained.
func (s *Service) RecentAccessRequests(limit int) []audit.Record {
	return s.audit.Ring().Recent(limit)
}

// GetAccessStats returns decision counters and entity counts.
func (s *Service) GetAccessStats(ctx context.Context) (Stats, error) {
	st := Stats{
		TotalRequests:   s.stats.total.Load(),
		GrantedRequests: s.stats.granted.Load(),
		DeniedRequests:  s.stats.denied.Load(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	users, err := s.users.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	st.Users = len(users)
	for _, u := range users {
		if u.Active {
			st.ActiveUsers++
		}
		if u.Locked {
			st.LockedUsers++
		}
	}
	if st.ActiveSessions, err = s.sessions.CountActive(ctx); err != nil {
		return Stats{}, err
	}
	st.Roles = len(s.graph.Roles())
	st.Permissions = len(s.graph.Permissions())
	st.Policies = len(s.engine.Policies())
	st.ActivePolicies = len(s.engine.Snapshot().Policies)

	ring := s.audit.Ring()
	st.AuditRecords = ring.Len()
	st.AuditRecordsTotal = ring.Total()
	return st, nil
}
