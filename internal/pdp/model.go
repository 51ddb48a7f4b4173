// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package pdp

import (
	"context"

	"github.com/aegis-pdp/aegis/internal/bundle"
)

// Export returns the authorization model: every permission, role and policy,
// sorted by ID. Users and sessions are not exported.
func (s *Service) Export() bundle.Bundle {
	s.mu.RLock()
	b := bundle.Bundle{
		Version:     bundle.Version,
		Permissions: s.graph.Permissions(),
		Roles:       s.graph.Roles(),
		Policies:    s.engine.Policies(),
	}
	s.mu.RUnlock()
	b.Sort()
	return b
}

// Import stores every entity in b, keeping IDs and timestamps and replacing
// entities with the same ID. The whole bundle is validated against the
// current model first; if any entity is rejected nothing is written.
func (s *Service) Import(ctx context.Context, b bundle.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.CheckRestore(b.Policies); err != nil {
		return err
	}
	if err := s.graph.Restore(ctx, b.Permissions, b.Roles); err != nil {
		return err
	}
	if err := s.engine.Restore(ctx, b.Policies); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "authorization model imported",
		"permissions", len(b.Permissions),
		"roles", len(b.Roles),
		"policies", len(b.Policies))
	return nil
}
