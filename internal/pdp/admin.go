// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package pdp

import (
	"context"

	"github.com/aegis-pdp/aegis/internal/access/policy"
	"github.com/aegis-pdp/aegis/internal/access/rbac"
)

// CreatePermission registers a permission.
func (s *Service) CreatePermission(ctx context.Context, in rbac.NewPermission) (rbac.Permission, error) {
	s.mu.Lock()
	p, err := s.graph.CreatePermission(ctx, in)
	s.mu.Unlock()
	s.flush()
	return p, err
}

// CreateRole registers a role. Permissions and parents must exist.
func (s *Service) CreateRole(ctx context.Context, in rbac.NewRole) (rbac.Role, error) {
	s.mu.Lock()
	r, err := s.graph.CreateRole(ctx, in)
	s.mu.Unlock()
	s.flush()
	return r, err
}

// SetRoleParents replaces the roles roleID inherits from.
func (s *Service) SetRoleParents(ctx context.Context, roleID string, parents []string) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.SetRoleParents(ctx, roleID, parents)
}

// AddRolePermission adds a permission to a role.
func (s *Service) AddRolePermission(ctx context.Context, roleID, permissionID string) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.AddRolePermission(ctx, roleID, permissionID)
}

// RemoveRolePermission removes a permission from a role.
func (s *Service) RemoveRolePermission(ctx context.Context, roleID, permissionID string) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.RemoveRolePermission(ctx, roleID, permissionID)
}

// SetRoleActive activates or deactivates a role. Inactive roles stay
// assigned but grant nothing.
func (s *Service) SetRoleActive(ctx context.Context, roleID string, active bool) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.SetRoleActive(ctx, roleID, active)
}

// SetPermissionActive activates or deactivates a permission.
func (s *Service) SetPermissionActive(ctx context.Context, permissionID string, active bool) (rbac.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.SetPermissionActive(ctx, permissionID, active)
}

// CreatePolicy registers an active policy.
func (s *Service) CreatePolicy(ctx context.Context, in policy.NewPolicy) (policy.Policy, error) {
	s.mu.Lock()
	p, err := s.engine.CreatePolicy(ctx, in)
	s.mu.Unlock()
	s.flush()
	return p, err
}

// SetPolicyActive activates or deactivates a policy.
func (s *Service) SetPolicyActive(ctx context.Context, policyID string, active bool) (policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.SetPolicyActive(ctx, policyID, active)
}

// GetRole returns a role.
func (s *Service) GetRole(roleID string) (rbac.Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Role(roleID)
}

// GetRoleByName returns a role by name, compared case-insensitively.
func (s *Service) GetRoleByName(name string) (rbac.Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.RoleByName(name)
}

// ListRoles returns every role ordered by ID.
func (s *Service) ListRoles() []rbac.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Roles()
}

// GetPermission returns a permission.
func (s *Service) GetPermission(permissionID string) (rbac.Permission, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Permission(permissionID)
}

// ListPermissions returns every permission ordered by ID.
func (s *Service) ListPermissions() []rbac.Permission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Permissions()
}

// GetPolicy returns a policy.
func (s *Service) GetPolicy(policyID string) (policy.Policy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.Policy(policyID)
}

// ListPolicies returns every policy ordered by ID.
func (s *Service) ListPolicies() []policy.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.Policies()
}
