// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package rbac

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/aegis-pdp/aegis/internal/access/condition"
	"github.com/aegis-pdp/aegis/internal/event"
	"github.com/aegis-pdp/aegis/internal/ids"
	"github.com/aegis-pdp/aegis/internal/store"
	"github.com/aegis-pdp/aegis/pkg/errutil"
)

// Error codes.
const (
	CodeRoleNotFound       = "ROLE_NOT_FOUND"
	CodePermissionNotFound = "PERMISSION_NOT_FOUND"
	CodeRoleNameTaken      = "ROLE_NAME_TAKEN"
	CodeRoleCycle          = "ROLE_CYCLE"
	CodeInvalidRole        = "ROLE_INVALID"
)

// Graph holds roles and permissions. Reads are served from memory; writes go
// through to the backing stores. Every mutation bumps Generation so callers
// caching effective permission sets can tell when to recompute.
//
// Graph is not safe for concurrent use; the owner serialises access.
type Graph struct {
	roleStore store.Store[Role]
	permStore store.Store[Permission]
	events    event.Emitter
	matcher   *Matcher
	clock     func() time.Time
	logger    *slog.Logger

	roles      map[string]Role
	perms      map[string]Permission
	generation uint64
}

// Option configures a Graph.
type Option func(*Graph)

// WithClock sets the time source.
func WithClock(clock func() time.Time) Option {
	return func(g *Graph) { g.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) { g.logger = logger }
}

// NewGraph loads roles and permissions from the stores.
func NewGraph(ctx context.Context, roles store.Store[Role], perms store.Store[Permission], events event.Emitter, opts ...Option) (*Graph, error) {
	if roles == nil {
		return nil, oops.Errorf("role store is required")
	}
	if perms == nil {
		return nil, oops.Errorf("permission store is required")
	}
	if events == nil {
		return nil, oops.Errorf("event emitter is required")
	}
	g := &Graph{
		roleStore: roles,
		permStore: perms,
		events:    events,
		matcher:   NewMatcher(),
		clock:     time.Now,
		logger:    slog.Default(),
		roles:     make(map[string]Role),
		perms:     make(map[string]Permission),
		// Random start so caches persisted by an earlier process never
		// look current.
		generation: rand.Uint64() >> 1,
	}
	for _, opt := range opts {
		opt(g)
	}

	if err := roles.Iterate(ctx, func(id string, r Role) error {
		g.roles[id] = r
		return nil
	}); err != nil {
		return nil, oops.Code("RBAC_LOAD_FAILED").With("kind", "roles").Wrap(err)
	}
	if err := perms.Iterate(ctx, func(id string, p Permission) error {
		g.perms[id] = p
		return nil
	}); err != nil {
		return nil, oops.Code("RBAC_LOAD_FAILED").With("kind", "permissions").Wrap(err)
	}
	return g, nil
}

// Generation returns the mutation counter.
func (g *Graph) Generation() uint64 {
	return g.generation
}

// Matcher returns the pattern matcher shared with the graph.
func (g *Graph) Matcher() *Matcher {
	return g.matcher
}

// CreatePermission validates and stores a new active permission.
func (g *Graph) CreatePermission(ctx context.Context, in NewPermission) (Permission, error) {
	if err := g.matcher.ValidatePattern("resource", in.Resource); err != nil {
		return Permission{}, err
	}
	if err := g.matcher.ValidatePattern("action", in.Action); err != nil {
		return Permission{}, err
	}
	for _, c := range in.Conditions {
		if err := condition.Validate(c); err != nil {
			return Permission{}, err
		}
	}

	now := g.clock()
	p := Permission{
		ID:          ids.New(),
		Resource:    in.Resource,
		Action:      in.Action,
		Description: in.Description,
		Conditions:  slices.Clone(in.Conditions),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := g.putPermission(ctx, p); err != nil {
		return Permission{}, err
	}

	g.logger.Info("permission created", "permission_id", p.ID, "resource", p.Resource, "action", p.Action)
	g.events.Emit(event.KindPermissionCreated, event.PermissionCreated{
		PermissionID: p.ID,
		Resource:     p.Resource,
		Action:       p.Action,
	})
	return p.Clone(), nil
}

// CreateRole validates and stores a new active role. Permissions and parents
// must already exist and the name must be unused, compared case-insensitively.
func (g *Graph) CreateRole(ctx context.Context, in NewRole) (Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Role{}, errutil.Validation(CodeInvalidRole).Errorf("role name cannot be empty")
	}
	if _, ok := g.RoleByName(name); ok {
		return Role{}, errutil.Conflict(CodeRoleNameTaken).With("name", name).Errorf("role name already exists")
	}
	if err := g.requirePermissions(in.Permissions); err != nil {
		return Role{}, err
	}
	if err := g.requireRoles(in.InheritsFrom); err != nil {
		return Role{}, err
	}

	now := g.clock()
	r := Role{
		ID:           ids.New(),
		Name:         name,
		Description:  in.Description,
		Permissions:  dedupe(in.Permissions),
		InheritsFrom: dedupe(in.InheritsFrom),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := g.putRole(ctx, r); err != nil {
		return Role{}, err
	}

	g.logger.Info("role created", "role_id", r.ID, "name", r.Name)
	g.events.Emit(event.KindRoleCreated, event.RoleCreated{RoleID: r.ID, Name: r.Name})
	return r.Clone(), nil
}

// SetRoleParents replaces the parents of roleID. Parents must exist and the
// change must not introduce a cycle.
func (g *Graph) SetRoleParents(ctx context.Context, roleID string, parents []string) (Role, error) {
	r, err := g.mustRole(roleID)
	if err != nil {
		return Role{}, err
	}
	if err := g.requireRoles(parents); err != nil {
		return Role{}, err
	}
	for _, p := range parents {
		if p == roleID || slices.Contains(g.ancestors(p), roleID) {
			return Role{}, errutil.Validation(CodeRoleCycle).
				With("role_id", roleID).
				With("parent_id", p).
				Errorf("role inheritance would form a cycle")
		}
	}

	r.InheritsFrom = dedupe(parents)
	r.UpdatedAt = g.clock()
	if err := g.putRole(ctx, r); err != nil {
		return Role{}, err
	}
	return r.Clone(), nil
}

// AddRolePermission attaches permID to roleID. It is idempotent.
func (g *Graph) AddRolePermission(ctx context.Context, roleID, permID string) (Role, error) {
	r, err := g.mustRole(roleID)
	if err != nil {
		return Role{}, err
	}
	if err := g.requirePermissions([]string{permID}); err != nil {
		return Role{}, err
	}
	if slices.Contains(r.Permissions, permID) {
		return r.Clone(), nil
	}
	r.Permissions = append(slices.Clone(r.Permissions), permID)
	r.UpdatedAt = g.clock()
	if err := g.putRole(ctx, r); err != nil {
		return Role{}, err
	}
	return r.Clone(), nil
}

// RemoveRolePermission detaches permID from roleID. It is idempotent.
func (g *Graph) RemoveRolePermission(ctx context.Context, roleID, permID string) (Role, error) {
	r, err := g.mustRole(roleID)
	if err != nil {
		return Role{}, err
	}
	i := slices.Index(r.Permissions, permID)
	if i < 0 {
		return r.Clone(), nil
	}
	r.Permissions = slices.Delete(slices.Clone(r.Permissions), i, i+1)
	r.UpdatedAt = g.clock()
	if err := g.putRole(ctx, r); err != nil {
		return Role{}, err
	}
	return r.Clone(), nil
}

// SetRoleActive activates or deactivates a role. Inactive roles stay
// assignable but contribute no permissions.
func (g *Graph) SetRoleActive(ctx context.Context, roleID string, active bool) (Role, error) {
	r, err := g.mustRole(roleID)
	if err != nil {
		return Role{}, err
	}
	r.Active = active
	r.UpdatedAt = g.clock()
	if err := g.putRole(ctx, r); err != nil {
		return Role{}, err
	}
	return r.Clone(), nil
}

// SetPermissionActive activates or deactivates a permission. Inactive
// permissions never match.
func (g *Graph) SetPermissionActive(ctx context.Context, permID string, active bool) (Permission, error) {
	p, ok := g.perms[permID]
	if !ok {
		return Permission{}, permissionNotFound(permID)
	}
	p.Active = active
	p.UpdatedAt = g.clock()
	if err := g.putPermission(ctx, p); err != nil {
		return Permission{}, err
	}
	return p.Clone(), nil
}

// Restore stores roles and permissions as given, keeping their IDs and
// timestamps. Entities pass the same checks as on create: patterns and
// conditions must be valid and role names unique, case-insensitively, across
// the graph plus the restored roles. References must resolve and the combined
// inheritance must stay acyclic. Nothing is written unless every check passes.
func (g *Graph) Restore(ctx context.Context, perms []Permission, roles []Role) error {
	allPerms := make(map[string]bool, len(g.perms)+len(perms))
	for id := range g.perms {
		allPerms[id] = true
	}
	for _, p := range perms {
		if err := g.validateRestoredPermission(p); err != nil {
			return err
		}
		allPerms[p.ID] = true
	}

	allRoles := make(map[string]Role, len(g.roles)+len(roles))
	for id, r := range g.roles {
		allRoles[id] = r
	}
	for _, r := range roles {
		if err := ids.Validate(r.ID); err != nil {
			return errutil.Validation(CodeInvalidRole).With("role_id", r.ID).Wrap(err)
		}
		if strings.TrimSpace(r.Name) == "" {
			return errutil.Validation(CodeInvalidRole).With("role_id", r.ID).Errorf("role name cannot be empty")
		}
		allRoles[r.ID] = r
	}
	if err := checkRoleNames(allRoles); err != nil {
		return err
	}

	for _, r := range roles {
		for _, p := range r.Permissions {
			if !allPerms[p] {
				return permissionNotFound(p)
			}
		}
		for _, parent := range r.InheritsFrom {
			if _, ok := allRoles[parent]; !ok {
				return roleNotFound(parent)
			}
		}
	}
	if id, ok := findCycle(allRoles); ok {
		return errutil.Validation(CodeRoleCycle).
			With("role_id", id).
			Errorf("role inheritance would form a cycle")
	}

	for _, p := range perms {
		if err := g.putPermission(ctx, p); err != nil {
			return err
		}
	}
	for _, r := range roles {
		if err := g.putRole(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) validateRestoredPermission(p Permission) error {
	if err := ids.Validate(p.ID); err != nil {
		return errutil.Validation(CodeInvalidRole).With("permission_id", p.ID).Wrap(err)
	}
	if err := g.matcher.ValidatePattern("resource", p.Resource); err != nil {
		return oops.With("permission_id", p.ID).Wrap(err)
	}
	if err := g.matcher.ValidatePattern("action", p.Action); err != nil {
		return oops.With("permission_id", p.ID).Wrap(err)
	}
	for _, c := range p.Conditions {
		if err := condition.Validate(c); err != nil {
			return oops.With("permission_id", p.ID).Wrap(err)
		}
	}
	return nil
}

// checkRoleNames rejects two roles whose names differ only in case.
func checkRoleNames(roles map[string]Role) error {
	keys := make([]string, 0, len(roles))
	for id := range roles {
		keys = append(keys, id)
	}
	slices.Sort(keys)

	seen := make(map[string]string, len(roles))
	for _, id := range keys {
		name := strings.ToLower(strings.TrimSpace(roles[id].Name))
		if other, ok := seen[name]; ok {
			return errutil.Conflict(CodeRoleNameTaken).
				With("name", roles[id].Name).
				With("role_id", id).
				With("conflicting_role_id", other).
				Errorf("role name already exists")
		}
		seen[name] = id
	}
	return nil
}

// findCycle returns a role on an inheritance cycle, if any.
func findCycle(roles map[string]Role) (string, bool) {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(roles))
	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case inProgress:
			return true
		case done:
			return false
		}
		state[id] = inProgress
		for _, parent := range roles[id].InheritsFrom {
			if visit(parent) {
				return true
			}
		}
		state[id] = done
		return false
	}

	keys := make([]string, 0, len(roles))
	for id := range roles {
		keys = append(keys, id)
	}
	slices.Sort(keys)
	for _, id := range keys {
		if state[id] == unvisited && visit(id) {
			return id, true
		}
	}
	return "", false
}

// Role returns the role with id.
func (g *Graph) Role(id string) (Role, bool) {
	r, ok := g.roles[id]
	return r.Clone(), ok
}

// RoleByName returns the role named name, compared case-insensitively.
func (g *Graph) RoleByName(name string) (Role, bool) {
	for _, r := range g.roles {
		if strings.EqualFold(r.Name, name) {
			return r.Clone(), true
		}
	}
	return Role{}, false
}

// Permission returns the permission with id.
func (g *Graph) Permission(id string) (Permission, bool) {
	p, ok := g.perms[id]
	return p.Clone(), ok
}

// Roles returns every role ordered by ID.
func (g *Graph) Roles() []Role {
	out := make([]Role, 0, len(g.roles))
	for _, r := range g.roles {
		out = append(out, r.Clone())
	}
	slices.SortFunc(out, func(a, b Role) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Permissions returns every permission ordered by ID.
func (g *Graph) Permissions() []Permission {
	out := make([]Permission, 0, len(g.perms))
	for _, p := range g.perms {
		out = append(out, p.Clone())
	}
	slices.SortFunc(out, func(a, b Permission) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// RequireRoles fails with a not-found error for the first unknown role ID.
func (g *Graph) RequireRoles(roleIDs []string) error {
	return g.requireRoles(roleIDs)
}

// RequirePermissions fails with a not-found error for the first unknown permission ID.
func (g *Graph) RequirePermissions(permIDs []string) error {
	return g.requirePermissions(permIDs)
}

// Effective returns the sorted union of direct and every permission reachable
// from roleIDs. A role contributes its own permissions and those of its
// ancestors; an inactive role contributes nothing and cuts off the ancestors
// reached only through it. Unknown IDs are ignored.
func (g *Graph) Effective(roleIDs, direct []string) []string {
	set := make(map[string]struct{}, len(direct))
	for _, p := range direct {
		set[p] = struct{}{}
	}

	visited := make(map[string]bool)
	queue := slices.Clone(roleIDs)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		r, ok := g.roles[id]
		if !ok || !r.Active {
			continue
		}
		for _, p := range r.Permissions {
			set[p] = struct{}{}
		}
		queue = append(queue, r.InheritsFrom...)
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Match returns the first active permission among permIDs that matches
// resource and action and whose conditions hold for req.
func (g *Graph) Match(permIDs []string, resource, action string, req condition.Request) (Permission, bool) {
	for _, id := range permIDs {
		p, ok := g.perms[id]
		if !ok || !p.Active {
			continue
		}
		if !g.matcher.Match(p.Resource, resource) || !g.matcher.Match(p.Action, action) {
			continue
		}
		if !condition.All(p.Conditions, req) {
			continue
		}
		return p.Clone(), true
	}
	return Permission{}, false
}

// ancestors returns every role reachable from id through InheritsFrom,
// regardless of activity.
func (g *Graph) ancestors(id string) []string {
	var out []string
	visited := map[string]bool{id: true}
	queue := slices.Clone(g.roles[id].InheritsFrom)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if visited[next] {
			continue
		}
		visited[next] = true
		out = append(out, next)
		queue = append(queue, g.roles[next].InheritsFrom...)
	}
	return out
}

func (g *Graph) mustRole(id string) (Role, error) {
	r, ok := g.roles[id]
	if !ok {
		return Role{}, roleNotFound(id)
	}
	return r.Clone(), nil
}

func (g *Graph) requireRoles(roleIDs []string) error {
	for _, id := range roleIDs {
		if _, ok := g.roles[id]; !ok {
			return roleNotFound(id)
		}
	}
	return nil
}

func (g *Graph) requirePermissions(permIDs []string) error {
	for _, id := range permIDs {
		if _, ok := g.perms[id]; !ok {
			return permissionNotFound(id)
		}
	}
	return nil
}

func (g *Graph) putRole(ctx context.Context, r Role) error {
	if err := g.roleStore.Put(ctx, r.ID, r); err != nil {
		return oops.Code("RBAC_PERSIST_FAILED").With("role_id", r.ID).Wrap(err)
	}
	g.roles[r.ID] = r
	g.generation++
	return nil
}

func (g *Graph) putPermission(ctx context.Context, p Permission) error {
	if err := g.permStore.Put(ctx, p.ID, p); err != nil {
		return oops.Code("RBAC_PERSIST_FAILED").With("permission_id", p.ID).Wrap(err)
	}
	g.perms[p.ID] = p
	g.generation++
	return nil
}

func roleNotFound(id string) error {
	return errutil.NotFound(CodeRoleNotFound).With("role_id", id).Errorf("role not found")
}

func permissionNotFound(id string) error {
	return errutil.NotFound(CodePermissionNotFound).With("permission_id", id).Errorf("permission not found")
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
