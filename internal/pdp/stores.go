// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package pdp

import (
	"github.com/aegis-pdp/aegis/internal/access/policy"
	"github.com/aegis-pdp/aegis/internal/access/rbac"
	"github.com/aegis-pdp/aegis/internal/auth"
	"github.com/aegis-pdp/aegis/internal/store"
)

// Stores is every collection the service persists.
type Stores struct {
	Users       store.Store[auth.User]
	Roles       store.Store[rbac.Role]
	Permissions store.Store[rbac.Permission]
	Policies    store.Store[policy.Policy]
	Sessions    store.Store[auth.Session]
	// Refresh maps refresh-token hashes to access-token hashes.
	Refresh store.Store[string]
}

// MemoryStores returns empty in-memory stores.
func MemoryStores() Stores {
	return Stores{
		Users:       store.NewMemory[auth.User](store.KindUsers),
		Roles:       store.NewMemory[rbac.Role](store.KindRoles),
		Permissions: store.NewMemory[rbac.Permission](store.KindPermissions),
		Policies:    store.NewMemory[policy.Policy](store.KindPolicies),
		Sessions:    store.NewMemory[auth.Session](store.KindSessions),
		Refresh:     store.NewMemory[string](store.KindRefresh),
	}
}

// PostgresStores returns stores backed by the documents table.
func PostgresStores(pool store.Pool) Stores {
	return Stores{
		Users:       store.NewPostgres[auth.User](pool, store.KindUsers),
		Roles:       store.NewPostgres[rbac.Role](pool, store.KindRoles),
		Permissions: store.NewPostgres[rbac.Permission](pool, store.KindPermissions),
		Policies:    store.NewPostgres[policy.Policy](pool, store.KindPolicies),
		Sessions:    store.NewPostgres[auth.Session](pool, store.KindSessions),
		Refresh:     store.NewPostgres[string](pool, store.KindRefresh),
	}
}
