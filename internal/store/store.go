// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package store provides the storage abstraction behind the decision point.
//
// Entities are kept as documents keyed by a string identifier. A Store never
// interprets its values; domain packages own validation and indexing. Iterate
// always visits entries in ascending key order, so ULID keys iterate in
// creation order on every backend.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("not found")

// ErrStop may be returned by an Iterate callback to end iteration early
// without reporting an error.
var ErrStop = errors.New("stop iteration")

// Store is a typed key/value document store.
type Store[T any] interface {
	// Get returns the value stored under id, or an error wrapping ErrNotFound.
	Get(ctx context.Context, id string) (T, error)

	// Put creates or replaces the value stored under id.
	Put(ctx context.Context, id string, value T) error

	// Delete removes id. Deleting a missing key returns an error wrapping ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Iterate calls fn for every entry in ascending key order.
	// Returning ErrStop from fn ends iteration with a nil error.
	Iterate(ctx context.Context, fn func(id string, value T) error) error
}

// Kind names a document collection. Each collection is an independent keyspace.
type Kind string

// Collections used by the decision point.
const (
	KindUsers       Kind = "users"
	KindRoles       Kind = "roles"
	KindPermissions Kind = "permissions"
	KindPolicies    Kind = "policies"
	KindSessions    Kind = "sessions"
	KindRefresh     Kind = "session_refresh"
)

// List collects every value in s in key order.
func List[T any](ctx context.Context, s Store[T]) ([]T, error) {
	var out []T
	err := s.Iterate(ctx, func(_ string, v T) error {
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of entries in s.
func Count[T any](ctx context.Context, s Store[T]) (int, error) {
	n := 0
	err := s.Iterate(ctx, func(string, T) error {
		n++
		return nil
	})
	return n, err
}
