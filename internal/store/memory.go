// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package store

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/samber/oops"
)

// Memory is an in-process Store backed by a map.
//
// Values are stored as given. Callers that keep slices inside T must not
// mutate them in place after Put; domain code clones before modifying.
type Memory[T any] struct {
	kind Kind

	mu   sync.RWMutex
	data map[string]T
}

// Compile-time check that Memory implements Store.
var _ Store[struct{}] = (*Memory[struct{}])(nil)

// NewMemory creates an empty in-memory store for the given collection.
func NewMemory[T any](kind Kind) *Memory[T] {
	return &Memory[T]{
		kind: kind,
		data: make(map[string]T),
	}
}

// Get implements Store.
func (m *Memory[T]) Get(_ context.Context, id string) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[id]
	if !ok {
		var zero T
		return zero, oops.Code("STORE_NOT_FOUND").
			With("kind", string(m.kind)).
			With("id", id).
			Wrap(ErrNotFound)
	}
	return v, nil
}

// Put implements Store.
func (m *Memory[T]) Put(_ context.Context, id string, value T) error {
	if id == "" {
		return oops.Code("STORE_EMPTY_KEY").With("kind", string(m.kind)).Errorf("key cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = value
	return nil
}

// Delete implements Store.
func (m *Memory[T]) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[id]; !ok {
		return oops.Code("STORE_NOT_FOUND").
			With("kind", string(m.kind)).
			With("id", id).
			Wrap(ErrNotFound)
	}
	delete(m.data, id)
	return nil
}

// Iterate implements Store. The callback runs over a snapshot, so it may
// call back into the store.
func (m *Memory[T]) Iterate(ctx context.Context, fn func(id string, value T) error) error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	snapshot := make(map[string]T, len(m.data))
	for k, v := range m.data {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	slices.Sort(keys)
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return oops.Wrapf(err, "iterate %s", m.kind)
		}
		if err := fn(k, snapshot[k]); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Len returns the number of stored entries.
func (m *Memory[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
