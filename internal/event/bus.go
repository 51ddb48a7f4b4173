// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package event

import (
	"log/slog"
	"sync"
)

// Listener receives events.
type Listener func(Event)

type subscription struct {
	id int
	fn Listener
}

// Bus delivers events to listeners synchronously, per kind, in registration
// order. A panicking listener is recovered and logged; delivery continues with
// the next listener.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[Kind][]subscription
	all    []subscription
}

// NewBus creates an empty bus. A nil logger uses slog.Default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[Kind][]subscription),
	}
}

// Subscribe registers fn for one kind and returns a function that removes it.
func (b *Bus) Subscribe(kind Kind, fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs[kind] = remove(b.subs[kind], id)
	}
}

// SubscribeAll registers fn for every kind. Kind-specific listeners run first.
func (b *Bus) SubscribeAll(fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = remove(b.all, id)
	}
}

// Publish delivers e to its listeners. Listeners run on the caller's
// goroutine without the bus lock held, so they may subscribe or publish.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs[e.Kind])+len(b.all))
	targets = append(targets, b.subs[e.Kind]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for _, s := range targets {
		b.deliver(s.fn, e)
	}
}

func (b *Bus) deliver(fn Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				"event_kind", string(e.Kind),
				"event_id", e.ID,
				"panic", r)
		}
	}()
	fn(e)
}

func remove(subs []subscription, id int) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
