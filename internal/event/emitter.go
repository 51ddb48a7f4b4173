// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package event

import (
	"sync"
	"time"
)

// Emitter accepts events from domain components.
type Emitter interface {
	Emit(kind Kind, payload any)
}

// Emit publishes payload immediately, stamped with the current time.
func (b *Bus) Emit(kind Kind, payload any) {
	b.Publish(New(kind, time.Now(), payload))
}

// Buffer is an Emitter that holds events until Drain. Components emit into a
// Buffer while their owner holds a lock; the owner publishes after unlocking
// so listeners may call back in.
type Buffer struct {
	clock func() time.Time

	mu     sync.Mutex
	events []Event
}

// NewBuffer creates a Buffer that stamps events with clock. A nil clock uses
// time.Now.
func NewBuffer(clock func() time.Time) *Buffer {
	if clock == nil {
		clock = time.Now
	}
	return &Buffer{clock: clock}
}

// Emit implements Emitter.
func (b *Buffer) Emit(kind Kind, payload any) {
	e := New(kind, b.clock(), payload)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

// Drain returns the buffered events in emission order and empties the buffer.
func (b *Buffer) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events
	b.events = nil
	return out
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Discard is an Emitter that drops everything.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Kind, any) {}
