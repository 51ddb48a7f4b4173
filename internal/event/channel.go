// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package event

import (
	"sync"
)

// Channel adapts the bus to a buffered channel for consumers that prefer
// message passing. When the buffer is full new events are dropped and logged;
// publishers never block.
type Channel struct {
	bus   *Bus
	ch    chan Event
	unsub []func()

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewChannel subscribes to kinds (every kind when none are given) and buffers
// up to size events.
func NewChannel(bus *Bus, size int, kinds ...Kind) *Channel {
	c := &Channel{
		bus: bus,
		ch:  make(chan Event, size),
	}
	if len(kinds) == 0 {
		c.unsub = append(c.unsub, bus.SubscribeAll(c.offer))
		return c
	}
	for _, k := range kinds {
		c.unsub = append(c.unsub, bus.Subscribe(k, c.offer))
	}
	return c
}

// C returns the receive side.
func (c *Channel) C() <-chan Event {
	return c.ch
}

// Dropped returns how many events were discarded because the buffer was full.
func (c *Channel) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close unsubscribes and closes the channel. Buffered events stay readable.
func (c *Channel) Close() {
	for _, u := range c.unsub {
		u()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

func (c *Channel) offer(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- e:
	default:
		c.dropped++
		c.bus.logger.Warn("event dropped: subscriber buffer full",
			"event_kind", string(e.Kind),
			"event_id", e.ID)
	}
}
