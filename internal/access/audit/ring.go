// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package audit

import "sync"

// DefaultCapacity is the number of records kept by default.
const DefaultCapacity = 10000

// Ring keeps the most recent records, dropping the oldest once full. It is
// safe for concurrent use.
type Ring struct {
	mu    sync.Mutex
	buf   []Record
	start int
	n     int
	total uint64
}

// NewRing creates a Ring holding up to capacity records. A non-positive
// capacity uses DefaultCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]Record, capacity)}
}

// Append adds r, evicting the oldest record when full.
func (g *Ring) Append(r Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.total++
	if g.n < len(g.buf) {
		g.buf[(g.start+g.n)%len(g.buf)] = r
		g.n++
		return
	}
	g.buf[g.start] = r
	g.start = (g.start + 1) % len(g.buf)
}

// Recent returns up to limit records, oldest first. A non-positive limit
// returns everything held.
func (g *Ring) Recent(limit int) []Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	if limit <= 0 || limit > g.n {
		limit = g.n
	}
	out := make([]Record, 0, limit)
	for i := g.n - limit; i < g.n; i++ {
		out = append(out, g.buf[(g.start+i)%len(g.buf)].Clone())
	}
	return out
}

// Len returns the number of records held.
func (g *Ring) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Total returns the number of records ever appended.
func (g *Ring) Total() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total
}

// Cap returns the capacity.
func (g *Ring) Cap() int {
	return len(g.buf)
}
