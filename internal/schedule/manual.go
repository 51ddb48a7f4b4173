// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package schedule

import (
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"
)

// Manual is a Scheduler driven by a virtual clock. Jobs only run from
// Advance, which makes expiry and sweep behaviour deterministic in tests.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	nextID  JobID
	jobs    map[JobID]*manualJob
	stopped bool
}

type manualJob struct {
	id       JobID
	interval time.Duration
	next     time.Time
	fn       func()
}

// Compile-time check that Manual implements Scheduler.
var _ Scheduler = (*Manual)(nil)

// NewManual creates a virtual scheduler whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{
		now:  start,
		jobs: make(map[JobID]*manualJob),
	}
}

// Now returns the virtual time. It can be used as a clock function.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Every implements Scheduler.
func (m *Manual) Every(d time.Duration, fn func()) (JobID, error) {
	if err := validInterval(d); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return 0, errStopped()
	}
	m.nextID++
	m.jobs[m.nextID] = &manualJob{id: m.nextID, interval: d, next: m.now.Add(d), fn: fn}
	return m.nextID, nil
}

// Cancel implements Scheduler.
func (m *Manual) Cancel(id JobID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// Stop implements Scheduler.
func (m *Manual) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	clear(m.jobs)
}

// Jobs returns the number of scheduled jobs.
func (m *Manual) Jobs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Advance moves the clock forward by d, running every job that falls due on
// the way in time order. Jobs run without the scheduler lock held, so they
// may schedule or cancel jobs.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		job := m.nextDue(target)
		if job == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = job.next
		job.next = job.next.Add(job.interval)
		fn := job.fn
		m.mu.Unlock()

		fn()
	}
}

// nextDue returns the earliest job due at or before target. Ties run in
// scheduling order.
func (m *Manual) nextDue(target time.Time) *manualJob {
	var due []*manualJob
	for _, j := range m.jobs {
		if !j.next.After(target) {
			due = append(due, j)
		}
	}
	if len(due) == 0 {
		return nil
	}
	return slices.MinFunc(due, func(a, b *manualJob) int {
		if c := a.next.Compare(b.next); c != 0 {
			return c
		}
		return int(a.id - b.id)
	})
}

func errStopped() error {
	return oops.Code("SCHEDULE_STOPPED").Errorf("scheduler is stopped")
}
