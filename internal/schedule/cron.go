// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package schedule

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Cron is a Scheduler backed by robfig/cron. Intervals are rounded down to
// whole seconds with a minimum of one second.
type Cron struct {
	c      *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	stopped bool
}

// Compile-time check that Cron implements Scheduler.
var _ Scheduler = (*Cron)(nil)

// NewCron creates and starts a cron scheduler.
func NewCron(logger *slog.Logger) *Cron {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{logger})))
	c.Start()
	return &Cron{c: c, logger: logger}
}

// Every implements Scheduler.
func (s *Cron) Every(d time.Duration, fn func()) (JobID, error) {
	if err := validInterval(d); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0, errStopped()
	}
	id := s.c.Schedule(cron.Every(d), cron.FuncJob(fn))
	s.logger.Debug("job scheduled", "job_id", int(id), "interval", d.String())
	return JobID(id), nil
}

// Cancel implements Scheduler.
func (s *Cron) Cancel(id JobID) {
	s.c.Remove(cron.EntryID(id))
}

// Stop implements Scheduler. It is safe to call more than once.
func (s *Cron) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	<-s.c.Stop().Done()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
