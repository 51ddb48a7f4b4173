// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package schedule runs periodic maintenance jobs such as the session sweep.
package schedule

import (
	"time"

	"github.com/samber/oops"
)

// JobID identifies a scheduled job.
type JobID int

// Scheduler runs functions at a fixed interval.
type Scheduler interface {
	// Every runs fn every d until the job is cancelled or the scheduler stops.
	Every(d time.Duration, fn func()) (JobID, error)
	// Cancel removes a job. Cancelling an unknown job is a no-op.
	Cancel(id JobID)
	// Stop cancels every job and waits for running jobs to return.
	Stop()
}

func validInterval(d time.Duration) error {
	if d <= 0 {
		return oops.Code("SCHEDULE_INVALID_INTERVAL").
			With("interval", d.String()).
			Errorf("interval must be positive")
	}
	return nil
}
