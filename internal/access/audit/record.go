// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package audit keeps a bounded history of access decisions and streams
// them to an optional append-only sink.
package audit

import (
	"maps"
	"time"
)

// Record is one access decision.
type Record struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id,omitempty"`
	Resource  string         `json:"resource"`
	Action    string         `json:"action"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Granted   bool           `json:"granted"`
	Reason    string         `json:"reason,omitempty"`
	PolicyID  string         `json:"policy_id,omitempty"`
}

// Clone returns a copy with its own context map.
func (r Record) Clone() Record {
	r.Context = maps.Clone(r.Context)
	return r
}
