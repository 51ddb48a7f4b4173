// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package ids generates the ULID identifiers used for every entity.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// New returns a new monotonic ULID string. IDs generated by one process sort
// in creation order.
func New() string {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Validate reports whether s is a well-formed ULID.
func Validate(s string) error {
	if _, err := ulid.ParseStrict(s); err != nil {
		return oops.Code("INVALID_ID").With("id", s).Wrap(err)
	}
	return nil
}
