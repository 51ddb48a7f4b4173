// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package errutil classifies and logs the coded errors produced across Aegis.
//
// Every error returned by a public operation is an oops error carrying a stable
// code (for example AUTH_INVALID_CREDENTIALS) and exactly one kind tag. The kind
// is the coarse taxonomy callers branch on; the code is for logs and tests.
package errutil

import (
	"github.com/samber/oops"
)

// Kind is the coarse error taxonomy.
type Kind string

// Error kinds.
const (
	KindValidation     Kind = "validation"
	KindConflict       Kind = "conflict"
	KindNotFound       Kind = "not_found"
	KindAuthentication Kind = "authentication"
	KindLocked         Kind = "locked"
	KindAuthorization  Kind = "authorization"
	KindInternal       Kind = "internal"
)

var kinds = []Kind{
	KindValidation,
	KindConflict,
	KindNotFound,
	KindAuthentication,
	KindLocked,
	KindAuthorization,
}

// New starts an oops builder tagged with kind and code.
func New(kind Kind, code string) oops.OopsErrorBuilder {
	return oops.Code(code).Tags(string(kind))
}

// Validation starts a builder for malformed input.
func Validation(code string) oops.OopsErrorBuilder { return New(KindValidation, code) }

// Conflict starts a builder for duplicate identities.
func Conflict(code string) oops.OopsErrorBuilder { return New(KindConflict, code) }

// NotFound starts a builder for unknown entities.
func NotFound(code string) oops.OopsErrorBuilder { return New(KindNotFound, code) }

// Authentication starts a builder for bad credentials or MFA codes.
func Authentication(code string) oops.OopsErrorBuilder { return New(KindAuthentication, code) }

// Locked starts a builder for locked accounts.
func Locked(code string) oops.OopsErrorBuilder { return New(KindLocked, code) }

// Authorization starts a builder for access denials.
func Authorization(code string) oops.OopsErrorBuilder { return New(KindAuthorization, code) }

// KindOf returns the kind tag of err, or KindInternal when err carries none.
// Wrapping preserves the innermost tag because oops merges tags up the chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return KindInternal
	}
	tags := oopsErr.Tags()
	for _, k := range kinds {
		for _, t := range tags {
			if t == string(k) {
				return k
			}
		}
	}
	return KindInternal
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Code returns the oops code of err, or "" when it has none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}
