// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package auth provides the identity store and session manager.
//
// # Identity Store
//
// Users holds accounts: credential policy, argon2id hashing, failed-login
// lockout, optional TOTP multi-factor authentication and credential history.
// Role and permission membership is recorded on the User, but resolving it is
// the role graph's job; the cached effective permission set on a User is only
// written by its owner.
//
// # Session Manager
//
// Sessions issues opaque access and refresh tokens, stores only their SHA-256
// hashes, and moves sessions from active to expired or logged out.
//
// # Concurrency
//
// Users and Sessions are not safe for concurrent use. The decision point
// serialises every call under its own lock.
package auth
