// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/samber/oops"
)

// SessionTokenBytes is the entropy of access and refresh tokens.
const SessionTokenBytes = 32 // 32 bytes = 64 hex chars

// EndReason records why a session stopped being active.
type EndReason string

// End reasons.
const (
	EndLoggedOut EndReason = "logged_out"
	EndExpired   EndReason = "expired"
)

// Session is an authenticated session. Only token hashes are stored.
type Session struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	TokenHash      string     `json:"token_hash"`
	RefreshHash    string     `json:"refresh_hash"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	Active         bool       `json:"active"`
	EndReason      EndReason  `json:"end_reason,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// IsExpiredAt reports whether t is past the session's expiry. A session is
// still valid at exactly ExpiresAt.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return t.After(s.ExpiresAt)
}

func (s *Session) end(reason EndReason, at time.Time) {
	s.Active = false
	s.EndReason = reason
	s.EndedAt = &at
}

// IssuedSession is a session together with its plaintext tokens. The tokens
// are only ever available here, at issue or refresh time.
type IssuedSession struct {
	Session      Session `json:"session"`
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
}

// GenerateSessionToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
func GenerateSessionToken() (token, hash string, err error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	return token, HashSessionToken(token), nil
}

// HashSessionToken computes the SHA256 hash of a session token.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
