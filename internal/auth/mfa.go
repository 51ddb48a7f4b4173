// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package auth

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/samber/oops"
)

// MFAVerifier enrols and checks second factors.
type MFAVerifier interface {
	// Generate creates a new secret for account and a provisioning URL.
	Generate(account string) (secret, url string, err error)
	// Verify reports whether code is valid for secret at t.
	Verify(secret, code string, t time.Time) bool
}

// TOTP implements MFAVerifier with RFC 6238 time-based codes: six digits,
// 30-second period, one step of clock skew either way.
type TOTP struct {
	issuer string
}

// NewTOTP creates a TOTP verifier whose provisioning URLs name issuer.
func NewTOTP(issuer string) *TOTP {
	return &TOTP{issuer: issuer}
}

// Generate implements MFAVerifier.
func (t *TOTP) Generate(account string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: account,
	})
	if err != nil {
		return "", "", oops.Code("MFA_GENERATE_FAILED").With("account", account).Wrap(err)
	}
	return key.Secret(), key.URL(), nil
}

// Verify implements MFAVerifier.
func (t *TOTP) Verify(secret, code string, at time.Time) bool {
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, at.UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
