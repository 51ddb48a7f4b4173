// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package auth

import (
	"strings"
	"unicode"

	"github.com/aegis-pdp/aegis/internal/config"
	"github.com/aegis-pdp/aegis/pkg/errutil"
)

// ValidatePassword checks password against policy. Every unmet requirement is
// listed in the error's "unmet" context.
func ValidatePassword(password string, policy config.PasswordPolicy) error {
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}

	var unmet []string
	if len([]rune(password)) < policy.MinLength {
		unmet = append(unmet, "min_length")
	}
	if policy.RequireUppercase && !upper {
		unmet = append(unmet, "uppercase")
	}
	if policy.RequireLowercase && !lower {
		unmet = append(unmet, "lowercase")
	}
	if policy.RequireNumbers && !digit {
		unmet = append(unmet, "number")
	}
	if policy.RequireSpecialChars && !special {
		unmet = append(unmet, "special")
	}
	if len(unmet) == 0 {
		return nil
	}
	return errutil.Validation(CodeWeakPassword).
		With("unmet", strings.Join(unmet, ",")).
		With("min_length", policy.MinLength).
		Errorf("password does not meet policy: %s", strings.Join(unmet, ", "))
}
