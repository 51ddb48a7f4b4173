// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package config defines the access-control settings and loads them from
// YAML files and command-line flags.
package config

import (
	"time"

	"github.com/aegis-pdp/aegis/pkg/errutil"
)

// PasswordPolicy constrains new credentials.
type PasswordPolicy struct {
	MinLength           int  `koanf:"min-length" json:"min_length" yaml:"min-length"`
	RequireUppercase    bool `koanf:"require-uppercase" json:"require_uppercase" yaml:"require-uppercase"`
	RequireLowercase    bool `koanf:"require-lowercase" json:"require_lowercase" yaml:"require-lowercase"`
	RequireNumbers      bool `koanf:"require-numbers" json:"require_numbers" yaml:"require-numbers"`
	RequireSpecialChars bool `koanf:"require-special-chars" json:"require_special_chars" yaml:"require-special-chars"`
	// PreventReuse is how many of the most recent credentials, the current one
	// included, a new one may not repeat. Zero disables the check.
	PreventReuse int `koanf:"prevent-reuse" json:"prevent_reuse" yaml:"prevent-reuse"`
	// MaxAge forces a credential change once exceeded. Zero disables expiry.
	MaxAge time.Duration `koanf:"max-age" json:"max_age" yaml:"max-age"`
}

// Config holds the access-control settings. Each Enable flag turns one check
// path on or off.
//
// Disabling role-based access lets every request from an active, unlocked user
// past the permission gate. It exists for emergency break-glass use only.
type Config struct {
	EnableRoleBasedAccess      bool `koanf:"enable-role-based-access" json:"enable_role_based_access" yaml:"enable-role-based-access"`
	EnableAttributeBasedAccess bool `koanf:"enable-attribute-based-access" json:"enable_attribute_based_access" yaml:"enable-attribute-based-access"`
	EnableMultiFactorAuth      bool `koanf:"enable-multi-factor-auth" json:"enable_multi_factor_auth" yaml:"enable-multi-factor-auth"`
	EnableSessionManagement    bool `koanf:"enable-session-management" json:"enable_session_management" yaml:"enable-session-management"`
	EnableAuditLogging         bool `koanf:"enable-audit-logging" json:"enable_audit_logging" yaml:"enable-audit-logging"`

	SessionTimeout   time.Duration  `koanf:"session-timeout" json:"session_timeout" yaml:"session-timeout"`
	MaxLoginAttempts int            `koanf:"max-login-attempts" json:"max_login_attempts" yaml:"max-login-attempts"`
	PasswordPolicy   PasswordPolicy `koanf:"password-policy" json:"password_policy" yaml:"password-policy"`

	// SweepInterval is how often expired sessions are swept.
	SweepInterval time.Duration `koanf:"sweep-interval" json:"sweep_interval" yaml:"sweep-interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		EnableRoleBasedAccess:      true,
		EnableAttributeBasedAccess: true,
		EnableMultiFactorAuth:      false,
		EnableSessionManagement:    true,
		EnableAuditLogging:         true,
		SessionTimeout:             30 * time.Minute,
		MaxLoginAttempts:           5,
		PasswordPolicy: PasswordPolicy{
			MinLength:           8,
			RequireUppercase:    true,
			RequireLowercase:    true,
			RequireNumbers:      true,
			RequireSpecialChars: true,
			PreventReuse:        5,
		},
		SweepInterval: 60 * time.Second,
	}
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch {
	case c.SessionTimeout <= 0:
		return errutil.Validation("CONFIG_INVALID").
			With("field", "session-timeout").
			With("value", c.SessionTimeout.String()).
			Errorf("session timeout must be positive")
	case c.MaxLoginAttempts < 1:
		return errutil.Validation("CONFIG_INVALID").
			With("field", "max-login-attempts").
			With("value", c.MaxLoginAttempts).
			Errorf("max login attempts must be at least 1")
	case c.SweepInterval <= 0:
		return errutil.Validation("CONFIG_INVALID").
			With("field", "sweep-interval").
			With("value", c.SweepInterval.String()).
			Errorf("sweep interval must be positive")
	}
	return c.PasswordPolicy.Validate()
}

// Validate checks value ranges.
func (p PasswordPolicy) Validate() error {
	switch {
	case p.MinLength < 1:
		return errutil.Validation("CONFIG_INVALID").
			With("field", "password-policy.min-length").
			With("value", p.MinLength).
			Errorf("minimum length must be at least 1")
	case p.PreventReuse < 0:
		return errutil.Validation("CONFIG_INVALID").
			With("field", "password-policy.prevent-reuse").
			With("value", p.PreventReuse).
			Errorf("prevent reuse must not be negative")
	case p.MaxAge < 0:
		return errutil.Validation("CONFIG_INVALID").
			With("field", "password-policy.max-age").
			With("value", p.MaxAge.String()).
			Errorf("max age must not be negative")
	}
	return nil
}
