// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package config

import (
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// RegisterFlags adds one flag per setting to fs, defaulting to defaults.
// Flag names match the koanf keys, so changed flags override the file.
func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.Bool("enable-role-based-access", defaults.EnableRoleBasedAccess, "enforce role permissions")
	fs.Bool("enable-attribute-based-access", defaults.EnableAttributeBasedAccess, "evaluate attribute policies")
	fs.Bool("enable-multi-factor-auth", defaults.EnableMultiFactorAuth, "require TOTP codes for enrolled users")
	fs.Bool("enable-session-management", defaults.EnableSessionManagement, "issue and validate sessions")
	fs.Bool("enable-audit-logging", defaults.EnableAuditLogging, "record granted access requests")
	fs.Duration("session-timeout", defaults.SessionTimeout, "session lifetime")
	fs.Int("max-login-attempts", defaults.MaxLoginAttempts, "failed logins before an account locks")
	fs.Duration("sweep-interval", defaults.SweepInterval, "interval between expired-session sweeps")

	p := defaults.PasswordPolicy
	fs.Int("password-policy.min-length", p.MinLength, "minimum credential length")
	fs.Bool("password-policy.require-uppercase", p.RequireUppercase, "require an uppercase letter")
	fs.Bool("password-policy.require-lowercase", p.RequireLowercase, "require a lowercase letter")
	fs.Bool("password-policy.require-numbers", p.RequireNumbers, "require a digit")
	fs.Bool("password-policy.require-special-chars", p.RequireSpecialChars, "require a special character")
	fs.Int("password-policy.prevent-reuse", p.PreventReuse, "number of most recent credentials, current included, that may not be reused")
	fs.Duration("password-policy.max-age", p.MaxAge, "credential lifetime (0 disables)")
}

// Load fills target from an optional YAML file and then from the changed
// flags in fs. Keys absent from both keep the values already in target.
// target is usually a *Config or a struct embedding Config with ",squash".
func Load(path string, fs *pflag.FlagSet, target any) error {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return oops.Code("CONFIG_LOAD_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if fs != nil {
		if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, changedOnly(fs)), nil); err != nil {
			return oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	if err := k.Unmarshal("", target); err != nil {
		return oops.Code("CONFIG_UNMARSHAL_FAILED").
			With("path", path).
			Wrap(err)
	}
	return nil
}

// changedOnly keeps explicitly set flags so unset flag defaults never
// shadow values from the file or the target's defaults.
func changedOnly(fs *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		if !f.Changed {
			return "", nil
		}
		return f.Name, posflag.FlagVal(fs, f)
	}
}
