// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-pdp/aegis/internal/config"
	"github.com/aegis-pdp/aegis/pkg/errutil"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.EnableRoleBasedAccess)
	assert.False(t, cfg.EnableMultiFactorAuth)
	assert.Equal(t, 60*time.Second, cfg.SweepInterval)
	assert.Zero(t, cfg.PasswordPolicy.MaxAge)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		field  string
	}{
		{"zero session timeout", func(c *config.Config) { c.SessionTimeout = 0 }, "session-timeout"},
		{"zero login attempts", func(c *config.Config) { c.MaxLoginAttempts = 0 }, "max-login-attempts"},
		{"zero sweep interval", func(c *config.Config) { c.SweepInterval = 0 }, "sweep-interval"},
		{"zero min length", func(c *config.Config) { c.PasswordPolicy.MinLength = 0 }, "password-policy.min-length"},
		{"negative reuse", func(c *config.Config) { c.PasswordPolicy.PreventReuse = -1 }, "password-policy.prevent-reuse"},
		{"negative max age", func(c *config.Config) { c.PasswordPolicy.MaxAge = -time.Hour }, "password-policy.max-age"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			errutil.AssertErrorContext(t, err, "field", tt.field)
			assert.True(t, errutil.Is(err, errutil.KindValidation))
		})
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aegis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
session-timeout: 15m
max-login-attempts: 3
enable-multi-factor-auth: true
password-policy:
  min-length: 12
  max-age: 2160h
`)
	cfg := config.Default()
	require.NoError(t, config.Load(path, nil, &cfg))

	assert.Equal(t, 15*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 3, cfg.MaxLoginAttempts)
	assert.True(t, cfg.EnableMultiFactorAuth)
	assert.Equal(t, 12, cfg.PasswordPolicy.MinLength)
	assert.Equal(t, 2160*time.Hour, cfg.PasswordPolicy.MaxAge)
	assert.True(t, cfg.PasswordPolicy.RequireUppercase, "untouched keys keep defaults")
	assert.Equal(t, 60*time.Second, cfg.SweepInterval)
}

func TestLoad_ChangedFlagsOverrideFile(t *testing.T) {
	path := writeFile(t, "max-login-attempts: 3\nsession-timeout: 15m\n")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs, config.Default())
	require.NoError(t, fs.Parse([]string{
		"--max-login-attempts=7",
		"--password-policy.require-special-chars=false",
	}))

	cfg := config.Default()
	require.NoError(t, config.Load(path, fs, &cfg))

	assert.Equal(t, 7, cfg.MaxLoginAttempts)
	assert.Equal(t, 15*time.Minute, cfg.SessionTimeout, "unchanged flag must not shadow file")
	assert.False(t, cfg.PasswordPolicy.RequireSpecialChars)
}

func TestLoad_EmbeddedConfig(t *testing.T) {
	type serveConfig struct {
		config.Config `koanf:",squash"`
		MetricsAddr   string `koanf:"metrics-addr"`
	}
	path := writeFile(t, "metrics-addr: 127.0.0.1:9100\nmax-login-attempts: 4\n")

	cfg := serveConfig{Config: config.Default()}
	require.NoError(t, config.Load(path, nil, &cfg))
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddr)
	assert.Equal(t, 4, cfg.MaxLoginAttempts)
}

func TestLoad_MissingFile(t *testing.T) {
	cfg := config.Default()
	err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), nil, &cfg)
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
}
