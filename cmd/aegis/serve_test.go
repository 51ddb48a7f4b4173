// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-pdp/aegis/internal/pdp"
	"github.com/aegis-pdp/aegis/pkg/errutil"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func memoryDeps(closed *bool) *ServeDeps {
	return &ServeDeps{
		OpenStores: func(context.Context, storeOptions, *slog.Logger) (pdp.Stores, func(), error) {
			return pdp.MemoryStores(), func() { *closed = true }, nil
		},
	}
}

func TestLoadServeConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aegis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
session-timeout: 10m
max-login-attempts: 4
metrics-addr: ""
log-level: debug
password-policy:
  min-length: 12
`), 0o600))

	configFile = path
	t.Cleanup(func() { configFile = "" })
	t.Setenv("DATABASE_URL", "postgres://env/aegis")

	cmd := NewServeCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--max-login-attempts=7", "--audit-file=/tmp/audit.jsonl"}))

	cfg, err := loadServeConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 7, cfg.MaxLoginAttempts, "flags override the file")
	assert.Equal(t, 12, cfg.PasswordPolicy.MinLength)
	assert.True(t, cfg.PasswordPolicy.RequireUppercase, "unset keys keep defaults")
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "/tmp/audit.jsonl", cfg.AuditFile)
	assert.Equal(t, "postgres://env/aegis", cfg.DatabaseURL)
}

func TestLoadServeConfig_MissingFile(t *testing.T) {
	configFile = filepath.Join(t.TempDir(), "absent.yaml")
	t.Cleanup(func() { configFile = "" })

	_, err := loadServeConfig(NewServeCmd())
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
}

func TestRunServe_StartsAndStops(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	cfg := defaultServeConfig()
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.AuditFile = auditPath
	cfg.Bundle = modelFile

	out := &syncBuffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetErr(&syncBuffer{})

	var closed bool
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runServeWithDeps(ctx, cfg, cmd, memoryDeps(&closed)) }()

	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("Decision point started"))
	}, 5*time.Second, 10*time.Millisecond)
	_, err := os.Stat(auditPath)
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.True(t, closed)
}

func TestRunServe_RejectsBadLogFormat(t *testing.T) {
	cfg := defaultServeConfig()
	cfg.LogFormat = "xml"
	cmd := &cobra.Command{}
	cmd.SetErr(new(bytes.Buffer))

	var closed bool
	err := runServeWithDeps(context.Background(), cfg, cmd, memoryDeps(&closed))
	errutil.AssertErrorCode(t, err, "LOG_FORMAT_INVALID")
	assert.False(t, closed)
}

func TestRunServe_RejectsInvalidBundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\nusers: []\n"), 0o600))
	cfg := defaultServeConfig()
	cfg.MetricsAddr = ""
	cfg.Bundle = path
	cmd := &cobra.Command{}
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))

	var closed bool
	err := runServeWithDeps(context.Background(), cfg, cmd, memoryDeps(&closed))
	errutil.AssertErrorCode(t, err, "BUNDLE_INVALID")
	assert.True(t, closed)
}

func TestDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/aegis")
	assert.Equal(t, "postgres://flag/aegis", databaseURL("postgres://flag/aegis"))
	assert.Equal(t, "postgres://env/aegis", databaseURL(""))
}

func TestOpenStores_MemoryWithoutURL(t *testing.T) {
	st, closeFn, err := openStores(context.Background(), storeOptions{}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer closeFn()
	assert.NotNil(t, st.Users)
	assert.NotNil(t, st.Policies)
}
