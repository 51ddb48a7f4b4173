// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package xdg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-pdp/aegis/pkg/errutil"
)

func TestConfigDir(t *testing.T) {
	t.Run("env var", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		assert.Equal(t, "/custom/config/aegis", ConfigDir())
	})

	t.Run("home fallback", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("HOME", "/home/testuser")
		assert.Equal(t, "/home/testuser/.config/aegis", ConfigDir())
	})
}

func TestConfigFile(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)
	want := filepath.Join(base, "aegis", ConfigFileName)

	path, ok, err := ConfigFile()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, want, path)

	require.NoError(t, os.MkdirAll(filepath.Dir(want), 0o700))
	require.NoError(t, os.WriteFile(want, []byte("max-login-attempts: 3\n"), 0o600))

	path, ok, err = ConfigFile()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, path)
}

func TestConfigFile_Directory(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)
	require.NoError(t, os.MkdirAll(filepath.Join(base, "aegis", ConfigFileName), 0o700))

	_, ok, err := ConfigFile()
	assert.False(t, ok)
	errutil.AssertErrorCode(t, err, "CONFIG_STAT_FAILED")
}
