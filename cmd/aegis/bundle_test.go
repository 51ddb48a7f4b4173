// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-pdp/aegis/internal/bundle"
	"github.com/aegis-pdp/aegis/internal/pdp"
	"github.com/aegis-pdp/aegis/pkg/errutil"
)

// sharedStores hands the same in-memory stores to every command so that
// one command sees what an earlier one wrote.
func sharedStores(t *testing.T) (*ServeDeps, *int) {
	t.Helper()
	st := pdp.MemoryStores()
	var opened int
	return &ServeDeps{
		OpenStores: func(_ context.Context, opts storeOptions, _ *slog.Logger) (pdp.Stores, func(), error) {
			assert.Equal(t, "postgres://aegis@localhost/aegis", opts.DatabaseURL)
			opened++
			return st, func() {}, nil
		},
	}, &opened
}

func TestBundleValidate(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("version: 2\n"), 0o600))

	t.Run("valid", func(t *testing.T) {
		cmd := NewRootCmd()
		out := new(bytes.Buffer)
		cmd.SetOut(out)
		cmd.SetArgs([]string{"bundle", "validate", modelFile})

		require.NoError(t, cmd.Execute())
		assert.Contains(t, out.String(), modelFile+": ok")
	})

	t.Run("one invalid", func(t *testing.T) {
		cmd := NewRootCmd()
		errOut := new(bytes.Buffer)
		cmd.SetOut(new(bytes.Buffer))
		cmd.SetErr(errOut)
		cmd.SetArgs([]string{"bundle", "validate", modelFile, bad})

		err := cmd.Execute()
		errutil.AssertErrorCode(t, err, bundle.CodeInvalidBundle)
		errutil.AssertErrorContext(t, err, "failed", 1)
		assert.Contains(t, errOut.String(), bad)
	})
}

func TestBundleSchema(t *testing.T) {
	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetArgs([]string{"bundle", "schema"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), bundle.SchemaID)
}

func TestBundleImportExport(t *testing.T) {
	deps, opened := sharedStores(t)
	url := "--database-url=postgres://aegis@localhost/aegis"

	imp := newBundleImportCmd(deps)
	imp.SetOut(new(bytes.Buffer))
	imp.SetArgs([]string{url, modelFile})
	require.NoError(t, imp.Execute())

	output := filepath.Join(t.TempDir(), "export.yaml")
	exp := newBundleExportCmd(deps)
	exp.SetOut(new(bytes.Buffer))
	exp.SetErr(new(bytes.Buffer))
	exp.SetArgs([]string{url, "--output", output})
	require.NoError(t, exp.Execute())
	assert.Equal(t, 2, *opened)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	got, err := bundle.Unmarshal(data)
	require.NoError(t, err)
	assert.Len(t, got.Permissions, 3)
	require.Len(t, got.Roles, 3)
	assert.Equal(t, "USER", got.Roles[0].Name)
	require.Len(t, got.Policies, 1)
	assert.Equal(t, "night-freeze", got.Policies[0].Name)
}

func TestBundleExport_Stdout(t *testing.T) {
	deps, _ := sharedStores(t)
	exp := newBundleExportCmd(deps)
	out := new(bytes.Buffer)
	exp.SetOut(out)
	exp.SetArgs([]string{"--database-url=postgres://aegis@localhost/aegis"})

	require.NoError(t, exp.Execute())
	assert.Contains(t, out.String(), "version: 1")
}

func TestBundleImport_RequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cmd := newBundleImportCmd(nil)
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{modelFile})

	errutil.AssertErrorCode(t, cmd.Execute(), "CONFIG_INVALID")
}
