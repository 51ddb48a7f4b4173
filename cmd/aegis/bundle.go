// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/aegis-pdp/aegis/internal/bundle"
	"github.com/aegis-pdp/aegis/internal/config"
	"github.com/aegis-pdp/aegis/internal/logging"
	"github.com/aegis-pdp/aegis/internal/pdp"
)

// NewBundleCmd creates the bundle subcommand.
func NewBundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Validate, export and import authorization bundles",
		Long: `An authorization bundle is a YAML or JSON document holding permissions,
roles and policies. Bundles are checked against a JSON Schema before use.`,
	}
	cmd.AddCommand(newBundleValidateCmd(), newBundleSchemaCmd(), newBundleExportCmd(nil), newBundleImportCmd(nil))
	return cmd
}

func newBundleValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check bundle files against the schema",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed int
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err == nil {
					_, err = bundle.Unmarshal(data)
				}
				if err != nil {
					failed++
					cmd.PrintErrf("%s: %v\n", path, err)
					continue
				}
				cmd.Printf("%s: ok\n", path)
			}
			if failed > 0 {
				return oops.Code(bundle.CodeInvalidBundle).
					With("failed", failed).
					Errorf("%d of %d bundles are invalid", failed, len(args))
			}
			return nil
		},
	}
}

func newBundleSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the bundle JSON Schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := bundle.Schema()
			if err != nil {
				return err
			}
			cmd.Println(string(data))
			return nil
		},
	}
}

func newBundleExportCmd(deps *ServeDeps) *cobra.Command {
	var dbURL, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the stored model as a bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStoredService(cmd, deps, dbURL, func(_ context.Context, svc *pdp.Service) error {
				data, err := bundle.Marshal(svc.Export())
				if err != nil {
					return err
				}
				if output == "" {
					_, err = cmd.OutOrStdout().Write(data)
					return oops.Code("BUNDLE_WRITE_FAILED").Wrap(err)
				}
				if err := os.WriteFile(output, data, 0o600); err != nil {
					return oops.Code("BUNDLE_WRITE_FAILED").With("path", output).Wrap(err)
				}
				cmd.PrintErrf("Bundle written to %s\n", output)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dbURL, "database-url", "", "PostgreSQL URL (default: DATABASE_URL)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

func newBundleImportCmd(deps *ServeDeps) *cobra.Command {
	var dbURL string

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Load a bundle into the stored model",
		Long: `Create or replace the permissions, roles and policies in FILE. Entities
missing from FILE are left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStoredService(cmd, deps, dbURL, func(ctx context.Context, svc *pdp.Service) error {
				if err := importBundleFile(ctx, svc, args[0]); err != nil {
					return err
				}
				cmd.Printf("Imported %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dbURL, "database-url", "", "PostgreSQL URL (default: DATABASE_URL)")
	return cmd
}

// withStoredService runs fn against a service backed by the configured
// database. A database is required: an in-memory model would be discarded
// on exit.
func withStoredService(cmd *cobra.Command, deps *ServeDeps, dbURL string, fn func(context.Context, *pdp.Service) error) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.OpenStores == nil {
		deps.OpenStores = openStores
	}
	url := databaseURL(dbURL)
	if url == "" {
		return oops.Code("CONFIG_INVALID").Errorf("--database-url or DATABASE_URL is required")
	}

	path, err := resolveConfigFile()
	if err != nil {
		return err
	}
	cfg := config.Default()
	if err := config.Load(path, nil, &cfg); err != nil {
		return err
	}
	logger, err := logging.Setup(logging.Options{Service: "aegis", Version: version, Format: "text", Level: "warn"}, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	stores, closeStores, err := deps.OpenStores(ctx, storeOptions{DatabaseURL: url}, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	svc, err := pdp.New(ctx, cfg, stores, pdp.WithLogger(logger))
	if err != nil {
		return err
	}
	defer stopService(svc, logger)

	return fn(ctx, svc)
}

func stopService(svc *pdp.Service, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		logger.Warn("error stopping decision point", "error", err)
	}
}
