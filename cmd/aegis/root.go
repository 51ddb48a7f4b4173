// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/aegis-pdp/aegis/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Aegis CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aegis",
		Short: "Aegis - a policy decision point",
		Long: `Aegis decides whether a user may perform an action on a resource,
combining role-based permissions with attribute-based policies.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/aegis/config.yaml if present)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewCheckCmd())
	cmd.AddCommand(NewBundleCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// resolveConfigFile returns --config, or the XDG config file when it exists.
// An empty result means built-in defaults and flags only.
func resolveConfigFile() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	path, ok, err := xdg.ConfigFile()
	if err != nil || !ok {
		return "", err
	}
	return path, nil
}
