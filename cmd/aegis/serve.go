// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/aegis-pdp/aegis/internal/access/audit"
	"github.com/aegis-pdp/aegis/internal/bundle"
	"github.com/aegis-pdp/aegis/internal/config"
	"github.com/aegis-pdp/aegis/internal/logging"
	"github.com/aegis-pdp/aegis/internal/observability"
	"github.com/aegis-pdp/aegis/internal/pdp"
)

// serveConfig holds configuration for the serve command. Keys match the
// flag names and the YAML config file.
type serveConfig struct {
	config.Config `koanf:",squash"`

	DatabaseURL string `koanf:"database-url"`
	AutoMigrate bool   `koanf:"auto-migrate"`
	MetricsAddr string `koanf:"metrics-addr"`
	AuditFile   string `koanf:"audit-file"`
	Bundle      string `koanf:"bundle"`
	LogFormat   string `koanf:"log-format"`
	LogLevel    string `koanf:"log-level"`
}

// Default values for serve command flags.
const (
	defaultMetricsAddr = "127.0.0.1:9100"
	defaultLogFormat   = "json"
	defaultLogLevel    = "info"
	shutdownTimeout    = 5 * time.Second
)

func defaultServeConfig() serveConfig {
	return serveConfig{
		Config:      config.Default(),
		MetricsAddr: defaultMetricsAddr,
		LogFormat:   defaultLogFormat,
		LogLevel:    defaultLogLevel,
	}
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the decision point",
		Long: `Run the decision point with its session sweep, audit sink and
metrics/health endpoints until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServeConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	defaults := defaultServeConfig()
	config.RegisterFlags(cmd.Flags(), defaults.Config)
	cmd.Flags().String("database-url", "", "PostgreSQL URL (default: DATABASE_URL; empty keeps state in memory)")
	cmd.Flags().Bool("auto-migrate", false, "apply database migrations on start")
	cmd.Flags().String("metrics-addr", defaults.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("audit-file", "", "append granted decisions to this JSONL file")
	cmd.Flags().String("bundle", "", "import this authorization bundle on start")
	cmd.Flags().String("log-format", defaults.LogFormat, "log format (json or text)")
	cmd.Flags().String("log-level", defaults.LogLevel, "log level (debug, info, warn, error)")

	return cmd
}

func loadServeConfig(cmd *cobra.Command) (serveConfig, error) {
	path, err := resolveConfigFile()
	if err != nil {
		return serveConfig{}, err
	}
	cfg := defaultServeConfig()
	if err := config.Load(path, cmd.Flags(), &cfg); err != nil {
		return serveConfig{}, err
	}
	cfg.DatabaseURL = databaseURL(cfg.DatabaseURL)
	return cfg, nil
}

// runServeWithDeps runs the decision point until ctx ends or a signal
// arrives. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg serveConfig, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.OpenStores == nil {
		deps.OpenStores = openStores
	}

	logger, err := logging.Setup(logging.Options{
		Service: "aegis",
		Version: version,
		Format:  cfg.LogFormat,
		Level:   cfg.LogLevel,
	}, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, closeStores, err := deps.OpenStores(ctx, storeOptions{
		DatabaseURL: cfg.DatabaseURL,
		AutoMigrate: cfg.AutoMigrate,
	}, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	var (
		ready atomic.Bool
		svc   *pdp.Service
		obs   *observability.Server
		reg   prometheus.Registerer
	)
	if cfg.MetricsAddr != "" {
		obs = observability.NewServer(cfg.MetricsAddr, ready.Load,
			observability.WithLogger(logger),
			observability.WithStats(func(ctx context.Context) (any, error) {
				if !ready.Load() {
					return nil, oops.Code("PDP_NOT_READY").Errorf("decision point is starting")
				}
				return svc.GetAccessStats(ctx)
			}))
		reg = obs.Registry()
	}
	metrics := pdp.NewMetrics(reg)

	opts := []pdp.Option{pdp.WithLogger(logger), pdp.WithMetrics(metrics)}
	if cfg.AuditFile != "" {
		fw, err := audit.NewFileWriter(cfg.AuditFile)
		if err != nil {
			return err
		}
		auditLog := audit.NewLogger(audit.NewRing(audit.DefaultCapacity),
			audit.WithWriter(fw),
			audit.WithMetrics(metrics.Audit()),
			audit.WithLogger(logger))
		defer func() {
			if err := auditLog.Close(); err != nil {
				logger.Warn("error closing audit sink", "error", err)
			}
		}()
		opts = append(opts, pdp.WithAuditLogger(auditLog))
	}

	svc, err = pdp.New(ctx, cfg.Config, stores, opts...)
	if err != nil {
		return err
	}
	defer stopService(svc, logger)

	if cfg.Bundle != "" {
		if err := importBundleFile(ctx, svc, cfg.Bundle); err != nil {
			return err
		}
		logger.Info("bundle imported", "path", cfg.Bundle)
	}

	if obs != nil {
		obsErrCh, err := obs.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.MetricsAddr).Wrap(err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := obs.Stop(shutdownCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
		go monitorServerErrors(ctx, stop, obsErrCh, "observability", logger)
	}

	ready.Store(true)
	cmd.Println("Decision point started")
	logger.Info("decision point ready",
		"rbac", cfg.EnableRoleBasedAccess,
		"abac", cfg.EnableAttributeBasedAccess,
		"sessions", cfg.EnableSessionManagement)

	<-ctx.Done()
	logger.Info("shutting down")
	ready.Store(false)
	return nil
}

func importBundleFile(ctx context.Context, svc *pdp.Service, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return oops.Code("BUNDLE_READ_FAILED").With("path", path).Wrap(err)
	}
	b, err := bundle.Unmarshal(data)
	if err != nil {
		return oops.With("path", path).Wrap(err)
	}
	return svc.Import(ctx, b)
}

// monitorServerErrors cancels the process context when a server fails. It
// exits when the channel closes or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
