// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/aegis-pdp/aegis/internal/pdp"
	"github.com/aegis-pdp/aegis/internal/store"
)

// StoresOpener opens the service stores. The returned function releases them.
type StoresOpener func(ctx context.Context, opts storeOptions, logger *slog.Logger) (pdp.Stores, func(), error)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// OpenStores opens the stores.
	// Default: openStores
	OpenStores StoresOpener
}

// storeOptions selects the storage backend.
type storeOptions struct {
	DatabaseURL string
	AutoMigrate bool
}

// Connection retry schedule for the database ping.
const (
	connectAttempts = 5
	connectBackoff  = 500 * time.Millisecond
)

// databaseURL returns url, or DATABASE_URL when url is empty.
func databaseURL(url string) string {
	if url != "" {
		return url
	}
	return os.Getenv("DATABASE_URL")
}

// openStores connects to PostgreSQL, or returns in-memory stores when no
// database is configured.
func openStores(ctx context.Context, opts storeOptions, logger *slog.Logger) (pdp.Stores, func(), error) {
	if opts.DatabaseURL == "" {
		logger.Warn("no database configured, state is kept in memory")
		return pdp.MemoryStores(), func() {}, nil
	}

	if opts.AutoMigrate {
		if err := migrateUp(opts.DatabaseURL); err != nil {
			return pdp.Stores{}, nil, err
		}
		logger.Info("database migrations applied")
	}

	pool, err := pgxpool.New(ctx, opts.DatabaseURL)
	if err != nil {
		return pdp.Stores{}, nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	backoff := retry.WithMaxRetries(connectAttempts, retry.NewExponential(connectBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := pool.Ping(ctx); pingErr != nil {
			logger.Warn("database not reachable, retrying", "error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return pdp.Stores{}, nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ping database").Wrap(err)
	}

	logger.Info("connected to database")
	return pdp.PostgresStores(pool), pool.Close, nil
}

func migrateUp(url string) error {
	m, err := store.NewMigrator(url)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return m.Up()
}
