// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/aegis-pdp/aegis/pkg/errutil"
)

// Pool is the subset of pgxpool.Pool used by Postgres. pgxmock pools satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements Store over the documents table. Values are encoded as
// JSONB; one table holds every collection, partitioned by kind.
type Postgres[T any] struct {
	pool Pool
	kind Kind
}

// Compile-time check that Postgres implements Store.
var _ Store[struct{}] = (*Postgres[struct{}])(nil)

// NewPostgres creates a store for one collection.
func NewPostgres[T any](pool Pool, kind Kind) *Postgres[T] {
	return &Postgres[T]{pool: pool, kind: kind}
}

// Get implements Store.
func (p *Postgres[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	var body []byte
	err := p.pool.QueryRow(ctx,
		`SELECT body FROM documents WHERE kind = $1 AND id = $2`,
		string(p.kind), id,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, oops.Code("STORE_NOT_FOUND").
			With("kind", string(p.kind)).
			With("id", id).
			Wrap(ErrNotFound)
	}
	if err != nil {
		return zero, oops.Code("STORE_GET_FAILED").
			With("operation", "select document").
			With("kind", string(p.kind)).
			With("id", id).
			Wrap(err)
	}

	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return zero, oops.Code("STORE_DECODE_FAILED").
			With("kind", string(p.kind)).
			With("id", id).
			Wrap(err)
	}
	return v, nil
}

// Put implements Store.
func (p *Postgres[T]) Put(ctx context.Context, id string, value T) error {
	if id == "" {
		return oops.Code("STORE_EMPTY_KEY").With("kind", string(p.kind)).Errorf("key cannot be empty")
	}
	body, err := json.Marshal(value)
	if err != nil {
		return oops.Code("STORE_ENCODE_FAILED").
			With("kind", string(p.kind)).
			With("id", id).
			Wrap(err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO documents (kind, id, body, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (kind, id) DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()
	`, string(p.kind), id, body)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return errutil.Conflict("STORE_UNIQUE_VIOLATION").
			With("kind", string(p.kind)).
			With("id", id).
			With("constraint", pgErr.ConstraintName).
			Wrap(err)
	}
	if err != nil {
		return oops.Code("STORE_PUT_FAILED").
			With("operation", "upsert document").
			With("kind", string(p.kind)).
			With("id", id).
			Wrap(err)
	}
	return nil
}

// Delete implements Store.
func (p *Postgres[T]) Delete(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM documents WHERE kind = $1 AND id = $2`,
		string(p.kind), id,
	)
	if err != nil {
		return oops.Code("STORE_DELETE_FAILED").
			With("operation", "delete document").
			With("kind", string(p.kind)).
			With("id", id).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("STORE_NOT_FOUND").
			With("kind", string(p.kind)).
			With("id", id).
			Wrap(ErrNotFound)
	}
	return nil
}

// Iterate implements Store. Rows are read fully before fn runs so callbacks
// never hold a pooled connection.
func (p *Postgres[T]) Iterate(ctx context.Context, fn func(id string, value T) error) error {
	rows, err := p.pool.Query(ctx,
		`SELECT id, body FROM documents WHERE kind = $1 ORDER BY id`,
		string(p.kind),
	)
	if err != nil {
		return oops.Code("STORE_ITERATE_FAILED").
			With("operation", "select documents").
			With("kind", string(p.kind)).
			Wrap(err)
	}
	defer rows.Close()

	type entry struct {
		id   string
		body []byte
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.body); err != nil {
			return oops.Code("STORE_SCAN_FAILED").
				With("kind", string(p.kind)).
				Wrap(err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return oops.Code("STORE_ROWS_ERROR").
			With("kind", string(p.kind)).
			Wrap(err)
	}
	rows.Close()

	for _, e := range entries {
		var v T
		if err := json.Unmarshal(e.body, &v); err != nil {
			return oops.Code("STORE_DECODE_FAILED").
				With("kind", string(p.kind)).
				With("id", e.id).
				Wrap(err)
		}
		if err := fn(e.id, v); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}
