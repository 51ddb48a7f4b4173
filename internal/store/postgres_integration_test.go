// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

//go:build integration

package store_test

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aegis-pdp/aegis/internal/store"
	"github.com/aegis-pdp/aegis/pkg/errutil"
)

// account mirrors the JSON fields the users unique indexes read.
type account struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Note     string `json:"note,omitempty"`
}

var (
	pool      *pgxpool.Pool
	container *postgres.PostgresContainer
)

// startPostgres runs a disposable PostgreSQL server and returns its URL.
func startPostgres(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	c, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("aegis_test"),
		postgres.WithUsername("aegis"),
		postgres.WithPassword("aegis"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, "", err
	}
	connStr, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, "", err
	}
	return c, connStr, nil
}

var _ = BeforeSuite(func() {
	ctx := context.Background()

	var (
		connStr string
		err     error
	)
	container, connStr, err = startPostgres(ctx)
	Expect(err).NotTo(HaveOccurred())

	migrator, err := store.NewMigrator(connStr)
	Expect(err).NotTo(HaveOccurred())
	Expect(migrator.Up()).To(Succeed())
	Expect(migrator.Close()).To(Succeed())

	pool, err = pgxpool.New(ctx, connStr)
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if pool != nil {
		pool.Close()
	}
	if container != nil {
		_ = container.Terminate(context.Background())
	}
})

var _ = Describe("Postgres", func() {
	var (
		ctx   context.Context
		users *store.Postgres[account]
	)

	BeforeEach(func() {
		ctx = context.Background()
		_, err := pool.Exec(ctx, "DELETE FROM documents")
		Expect(err).NotTo(HaveOccurred())
		users = store.NewPostgres[account](pool, store.KindUsers)
	})

	Describe("Put and Get", func() {
		It("round-trips a document through JSONB", func() {
			in := account{Username: "alice", Email: "alice@example.com", Note: "first"}
			Expect(users.Put(ctx, "u1", in)).To(Succeed())

			got, err := users.Get(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(in))
		})

		It("replaces the document stored under the same key", func() {
			Expect(users.Put(ctx, "u1", account{Username: "alice", Email: "alice@example.com"})).To(Succeed())
			Expect(users.Put(ctx, "u1", account{Username: "alice", Email: "alice@example.com", Note: "edited"})).To(Succeed())

			got, err := users.Get(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Note).To(Equal("edited"))

			n, err := store.Count[account](ctx, users)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
		})

		It("reports a missing key as not found", func() {
			_, err := users.Get(ctx, "missing")
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
			Expect(errutil.Code(err)).To(Equal("STORE_NOT_FOUND"))
		})

		It("keeps kinds apart under the same key", func() {
			other := store.NewPostgres[account](pool, store.KindSessions)
			Expect(users.Put(ctx, "k", account{Username: "alice", Email: "alice@example.com"})).To(Succeed())
			Expect(other.Put(ctx, "k", account{Username: "bob", Email: "bob@example.com"})).To(Succeed())

			got, err := users.Get(ctx, "k")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Username).To(Equal("alice"))
		})
	})

	Describe("unique indexes", func() {
		BeforeEach(func() {
			Expect(users.Put(ctx, "u1", account{Username: "alice", Email: "alice@example.com"})).To(Succeed())
		})

		It("rejects a username differing only in case as a conflict", func() {
			err := users.Put(ctx, "u2", account{Username: "ALICE", Email: "other@example.com"})
			Expect(err).To(HaveOccurred())
			Expect(errutil.Code(err)).To(Equal("STORE_UNIQUE_VIOLATION"))
			Expect(errutil.KindOf(err)).To(Equal(errutil.KindConflict))

			_, err = users.Get(ctx, "u2")
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		})

		It("rejects a duplicate email as a conflict", func() {
			err := users.Put(ctx, "u2", account{Username: "alicia", Email: "Alice@Example.com"})
			Expect(errutil.Code(err)).To(Equal("STORE_UNIQUE_VIOLATION"))
		})

		It("only constrains the users kind", func() {
			sessions := store.NewPostgres[account](pool, store.KindSessions)
			Expect(sessions.Put(ctx, "s1", account{Username: "alice", Email: "alice@example.com"})).To(Succeed())
		})
	})

	Describe("Delete", func() {
		It("removes the document and reports a second delete as not found", func() {
			Expect(users.Put(ctx, "u1", account{Username: "alice", Email: "alice@example.com"})).To(Succeed())
			Expect(users.Delete(ctx, "u1")).To(Succeed())

			err := users.Delete(ctx, "u1")
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("Iterate", func() {
		BeforeEach(func() {
			for _, name := range []string{"carol", "alice", "bob"} {
				Expect(users.Put(ctx, name, account{Username: name, Email: name + "@example.com"})).To(Succeed())
			}
		})

		It("visits documents of one kind in key order", func() {
			var keys []string
			Expect(users.Iterate(ctx, func(id string, _ account) error {
				keys = append(keys, id)
				return nil
			})).To(Succeed())
			Expect(keys).To(Equal([]string{"alice", "bob", "carol"}))
		})

		It("stops early on ErrStop", func() {
			var visited int
			Expect(users.Iterate(ctx, func(string, account) error {
				visited++
				return store.ErrStop
			})).To(Succeed())
			Expect(visited).To(Equal(1))
		})

		It("lists every value", func() {
			all, err := store.List[account](ctx, users)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(3))
		})
	})
})
