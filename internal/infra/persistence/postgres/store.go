// Package postgres keeps FMEA studies in Postgres. State lives in the memory
// store; each commit upserts the touched buckets as JSONB rows.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"fmeacore/internal/infra/persistence/memory"
	"fmeacore/internal/infra/persistence/snapshot"
	"fmeacore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx database/sql driver
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	driverName = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/fmeacore?sslmode=disable"
)

var (
	openMu  sync.Mutex
	sqlOpen = sql.Open
)

// Store is a memory store hydrated from and flushed to Postgres.
type Store struct {
	*memory.Store
	db     *sql.DB
	writer *snapshot.Writer
}

// NewStore connects to dsn (DefaultDSN when empty), creates the state table
// and loads any saved studies.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	open := sqlOpen
	openMu.Unlock()
	db, err := open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	fail := func(err error) (*Store, error) {
		_ = db.Close()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return fail(fmt.Errorf("ping postgres: %w", err))
	}
	writer := snapshot.NewWriter(db, snapshot.Postgres)
	if err := writer.EnsureSchema(ctx); err != nil {
		return fail(err)
	}
	snap, found, err := writer.Load(ctx)
	if err != nil {
		return fail(err)
	}
	mem := memory.NewStore(engine)
	if found {
		mem.ImportState(snap)
	}
	mem.OnCommit(writer.Track)
	return &Store{Store: mem, db: db, writer: writer}, nil
}

// RunInTransaction commits in memory and then upserts the touched buckets.
// Buckets that fail to write stay pending for the next commit.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.writer.Flush(ctx, s.ExportState); err != nil {
		return res, fmt.Errorf("persist postgres snapshot: %w", err)
	}
	return res, nil
}

// Pending lists buckets not yet written.
func (s *Store) Pending() []string { return s.writer.Pending() }

// DB exposes the connection pool for tests.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen replaces the connection opener for tests and returns a
// function restoring the previous one.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
