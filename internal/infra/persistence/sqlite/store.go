// Package sqlite keeps FMEA studies in an embedded SQLite file. State lives in
// the memory store; each commit rewrites the touched buckets on disk.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"fmeacore/internal/infra/persistence/memory"
	"fmeacore/internal/infra/persistence/snapshot"
	"fmeacore/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.PersistentStore = (*Store)(nil)

// DefaultPath is used when no database path is configured.
const DefaultPath = "fmeacore.db"

// Store is a memory store hydrated from and flushed to SQLite.
type Store struct {
	*memory.Store
	db     *sql.DB
	writer *snapshot.Writer
	path   string
}

// NewStore opens (or creates) the database at path and loads any saved studies.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps writes serialised on the file
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	writer := snapshot.NewWriter(db, snapshot.SQLite)
	if err := writer.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	snap, found, err := writer.Load(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine)
	if found {
		mem.ImportState(snap)
	}
	mem.OnCommit(writer.Track)
	return &Store{Store: mem, db: db, writer: writer, path: path}, nil
}

// RunInTransaction commits in memory and then flushes the touched buckets.
// A flush failure is returned but the in-memory commit stands; the buckets
// stay pending and are retried on the next commit.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.writer.Flush(ctx, s.ExportState); err != nil {
		return res, fmt.Errorf("persist sqlite snapshot: %w", err)
	}
	return res, nil
}

// Pending lists buckets not yet written.
func (s *Store) Pending() []string { return s.writer.Pending() }

// DB exposes the database handle for tests.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
