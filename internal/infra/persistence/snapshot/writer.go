// Package snapshot mirrors the memory store's entity buckets into a SQL table.
// Commits are tracked through the memory store's commit hook and only the
// buckets a commit touched are rewritten on the next flush.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"fmeacore/internal/infra/persistence/memory"
)

// Table holds one row per bucket.
const Table = "fmea_state"

// Dialect carries the statements that differ between SQL engines. Upsert takes
// bucket, payload and updated_at in that order.
type Dialect struct {
	Name   string
	Schema string
	Upsert string
}

// SQLite stores payloads as BLOB.
var SQLite = Dialect{
	Name:   "sqlite",
	Schema: `CREATE TABLE IF NOT EXISTS ` + Table + ` (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	Upsert: `INSERT INTO ` + Table + `(bucket,payload,updated_at) VALUES(?,?,?) ` +
		`ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
}

// Postgres stores payloads as JSONB.
var Postgres = Dialect{
	Name:   "postgres",
	Schema: `CREATE TABLE IF NOT EXISTS ` + Table + ` (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	Upsert: `INSERT INTO ` + Table + `(bucket,payload,updated_at) VALUES($1,$2,$3) ` +
		`ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload, updated_at=EXCLUDED.updated_at`,
}

// Writer persists dirty buckets. It is safe for concurrent use.
type Writer struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time

	mu    sync.Mutex
	dirty map[string]bool
}

// NewWriter returns a writer over db. Call EnsureSchema before use.
func NewWriter(db *sql.DB, dialect Dialect) *Writer {
	return &Writer{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
		dirty:   make(map[string]bool),
	}
}

// EnsureSchema creates the state table when missing.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.ExecContext(ctx, w.dialect.Schema); err != nil {
		return fmt.Errorf("ensure %s table: %w", Table, err)
	}
	return nil
}

// Load reads every stored bucket. found is false on an empty table.
func (w *Writer) Load(ctx context.Context) (snap memory.Snapshot, found bool, err error) {
	rows, err := w.db.QueryContext(ctx, `SELECT bucket, payload FROM `+Table)
	if err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			bucket  string
			payload []byte
		)
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, false, fmt.Errorf("scan state: %w", err)
		}
		if err := snap.DecodeBucket(bucket, payload); err != nil {
			return memory.Snapshot{}, false, err
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("iterate state: %w", err)
	}
	return snap, found, nil
}

// Track marks the buckets touched by a commit. Its signature matches
// memory.CommitHook.
func (w *Writer) Track(_ context.Context, changes []memory.Change) {
	buckets := memory.BucketsFor(changes)
	if len(buckets) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range buckets {
		w.dirty[b] = true
	}
}

// Pending lists the buckets waiting for a flush, in write order.
func (w *Writer) Pending() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pendingLocked()
}

func (w *Writer) pendingLocked() []string {
	var out []string
	for _, b := range memory.Buckets {
		if w.dirty[b] {
			out = append(out, b)
		}
	}
	return out
}

// Flush writes the dirty buckets of state() in one SQL transaction. state is
// called under the writer lock so concurrent flushes never write an older
// snapshot over a newer one. Buckets stay dirty when the write fails.
func (w *Writer) Flush(ctx context.Context, state func() memory.Snapshot) (retErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pending := w.pendingLocked()
	if len(pending) == 0 {
		return nil
	}
	payloads, err := state().EncodeBuckets()
	if err != nil {
		return err
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s snapshot: %w", w.dialect.Name, err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	at := w.now()
	for _, bucket := range pending {
		if _, err := tx.ExecContext(ctx, w.dialect.Upsert, bucket, payloads[bucket], at); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s snapshot: %w", w.dialect.Name, err)
	}
	for _, bucket := range pending {
		delete(w.dirty, bucket)
	}
	return nil
}
