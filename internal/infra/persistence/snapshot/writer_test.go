package snapshot

import (
	"context"
	"strings"
	"testing"
	"time"

	"fmeacore/internal/infra/persistence/memory"
	"fmeacore/internal/infra/persistence/postgres/testutil"
	"fmeacore/pkg/domain"
)

func state() memory.Snapshot {
	return memory.Snapshot{
		Studies: map[string]domain.Study{"s1": {Base: domain.Base{ID: "s1"}, Title: "Pump"}},
		Items:   map[string]domain.Item{"i1": {Base: domain.Base{ID: "i1"}, StudyID: "s1", Severity: 2, Occurrence: 3, Detection: 4}},
	}
}

func newStubWriter(t *testing.T) (*Writer, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	w := NewWriter(db, Postgres)
	w.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }
	if err := w.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return w, conn
}

func TestFlushWritesOnlyTrackedBuckets(t *testing.T) {
	ctx := context.Background()
	w, conn := newStubWriter(t)
	if err := w.Flush(ctx, state); err != nil {
		t.Fatalf("flush without changes: %v", err)
	}
	if n := len(conn.Tables[Table]); n != 0 {
		t.Fatalf("expected no rows before tracking, got %d", n)
	}

	w.Track(ctx, []memory.Change{{Entity: domain.EntityItem, Action: domain.ChangeCreate}})
	if p := w.Pending(); len(p) != 2 || p[0] != memory.BucketStudies || p[1] != memory.BucketItems {
		t.Fatalf("unexpected pending %v", p)
	}
	if err := w.Flush(ctx, state); err != nil {
		t.Fatalf("flush: %v", err)
	}
	rows := conn.Tables[Table]
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, row := range rows {
		if at, ok := row["updated_at"].(time.Time); !ok || at.Year() != 2026 {
			t.Fatalf("expected updated_at on %v", row)
		}
	}
	if len(w.Pending()) != 0 {
		t.Fatalf("expected pending cleared")
	}

	snap, found, err := w.Load(ctx)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if snap.Items["i1"].StudyID != "s1" || snap.Studies["s1"].Title != "Pump" || len(snap.Actions) != 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestFlushKeepsBucketsPendingOnFailure(t *testing.T) {
	ctx := context.Background()
	w, conn := newStubWriter(t)
	w.Track(ctx, []memory.Change{{Entity: domain.EntityStudy}})

	conn.FailBegin = true
	if err := w.Flush(ctx, state); err == nil || !strings.Contains(err.Error(), "begin postgres snapshot") {
		t.Fatalf("expected begin failure, got %v", err)
	}
	conn.FailBegin = false
	conn.FailExec = true
	if err := w.Flush(ctx, state); err == nil || !strings.Contains(err.Error(), "upsert studies") {
		t.Fatalf("expected upsert failure, got %v", err)
	}
	if p := w.Pending(); len(p) != 1 || p[0] != memory.BucketStudies {
		t.Fatalf("expected studies to stay pending, got %v", p)
	}
	conn.FailExec = false
	if err := w.Flush(ctx, state); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(w.Pending()) != 0 {
		t.Fatalf("expected retry to clear pending")
	}
}

func TestLoadEmptyAndErrors(t *testing.T) {
	ctx := context.Background()
	w, conn := newStubWriter(t)
	if _, found, err := w.Load(ctx); err != nil || found {
		t.Fatalf("expected empty table, found=%v err=%v", found, err)
	}

	conn.Tables[Table] = []map[string]any{{"bucket": "studies", "payload": []byte("[")}}
	if _, _, err := w.Load(ctx); err == nil || !strings.Contains(err.Error(), "decode studies") {
		t.Fatalf("expected decode error, got %v", err)
	}

	conn.FailExec = true
	if err := w.EnsureSchema(ctx); err == nil || !strings.Contains(err.Error(), "ensure fmea_state table") {
		t.Fatalf("expected schema error, got %v", err)
	}
}

func TestDialectsTargetStateTable(t *testing.T) {
	for _, d := range []Dialect{SQLite, Postgres} {
		if !strings.Contains(d.Schema, Table) || !strings.HasPrefix(d.Upsert, "INSERT INTO "+Table) {
			t.Fatalf("%s dialect does not target %s", d.Name, Table)
		}
		if !strings.Contains(d.Upsert, "updated_at") {
			t.Fatalf("%s upsert must stamp updated_at", d.Name)
		}
	}
}
