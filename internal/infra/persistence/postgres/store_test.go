package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"fmeacore/internal/infra/persistence/postgres/testutil"
	"fmeacore/pkg/domain"
)

func openStub(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, conn
}

func createStudy(ctx context.Context, tx domain.Transaction) (domain.Study, error) {
	return tx.CreateStudy(domain.StudyDraft{
		Title:                "Postgres",
		ProcessOrProductName: "Gearbox",
		ReviewDate:           time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Scope:                "Shaft",
		TeamLeadID:           "lead",
		TeamMembers:          []domain.TeamMember{{UserID: "lead"}},
	}.Study())
}

func TestNewStoreEnsuresStateTable(t *testing.T) {
	_, conn := openStub(t)
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS fmea_state") && strings.Contains(stmt, "JSONB") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected state table DDL, got %v", conn.Execs)
	}
}

func countUpserts(conn *testutil.StubConn) int {
	n := 0
	for _, stmt := range conn.Execs {
		if strings.HasPrefix(stmt, "INSERT INTO fmea_state") {
			n++
		}
	}
	return n
}

func TestRunInTransactionPersistsBuckets(t *testing.T) {
	ctx := context.Background()
	store, conn := openStub(t)
	var study domain.Study
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		study, err = createStudy(ctx, tx)
		if err != nil {
			return err
		}
		_, err = tx.CreateItem(domain.Item{StudyID: study.ID, ItemFunction: "Mesh", FailureMode: "Wear", Severity: 7, Occurrence: 3, Detection: 4})
		return err
	}); err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	if n := len(conn.Tables["fmea_state"]); n != 2 {
		t.Fatalf("expected studies and items rows, got %d", n)
	}
	if p := store.Pending(); len(p) != 0 {
		t.Fatalf("expected nothing pending, got %v", p)
	}

	before := countUpserts(conn)
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateAction(domain.Action{StudyID: study.ID, Title: "Harden shaft", OwnerUserID: "lead"})
		return err
	}); err != nil {
		t.Fatalf("create action: %v", err)
	}
	if got := countUpserts(conn) - before; got != 2 {
		t.Fatalf("expected studies and actions upserts, got %d", got)
	}

	reopened, err := NewStore(ctx, "", nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := reopened.GetStudy(study.ID)
	if !ok || got.HighestRPN == nil || *got.HighestRPN != 84 || got.ActionsCount != 1 {
		t.Fatalf("unexpected reloaded study %+v", got)
	}
	if n := len(reopened.ListItems(study.ID)); n != 1 {
		t.Fatalf("expected 1 reloaded item, got %d", n)
	}
}

func TestRunInTransactionStopsOnUserError(t *testing.T) {
	store, conn := openStub(t)
	sentinel := errors.New("user error")
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("expected user error, got %v", err)
	}
	if len(conn.Tables["fmea_state"]) != 0 {
		t.Fatalf("expected nothing persisted")
	}
}

func TestRunInTransactionReportsPersistFailure(t *testing.T) {
	ctx := context.Background()
	store, conn := openStub(t)
	conn.FailCommit = true
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := createStudy(ctx, tx)
		return err
	})
	if err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit failure, got %v", err)
	}
	if p := store.Pending(); len(p) != 1 || p[0] != "studies" {
		t.Fatalf("expected studies to stay pending, got %v", p)
	}

	conn.FailCommit = false
	if _, err := store.RunInTransaction(ctx, func(domain.Transaction) error { return nil }); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(store.Pending()) != 0 || len(conn.Tables["fmea_state"]) != 1 {
		t.Fatalf("expected pending bucket flushed on next commit")
	}
}

func TestNewStoreOpenAndPingErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("dial") })
	if _, err := NewStore(context.Background(), "dsn", nil); err == nil {
		t.Fatalf("expected open error")
	}
	restore()

	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore = OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "dsn", nil); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestNewStoreRejectsCorruptState(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.Tables["fmea_state"] = []map[string]any{{"bucket": "items", "payload": []byte("{not json")}}
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "dsn", nil); err == nil || !strings.Contains(err.Error(), "decode items") {
		t.Fatalf("expected decode error, got %v", err)
	}
}
