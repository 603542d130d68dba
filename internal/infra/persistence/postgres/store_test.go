package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"herdcore/internal/infra/persistence/postgres/testutil"
	"herdcore/pkg/domain"
)

func openStubStore(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	t.Cleanup(OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil }))
	store, err := NewStore(context.Background(), "", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, conn
}

func countWrites(conn *testutil.StubConn, table string) int {
	n := 0
	for _, stmt := range conn.Execs {
		if strings.HasPrefix(stmt, "INSERT INTO "+table+"(") {
			n++
		}
	}
	return n
}

func enrolHeifer(tag string) func(domain.Transaction) error {
	return func(tx domain.Transaction) error {
		a, err := tx.CreateAnimal(domain.Animal{Tag: tag, Species: "cattle", Sex: domain.SexFemale})
		if err != nil {
			return err
		}
		_, err = tx.CreateEvent(domain.ReproductiveEvent{
			AnimalID:  a.ID,
			Type:      domain.EventInsemination,
			EventDate: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		})
		return err
	}
}

func TestNewStoreCreatesRecordTables(t *testing.T) {
	_, conn := openStubStore(t)
	if len(conn.Execs) < 2 ||
		!strings.Contains(conn.Execs[0], "CREATE TABLE IF NOT EXISTS "+animalsTable) ||
		!strings.Contains(conn.Execs[1], "CREATE TABLE IF NOT EXISTS "+eventsTable) {
		t.Fatalf("expected record table DDL first, got %v", conn.Execs)
	}
}

func TestCommitWritesTouchedRowsAndReloads(t *testing.T) {
	store, conn := openStubStore(t)
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, enrolHeifer("PG-1")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, enrolHeifer("PG-2")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rows := conn.Tables[animalsTable]; len(rows) != 2 {
		t.Fatalf("expected 2 animal rows, got %v", rows)
	}
	if rows := conn.Tables[eventsTable]; len(rows) != 2 {
		t.Fatalf("expected 2 event rows, got %v", rows)
	}

	// updating one animal writes that animal's row and nothing else
	animals, events := countWrites(conn, animalsTable), countWrites(conn, eventsTable)
	target := store.ListAnimals()[0].ID
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateAnimal(target, func(a *domain.Animal) error {
			a.Tag += "-b"
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := countWrites(conn, animalsTable) - animals; got != 1 {
		t.Fatalf("expected 1 animal write, got %d", got)
	}
	if got := countWrites(conn, eventsTable) - events; got != 0 {
		t.Fatalf("expected no event writes, got %d", got)
	}

	// a read-only transaction writes nothing
	before := len(conn.Execs)
	if _, err := store.RunInTransaction(ctx, func(domain.Transaction) error { return nil }); err != nil {
		t.Fatalf("noop run: %v", err)
	}
	if len(conn.Execs) != before {
		t.Fatalf("read-only transaction issued statements: %v", conn.Execs[before:])
	}

	reloaded, err := NewStore(ctx, "", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.ListAnimals()) != 2 || len(reloaded.ListEvents(domain.EventFilter{})) != 2 {
		t.Fatalf("expected hydrated herd, got %d animals", len(reloaded.ListAnimals()))
	}
	if a, _ := reloaded.GetAnimal(target); !strings.HasSuffix(a.Tag, "-b") {
		t.Fatalf("expected updated tag after reload, got %q", a.Tag)
	}
}

func TestCommitFailureLeavesMemoryUntouched(t *testing.T) {
	store, conn := openStubStore(t)
	conn.FailCommit = true
	_, err := store.RunInTransaction(context.Background(), enrolHeifer("PG-3"))
	var infra domain.InfrastructureError
	if !errors.As(err, &infra) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
	if len(store.ListAnimals()) != 0 {
		t.Fatalf("failed commit must not reach memory")
	}

	conn.FailCommit = false
	conn.FailTables = map[string]bool{eventsTable: true}
	if _, err := store.RunInTransaction(context.Background(), enrolHeifer("PG-3")); !errors.As(err, &infra) {
		t.Fatalf("expected infrastructure error on event write, got %v", err)
	}
	if len(store.ListAnimals()) != 0 {
		t.Fatalf("failed event write must not reach memory")
	}

	conn.FailTables = nil
	if _, err := store.RunInTransaction(context.Background(), enrolHeifer("PG-3")); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(store.ListAnimals()) != 1 {
		t.Fatalf("expected committed animal after retry")
	}
}

func TestNewStoreErrors(t *testing.T) {
	ctx := context.Background()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("dial") })
	if _, err := NewStore(ctx, "postgres://x", nil); err == nil {
		t.Fatalf("expected open error")
	}
	restore()

	db, conn := testutil.NewStubDB()
	conn.FailExec = true
	defer OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })()
	if _, err := NewStore(ctx, "", nil); err == nil {
		t.Fatalf("expected ping error")
	}
}

func TestLoadSnapshotRejectsCorruptRow(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.Tables[eventsTable] = []map[string]any{{"id": "e1", "payload": []byte("[oops")}}
	if _, err := loadSnapshot(context.Background(), db); err == nil {
		t.Fatalf("expected decode error")
	}
}
