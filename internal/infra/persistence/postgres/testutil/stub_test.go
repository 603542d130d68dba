package testutil

import (
	"context"
	"errors"
	"testing"
)

func TestStubUpsertAndSelect(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS state (bucket TEXT PRIMARY KEY, payload JSONB)"); err != nil {
		t.Fatalf("create: %v", err)
	}
	upsert := "INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload"
	for _, payload := range []string{"{}", `{"a":1}`} {
		if _, err := db.ExecContext(ctx, upsert, "animals", []byte(payload)); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if len(conn.Tables["state"]) != 1 {
		t.Fatalf("expected one row after upsert, got %v", conn.Tables["state"])
	}

	var bucket string
	var payload []byte
	if err := db.QueryRowContext(ctx, "SELECT bucket, payload FROM state").Scan(&bucket, &payload); err != nil {
		t.Fatalf("select: %v", err)
	}
	if bucket != "animals" || string(payload) != `{"a":1}` {
		t.Fatalf("unexpected row %s %s", bucket, payload)
	}

	res, err := db.ExecContext(ctx, "DELETE FROM state WHERE bucket=$1", "animals")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 || len(conn.Tables["state"]) != 0 {
		t.Fatalf("expected row deleted, affected %d", n)
	}
}

func TestStubInsertDoNothingKeepsFirstRow(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	t.Cleanup(func() { _ = db.Close() })
	insert := "INSERT INTO expenses (id, amount) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING"
	for _, amount := range []string{"10", "99"} {
		if _, err := db.ExecContext(ctx, insert, "e1", amount); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	rows := conn.Tables["expenses"]
	if len(rows) != 1 || rows[0]["amount"] != "10" {
		t.Fatalf("expected first row kept, got %v", rows)
	}
}

func TestStubFailures(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, "UPDATE state SET payload = $1", "x"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected unsupported statement, got %v", err)
	}
	conn.FailTables = map[string]bool{"state": true}
	if _, err := db.QueryContext(ctx, "SELECT bucket FROM state"); err == nil {
		t.Fatalf("expected table failure")
	}
	conn.FailTables = nil
	conn.FailExec = true
	if err := db.PingContext(ctx); err == nil {
		t.Fatalf("expected ping failure")
	}
}
