// Package sqlite provides a SQLite-backed persistent store. The in-memory
// store runs transactions and rules; every commit writes the animals and
// events it touched as JSON rows before it becomes visible.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"herdcore/internal/infra/persistence/memory"
	"herdcore/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS animals (
		id TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		animal_id TEXT NOT NULL,
		payload BLOB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS events_animal ON events(animal_id)`,
}

// Store keeps one row per animal and per event.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens the database at path, creates the tables if missing and
// loads the stored herd.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = "herdcore.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	s := &Store{Store: memory.NewStore(engine), db: db, path: path}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	var snapshot memory.Snapshot
	for _, table := range memory.Tables() {
		if err := s.loadTable(table, &snapshot); err != nil {
			return err
		}
	}
	s.ImportState(snapshot)
	return nil
}

func (s *Store) loadTable(table string, snapshot *memory.Snapshot) error {
	rows, err := s.db.Query(`SELECT payload FROM ` + table)
	if err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		if err := snapshot.DecodeRow(table, payload); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", table, err)
	}
	return nil
}

func (s *Store) persist(ctx context.Context, commit memory.Commit) (retErr error) {
	rows, err := commit.Rows()
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, row := range rows {
		var stmt string
		var args []any
		switch row.Table {
		case memory.TableAnimals:
			stmt = `INSERT INTO animals(id,payload) VALUES(?,?) ON CONFLICT(id) DO UPDATE SET payload=excluded.payload`
			args = []any{row.ID, row.Payload}
		case memory.TableEvents:
			stmt = `INSERT INTO events(id,animal_id,payload) VALUES(?,?,?)`
			args = []any{row.ID, row.AnimalID, row.Payload}
		default:
			return fmt.Errorf("unknown table %q", row.Table)
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("write %s %s: %w", row.Table, row.ID, err)
		}
	}
	return tx.Commit()
}

// RunInTransaction applies fn and writes the touched rows to SQLite before
// the in-memory state is committed. A write failure leaves both untouched.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	var persistErr error
	res, err := s.Store.RunInTransactionWithHook(ctx, fn, func(ctx context.Context, commit memory.Commit) error {
		persistErr = s.persist(ctx, commit)
		return persistErr
	})
	if persistErr != nil {
		return res, domain.InfrastructureError{Op: "sqlite persist", Err: persistErr}
	}
	return res, err
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
