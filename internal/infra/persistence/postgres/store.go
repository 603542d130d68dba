// Package postgres keeps the herd in Postgres, one JSONB row per animal and
// per event. The in-memory store runs transactions and rules; every commit
// writes the rows it touched in a single database transaction.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"herdcore/internal/infra/persistence/memory"
	"herdcore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	driverName   = "pgx"
	defaultDSN   = "postgres://localhost/herdcore?sslmode=disable"
	tablePrefix  = "herd_"
	animalsTable = tablePrefix + memory.TableAnimals
	eventsTable  = tablePrefix + memory.TableEvents
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ` + animalsTable + ` (
		id TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ` + eventsTable + ` (
		id TEXT PRIMARY KEY,
		animal_id TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ` + eventsTable + `_animal ON ` + eventsTable + `(animal_id)`,
}

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store is a memory.Store whose commits are written through to Postgres.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore connects to dsn (defaultDSN when empty), creates the tables if
// missing and loads the stored herd.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

// RunInTransaction runs fn against the in-memory state and commits it only
// after the touched rows are stored.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	var writeErr error
	res, err := s.Store.RunInTransactionWithHook(ctx, fn, func(ctx context.Context, commit memory.Commit) error {
		writeErr = s.write(ctx, commit)
		return writeErr
	})
	if writeErr != nil {
		return res, domain.InfrastructureError{Op: "postgres write", Err: writeErr}
	}
	return res, err
}

// DB returns the connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	var snapshot memory.Snapshot
	for _, table := range memory.Tables() {
		if err := loadTable(ctx, db, table, &snapshot); err != nil {
			return memory.Snapshot{}, err
		}
	}
	return snapshot, nil
}

func loadTable(ctx context.Context, db *sql.DB, table string, snapshot *memory.Snapshot) error {
	name := tablePrefix + table
	rows, err := db.QueryContext(ctx, `SELECT payload FROM `+name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan %s: %w", name, err)
		}
		if err := snapshot.DecodeRow(table, payload); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) write(ctx context.Context, commit memory.Commit) error {
	rows, err := commit.Rows()
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	now := time.Now().UTC()
	for _, row := range rows {
		var execErr error
		switch row.Table {
		case memory.TableAnimals:
			_, execErr = tx.ExecContext(ctx,
				`INSERT INTO `+animalsTable+`(id, payload, updated_at) VALUES($1, $2, $3) ON CONFLICT(id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
				row.ID, row.Payload, now)
		case memory.TableEvents:
			_, execErr = tx.ExecContext(ctx,
				`INSERT INTO `+eventsTable+`(id, animal_id, payload, created_at) VALUES($1, $2, $3, $4) ON CONFLICT(id) DO NOTHING`,
				row.ID, row.AnimalID, row.Payload, now)
		default:
			execErr = fmt.Errorf("unknown table %q", row.Table)
		}
		if execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("write %s %s: %w", row.Table, row.ID, execErr)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// OverrideSQLOpen replaces the function used to open connections and returns
// a func restoring the previous one.
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
