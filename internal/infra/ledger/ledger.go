// Package ledger receives expense records emitted for events that carry a
// cost. SQLLedger writes them to SQLite or Postgres; MemoryLedger keeps them
// in process.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"herdcore/internal/config"
	"herdcore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

var (
	_ domain.FinancialLedger = (*SQLLedger)(nil)
	_ domain.FinancialLedger = (*MemoryLedger)(nil)
)

// Dialect selects placeholder syntax.
type Dialect string

// Supported SQL dialects, named after their database/sql driver.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "pgx"
)

const expenseColumns = "id, animal_id, event_id, event_type, category, amount, currency, incurred_at, recorded_by"

// SQLLedger stores expenses in an "expenses" table. Recording the same
// expense ID twice keeps the first row.
type SQLLedger struct {
	db      *sql.DB
	dialect Dialect
}

// Open opens the ledger cfg describes. It returns nil when the ledger is disabled.
func Open(ctx context.Context, cfg config.Ledger) (domain.FinancialLedger, func() error, error) {
	switch cfg.Driver {
	case config.DriverNone, "":
		return nil, func() error { return nil }, nil
	case config.LedgerMemory:
		return NewMemory(), func() error { return nil }, nil
	case config.LedgerSQL:
		db, err := sql.Open(cfg.SQLDriver, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open ledger db: %w", err)
		}
		l, err := NewSQL(ctx, db, Dialect(cfg.SQLDriver))
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return l, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger driver %s", cfg.Driver)
	}
}

// NewSQL ensures the expenses table exists on db.
func NewSQL(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLLedger, error) {
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("unsupported ledger dialect %q", dialect)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		animal_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		category TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		incurred_at TEXT NOT NULL,
		recorded_by TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create expenses table: %w", err)
	}
	return &SQLLedger{db: db, dialect: dialect}, nil
}

func (l *SQLLedger) placeholders(n int) string {
	out := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			out += ", "
		}
		if l.dialect == DialectPostgres {
			out += fmt.Sprintf("$%d", i)
		} else {
			out += "?"
		}
	}
	return out
}

// RecordExpense inserts record.
func (l *SQLLedger) RecordExpense(ctx context.Context, record domain.ExpenseRecord) error {
	query := "INSERT INTO expenses (" + expenseColumns + ") VALUES (" + l.placeholders(9) + ") ON CONFLICT (id) DO NOTHING"
	_, err := l.db.ExecContext(ctx, query,
		record.ID,
		record.AnimalID,
		record.EventID,
		string(record.EventType),
		record.Category,
		record.Amount.String(),
		record.Currency,
		record.IncurredAt.UTC().Format(time.RFC3339Nano),
		record.RecordedBy,
	)
	if err != nil {
		return fmt.Errorf("insert expense %s: %w", record.ID, err)
	}
	return nil
}

// Expenses lists every stored expense ordered by date.
func (l *SQLLedger) Expenses(ctx context.Context) ([]domain.ExpenseRecord, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT "+expenseColumns+" FROM expenses")
	if err != nil {
		return nil, fmt.Errorf("select expenses: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.ExpenseRecord
	for rows.Next() {
		var (
			rec               domain.ExpenseRecord
			eventType, amount string
			incurredAt        string
		)
		if err := rows.Scan(&rec.ID, &rec.AnimalID, &rec.EventID, &eventType, &rec.Category, &amount, &rec.Currency, &incurredAt, &rec.RecordedBy); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		rec.EventType = domain.EventType(eventType)
		if rec.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("expense %s amount: %w", rec.ID, err)
		}
		if rec.IncurredAt, err = time.Parse(time.RFC3339Nano, incurredAt); err != nil {
			return nil, fmt.Errorf("expense %s date: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRecords(out)
	return out, nil
}

// MemoryLedger keeps expenses in memory.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]domain.ExpenseRecord
	fail    error
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]domain.ExpenseRecord)}
}

// FailWith makes RecordExpense return err until cleared with nil.
func (l *MemoryLedger) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = err
}

// RecordExpense stores record unless its ID is already present.
func (l *MemoryLedger) RecordExpense(_ context.Context, record domain.ExpenseRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return l.fail
	}
	if _, exists := l.records[record.ID]; !exists {
		l.records[record.ID] = record
	}
	return nil
}

// Expenses lists stored expenses ordered by date.
func (l *MemoryLedger) Expenses(context.Context) ([]domain.ExpenseRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.ExpenseRecord, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, r)
	}
	sortRecords(out)
	return out, nil
}

// Totals sums amounts per currency.
func Totals(records []domain.ExpenseRecord) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, r := range records {
		out[r.Currency] = out[r.Currency].Add(r.Amount)
	}
	return out
}

func sortRecords(records []domain.ExpenseRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].IncurredAt.Equal(records[j].IncurredAt) {
			return records[i].IncurredAt.Before(records[j].IncurredAt)
		}
		return records[i].ID < records[j].ID
	})
}
