// Package eventlog stores the append-only history of device commands and
// inbound device messages.
package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/pillfleet-core/internal/infrastructure/database"
)

// TimeFormat is the stored timestamp layout. It is fixed-width so that
// lexical order of created_at equals chronological order.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

// SourceSystem labels entries that do not name a module.
const SourceSystem = "system"

// Page size limits for Recent.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Record is a log entry to append.
type Record struct {
	At       time.Time
	ModuleID *int64
	Source   string
	Message  string
}

// Entry is a stored log entry as returned to API clients.
type Entry struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	ModuleName *string   `json:"module_name"`
	Source     string    `json:"source"`
	Message    string    `json:"message"`
}

// Repository defines the event log operations.
type Repository interface {
	Append(ctx context.Context, rec Record) (int64, error)
	Recent(ctx context.Context, limit int) ([]Entry, error)
	ResolveModule(ctx context.Context, serial, label string) (*int64, error)
}

// SQLiteRepository implements Repository over a DB or a transaction.
type SQLiteRepository struct {
	db database.DBTX
}

// NewSQLiteRepository creates a new event log repository.
func NewSQLiteRepository(db database.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *SQLiteRepository) WithTx(tx database.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: tx}
}

// Append inserts an entry. A zero At is replaced with the current time and
// an empty Source with SourceSystem.
func (r *SQLiteRepository) Append(ctx context.Context, rec Record) (int64, error) {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	if strings.TrimSpace(rec.Source) == "" {
		rec.Source = SourceSystem
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO event_logs (created_at, module_id, source, message) VALUES (?, ?, ?, ?)`,
		rec.At.UTC().Format(TimeFormat), rec.ModuleID, rec.Source, rec.Message,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting event log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading event log id: %w", err)
	}
	return id, nil
}

// Recent returns up to limit entries, newest first. limit <= 0 selects
// DefaultLimit; values above MaxLimit are clamped.
func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT l.id, l.created_at, m.module_name, l.source, l.message
		FROM event_logs l
		LEFT JOIN modules m ON m.id = l.module_id
		ORDER BY l.created_at DESC, l.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying event logs: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e          Entry
			createdAt  string
			moduleName sql.NullString
		)
		if err := rows.Scan(&e.ID, &createdAt, &moduleName, &e.Source, &e.Message); err != nil {
			return nil, fmt.Errorf("scanning event log: %w", err)
		}
		e.Timestamp, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing event log timestamp %q: %w", createdAt, err)
		}
		if moduleName.Valid {
			name := moduleName.String
			e.ModuleName = &name
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event logs: %w", err)
	}
	return entries, nil
}

// ResolveModule finds the module a device message refers to. The label is
// matched against the modules of the device with the given serial first,
// then against any module of that name. A nil id means no match.
func (r *SQLiteRepository) ResolveModule(ctx context.Context, serial, label string) (*int64, error) {
	if label == "" || label == SourceSystem {
		return nil, nil
	}

	if serial != "" {
		id, err := r.lookupModule(ctx, `
			SELECT m.id FROM modules m
			JOIN dispensers d ON d.id = m.dispenser_id
			WHERE d.serial_number = ? AND m.module_name = ?`, serial, label)
		if err != nil || id != nil {
			return id, err
		}
	}

	return r.lookupModule(ctx,
		`SELECT id FROM modules WHERE module_name = ? ORDER BY id LIMIT 1`, label)
}

func (r *SQLiteRepository) lookupModule(ctx context.Context, query string, args ...any) (*int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving module: %w", err)
	}
	return &id, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeFormat, s)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
