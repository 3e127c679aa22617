// Package postgres keeps low-level cursors in a PostgreSQL table so that a
// restarted reader resumes where it committed last.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"tributary/source/nakadi"
)

const DefaultTable = "nakadi_cursors"

// CursorManager is a nakadi.CursorManager backed by one row per
// (event_type, partition).
type CursorManager struct {
	db    *sql.DB
	table string
	log   *slog.Logger
}

// New wraps an open database. An empty table selects DefaultTable.
func New(db *sql.DB, table string, log *slog.Logger) *CursorManager {
	if table == "" {
		table = DefaultTable
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &CursorManager{db: db, table: table, log: log}
}

// Open connects with the lib/pq driver and pings the server.
func Open(ctx context.Context, dsn, table string, log *slog.Logger) (*CursorManager, error) {
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}
	return New(db, table, log), nil
}

func (m *CursorManager) Close() error { return m.db.Close() }

// Table is the quoted table name used in queries.
func (m *CursorManager) Table() string { return pq.QuoteIdentifier(m.table) }

// InitSchema creates the cursor table if it does not exist.
func (m *CursorManager) InitSchema(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		event_type VARCHAR(255) NOT NULL,
		partition_id VARCHAR(255) NOT NULL,
		cursor_offset TEXT NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		PRIMARY KEY (event_type, partition_id)
	)`, m.Table()))
	return err
}

func (m *CursorManager) Cursors(ctx context.Context, eventType string) ([]nakadi.Cursor, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT partition_id, cursor_offset FROM %s WHERE event_type = $1 ORDER BY partition_id", m.Table()), eventType)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query cursors: %w", err)
	}
	defer rows.Close()

	var out []nakadi.Cursor
	for rows.Next() {
		c := nakadi.Cursor{EventType: eventType}
		if err := rows.Scan(&c.Partition, &c.Offset); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan cursor: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: error iterating rows: %w", err)
	}
	return out, nil
}

func (m *CursorManager) OnStreamOpened(string, string) {}

func (m *CursorManager) OnSuccess(ctx context.Context, eventType string, c nakadi.Cursor) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (event_type, partition_id, cursor_offset, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (event_type, partition_id)
		DO UPDATE SET cursor_offset = EXCLUDED.cursor_offset, updated_at = EXCLUDED.updated_at`, m.Table()),
		eventType, c.Partition, c.Offset)
	if err != nil {
		return fmt.Errorf("postgres: failed to commit cursor: %w", err)
	}
	return nil
}

func (m *CursorManager) OnError(eventType string, c nakadi.Cursor, err error) {
	m.log.Warn("processing failed", "event_type", eventType, "partition", c.Partition, "offset", c.Offset, "error", err)
}

func init() {
	nakadi.Register("postgres", func(ctx context.Context, cfg nakadi.CursorStoreCfg, log *slog.Logger) (nakadi.CursorManager, error) {
		m, err := Open(ctx, cfg.DSN, cfg.Table, log)
		if err != nil {
			return nil, err
		}
		if err := m.InitSchema(ctx); err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("postgres: failed to initialise schema: %w", err)
		}
		return m, nil
	})
}
