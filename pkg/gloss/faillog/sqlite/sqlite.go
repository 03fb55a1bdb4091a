// Package sqlite persists the batch failure log in a SQLite database.
package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/cognicore/gloss/pkg/gloss/faillog"
)

type sqliteLog struct {
	db      *sql.DB
	entropy *ulid.MonotonicEntropy
}

// Open opens (creating if needed) a SQLite failure log with WAL mode enabled.
func Open(ctx context.Context, path string) (faillog.Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteLog{
		db:      db,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

func (l *sqliteLog) Close() error {
	return l.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS failed_batches (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	batch_index INTEGER NOT NULL,
	status TEXT NOT NULL,
	input_payload TEXT,
	last_response TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_failed_batches_run ON failed_batches(run_id);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Append implements faillog.Log. A missing record ID is filled in with a
// fresh ULID; existing rows are never touched.
func (l *sqliteLog) Append(ctx context.Context, r faillog.Record) error {
	if r.ID == "" {
		r.ID = ulid.MustNew(ulid.Now(), l.entropy).String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO failed_batches (id, run_id, batch_index, status, input_payload, last_response, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RunID, r.BatchIndex, r.Status, r.InputPayload, r.LastResponse,
		r.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// ByRun implements faillog.Log.
func (l *sqliteLog) ByRun(ctx context.Context, runID string) ([]faillog.Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, run_id, batch_index, status, input_payload, last_response, created_at
		FROM failed_batches WHERE run_id = ? ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []faillog.Record
	for rows.Next() {
		var r faillog.Record
		var created string
		if err := rows.Scan(&r.ID, &r.RunID, &r.BatchIndex, &r.Status, &r.InputPayload, &r.LastResponse, &created); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
