// Package ledger keeps a durable log of response cache outcomes in SQLite.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cortexshell/cortex/pkg/models"
)

// Ledger records and summarizes cache events.
type Ledger struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS cache_events (
	id TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL,
	outcome TEXT NOT NULL,
	chunks INTEGER NOT NULL,
	bytes INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_cache_events_time ON cache_events(created_at);
CREATE INDEX IF NOT EXISTS idx_cache_events_fp ON cache_events(fingerprint);
`

// New opens the ledger database and runs auto-migration.
func New(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Record stores a cache event.
func (l *Ledger) Record(ctx context.Context, ev models.CacheEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO cache_events (id, fingerprint, model, outcome, chunks, bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Fingerprint, ev.Model, string(ev.Outcome), ev.Chunks, ev.Bytes, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record cache event: %w", err)
	}
	return nil
}

// Since returns events created at or after since, newest first.
func (l *Ledger) Since(ctx context.Context, since time.Time, limit int) ([]models.CacheEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, fingerprint, model, outcome, chunks, bytes, created_at
		 FROM cache_events WHERE created_at >= ? ORDER BY created_at DESC LIMIT ?`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query cache events: %w", err)
	}
	defer rows.Close()

	var events []models.CacheEvent
	for rows.Next() {
		var ev models.CacheEvent
		var outcome string
		if err := rows.Scan(&ev.ID, &ev.Fingerprint, &ev.Model, &outcome, &ev.Chunks, &ev.Bytes, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cache event: %w", err)
		}
		ev.Outcome = models.CacheOutcome(outcome)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Summary returns event counts and byte totals grouped by outcome.
func (l *Ledger) Summary(ctx context.Context) ([]models.OutcomeSummary, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*), COALESCE(SUM(bytes), 0)
		 FROM cache_events GROUP BY outcome ORDER BY outcome`,
	)
	if err != nil {
		return nil, fmt.Errorf("cache event summary: %w", err)
	}
	defer rows.Close()

	var out []models.OutcomeSummary
	for rows.Next() {
		var s models.OutcomeSummary
		var outcome string
		if err := rows.Scan(&outcome, &s.Count, &s.Bytes); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.Outcome = models.CacheOutcome(outcome)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Purge deletes every recorded event.
func (l *Ledger) Purge(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM cache_events`); err != nil {
		return fmt.Errorf("purge cache events: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}
