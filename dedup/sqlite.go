package dedup

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/trellis/errors"
)

// SQLiteGuard is the default guard backend. INSERT OR IGNORE against
// the signature primary key is the atomic check-and-mark; SQLite
// serializes the write so two racing callers cannot both insert.
type SQLiteGuard struct {
	db     *sql.DB
	window time.Duration
}

// NewSQLiteGuard creates a guard over the shared database.
func NewSQLiteGuard(db *sql.DB, window time.Duration) *SQLiteGuard {
	return &SQLiteGuard{db: db, window: window}
}

func (g *SQLiteGuard) Acquire(ctx context.Context, signature string) (bool, error) {
	now := time.Now().UTC()

	// An expired row for the same signature must not block a fresh
	// acquisition, so evict it first.
	cutoff := now.Add(-g.window).Format(time.RFC3339Nano)
	if _, err := g.db.ExecContext(ctx,
		`DELETE FROM dedup_entries WHERE signature = ? AND seen_at < ?`,
		signature, cutoff,
	); err != nil {
		return false, errors.Wrap(err, "failed to evict expired dedup entry")
	}

	result, err := g.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO dedup_entries (signature, seen_at) VALUES (?, ?)`,
		signature, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to acquire dedup entry")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return rows == 1, nil
}

func (g *SQLiteGuard) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-g.window).Format(time.RFC3339Nano)

	result, err := g.db.ExecContext(ctx,
		`DELETE FROM dedup_entries WHERE seen_at < ?`, cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup expired dedup entries")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

// Close is a no-op; the shared database is owned by the caller.
func (g *SQLiteGuard) Close() error {
	return nil
}
