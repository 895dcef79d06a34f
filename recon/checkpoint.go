// Package recon recovers changes the webhook path missed. A poller
// walks each watched table from a persisted checkpoint, diffs the
// upstream state against stored snapshots, and synthesizes change
// events for anything that drifted. A schema watcher flags upstream
// schema changes that would silently break active rules.
package recon

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/trellis/errors"
)

// CheckpointStore persists the per-table modification-time cursor. The
// cursor is a millisecond timestamp; records modified at or before it
// are considered already processed.
type CheckpointStore struct {
	db *sql.DB
}

func NewCheckpointStore(db *sql.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Get returns the cursor for a table. A table never seen before starts
// at zero, which makes the first poll a full walk.
func (s *CheckpointStore) Get(ctx context.Context, tableID string) (int64, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor_ms FROM checkpoints WHERE table_id = ?`, tableID,
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to get checkpoint for %s", tableID)
	}
	return cursor, nil
}

// Set upserts the cursor. Callers only ever move it forward.
func (s *CheckpointStore) Set(ctx context.Context, tableID string, cursorMs int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (table_id, cursor_ms, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(table_id) DO UPDATE SET cursor_ms = excluded.cursor_ms, updated_at = excluded.updated_at`,
		tableID, cursorMs, now,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to set checkpoint for %s", tableID)
	}
	return nil
}
