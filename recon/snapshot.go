package recon

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/trellis/errors"
)

// SnapshotStore keeps the last observed field values per record so the
// poller can tell which fields actually changed and synthesize precise
// field-level events instead of coarse record-level ones.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Get returns the stored field values for a record, or ErrNotFound if
// the record has never been snapshotted.
func (s *SnapshotStore) Get(ctx context.Context, tableID, recordID string) (map[string]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT field_values FROM snapshots WHERE table_id = ? AND record_id = ?`,
		tableID, recordID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get snapshot for %s/%s", tableID, recordID)
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, errors.Wrapf(err, "failed to decode snapshot for %s/%s", tableID, recordID)
	}
	return fields, nil
}

// Upsert replaces the stored values for a record.
func (s *SnapshotStore) Upsert(ctx context.Context, tableID, recordID string, fields map[string]string) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return errors.Wrap(err, "failed to encode snapshot")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (table_id, record_id, field_values, captured_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(table_id, record_id) DO UPDATE SET field_values = excluded.field_values, captured_at = excluded.captured_at`,
		tableID, recordID, string(raw), now,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert snapshot for %s/%s", tableID, recordID)
	}
	return nil
}

// Delete drops a record's snapshot. Deleting a snapshot that does not
// exist is not an error; upstream deletions can race the poller.
func (s *SnapshotStore) Delete(ctx context.Context, tableID, recordID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE table_id = ? AND record_id = ?`,
		tableID, recordID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to delete snapshot for %s/%s", tableID, recordID)
	}
	return nil
}
