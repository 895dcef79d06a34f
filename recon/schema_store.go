package recon

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/trellis/errors"
)

// SchemaStore keeps the last observed field-name-to-type map per table
// so the watcher can diff it against the live schema.
type SchemaStore struct {
	db *sql.DB
}

func NewSchemaStore(db *sql.DB) *SchemaStore {
	return &SchemaStore{db: db}
}

func (s *SchemaStore) Get(ctx context.Context, tableID string) (map[string]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT fields FROM table_schemas WHERE table_id = ?`, tableID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get schema for %s", tableID)
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, errors.Wrapf(err, "failed to decode schema for %s", tableID)
	}
	return fields, nil
}

func (s *SchemaStore) Upsert(ctx context.Context, tableID string, fields map[string]string) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return errors.Wrap(err, "failed to encode schema")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO table_schemas (table_id, fields, captured_at) VALUES (?, ?, ?)
		 ON CONFLICT(table_id) DO UPDATE SET fields = excluded.fields, captured_at = excluded.captured_at`,
		tableID, string(raw), now,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert schema for %s", tableID)
	}
	return nil
}
