package action

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/trellis/errors"
)

// RunLogStore is the append-only audit of every execution attempt
// outcome, success or failure. Rows are never updated or deleted.
type RunLogStore struct {
	db *sql.DB
}

// NewRunLogStore creates a run-log store over the shared database.
func NewRunLogStore(db *sql.DB) *RunLogStore {
	return &RunLogStore{db: db}
}

// LogEntry is one persisted run-log or dead-letter row.
type LogEntry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Payload   string    `json:"payload"`
}

// Append writes one audit row.
func (s *RunLogStore) Append(payload string) error {
	_, err := s.db.Exec(
		`INSERT INTO run_log (id, created_at, payload) VALUES (?, ?, ?)`,
		uuid.NewString(),
		time.Now().UTC().Format(time.RFC3339Nano),
		payload,
	)
	if err != nil {
		return errors.Wrap(err, "failed to append run log entry")
	}
	return nil
}

// List returns the most recent entries, newest first.
func (s *RunLogStore) List(limit int) ([]LogEntry, error) {
	return listLogEntries(s.db, "run_log", limit)
}

func listLogEntries(db *sql.DB, table string, limit int) ([]LogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	// table is one of the two fixed store names, never user input.
	rows, err := db.Query(
		`SELECT id, created_at, payload FROM `+table+` ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s entries", table)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var entry LogEntry
		var createdAt string
		if err := rows.Scan(&entry.ID, &createdAt, &entry.Payload); err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s entry", table)
		}
		entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse created_at for %s entry %s", table, entry.ID)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
