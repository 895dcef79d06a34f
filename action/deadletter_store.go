package action

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/trellis/errors"
)

// DeadLetterStore records executions that will not be retried further,
// one append-only row per terminal failure.
type DeadLetterStore struct {
	db *sql.DB
}

// NewDeadLetterStore creates a dead-letter store over the shared database.
func NewDeadLetterStore(db *sql.DB) *DeadLetterStore {
	return &DeadLetterStore{db: db}
}

// Append writes one dead-letter row.
func (s *DeadLetterStore) Append(payload string) error {
	_, err := s.db.Exec(
		`INSERT INTO dead_letters (id, created_at, payload) VALUES (?, ?, ?)`,
		uuid.NewString(),
		time.Now().UTC().Format(time.RFC3339Nano),
		payload,
	)
	if err != nil {
		return errors.Wrap(err, "failed to append dead letter")
	}
	return nil
}

// List returns the most recent dead letters, newest first.
func (s *DeadLetterStore) List(limit int) ([]LogEntry, error) {
	return listLogEntries(s.db, "dead_letters", limit)
}
