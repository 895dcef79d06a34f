package delay

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/trellis/action"
	"github.com/teranos/trellis/errors"
)

// Store persists delayed tasks in SQLite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const taskColumns = `id, trigger_date, offset_days, status, action_spec, target, attempts, COALESCE(last_error, ''), created_at, updated_at`

// Create persists a new scheduled task and returns its id.
func (s *Store) Create(ctx context.Context, triggerDate time.Time, offsetDays int, target string, spec action.Spec) (string, error) {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode action spec")
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO delayed_tasks (id, trigger_date, offset_days, status, action_spec, target, attempts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id, triggerDate.UTC().Format(time.RFC3339Nano), offsetDays, StatusScheduled, string(specJSON), target, now, now,
	)
	if err != nil {
		return "", errors.Wrap(err, "failed to create delayed task")
	}
	return id, nil
}

// ScheduleFollowup implements the executor's followup hook.
func (s *Store) ScheduleFollowup(ctx context.Context, target string, triggerDate time.Time, offsetDays int, spec action.Spec) (string, error) {
	return s.Create(ctx, triggerDate, offsetDays, target, spec)
}

// Get returns a task by id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM delayed_tasks WHERE id = ?`, id,
	)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("task %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get task %s", id)
	}
	return task, nil
}

// List returns tasks, newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status Status, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `SELECT ` + taskColumns + ` FROM delayed_tasks`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Cancel moves a scheduled task to cancelled. A task that is already
// executing, finished, or unknown reports ErrNotFound: from the
// caller's point of view there is no cancellable task with that id.
func (s *Store) Cancel(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx,
		`UPDATE delayed_tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusCancelled, now, id, StatusScheduled,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to cancel task %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("cancellable task %s", id)
	}
	return nil
}

// ClaimDue atomically claims up to limit due tasks, moving them from
// scheduled to executing. Each claim is a compare-and-set on the status
// column, so two concurrent claimers can never both take the same task.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 50
	}

	cutoff := now.UTC().Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM delayed_tasks
		 WHERE status = ? AND trigger_date <= ?
		 ORDER BY trigger_date ASC LIMIT ?`,
		StatusScheduled, cutoff, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query due tasks")
	}

	var candidates []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan due task")
		}
		candidates = append(candidates, task)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	claimed := make([]*Task, 0, len(candidates))
	for _, task := range candidates {
		result, err := s.db.ExecContext(ctx,
			`UPDATE delayed_tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			StatusExecuting, stamp, task.ID, StatusScheduled,
		)
		if err != nil {
			return claimed, errors.Wrapf(err, "failed to claim task %s", task.ID)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return claimed, errors.Wrap(err, "failed to get rows affected")
		}
		if affected == 1 {
			task.Status = StatusExecuting
			claimed = append(claimed, task)
		}
	}
	return claimed, nil
}

// MarkCompleted finishes an executing task. The attempt count stays at
// the number of failed attempts that preceded the success.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx,
		`UPDATE delayed_tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusCompleted, now, id, StatusExecuting,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to complete task %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("executing task %s", id)
	}
	return nil
}

// MarkFailed terminally fails an executing task, counting the final
// attempt.
func (s *Store) MarkFailed(ctx context.Context, id string, lastError string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx,
		`UPDATE delayed_tasks
		 SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		StatusFailed, lastError, now, id, StatusExecuting,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to fail task %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("executing task %s", id)
	}
	return nil
}

// Reschedule returns an executing task to scheduled after a retryable
// failure, bumping its attempt count.
func (s *Store) Reschedule(ctx context.Context, id string, lastError string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx,
		`UPDATE delayed_tasks
		 SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		StatusScheduled, lastError, now, id, StatusExecuting,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to reschedule task %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("executing task %s", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var triggerDate, createdAt, updatedAt, specJSON string
	if err := row.Scan(
		&task.ID, &triggerDate, &task.OffsetDays, &task.Status,
		&specJSON, &task.Target, &task.Attempts, &task.LastError,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if task.TriggerDate, err = time.Parse(time.RFC3339Nano, triggerDate); err != nil {
		return nil, err
	}
	if task.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if task.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(specJSON), &task.Spec); err != nil {
		return nil, err
	}
	return &task, nil
}
