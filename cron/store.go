package cron

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	robcron "github.com/robfig/cron/v3"

	"github.com/teranos/trellis/action"
	"github.com/teranos/trellis/errors"
)

// parser accepts standard five-field cron expressions.
var parser = robcron.NewParser(
	robcron.Minute | robcron.Hour | robcron.Dom | robcron.Month | robcron.Dow,
)

// ParseExpr validates a five-field cron expression and returns its
// schedule.
func ParseExpr(expr string) (robcron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, errors.NewInvalidRequestError("invalid cron expression %q: %v", expr, err)
	}
	return sched, nil
}

// Store persists cron jobs in SQLite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create validates the expression and persists a new active job.
func (s *Store) Create(ctx context.Context, cronExpr string, spec action.Spec) (*Job, error) {
	if _, err := ParseExpr(cronExpr); err != nil {
		return nil, err
	}
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode action spec")
	}

	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		CronExpr:  cronExpr,
		Spec:      spec,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cron_jobs (id, cron_expr, action_spec, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.CronExpr, string(specJSON), job.Status,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cron job")
	}
	return job, nil
}

// Get returns a job by id, or ErrNotFound. Deleted jobs stay readable
// for audit purposes.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, cron_expr, action_spec, status, created_at, updated_at FROM cron_jobs WHERE id = ?`, id,
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("cron job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get cron job %s", id)
	}
	return job, nil
}

// List returns jobs, optionally filtered by status, newest first.
func (s *Store) List(ctx context.Context, status Status, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `SELECT id, cron_expr, action_spec, status, created_at, updated_at FROM cron_jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cron jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan cron job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListActive pages through active jobs in id order, returning those
// with an id greater than afterID. The scheduler walks every page so
// no active job sits beyond a listing cap.
func (s *Store) ListActive(ctx context.Context, afterID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cron_expr, action_spec, status, created_at, updated_at FROM cron_jobs
		 WHERE status = ? AND id > ?
		 ORDER BY id ASC LIMIT ?`,
		StatusActive, afterID, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active cron jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan cron job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateStatus moves a job between active and paused, or to deleted.
// Deleted is terminal; any transition away from it reports ErrNotFound.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status) error {
	switch status {
	case StatusActive, StatusPaused, StatusDeleted:
	default:
		return errors.NewInvalidRequestError("unknown cron job status %q", status)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx,
		`UPDATE cron_jobs SET status = ?, updated_at = ? WHERE id = ? AND status != ?`,
		status, now, id, StatusDeleted,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update cron job %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("cron job %s", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var specJSON, createdAt, updatedAt string
	if err := row.Scan(&job.ID, &job.CronExpr, &specJSON, &job.Status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(specJSON), &job.Spec); err != nil {
		return nil, err
	}
	return &job, nil
}
