// Package cron runs recurring jobs on standard five-field cron
// expressions. Ticks fire on minute boundaries; a tick that passes
// while the process is down is gone, there is no backfill.
package cron

import (
	"time"

	"github.com/teranos/trellis/action"
)

// Status is a job's lifecycle state. Deleted is terminal; active and
// paused toggle freely.
type Status string

const (
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusDeleted Status = "deleted"
)

// Job is a recurring scheduled action.
type Job struct {
	ID        string      `json:"id"`
	CronExpr  string      `json:"cron_expr"`
	Spec      action.Spec `json:"spec"`
	Status    Status      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
