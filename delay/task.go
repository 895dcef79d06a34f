// Package delay runs one-shot tasks at a future date. Tasks are
// persisted rows, claimed atomically by the scheduler, so a task fires
// at most once even with concurrent claimers.
package delay

import (
	"time"

	"github.com/teranos/trellis/action"
)

// Status is a task's lifecycle state. Transitions are one-directional:
// scheduled -> executing -> completed or failed, scheduled -> cancelled.
// A retryable failure moves executing back to scheduled until the
// attempt budget runs out.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Task is a one-shot delayed action.
type Task struct {
	ID          string      `json:"id"`
	TriggerDate time.Time   `json:"trigger_date"`
	OffsetDays  int         `json:"offset_days"`
	Status      Status      `json:"status"`
	Spec        action.Spec `json:"spec"`
	// Target identifies what the task is about, typically the record
	// that caused it to be scheduled.
	Target    string    `json:"target"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
