// Package action executes the side effects produced by rule matching
// and due scheduled work, classifying failures and recording every
// attempt in the run log.
package action

import (
	"encoding/json"
	"time"
)

// SpecType identifies the kind of side effect an action performs.
type SpecType string

const (
	// SpecNotify delivers a notification through the configured channel.
	SpecNotify SpecType = "notify"
	// SpecRecordWrite writes field values back to the upstream record.
	SpecRecordWrite SpecType = "record_write"
	// SpecScheduleFollowup creates a one-shot delayed task.
	SpecScheduleFollowup SpecType = "schedule_followup"
)

// Spec is a declarative action specification, carried by rules,
// delayed tasks, and cron jobs.
type Spec struct {
	Type   SpecType          `json:"type" yaml:"type"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Param returns the named parameter or the empty string.
func (s Spec) Param(key string) string {
	if s.Params == nil {
		return ""
	}
	return s.Params[key]
}

// Intent is a unit of work destined for the Executor. Exactly one of
// RuleID, TaskID, JobID identifies the origin.
type Intent struct {
	RuleID  string            `json:"rule_id,omitempty"`
	TaskID  string            `json:"task_id,omitempty"`
	JobID   string            `json:"job_id,omitempty"`
	Spec    Spec              `json:"spec"`
	Context map[string]string `json:"context,omitempty"`
}

// origin returns a short description of what produced this intent,
// used in run-log and dead-letter payloads.
func (i Intent) origin() string {
	switch {
	case i.RuleID != "":
		return "rule:" + i.RuleID
	case i.TaskID != "":
		return "task:" + i.TaskID
	case i.JobID != "":
		return "job:" + i.JobID
	default:
		return "unknown"
	}
}

// Outcome is the result of one execution attempt.
type Outcome struct {
	Success   bool
	Retryable bool
	Detail    string
}

// attemptRecord is the JSON payload persisted to the run log (every
// attempt) and the dead-letter store (terminal failures only).
type attemptRecord struct {
	Origin    string            `json:"origin"`
	Type      SpecType          `json:"type"`
	Params    map[string]string `json:"params,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
	Success   bool              `json:"success"`
	Retryable bool              `json:"retryable,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Attempt   int               `json:"attempt"`
	At        time.Time         `json:"at"`
}

func (r attemptRecord) marshal() string {
	data, err := json.Marshal(r)
	if err != nil {
		return `{"origin":"` + r.Origin + `","detail":"payload marshal failed"}`
	}
	return string(data)
}
