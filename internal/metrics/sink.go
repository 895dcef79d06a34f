// Package metrics provides a pluggable metrics sink for the automation
// engine and its background loops.
package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the metrics backend is unavailable, implementations
// log warnings and continue.
type Sink interface {
	// Engine metrics
	EventProcessed(origin string)
	EventDeduped(origin string)

	// Executor metrics
	ActionExecuted(outcome string, duration time.Duration)
	DeadLettered()

	// Poller metrics
	ReconcileTick(table string, duration time.Duration, synthesized int, err error)
	SchemaCheck(table string, changed bool)

	// Scheduler metrics
	TasksClaimed(count int)
	CronFired()
}

// Outcome constants for ActionExecuted.
const (
	OutcomeSuccess   = "success"
	OutcomeRetryable = "retryable"
	OutcomePermanent = "permanent"
)
