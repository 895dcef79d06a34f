package metrics

import "time"

// NoopSink is a Sink that discards all metrics.
// Used when metrics are disabled and as a safe default in tests.
type NoopSink struct{}

// NewNoopSink creates a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (NoopSink) EventProcessed(string)                                 {}
func (NoopSink) EventDeduped(string)                                   {}
func (NoopSink) ActionExecuted(string, time.Duration)                  {}
func (NoopSink) DeadLettered()                                         {}
func (NoopSink) ReconcileTick(string, time.Duration, int, error)       {}
func (NoopSink) SchemaCheck(string, bool)                              {}
func (NoopSink) TasksClaimed(int)                                      {}
func (NoopSink) CronFired()                                            {}
