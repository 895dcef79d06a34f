// Package engine is the core pipeline: a change event comes in from
// the webhook or the poller, passes the idempotency guard, gets matched
// against the rule set, and each resulting intent is executed.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/trellis/action"
	"github.com/teranos/trellis/dedup"
	"github.com/teranos/trellis/errors"
	"github.com/teranos/trellis/event"
	"github.com/teranos/trellis/internal/metrics"
	"github.com/teranos/trellis/rules"
	"github.com/teranos/trellis/source"
)

// Config configures the engine pipeline.
type Config struct {
	// DedupWindow is the signature bucket size for the idempotency
	// guard.
	DedupWindow time.Duration
	// MaxAttempts is the retry budget per intent.
	MaxAttempts int
}

// Engine processes change events end to end.
type Engine struct {
	cfg      Config
	guard    dedup.Guard
	client   source.Client
	matcher  *rules.Matcher
	executor *action.Executor
	metrics  metrics.Sink
	log      *zap.SugaredLogger
}

func New(cfg Config, guard dedup.Guard, client source.Client, matcher *rules.Matcher, executor *action.Executor, sink metrics.Sink, log *zap.SugaredLogger) *Engine {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Engine{
		cfg:      cfg,
		guard:    guard,
		client:   client,
		matcher:  matcher,
		executor: executor,
		metrics:  sink,
		log:      log,
	}
}

// Process runs one event through dedup, matching, and execution.
// A duplicate is a clean no-op. Individual action failures are handled
// by the executor's retry and dead-letter path and do not fail the
// event; only infrastructure errors (guard, upstream fetch) propagate
// so the caller can signal the producer to retry.
func (e *Engine) Process(ctx context.Context, evt event.ChangeEvent) error {
	signature := evt.Signature(e.cfg.DedupWindow)

	fresh, err := e.guard.Acquire(ctx, signature)
	if err != nil {
		return errors.Wrap(err, "failed to check event signature")
	}
	if !fresh {
		e.metrics.EventDeduped(string(evt.Origin))
		e.log.Debugw("Duplicate event dropped",
			"table_id", evt.TableID,
			"record_id", evt.RecordID,
			"origin", evt.Origin,
		)
		return nil
	}

	fields, err := e.currentFields(ctx, evt)
	if err != nil {
		return err
	}

	intents := e.matcher.Match(evt, fields)
	e.metrics.EventProcessed(string(evt.Origin))
	e.log.Infow("Event processed",
		"table_id", evt.TableID,
		"record_id", evt.RecordID,
		"type", evt.Type,
		"origin", evt.Origin,
		"matched", len(intents),
	)

	for _, intent := range intents {
		e.executor.ExecuteWithRetry(ctx, intent, e.cfg.MaxAttempts)
	}
	return nil
}

// currentFields fetches the record's present values so conditions see
// the state after the change. A record deleted between the event and
// the fetch evaluates against no values rather than failing.
func (e *Engine) currentFields(ctx context.Context, evt event.ChangeEvent) (map[string]string, error) {
	fields, err := e.client.Record(ctx, evt.TableID, evt.RecordID)
	if errors.IsNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch record %s/%s", evt.TableID, evt.RecordID)
	}
	return fields, nil
}
