package action

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/trellis/errors"
	"github.com/teranos/trellis/internal/metrics"
	"github.com/teranos/trellis/source"
)

// Deliverer is the external collaborator that carries a notification to
// its channel. It may fail; the executor decides whether the failure is
// retryable.
type Deliverer interface {
	Deliver(ctx context.Context, intent Intent) error
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, intent Intent) error

func (f DelivererFunc) Deliver(ctx context.Context, intent Intent) error {
	return f(ctx, intent)
}

// FollowupScheduler creates one-shot delayed tasks for
// schedule_followup actions. Implemented by the delay store; an
// interface here keeps the dependency pointing one way.
type FollowupScheduler interface {
	ScheduleFollowup(ctx context.Context, target string, triggerDate time.Time, offsetDays int, spec Spec) (string, error)
}

// Executor performs the side effect for a matched rule or due scheduled
// task. Every attempt is recorded in the run log; terminal failures are
// dead-lettered exactly once.
type Executor struct {
	deliverer   Deliverer
	writer      source.Writer
	followups   FollowupScheduler
	runLog      *RunLogStore
	deadLetters *DeadLetterStore
	metrics     metrics.Sink
	timeout     time.Duration
	logger      *zap.SugaredLogger
}

// NewExecutor creates an executor. writer and followups may be nil when
// the deployment has no record-write or followup actions configured;
// intents of those types then fail permanently.
func NewExecutor(deliverer Deliverer, writer source.Writer, followups FollowupScheduler, runLog *RunLogStore, deadLetters *DeadLetterStore, sink metrics.Sink, logger *zap.SugaredLogger) *Executor {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Executor{
		deliverer:   deliverer,
		writer:      writer,
		followups:   followups,
		runLog:      runLog,
		deadLetters: deadLetters,
		metrics:     sink,
		timeout:     30 * time.Second,
		logger:      logger,
	}
}

// Execute performs a single attempt for the intent and records its
// outcome in the run log. It never dead-letters; that decision belongs
// to the caller, which knows the retry budget (see ExecuteWithRetry and
// the delay scheduler).
func (e *Executor) Execute(ctx context.Context, intent Intent, attempt int) Outcome {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	err := e.perform(ctx, intent)
	outcome := Outcome{Success: err == nil}
	if err != nil {
		outcome.Retryable = Classify(err)
		outcome.Detail = err.Error()
	}

	e.recordAttempt(intent, outcome, attempt)

	switch {
	case outcome.Success:
		e.metrics.ActionExecuted(metrics.OutcomeSuccess, time.Since(start))
	case outcome.Retryable:
		e.metrics.ActionExecuted(metrics.OutcomeRetryable, time.Since(start))
	default:
		e.metrics.ActionExecuted(metrics.OutcomePermanent, time.Since(start))
	}

	if err != nil {
		e.logger.Warnw("Action execution failed",
			"origin", intent.origin(),
			"type", intent.Spec.Type,
			"attempt", attempt,
			"retryable", outcome.Retryable,
			"error", err,
		)
	} else {
		e.logger.Debugw("Action executed",
			"origin", intent.origin(),
			"type", intent.Spec.Type,
			"attempt", attempt,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	return outcome
}

// ExecuteWithRetry attempts the intent up to maxAttempts times,
// dead-lettering on a permanent failure or on retry exhaustion.
// Used by callers with no durable retry state of their own (the
// webhook/poller pipeline and the cron scheduler).
func (e *Executor) ExecuteWithRetry(ctx context.Context, intent Intent, maxAttempts int) Outcome {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var outcome Outcome
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome = e.Execute(ctx, intent, attempt)
		if outcome.Success || !outcome.Retryable {
			break
		}
		if attempt < maxAttempts && ctx.Err() != nil {
			// Shutdown cut the retry loop short with budget left. The
			// failure is still transient, so it is not dead-lettered.
			return outcome
		}
	}

	if !outcome.Success {
		e.DeadLetter(intent, outcome, maxAttempts)
	}
	return outcome
}

// DeadLetter records a terminal failure for the intent. Callers invoke
// this exactly once per exhausted or permanently failed execution.
func (e *Executor) DeadLetter(intent Intent, outcome Outcome, attempt int) {
	record := attemptRecord{
		Origin:    intent.origin(),
		Type:      intent.Spec.Type,
		Params:    intent.Spec.Params,
		Context:   intent.Context,
		Success:   false,
		Retryable: outcome.Retryable,
		Detail:    outcome.Detail,
		Attempt:   attempt,
		At:        time.Now().UTC(),
	}
	if err := e.deadLetters.Append(record.marshal()); err != nil {
		// The dead-letter store is the source of truth for terminal
		// failures, so a write failure here is worth an error log.
		e.logger.Errorw("Failed to append dead letter",
			"origin", intent.origin(),
			"error", err,
		)
		return
	}
	e.metrics.DeadLettered()
}

// perform dispatches the intent to the side effect for its spec type.
func (e *Executor) perform(ctx context.Context, intent Intent) error {
	switch intent.Spec.Type {
	case SpecNotify:
		if e.deliverer == nil {
			return errors.NewInvalidRequestError("no deliverer configured")
		}
		return e.deliverer.Deliver(ctx, intent)

	case SpecRecordWrite:
		return e.performRecordWrite(ctx, intent)

	case SpecScheduleFollowup:
		return e.performScheduleFollowup(ctx, intent)

	default:
		return errors.NewInvalidRequestError("unknown action type %q", intent.Spec.Type)
	}
}

func (e *Executor) performRecordWrite(ctx context.Context, intent Intent) error {
	if e.writer == nil {
		return errors.NewInvalidRequestError("no record writer configured")
	}

	tableID := intent.Spec.Param("table_id")
	if tableID == "" {
		tableID = intent.Context["table_id"]
	}
	recordID := intent.Spec.Param("record_id")
	if recordID == "" {
		recordID = intent.Context["record_id"]
	}
	if tableID == "" || recordID == "" {
		return errors.NewInvalidRequestError("record_write requires table_id and record_id")
	}

	// Field values come from params prefixed "field.", e.g.
	// field.status: done.
	fields := make(map[string]string)
	for key, value := range intent.Spec.Params {
		if name, ok := strings.CutPrefix(key, "field."); ok {
			fields[name] = value
		}
	}
	if len(fields) == 0 {
		return errors.NewInvalidRequestError("record_write has no field.* params")
	}

	return e.writer.UpdateRecord(ctx, tableID, recordID, fields)
}

func (e *Executor) performScheduleFollowup(ctx context.Context, intent Intent) error {
	if e.followups == nil {
		return errors.NewInvalidRequestError("no followup scheduler configured")
	}

	offsetDays := 0
	if raw := intent.Spec.Param("offset_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return errors.NewInvalidRequestError("invalid offset_days %q", raw)
		}
		offsetDays = parsed
	}

	target := intent.Spec.Param("target")
	if target == "" {
		target = intent.Context["record_id"]
	}

	// The followup itself is a notify action carrying the remaining
	// params forward.
	followupParams := make(map[string]string)
	for key, value := range intent.Spec.Params {
		if key == "offset_days" || key == "target" {
			continue
		}
		followupParams[key] = value
	}

	triggerDate := time.Now().UTC().AddDate(0, 0, offsetDays)
	taskID, err := e.followups.ScheduleFollowup(ctx, target, triggerDate, offsetDays, Spec{
		Type:   SpecNotify,
		Params: followupParams,
	})
	if err != nil {
		return errors.Wrap(err, "failed to schedule followup task")
	}

	e.logger.Infow("Scheduled followup task",
		"task_id", taskID,
		"origin", intent.origin(),
		"trigger_date", triggerDate.Format(time.RFC3339),
	)
	return nil
}

func (e *Executor) recordAttempt(intent Intent, outcome Outcome, attempt int) {
	record := attemptRecord{
		Origin:    intent.origin(),
		Type:      intent.Spec.Type,
		Params:    intent.Spec.Params,
		Context:   intent.Context,
		Success:   outcome.Success,
		Retryable: outcome.Retryable,
		Detail:    outcome.Detail,
		Attempt:   attempt,
		At:        time.Now().UTC(),
	}
	if err := e.runLog.Append(record.marshal()); err != nil {
		e.logger.Errorw("Failed to append run log entry",
			"origin", intent.origin(),
			"error", err,
		)
	}
}
