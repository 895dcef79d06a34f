package delay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/trellis/action"
	"github.com/teranos/trellis/internal/metrics"
)

// SchedulerConfig configures the delayed-task scheduler.
type SchedulerConfig struct {
	Interval    time.Duration
	ClaimLimit  int
	MaxAttempts int
}

// Scheduler claims due tasks and executes them. Retry state lives on
// the task row, so a crash mid-flight loses at most the executing
// claim, never the task itself.
type Scheduler struct {
	cfg      SchedulerConfig
	store    *Store
	executor *action.Executor
	metrics  metrics.Sink
	log      *zap.SugaredLogger
}

func NewScheduler(cfg SchedulerConfig, store *Store, executor *action.Executor, sink metrics.Sink, log *zap.SugaredLogger) *Scheduler {
	if cfg.ClaimLimit <= 0 {
		cfg.ClaimLimit = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Scheduler{
		cfg:      cfg,
		store:    store,
		executor: executor,
		metrics:  sink,
		log:      log,
	}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Infow("Delayed task scheduler started",
		"interval", s.cfg.Interval,
		"claim_limit", s.cfg.ClaimLimit,
		"max_attempts", s.cfg.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			s.log.Infow("Delayed task scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Tick(ctx, time.Now()); err != nil {
				s.log.Errorw("Delayed task tick failed", "error", err)
			}
		}
	}
}

// Tick claims and executes everything due at the given instant.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	claimed, err := s.store.ClaimDue(ctx, now, s.cfg.ClaimLimit)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	s.metrics.TasksClaimed(len(claimed))
	for _, task := range claimed {
		s.execute(ctx, task)
	}
	return nil
}

func (s *Scheduler) execute(ctx context.Context, task *Task) {
	attempt := task.Attempts + 1
	intent := action.Intent{
		TaskID: task.ID,
		Spec:   task.Spec,
		Context: map[string]string{
			"target":       task.Target,
			"trigger_date": task.TriggerDate.Format(time.RFC3339),
		},
	}

	outcome := s.executor.Execute(ctx, intent, attempt)

	switch {
	case outcome.Success:
		if err := s.store.MarkCompleted(ctx, task.ID); err != nil {
			s.log.Errorw("Failed to mark task completed", "task_id", task.ID, "error", err)
		}

	case outcome.Retryable && attempt < s.cfg.MaxAttempts:
		if err := s.store.Reschedule(ctx, task.ID, outcome.Detail); err != nil {
			s.log.Errorw("Failed to reschedule task", "task_id", task.ID, "error", err)
			return
		}
		s.log.Infow("Task rescheduled after retryable failure",
			"task_id", task.ID,
			"attempt", attempt,
			"max_attempts", s.cfg.MaxAttempts)

	default:
		if err := s.store.MarkFailed(ctx, task.ID, outcome.Detail); err != nil {
			s.log.Errorw("Failed to mark task failed", "task_id", task.ID, "error", err)
		}
		s.executor.DeadLetter(intent, outcome, attempt)
	}
}
