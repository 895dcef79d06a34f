package cron

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/trellis/action"
	"github.com/teranos/trellis/internal/metrics"
)

// Scheduler fires active jobs on minute boundaries. It loads the
// active set fresh every tick, so creates, pauses, and deletes take
// effect by the next minute without coordination.
type Scheduler struct {
	store       *Store
	executor    *action.Executor
	maxAttempts int
	metrics     metrics.Sink
	log         *zap.SugaredLogger
}

func NewScheduler(store *Store, executor *action.Executor, maxAttempts int, sink metrics.Sink, log *zap.SugaredLogger) *Scheduler {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Scheduler{
		store:       store,
		executor:    executor,
		maxAttempts: maxAttempts,
		metrics:     sink,
		log:         log,
	}
}

// Run fires due jobs until the context is cancelled. Each wakeup
// evaluates exactly one minute boundary; minutes that pass while the
// process is down are not replayed.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Infow("Cron scheduler started")

	for {
		now := time.Now()
		next := now.Truncate(time.Minute).Add(time.Minute)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Infow("Cron scheduler stopped")
			return
		case <-timer.C:
			s.Tick(ctx, next)
		}
	}
}

// tickPageSize bounds one page of the active-job walk per tick.
const tickPageSize = 500

// Tick executes every active job whose schedule lands on the given
// minute, paging through the whole active set. A job failure is logged
// and dead-lettered by the executor; it never changes the job's status,
// so the next matching minute fires again.
func (s *Scheduler) Tick(ctx context.Context, tick time.Time) {
	tick = tick.Truncate(time.Minute)

	afterID := ""
	for {
		jobs, err := s.store.ListActive(ctx, afterID, tickPageSize)
		if err != nil {
			s.log.Errorw("Failed to list active cron jobs", "error", err)
			return
		}
		if len(jobs) == 0 {
			return
		}

		s.fire(ctx, jobs, tick)

		if len(jobs) < tickPageSize {
			return
		}
		afterID = jobs[len(jobs)-1].ID
	}
}

func (s *Scheduler) fire(ctx context.Context, jobs []*Job, tick time.Time) {
	for _, job := range jobs {
		sched, err := ParseExpr(job.CronExpr)
		if err != nil {
			s.log.Errorw("Stored cron expression no longer parses",
				"job_id", job.ID,
				"cron_expr", job.CronExpr,
				"error", err)
			continue
		}
		if !sched.Next(tick.Add(-time.Minute)).Equal(tick) {
			continue
		}

		s.metrics.CronFired()
		s.log.Debugw("Cron job fired", "job_id", job.ID, "cron_expr", job.CronExpr)

		intent := action.Intent{
			JobID: job.ID,
			Spec:  job.Spec,
			Context: map[string]string{
				"fired_at": tick.UTC().Format(time.RFC3339),
			},
		}
		s.executor.ExecuteWithRetry(ctx, intent, s.maxAttempts)
	}
}
