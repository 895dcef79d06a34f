package recon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/trellis/errors"
	"github.com/teranos/trellis/event"
	"github.com/teranos/trellis/internal/metrics"
	"github.com/teranos/trellis/source"
)

// Processor receives synthesized change events. The engine implements
// it; the poller only knows how to produce events, not what happens to
// them.
type Processor interface {
	Process(ctx context.Context, evt event.ChangeEvent) error
}

// PollerConfig configures the compensating poller.
type PollerConfig struct {
	Interval  time.Duration
	Tables    []string
	BatchSize int
}

// Poller periodically walks each watched table from its checkpoint,
// diffs upstream records against stored snapshots, and feeds the
// differences through the processor as poller-origin events. Webhook
// and poller paths converge on the same dedup guard, so a change seen
// by both fires once.
type Poller struct {
	cfg         PollerConfig
	client      source.Client
	checkpoints *CheckpointStore
	snapshots   *SnapshotStore
	processor   Processor
	metrics     metrics.Sink
	log         *zap.SugaredLogger

	ticking sync.Mutex
}

func NewPoller(
	cfg PollerConfig,
	client source.Client,
	checkpoints *CheckpointStore,
	snapshots *SnapshotStore,
	processor Processor,
	sink metrics.Sink,
	log *zap.SugaredLogger,
) *Poller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Poller{
		cfg:         cfg,
		client:      client,
		checkpoints: checkpoints,
		snapshots:   snapshots,
		processor:   processor,
		metrics:     sink,
		log:         log,
	}
}

// Run ticks until the context is cancelled. One tick runs at a time; a
// tick that outlasts the interval causes the next one to be skipped
// rather than stack.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.log.Infow("Reconciliation poller started",
		"interval", p.cfg.Interval,
		"tables", p.cfg.Tables)

	for {
		select {
		case <-ctx.Done():
			p.log.Infow("Reconciliation poller stopped")
			return
		case <-ticker.C:
			if !p.ticking.TryLock() {
				p.log.Warnw("Previous reconciliation tick still running, skipping")
				continue
			}
			p.tick(ctx)
			p.ticking.Unlock()
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	for _, tableID := range p.cfg.Tables {
		start := time.Now()
		synthesized, err := p.ReconcileTable(ctx, tableID)
		p.metrics.ReconcileTick(tableID, time.Since(start), synthesized, err)
		if err != nil {
			p.log.Errorw("Reconciliation failed",
				"table_id", tableID,
				"error", err)
		}
	}
}

// ReconcileTable runs one reconciliation pass over a table and returns
// how many events it synthesized. The checkpoint only advances past
// records that were fully processed: if a record fails, the cursor
// stops just below it so the next pass retries, while later records in
// the same batch are still attempted.
func (p *Poller) ReconcileTable(ctx context.Context, tableID string) (int, error) {
	cursor, err := p.checkpoints.Get(ctx, tableID)
	if err != nil {
		return 0, err
	}

	synthesized := 0
	limit := p.cfg.BatchSize
	for {
		records, err := p.client.ChangedSince(ctx, tableID, cursor, limit)
		if err != nil {
			return synthesized, errors.Wrapf(err, "failed to list changes for %s", tableID)
		}
		if len(records) == 0 {
			return synthesized, nil
		}

		var firstErr error
		newCursor := cursor

		// Records after a failure are still attempted; the cursor just
		// cannot pass the failed one, and the dedup guard absorbs the
		// replay on the retry pass.
		for _, record := range records {
			modifiedMs := record.ModifiedAt.UnixMilli()

			count, err := p.reconcileRecord(ctx, tableID, record)
			synthesized += count
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if firstErr == nil && modifiedMs > newCursor {
				newCursor = modifiedMs
			}
		}

		full := len(records) == limit
		if full {
			// A full batch may have split a run of records sharing the
			// boundary timestamp, and ChangedSince is strictly greater
			// than the cursor. Hold the cursor below the boundary so the
			// rest of the run stays reachable; records already handled
			// replay as empty diffs.
			if boundary := records[len(records)-1].ModifiedAt.UnixMilli(); newCursor >= boundary {
				newCursor = boundary - 1
			}
		}

		if newCursor > cursor {
			if err := p.checkpoints.Set(ctx, tableID, newCursor); err != nil {
				return synthesized, err
			}
			cursor = newCursor
			limit = p.cfg.BatchSize
		} else if full && firstErr == nil {
			// The whole batch is tied at one timestamp just past the
			// cursor. Widen the fetch until the tied run fits.
			limit += p.cfg.BatchSize
		}

		if firstErr != nil {
			return synthesized, firstErr
		}
		if !full {
			return synthesized, nil
		}
	}
}

func (p *Poller) reconcileRecord(ctx context.Context, tableID string, record source.ChangedRecord) (int, error) {
	if record.Deleted {
		return 0, p.snapshots.Delete(ctx, tableID, record.RecordID)
	}

	prev, err := p.snapshots.Get(ctx, tableID, record.RecordID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return 0, err
	}

	changed := diffFields(prev, record.Fields)
	if prev != nil && len(changed) == 0 {
		// Upstream bumped the modification time without a visible field
		// change. Nothing to synthesize.
		return 0, nil
	}

	// The webhook path reports record updates as record_changed, so the
	// poller's re-derivation of a missed one must carry the same type or
	// the same rules would not match it.
	evt := event.New(event.TypeRecordChanged, tableID, record.RecordID, changed, record.ModifiedAt, event.OriginPoller)

	if err := p.processor.Process(ctx, evt); err != nil {
		return 0, errors.Wrapf(err, "failed to process synthesized event for %s/%s", tableID, record.RecordID)
	}
	if err := p.snapshots.Upsert(ctx, tableID, record.RecordID, record.Fields); err != nil {
		return 1, err
	}
	return 1, nil
}

// diffFields returns the names of fields whose value differs between
// the snapshot and the current record, including added and removed
// fields. With no snapshot every current field counts as changed.
func diffFields(prev, current map[string]string) []string {
	changed := make([]string, 0, len(current))
	for name, value := range current {
		if prevValue, ok := prev[name]; !ok || prevValue != value {
			changed = append(changed, name)
		}
	}
	for name := range prev {
		if _, ok := current[name]; !ok {
			changed = append(changed, name)
		}
	}
	return changed
}
