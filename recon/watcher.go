package recon

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/trellis/action"
	"github.com/teranos/trellis/errors"
	"github.com/teranos/trellis/internal/metrics"
	"github.com/teranos/trellis/rules"
	"github.com/teranos/trellis/source"
)

// SchemaWatcher periodically diffs each watched table's live schema
// against the stored one. When a field that active rules reference is
// removed or changes type, it raises a notification so an operator can
// fix the rules. It never edits rules itself.
type SchemaWatcher struct {
	interval  time.Duration
	tables    []string
	client    source.Client
	store     *SchemaStore
	provider  rules.Provider
	deliverer action.Deliverer
	metrics   metrics.Sink
	log       *zap.SugaredLogger
}

func NewSchemaWatcher(
	interval time.Duration,
	tables []string,
	client source.Client,
	store *SchemaStore,
	provider rules.Provider,
	deliverer action.Deliverer,
	sink metrics.Sink,
	log *zap.SugaredLogger,
) *SchemaWatcher {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &SchemaWatcher{
		interval:  interval,
		tables:    tables,
		client:    client,
		store:     store,
		provider:  provider,
		deliverer: deliverer,
		metrics:   sink,
		log:       log,
	}
}

// Run ticks until the context is cancelled.
func (w *SchemaWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Infow("Schema watcher started",
		"interval", w.interval,
		"tables", w.tables)

	for {
		select {
		case <-ctx.Done():
			w.log.Infow("Schema watcher stopped")
			return
		case <-ticker.C:
			for _, tableID := range w.tables {
				if err := w.CheckTable(ctx, tableID); err != nil {
					w.log.Errorw("Schema check failed",
						"table_id", tableID,
						"error", err)
				}
			}
		}
	}
}

// CheckTable runs one schema check for a table. The first check just
// records the baseline.
func (w *SchemaWatcher) CheckTable(ctx context.Context, tableID string) error {
	live, err := w.client.Schema(ctx, tableID)
	if err != nil {
		return errors.Wrapf(err, "failed to fetch schema for %s", tableID)
	}

	stored, err := w.store.Get(ctx, tableID)
	if errors.Is(err, errors.ErrNotFound) {
		w.metrics.SchemaCheck(tableID, false)
		return w.store.Upsert(ctx, tableID, live)
	}
	if err != nil {
		return err
	}

	affected := w.affectedFields(tableID, stored, live)
	w.metrics.SchemaCheck(tableID, len(affected) > 0)

	if len(affected) > 0 {
		w.log.Warnw("Schema change affects active rules",
			"table_id", tableID,
			"fields", affected)
		w.notify(ctx, tableID, affected)
	}

	return w.store.Upsert(ctx, tableID, live)
}

// affectedFields returns rule-referenced fields that were removed or
// changed type. Added fields never break a rule, so they only get
// logged via the stored baseline update.
func (w *SchemaWatcher) affectedFields(tableID string, stored, live map[string]string) []string {
	activeRules := make([]rules.Rule, 0)
	for _, rule := range w.provider.Rules() {
		if !rule.Disabled && rule.TableID == tableID {
			activeRules = append(activeRules, rule)
		}
	}
	if len(activeRules) == 0 {
		return nil
	}

	affected := make([]string, 0)
	for name, storedType := range stored {
		liveType, exists := live[name]
		if exists && liveType == storedType {
			continue
		}
		for _, rule := range activeRules {
			if rule.ReferencesField(name) {
				affected = append(affected, name)
				break
			}
		}
	}
	sort.Strings(affected)
	return affected
}

func (w *SchemaWatcher) notify(ctx context.Context, tableID string, affected []string) {
	intent := action.Intent{
		Spec: action.Spec{
			Type: action.SpecNotify,
			Params: map[string]string{
				"channel": "schema-alerts",
				"message": fmt.Sprintf("schema change on table %s affects rule fields: %s",
					tableID, strings.Join(affected, ", ")),
			},
		},
		Context: map[string]string{"table_id": tableID},
	}
	if err := w.deliverer.Deliver(ctx, intent); err != nil {
		w.log.Errorw("Schema change notification failed",
			"table_id", tableID,
			"error", err)
	}
}
