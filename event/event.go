// Package event defines the canonical change event flowing through the
// automation pipeline, normalized from webhook envelopes and poller diffs.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Type identifies what kind of change an event describes.
type Type string

const (
	// TypeRecordChanged covers record-level changes: creations,
	// updates, and deletions, whether pushed by the webhook or
	// re-derived by the poller. The touched set carries whichever
	// fields the producer could attribute.
	TypeRecordChanged Type = "record_changed"
	// TypeFieldChanged covers the upstream's explicit per-field change
	// notifications.
	TypeFieldChanged Type = "field_changed"
)

// Origin identifies which path produced an event.
type Origin string

const (
	OriginWebhook Origin = "webhook"
	OriginPoller  Origin = "poller"
)

// ChangeEvent is a normalized description of a record or schema
// modification in the watched table store. Immutable once constructed;
// only its signature and derived outcomes are ever persisted.
type ChangeEvent struct {
	Type       Type
	TableID    string
	RecordID   string
	Fields     []string
	ObservedAt time.Time
	Origin     Origin
}

// New constructs an event with the touched field names copied and
// sorted, so two events over the same change compare equal.
func New(typ Type, tableID, recordID string, fields []string, observedAt time.Time, origin Origin) ChangeEvent {
	sorted := make([]string, len(fields))
	copy(sorted, fields)
	sort.Strings(sorted)
	return ChangeEvent{
		Type:       typ,
		TableID:    tableID,
		RecordID:   recordID,
		Fields:     sorted,
		ObservedAt: observedAt,
		Origin:     origin,
	}
}

// Touched reports whether the given field name is in the event's
// touched set.
func (e ChangeEvent) Touched(field string) bool {
	for _, f := range e.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// Signature derives the deterministic idempotency key for this event.
// Two events describing the same logical change within the same window
// bucket produce the same signature. Neither the origin nor the event
// type is part of the key: a delayed webhook and the poller's diff of
// the same change must collide inside the dedup window even when they
// typed it differently. ObservedAt is truncated to the window.
func (e ChangeEvent) Signature(window time.Duration) string {
	if window <= 0 {
		window = time.Minute
	}
	bucket := e.ObservedAt.UTC().Truncate(window).Unix()

	var b strings.Builder
	b.WriteString(e.TableID)
	b.WriteByte('|')
	b.WriteString(e.RecordID)
	b.WriteByte('|')
	b.WriteString(strings.Join(e.Fields, ","))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(bucket, 10))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
