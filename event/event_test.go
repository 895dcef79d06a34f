package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignatureStableAcrossFieldOrderAndOrigin(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 2, 30, 0, time.UTC)

	a := New(TypeFieldChanged, "tasks", "rec1", []string{"status", "assignee"}, at, OriginWebhook)
	b := New(TypeFieldChanged, "tasks", "rec1", []string{"assignee", "status"}, at, OriginPoller)

	assert.Equal(t, a.Signature(time.Minute), b.Signature(time.Minute))
}

func TestSignatureBucketsObservationTime(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 2, 10, 0, time.UTC)

	a := New(TypeFieldChanged, "tasks", "rec1", []string{"status"}, at, OriginWebhook)
	sameBucket := New(TypeFieldChanged, "tasks", "rec1", []string{"status"}, at.Add(30*time.Second), OriginPoller)
	nextBucket := New(TypeFieldChanged, "tasks", "rec1", []string{"status"}, at.Add(2*time.Minute), OriginWebhook)

	assert.Equal(t, a.Signature(time.Minute), sameBucket.Signature(time.Minute))
	assert.NotEqual(t, a.Signature(time.Minute), nextBucket.Signature(time.Minute))
}

func TestSignatureDistinguishesEvents(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	base := New(TypeFieldChanged, "tasks", "rec1", []string{"status"}, at, OriginWebhook)

	variants := []ChangeEvent{
		New(TypeFieldChanged, "projects", "rec1", []string{"status"}, at, OriginWebhook),
		New(TypeFieldChanged, "tasks", "rec2", []string{"status"}, at, OriginWebhook),
		New(TypeFieldChanged, "tasks", "rec1", []string{"assignee"}, at, OriginWebhook),
	}
	for _, v := range variants {
		assert.NotEqual(t, base.Signature(time.Minute), v.Signature(time.Minute))
	}
}

func TestSignatureSharedAcrossEventTypes(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 2, 30, 0, time.UTC)

	// A webhook record update and the poller's re-derivation of it carry
	// different types but describe one logical change; the dedup key must
	// not separate them.
	webhook := New(TypeRecordChanged, "tasks", "rec1", []string{"status"}, at, OriginWebhook)
	poller := New(TypeFieldChanged, "tasks", "rec1", []string{"status"}, at, OriginPoller)

	assert.Equal(t, webhook.Signature(time.Minute), poller.Signature(time.Minute))
}

func TestSignatureZeroWindowDefaults(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 30, 0, time.UTC)
	evt := New(TypeFieldChanged, "tasks", "rec1", []string{"status"}, at, OriginWebhook)

	assert.Equal(t, evt.Signature(time.Minute), evt.Signature(0))
	assert.Equal(t, evt.Signature(time.Minute), evt.Signature(-time.Second))
}

func TestNewCopiesFields(t *testing.T) {
	fields := []string{"b", "a"}
	evt := New(TypeFieldChanged, "tasks", "rec1", fields, time.Now(), OriginWebhook)

	fields[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, evt.Fields)
	assert.True(t, evt.Touched("a"))
	assert.False(t, evt.Touched("mutated"))
}
