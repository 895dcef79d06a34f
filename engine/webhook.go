package engine

import (
	"time"

	"github.com/teranos/trellis/errors"
	"github.com/teranos/trellis/event"
)

// WebhookEnvelope is the upstream push payload. The table store sends
// two envelope types: url_verification during endpoint registration and
// event_callback for actual changes.
type WebhookEnvelope struct {
	Type      string        `json:"type"`
	Token     string        `json:"token,omitempty"`
	Challenge string        `json:"challenge,omitempty"`
	Event     *WebhookEvent `json:"event,omitempty"`
}

// WebhookEvent is the change description inside an event_callback.
type WebhookEvent struct {
	Kind       string   `json:"kind"`
	TableID    string   `json:"table_id"`
	RecordID   string   `json:"record_id"`
	Fields     []string `json:"fields,omitempty"`
	ObservedAt int64    `json:"observed_at,omitempty"` // ms epoch
}

const (
	EnvelopeURLVerification = "url_verification"
	EnvelopeEventCallback   = "event_callback"
)

// webhook kinds mapped onto canonical event types. Kinds outside this
// table are newer than this build and are acknowledged without
// processing.
var webhookKinds = map[string]event.Type{
	"record.created": event.TypeRecordChanged,
	"record.updated": event.TypeRecordChanged,
	"record.deleted": event.TypeRecordChanged,
	"field.changed":  event.TypeFieldChanged,
}

// NormalizeWebhook turns an event_callback envelope into a canonical
// change event. ok is false for unknown kinds, which callers must
// acknowledge and drop. Malformed payloads return an error.
func NormalizeWebhook(envelope WebhookEnvelope) (event.ChangeEvent, bool, error) {
	if envelope.Type != EnvelopeEventCallback || envelope.Event == nil {
		return event.ChangeEvent{}, false, errors.NewInvalidRequestError("envelope is not an event callback")
	}

	payload := envelope.Event
	kind, known := webhookKinds[payload.Kind]
	if !known {
		return event.ChangeEvent{}, false, nil
	}

	if payload.TableID == "" || payload.RecordID == "" {
		return event.ChangeEvent{}, false, errors.NewInvalidRequestError("event missing table_id or record_id")
	}

	observedAt := time.Now().UTC()
	if payload.ObservedAt > 0 {
		observedAt = time.UnixMilli(payload.ObservedAt).UTC()
	}

	evt := event.New(kind, payload.TableID, payload.RecordID, payload.Fields, observedAt, event.OriginWebhook)
	return evt, true, nil
}
