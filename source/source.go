// Package source abstracts the upstream table store. The automation
// engine only ever needs three reads (current record fields, records
// changed since a watermark, field schema) and one write; the concrete
// wire format of the platform API stays behind this interface.
package source

import (
	"context"
	"time"
)

// ChangedRecord is one record returned from a change scan, carrying its
// current field values and the upstream modification time.
type ChangedRecord struct {
	RecordID   string
	Fields     map[string]string
	ModifiedAt time.Time
	Deleted    bool
}

// Client reads from the upstream table store. All calls must respect
// ctx deadlines; implementations carry their own default timeout.
type Client interface {
	// Record returns the current field values of a single record.
	Record(ctx context.Context, tableID, recordID string) (map[string]string, error)

	// ChangedSince returns records modified after the given watermark
	// (millisecond epoch), oldest first, bounded by limit.
	ChangedSince(ctx context.Context, tableID string, sinceMs int64, limit int) ([]ChangedRecord, error)

	// Schema returns the table's field schema as name -> type.
	Schema(ctx context.Context, tableID string) (map[string]string, error)
}

// Writer writes record fields back to the upstream table store.
type Writer interface {
	UpdateRecord(ctx context.Context, tableID, recordID string, fields map[string]string) error
}
