package source

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/teranos/trellis/errors"
)

// Fake is an in-memory table store for tests. It implements Client and
// Writer and allows injecting failures per table.
type Fake struct {
	mu      sync.Mutex
	tables  map[string]map[string]fakeRecord // table -> record -> state
	schemas map[string]map[string]string
	failing map[string]error // table -> error returned by all calls
}

type fakeRecord struct {
	fields     map[string]string
	modifiedAt time.Time
	deleted    bool
}

// NewFake creates an empty in-memory table store.
func NewFake() *Fake {
	return &Fake{
		tables:  make(map[string]map[string]fakeRecord),
		schemas: make(map[string]map[string]string),
		failing: make(map[string]error),
	}
}

// SetRecord writes a record's current fields with the given modification time.
func (f *Fake) SetRecord(tableID, recordID string, fields map[string]string, modifiedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.tables[tableID] == nil {
		f.tables[tableID] = make(map[string]fakeRecord)
	}
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	f.tables[tableID][recordID] = fakeRecord{fields: copied, modifiedAt: modifiedAt}
}

// DeleteRecord marks a record deleted upstream at the given time.
func (f *Fake) DeleteRecord(tableID, recordID string, modifiedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.tables[tableID] == nil {
		f.tables[tableID] = make(map[string]fakeRecord)
	}
	f.tables[tableID][recordID] = fakeRecord{modifiedAt: modifiedAt, deleted: true}
}

// SetSchema sets a table's field schema.
func (f *Fake) SetSchema(tableID string, fields map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	f.schemas[tableID] = copied
}

// FailTable makes every call for the given table return err. Pass nil
// to clear the failure.
func (f *Fake) FailTable(tableID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err == nil {
		delete(f.failing, tableID)
		return
	}
	f.failing[tableID] = err
}

func (f *Fake) Record(ctx context.Context, tableID, recordID string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failing[tableID]; err != nil {
		return nil, err
	}
	rec, ok := f.tables[tableID][recordID]
	if !ok || rec.deleted {
		return nil, errors.NewNotFoundError("record %s/%s", tableID, recordID)
	}
	copied := make(map[string]string, len(rec.fields))
	for k, v := range rec.fields {
		copied[k] = v
	}
	return copied, nil
}

func (f *Fake) ChangedSince(ctx context.Context, tableID string, sinceMs int64, limit int) ([]ChangedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failing[tableID]; err != nil {
		return nil, err
	}

	var out []ChangedRecord
	for id, rec := range f.tables[tableID] {
		if rec.modifiedAt.UnixMilli() <= sinceMs {
			continue
		}
		copied := make(map[string]string, len(rec.fields))
		for k, v := range rec.fields {
			copied[k] = v
		}
		out = append(out, ChangedRecord{
			RecordID:   id,
			Fields:     copied,
			ModifiedAt: rec.modifiedAt,
			Deleted:    rec.deleted,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
			return out[i].RecordID < out[j].RecordID
		}
		return out[i].ModifiedAt.Before(out[j].ModifiedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) Schema(ctx context.Context, tableID string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failing[tableID]; err != nil {
		return nil, err
	}
	schema, ok := f.schemas[tableID]
	if !ok {
		return nil, errors.NewNotFoundError("schema for table %s", tableID)
	}
	copied := make(map[string]string, len(schema))
	for k, v := range schema {
		copied[k] = v
	}
	return copied, nil
}

func (f *Fake) UpdateRecord(ctx context.Context, tableID, recordID string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failing[tableID]; err != nil {
		return err
	}
	rec, ok := f.tables[tableID][recordID]
	if !ok || rec.deleted {
		return errors.NewNotFoundError("record %s/%s", tableID, recordID)
	}
	for k, v := range fields {
		rec.fields[k] = v
	}
	rec.modifiedAt = time.Now()
	f.tables[tableID][recordID] = rec
	return nil
}
