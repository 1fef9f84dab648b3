package vectorstore

import (
	"context"
	"maps"
	"slices"
)

// Backend persists records for a Store. Implementations must be safe for
// concurrent use and must write each record atomically.
type Backend interface {
	// Upsert inserts or wholly replaces records by ID. A replaced record
	// keeps the sequence number it was first assigned.
	Upsert(ctx context.Context, records []Record) error
	// Delete removes records by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error
	// Scan calls fn with a copy of every record in ascending Seq order
	// until fn returns false. Records present for the whole scan are never
	// skipped, even if others are deleted meanwhile, and fn may call the
	// backend's other methods.
	Scan(ctx context.Context, fn func(Record) bool) error
	Close() error
}

// Record is the stored form of a document. Seq is assigned by the backend
// on first insert and fixes the record's insertion order.
type Record struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]string
	Seq      int64
}

// Clone returns a deep copy of r
func (r Record) Clone() Record {
	return Record{
		ID:       r.ID,
		Vector:   slices.Clone(r.Vector),
		Text:     r.Text,
		Metadata: maps.Clone(r.Metadata),
		Seq:      r.Seq,
	}
}

// Matches reports whether every filter pair is present in the metadata
func (r Record) Matches(filter map[string]string) bool {
	for k, v := range filter {
		if got, ok := r.Metadata[k]; !ok || got != v {
			return false
		}
	}
	return true
}
