package vectorstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps records in process memory
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]Record
	nextSeq int64
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]Record)}
}

// Upsert implements Backend
func (m *MemoryBackend) Upsert(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range records {
		stored := r.Clone()
		if existing, ok := m.records[r.ID]; ok {
			stored.Seq = existing.Seq
		} else {
			m.nextSeq++
			stored.Seq = m.nextSeq
		}
		m.records[r.ID] = stored
	}
	return nil
}

// Delete implements Backend
func (m *MemoryBackend) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

// Scan implements Backend. It iterates over a snapshot, so fn may call
// back into the backend.
func (m *MemoryBackend) Scan(ctx context.Context, fn func(Record) bool) error {
	m.mu.RLock()
	snapshot := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		snapshot = append(snapshot, r.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Seq < snapshot[j].Seq })
	for _, r := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(r) {
			return nil
		}
	}
	return nil
}

// Len returns the number of stored records
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close implements Backend
func (m *MemoryBackend) Close() error {
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
