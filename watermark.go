package gridkit

import (
	"context"
	"sync"
)

// WatermarkStore tracks, per entity, the highest cursor whose records are
// known to be durably written. A run reads the watermark once at start and
// commits once after its segments land; records at or below the watermark
// are skipped on the next run, which is what makes runs incremental.
//
// Commit must be conditional: a cursor that does not strictly exceed the
// stored one fails with a StaleWatermarkError and leaves the stored value
// untouched. Only one run may commit a given entity at a time; concurrent
// runs are only safe across distinct entities.
type WatermarkStore interface {
	// Read returns the committed cursor for entity. ok is false when the
	// entity has never been committed, in which case the run starts from
	// the beginning.
	Read(ctx context.Context, entity string) (cursor Cursor, ok bool, err error)

	// Commit durably records cursor for entity if and only if it is
	// strictly greater than the stored value (or no value is stored).
	Commit(ctx context.Context, entity string, cursor Cursor) error

	Close() error
}

// MemWatermarkStore is a WatermarkStore held in process memory. It honors
// the conditional-commit contract but survives nothing, so it is only
// suitable for tests and dry runs.
type MemWatermarkStore struct {
	mu   sync.RWMutex
	high map[string]Cursor
}

// NewMemWatermarkStore returns an empty in-memory store.
func NewMemWatermarkStore() *MemWatermarkStore {
	return &MemWatermarkStore{high: make(map[string]Cursor)}
}

// Read implements WatermarkStore.
func (m *MemWatermarkStore) Read(ctx context.Context, entity string) (Cursor, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cur, ok := m.high[entity]
	return cur, ok, nil
}

// Commit implements WatermarkStore.
func (m *MemWatermarkStore) Commit(ctx context.Context, entity string, cursor Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stored, ok := m.high[entity]; ok && cursor <= stored {
		return StaleWatermarkError{Entity: entity, Stored: stored, Given: cursor}
	}
	m.high[entity] = cursor
	return nil
}

// Close implements WatermarkStore.
func (m *MemWatermarkStore) Close() error { return nil }
