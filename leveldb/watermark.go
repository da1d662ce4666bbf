// Package leveldb provides a gridkit.WatermarkStore backed by goleveldb.
// LevelDB has no multi-key transactions, so the strictly-greater commit
// check serializes through an in-process mutex. That is sufficient under
// the one-committing-run-per-entity rule; use the boltdb or postgres store
// when multiple processes might race on the same entity.
package leveldb

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/gridstat/gridkit"
)

// WatermarkStore keeps per-entity cursors in a leveldb directory: entity
// name to big-endian uint64 cursor.
type WatermarkStore struct {
	mu sync.Mutex
	db *leveldb.DB
}

// NewWatermarkStore opens the leveldb at dirname, creating it if needed.
func NewWatermarkStore(dirname string) (*WatermarkStore, error) {
	db, err := leveldb.OpenFile(dirname, &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %v", dirname)
	}
	return &WatermarkStore{db: db}, nil
}

// Read implements gridkit.WatermarkStore.
func (ws *WatermarkStore) Read(ctx context.Context, entity string) (gridkit.Cursor, bool, error) {
	v, err := ws.db.Get([]byte(entity), nil)
	if err == leveldb.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "reading watermark")
	}
	if len(v) != 8 {
		return 0, false, errors.Errorf("corrupt cursor for '%v': %x", entity, v)
	}
	return gridkit.Cursor(binary.BigEndian.Uint64(v)), true, nil
}

// Commit implements gridkit.WatermarkStore. The write is synced to disk
// before returning.
func (ws *WatermarkStore) Commit(ctx context.Context, entity string, cursor gridkit.Cursor) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	stored, ok, err := ws.Read(ctx, entity)
	if err != nil {
		return err
	}
	if ok && cursor <= stored {
		return gridkit.StaleWatermarkError{Entity: entity, Stored: stored, Given: cursor}
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(cursor))
	return errors.Wrap(ws.db.Put([]byte(entity), buf, &opt.WriteOptions{Sync: true}), "putting cursor")
}

// Close closes the underlying leveldb.
func (ws *WatermarkStore) Close() error {
	return errors.Wrap(ws.db.Close(), "closing leveldb")
}
