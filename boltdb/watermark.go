// Package boltdb provides a gridkit.WatermarkStore backed by BoltDB. The
// conditional commit runs read-compare-put inside a single Update
// transaction, so even a misbehaving second committer cannot move a cursor
// backwards.
package boltdb

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"

	"github.com/gridstat/gridkit"
)

var watermarkBucket = []byte("watermarks")

// WatermarkStore keeps per-entity cursors in a single-bucket bolt file:
// entity name to big-endian uint64 cursor.
type WatermarkStore struct {
	Db *bolt.DB
}

// NewWatermarkStore opens the bolt file at filename, creating it if needed.
func NewWatermarkStore(filename string) (*WatermarkStore, error) {
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening db file '%v'", filename)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, berr := tx.CreateBucketIfNotExists(watermarkBucket)
		return errors.Wrap(berr, "creating watermarks bucket")
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ensuring bucket existence")
	}
	return &WatermarkStore{Db: db}, nil
}

// Read implements gridkit.WatermarkStore.
func (ws *WatermarkStore) Read(ctx context.Context, entity string) (cursor gridkit.Cursor, ok bool, err error) {
	err = ws.Db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(watermarkBucket).Get([]byte(entity))
		if v == nil {
			return nil
		}
		if len(v) != 8 {
			return errors.Errorf("corrupt cursor for '%v': %x", entity, v)
		}
		cursor = gridkit.Cursor(binary.BigEndian.Uint64(v))
		ok = true
		return nil
	})
	return cursor, ok, errors.Wrap(err, "reading watermark")
}

// Commit implements gridkit.WatermarkStore. The strictly-greater check and
// the put share one transaction.
func (ws *WatermarkStore) Commit(ctx context.Context, entity string, cursor gridkit.Cursor) error {
	return ws.Db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(watermarkBucket)
		key := []byte(entity)
		if v := b.Get(key); v != nil && len(v) == 8 {
			stored := gridkit.Cursor(binary.BigEndian.Uint64(v))
			if cursor <= stored {
				return gridkit.StaleWatermarkError{Entity: entity, Stored: stored, Given: cursor}
			}
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(cursor))
		return errors.Wrap(b.Put(key, buf), "putting cursor")
	})
}

// Close syncs and closes the underlying boltdb.
func (ws *WatermarkStore) Close() error {
	err := ws.Db.Sync()
	if err != nil {
		return errors.Wrap(err, "syncing db")
	}
	return ws.Db.Close()
}
