// Package postgres provides a gridkit.WatermarkStore backed by a single
// Postgres table. The strictly-greater commit guard lives in the upsert's
// WHERE clause, so it holds even across processes sharing the table.
package postgres

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/gridstat/gridkit"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS watermarks (
	entity     TEXT PRIMARY KEY,
	cursor     BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// WatermarkStore keeps per-entity cursors in the watermarks table, one row
// per entity.
type WatermarkStore struct {
	db *sql.DB
}

// NewWatermarkStore connects with the given lib/pq DSN (or URL) and ensures
// the watermarks table exists.
func NewWatermarkStore(dsn string) (*WatermarkStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening postgres connection")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pinging postgres")
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ensuring watermarks table")
	}
	return &WatermarkStore{db: db}, nil
}

// Read implements gridkit.WatermarkStore.
func (ws *WatermarkStore) Read(ctx context.Context, entity string) (gridkit.Cursor, bool, error) {
	var cursor int64
	err := ws.db.QueryRowContext(ctx,
		`SELECT cursor FROM watermarks WHERE entity = $1`, entity).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "reading watermark")
	}
	return gridkit.Cursor(cursor), true, nil
}

// Commit implements gridkit.WatermarkStore. The upsert only takes effect
// when the new cursor strictly exceeds the stored one; zero rows affected
// means the commit was stale.
func (ws *WatermarkStore) Commit(ctx context.Context, entity string, cursor gridkit.Cursor) error {
	res, err := ws.db.ExecContext(ctx, `
		INSERT INTO watermarks (entity, cursor, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (entity) DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = now()
		WHERE watermarks.cursor < EXCLUDED.cursor`,
		entity, int64(cursor))
	if err != nil {
		return errors.Wrap(err, "upserting cursor")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "checking rows affected")
	}
	if n == 0 {
		stored, _, err := ws.Read(ctx, entity)
		if err != nil {
			return err
		}
		return gridkit.StaleWatermarkError{Entity: entity, Stored: stored, Given: cursor}
	}
	return nil
}

// Close closes the database handle.
func (ws *WatermarkStore) Close() error {
	return errors.Wrap(ws.db.Close(), "closing postgres connection")
}
