package ingest

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/gridstat/gridkit"
	"github.com/gridstat/gridkit/boltdb"
	"github.com/gridstat/gridkit/ergast"
	"github.com/gridstat/gridkit/leveldb"
	"github.com/gridstat/gridkit/postgres"
)

// openWatermarks builds the configured watermark store backend.
func openWatermarks(backend, path, dsn string) (gridkit.WatermarkStore, error) {
	switch backend {
	case "bolt":
		return boltdb.NewWatermarkStore(path)
	case "leveldb":
		return leveldb.NewWatermarkStore(path)
	case "postgres":
		return postgres.NewWatermarkStore(dsn)
	case "mem":
		return gridkit.NewMemWatermarkStore(), nil
	}
	return nil, errors.Errorf("unknown watermark backend %q (have bolt, leveldb, postgres, mem)", backend)
}

// StatusMain holds config for printing stored watermarks. Orchestrators use
// it to check how far each entity has been ingested without touching
// anything.
type StatusMain struct {
	Entities      []string `help:"Comma separated list of entities to show. Empty means all."`
	Watermarks    string   `help:"Watermark store backend: bolt, leveldb, postgres, or mem."`
	WatermarkPath string   `help:"File (bolt) or directory (leveldb) holding the watermark store."`
	PostgresDSN   string   `help:"Connection string for the postgres watermark backend."`

	// Out receives the listing. Defaults to stdout.
	Out io.Writer `flag:"-"`
}

// NewStatusMain gets a new StatusMain with the default configuration.
func NewStatusMain() *StatusMain {
	return &StatusMain{
		Entities:      ergast.Entities(),
		Watermarks:    "bolt",
		WatermarkPath: "gridkit.db",
	}
}

// Run prints one line per entity: the stored cursor, or "-" when the entity
// has never committed.
func (m *StatusMain) Run() error {
	out := m.Out
	if out == nil {
		out = os.Stdout
	}
	store, err := openWatermarks(m.Watermarks, m.WatermarkPath, m.PostgresDSN)
	if err != nil {
		return errors.Wrap(err, "opening watermark store")
	}
	defer store.Close()

	ctx := context.Background()
	for _, name := range m.Entities {
		if _, err := ergast.Lookup(name); err != nil {
			return err
		}
		cur, ok, err := store.Read(ctx, name)
		if err != nil {
			return errors.Wrapf(err, "reading watermark for %q", name)
		}
		if ok {
			fmt.Fprintf(out, "%-14s %d\n", name, cur)
		} else {
			fmt.Fprintf(out, "%-14s -\n", name)
		}
	}
	return nil
}
