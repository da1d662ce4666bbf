// Package ingest assembles the full pipeline and runs one ingestion pass
// per entity: Ergast source, schema normalization, audit stamping, segment
// writing, watermark commit. Entities run concurrently; their watermark
// keys are independent, so one entity failing never blocks another's
// progress.
package ingest

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gridstat/gridkit"
	"github.com/gridstat/gridkit/avro"
	"github.com/gridstat/gridkit/aws/s3"
	"github.com/gridstat/gridkit/ergast"
	"github.com/gridstat/gridkit/file"
	"github.com/gridstat/gridkit/kafka"
	"github.com/gridstat/gridkit/parquet"
	"github.com/gridstat/gridkit/termstat"
)

// Main holds all config for running ingestion.
type Main struct {
	Entities  []string `help:"Comma separated list of entities to ingest. Empty means all."`
	Season    int      `help:"Season (year) to ingest. Zero means the current year."`
	After     int64    `help:"Exclusive cursor lower bound passed to the API. Zero sends no bound; rows at or below the stored watermark are skipped client-side regardless."`
	BaseURL   string   `help:"Base URL of the Ergast-compatible API."`
	PageLimit int      `help:"Number of records requested per API page."`

	Watermarks    string `help:"Watermark store backend: bolt, leveldb, postgres, or mem."`
	WatermarkPath string `help:"File (bolt) or directory (leveldb) holding the watermark store."`
	PostgresDSN   string `help:"Connection string for the postgres watermark backend."`

	Encoding string `help:"Segment encoding: parquet, avro, or ndjson."`
	Dir      string `help:"Local directory segments are written under. Ignored when s3-bucket is set."`
	S3Bucket string `help:"S3 bucket segments are written to. Empty means the local filesystem."`
	S3Region string `help:"AWS region of the S3 bucket."`
	S3Prefix string `help:"Key prefix for segments written to S3."`

	KafkaHosts []string `help:"Comma separated list of Kafka hosts run reports are published to. Empty disables publishing."`
	KafkaTopic string   `help:"Kafka topic for run reports."`

	BatchID    string        `help:"Batch id override. Reuse a failed run's id to overwrite its segments on retry."`
	SourceTag  string        `help:"Provenance tag stamped on every record."`
	RetryCount int           `help:"Transient fetch failures tolerated per page before the run aborts."`
	RetryBase  time.Duration `help:"Base delay for exponential backoff on transient fetch failures."`

	LogPath   string `help:"Log file to write to. Empty means stderr."`
	Verbose   bool   `help:"Enable verbose logging."`
	TermStats bool   `help:"Print live ingest counters to stderr."`

	// NewSource overrides how sources are built, for testing.
	NewSource func(ent ergast.Entity) (gridkit.Source, error) `flag:"-"`

	// Stats overrides the stats collector, for testing.
	Stats gridkit.Statter `flag:"-"`

	entities   []ergast.Entity
	watermarks gridkit.WatermarkStore
	writer     *gridkit.Writer
	reporter   *kafka.Reporter
	log        *zap.Logger
}

// Log returns the logger built during setup.
func (m *Main) Log() *zap.Logger { return m.log }

// NewMain gets a new Main with the default configuration.
func NewMain() *Main {
	return &Main{
		Entities:      ergast.Entities(),
		BaseURL:       ergast.DefaultBaseURL,
		PageLimit:     ergast.DefaultPageLimit,
		Watermarks:    "bolt",
		WatermarkPath: "gridkit.db",
		Encoding:      "parquet",
		Dir:           "segments",
		S3Region:      "us-east-1",
		KafkaTopic:    "gridkit-runs",
		SourceTag:     "ergast",
		RetryCount:    gridkit.DefaultRetryCount,
		RetryBase:     gridkit.DefaultRetryBase,
	}
}

// Run executes one ingestion pass over the configured entities and blocks
// until they all finish or the process is signalled. The first entity error
// is returned after every entity has been attempted.
func (m *Main) Run() error {
	if err := m.setup(); err != nil {
		return errors.Wrap(err, "setting up")
	}
	defer m.cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eg := errgroup.Group{}
	for _, ent := range m.entities {
		ent := ent
		eg.Go(func() error {
			return m.runEntity(ctx, ent)
		})
	}
	return eg.Wait()
}

func (m *Main) runEntity(ctx context.Context, ent ergast.Entity) error {
	src, err := m.NewSource(ent)
	if err != nil {
		return errors.Wrapf(err, "getting source for %q", ent.Name)
	}
	r := &gridkit.Runner{
		Entity:         ent.Name,
		Source:         src,
		Schema:         ent.Schema,
		CursorField:    ent.CursorField,
		PartitionField: ent.PartitionField,
		SourceTag:      m.SourceTag,
		Watermarks:     m.watermarks,
		Writer:         m.writer,
		BatchID:        m.BatchID,
		RetryCount:     m.RetryCount,
		RetryBase:      m.RetryBase,
		Log:            m.log,
		Stats:          m.Stats,
	}
	rep, runErr := r.Run(ctx)
	if m.reporter != nil {
		if err := m.reporter.Report(rep); err != nil {
			m.log.Warn("publishing run report", zap.String("entity", ent.Name), zap.Error(err))
		}
	}
	return runErr
}

func (m *Main) setup() error {
	if err := m.validate(); err != nil {
		return errors.Wrap(err, "validating configuration")
	}
	if err := m.setupLogger(); err != nil {
		return errors.Wrap(err, "setting up logging")
	}

	for _, name := range m.Entities {
		ent, err := ergast.Lookup(name)
		if err != nil {
			return err
		}
		m.entities = append(m.entities, ent)
	}

	var err error
	m.watermarks, err = openWatermarks(m.Watermarks, m.WatermarkPath, m.PostgresDSN)
	if err != nil {
		return errors.Wrapf(err, "opening %s watermark store", m.Watermarks)
	}

	var enc gridkit.SegmentEncoder
	switch m.Encoding {
	case "parquet":
		enc = parquet.NewEncoder()
	case "avro":
		enc = avro.Encoder{}
	case "ndjson":
		enc = gridkit.NDJSONEncoder{}
	}

	var store gridkit.SegmentStore
	if m.S3Bucket != "" {
		store, err = s3.NewStore(
			s3.OptStoreBucket(m.S3Bucket),
			s3.OptStoreRegion(m.S3Region),
			s3.OptStorePrefix(m.S3Prefix),
		)
		if err != nil {
			return errors.Wrap(err, "getting s3 store")
		}
	} else {
		store, err = file.NewStore(m.Dir)
		if err != nil {
			return errors.Wrap(err, "getting file store")
		}
	}
	m.writer = &gridkit.Writer{Encoder: enc, Store: store}

	if len(m.KafkaHosts) > 0 {
		m.reporter = kafka.NewReporter()
		m.reporter.Hosts = m.KafkaHosts
		if m.KafkaTopic != "" {
			m.reporter.Topic = m.KafkaTopic
		}
		if err := m.reporter.Open(); err != nil {
			return errors.Wrap(err, "opening kafka reporter")
		}
	}

	if m.Stats == nil {
		if m.TermStats {
			m.Stats = termstat.NewCollector(os.Stderr)
		} else {
			m.Stats = gridkit.NopStatter{}
		}
	}

	if m.NewSource == nil {
		m.NewSource = func(ent ergast.Entity) (gridkit.Source, error) {
			opts := []ergast.Option{
				ergast.WithBaseURL(m.BaseURL),
				ergast.WithPageLimit(m.PageLimit),
			}
			if m.Season != 0 {
				opts = append(opts, ergast.WithSeason(m.Season))
			}
			if m.After != 0 {
				opts = append(opts, ergast.WithAfter(gridkit.Cursor(m.After)))
			}
			return ergast.NewSource(ent, opts...), nil
		}
	}
	return nil
}

func (m *Main) validate() error {
	switch m.Watermarks {
	case "bolt", "leveldb":
		if m.WatermarkPath == "" {
			return errors.Errorf("watermark-path is required for the %s backend", m.Watermarks)
		}
	case "postgres":
		if m.PostgresDSN == "" {
			return errors.New("postgres-dsn is required for the postgres backend")
		}
	case "mem":
	default:
		return errors.Errorf("unknown watermark backend %q (have bolt, leveldb, postgres, mem)", m.Watermarks)
	}
	switch m.Encoding {
	case "parquet", "avro", "ndjson":
	default:
		return errors.Errorf("unknown encoding %q (have parquet, avro, ndjson)", m.Encoding)
	}
	if m.S3Bucket == "" && m.Dir == "" {
		return errors.New("either dir or s3-bucket is required")
	}
	if len(m.Entities) == 0 {
		return errors.New("at least one entity is required")
	}
	return nil
}

func (m *Main) setupLogger() error {
	cfg := zap.NewProductionConfig()
	if m.Verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	if m.LogPath != "" {
		cfg.OutputPaths = []string{m.LogPath}
		cfg.ErrorOutputPaths = []string{m.LogPath}
	}
	log, err := cfg.Build()
	if err != nil {
		return errors.Wrap(err, "building logger")
	}
	m.log = log
	return nil
}

func (m *Main) cleanup() {
	if m.watermarks != nil {
		if err := m.watermarks.Close(); err != nil {
			m.log.Warn("closing watermark store", zap.Error(err))
		}
	}
	if m.reporter != nil {
		if err := m.reporter.Close(); err != nil {
			m.log.Warn("closing kafka reporter", zap.Error(err))
		}
	}
	if m.log != nil {
		_ = m.log.Sync()
	}
}
