package gridkit

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Source produces raw records one at a time and returns io.EOF once the
// remote listing is exhausted. Transient failures (timeouts, rate limits,
// server errors) must be wrapped with Transient so the Runner retries them;
// any other error aborts the run.
type Source interface {
	Record(ctx context.Context) (map[string]interface{}, error)
}

// RunState is the phase an ingestion run is in.
type RunState int

const (
	StateIdle RunState = iota
	StateFetching
	StateNormalizing
	StateWriting
	StateCommitting
	StateFailed
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateNormalizing:
		return "normalizing"
	case StateWriting:
		return "writing"
	case StateCommitting:
		return "committing"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// MarshalJSON encodes the state by name.
func (s RunState) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// UnmarshalJSON decodes a state encoded by name.
func (s *RunState) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for _, st := range []RunState{StateIdle, StateFetching, StateNormalizing, StateWriting, StateCommitting, StateFailed} {
		if st.String() == name {
			*s = st
			return nil
		}
	}
	return errors.Errorf("unknown run state %q", name)
}

// RunReport summarizes one ingestion run: how many records moved through
// each stage and where the watermark ended up. State is StateIdle after a
// successful run and StateFailed otherwise; a failed report's Error names
// the phase that broke.
type RunReport struct {
	Entity     string        `json:"entity"`
	BatchID    string        `json:"batch_id"`
	State      RunState      `json:"state"`
	Fetched    int           `json:"fetched"`
	Normalized int           `json:"normalized"`
	Rejected   int           `json:"rejected"`
	Skipped    int           `json:"skipped"`
	Written    int           `json:"written"`
	Prior      Cursor        `json:"prior_cursor"`
	Committed  Cursor        `json:"committed_cursor"`
	Started    time.Time     `json:"started"`
	Elapsed    time.Duration `json:"elapsed"`
	Error      string        `json:"error,omitempty"`
}

// Retry defaults for transient fetch failures.
const (
	DefaultRetryCount = 3
	DefaultRetryBase  = 500 * time.Millisecond
)

// Runner executes one incremental ingestion run for a single entity:
// read watermark, fetch, normalize, stamp, write, commit watermark. It is
// single-use; build a fresh Runner per run. Runners for distinct entities
// may run concurrently, but there must never be two concurrent runs of the
// same entity against the same WatermarkStore.
type Runner struct {
	Entity         string
	Source         Source
	Schema         *Schema
	CursorField    string
	PartitionField string
	SourceTag      string
	Watermarks     WatermarkStore
	Writer         *Writer

	// BatchID overrides the generated batch id. Reusing the id of a failed
	// run makes the retry overwrite that run's segments.
	BatchID string

	// RetryCount and RetryBase bound the exponential backoff on transient
	// fetch failures. Zero values take the defaults.
	RetryCount int
	RetryBase  time.Duration

	Log   *zap.Logger
	Stats Statter

	state RunState
}

// Run drives the entity through one full ingestion pass. The returned
// report is always non-nil; when err is non-nil the report's State is
// StateFailed and the watermark was not advanced.
func (r *Runner) Run(ctx context.Context) (*RunReport, error) {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	stats := r.Stats
	if stats == nil {
		stats = NopStatter{}
	}
	batchID := r.BatchID
	if batchID == "" {
		batchID = uuid.New().String()
	}
	started := time.Now()
	rep := &RunReport{
		Entity:  r.Entity,
		BatchID: batchID,
		Started: started,
	}
	log = log.With(zap.String("entity", r.Entity), zap.String("batch_id", batchID))
	fail := func(err error) (*RunReport, error) {
		err = errors.Wrapf(err, "ingesting %q in state %s", r.Entity, r.state)
		r.state = StateFailed
		rep.State = StateFailed
		rep.Error = err.Error()
		rep.Elapsed = time.Since(started)
		log.Error("run failed", zap.Error(err))
		stats.Count("runs.failed", 1, 1)
		return rep, err
	}

	prior, havePrior, err := r.Watermarks.Read(ctx, r.Entity)
	if err != nil {
		return fail(errors.Wrap(err, "reading watermark"))
	}
	rep.Prior = prior

	stamper, err := NewStamper(r.Schema, batchID, r.SourceTag, started)
	if err != nil {
		return fail(err)
	}
	batch, err := NewBatch(r.Entity, batchID, stamper.Schema(), r.CursorField, r.PartitionField)
	if err != nil {
		return fail(err)
	}

	log.Info("run started", zap.Int64("watermark", int64(prior)), zap.Bool("have_watermark", havePrior))
	r.state = StateFetching
	for {
		raw, err := r.nextRecord(ctx, log, stats)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(errors.Wrap(err, "fetching record"))
		}
		rep.Fetched++
		stats.Count("records.fetched", 1, 1)

		r.state = StateNormalizing
		rec, err := r.Schema.Normalize(raw)
		if err != nil {
			if !IsRejection(err) {
				return fail(errors.Wrap(err, "normalizing record"))
			}
			rep.Rejected++
			stats.Count("records.rejected", 1, 1)
			log.Debug("record rejected", zap.Error(err))
			r.state = StateFetching
			continue
		}
		rep.Normalized++

		stamped, err := stamper.Stamp(rec)
		if err != nil {
			return fail(errors.Wrap(err, "stamping record"))
		}
		cur, err := batch.Cursor(stamped)
		if err != nil {
			return fail(errors.Wrap(err, "extracting cursor"))
		}
		if havePrior && cur <= prior {
			rep.Skipped++
			stats.Count("records.skipped", 1, 1)
			r.state = StateFetching
			continue
		}
		if err := batch.Add(stamped); err != nil {
			return fail(errors.Wrap(err, "adding record to batch"))
		}
		r.state = StateFetching
	}

	if batch.Len() == 0 {
		rep.State = StateIdle
		rep.Committed = prior
		rep.Elapsed = time.Since(started)
		r.state = StateIdle
		log.Info("no new records", zap.Int("fetched", rep.Fetched), zap.Int("rejected", rep.Rejected), zap.Int("skipped", rep.Skipped))
		stats.Timing("run", rep.Elapsed, 1)
		return rep, nil
	}

	r.state = StateWriting
	written, err := r.Writer.WriteBatch(ctx, batch)
	if err != nil {
		return fail(err)
	}
	rep.Written = written
	stats.Count("records.written", int64(written), 1)

	r.state = StateCommitting
	if err := r.Watermarks.Commit(ctx, r.Entity, batch.MaxCursor()); err != nil {
		return fail(errors.Wrap(err, "committing watermark"))
	}
	rep.Committed = batch.MaxCursor()
	rep.State = StateIdle
	rep.Elapsed = time.Since(started)
	r.state = StateIdle
	log.Info("run committed",
		zap.Int("fetched", rep.Fetched),
		zap.Int("normalized", rep.Normalized),
		zap.Int("rejected", rep.Rejected),
		zap.Int("skipped", rep.Skipped),
		zap.Int("written", rep.Written),
		zap.Int64("watermark", int64(rep.Committed)),
		zap.Duration("elapsed", rep.Elapsed))
	stats.Timing("run", rep.Elapsed, 1)
	return rep, nil
}

// nextRecord pulls one raw record, retrying transient source failures with
// exponential backoff until RetryCount is exhausted.
func (r *Runner) nextRecord(ctx context.Context, log *zap.Logger, stats Statter) (map[string]interface{}, error) {
	retries := r.RetryCount
	if retries == 0 {
		retries = DefaultRetryCount
	}
	base := r.RetryBase
	if base == 0 {
		base = DefaultRetryBase
	}
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := r.Source.Record(ctx)
		if err == nil || err == io.EOF {
			return raw, err
		}
		if !IsTransient(err) || attempt >= retries {
			return nil, err
		}
		wait := base << uint(attempt)
		stats.Count("fetch.retries", 1, 1)
		log.Warn("transient fetch failure, backing off", zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
