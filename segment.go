package gridkit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
)

// SegmentEncoder encodes the records of one partition into a single
// segment. Encoding must be reproducible: re-encoding the same records
// yields an equivalent segment, because a retried batch replaces whatever
// a previous attempt landed under the same name.
type SegmentEncoder interface {
	Encode(w io.Writer, schema *Schema, records []Record) error

	// Ext returns the file extension for segments this encoder produces,
	// including the leading dot.
	Ext() string
}

// SegmentStore persists encoded segments. Put must be atomic: a segment is
// either fully visible under its name or absent, never partial, and a Put
// of an existing name replaces it. Implementations layer paths as
// <entity>/<partition>/<name>.
type SegmentStore interface {
	Put(ctx context.Context, entity, partition, name string, data []byte) error
}

// Writer lands batches in partition-keyed storage by composing a
// SegmentEncoder with a SegmentStore. Segment names derive from the batch
// id alone ("<entity>-<batchid><ext>"), so retrying a failed batch under
// the same id replaces its own segments instead of duplicating records.
type Writer struct {
	Encoder SegmentEncoder
	Store   SegmentStore
}

// WriteBatch encodes and stores one segment per partition of b and returns
// the number of records written. Any failure aborts with a WriteError; the
// caller must not advance the watermark past one.
func (w *Writer) WriteBatch(ctx context.Context, b *Batch) (int, error) {
	name := b.Entity + "-" + b.ID + w.Encoder.Ext()
	for _, partition := range b.Partitions() {
		var buf bytes.Buffer
		if err := w.Encoder.Encode(&buf, b.Schema, b.Records(partition)); err != nil {
			return 0, &WriteError{Partition: partition, Err: err}
		}
		if err := w.Store.Put(ctx, b.Entity, partition, name, buf.Bytes()); err != nil {
			return 0, &WriteError{Partition: partition, Err: err}
		}
	}
	return b.Len(), nil
}

// NDJSONEncoder writes one JSON object per record, one record per line.
// It is the zero-dependency encoder for debugging and for downstream tools
// that want greppable segments; use the parquet or avro sub-packages for
// columnar output.
type NDJSONEncoder struct{}

// Encode implements SegmentEncoder.
func (NDJSONEncoder) Encode(w io.Writer, schema *Schema, records []Record) error {
	enc := json.NewEncoder(w)
	obj := make(map[string]interface{}, len(schema.Fields))
	for _, rec := range records {
		for i, f := range schema.Fields {
			obj[f.Name] = rec.Values[i]
		}
		if err := enc.Encode(obj); err != nil {
			return err
		}
	}
	return nil
}

// Ext implements SegmentEncoder.
func (NDJSONEncoder) Ext() string { return ".ndjson" }
