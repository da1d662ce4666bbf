package gridkit

import (
	"fmt"

	"github.com/pkg/errors"
)

// Cursor is a monotonically increasing position in an entity's change
// stream. For F1 entities it is derived from the data itself (a round
// sequence number or a season year) rather than from fetch time, so reruns
// over the same data produce the same cursors.
type Cursor int64

// Record is one normalized row. Values are aligned one-to-one with the
// fields of the Schema which produced it; a nil value means the field was
// null (only legal for non-required fields).
type Record struct {
	Schema *Schema
	Values []interface{}
}

// Value returns the record's value for the named field.
func (r Record) Value(name string) (interface{}, bool) {
	i, ok := r.Schema.Index(name)
	if !ok {
		return nil, false
	}
	return r.Values[i], true
}

// Batch accumulates the stamped records of one ingestion run, grouped by
// partition, and tracks the highest cursor seen. All records of a batch
// share one schema, one batch id, and one ingestion timestamp.
type Batch struct {
	Entity string
	ID     string
	Schema *Schema

	cursorIdx    int
	partitionIdx int
	parts        map[string][]Record
	order        []string
	max          Cursor
	n            int
}

// NewBatch creates an empty batch for entity. cursorField must name an
// integer-typed field of schema; partitionField names the field whose value
// becomes the Hive-style partition key (e.g. "season=2024").
func NewBatch(entity, id string, schema *Schema, cursorField, partitionField string) (*Batch, error) {
	ci, ok := schema.Index(cursorField)
	if !ok {
		return nil, errors.Errorf("cursor field %q not in schema for %q", cursorField, entity)
	}
	if schema.Fields[ci].Type != TypeInt {
		return nil, errors.Errorf("cursor field %q must be %s, got %s", cursorField, TypeInt, schema.Fields[ci].Type)
	}
	pi, ok := schema.Index(partitionField)
	if !ok {
		return nil, errors.Errorf("partition field %q not in schema for %q", partitionField, entity)
	}
	return &Batch{
		Entity:       entity,
		ID:           id,
		Schema:       schema,
		cursorIdx:    ci,
		partitionIdx: pi,
		parts:        make(map[string][]Record),
	}, nil
}

// Cursor extracts the cursor value from rec. rec must have been normalized
// against (or stamped onto) the batch schema.
func (b *Batch) Cursor(rec Record) (Cursor, error) {
	v, ok := rec.Values[b.cursorIdx].(int64)
	if !ok {
		return 0, errors.Errorf("cursor value %v of %[1]T is not int64", rec.Values[b.cursorIdx])
	}
	return Cursor(v), nil
}

// Add appends rec to the batch, placing it in its partition and updating
// the running max cursor.
func (b *Batch) Add(rec Record) error {
	cur, err := b.Cursor(rec)
	if err != nil {
		return err
	}
	pv := rec.Values[b.partitionIdx]
	if pv == nil {
		return errors.Errorf("partition field %q is null", b.Schema.Fields[b.partitionIdx].Name)
	}
	key := fmt.Sprintf("%s=%v", b.Schema.Fields[b.partitionIdx].Name, pv)
	if _, seen := b.parts[key]; !seen {
		b.order = append(b.order, key)
	}
	b.parts[key] = append(b.parts[key], rec)
	if cur > b.max {
		b.max = cur
	}
	b.n++
	return nil
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int { return b.n }

// MaxCursor returns the highest cursor among the batch's records. Zero when
// the batch is empty.
func (b *Batch) MaxCursor() Cursor { return b.max }

// Partitions returns the batch's partition keys in first-seen order.
func (b *Batch) Partitions() []string {
	keys := make([]string, len(b.order))
	copy(keys, b.order)
	return keys
}

// Records returns the records of one partition in insertion order.
func (b *Batch) Records(partition string) []Record { return b.parts[partition] }
