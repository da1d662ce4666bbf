package gridkit

import (
	"time"

	"github.com/pkg/errors"
)

// Names of the audit columns a Stamper appends, in order.
const (
	AuditIngestedAt    = "ingested_at"
	AuditSource        = "source"
	AuditBatchID       = "batch_id"
	AuditSchemaVersion = "schema_version"
)

// AuditFields returns the audit column descriptors appended to every
// stamped schema, in stamp order.
func AuditFields() []Field {
	return []Field{
		{Name: AuditIngestedAt, Type: TypeTime, Required: true},
		{Name: AuditSource, Type: TypeString, Required: true},
		{Name: AuditBatchID, Type: TypeString, Required: true},
		{Name: AuditSchemaVersion, Type: TypeInt, Required: true},
	}
}

// Stamper appends ingestion audit metadata to normalized records: the run's
// ingestion timestamp, a source tag, the batch id, and the schema version
// the record was normalized under. Stamping is deterministic for a given
// Stamper and never mutates its input, so re-stamping a retried batch
// yields byte-identical audit columns.
type Stamper struct {
	base    *Schema
	stamped *Schema
	suffix  [4]interface{}
}

// NewStamper builds a Stamper for records normalized against base.
// ingestedAt is truncated to microseconds to survive columnar timestamp
// encodings unchanged.
func NewStamper(base *Schema, batchID, sourceTag string, ingestedAt time.Time) (*Stamper, error) {
	if batchID == "" {
		return nil, errors.New("batch id is required")
	}
	if sourceTag == "" {
		return nil, errors.New("source tag is required")
	}
	stamped, err := base.Extend(AuditFields()...)
	if err != nil {
		return nil, errors.Wrap(err, "extending schema with audit fields")
	}
	return &Stamper{
		base:    base,
		stamped: stamped,
		suffix: [4]interface{}{
			ingestedAt.UTC().Truncate(time.Microsecond),
			sourceTag,
			batchID,
			int64(base.Version),
		},
	}, nil
}

// Schema returns the stamped schema: the base fields followed by the audit
// fields.
func (st *Stamper) Schema() *Schema { return st.stamped }

// Stamp returns a new Record extending rec with the audit values. rec must
// have been normalized against the Stamper's base schema.
func (st *Stamper) Stamp(rec Record) (Record, error) {
	if rec.Schema != st.base {
		return Record{}, errors.Errorf("record schema is not %q v%d", st.base.Entity, st.base.Version)
	}
	vals := make([]interface{}, 0, len(rec.Values)+len(st.suffix))
	vals = append(vals, rec.Values...)
	vals = append(vals, st.suffix[:]...)
	return Record{Schema: st.stamped, Values: vals}, nil
}
