// Package parquet encodes gridkit batches as Parquet segments via Apache
// Arrow: one arrow record batch per segment, dictionary encoding on, 1MB
// data pages, the Arrow schema stored in the file metadata for clean
// round-tripping into query engines.
package parquet

import (
	"io"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
	"github.com/pkg/errors"

	"github.com/gridstat/gridkit"
)

// Encoder is a gridkit.SegmentEncoder producing one Parquet file per
// segment.
type Encoder struct {
	Allocator memory.Allocator
}

// NewEncoder returns an Encoder using the Go allocator.
func NewEncoder() *Encoder {
	return &Encoder{Allocator: memory.NewGoAllocator()}
}

// Ext implements gridkit.SegmentEncoder.
func (e *Encoder) Ext() string { return ".parquet" }

// Encode implements gridkit.SegmentEncoder.
func (e *Encoder) Encode(w io.Writer, schema *gridkit.Schema, records []gridkit.Record) error {
	alloc := e.Allocator
	if alloc == nil {
		alloc = memory.NewGoAllocator()
	}
	arrowSchema, err := toArrowSchema(schema)
	if err != nil {
		return err
	}
	builder := array.NewRecordBuilder(alloc, arrowSchema)
	defer builder.Release()
	for _, rec := range records {
		if err := appendRecord(builder, schema, rec); err != nil {
			return err
		}
	}
	arrowRec := builder.NewRecord()
	defer arrowRec.Release()

	props := parquet.NewWriterProperties(
		parquet.WithDictionaryDefault(true),
		parquet.WithDataPageSize(1024*1024),
		parquet.WithCreatedBy("gridkit"),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())
	fw, err := pqarrow.NewFileWriter(arrowSchema, w, props, arrowProps)
	if err != nil {
		return errors.Wrap(err, "creating parquet writer")
	}
	if err := fw.Write(arrowRec); err != nil {
		fw.Close()
		return errors.Wrap(err, "writing record batch")
	}
	return errors.Wrap(fw.Close(), "closing parquet writer")
}

// toArrowSchema maps gridkit types to Arrow: Int to int64, Float to
// float64, String to utf8, Bool to bool, Time to timestamp[us, UTC].
func toArrowSchema(schema *gridkit.Schema) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(schema.Fields))
	for i, f := range schema.Fields {
		var dt arrow.DataType
		switch f.Type {
		case gridkit.TypeInt:
			dt = arrow.PrimitiveTypes.Int64
		case gridkit.TypeFloat:
			dt = arrow.PrimitiveTypes.Float64
		case gridkit.TypeString:
			dt = arrow.BinaryTypes.String
		case gridkit.TypeBool:
			dt = arrow.FixedWidthTypes.Boolean
		case gridkit.TypeTime:
			dt = arrow.FixedWidthTypes.Timestamp_us
		default:
			return nil, errors.Errorf("no arrow type for %s", f.Type)
		}
		fields[i] = arrow.Field{Name: f.Name, Type: dt, Nullable: !f.Required}
	}
	return arrow.NewSchema(fields, nil), nil
}

func appendRecord(builder *array.RecordBuilder, schema *gridkit.Schema, rec gridkit.Record) error {
	if len(rec.Values) != len(schema.Fields) {
		return errors.Errorf("record has %d values for %d fields", len(rec.Values), len(schema.Fields))
	}
	for i, f := range schema.Fields {
		v := rec.Values[i]
		if v == nil {
			builder.Field(i).AppendNull()
			continue
		}
		switch f.Type {
		case gridkit.TypeInt:
			iv, ok := v.(int64)
			if !ok {
				return typeMismatch(f, v)
			}
			builder.Field(i).(*array.Int64Builder).Append(iv)
		case gridkit.TypeFloat:
			fv, ok := v.(float64)
			if !ok {
				return typeMismatch(f, v)
			}
			builder.Field(i).(*array.Float64Builder).Append(fv)
		case gridkit.TypeString:
			sv, ok := v.(string)
			if !ok {
				return typeMismatch(f, v)
			}
			builder.Field(i).(*array.StringBuilder).Append(sv)
		case gridkit.TypeBool:
			bv, ok := v.(bool)
			if !ok {
				return typeMismatch(f, v)
			}
			builder.Field(i).(*array.BooleanBuilder).Append(bv)
		case gridkit.TypeTime:
			tv, ok := v.(time.Time)
			if !ok {
				return typeMismatch(f, v)
			}
			builder.Field(i).(*array.TimestampBuilder).Append(arrow.Timestamp(tv.UnixMicro()))
		default:
			return errors.Errorf("no arrow builder for %s", f.Type)
		}
	}
	return nil
}

func typeMismatch(f gridkit.Field, v interface{}) error {
	return errors.Errorf("field %q: %v of %[2]T is not %s", f.Name, v, f.Type)
}
