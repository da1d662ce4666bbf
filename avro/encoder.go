// Package avro encodes gridkit batches as Avro object container files.
// Optional fields become ["null", T] unions with a null default, and Time
// fields use the timestamp-micros logical type, so segments load cleanly
// into schema-aware warehouses.
package avro

import (
	"encoding/json"
	"io"

	liavro "github.com/linkedin/goavro/v2"
	"github.com/pkg/errors"

	"github.com/gridstat/gridkit"
)

// Encoder is a gridkit.SegmentEncoder producing one OCF per segment.
type Encoder struct{}

// Ext implements gridkit.SegmentEncoder.
func (Encoder) Ext() string { return ".avro" }

// Encode implements gridkit.SegmentEncoder.
func (Encoder) Encode(w io.Writer, schema *gridkit.Schema, records []gridkit.Record) error {
	schemaJSON, err := SchemaJSON(schema)
	if err != nil {
		return err
	}
	codec, err := liavro.NewCodec(schemaJSON)
	if err != nil {
		return errors.Wrap(err, "building avro codec")
	}
	ocf, err := liavro.NewOCFWriter(liavro.OCFConfig{W: w, Codec: codec})
	if err != nil {
		return errors.Wrap(err, "creating ocf writer")
	}
	rows := make([]interface{}, 0, len(records))
	for _, rec := range records {
		row, err := toNative(schema, rec)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return errors.Wrap(ocf.Append(rows), "appending rows")
}

// SchemaJSON renders the Avro record schema for a gridkit schema. Exported
// so operators can register the schema with external catalogs.
func SchemaJSON(schema *gridkit.Schema) (string, error) {
	fields := make([]map[string]interface{}, len(schema.Fields))
	for i, f := range schema.Fields {
		at, err := avroType(f.Type)
		if err != nil {
			return "", err
		}
		fld := map[string]interface{}{"name": f.Name}
		if f.Required {
			fld["type"] = at
		} else {
			fld["type"] = []interface{}{"null", at}
			fld["default"] = nil
		}
		fields[i] = fld
	}
	rec := map[string]interface{}{
		"type":      "record",
		"namespace": "gridkit",
		"name":      schema.Entity,
		"fields":    fields,
	}
	b, err := json.Marshal(rec)
	return string(b), errors.Wrap(err, "marshaling avro schema")
}

func avroType(t gridkit.FieldType) (interface{}, error) {
	switch t {
	case gridkit.TypeInt:
		return "long", nil
	case gridkit.TypeFloat:
		return "double", nil
	case gridkit.TypeString:
		return "string", nil
	case gridkit.TypeBool:
		return "boolean", nil
	case gridkit.TypeTime:
		return map[string]interface{}{"type": "long", "logicalType": "timestamp-micros"}, nil
	}
	return nil, errors.Errorf("no avro type for %s", t)
}

// unionKey is the goavro native key for a value inside a ["null", T] union.
func unionKey(t gridkit.FieldType) string {
	switch t {
	case gridkit.TypeInt:
		return "long"
	case gridkit.TypeFloat:
		return "double"
	case gridkit.TypeString:
		return "string"
	case gridkit.TypeBool:
		return "boolean"
	case gridkit.TypeTime:
		return "long.timestamp-micros"
	}
	return ""
}

func toNative(schema *gridkit.Schema, rec gridkit.Record) (map[string]interface{}, error) {
	if len(rec.Values) != len(schema.Fields) {
		return nil, errors.Errorf("record has %d values for %d fields", len(rec.Values), len(schema.Fields))
	}
	row := make(map[string]interface{}, len(schema.Fields))
	for i, f := range schema.Fields {
		v := rec.Values[i]
		if v == nil {
			if f.Required {
				return nil, errors.Errorf("required field %q is nil", f.Name)
			}
			row[f.Name] = nil
			continue
		}
		if f.Required {
			row[f.Name] = v
		} else {
			row[f.Name] = map[string]interface{}{unionKey(f.Type): v}
		}
	}
	return row, nil
}
