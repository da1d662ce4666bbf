package gridkit

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// FieldType enumerates the value types a schema field can declare.
type FieldType int

const (
	TypeInt FieldType = iota
	TypeFloat
	TypeString
	TypeBool
	TypeTime
)

func (t FieldType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	}
	return "unknown"
}

// Field describes one column of a schema.
type Field struct {
	Name     string
	Type     FieldType
	Required bool

	// Path locates the value inside nested raw objects. Empty means the
	// top-level key matching Name.
	Path []string

	// Layout is the reference layout for TypeTime fields arriving as
	// strings. Defaults to RFC 3339.
	Layout string
}

func (f Field) path() []string {
	if len(f.Path) > 0 {
		return f.Path
	}
	return []string{f.Name}
}

// Schema is an ordered column contract for one entity. Field order is the
// column order of every segment written for the entity, so changing it (or
// any field's type) requires bumping Version.
type Schema struct {
	Entity  string
	Version int
	Fields  []Field

	index map[string]int
}

// NewSchema builds a schema, rejecting duplicate or empty field names.
func NewSchema(entity string, version int, fields ...Field) (*Schema, error) {
	s := &Schema{
		Entity:  entity,
		Version: version,
		Fields:  fields,
		index:   make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.Name == "" {
			return nil, errors.Errorf("schema %q: field %d has empty name", entity, i)
		}
		if _, ok := s.index[f.Name]; ok {
			return nil, errors.Errorf("schema %q: duplicate field %q", entity, f.Name)
		}
		s.index[f.Name] = i
	}
	return s, nil
}

// MustSchema is NewSchema which panics on error. For package-level schema
// declarations.
func MustSchema(entity string, version int, fields ...Field) *Schema {
	s, err := NewSchema(entity, version, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Index returns the position of the named field.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Extend returns a new schema with fields appended. The receiver is not
// modified.
func (s *Schema) Extend(fields ...Field) (*Schema, error) {
	combined := make([]Field, 0, len(s.Fields)+len(fields))
	combined = append(combined, s.Fields...)
	combined = append(combined, fields...)
	return NewSchema(s.Entity, s.Version, combined...)
}

// Normalize converts one raw record into a typed Record aligned with the
// schema. It is pure: raw is never modified and no state is carried between
// calls. A missing or null value for a required field yields a
// FieldMissingError; a value which cannot be coerced to the declared type
// yields a FieldTypeError. Raw keys not named by any field are dropped.
//
// Numeric values arriving as strings (the Ergast API quotes most of its
// numbers) coerce to the declared numeric type.
func (s *Schema) Normalize(raw map[string]interface{}) (Record, error) {
	vals := make([]interface{}, len(s.Fields))
	for i, f := range s.Fields {
		v, found := lookup(raw, f.path())
		if !found || v == nil {
			if f.Required {
				return Record{}, FieldMissingError{Field: f.Name}
			}
			continue
		}
		cv, err := coerce(v, f)
		if err != nil {
			return Record{}, FieldTypeError{Field: f.Name, Type: f.Type, Value: v}
		}
		vals[i] = cv
	}
	return Record{Schema: s, Values: vals}, nil
}

func lookup(raw map[string]interface{}, path []string) (interface{}, bool) {
	var cur interface{} = raw
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func coerce(v interface{}, f Field) (interface{}, error) {
	switch f.Type {
	case TypeInt:
		return toInt64(v)
	case TypeFloat:
		return toFloat64(v)
	case TypeString:
		return toString(v)
	case TypeBool:
		return toBool(v)
	case TypeTime:
		layout := f.Layout
		if layout == "" {
			layout = time.RFC3339
		}
		return toTime(v, layout)
	}
	return nil, errors.Errorf("unknown field type %d", f.Type)
}

func toInt64(val interface{}) (int64, error) {
	switch vt := val.(type) {
	case int:
		return int64(vt), nil
	case int8:
		return int64(vt), nil
	case int16:
		return int64(vt), nil
	case int32:
		return int64(vt), nil
	case int64:
		return vt, nil
	case uint:
		return int64(vt), nil
	case uint8:
		return int64(vt), nil
	case uint16:
		return int64(vt), nil
	case uint32:
		return int64(vt), nil
	case uint64:
		return int64(vt), nil
	case float64:
		if vt != math.Trunc(vt) {
			return 0, errors.Errorf("couldn't convert fractional %v to int64", vt)
		}
		return int64(vt), nil
	case float32:
		return toInt64(float64(vt))
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(vt), 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "couldn't convert %q to int64", vt)
		}
		return i, nil
	default:
		return 0, errors.Errorf("couldn't convert %v of %[1]T to int64", vt)
	}
}

func toFloat64(val interface{}) (float64, error) {
	switch vt := val.(type) {
	case float64:
		return vt, nil
	case float32:
		return float64(vt), nil
	case int:
		return float64(vt), nil
	case int64:
		return float64(vt), nil
	case uint64:
		return float64(vt), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(vt), 64)
		if err != nil {
			return 0, errors.Wrapf(err, "couldn't convert %q to float64", vt)
		}
		return f, nil
	default:
		return 0, errors.Errorf("couldn't convert %v of %[1]T to float64", vt)
	}
}

func toString(val interface{}) (string, error) {
	switch vt := val.(type) {
	case string:
		return vt, nil
	case []byte:
		return string(vt), nil
	default:
		return "", errors.Errorf("couldn't convert %v of %[1]T to string", vt)
	}
}

func toBool(val interface{}) (bool, error) {
	switch vt := val.(type) {
	case bool:
		return vt, nil
	case string:
		b, err := strconv.ParseBool(vt)
		if err != nil {
			return false, errors.Wrapf(err, "couldn't convert %q to bool", vt)
		}
		return b, nil
	default:
		return false, errors.Errorf("couldn't convert %v of %[1]T to bool", vt)
	}
}

func toTime(val interface{}, layout string) (time.Time, error) {
	switch vt := val.(type) {
	case time.Time:
		return vt, nil
	case string:
		t, err := time.Parse(layout, vt)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "couldn't parse %q with layout %q", vt, layout)
		}
		return t, nil
	default:
		return time.Time{}, errors.Errorf("couldn't convert %v of %[1]T to time", vt)
	}
}
