package gridkit

import (
	"reflect"
	"testing"
	"time"
)

func TestNewSchemaValidation(t *testing.T) {
	if _, err := NewSchema("results", 1, Field{Name: "id", Type: TypeInt}, Field{Name: "id", Type: TypeString}); err == nil {
		t.Fatal("expected error for duplicate field name")
	}
	if _, err := NewSchema("results", 1, Field{Name: "", Type: TypeInt}); err == nil {
		t.Fatal("expected error for empty field name")
	}
	s, err := NewSchema("results", 1, Field{Name: "id", Type: TypeInt}, Field{Name: "pos", Type: TypeInt})
	if err != nil {
		t.Fatalf("building schema: %v", err)
	}
	if i, ok := s.Index("pos"); !ok || i != 1 {
		t.Fatalf("expected pos at index 1, got %d %v", i, ok)
	}
	if _, ok := s.Index("nope"); ok {
		t.Fatal("expected no index for unknown field")
	}
}

func TestNormalize(t *testing.T) {
	schema := MustSchema("results", 1,
		Field{Name: "driver_id", Type: TypeString, Required: true, Path: []string{"Driver", "driverId"}},
		Field{Name: "position", Type: TypeInt, Required: true},
		Field{Name: "points", Type: TypeFloat, Required: true},
		Field{Name: "fastest_lap", Type: TypeBool},
		Field{Name: "date", Type: TypeTime, Layout: "2006-01-02"},
	)

	tests := []struct {
		name string
		raw  map[string]interface{}
		exp  []interface{}
		err  string
	}{
		{
			name: "numeric strings coerce",
			raw: map[string]interface{}{
				"Driver":      map[string]interface{}{"driverId": "hamilton"},
				"position":    "4",
				"points":      "12.5",
				"fastest_lap": "true",
				"date":        "2024-03-02",
			},
			exp: []interface{}{"hamilton", int64(4), 12.5, true, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
		},
		{
			name: "json numbers coerce",
			raw: map[string]interface{}{
				"Driver":   map[string]interface{}{"driverId": "alonso"},
				"position": float64(7),
				"points":   float64(6),
			},
			exp: []interface{}{"alonso", int64(7), float64(6), nil, nil},
		},
		{
			name: "unknown keys dropped",
			raw: map[string]interface{}{
				"Driver":   map[string]interface{}{"driverId": "norris", "code": "NOR"},
				"position": "1",
				"points":   "25",
				"grid":     "2",
			},
			exp: []interface{}{"norris", int64(1), float64(25), nil, nil},
		},
		{
			name: "missing required field",
			raw: map[string]interface{}{
				"Driver": map[string]interface{}{"driverId": "sainz"},
				"points": "0",
			},
			err: `required field "position" missing`,
		},
		{
			name: "null required field",
			raw: map[string]interface{}{
				"Driver":   map[string]interface{}{"driverId": "sainz"},
				"position": nil,
				"points":   "0",
			},
			err: `required field "position" missing`,
		},
		{
			name: "uncoercible value",
			raw: map[string]interface{}{
				"Driver":   map[string]interface{}{"driverId": "sainz"},
				"position": "DNF",
				"points":   "0",
			},
			err: `field "position": couldn't convert DNF of string to int`,
		},
		{
			name: "fractional value for int field",
			raw: map[string]interface{}{
				"Driver":   map[string]interface{}{"driverId": "sainz"},
				"position": 3.5,
				"points":   "0",
			},
			err: `field "position": couldn't convert 3.5 of float64 to int`,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rec, err := schema.Normalize(test.raw)
			if test.err != "" {
				if err == nil {
					t.Fatalf("expected error %q, got record %v", test.err, rec.Values)
				}
				if err.Error() != test.err {
					t.Fatalf("expected error %q, got %q", test.err, err.Error())
				}
				if !IsRejection(err) {
					t.Fatalf("expected %v to be a rejection", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizing: %v", err)
			}
			if !reflect.DeepEqual(rec.Values, test.exp) {
				t.Fatalf("expected %#v, got %#v", test.exp, rec.Values)
			}
			if rec.Schema != schema {
				t.Fatal("record not bound to its schema")
			}
		})
	}
}

func TestNormalizeIsPure(t *testing.T) {
	schema := MustSchema("drivers", 1,
		Field{Name: "driver_id", Type: TypeString, Required: true},
		Field{Name: "number", Type: TypeInt},
	)
	raw := map[string]interface{}{"driver_id": "leclerc", "number": "16"}
	want := map[string]interface{}{"driver_id": "leclerc", "number": "16"}

	r1, err := schema.Normalize(raw)
	if err != nil {
		t.Fatalf("normalizing: %v", err)
	}
	r2, err := schema.Normalize(raw)
	if err != nil {
		t.Fatalf("normalizing again: %v", err)
	}
	if !reflect.DeepEqual(r1.Values, r2.Values) {
		t.Fatalf("normalize not deterministic: %v vs %v", r1.Values, r2.Values)
	}
	if !reflect.DeepEqual(raw, want) {
		t.Fatalf("normalize mutated its input: %v", raw)
	}
}

func TestFieldMissingErrorNamesField(t *testing.T) {
	schema := MustSchema("results", 1, Field{Name: "position", Type: TypeInt, Required: true})
	_, err := schema.Normalize(map[string]interface{}{"id": "3"})
	fm, ok := err.(FieldMissingError)
	if !ok {
		t.Fatalf("expected FieldMissingError, got %T: %v", err, err)
	}
	if fm.Field != "position" {
		t.Fatalf("expected field name position, got %q", fm.Field)
	}
}

func TestCoercions(t *testing.T) {
	t.Run("int", func(t *testing.T) {
		for _, v := range []interface{}{int(9), int8(9), int16(9), int32(9), int64(9), uint(9), uint8(9), uint16(9), uint32(9), uint64(9), float64(9), float32(9), "9", " 9 "} {
			got, err := toInt64(v)
			if err != nil {
				t.Fatalf("converting %v of %[1]T: %v", v, err)
			}
			if got != 9 {
				t.Fatalf("expected 9 from %v of %[1]T, got %d", v, got)
			}
		}
		if _, err := toInt64("nine"); err == nil {
			t.Fatal("expected error converting non-numeric string")
		}
		if _, err := toInt64([]string{"9"}); err == nil {
			t.Fatal("expected error converting slice")
		}
	})
	t.Run("float", func(t *testing.T) {
		for _, v := range []interface{}{float64(2.5), "2.5"} {
			got, err := toFloat64(v)
			if err != nil {
				t.Fatalf("converting %v of %[1]T: %v", v, err)
			}
			if got != 2.5 {
				t.Fatalf("expected 2.5 from %v of %[1]T, got %v", v, got)
			}
		}
	})
	t.Run("bool", func(t *testing.T) {
		got, err := toBool("1")
		if err != nil || got != true {
			t.Fatalf("expected true, got %v %v", got, err)
		}
		if _, err := toBool("maybe"); err == nil {
			t.Fatal("expected error for unparseable bool")
		}
	})
	t.Run("time", func(t *testing.T) {
		got, err := toTime("2024-05-26T13:00:00Z", time.RFC3339)
		if err != nil {
			t.Fatalf("parsing time: %v", err)
		}
		if !got.Equal(time.Date(2024, 5, 26, 13, 0, 0, 0, time.UTC)) {
			t.Fatalf("unexpected time %v", got)
		}
	})
}
