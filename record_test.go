package gridkit

import (
	"reflect"
	"testing"
)

func resultsSchema(t *testing.T) *Schema {
	t.Helper()
	return MustSchema("results", 1,
		Field{Name: "round", Type: TypeInt, Required: true},
		Field{Name: "season", Type: TypeInt, Required: true},
		Field{Name: "driver_id", Type: TypeString, Required: true},
	)
}

func mustRecord(t *testing.T, s *Schema, raw map[string]interface{}) Record {
	t.Helper()
	rec, err := s.Normalize(raw)
	if err != nil {
		t.Fatalf("normalizing %v: %v", raw, err)
	}
	return rec
}

func TestBatchPartitionsAndCursor(t *testing.T) {
	schema := resultsSchema(t)
	b, err := NewBatch("results", "batch-1", schema, "round", "season")
	if err != nil {
		t.Fatalf("building batch: %v", err)
	}

	for _, raw := range []map[string]interface{}{
		{"round": "22", "season": "2023", "driver_id": "verstappen"},
		{"round": "1", "season": "2024", "driver_id": "verstappen"},
		{"round": "2", "season": "2024", "driver_id": "sainz"},
	} {
		if err := b.Add(mustRecord(t, schema, raw)); err != nil {
			t.Fatalf("adding %v: %v", raw, err)
		}
	}

	if b.Len() != 3 {
		t.Fatalf("expected 3 records, got %d", b.Len())
	}
	if b.MaxCursor() != 22 {
		t.Fatalf("expected max cursor 22, got %d", b.MaxCursor())
	}
	wantParts := []string{"season=2023", "season=2024"}
	if !reflect.DeepEqual(b.Partitions(), wantParts) {
		t.Fatalf("expected partitions %v, got %v", wantParts, b.Partitions())
	}
	if got := len(b.Records("season=2024")); got != 2 {
		t.Fatalf("expected 2 records in season=2024, got %d", got)
	}
	if got := len(b.Records("season=2023")); got != 1 {
		t.Fatalf("expected 1 record in season=2023, got %d", got)
	}
}

func TestNewBatchValidation(t *testing.T) {
	schema := resultsSchema(t)
	if _, err := NewBatch("results", "b", schema, "nope", "season"); err == nil {
		t.Fatal("expected error for unknown cursor field")
	}
	if _, err := NewBatch("results", "b", schema, "driver_id", "season"); err == nil {
		t.Fatal("expected error for non-integer cursor field")
	}
	if _, err := NewBatch("results", "b", schema, "round", "nope"); err == nil {
		t.Fatal("expected error for unknown partition field")
	}
}

func TestRecordValue(t *testing.T) {
	schema := resultsSchema(t)
	rec := mustRecord(t, schema, map[string]interface{}{"round": "5", "season": "2024", "driver_id": "piastri"})
	v, ok := rec.Value("driver_id")
	if !ok || v != "piastri" {
		t.Fatalf("expected piastri, got %v %v", v, ok)
	}
	if _, ok := rec.Value("nope"); ok {
		t.Fatal("expected no value for unknown field")
	}
}
