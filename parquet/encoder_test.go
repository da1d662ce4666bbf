package parquet

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"

	"github.com/gridstat/gridkit"
)

func testSchema(t *testing.T) *gridkit.Schema {
	t.Helper()
	return gridkit.MustSchema("results", 1,
		gridkit.Field{Name: "race_id", Type: gridkit.TypeInt, Required: true},
		gridkit.Field{Name: "driver_id", Type: gridkit.TypeString, Required: true},
		gridkit.Field{Name: "points", Type: gridkit.TypeFloat, Required: true},
		gridkit.Field{Name: "fastest_lap", Type: gridkit.TypeInt},
		gridkit.Field{Name: "sprint", Type: gridkit.TypeBool},
		gridkit.Field{Name: "ingested_at", Type: gridkit.TypeTime, Required: true},
	)
}

func testRecords(t *testing.T, schema *gridkit.Schema) []gridkit.Record {
	t.Helper()
	at := time.Date(2024, 3, 2, 15, 0, 0, 0, time.UTC)
	return []gridkit.Record{
		{Schema: schema, Values: []interface{}{int64(202401), "max_verstappen", 26.0, int64(39), true, at}},
		{Schema: schema, Values: []interface{}{int64(202401), "sainz", 18.0, nil, nil, at}},
		{Schema: schema, Values: []interface{}{int64(202401), "hamilton", 10.0, int64(44), false, at}},
	}
}

func TestEncodeProducesParquet(t *testing.T) {
	schema := testSchema(t)
	var buf bytes.Buffer
	if err := NewEncoder().Encode(&buf, schema, testRecords(t, schema)); err != nil {
		t.Fatalf("encoding: %v", err)
	}
	b := buf.Bytes()
	if len(b) < 8 {
		t.Fatalf("segment too small: %d bytes", len(b))
	}
	if !bytes.HasPrefix(b, []byte("PAR1")) || !bytes.HasSuffix(b, []byte("PAR1")) {
		t.Fatalf("segment missing parquet magic: % x ... % x", b[:4], b[len(b)-4:])
	}
}

func TestEncodeRoundTrips(t *testing.T) {
	schema := testSchema(t)
	var buf bytes.Buffer
	if err := NewEncoder().Encode(&buf, schema, testRecords(t, schema)); err != nil {
		t.Fatalf("encoding: %v", err)
	}

	tbl, err := pqarrow.ReadTable(context.Background(), bytes.NewReader(buf.Bytes()),
		parquet.NewReaderProperties(nil), pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	if err != nil {
		t.Fatalf("reading table back: %v", err)
	}
	defer tbl.Release()

	if tbl.NumRows() != 3 {
		t.Fatalf("expected 3 rows, got %d", tbl.NumRows())
	}
	if tbl.NumCols() != int64(len(schema.Fields)) {
		t.Fatalf("expected %d columns, got %d", len(schema.Fields), tbl.NumCols())
	}
	for i, f := range schema.Fields {
		if got := tbl.Schema().Field(i).Name; got != f.Name {
			t.Fatalf("column %d named %q, expected %q", i, got, f.Name)
		}
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	schema := testSchema(t)
	recs := testRecords(t, schema)
	var b1, b2 bytes.Buffer
	if err := NewEncoder().Encode(&b1, schema, recs); err != nil {
		t.Fatalf("encoding: %v", err)
	}
	if err := NewEncoder().Encode(&b2, schema, recs); err != nil {
		t.Fatalf("encoding again: %v", err)
	}
	if !bytes.Equal(b1.Bytes(), b2.Bytes()) {
		t.Fatal("parquet encoding not deterministic")
	}
}

func TestEncodeEmptySegment(t *testing.T) {
	schema := testSchema(t)
	var buf bytes.Buffer
	if err := NewEncoder().Encode(&buf, schema, nil); err != nil {
		t.Fatalf("encoding empty batch: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("PAR1")) {
		t.Fatal("empty segment is not a parquet file")
	}
}

func TestEncodeRejectsMisalignedRecord(t *testing.T) {
	schema := testSchema(t)
	bad := []gridkit.Record{{Schema: schema, Values: []interface{}{int64(1)}}}
	if err := NewEncoder().Encode(&bytes.Buffer{}, schema, bad); err == nil {
		t.Fatal("expected error for misaligned record")
	}
	wrongType := []gridkit.Record{{Schema: schema, Values: []interface{}{"not-an-int", "x", 1.0, nil, nil, time.Now()}}}
	if err := NewEncoder().Encode(&bytes.Buffer{}, schema, wrongType); err == nil {
		t.Fatal("expected error for wrong value type")
	}
}
