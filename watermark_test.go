package gridkit

import (
	"context"
	"testing"
)

func TestMemWatermarkStore(t *testing.T) {
	ctx := context.Background()
	ws := NewMemWatermarkStore()
	defer ws.Close()

	if _, ok, err := ws.Read(ctx, "results"); err != nil || ok {
		t.Fatalf("expected no watermark yet, got ok=%v err=%v", ok, err)
	}

	if err := ws.Commit(ctx, "results", 5); err != nil {
		t.Fatalf("committing 5: %v", err)
	}
	cur, ok, err := ws.Read(ctx, "results")
	if err != nil || !ok || cur != 5 {
		t.Fatalf("expected cursor 5, got %d ok=%v err=%v", cur, ok, err)
	}

	// Entities are independent.
	if _, ok, _ := ws.Read(ctx, "drivers"); ok {
		t.Fatal("expected no watermark for other entity")
	}

	if err := ws.Commit(ctx, "results", 9); err != nil {
		t.Fatalf("committing 9: %v", err)
	}
	cur, _, _ = ws.Read(ctx, "results")
	if cur != 9 {
		t.Fatalf("expected cursor 9, got %d", cur)
	}
}

func TestMemWatermarkStoreRejectsStaleCommit(t *testing.T) {
	ctx := context.Background()
	ws := NewMemWatermarkStore()
	defer ws.Close()

	if err := ws.Commit(ctx, "results", 7); err != nil {
		t.Fatalf("committing 7: %v", err)
	}
	for _, stale := range []Cursor{7, 3} {
		err := ws.Commit(ctx, "results", stale)
		se, ok := err.(StaleWatermarkError)
		if !ok {
			t.Fatalf("expected StaleWatermarkError committing %d, got %T: %v", stale, err, err)
		}
		if se.Stored != 7 || se.Given != stale || se.Entity != "results" {
			t.Fatalf("unexpected stale error contents: %+v", se)
		}
	}
	cur, _, _ := ws.Read(ctx, "results")
	if cur != 7 {
		t.Fatalf("stale commit moved the watermark to %d", cur)
	}
}
