package ingestion

import (
	"context"
	"testing"

	"lendmirror/internal/storage/memory"
)

func TestWatermarkTracker_MonotonicAdvance(t *testing.T) {
	ctx := context.Background()
	tracker := NewWatermarkTracker(memory.NewStore())

	if err := tracker.Advance(ctx, "events", 10); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := tracker.Advance(ctx, "events", 5); err != nil {
		t.Fatalf("regressing advance should be a no-op: %v", err)
	}

	wm, err := tracker.Peek(ctx, "events")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if wm != 10 {
		t.Errorf("expected watermark 10, got %d", wm)
	}
}

func TestWatermarkTracker_WarmsFromStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	if err := store.SetWatermark(ctx, "events", 42); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	// A fresh tracker (simulating a restart) must see the persisted mark.
	tracker := NewWatermarkTracker(store)
	wm, err := tracker.Peek(ctx, "events")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if wm != 42 {
		t.Errorf("expected warmed watermark 42, got %d", wm)
	}
}

func TestWatermarkTracker_StreamsAreIndependent(t *testing.T) {
	ctx := context.Background()
	tracker := NewWatermarkTracker(memory.NewStore())

	if err := tracker.Advance(ctx, "deposits", 100); err != nil {
		t.Fatalf("advance: %v", err)
	}

	wm, err := tracker.Peek(ctx, "market-data")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if wm != 0 {
		t.Errorf("expected untouched stream at 0, got %d", wm)
	}
}

func TestWatermarkTracker_ObserveMovesMemoryView(t *testing.T) {
	ctx := context.Background()
	tracker := NewWatermarkTracker(memory.NewStore())

	tracker.Observe("events", 7)
	wm, err := tracker.Peek(ctx, "events")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if wm != 7 {
		t.Errorf("expected observed watermark 7, got %d", wm)
	}

	tracker.Observe("events", 3)
	wm, _ = tracker.Peek(ctx, "events")
	if wm != 7 {
		t.Errorf("observe must not regress, got %d", wm)
	}
}
