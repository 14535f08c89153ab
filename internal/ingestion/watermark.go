package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"lendmirror/internal/storage"
)

// WatermarkTracker owns the per-stream last-processed block. State is
// explicit and per-instance, never ambient: two trackers for two networks
// cannot collide. The in-memory view is warmed from the store on first touch
// so restarts keep discarding stale replays.
type WatermarkTracker struct {
	store storage.WatermarkStore

	mu     sync.Mutex
	blocks map[string]uint64
	warmed map[string]bool
}

// NewWatermarkTracker creates a tracker backed by the given store.
func NewWatermarkTracker(store storage.WatermarkStore) *WatermarkTracker {
	return &WatermarkTracker{
		store:  store,
		blocks: make(map[string]uint64),
		warmed: make(map[string]bool),
	}
}

// Peek returns the stream's current watermark, 0 if nothing committed yet.
func (t *WatermarkTracker) Peek(ctx context.Context, stream string) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.warmLocked(ctx, stream)
}

// Advance moves the stream watermark to max(current, block), persisting the
// new high-water mark. Regressions are silently ignored.
func (t *WatermarkTracker) Advance(ctx context.Context, stream string, block uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, err := t.warmLocked(ctx, stream)
	if err != nil {
		return err
	}
	if block <= current {
		return nil
	}

	if err := t.store.SetWatermark(ctx, stream, block); err != nil {
		return fmt.Errorf("persist watermark %s@%d: %w", stream, block, err)
	}
	t.blocks[stream] = block
	return nil
}

// Observe records a block committed out-of-band (the unit writer advances the
// durable row in its own transaction); only the in-memory view moves.
func (t *WatermarkTracker) Observe(stream string, block uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if block > t.blocks[stream] {
		t.blocks[stream] = block
		t.warmed[stream] = true
	}
}

func (t *WatermarkTracker) warmLocked(ctx context.Context, stream string) (uint64, error) {
	if t.warmed[stream] {
		return t.blocks[stream], nil
	}

	block, err := t.store.GetWatermark(ctx, stream)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("warm watermark %s: %w", stream, err)
		}
		block = 0
	}
	if block > t.blocks[stream] {
		t.blocks[stream] = block
	}
	t.warmed[stream] = true
	return t.blocks[stream], nil
}
