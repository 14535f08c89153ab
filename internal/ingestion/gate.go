package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lendmirror/internal/storage"
)

// Decision is the outcome of admitting one notification.
type Decision string

// Admission outcomes. Duplicates and stale deliveries are normal, not errors.
const (
	DecisionAdmit     Decision = "ADMIT"
	DecisionDuplicate Decision = "DUPLICATE"
	DecisionStale     Decision = "STALE"
)

// DefaultDebounce is the coalescing window between admission and execution.
// A feed redelivering the same transaction in a burst collapses to one unit
// of work.
const DefaultDebounce = 300 * time.Millisecond

// Gate is the sole idempotency check before any ledger re-read or store
// write. In-flight markers serialize per-hash work; the committed check hits
// the store so dedup survives restarts.
type Gate struct {
	events     storage.EventStore
	watermarks *WatermarkTracker
	debounce   time.Duration

	mu       sync.Mutex
	inflight map[string]*time.Timer
	wg       sync.WaitGroup
}

// NewGate creates a gate. A non-positive debounce falls back to
// DefaultDebounce.
func NewGate(events storage.EventStore, watermarks *WatermarkTracker, debounce time.Duration) *Gate {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Gate{
		events:     events,
		watermarks: watermarks,
		debounce:   debounce,
		inflight:   make(map[string]*time.Timer),
	}
}

// Admit decides the fate of one notification. On ADMIT the hash is marked
// in-flight and run is scheduled after the debounce window; a duplicate
// arriving inside the window resets the pending timer instead of scheduling
// twice. run must end with Commit or Release for the hash.
func (g *Gate) Admit(ctx context.Context, txHash string, block uint64, stream string, run func()) (Decision, error) {
	g.mu.Lock()
	if timer, ok := g.inflight[txHash]; ok {
		g.resetPending(timer)
		g.mu.Unlock()
		return DecisionDuplicate, nil
	}
	g.mu.Unlock()

	watermark, err := g.watermarks.Peek(ctx, stream)
	if err != nil {
		return "", fmt.Errorf("peek watermark: %w", err)
	}
	if block <= watermark {
		return DecisionStale, nil
	}

	committed, err := g.events.HasEvent(ctx, txHash)
	if err != nil {
		return "", fmt.Errorf("committed check: %w", err)
	}
	if committed {
		return DecisionDuplicate, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Re-check under the lock: two concurrent admits for the same hash must
	// collapse to one timer.
	if timer, ok := g.inflight[txHash]; ok {
		g.resetPending(timer)
		return DecisionDuplicate, nil
	}

	g.wg.Add(1)
	g.inflight[txHash] = time.AfterFunc(g.debounce, func() {
		defer g.wg.Done()
		run()
	})
	return DecisionAdmit, nil
}

// resetPending pushes a debounce timer out only while its unit has not
// started. Stop reports false once the timer has fired; re-arming a fired
// timer would execute the unit a second time, so a duplicate arriving during
// execution leaves the timer alone and the running unit settles the hash via
// Commit or Release.
func (g *Gate) resetPending(timer *time.Timer) {
	if timer.Stop() {
		timer.Reset(g.debounce)
	}
}

// Commit marks a hash fully processed and moves the in-memory watermark. The
// durable watermark row advanced inside the unit's transaction; only the
// tracker's view needs to catch up.
func (g *Gate) Commit(txHash, stream string, block uint64) {
	g.mu.Lock()
	delete(g.inflight, txHash)
	g.mu.Unlock()

	g.watermarks.Observe(stream, block)
}

// Release drops the in-flight marker after a failed unit so the next
// delivery of the same hash retries the whole unit.
func (g *Gate) Release(txHash string) {
	g.mu.Lock()
	delete(g.inflight, txHash)
	g.mu.Unlock()
}

// Drain blocks until every scheduled unit has finished.
func (g *Gate) Drain() {
	g.wg.Wait()
}

// InFlight reports whether a hash currently has a pending or running unit.
func (g *Gate) InFlight(txHash string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inflight[txHash]
	return ok
}
