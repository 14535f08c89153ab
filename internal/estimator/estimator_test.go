package estimator

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestEstimator_StartsPaused(t *testing.T) {
	e := New(testLogger())
	if e.State() != StatePaused {
		t.Errorf("expected PAUSED before first anchor, got %s", e.State())
	}
	if e.Value() != 0 {
		t.Errorf("expected zero value before first anchor, got %f", e.Value())
	}
}

func TestEstimator_DiscreteStepExtrapolation(t *testing.T) {
	clock := newFakeClock()
	e := New(testLogger(), WithClock(clock.Now), WithTick(time.Hour))
	defer e.Stop()

	e.Anchor(100.0, 0.5, 10*time.Second)
	if e.State() != StateRunning {
		t.Fatalf("expected RUNNING after anchor, got %s", e.State())
	}

	// Inside the first interval nothing has settled yet.
	clock.Advance(9 * time.Second)
	if got := e.Value(); got != 100.0 {
		t.Errorf("expected base before first interval boundary, got %f", got)
	}

	// Crossing a boundary adds exactly one step, never a fraction.
	clock.Advance(2 * time.Second) // 11s elapsed
	if got := e.Value(); got != 100.5 {
		t.Errorf("expected one settled step, got %f", got)
	}

	clock.Advance(25 * time.Second) // 36s elapsed, 3 full intervals
	if got := e.Value(); got != 101.5 {
		t.Errorf("expected three settled steps, got %f", got)
	}
}

func TestEstimator_StopFreezesValue(t *testing.T) {
	clock := newFakeClock()
	e := New(testLogger(), WithClock(clock.Now), WithTick(time.Hour))

	e.Anchor(100.0, 1.0, 10*time.Second)
	clock.Advance(15 * time.Second)
	e.Stop()

	if e.State() != StatePaused {
		t.Fatalf("expected PAUSED after stop, got %s", e.State())
	}
	frozen := e.Value()
	if frozen != 101.0 {
		t.Errorf("expected frozen value 101.0, got %f", frozen)
	}

	// Time passing must not move a frozen display.
	clock.Advance(time.Minute)
	if got := e.Value(); got != frozen {
		t.Errorf("frozen value drifted: %f -> %f", frozen, got)
	}
}

func TestEstimator_StalenessPausesOnTick(t *testing.T) {
	clock := newFakeClock()
	e := New(testLogger(), WithClock(clock.Now), WithTick(time.Hour))
	defer e.Stop()

	e.Anchor(100.0, 1.0, 10*time.Second)

	// One interval past the anchor without a fresh snapshot: the next tick
	// must freeze instead of extrapolating further.
	clock.Advance(11 * time.Second)
	value, live := e.onTickOnce(e.generation)
	if live {
		t.Fatal("expected the stale tick to pause the estimator")
	}
	if e.State() != StatePaused {
		t.Errorf("expected PAUSED after staleness, got %s", e.State())
	}
	if value != 101.0 {
		t.Errorf("expected freeze at the last settled step, got %f", value)
	}
}

func TestEstimator_ContinueResumesFromFreshBase(t *testing.T) {
	clock := newFakeClock()
	e := New(testLogger(), WithClock(clock.Now), WithTick(time.Hour))
	defer e.Stop()

	e.Anchor(100.0, 1.0, 10*time.Second)
	clock.Advance(15 * time.Second)
	e.Stop()

	// Resume with the settled value the ledger reported; rate model survives.
	e.Continue(101.0)
	if e.State() != StateRunning {
		t.Fatalf("expected RUNNING after continue, got %s", e.State())
	}
	if got := e.Value(); got != 101.0 {
		t.Errorf("expected fresh base right after continue, got %f", got)
	}

	clock.Advance(10 * time.Second)
	if got := e.Value(); got != 102.0 {
		t.Errorf("expected one step after continue, got %f", got)
	}
}

func TestEstimator_ResetReplacesGeneration(t *testing.T) {
	clock := newFakeClock()
	e := New(testLogger(), WithClock(clock.Now), WithTick(time.Hour))
	defer e.Stop()

	e.Anchor(100.0, 1.0, 10*time.Second)
	oldGeneration := e.generation

	e.Reset(500.0, 2.0, 20*time.Second)

	// A callback from the replaced ticker must drop itself.
	if _, live := e.onTickOnce(oldGeneration); live {
		t.Error("stale generation callback was not dropped")
	}

	// The new anchor's model is in effect.
	clock.Advance(21 * time.Second)
	if got := e.Value(); got != 502.0 {
		t.Errorf("expected new model after reset, got %f", got)
	}
}

func TestEstimator_TickCallbackDeliversDisplayValue(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	var seen []float64

	e := New(testLogger(),
		WithClock(clock.Now),
		WithTick(5*time.Millisecond),
		WithTickCallback(func(v float64) {
			mu.Lock()
			seen = append(seen, v)
			mu.Unlock()
		}),
	)
	defer e.Stop()

	e.Anchor(100.0, 1.0, time.Hour)

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no tick callback within a second")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if seen[0] != 100.0 {
		t.Errorf("expected callback with base value, got %f", seen[0])
	}
}
