// Package estimator keeps a client-visible ticking extrapolation of a
// monotonically accruing quantity anchored to the last authoritative
// snapshot.
package estimator

import (
	"log"
	"math"
	"sync"
	"time"
)

// State of the estimator.
type State string

// Estimator states.
const (
	StateRunning State = "RUNNING"
	StatePaused  State = "PAUSED"
)

// DefaultTick is the display refresh period.
const DefaultTick = time.Second

// Estimator is an explicit two-state machine owned by its own ticker
// goroutine. Extrapolation mirrors the ledger's discrete interval accrual:
// display = base + ratePerInterval * floor(elapsed/interval). Continuous
// compounding would visibly diverge from settled values.
type Estimator struct {
	logger *log.Logger
	tick   time.Duration
	now    func() time.Time
	onTick func(value float64) // display callback, may be nil

	mu              sync.Mutex
	state           State
	base            float64
	ratePerInterval float64
	interval        time.Duration
	staleness       time.Duration
	anchorTime      time.Time
	frozen          float64 // displayed value while PAUSED
	generation      uint64
	stop            chan struct{} // per-generation ticker stop
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithTick overrides the display refresh period.
func WithTick(d time.Duration) Option {
	return func(e *Estimator) {
		if d > 0 {
			e.tick = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Estimator) { e.now = now }
}

// WithTickCallback registers the display callback invoked on every tick.
func WithTickCallback(fn func(value float64)) Option {
	return func(e *Estimator) { e.onTick = fn }
}

// New creates a paused Estimator; the first Anchor starts it.
func New(logger *log.Logger, opts ...Option) *Estimator {
	e := &Estimator{
		logger: logger,
		tick:   DefaultTick,
		now:    time.Now,
		state:  StatePaused,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Anchor re-anchors to an authoritative snapshot and (re)starts the ticker.
// Any previous ticker generation is cancelled first; two tickers never run
// against the same display value. The staleness window is one accrual
// interval: past it the ledger would have settled a boundary the client has
// not seen, so the display freezes instead of drifting.
func (e *Estimator) Anchor(base, ratePerInterval float64, interval time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.base = base
	e.ratePerInterval = ratePerInterval
	e.interval = interval
	e.staleness = interval
	e.anchorTime = e.now()
	e.state = StateRunning
	e.restartLocked()
}

// Continue resumes from PAUSED with a fresh authoritative base, keeping the
// rate model.
func (e *Estimator) Continue(freshBase float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.base = freshBase
	e.anchorTime = e.now()
	e.state = StateRunning
	e.restartLocked()
}

// Reset forces a fresh RUNNING anchor. Account switches, network switches,
// and settlements all route here so a stale timer can never keep ticking
// against the wrong account's data.
func (e *Estimator) Reset(base, ratePerInterval float64, interval time.Duration) {
	e.Anchor(base, ratePerInterval, interval)
}

// Stop cancels the ticker and freezes the display.
func (e *Estimator) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateRunning {
		e.frozen = e.valueLocked(e.now())
	}
	e.state = StatePaused
	e.cancelLocked()
}

// State returns the current state.
func (e *Estimator) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Value returns the currently displayed value: a live extrapolation while
// RUNNING, the frozen value while PAUSED.
func (e *Estimator) Value() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRunning {
		return e.frozen
	}
	return e.valueLocked(e.now())
}

// restartLocked replaces the ticker generation. Callbacks from the old
// goroutine see a generation mismatch and drop themselves.
func (e *Estimator) restartLocked() {
	e.cancelLocked()
	e.generation++
	e.stop = make(chan struct{})
	go e.run(e.generation, e.stop)
}

func (e *Estimator) cancelLocked() {
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}

func (e *Estimator) run(generation uint64, stop chan struct{}) {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			value, live := e.onTickOnce(generation)
			if !live {
				return
			}
			if e.onTick != nil {
				e.onTick(value)
			}
		}
	}
}

// onTickOnce advances one tick. Returns live=false when this generation has
// been replaced or the estimator went stale and paused itself.
func (e *Estimator) onTickOnce(generation uint64) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if generation != e.generation || e.state != StateRunning {
		return 0, false
	}

	now := e.now()
	if now.Sub(e.anchorTime) > e.staleness {
		e.frozen = e.valueLocked(now)
		e.state = StatePaused
		e.stop = nil // this generation exits on its own
		e.logger.Printf("estimate stale after %s without re-anchor, pausing at %.8f", e.staleness, e.frozen)
		return e.frozen, false
	}
	return e.valueLocked(now), true
}

func (e *Estimator) valueLocked(now time.Time) float64 {
	if e.interval <= 0 {
		return e.base
	}
	elapsed := now.Sub(e.anchorTime)
	if elapsed < 0 {
		return e.base
	}
	steps := math.Floor(float64(elapsed) / float64(e.interval))
	return e.base + e.ratePerInterval*steps
}
