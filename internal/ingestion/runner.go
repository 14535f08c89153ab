package ingestion

import (
	"context"
	"fmt"
	"log"

	"lendmirror/internal/domain"
	"lendmirror/internal/ledger"
	"lendmirror/internal/observability"
)

// Runner routes feed notifications through normalizer, gate, and processor.
// Per-hash work is serialized by the gate's in-flight marker; different
// hashes run in parallel off their own debounce timers.
type Runner struct {
	feed       ledger.EventFeed
	gate       *Gate
	processor  *Processor
	watermarks *WatermarkTracker
	stream     string
	types      []string
	logger     *log.Logger
}

// NewRunner creates a Runner subscribing to the given event types on one
// logical stream.
func NewRunner(
	feed ledger.EventFeed,
	gate *Gate,
	processor *Processor,
	watermarks *WatermarkTracker,
	stream string,
	types []string,
	logger *log.Logger,
) *Runner {
	if len(types) == 0 {
		for _, t := range domain.KnownEventTypes {
			types = append(types, string(t))
		}
	}
	return &Runner{
		feed:       feed,
		gate:       gate,
		processor:  processor,
		watermarks: watermarks,
		stream:     stream,
		types:      types,
		logger:     logger,
	}
}

// Run consumes the feed until the context is cancelled or the feed closes,
// then drains every scheduled unit before returning.
func (r *Runner) Run(ctx context.Context) error {
	from, err := r.watermarks.Peek(ctx, r.stream)
	if err != nil {
		return fmt.Errorf("load watermark for %s: %w", r.stream, err)
	}

	ch, err := r.feed.SubscribeEvents(ctx, r.types, from)
	if err != nil {
		return fmt.Errorf("subscribe from block %d: %w", from, err)
	}
	r.logger.Printf("stream %s subscribed from block %d", r.stream, from)

	defer r.gate.Drain()

	for {
		select {
		case <-ctx.Done():
			r.logger.Printf("stream %s shutting down, draining in-flight units", r.stream)
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				r.logger.Printf("stream %s feed closed, draining in-flight units", r.stream)
				return nil
			}
			r.handle(ctx, raw)
		}
	}
}

func (r *Runner) handle(ctx context.Context, raw ledger.RawNotification) {
	ev, err := Normalize(raw)
	if err != nil {
		r.logger.Printf("dropping malformed notification %s: %v", raw.TxHash, err)
		observability.RecordEventFailed(raw.Type, "malformed")
		return
	}

	// Units started before shutdown keep a context that survives cancel so
	// the drain actually finishes them.
	unitCtx := context.WithoutCancel(ctx)

	decision, err := r.gate.Admit(ctx, ev.TxHash, ev.BlockNumber, r.stream, func() {
		r.execute(unitCtx, ev)
	})
	if err != nil {
		r.logger.Printf("admit failed for %s: %v", ev.TxHash, err)
		return
	}

	switch decision {
	case DecisionDuplicate:
		observability.RecordDuplicate()
	case DecisionStale:
		observability.RecordStale()
	}
}

func (r *Runner) execute(ctx context.Context, ev *domain.Event) {
	err := r.processor.Process(ctx, ev, r.stream)
	switch {
	case err == nil:
		r.gate.Commit(ev.TxHash, r.stream, ev.BlockNumber)
	default:
		if reason, ok := domain.IsInvariantViolation(err); ok {
			// The FAILED event row is committed, so the hash is done.
			r.logger.Printf("event %s rejected: %s", ev.TxHash, reason)
			r.gate.Commit(ev.TxHash, r.stream, ev.BlockNumber)
			return
		}
		r.logger.Printf("event %s failed, will retry on next delivery: %v", ev.TxHash, err)
		r.gate.Release(ev.TxHash)
	}
}
