package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"

	"lendmirror/internal/domain"
	"lendmirror/internal/observability"
	"lendmirror/internal/reconcile"
	"lendmirror/internal/storage"
)

// Processor executes one admitted event: invariant checks, authoritative
// reconcile, atomic apply. It never trusts the event payload for position
// amounts; those always come from the ledger re-read.
type Processor struct {
	reconciler *reconcile.Reconciler
	writer     storage.UnitWriter
	positions  storage.PositionStore
	markets    storage.MarketStore
	gasSink    storage.GasSampleStore // nil disables analytics emission
	logger     *log.Logger
}

// NewProcessor creates a Processor. gasSink may be nil.
func NewProcessor(
	reconciler *reconcile.Reconciler,
	writer storage.UnitWriter,
	positions storage.PositionStore,
	markets storage.MarketStore,
	gasSink storage.GasSampleStore,
	logger *log.Logger,
) *Processor {
	return &Processor{
		reconciler: reconciler,
		writer:     writer,
		positions:  positions,
		markets:    markets,
		gasSink:    gasSink,
		logger:     logger,
	}
}

// Process runs the unit of work for one admitted event. An invariant
// violation commits the event row as FAILED (no position or activity rows)
// and returns the violation; the caller treats the hash as committed. Any
// other error leaves no rows behind, so the next delivery retries cleanly.
func (p *Processor) Process(ctx context.Context, ev *domain.Event, stream string) error {
	if err := p.checkInvariants(ctx, ev); err != nil {
		if _, ok := domain.IsInvariantViolation(err); !ok {
			return err
		}
		if applyErr := p.applyFailed(ctx, ev, stream, err); applyErr != nil {
			return applyErr
		}
		observability.RecordEventFailed(string(ev.Type), string(domain.CategorizeFailure(err)))
		return err
	}

	unit, err := p.buildUnit(ctx, ev, stream)
	if err != nil {
		return err
	}

	if err := p.writer.ApplyUnit(ctx, unit); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			// Lost a race with a concurrent admit for the same hash.
			observability.RecordDuplicate()
			return nil
		}
		return fmt.Errorf("apply unit %s: %w", ev.TxHash, err)
	}

	p.emitGasSample(ctx, ev)
	observability.RecordEventProcessed(string(ev.Type))
	observability.UpdateHighestBlock(stream, ev.BlockNumber)
	observability.DefaultMetrics.LastProcessedEvent.Set(float64(time.Now().Unix()))
	return nil
}

// checkInvariants rejects events the ledger should never have emitted before
// any write happens. Checks are mirror-side: they compare the payload against
// the last stored state, not against live ledger reads.
func (p *Processor) checkInvariants(ctx context.Context, ev *domain.Event) error {
	switch payload := ev.Payload.(type) {
	case domain.LiquidationPayload:
		if domain.SameAddress(payload.Liquidated, payload.Liquidator) {
			return domain.NewInvariantViolation(domain.ReasonSelfLiquidation,
				fmt.Sprintf("liquidator %s targeted own position", payload.Liquidator))
		}

	case domain.WithdrawPayload:
		prev := p.storedPosition(ctx, payload.User, ev.Market)
		if prev != nil && prev.DepositAmount != nil && payload.Value != nil &&
			payload.Value.Cmp(prev.DepositAmount) > 0 {
			return domain.NewInvariantViolation(domain.ReasonWithdrawExceedsDeposit,
				fmt.Sprintf("withdraw %s exceeds deposit %s", payload.Value, prev.DepositAmount))
		}

	case domain.BorrowPayload:
		prev := p.storedPosition(ctx, payload.User, ev.Market)
		if prev != nil && prev.CollateralValue != nil && payload.Value != nil {
			total := new(big.Int).Add(payload.Value, zeroIfNil(prev.BorrowAmount))
			if total.Cmp(prev.CollateralValue) > 0 {
				return domain.NewInvariantViolation(domain.ReasonBorrowExceedsCollateral,
					fmt.Sprintf("borrow total %s exceeds collateral value %s", total, prev.CollateralValue))
			}
		}
	}
	return nil
}

func (p *Processor) buildUnit(ctx context.Context, ev *domain.Event, stream string) (*domain.IndexUnit, error) {
	unit := &domain.IndexUnit{
		Event:       ev,
		Stream:      stream,
		BlockNumber: ev.BlockNumber,
	}

	market, err := p.updatedMarket(ctx, ev)
	if err != nil {
		return nil, err
	}
	unit.Market = market

	primary := ev.Payload.PrimaryUser()
	if primary != "" {
		unit.User = &domain.User{Address: primary, FirstSeen: ev.Timestamp, LastSeen: ev.Timestamp}

		pos, _, err := p.reconciler.Reconcile(ctx, primary, ev.Market)
		if err != nil {
			return nil, fmt.Errorf("reconcile %s/%s: %w", primary, ev.Market, err)
		}
		if ev.Type == domain.EventLiquidation && pos.BorrowAmount.Sign() == 0 && pos.DepositAmount.Sign() == 0 {
			pos.Status = domain.PositionLiquidated
		}
		unit.Position = pos
	}

	if secondary := ev.Payload.SecondaryUser(); secondary != "" {
		unit.SecondaryUser = &domain.User{Address: secondary, FirstSeen: ev.Timestamp, LastSeen: ev.Timestamp}
	}

	unit.Activities = activitiesFor(ev)

	ev.Status = domain.EventProcessed
	return unit, nil
}

// activitiesFor fans an event out to audit-trail rows. A liquidation writes
// two rows from one event: the liquidated party and the liquidator.
func activitiesFor(ev *domain.Event) []*domain.UserActivity {
	switch payload := ev.Payload.(type) {
	case domain.LiquidationPayload:
		return []*domain.UserActivity{
			{
				ID:           uuid.NewString(),
				User:         payload.Liquidated,
				TxHash:       ev.TxHash,
				Kind:         domain.ActivityLiquidated,
				Market:       ev.Market,
				Value:        payload.RepaidDebt,
				Counterparty: payload.Liquidator,
				Timestamp:    ev.Timestamp,
			},
			{
				ID:           uuid.NewString(),
				User:         payload.Liquidator,
				TxHash:       ev.TxHash,
				Kind:         domain.ActivityLiquidate,
				Market:       ev.Market,
				Value:        payload.SeizedCollateral,
				Counterparty: payload.Liquidated,
				Timestamp:    ev.Timestamp,
			},
		}

	case domain.MarketUpdatePayload:
		return nil

	default:
		return []*domain.UserActivity{{
			ID:        uuid.NewString(),
			User:      ev.Payload.PrimaryUser(),
			TxHash:    ev.TxHash,
			Kind:      domain.ActivityKind(ev.Type),
			Market:    ev.Market,
			Value:     ev.Payload.Amount(),
			Timestamp: ev.Timestamp,
		}}
	}
}

// updatedMarket folds the event into the market aggregates.
func (p *Processor) updatedMarket(ctx context.Context, ev *domain.Event) (*domain.Market, error) {
	market := &domain.Market{
		Token:          ev.Market,
		Network:        ev.Network,
		TotalLiquidity: new(big.Int),
		TotalBorrowed:  new(big.Int),
	}
	if prev, err := p.markets.GetMarket(ctx, ev.Market); err == nil {
		market.TotalLiquidity.Set(prev.TotalLiquidity)
		market.TotalBorrowed.Set(prev.TotalBorrowed)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load market %s: %w", ev.Market, err)
	}

	switch payload := ev.Payload.(type) {
	case domain.DepositPayload:
		market.TotalLiquidity.Add(market.TotalLiquidity, payload.Value)
	case domain.WithdrawPayload:
		subClamped(market.TotalLiquidity, payload.Value)
	case domain.BorrowPayload:
		market.TotalBorrowed.Add(market.TotalBorrowed, payload.Value)
	case domain.RepayPayload:
		subClamped(market.TotalBorrowed, payload.Value)
	case domain.LiquidationPayload:
		subClamped(market.TotalBorrowed, payload.RepaidDebt)
		subClamped(market.TotalLiquidity, payload.SeizedCollateral)
	case domain.MarketUpdatePayload:
		market.TotalLiquidity.Set(zeroIfNil(payload.TotalLiquidity))
		market.TotalBorrowed.Set(zeroIfNil(payload.TotalBorrowed))
	}

	market.UtilizationBps = market.Utilization()
	market.UpdatedAt = ev.Timestamp
	return market, nil
}

// applyFailed commits only the event row, marked FAILED, so the hash stays
// idempotent while nothing else changes.
func (p *Processor) applyFailed(ctx context.Context, ev *domain.Event, stream string, cause error) error {
	ev.Status = domain.EventFailed
	ev.Error = cause.Error()

	unit := &domain.IndexUnit{Event: ev, Stream: stream, BlockNumber: ev.BlockNumber}
	if err := p.writer.ApplyUnit(ctx, unit); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil
		}
		return fmt.Errorf("record failed event %s: %w", ev.TxHash, err)
	}
	return nil
}

func (p *Processor) emitGasSample(ctx context.Context, ev *domain.Event) {
	if p.gasSink == nil || ev.GasUsed == 0 {
		return
	}
	sample := &storage.GasSample{
		Network:     ev.Network,
		EventType:   ev.Type,
		TxHash:      ev.TxHash,
		GasUsed:     ev.GasUsed,
		GasPriceWei: ev.GasPriceWei,
		Timestamp:   ev.Timestamp,
	}
	if err := p.gasSink.InsertBulk(ctx, []*storage.GasSample{sample}); err != nil {
		p.logger.Printf("gas sample emit failed for %s: %v", ev.TxHash, err)
	}
}

func (p *Processor) storedPosition(ctx context.Context, user, market string) *domain.Position {
	pos, err := p.positions.GetPosition(ctx, user, market)
	if err != nil {
		return nil
	}
	return pos
}

func subClamped(target, delta *big.Int) {
	if delta == nil {
		return
	}
	target.Sub(target, delta)
	if target.Sign() < 0 {
		target.SetInt64(0)
	}
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
