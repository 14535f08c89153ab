// Package reconcile pulls authoritative position state from the ledger and
// derives the risk fields stored alongside it.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"lendmirror/internal/domain"
	"lendmirror/internal/ledger"
	"lendmirror/internal/storage"
)

// Provenance records where each risk-relevant value came from. Consumers can
// tell a degraded reconciliation from an authoritative one.
type Provenance struct {
	Price  domain.ValueSource
	Health domain.ValueSource
}

// Reconciler re-reads a (user, market) pair from the ledger and produces the
// materialized Position. The triggering event's payload is never trusted for
// amounts; the ledger is the only source.
type Reconciler struct {
	reader    ledger.Reader
	positions storage.PositionStore
	logger    *log.Logger

	fallbackPrice *big.Int
	defaultHealth float64
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithFallbackPrice sets the degraded-mode price used when the oracle read
// fails after client-level retries.
func WithFallbackPrice(wad *big.Int) Option {
	return func(r *Reconciler) { r.fallbackPrice = new(big.Int).Set(wad) }
}

// WithDefaultHealthFactor sets the health factor used when the ledger read
// fails and no previous stored value exists. Defaults to 0: an unknown
// position displays as maximally at risk rather than fabricated as healthy.
func WithDefaultHealthFactor(hf float64) Option {
	return func(r *Reconciler) { r.defaultHealth = hf }
}

// New creates a Reconciler.
func New(reader ledger.Reader, positions storage.PositionStore, logger *log.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		reader:        reader,
		positions:     positions,
		logger:        logger,
		fallbackPrice: new(big.Int).Set(domain.WadScale), // 1.0
		defaultHealth: 0,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile reads raw position, health factor, token config, and oracle price
// in order and derives the stored Position. The raw position read is
// required; every other read degrades to a fallback marked in the returned
// provenance instead of aborting.
func (r *Reconciler) Reconcile(ctx context.Context, user, market string) (*domain.Position, *Provenance, error) {
	user = domain.NormalizeAddress(user)
	market = domain.NormalizeAddress(market)

	raw, err := r.reader.ReadPosition(ctx, user, market)
	if err != nil {
		return nil, nil, fmt.Errorf("read position %s/%s: %w", user, market, err)
	}

	prov := &Provenance{Price: domain.SourceOracle, Health: domain.SourceOracle}
	prev := r.previousPosition(ctx, user, market)

	healthFactor := r.healthFactor(ctx, user, prev, prov)

	var rateBps uint32
	cfg, err := r.reader.ReadTokenConfig(ctx, market)
	if err != nil {
		r.logger.Printf("token config read failed for %s, carrying previous rate: %v", market, err)
		if prev != nil {
			rateBps = prev.InterestRateBps
		}
	} else {
		rateBps = cfg.InterestRateBps
	}

	price := r.price(ctx, market, prov)

	p := &domain.Position{
		User:            user,
		Market:          market,
		DepositAmount:   copyWad(raw.DepositAmount),
		BorrowAmount:    copyWad(raw.BorrowAmount),
		CollateralValue: CollateralValue(raw.DepositAmount, price),
		HealthFactor:    healthFactor,
		LiquidationRisk: domain.RiskPercent(healthFactor),
		InterestRateBps: rateBps,
		Status:          positionStatus(raw),
		PriceSource:     prov.Price,
		HealthSource:    prov.Health,
		LastUpdate:      time.Now().UnixMilli(),
	}
	return p, prov, nil
}

// healthFactor reads the live ratio and falls back to the previous stored
// value, then the configured default. HealthFactor and LiquidationRisk always
// derive from the value chosen here, so they cannot diverge.
func (r *Reconciler) healthFactor(ctx context.Context, user string, prev *domain.Position, prov *Provenance) float64 {
	rawHF, err := r.reader.ReadHealthFactor(ctx, user)
	if err == nil {
		prov.Health = domain.SourceOracle
		return domain.NormalizeHealthFactor(rawHF)
	}

	if prev != nil {
		r.logger.Printf("health factor read failed for %s, carrying previous value: %v", user, err)
		prov.Health = domain.SourcePrevious
		return prev.HealthFactor
	}

	r.logger.Printf("health factor read failed for %s with no previous value, using default: %v", user, err)
	prov.Health = domain.SourceFallback
	return r.defaultHealth
}

func (r *Reconciler) price(ctx context.Context, market string, prov *Provenance) *big.Int {
	price, err := r.reader.ReadPrice(ctx, market)
	if err == nil && price != nil {
		prov.Price = domain.SourceOracle
		return price
	}
	r.logger.Printf("price read failed for %s, using fallback price: %v", market, err)
	prov.Price = domain.SourceFallback
	return r.fallbackPrice
}

func (r *Reconciler) previousPosition(ctx context.Context, user, market string) *domain.Position {
	if r.positions == nil {
		return nil
	}
	prev, err := r.positions.GetPosition(ctx, user, market)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Printf("previous position lookup failed for %s/%s: %v", user, market, err)
		}
		return nil
	}
	return prev
}

func positionStatus(raw *ledger.RawPosition) domain.PositionStatus {
	if isZero(raw.DepositAmount) && isZero(raw.BorrowAmount) {
		return domain.PositionClosed
	}
	return domain.PositionActive
}

func isZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

func copyWad(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
