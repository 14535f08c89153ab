package postgres

import (
	"context"
	"fmt"

	"lendmirror/internal/domain"
	"lendmirror/internal/storage"
)

// Store implements storage.Store using PostgreSQL.
type Store struct {
	pool *Pool
}

// NewStore creates a new PostgreSQL-backed store.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// ApplyUnit applies one unit of work in a single transaction. The plain
// INSERT on events makes the tx_hash unique constraint the final idempotency
// backstop: a concurrent commit of the same hash rolls this unit back with
// ErrDuplicateKey.
func (s *Store) ApplyUnit(ctx context.Context, unit *domain.IndexUnit) error {
	if unit == nil || unit.Event == nil || unit.Event.TxHash == "" {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Idempotency re-check inside the transaction: cheap exit before any
	// write when another admit already committed this hash.
	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM events WHERE tx_hash = $1)`,
		unit.Event.TxHash,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	for _, u := range []*domain.User{unit.User, unit.SecondaryUser} {
		if u == nil {
			continue
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO users (address, first_seen, last_seen)
			VALUES ($1, $2, $3)
			ON CONFLICT (address) DO UPDATE
			SET last_seen = GREATEST(users.last_seen, EXCLUDED.last_seen)
		`, u.Address, u.FirstSeen, u.LastSeen)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
	}

	if m := unit.Market; m != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO markets (token, network, total_liquidity, total_borrowed, utilization_bps, updated_at)
			VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6)
			ON CONFLICT (token) DO UPDATE
			SET network = EXCLUDED.network,
			    total_liquidity = EXCLUDED.total_liquidity,
			    total_borrowed = EXCLUDED.total_borrowed,
			    utilization_bps = EXCLUDED.utilization_bps,
			    updated_at = EXCLUDED.updated_at
		`, m.Token, m.Network, wadString(m.TotalLiquidity), wadString(m.TotalBorrowed), m.UtilizationBps, m.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert market: %w", err)
		}
	}

	ev := unit.Event
	_, err = tx.Exec(ctx, `
		INSERT INTO events (
			tx_hash, event_type, market, network, block_number, event_timestamp,
			primary_user, secondary_user, amount, secondary_amount,
			gas_used, gas_price_wei, status, error_detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11, $12, $13, $14, $15)
	`,
		ev.TxHash, string(ev.Type), ev.Market, ev.Network, ev.BlockNumber, ev.Timestamp,
		ev.Payload.PrimaryUser(), ev.Payload.SecondaryUser(),
		wadString(ev.Payload.Amount()), wadString(domain.SecondaryAmount(ev.Payload)),
		ev.GasUsed, ev.GasPriceWei, string(ev.Status), ev.Error, ev.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert event: %w", err)
	}

	for _, a := range unit.Activities {
		_, err = tx.Exec(ctx, `
			INSERT INTO user_activities (id, user_address, tx_hash, kind, market, amount, counterparty, activity_timestamp)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)
		`, a.ID, a.User, a.TxHash, string(a.Kind), a.Market, wadString(a.Value), a.Counterparty, a.Timestamp)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert activity: %w", err)
		}
	}

	if p := unit.Position; p != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO positions (
				user_address, market, deposit_amount, borrow_amount, collateral_value,
				health_factor, liquidation_risk, interest_rate_bps, status,
				price_source, health_source, last_update
			) VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (user_address, market) DO UPDATE
			SET deposit_amount = EXCLUDED.deposit_amount,
			    borrow_amount = EXCLUDED.borrow_amount,
			    collateral_value = EXCLUDED.collateral_value,
			    health_factor = EXCLUDED.health_factor,
			    liquidation_risk = EXCLUDED.liquidation_risk,
			    interest_rate_bps = EXCLUDED.interest_rate_bps,
			    status = EXCLUDED.status,
			    price_source = EXCLUDED.price_source,
			    health_source = EXCLUDED.health_source,
			    last_update = EXCLUDED.last_update
		`,
			p.User, p.Market, wadString(p.DepositAmount), wadString(p.BorrowAmount),
			wadString(p.CollateralValue), p.HealthFactor, p.LiquidationRisk,
			p.InterestRateBps, string(p.Status), string(p.PriceSource), string(p.HealthSource),
			p.LastUpdate,
		)
		if err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}
	}

	if unit.Stream != "" {
		_, err = tx.Exec(ctx, `
			INSERT INTO stream_watermarks (stream, block_number, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (stream) DO UPDATE
			SET block_number = GREATEST(stream_watermarks.block_number, EXCLUDED.block_number),
			    updated_at = EXCLUDED.updated_at
		`, unit.Stream, unit.BlockNumber, ev.Timestamp)
		if err != nil {
			return fmt.Errorf("advance watermark: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetWatermark returns the stream's high-water mark.
func (s *Store) GetWatermark(ctx context.Context, stream string) (uint64, error) {
	var block uint64
	err := s.pool.QueryRow(ctx,
		`SELECT block_number FROM stream_watermarks WHERE stream = $1`,
		stream,
	).Scan(&block)
	if err != nil {
		if isNotFoundError(err) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("get watermark: %w", err)
	}
	return block, nil
}

// SetWatermark records the high-water mark, monotonically.
func (s *Store) SetWatermark(ctx context.Context, stream string, block uint64) error {
	if stream == "" {
		return storage.ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stream_watermarks (stream, block_number, updated_at)
		VALUES ($1, $2, (extract(epoch from now()) * 1000)::bigint)
		ON CONFLICT (stream) DO UPDATE
		SET block_number = GREATEST(stream_watermarks.block_number, EXCLUDED.block_number),
		    updated_at = EXCLUDED.updated_at
	`, stream, block)
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}
