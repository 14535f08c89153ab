package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"lendmirror/internal/domain"
	"lendmirror/internal/storage"
)

// GetUser retrieves a user by address. Returns ErrNotFound if not exists.
func (s *Store) GetUser(ctx context.Context, address string) (*domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT address, first_seen, last_seen FROM users WHERE address = $1`,
		domain.NormalizeAddress(address),
	).Scan(&u.Address, &u.FirstSeen, &u.LastSeen)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetMarket retrieves a market by token. Returns ErrNotFound if not exists.
func (s *Store) GetMarket(ctx context.Context, token string) (*domain.Market, error) {
	var (
		m         domain.Market
		liquidity string
		borrowed  string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT token, network, total_liquidity::text, total_borrowed::text, utilization_bps, updated_at
		 FROM markets WHERE token = $1`,
		domain.NormalizeAddress(token),
	).Scan(&m.Token, &m.Network, &liquidity, &borrowed, &m.UtilizationBps, &m.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get market: %w", err)
	}

	if m.TotalLiquidity, err = wadFromString(liquidity); err != nil {
		return nil, fmt.Errorf("market %s liquidity: %w", m.Token, err)
	}
	if m.TotalBorrowed, err = wadFromString(borrowed); err != nil {
		return nil, fmt.Errorf("market %s borrowed: %w", m.Token, err)
	}
	return &m, nil
}

const positionColumns = `
	user_address, market, deposit_amount::text, borrow_amount::text, collateral_value::text,
	health_factor, liquidation_risk, interest_rate_bps, status,
	price_source, health_source, last_update`

func scanPosition(row pgx.Row) (*domain.Position, error) {
	var (
		p          domain.Position
		deposit    string
		borrow     string
		collateral string
		status     string
		priceSrc   string
		healthSrc  string
	)

	err := row.Scan(
		&p.User, &p.Market, &deposit, &borrow, &collateral,
		&p.HealthFactor, &p.LiquidationRisk, &p.InterestRateBps, &status,
		&priceSrc, &healthSrc, &p.LastUpdate,
	)
	if err != nil {
		return nil, err
	}

	p.Status = domain.PositionStatus(status)
	p.PriceSource = domain.ValueSource(priceSrc)
	p.HealthSource = domain.ValueSource(healthSrc)

	if p.DepositAmount, err = wadFromString(deposit); err != nil {
		return nil, fmt.Errorf("position %s/%s deposit: %w", p.User, p.Market, err)
	}
	if p.BorrowAmount, err = wadFromString(borrow); err != nil {
		return nil, fmt.Errorf("position %s/%s borrow: %w", p.User, p.Market, err)
	}
	if p.CollateralValue, err = wadFromString(collateral); err != nil {
		return nil, fmt.Errorf("position %s/%s collateral: %w", p.User, p.Market, err)
	}
	return &p, nil
}

// GetPosition retrieves the position for (user, market).
func (s *Store) GetPosition(ctx context.Context, user, market string) (*domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_address = $1 AND market = $2`,
		domain.NormalizeAddress(user), domain.NormalizeAddress(market),
	)

	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

// GetPositionsByMarket retrieves all positions in a market.
func (s *Store) GetPositionsByMarket(ctx context.Context, market string) ([]*domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE market = $1 ORDER BY user_address ASC`,
		domain.NormalizeAddress(market),
	)
	if err != nil {
		return nil, fmt.Errorf("query positions by market: %w", err)
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return out, nil
}

const activityColumns = `
	id, user_address, tx_hash, kind, market, amount::text, counterparty, activity_timestamp`

func scanActivity(row pgx.Row) (*domain.UserActivity, error) {
	var (
		a      domain.UserActivity
		kind   string
		amount string
	)

	err := row.Scan(&a.ID, &a.User, &a.TxHash, &kind, &a.Market, &amount, &a.Counterparty, &a.Timestamp)
	if err != nil {
		return nil, err
	}

	a.Kind = domain.ActivityKind(kind)
	if a.Value, err = wadFromString(amount); err != nil {
		return nil, fmt.Errorf("activity %s amount: %w", a.ID, err)
	}
	return &a, nil
}

// GetActivitiesByUser retrieves activities for a user, ordered by timestamp ASC.
func (s *Store) GetActivitiesByUser(ctx context.Context, user string) ([]*domain.UserActivity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+activityColumns+` FROM user_activities
		 WHERE user_address = $1 ORDER BY activity_timestamp ASC`,
		domain.NormalizeAddress(user),
	)
	if err != nil {
		return nil, fmt.Errorf("query activities by user: %w", err)
	}
	defer rows.Close()

	return collectActivities(rows)
}

// GetActivitiesByTxHash retrieves the activity rows fanned out from one event.
func (s *Store) GetActivitiesByTxHash(ctx context.Context, txHash string) ([]*domain.UserActivity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+activityColumns+` FROM user_activities
		 WHERE tx_hash = $1 ORDER BY user_address ASC`,
		domain.NormalizeAddress(txHash),
	)
	if err != nil {
		return nil, fmt.Errorf("query activities by tx: %w", err)
	}
	defer rows.Close()

	return collectActivities(rows)
}

func collectActivities(rows pgx.Rows) ([]*domain.UserActivity, error) {
	var out []*domain.UserActivity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return out, nil
}
