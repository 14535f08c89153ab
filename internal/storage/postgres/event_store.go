package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"lendmirror/internal/domain"
	"lendmirror/internal/storage"
)

const eventColumns = `
	tx_hash, event_type, market, network, block_number, event_timestamp,
	primary_user, secondary_user, amount::text, secondary_amount::text,
	gas_used, gas_price_wei, status, error_detail, created_at`

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var (
		ev              domain.Event
		eventType       string
		status          string
		primaryUser     string
		secondaryUser   string
		amount          string
		secondaryAmount string
	)

	err := row.Scan(
		&ev.TxHash, &eventType, &ev.Market, &ev.Network, &ev.BlockNumber, &ev.Timestamp,
		&primaryUser, &secondaryUser, &amount, &secondaryAmount,
		&ev.GasUsed, &ev.GasPriceWei, &status, &ev.Error, &ev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	ev.Type = domain.EventType(eventType)
	ev.Status = domain.EventStatus(status)

	amountWad, err := wadFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("event %s amount: %w", ev.TxHash, err)
	}
	secondaryWad, err := wadFromString(secondaryAmount)
	if err != nil {
		return nil, fmt.Errorf("event %s secondary amount: %w", ev.TxHash, err)
	}

	ev.Payload, err = domain.PayloadFromColumns(ev.Type, primaryUser, secondaryUser, amountWad, secondaryWad)
	if err != nil {
		return nil, fmt.Errorf("event %s payload: %w", ev.TxHash, err)
	}

	return &ev, nil
}

// GetEvent retrieves an event by tx hash. Returns ErrNotFound if not exists.
func (s *Store) GetEvent(ctx context.Context, txHash string) (*domain.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE tx_hash = $1`,
		txHash,
	)

	ev, err := scanEvent(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// HasEvent reports whether an event row is committed for the hash.
func (s *Store) HasEvent(ctx context.Context, txHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM events WHERE tx_hash = $1)`,
		txHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has event: %w", err)
	}
	return exists, nil
}

// GetEventsByMarket retrieves events for a market, ordered by block ASC.
func (s *Store) GetEventsByMarket(ctx context.Context, market string) ([]*domain.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE market = $1 ORDER BY block_number ASC`,
		domain.NormalizeAddress(market),
	)
	if err != nil {
		return nil, fmt.Errorf("query events by market: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// GetEventsByTypeAndNetwork retrieves processed events of one type on one network.
func (s *Store) GetEventsByTypeAndNetwork(ctx context.Context, t domain.EventType, network string) ([]*domain.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE event_type = $1 AND network = $2 AND status = $3
		 ORDER BY block_number ASC`,
		string(t), network, string(domain.EventProcessed),
	)
	if err != nil {
		return nil, fmt.Errorf("query events by type: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]*domain.Event, error) {
	var out []*domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}
