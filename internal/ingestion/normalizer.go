// Package ingestion turns the raw ledger notification stream into committed,
// exactly-once indexed state.
package ingestion

import (
	"fmt"
	"math/big"
	"time"

	"lendmirror/internal/domain"
	"lendmirror/internal/ledger"
)

// Notification argument keys produced by the feed. The normalizer is the only
// place that reads them; downstream components see typed payloads.
const (
	argUser             = "user"
	argAmount           = "amount"
	argLiquidated       = "liquidated"
	argLiquidator       = "liquidator"
	argRepaidDebt       = "repaidDebt"
	argSeizedCollateral = "seizedCollateral"
	argTotalLiquidity   = "totalLiquidity"
	argTotalBorrowed    = "totalBorrowed"
)

// Normalize converts one raw notification into a canonical event. Addresses
// are lowercased here, once; amounts are decoded from wad decimal strings.
// Unknown event types are rejected.
func Normalize(raw ledger.RawNotification) (*domain.Event, error) {
	if raw.TxHash == "" {
		return nil, fmt.Errorf("notification missing tx hash")
	}

	t := domain.EventType(raw.Type)
	payload, err := decodePayload(t, raw.Args)
	if err != nil {
		return nil, fmt.Errorf("decode %s notification %s: %w", raw.Type, raw.TxHash, err)
	}

	market := domain.NormalizeAddress(raw.Market)
	if market == "" {
		market = domain.DefaultMarket
	}

	return &domain.Event{
		TxHash:      domain.NormalizeAddress(raw.TxHash),
		Type:        t,
		Market:      market,
		Network:     raw.Network,
		BlockNumber: raw.BlockNumber,
		Timestamp:   raw.Timestamp,
		Payload:     payload,
		GasUsed:     raw.GasUsed,
		GasPriceWei: raw.GasPriceWei,
		Status:      domain.EventPending,
		CreatedAt:   time.Now().UnixMilli(),
	}, nil
}

func decodePayload(t domain.EventType, args map[string]string) (domain.EventPayload, error) {
	switch t {
	case domain.EventDeposit, domain.EventWithdraw, domain.EventBorrow, domain.EventRepay:
		user, err := requireAddress(args, argUser)
		if err != nil {
			return nil, err
		}
		amount, err := requireWad(args, argAmount)
		if err != nil {
			return nil, err
		}
		return domain.PayloadFromColumns(t, user, "", amount, nil)

	case domain.EventLiquidation:
		liquidated, err := requireAddress(args, argLiquidated)
		if err != nil {
			return nil, err
		}
		liquidator, err := requireAddress(args, argLiquidator)
		if err != nil {
			return nil, err
		}
		repaid, err := requireWad(args, argRepaidDebt)
		if err != nil {
			return nil, err
		}
		seized, err := requireWad(args, argSeizedCollateral)
		if err != nil {
			return nil, err
		}
		return domain.LiquidationPayload{
			Liquidated:       liquidated,
			Liquidator:       liquidator,
			RepaidDebt:       repaid,
			SeizedCollateral: seized,
		}, nil

	case domain.EventMarketUpdate:
		liquidity, err := requireWad(args, argTotalLiquidity)
		if err != nil {
			return nil, err
		}
		borrowed, err := requireWad(args, argTotalBorrowed)
		if err != nil {
			return nil, err
		}
		return domain.MarketUpdatePayload{TotalLiquidity: liquidity, TotalBorrowed: borrowed}, nil

	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}

func requireAddress(args map[string]string, key string) (string, error) {
	v := domain.NormalizeAddress(args[key])
	if v == "" {
		return "", fmt.Errorf("missing %s", key)
	}
	return v, nil
}

func requireWad(args map[string]string, key string) (*big.Int, error) {
	s, ok := args[key]
	if !ok || s == "" {
		return nil, fmt.Errorf("missing %s", key)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid wad value %q for %s", s, key)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative wad value %q for %s", s, key)
	}
	return v, nil
}
