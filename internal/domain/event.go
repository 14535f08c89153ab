package domain

import (
	"fmt"
	"math/big"
)

// EventType identifies the kind of ledger event.
type EventType string

// Ledger event types.
const (
	EventDeposit      EventType = "DEPOSIT"
	EventWithdraw     EventType = "WITHDRAW"
	EventBorrow       EventType = "BORROW"
	EventRepay        EventType = "REPAY"
	EventLiquidation  EventType = "LIQUIDATION"
	EventMarketUpdate EventType = "MARKET_UPDATE"
)

// KnownEventTypes lists every event type the normalizer accepts.
var KnownEventTypes = []EventType{
	EventDeposit, EventWithdraw, EventBorrow, EventRepay,
	EventLiquidation, EventMarketUpdate,
}

// EventStatus is the processing state of an event record.
type EventStatus string

// Event processing states.
const (
	EventPending   EventStatus = "PENDING"
	EventProcessed EventStatus = "PROCESSED"
	EventFailed    EventStatus = "FAILED"
)

// EventPayload is the tagged variant carried by an Event. Each ledger event
// type decodes into exactly one case at the normalizer boundary; downstream
// components never see untyped payload bags.
type EventPayload interface {
	// Kind returns the event type this payload belongs to.
	Kind() EventType
	// PrimaryUser returns the wallet the event is about (empty for
	// market-level events).
	PrimaryUser() string
	// SecondaryUser returns the counterparty, if any.
	SecondaryUser() string
	// Amount returns the wad amount moved by the event, nil if none.
	Amount() *big.Int
}

// DepositPayload is emitted when a user supplies collateral.
type DepositPayload struct {
	User  string
	Value *big.Int // wad
}

func (p DepositPayload) Kind() EventType       { return EventDeposit }
func (p DepositPayload) PrimaryUser() string   { return p.User }
func (p DepositPayload) SecondaryUser() string { return "" }
func (p DepositPayload) Amount() *big.Int      { return p.Value }

// WithdrawPayload is emitted when a user removes collateral.
type WithdrawPayload struct {
	User  string
	Value *big.Int // wad
}

func (p WithdrawPayload) Kind() EventType       { return EventWithdraw }
func (p WithdrawPayload) PrimaryUser() string   { return p.User }
func (p WithdrawPayload) SecondaryUser() string { return "" }
func (p WithdrawPayload) Amount() *big.Int      { return p.Value }

// BorrowPayload is emitted when a user draws a loan against collateral.
type BorrowPayload struct {
	User  string
	Value *big.Int // wad
}

func (p BorrowPayload) Kind() EventType       { return EventBorrow }
func (p BorrowPayload) PrimaryUser() string   { return p.User }
func (p BorrowPayload) SecondaryUser() string { return "" }
func (p BorrowPayload) Amount() *big.Int      { return p.Value }

// RepayPayload is emitted when a user pays down debt.
type RepayPayload struct {
	User  string
	Value *big.Int // wad
}

func (p RepayPayload) Kind() EventType       { return EventRepay }
func (p RepayPayload) PrimaryUser() string   { return p.User }
func (p RepayPayload) SecondaryUser() string { return "" }
func (p RepayPayload) Amount() *big.Int      { return p.Value }

// LiquidationPayload is emitted when a third party repays part of an
// underwater position's debt in exchange for collateral. Liquidated is the
// primary user (the position that changed); Liquidator is the counterparty.
type LiquidationPayload struct {
	Liquidated       string
	Liquidator       string
	RepaidDebt       *big.Int // wad, debt repaid by the liquidator
	SeizedCollateral *big.Int // wad, collateral transferred to the liquidator
}

func (p LiquidationPayload) Kind() EventType       { return EventLiquidation }
func (p LiquidationPayload) PrimaryUser() string   { return p.Liquidated }
func (p LiquidationPayload) SecondaryUser() string { return p.Liquidator }
func (p LiquidationPayload) Amount() *big.Int      { return p.RepaidDebt }

// MarketUpdatePayload is emitted when pool-level liquidity or rates change
// without a specific user action.
type MarketUpdatePayload struct {
	TotalLiquidity *big.Int // wad
	TotalBorrowed  *big.Int // wad
}

func (p MarketUpdatePayload) Kind() EventType       { return EventMarketUpdate }
func (p MarketUpdatePayload) PrimaryUser() string   { return "" }
func (p MarketUpdatePayload) SecondaryUser() string { return "" }
func (p MarketUpdatePayload) Amount() *big.Int      { return p.TotalLiquidity }

// Event is the durable record of one ledger transaction.
// Corresponds to events table in PostgreSQL, keyed by tx_hash: one ledger
// transaction produces exactly one row regardless of how many notifications
// arrive for it.
type Event struct {
	TxHash      string       // PRIMARY KEY, lowercase hex
	Type        EventType
	Market      string       // FK to markets
	Network     string       // network the transaction executed on
	BlockNumber uint64
	Timestamp   int64        // Unix timestamp in milliseconds
	Payload     EventPayload // tagged variant, decoded once at the boundary
	GasUsed     int64
	GasPriceWei int64
	Status      EventStatus
	Error       string // failure detail when Status == FAILED
	CreatedAt   int64  // record creation timestamp (ms)
}

// GasCostWei returns the total transaction cost in wei.
func (e *Event) GasCostWei() int64 {
	return e.GasUsed * e.GasPriceWei
}

// PayloadFromColumns rebuilds the tagged payload from flattened store
// columns. Inverse of the column projection used by the stores.
func PayloadFromColumns(t EventType, primary, secondary string, amount, amount2 *big.Int) (EventPayload, error) {
	switch t {
	case EventDeposit:
		return DepositPayload{User: primary, Value: amount}, nil
	case EventWithdraw:
		return WithdrawPayload{User: primary, Value: amount}, nil
	case EventBorrow:
		return BorrowPayload{User: primary, Value: amount}, nil
	case EventRepay:
		return RepayPayload{User: primary, Value: amount}, nil
	case EventLiquidation:
		return LiquidationPayload{
			Liquidated:       primary,
			Liquidator:       secondary,
			RepaidDebt:       amount,
			SeizedCollateral: amount2,
		}, nil
	case EventMarketUpdate:
		return MarketUpdatePayload{TotalLiquidity: amount, TotalBorrowed: amount2}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}

// SecondaryAmount returns the second wad column for payloads that carry two
// amounts (liquidation seized collateral, market update borrowed total).
func SecondaryAmount(p EventPayload) *big.Int {
	switch v := p.(type) {
	case LiquidationPayload:
		return v.SeizedCollateral
	case MarketUpdatePayload:
		return v.TotalBorrowed
	default:
		return nil
	}
}
