package domain

import "math/big"

// ActivityKind labels a user audit-trail entry.
type ActivityKind string

// Activity kinds. Liquidations fan out to two rows from one event: the
// liquidated party records LIQUIDATED, the liquidator records LIQUIDATE.
const (
	ActivityDeposit    ActivityKind = "DEPOSIT"
	ActivityWithdraw   ActivityKind = "WITHDRAW"
	ActivityBorrow     ActivityKind = "BORROW"
	ActivityRepay      ActivityKind = "REPAY"
	ActivityLiquidate  ActivityKind = "LIQUIDATE"
	ActivityLiquidated ActivityKind = "LIQUIDATED"
)

// UserActivity is an append-only per-user audit trail entry, one per
// processed event per affected user.
// Corresponds to user_activities table in PostgreSQL.
type UserActivity struct {
	ID           string       // PRIMARY KEY, uuid
	User         string       // FK to users, lowercase hex
	TxHash       string       // FK to events
	Kind         ActivityKind
	Market       string
	Value        *big.Int // wad amount for this side of the event
	Counterparty string   // other wallet involved, empty if none
	Timestamp    int64    // Unix timestamp in milliseconds
}
