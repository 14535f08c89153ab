package domain

// IndexUnit is one logical unit of work produced by processing a single
// admitted event. The unit is applied atomically: either every row lands or
// none do, and the events.tx_hash uniqueness constraint is the final
// idempotency backstop.
type IndexUnit struct {
	Event         *Event
	User          *User   // primary user upsert, nil for market-level events
	SecondaryUser *User   // liquidator upsert on liquidation events
	Market        *Market // market upsert
	Activities    []*UserActivity
	Position      *Position // reconciled position upsert, nil for market-level events

	// Stream and BlockNumber advance the durable watermark row in the same
	// transaction as the event insert.
	Stream      string
	BlockNumber uint64
}
