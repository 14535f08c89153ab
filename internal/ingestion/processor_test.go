package ingestion

import (
	"context"
	"errors"
	"io"
	"log"
	"math/big"
	"testing"

	"lendmirror/internal/domain"
	"lendmirror/internal/ledger"
	"lendmirror/internal/ledger/stub"
	"lendmirror/internal/reconcile"
	"lendmirror/internal/storage"
	"lendmirror/internal/storage/memory"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func wad(f float64) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(f), new(big.Float).SetInt(domain.WadScale))
	out, _ := scaled.Int(nil)
	return out
}

func newTestProcessor(t *testing.T) (*Processor, *stub.Ledger, *memory.Store) {
	t.Helper()
	ledgerStub := stub.NewLedger()
	store := memory.NewStore()
	reconciler := reconcile.New(ledgerStub, store, testLogger())
	processor := NewProcessor(reconciler, store, store, store, nil, testLogger())
	return processor, ledgerStub, store
}

func TestProcessor_DepositWritesFullUnit(t *testing.T) {
	ctx := context.Background()
	processor, ledgerStub, store := newTestProcessor(t)

	ledgerStub.SetPosition("0xaa", "0xtoken", wad(2.0), big.NewInt(0))

	ev, err := Normalize(depositNotificationFor("0xaa", "0xtoken", "0xhash1", 10, wad(2.0)))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if err := processor.Process(ctx, ev, "events"); err != nil {
		t.Fatalf("process: %v", err)
	}

	stored, err := store.GetEvent(ctx, "0xhash1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if stored.Status != domain.EventProcessed {
		t.Errorf("expected PROCESSED, got %s", stored.Status)
	}

	pos, err := store.GetPosition(ctx, "0xaa", "0xtoken")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.DepositAmount.Cmp(wad(2.0)) != 0 {
		t.Errorf("expected deposit 2.0 from ledger re-read, got %s", pos.DepositAmount)
	}

	acts, err := store.GetActivitiesByTxHash(ctx, "0xhash1")
	if err != nil {
		t.Fatalf("get activities: %v", err)
	}
	if len(acts) != 1 {
		t.Fatalf("expected one activity row, got %d", len(acts))
	}
	if acts[0].Kind != domain.ActivityDeposit {
		t.Errorf("expected DEPOSIT activity, got %s", acts[0].Kind)
	}

	market, err := store.GetMarket(ctx, "0xtoken")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if market.TotalLiquidity.Cmp(wad(2.0)) != 0 {
		t.Errorf("expected market liquidity 2.0, got %s", market.TotalLiquidity)
	}

	wm, err := store.GetWatermark(ctx, "events")
	if err != nil {
		t.Fatalf("get watermark: %v", err)
	}
	if wm != 10 {
		t.Errorf("expected watermark 10 advanced in the same unit, got %d", wm)
	}
}

func TestProcessor_SecondApplySameHashIsNoop(t *testing.T) {
	ctx := context.Background()
	processor, ledgerStub, store := newTestProcessor(t)

	ledgerStub.SetPosition("0xaa", "0xtoken", wad(2.0), big.NewInt(0))

	raw := depositNotificationFor("0xaa", "0xtoken", "0xhash1", 10, wad(2.0))
	ev1, _ := Normalize(raw)
	ev2, _ := Normalize(raw)

	if err := processor.Process(ctx, ev1, "events"); err != nil {
		t.Fatalf("first process: %v", err)
	}
	// The store-level uniqueness constraint absorbs the race.
	if err := processor.Process(ctx, ev2, "events"); err != nil {
		t.Fatalf("replayed process should be a silent no-op: %v", err)
	}

	events, err := store.GetEventsByMarket(ctx, "0xtoken")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected exactly one event row, got %d", len(events))
	}
}

func TestProcessor_LiquidationFansOutTwoActivities(t *testing.T) {
	ctx := context.Background()
	processor, ledgerStub, store := newTestProcessor(t)

	ledgerStub.SetPosition("0xaa", "0xtoken", wad(1.0), wad(0.4))
	ledgerStub.SetHealthFactor("0xaa", wad(2.5))

	ev, err := Normalize(liquidationNotification("0xaa", "0xbb", "0xhash2", 11))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if err := processor.Process(ctx, ev, "events"); err != nil {
		t.Fatalf("process: %v", err)
	}

	acts, err := store.GetActivitiesByTxHash(ctx, "0xhash2")
	if err != nil {
		t.Fatalf("get activities: %v", err)
	}
	if len(acts) != 2 {
		t.Fatalf("expected two activity rows from one liquidation, got %d", len(acts))
	}

	kinds := map[domain.ActivityKind]string{}
	for _, a := range acts {
		kinds[a.Kind] = a.User
	}
	if kinds[domain.ActivityLiquidated] != "0xaa" {
		t.Errorf("expected 0xaa LIQUIDATED, got %q", kinds[domain.ActivityLiquidated])
	}
	if kinds[domain.ActivityLiquidate] != "0xbb" {
		t.Errorf("expected 0xbb LIQUIDATE, got %q", kinds[domain.ActivityLiquidate])
	}

	// Both parties exist as users.
	if _, err := store.GetUser(ctx, "0xaa"); err != nil {
		t.Errorf("liquidated user missing: %v", err)
	}
	if _, err := store.GetUser(ctx, "0xbb"); err != nil {
		t.Errorf("liquidator user missing: %v", err)
	}
}

func TestProcessor_SelfLiquidationRejectedBeforeWrites(t *testing.T) {
	ctx := context.Background()
	processor, _, store := newTestProcessor(t)

	ev, err := Normalize(liquidationNotification("0xaa", "0xAA", "0xhash3", 12))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	err = processor.Process(ctx, ev, "events")
	reason, ok := domain.IsInvariantViolation(err)
	if !ok {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if reason != domain.ReasonSelfLiquidation {
		t.Errorf("expected SELF_LIQUIDATION, got %s", reason)
	}

	// The event row is committed as FAILED so the hash stays idempotent,
	// but nothing else changed.
	stored, err := store.GetEvent(ctx, "0xhash3")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if stored.Status != domain.EventFailed {
		t.Errorf("expected FAILED, got %s", stored.Status)
	}
	if acts, _ := store.GetActivitiesByTxHash(ctx, "0xhash3"); len(acts) != 0 {
		t.Errorf("expected no activity rows, got %d", len(acts))
	}
	if _, err := store.GetPosition(ctx, "0xaa", domain.DefaultMarket); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected no position row, got %v", err)
	}
}

func TestProcessor_WithdrawExceedingDepositRejected(t *testing.T) {
	ctx := context.Background()
	processor, ledgerStub, store := newTestProcessor(t)

	// Establish a stored position with deposit 1.0.
	ledgerStub.SetPosition("0xaa", "0xtoken", wad(1.0), big.NewInt(0))
	ev, _ := Normalize(depositNotificationFor("0xaa", "0xtoken", "0xhash4", 13, wad(1.0)))
	if err := processor.Process(ctx, ev, "events"); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	raw := depositNotificationFor("0xaa", "0xtoken", "0xhash5", 14, wad(5.0))
	raw.Type = "WITHDRAW"
	withdrawal, _ := Normalize(raw)

	err := processor.Process(ctx, withdrawal, "events")
	reason, ok := domain.IsInvariantViolation(err)
	if !ok {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if reason != domain.ReasonWithdrawExceedsDeposit {
		t.Errorf("expected WITHDRAW_EXCEEDS_DEPOSIT, got %s", reason)
	}

	// Position still reflects the seed deposit.
	pos, err := store.GetPosition(ctx, "0xaa", "0xtoken")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.DepositAmount.Cmp(wad(1.0)) != 0 {
		t.Errorf("position changed by rejected withdrawal: %s", pos.DepositAmount)
	}
}

func TestProcessor_MarketUpdateHasNoUserRows(t *testing.T) {
	ctx := context.Background()
	processor, _, store := newTestProcessor(t)

	raw := ledger.RawNotification{
		Type:        "MARKET_UPDATE",
		Args:        map[string]string{"totalLiquidity": wad(10).String(), "totalBorrowed": wad(4).String()},
		Market:      "0xtoken",
		Network:     "testnet",
		TxHash:      "0xhash6",
		BlockNumber: 15,
		Timestamp:   1700000000000,
	}
	ev, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if err := processor.Process(ctx, ev, "events"); err != nil {
		t.Fatalf("process: %v", err)
	}

	market, err := store.GetMarket(ctx, "0xtoken")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if market.TotalLiquidity.Cmp(wad(10)) != 0 || market.TotalBorrowed.Cmp(wad(4)) != 0 {
		t.Errorf("wrong totals: %s / %s", market.TotalLiquidity, market.TotalBorrowed)
	}
	if market.UtilizationBps != 4000 {
		t.Errorf("expected utilization 4000 bps, got %d", market.UtilizationBps)
	}
	if acts, _ := store.GetActivitiesByTxHash(ctx, "0xhash6"); len(acts) != 0 {
		t.Errorf("market update must not create activity rows, got %d", len(acts))
	}
}

func depositNotificationFor(user, token, txHash string, block uint64, amount *big.Int) ledger.RawNotification {
	return ledger.RawNotification{
		Type:        "DEPOSIT",
		Args:        map[string]string{"user": user, "amount": amount.String()},
		Market:      token,
		Network:     "testnet",
		BlockNumber: block,
		TxHash:      txHash,
		Timestamp:   1700000000000,
		GasUsed:     21000,
		GasPriceWei: 1000000000,
	}
}

func liquidationNotification(liquidated, liquidator, txHash string, block uint64) ledger.RawNotification {
	return ledger.RawNotification{
		Type: "LIQUIDATION",
		Args: map[string]string{
			"liquidated":       liquidated,
			"liquidator":       liquidator,
			"repaidDebt":       wad(0.2).String(),
			"seizedCollateral": wad(0.22).String(),
		},
		Network:     "testnet",
		TxHash:      txHash,
		BlockNumber: block,
		Timestamp:   1700000000000,
	}
}
