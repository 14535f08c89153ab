package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"lendmirror/internal/domain"
	"lendmirror/internal/storage"
)

func wad(f float64) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(f), new(big.Float).SetInt(domain.WadScale))
	out, _ := scaled.Int(nil)
	return out
}

func depositUnit(txHash, user, market, stream string, block uint64, amount *big.Int) *domain.IndexUnit {
	return &domain.IndexUnit{
		Event: &domain.Event{
			TxHash:      txHash,
			Type:        domain.EventDeposit,
			Market:      market,
			Network:     "testnet",
			BlockNumber: block,
			Timestamp:   1700000000000,
			Status:      domain.EventProcessed,
			Payload:     domain.DepositPayload{User: user, Value: amount},
		},
		User: &domain.User{Address: user, FirstSeen: 1, LastSeen: 1},
		Position: &domain.Position{
			User: user, Market: market,
			DepositAmount: new(big.Int).Set(amount), BorrowAmount: big.NewInt(0),
			Status: domain.PositionActive,
		},
		Activities: []*domain.UserActivity{{
			ID: txHash + "-a", User: user, TxHash: txHash,
			Kind: domain.ActivityDeposit, Market: market,
			Value: new(big.Int).Set(amount), Timestamp: 1,
		}},
		Stream:      stream,
		BlockNumber: block,
	}
}

func TestApplyUnit_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	if err := store.ApplyUnit(ctx, depositUnit("0xhash1", "0xaa", "0xtoken", "events", 10, wad(2.0))); err != nil {
		t.Fatalf("apply: %v", err)
	}

	ev, err := store.GetEvent(ctx, "0xhash1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if ev.Status != domain.EventProcessed {
		t.Errorf("expected PROCESSED, got %s", ev.Status)
	}

	pos, err := store.GetPosition(ctx, "0xaa", "0xtoken")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.DepositAmount.Cmp(wad(2.0)) != 0 {
		t.Errorf("wrong deposit: %s", pos.DepositAmount)
	}

	wm, err := store.GetWatermark(ctx, "events")
	if err != nil {
		t.Fatalf("get watermark: %v", err)
	}
	if wm != 10 {
		t.Errorf("expected watermark 10, got %d", wm)
	}
}

func TestApplyUnit_DuplicateHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	if err := store.ApplyUnit(ctx, depositUnit("0xhash1", "0xaa", "0xtoken", "events", 10, wad(2.0))); err != nil {
		t.Fatalf("apply: %v", err)
	}

	err := store.ApplyUnit(ctx, depositUnit("0xhash1", "0xaa", "0xtoken", "events", 11, wad(9.0)))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	pos, _ := store.GetPosition(ctx, "0xaa", "0xtoken")
	if pos.DepositAmount.Cmp(wad(2.0)) != 0 {
		t.Errorf("duplicate mutated the position: %s", pos.DepositAmount)
	}
	if wm, _ := store.GetWatermark(ctx, "events"); wm != 10 {
		t.Errorf("duplicate advanced the watermark: %d", wm)
	}
	if acts, _ := store.GetActivitiesByUser(ctx, "0xaa"); len(acts) != 1 {
		t.Errorf("duplicate appended activities: %d", len(acts))
	}
}

func TestApplyUnit_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	for _, unit := range []*domain.IndexUnit{
		nil,
		{},
		{Event: &domain.Event{TxHash: ""}},
	} {
		if err := store.ApplyUnit(ctx, unit); !errors.Is(err, storage.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for %+v, got %v", unit, err)
		}
	}
}

func TestStore_ReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	if err := store.ApplyUnit(ctx, depositUnit("0xhash1", "0xaa", "0xtoken", "events", 10, wad(2.0))); err != nil {
		t.Fatalf("apply: %v", err)
	}

	pos, _ := store.GetPosition(ctx, "0xaa", "0xtoken")
	pos.DepositAmount.SetInt64(0)

	again, _ := store.GetPosition(ctx, "0xaa", "0xtoken")
	if again.DepositAmount.Cmp(wad(2.0)) != 0 {
		t.Error("caller mutation leaked into the store")
	}
}

func TestSetWatermark_Monotonic(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	if err := store.SetWatermark(ctx, "events", 100); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.SetWatermark(ctx, "events", 50); err != nil {
		t.Fatalf("regressing set should be a no-op: %v", err)
	}

	wm, err := store.GetWatermark(ctx, "events")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if wm != 100 {
		t.Errorf("expected 100, got %d", wm)
	}

	if err := store.SetWatermark(ctx, "", 1); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty stream, got %v", err)
	}
}

func TestGetWatermark_UnknownStream(t *testing.T) {
	if _, err := NewStore().GetWatermark(context.Background(), "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetEventsByMarket_OrdersByBlock(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	store.ApplyUnit(ctx, depositUnit("0xhash2", "0xaa", "0xtoken", "events", 20, wad(1.0)))
	store.ApplyUnit(ctx, depositUnit("0xhash1", "0xbb", "0xtoken", "events", 10, wad(1.0)))

	events, err := store.GetEventsByMarket(ctx, "0xtoken")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 || events[0].TxHash != "0xhash1" || events[1].TxHash != "0xhash2" {
		t.Errorf("wrong order: %+v", events)
	}
}

func TestListGetters_NormalizeArguments(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	if err := store.ApplyUnit(ctx, depositUnit("0xhash1", "0xaa", "0xtoken", "events", 10, wad(2.0))); err != nil {
		t.Fatalf("apply: %v", err)
	}

	events, err := store.GetEventsByMarket(ctx, "0xTOKEN")
	if err != nil {
		t.Fatalf("events by market: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("case-variant market missed events: %d", len(events))
	}

	positions, err := store.GetPositionsByMarket(ctx, " 0xToken ")
	if err != nil {
		t.Fatalf("positions by market: %v", err)
	}
	if len(positions) != 1 {
		t.Errorf("case-variant market missed positions: %d", len(positions))
	}

	acts, err := store.GetActivitiesByTxHash(ctx, "0xHASH1")
	if err != nil {
		t.Fatalf("activities by tx hash: %v", err)
	}
	if len(acts) != 1 {
		t.Errorf("case-variant tx hash missed activities: %d", len(acts))
	}
}

func TestGetUser_NotFound(t *testing.T) {
	if _, err := NewStore().GetUser(context.Background(), "0xnobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
