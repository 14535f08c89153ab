package scanner

import (
	"context"
	"io"
	"log"
	"math/big"
	"testing"

	"lendmirror/internal/domain"
	"lendmirror/internal/ledger"
	"lendmirror/internal/ledger/stub"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func wad(f float64) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(f), new(big.Float).SetInt(domain.WadScale))
	out, _ := scaled.Int(nil)
	return out
}

func seedDepositor(l *stub.Ledger, token, user string, block uint64, deposit, borrow *big.Int) {
	l.AddDepositRecord(token, &ledger.DepositRecord{
		User: user, Value: deposit, BlockNumber: block, TxHash: "0xdep-" + user, Timestamp: 1,
	})
	l.SetPosition(user, token, deposit, borrow)
}

func TestScan_AccrualPushesPositionUnderwater(t *testing.T) {
	ctx := context.Background()
	ledgerStub := stub.NewLedger()
	ledgerStub.SetLatestBlock(10)
	seedDepositor(ledgerStub, "0xtoken", "0xaa", 5, wad(1.0), wad(0.75))

	s := New(ledgerStub, testLogger())

	// Healthy at 1.0/0.75: not a candidate.
	candidates, err := s.Scan(ctx, "0xtoken", "0xliquidator")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("healthy position reported as candidate: %+v", candidates)
	}

	// Six 5%-per-interval accruals push the debt past the collateral.
	ledgerStub.AccrueIntervals("0xtoken", 6)

	candidates, err = s.Scan(ctx, "0xtoken", "0xliquidator")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected one candidate after accrual, got %d", len(candidates))
	}
	c := candidates[0]
	if c.User != "0xaa" {
		t.Errorf("wrong candidate: %s", c.User)
	}
	if c.HealthFactor >= domain.LiquidationThreshold {
		t.Errorf("candidate health factor %f not below threshold", c.HealthFactor)
	}

	preHF := c.HealthFactor
	ledgerStub.ApplyLiquidation("0xaa", "0xtoken", c.BorrowAmount, new(big.Int).Rsh(c.DepositAmount, 1))

	// The position must be healthier than before and out of the candidate set.
	rawHF, err := ledgerStub.ReadHealthFactor(ctx, "0xaa")
	if err != nil {
		t.Fatalf("read health factor: %v", err)
	}
	if post := domain.NormalizeHealthFactor(rawHF); post < preHF {
		t.Errorf("liquidation worsened health factor: %f -> %f", preHF, post)
	}
	candidates, err = s.Scan(ctx, "0xtoken", "0xliquidator")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("liquidated position still a candidate: %+v", candidates)
	}
}

func TestScan_ExcludesRequestingUser(t *testing.T) {
	ctx := context.Background()
	ledgerStub := stub.NewLedger()
	ledgerStub.SetLatestBlock(10)
	seedDepositor(ledgerStub, "0xtoken", "0xaa", 5, wad(1.0), wad(2.0))
	ledgerStub.SetHealthFactor("0xaa", wad(0.5))

	s := New(ledgerStub, testLogger())

	// Case variants of the requester still refer to the same user.
	candidates, err := s.Scan(ctx, "0xtoken", "0xAA")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("requester's own position offered for liquidation: %+v", candidates)
	}

	candidates, err = s.Scan(ctx, "0xtoken", "0xother")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(candidates) != 1 {
		t.Errorf("expected the position for a different requester, got %d", len(candidates))
	}
}

func TestScan_SingleReadFailureExcludesOnlyThatCandidate(t *testing.T) {
	ctx := context.Background()
	ledgerStub := stub.NewLedger()
	ledgerStub.SetLatestBlock(10)
	seedDepositor(ledgerStub, "0xtoken", "0xaa", 5, wad(1.0), wad(2.0))
	seedDepositor(ledgerStub, "0xtoken", "0xbb", 6, wad(1.0), wad(2.0))
	ledgerStub.SetHealthFactor("0xaa", wad(0.5))
	ledgerStub.SetHealthFactor("0xbb", wad(0.5))

	// One position read fails; the other candidate must still come back.
	ledgerStub.FailNext("ReadPosition", 1)

	s := New(ledgerStub, testLogger(), WithFanOut(1))
	candidates, err := s.Scan(ctx, "0xtoken", "0xliquidator")
	if err != nil {
		t.Fatalf("scan must tolerate a single candidate failure: %v", err)
	}
	if len(candidates) != 1 {
		t.Errorf("expected one surviving candidate, got %d", len(candidates))
	}
}

func TestScan_SortsRiskiestFirst(t *testing.T) {
	ctx := context.Background()
	ledgerStub := stub.NewLedger()
	ledgerStub.SetLatestBlock(10)
	seedDepositor(ledgerStub, "0xtoken", "0xsafe-ish", 5, wad(1.0), wad(1.2))
	seedDepositor(ledgerStub, "0xtoken", "0xworst", 6, wad(1.0), wad(4.0))
	ledgerStub.SetHealthFactor("0xsafe-ish", wad(0.9))
	ledgerStub.SetHealthFactor("0xworst", wad(0.25))

	s := New(ledgerStub, testLogger())
	candidates, err := s.Scan(ctx, "0xtoken", "0xliquidator")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected two candidates, got %d", len(candidates))
	}
	if candidates[0].User != "0xworst" || candidates[1].User != "0xsafe-ish" {
		t.Errorf("wrong order: %s, %s", candidates[0].User, candidates[1].User)
	}
}

func TestScan_DedupesCaseVariantDepositors(t *testing.T) {
	ctx := context.Background()
	ledgerStub := stub.NewLedger()
	ledgerStub.SetLatestBlock(10)
	ledgerStub.AddDepositRecord("0xtoken", &ledger.DepositRecord{
		User: "0xAA", Value: wad(1.0), BlockNumber: 5, TxHash: "0xd1", Timestamp: 1,
	})
	ledgerStub.AddDepositRecord("0xtoken", &ledger.DepositRecord{
		User: "0xaa", Value: wad(1.0), BlockNumber: 6, TxHash: "0xd2", Timestamp: 2,
	})
	ledgerStub.SetPosition("0xaa", "0xtoken", wad(1.0), wad(2.0))
	ledgerStub.SetHealthFactor("0xaa", wad(0.5))

	s := New(ledgerStub, testLogger())
	candidates, err := s.Scan(ctx, "0xtoken", "0xliquidator")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(candidates) != 1 {
		t.Errorf("case-variant depositor duplicated: got %d candidates", len(candidates))
	}
}

func TestScan_PagesThroughDepositHistory(t *testing.T) {
	ctx := context.Background()
	ledgerStub := stub.NewLedger()
	ledgerStub.SetLatestBlock(250)
	seedDepositor(ledgerStub, "0xtoken", "0xaa", 10, wad(1.0), wad(2.0))
	seedDepositor(ledgerStub, "0xtoken", "0xbb", 240, wad(1.0), wad(2.0))
	ledgerStub.SetHealthFactor("0xaa", wad(0.5))
	ledgerStub.SetHealthFactor("0xbb", wad(0.5))

	s := New(ledgerStub, testLogger(), WithPageSize(100))
	candidates, err := s.Scan(ctx, "0xtoken", "0xliquidator")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(candidates) != 2 {
		t.Errorf("expected depositors from both pages, got %d", len(candidates))
	}
	// Blocks 0..250 at page size 100 take three range queries.
	if got := ledgerStub.CallCount("ReadDepositEvents"); got != 3 {
		t.Errorf("expected 3 history pages, got %d", got)
	}
}

func TestSelectCandidate_RejectsSelf(t *testing.T) {
	candidates := []Candidate{{User: "0xaa", HealthFactor: 0.5}}

	_, err := SelectCandidate(candidates, "0xAA", "0xaa")
	reason, ok := domain.IsInvariantViolation(err)
	if !ok {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if reason != domain.ReasonSelfLiquidation {
		t.Errorf("expected SELF_LIQUIDATION, got %s", reason)
	}
}

func TestSelectCandidate_FindsTarget(t *testing.T) {
	candidates := []Candidate{
		{User: "0xaa", HealthFactor: 0.5},
		{User: "0xbb", HealthFactor: 0.9},
	}

	c, err := SelectCandidate(candidates, "0xBB", "0xliquidator")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.User != "0xbb" {
		t.Errorf("wrong candidate: %s", c.User)
	}

	if _, err := SelectCandidate(candidates, "0xcc", "0xliquidator"); err == nil {
		t.Error("expected error for target outside scan results")
	}
}
