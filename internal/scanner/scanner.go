// Package scanner finds liquidation-eligible positions by replaying deposit
// history and reading live health factors.
package scanner

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sort"
	"sync"
	"time"

	"lendmirror/internal/domain"
	"lendmirror/internal/ledger"
	"lendmirror/internal/observability"
	"lendmirror/internal/storage"
)

// Candidate is one liquidation-eligible position.
type Candidate struct {
	User          string
	DepositAmount *big.Int // wad
	BorrowAmount  *big.Int // wad
	HealthFactor  float64
}

// DefaultFanOut bounds the concurrent live reads per scan.
const DefaultFanOut = 8

// DefaultPageSize is the block range covered by one deposit-history query.
const DefaultPageSize = 10_000

// Scanner discovers and ranks at-risk positions. Health factors come from
// live ledger reads, never from cached position rows; staleness there causes
// incorrect liquidation attempts.
type Scanner struct {
	reader   ledger.Reader
	riskSink storage.RiskSnapshotStore // nil disables analytics emission
	logger   *log.Logger
	fanOut   int
	pageSize uint64
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithFanOut sets the live-read concurrency bound.
func WithFanOut(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.fanOut = n
		}
	}
}

// WithPageSize sets the block range per deposit-history query.
func WithPageSize(n uint64) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithRiskSink attaches the analytics sink receiving per-scan snapshots.
func WithRiskSink(sink storage.RiskSnapshotStore) Option {
	return func(s *Scanner) { s.riskSink = sink }
}

// New creates a Scanner.
func New(reader ledger.Reader, logger *log.Logger, opts ...Option) *Scanner {
	s := &Scanner{
		reader:   reader,
		logger:   logger,
		fanOut:   DefaultFanOut,
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan returns liquidation candidates for a market, riskiest first, excluding
// the requesting user. One candidate's read failure is logged and excluded;
// it never cancels the scan.
func (s *Scanner) Scan(ctx context.Context, market, requestingUser string) ([]Candidate, error) {
	started := time.Now()
	market = domain.NormalizeAddress(market)
	requestingUser = domain.NormalizeAddress(requestingUser)

	addresses, err := s.candidateSet(ctx, market)
	if err != nil {
		observability.RecordScan("error", time.Since(started).Seconds(), 0)
		return nil, fmt.Errorf("discover candidates for %s: %w", market, err)
	}

	inspected := s.inspect(ctx, market, addresses)

	var candidates []Candidate
	for _, c := range inspected {
		if c.HealthFactor < domain.LiquidationThreshold &&
			c.BorrowAmount.Sign() > 0 && c.DepositAmount.Sign() > 0 &&
			!domain.SameAddress(c.User, requestingUser) {
			candidates = append(candidates, c)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].HealthFactor < candidates[j].HealthFactor
	})
	candidates = dedupe(candidates)

	s.emitSnapshots(ctx, market, inspected)
	observability.RecordScan("ok", time.Since(started).Seconds(), len(candidates))
	observability.DefaultMetrics.LastSuccessfulScan.Set(float64(time.Now().Unix()))
	return candidates, nil
}

// SelectCandidate is the consumer-side guard applied when a candidate is
// chosen for liquidation. Self-selection is rejected here even if a self row
// slipped through the scan filter; the invariant is enforced structurally at
// both ends.
func SelectCandidate(candidates []Candidate, target, requestingUser string) (*Candidate, error) {
	if domain.SameAddress(target, requestingUser) {
		return nil, domain.NewInvariantViolation(domain.ReasonSelfLiquidation,
			fmt.Sprintf("user %s selected own position", requestingUser))
	}
	for i := range candidates {
		if domain.SameAddress(candidates[i].User, target) {
			return &candidates[i], nil
		}
	}
	return nil, fmt.Errorf("candidate %s not in scan results", domain.NormalizeAddress(target))
}

// candidateSet replays the market's full deposit history in bounded block
// ranges and returns the deduplicated depositor addresses. Full, not
// sampled: an incremental index would be an optimization, never a behavior
// change.
func (s *Scanner) candidateSet(ctx context.Context, market string) ([]string, error) {
	latest, err := s.reader.LatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest block: %w", err)
	}

	seen := make(map[string]struct{})
	var addresses []string
	for from := uint64(0); from <= latest; from += s.pageSize {
		to := from + s.pageSize - 1
		if to > latest {
			to = latest
		}
		records, err := s.reader.ReadDepositEvents(ctx, market, from, to)
		if err != nil {
			return nil, fmt.Errorf("deposit events [%d,%d]: %w", from, to, err)
		}
		for _, rec := range records {
			addr := domain.NormalizeAddress(rec.User)
			if addr == "" {
				continue
			}
			if _, ok := seen[addr]; !ok {
				seen[addr] = struct{}{}
				addresses = append(addresses, addr)
			}
		}
		if to == latest {
			break
		}
	}
	return addresses, nil
}

// inspect reads each candidate's live position and health factor with
// bounded fan-out. Failed reads drop the candidate and the scan continues.
func (s *Scanner) inspect(ctx context.Context, market string, addresses []string) []Candidate {
	jobs := make(chan string)
	results := make(chan Candidate)

	var wg sync.WaitGroup
	workers := s.fanOut
	if workers > len(addresses) {
		workers = len(addresses)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for addr := range jobs {
				c, err := s.inspectOne(ctx, market, addr)
				if err != nil {
					s.logger.Printf("excluding candidate %s after read failure: %v", addr, err)
					observability.DefaultMetrics.CandidateReadErrors.Inc()
					continue
				}
				results <- c
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, addr := range addresses {
			select {
			case jobs <- addr:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var out []Candidate
	for c := range results {
		out = append(out, c)
	}
	return out
}

func (s *Scanner) inspectOne(ctx context.Context, market, addr string) (Candidate, error) {
	pos, err := s.reader.ReadPosition(ctx, addr, market)
	if err != nil {
		return Candidate{}, fmt.Errorf("read position: %w", err)
	}
	rawHF, err := s.reader.ReadHealthFactor(ctx, addr)
	if err != nil {
		return Candidate{}, fmt.Errorf("read health factor: %w", err)
	}
	observability.DefaultMetrics.PositionsInspected.Inc()
	return Candidate{
		User:          addr,
		DepositAmount: zeroIfNil(pos.DepositAmount),
		BorrowAmount:  zeroIfNil(pos.BorrowAmount),
		HealthFactor:  domain.NormalizeHealthFactor(rawHF),
	}, nil
}

// dedupe drops case-variant duplicate addresses, keeping the first (and with
// the sort above, riskiest) occurrence.
func dedupe(candidates []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		addr := domain.NormalizeAddress(c.User)
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, c)
	}
	return out
}

// emitSnapshots pushes one risk point per inspected position to the
// analytics sink, best effort.
func (s *Scanner) emitSnapshots(ctx context.Context, market string, inspected []Candidate) {
	if s.riskSink == nil || len(inspected) == 0 {
		return
	}
	now := time.Now().UnixMilli()
	points := make([]*storage.RiskSnapshot, 0, len(inspected))
	for _, c := range inspected {
		points = append(points, &storage.RiskSnapshot{
			Market:          market,
			User:            c.User,
			HealthFactor:    c.HealthFactor,
			LiquidationRisk: domain.RiskPercent(c.HealthFactor),
			DepositAmount:   domain.WadToFloat(c.DepositAmount),
			BorrowAmount:    domain.WadToFloat(c.BorrowAmount),
			Timestamp:       now,
		})
	}
	if err := s.riskSink.InsertBulk(ctx, points); err != nil {
		s.logger.Printf("risk snapshot emit failed for %s: %v", market, err)
	}
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
