// Package stub provides scriptable in-memory ledger implementations for
// tests: per-method failure injection, discrete interest accrual, and a
// manually driven event feed.
package stub

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"lendmirror/internal/domain"
	"lendmirror/internal/ledger"
)

// Ledger is an in-memory implementation of ledger.Reader.
type Ledger struct {
	mu            sync.Mutex
	positions     map[string]*ledger.RawPosition // keyed by user|token
	healthFactors map[string]*big.Int            // keyed by user, wad
	prices        map[string]*big.Int            // keyed by token, wad
	configs       map[string]*ledger.TokenConfig // keyed by token
	deposits      map[string][]*ledger.DepositRecord
	latestBlock   uint64
	failures      map[string]int // method -> remaining injected failures
	calls         map[string]int // method -> observed call count
}

// NewLedger creates an empty stub ledger.
func NewLedger() *Ledger {
	return &Ledger{
		positions:     make(map[string]*ledger.RawPosition),
		healthFactors: make(map[string]*big.Int),
		prices:        make(map[string]*big.Int),
		configs:       make(map[string]*ledger.TokenConfig),
		deposits:      make(map[string][]*ledger.DepositRecord),
		failures:      make(map[string]int),
		calls:         make(map[string]int),
	}
}

// Compile-time interface check.
var _ ledger.Reader = (*Ledger)(nil)

func posKey(user, token string) string {
	return domain.NormalizeAddress(user) + "|" + domain.NormalizeAddress(token)
}

// SetPosition scripts the position returned for (user, token).
func (l *Ledger) SetPosition(user, token string, deposit, borrow *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions[posKey(user, token)] = &ledger.RawPosition{
		DepositAmount: new(big.Int).Set(deposit),
		BorrowAmount:  new(big.Int).Set(borrow),
	}
}

// SetHealthFactor scripts the raw wad health factor for a user.
func (l *Ledger) SetHealthFactor(user string, wad *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.healthFactors[domain.NormalizeAddress(user)] = new(big.Int).Set(wad)
}

// SetPrice scripts the oracle price for a token.
func (l *Ledger) SetPrice(token string, wad *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prices[domain.NormalizeAddress(token)] = new(big.Int).Set(wad)
}

// SetConfig scripts the token configuration.
func (l *Ledger) SetConfig(token string, cfg ledger.TokenConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := cfg
	l.configs[domain.NormalizeAddress(token)] = &c
}

// AddDepositRecord appends a historical deposit event for a token.
func (l *Ledger) AddDepositRecord(token string, rec *ledger.DepositRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := domain.NormalizeAddress(token)
	l.deposits[key] = append(l.deposits[key], rec)
	if rec.BlockNumber > l.latestBlock {
		l.latestBlock = rec.BlockNumber
	}
}

// SetLatestBlock scripts the node's newest block number.
func (l *Ledger) SetLatestBlock(block uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.latestBlock = block
}

// FailNext makes the next n calls to method fail with a transient error.
// Method names match the Reader interface ("ReadPrice", "ReadHealthFactor", ...).
func (l *Ledger) FailNext(method string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[method] = n
}

// CallCount returns how many times method was invoked.
func (l *Ledger) CallCount(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

// checkCall records the call and consumes an injected failure if scheduled.
// Caller must hold l.mu.
func (l *Ledger) checkCall(method string) error {
	l.calls[method]++
	if l.failures[method] > 0 {
		l.failures[method]--
		return fmt.Errorf("%w: injected %s failure", ledger.ErrTransient, method)
	}
	return nil
}

// ReadPosition returns the scripted position, zero amounts if unset.
func (l *Ledger) ReadPosition(_ context.Context, user, token string) (*ledger.RawPosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkCall("ReadPosition"); err != nil {
		return nil, err
	}
	p, ok := l.positions[posKey(user, token)]
	if !ok {
		return &ledger.RawPosition{DepositAmount: new(big.Int), BorrowAmount: new(big.Int)}, nil
	}
	return &ledger.RawPosition{
		DepositAmount:  new(big.Int).Set(p.DepositAmount),
		BorrowAmount:   new(big.Int).Set(p.BorrowAmount),
		LastUpdateTime: p.LastUpdateTime,
	}, nil
}

// ReadHealthFactor returns the scripted health factor; the sentinel cap when
// the user has none (no debt).
func (l *Ledger) ReadHealthFactor(_ context.Context, user string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkCall("ReadHealthFactor"); err != nil {
		return nil, err
	}
	hf, ok := l.healthFactors[domain.NormalizeAddress(user)]
	if !ok {
		return new(big.Int).Set(domain.RawHealthFactorCap), nil
	}
	return new(big.Int).Set(hf), nil
}

// ReadTokenConfig returns the scripted config, a supported default if unset.
func (l *Ledger) ReadTokenConfig(_ context.Context, token string) (*ledger.TokenConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkCall("ReadTokenConfig"); err != nil {
		return nil, err
	}
	cfg, ok := l.configs[domain.NormalizeAddress(token)]
	if !ok {
		return &ledger.TokenConfig{InterestRateBps: 500, IsSupported: true}, nil
	}
	c := *cfg
	return &c, nil
}

// ReadPrice returns the scripted price, 1.0 wad if unset.
func (l *Ledger) ReadPrice(_ context.Context, token string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkCall("ReadPrice"); err != nil {
		return nil, err
	}
	price, ok := l.prices[domain.NormalizeAddress(token)]
	if !ok {
		return new(big.Int).Set(domain.WadScale), nil
	}
	return new(big.Int).Set(price), nil
}

// ReadDepositEvents returns scripted deposit records within the block range.
func (l *Ledger) ReadDepositEvents(_ context.Context, token string, fromBlock, toBlock uint64) ([]*ledger.DepositRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkCall("ReadDepositEvents"); err != nil {
		return nil, err
	}
	var out []*ledger.DepositRecord
	for _, rec := range l.deposits[domain.NormalizeAddress(token)] {
		if rec.BlockNumber >= fromBlock && rec.BlockNumber <= toBlock {
			out = append(out, rec)
		}
	}
	return out, nil
}

// LatestBlock returns the scripted newest block number.
func (l *Ledger) LatestBlock(_ context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkCall("LatestBlock"); err != nil {
		return 0, err
	}
	return l.latestBlock, nil
}

// AccrueIntervals simulates n discrete accrual intervals on every position
// in the token: debt compounds by the market rate each interval, then the
// health factor is recomputed as collateral/debt.
func (l *Ledger) AccrueIntervals(token string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tokenKey := domain.NormalizeAddress(token)
	cfg, ok := l.configs[tokenKey]
	rateBps := int64(500)
	if ok {
		rateBps = int64(cfg.InterestRateBps)
	}
	price, ok := l.prices[tokenKey]
	if !ok {
		price = domain.WadScale
	}

	for key, p := range l.positions {
		if p.BorrowAmount.Sign() <= 0 || !strings.HasSuffix(key, "|"+tokenKey) {
			continue
		}
		user := strings.TrimSuffix(key, "|"+tokenKey)
		for i := 0; i < n; i++ {
			interest := new(big.Int).Mul(p.BorrowAmount, big.NewInt(rateBps))
			interest.Quo(interest, big.NewInt(10000))
			p.BorrowAmount.Add(p.BorrowAmount, interest)
		}
		l.healthFactors[user] = healthFactor(p.DepositAmount, p.BorrowAmount, price)
	}
}

// ApplyLiquidation reduces a position by the repaid debt and seized
// collateral and recomputes the health factor.
func (l *Ledger) ApplyLiquidation(user, token string, repaidDebt, seizedCollateral *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[posKey(user, token)]
	if !ok {
		return
	}
	p.BorrowAmount.Sub(p.BorrowAmount, repaidDebt)
	if p.BorrowAmount.Sign() < 0 {
		p.BorrowAmount.SetInt64(0)
	}
	p.DepositAmount.Sub(p.DepositAmount, seizedCollateral)
	if p.DepositAmount.Sign() < 0 {
		p.DepositAmount.SetInt64(0)
	}

	price, ok := l.prices[domain.NormalizeAddress(token)]
	if !ok {
		price = domain.WadScale
	}
	l.healthFactors[domain.NormalizeAddress(user)] = healthFactor(p.DepositAmount, p.BorrowAmount, price)
}

// healthFactor computes collateralValue/debt in wad; the sentinel cap when
// there is no debt.
func healthFactor(deposit, borrow, price *big.Int) *big.Int {
	if borrow.Sign() == 0 {
		return new(big.Int).Set(domain.RawHealthFactorCap)
	}
	collateral := domain.WadMul(deposit, price)
	hf := new(big.Int).Mul(collateral, domain.WadScale)
	hf.Quo(hf, borrow)
	if hf.Cmp(domain.RawHealthFactorCap) > 0 {
		hf.Set(domain.RawHealthFactorCap)
	}
	return hf
}

// Feed is a manually driven implementation of ledger.EventFeed.
type Feed struct {
	mu     sync.Mutex
	ch     chan ledger.RawNotification
	closed bool
}

// NewFeed creates a stub feed.
func NewFeed() *Feed {
	return &Feed{ch: make(chan ledger.RawNotification, 64)}
}

// Compile-time interface check.
var _ ledger.EventFeed = (*Feed)(nil)

// SubscribeEvents returns the feed channel; types and fromBlock are ignored.
func (f *Feed) SubscribeEvents(_ context.Context, _ []string, _ uint64) (<-chan ledger.RawNotification, error) {
	return f.ch, nil
}

// Emit delivers one notification to the subscriber.
func (f *Feed) Emit(raw ledger.RawNotification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.ch <- raw
}

// Close closes the feed channel.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	return nil
}
