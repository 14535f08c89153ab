// Package memory provides in-memory storage implementations used by unit
// tests and the --use-memory mode of the daemons.
package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"lendmirror/internal/domain"
	"lendmirror/internal/storage"
)

// Store is an in-memory implementation of storage.Store. One mutex guards
// every table, so ApplyUnit is atomic by construction.
type Store struct {
	mu         sync.RWMutex
	events     map[string]*domain.Event        // keyed by tx_hash
	users      map[string]*domain.User         // keyed by address
	markets    map[string]*domain.Market       // keyed by token
	positions  map[string]*domain.Position     // keyed by user|market
	activities map[string][]*domain.UserActivity // keyed by user
	watermarks map[string]uint64               // keyed by stream
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		events:     make(map[string]*domain.Event),
		users:      make(map[string]*domain.User),
		markets:    make(map[string]*domain.Market),
		positions:  make(map[string]*domain.Position),
		activities: make(map[string][]*domain.UserActivity),
		watermarks: make(map[string]uint64),
	}
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

func positionKey(user, market string) string {
	return user + "|" + market
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func copyPosition(p *domain.Position) *domain.Position {
	if p == nil {
		return nil
	}
	cp := *p
	cp.DepositAmount = copyBig(p.DepositAmount)
	cp.BorrowAmount = copyBig(p.BorrowAmount)
	cp.CollateralValue = copyBig(p.CollateralValue)
	return &cp
}

func copyMarket(m *domain.Market) *domain.Market {
	if m == nil {
		return nil
	}
	cm := *m
	cm.TotalLiquidity = copyBig(m.TotalLiquidity)
	cm.TotalBorrowed = copyBig(m.TotalBorrowed)
	return &cm
}

// ApplyUnit applies one unit of work under the store mutex. Returns
// ErrDuplicateKey without side effects when the event is already committed.
func (s *Store) ApplyUnit(_ context.Context, unit *domain.IndexUnit) error {
	if unit == nil || unit.Event == nil || unit.Event.TxHash == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotency re-check inside the "transaction".
	if _, exists := s.events[unit.Event.TxHash]; exists {
		return storage.ErrDuplicateKey
	}

	for _, u := range []*domain.User{unit.User, unit.SecondaryUser} {
		if u == nil {
			continue
		}
		if existing, ok := s.users[u.Address]; ok {
			if u.LastSeen > existing.LastSeen {
				existing.LastSeen = u.LastSeen
			}
		} else {
			cu := *u
			s.users[u.Address] = &cu
		}
	}

	if unit.Market != nil {
		s.markets[unit.Market.Token] = copyMarket(unit.Market)
	}

	for _, a := range unit.Activities {
		ca := *a
		ca.Value = copyBig(a.Value)
		s.activities[a.User] = append(s.activities[a.User], &ca)
	}

	if unit.Position != nil {
		s.positions[positionKey(unit.Position.User, unit.Position.Market)] = copyPosition(unit.Position)
	}

	ev := *unit.Event
	s.events[ev.TxHash] = &ev

	if unit.Stream != "" && unit.BlockNumber > s.watermarks[unit.Stream] {
		s.watermarks[unit.Stream] = unit.BlockNumber
	}

	return nil
}

// GetEvent retrieves an event by tx hash. Returns ErrNotFound if not exists.
func (s *Store) GetEvent(_ context.Context, txHash string) (*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[txHash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

// HasEvent reports whether an event row is committed for the hash.
func (s *Store) HasEvent(_ context.Context, txHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.events[txHash]
	return ok, nil
}

// GetEventsByMarket retrieves events for a market, ordered by block ASC.
func (s *Store) GetEventsByMarket(_ context.Context, market string) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	market = domain.NormalizeAddress(market)
	var out []*domain.Event
	for _, ev := range s.events {
		if ev.Market == market {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BlockNumber < out[j].BlockNumber
	})
	return out, nil
}

// GetEventsByTypeAndNetwork retrieves processed events of one type on one network.
func (s *Store) GetEventsByTypeAndNetwork(_ context.Context, t domain.EventType, network string) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Event
	for _, ev := range s.events {
		if ev.Type == t && ev.Network == network && ev.Status == domain.EventProcessed {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BlockNumber < out[j].BlockNumber
	})
	return out, nil
}

// GetUser retrieves a user by address. Returns ErrNotFound if not exists.
func (s *Store) GetUser(_ context.Context, address string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[domain.NormalizeAddress(address)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// GetMarket retrieves a market by token. Returns ErrNotFound if not exists.
func (s *Store) GetMarket(_ context.Context, token string) (*domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[domain.NormalizeAddress(token)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyMarket(m), nil
}

// GetPosition retrieves the position for (user, market).
func (s *Store) GetPosition(_ context.Context, user, market string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[positionKey(domain.NormalizeAddress(user), domain.NormalizeAddress(market))]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyPosition(p), nil
}

// GetPositionsByMarket retrieves all positions in a market.
func (s *Store) GetPositionsByMarket(_ context.Context, market string) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	market = domain.NormalizeAddress(market)
	var out []*domain.Position
	for _, p := range s.positions {
		if p.Market == market {
			out = append(out, copyPosition(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out, nil
}

// GetActivitiesByUser retrieves activities for a user, ordered by timestamp ASC.
func (s *Store) GetActivitiesByUser(_ context.Context, user string) ([]*domain.UserActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acts := s.activities[domain.NormalizeAddress(user)]
	out := make([]*domain.UserActivity, 0, len(acts))
	for _, a := range acts {
		ca := *a
		ca.Value = copyBig(a.Value)
		out = append(out, &ca)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// GetActivitiesByTxHash retrieves the activity rows fanned out from one event.
func (s *Store) GetActivitiesByTxHash(_ context.Context, txHash string) ([]*domain.UserActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txHash = domain.NormalizeAddress(txHash)
	var out []*domain.UserActivity
	for _, acts := range s.activities {
		for _, a := range acts {
			if a.TxHash == txHash {
				ca := *a
				ca.Value = copyBig(a.Value)
				out = append(out, &ca)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out, nil
}

// GetWatermark returns the stream's high-water mark.
func (s *Store) GetWatermark(_ context.Context, stream string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wm, ok := s.watermarks[stream]
	if !ok {
		return 0, storage.ErrNotFound
	}
	return wm, nil
}

// SetWatermark records the high-water mark, monotonically.
func (s *Store) SetWatermark(_ context.Context, stream string, block uint64) error {
	if stream == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if block > s.watermarks[stream] {
		s.watermarks[stream] = block
	}
	return nil
}
