package store

import (
	"context"
	"sync"

	"github.com/predictionmkt/engine/internal/apperr"
	"github.com/predictionmkt/engine/internal/model"
)

// MemoryStore implements Store with in-memory maps, grounded on the
// teacher's original MemoryStore shape (sync.RWMutex guarding plain
// maps, copy-out on read to avoid aliasing). Used for testing and
// local development; not durable across restarts.
type MemoryStore struct {
	mu sync.RWMutex

	orders      map[string]*model.Order
	ordersByKey map[string]*model.Order // nonce -> order

	txByNonce map[string]model.Transaction
	txByUser  map[string][]model.Transaction

	markets   map[string]*model.MarketState
	positions map[string]*model.Position // "userID|marketID" -> position
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:      make(map[string]*model.Order),
		ordersByKey: make(map[string]*model.Order),
		txByNonce:   make(map[string]model.Transaction),
		txByUser:    make(map[string][]model.Transaction),
		markets:     make(map[string]*model.MarketState),
		positions:   make(map[string]*model.Position),
	}
}

func positionKey(userID, marketID string) string {
	return userID + "|" + marketID
}

// --- Orders ---

func (s *MemoryStore) Create(_ context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ordersByKey[order.Nonce]; ok {
		return apperr.New(apperr.KindDuplicateNonce, "order nonce already exists")
	}

	cp := *order
	s.orders[order.ID] = &cp
	s.ordersByKey[order.Nonce] = &cp
	return nil
}

func (s *MemoryStore) GetByNonce(_ context.Context, nonce string) (*model.Order, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.ordersByKey[nonce]
	if !ok {
		return nil, false, nil
	}
	cp := *o
	return &cp, true, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.Order, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, false, nil
	}
	cp := *o
	return &cp, true, nil
}

func (s *MemoryStore) Update(_ context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *order
	s.orders[order.ID] = &cp
	s.ordersByKey[order.Nonce] = &cp
	return nil
}

func (s *MemoryStore) ConditionalTransition(_ context.Context, id string, expected []model.OrderStatus, newStatus model.OrderStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, e := range expected {
		if o.Status == e {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	o.Status = newStatus
	if byKey, ok := s.ordersByKey[o.Nonce]; ok {
		byKey.Status = newStatus
	}
	return true, nil
}

// --- Ledger ---

func (s *MemoryStore) Append(_ context.Context, tx model.Transaction) (model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txByNonce[tx.Nonce]; ok {
		return model.Transaction{}, apperr.New(apperr.KindDuplicateNonce, "transaction nonce already exists")
	}

	s.txByNonce[tx.Nonce] = tx
	s.txByUser[tx.UserID] = append(s.txByUser[tx.UserID], tx)
	return tx, nil
}

func (s *MemoryStore) LatestFor(_ context.Context, userID string) (model.Transaction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.txByUser[userID]
	if len(entries) == 0 {
		return model.Transaction{}, false, nil
	}
	// Highest Timestamp wins; ties go to the later insertion.
	latest := entries[0]
	for _, e := range entries[1:] {
		if !e.Timestamp.Before(latest.Timestamp) {
			latest = e
		}
	}
	return latest, true, nil
}

func (s *MemoryStore) ScanFor(_ context.Context, userID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.txByUser[userID]
	out := make([]model.Transaction, len(entries))
	copy(out, entries)
	return out, nil
}

// --- Markets ---

func (s *MemoryStore) GetMarketState(_ context.Context, marketID string) (*model.MarketState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[marketID]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) SaveMarketState(_ context.Context, state *model.MarketState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *state
	s.markets[state.MarketID] = &cp
	return nil
}

func (s *MemoryStore) ListMarketStates(_ context.Context) ([]model.MarketState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.MarketState, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, *m)
	}
	return out, nil
}

// --- Positions ---

func (s *MemoryStore) GetPosition(_ context.Context, userID, marketID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[positionKey(userID, marketID)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) SavePosition(_ context.Context, position *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *position
	s.positions[positionKey(position.UserID, position.MarketID)] = &cp
	return nil
}
