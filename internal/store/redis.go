package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/predictionmkt/engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache. Writes go to the primary store and then refresh
// the cached copy (ConditionalTransition deletes the cached order
// instead); reads check Redis first then fall back to the primary.
// Extended from the teacher's market/position caching to also cache
// Order lookups by nonce, since idempotency replay (spec.md §4.8 step 2)
// is the hottest read path in the engine.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Orders (write-through; nonce-keyed read-through) ---

func (s *CachedStore) Create(ctx context.Context, order *model.Order) error {
	if err := s.primary.Create(ctx, order); err != nil {
		return err
	}
	s.cacheOrder(ctx, order)
	return nil
}

func (s *CachedStore) GetByNonce(ctx context.Context, nonce string) (*model.Order, bool, error) {
	data, err := s.rdb.Get(ctx, orderNonceKey(nonce)).Bytes()
	if err == nil {
		var o model.Order
		if json.Unmarshal(data, &o) == nil {
			return &o, true, nil
		}
	}

	o, ok, err := s.primary.GetByNonce(ctx, nonce)
	if err != nil || !ok {
		return o, ok, err
	}
	s.cacheOrder(ctx, o)
	return o, true, nil
}

func (s *CachedStore) Get(ctx context.Context, id string) (*model.Order, bool, error) {
	return s.primary.Get(ctx, id)
}

func (s *CachedStore) Update(ctx context.Context, order *model.Order) error {
	if err := s.primary.Update(ctx, order); err != nil {
		return err
	}
	s.cacheOrder(ctx, order)
	return nil
}

func (s *CachedStore) ConditionalTransition(ctx context.Context, id string, expected []model.OrderStatus, newStatus model.OrderStatus) (bool, error) {
	applied, err := s.primary.ConditionalTransition(ctx, id, expected, newStatus)
	if err != nil || !applied {
		return applied, err
	}
	// The cached copy (if any) is now stale by status; invalidate rather
	// than guess at re-deriving it without the order's nonce in hand.
	if order, ok, gerr := s.primary.Get(ctx, id); gerr == nil && ok {
		s.rdb.Del(ctx, orderNonceKey(order.Nonce))
	}
	return applied, nil
}

// --- Ledger (passthrough; not cached, append-only and low read volume
// outside reconciliation) ---

func (s *CachedStore) Append(ctx context.Context, tx model.Transaction) (model.Transaction, error) {
	return s.primary.Append(ctx, tx)
}

func (s *CachedStore) LatestFor(ctx context.Context, userID string) (model.Transaction, bool, error) {
	return s.primary.LatestFor(ctx, userID)
}

func (s *CachedStore) ScanFor(ctx context.Context, userID string) ([]model.Transaction, error) {
	return s.primary.ScanFor(ctx, userID)
}

// --- Markets (write-through, read-through) ---

func (s *CachedStore) GetMarketState(ctx context.Context, marketID string) (*model.MarketState, error) {
	data, err := s.rdb.Get(ctx, marketKey(marketID)).Bytes()
	if err == nil {
		var m model.MarketState
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarketState(ctx, marketID)
	if err != nil || m == nil {
		return m, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) SaveMarketState(ctx context.Context, state *model.MarketState) error {
	if err := s.primary.SaveMarketState(ctx, state); err != nil {
		return err
	}
	s.cacheMarket(ctx, state)
	return nil
}

func (s *CachedStore) ListMarketStates(ctx context.Context) ([]model.MarketState, error) {
	return s.primary.ListMarketStates(ctx)
}

// --- Positions (write-through, read-through) ---

func (s *CachedStore) GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKeyRedis(userID, marketID)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPosition(ctx, userID, marketID)
	if err != nil || p == nil {
		return p, err
	}
	s.cachePosition(ctx, p)
	return p, nil
}

func (s *CachedStore) SavePosition(ctx context.Context, position *model.Position) error {
	if err := s.primary.SavePosition(ctx, position); err != nil {
		return err
	}
	s.cachePosition(ctx, position)
	return nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheOrder(ctx context.Context, o *model.Order) {
	if data, err := json.Marshal(o); err == nil {
		s.rdb.Set(ctx, orderNonceKey(o.Nonce), data, s.ttl)
	}
}

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.MarketState) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.MarketID), data, s.ttl)
	}
}

func (s *CachedStore) cachePosition(ctx context.Context, p *model.Position) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, positionKeyRedis(p.UserID, p.MarketID), data, s.ttl)
	}
}

func orderNonceKey(nonce string) string               { return fmt.Sprintf("order:nonce:%s", nonce) }
func marketKey(id string) string                      { return fmt.Sprintf("market:%s", id) }
func positionKeyRedis(userID, marketID string) string { return fmt.Sprintf("position:%s:%s", userID, marketID) }
