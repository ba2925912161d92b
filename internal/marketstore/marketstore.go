// Package marketstore implements the hot, in-memory MarketState cache
// with lazy load-from-durable-storage and a periodic best-effort flush.
// Grounded on the teacher's store.MemoryStore (map + sync.RWMutex) for
// the cache shape and on trade.WSHub.Run's ticker-driven background
// loop for the flush scheduler; durable storage is never the source of
// truth for balances (the ledger is), so a failed flush only delays
// observability, never correctness.
package marketstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/predictionmkt/engine/internal/model"
)

// FlushInterval is how often the background flush sweep runs.
const FlushInterval = 1 * time.Second

// idleBeforeFlush is how long an entry must sit unmodified before it is
// eligible for flush, matching spec.md's "now − lastModified > 1000 ms".
const idleBeforeFlush = 1 * time.Second

// Durable is the subset of durable storage MarketStore needs. The
// concrete implementation lives in internal/store.
type Durable interface {
	GetMarketState(ctx context.Context, marketID string) (*model.MarketState, error)
	SaveMarketState(ctx context.Context, state *model.MarketState) error
}

type entry struct {
	state        *model.MarketState
	lastModified time.Time
}

// Store is the hot MarketState cache.
type Store struct {
	durable Durable

	mu      sync.RWMutex
	entries map[string]*entry
}

// New constructs a MarketStore backed by durable.
func New(durable Durable) *Store {
	return &Store{
		durable: durable,
		entries: make(map[string]*entry),
	}
}

// GetMarketOrLoad returns the cached state for marketID, loading it from
// durable storage on a cache miss. A market that does not exist in
// durable storage either returns (nil, nil) — markets must be
// pre-created, never lazily materialized.
func (s *Store) GetMarketOrLoad(ctx context.Context, marketID string) (*model.MarketState, error) {
	s.mu.RLock()
	e, ok := s.entries[marketID]
	s.mu.RUnlock()
	if ok {
		return e.state, nil
	}

	state, err := s.durable.GetMarketState(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, nil
	}

	s.mu.Lock()
	s.entries[marketID] = &entry{state: state, lastModified: time.Time{}}
	s.mu.Unlock()
	return state, nil
}

// MarkModified records that marketID's cached state changed at now and
// is due for a flush.
func (s *Store) MarkModified(marketID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[marketID]; ok {
		e.lastModified = now
		e.state.LastTradeTimestamp = now
	}
}

// Put installs state into the cache directly (used when a market is
// created and has no prior durable row to load).
func (s *Store) Put(state *model.MarketState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[state.MarketID] = &entry{state: state, lastModified: time.Now()}
}

// Run starts the flush sweep; it blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flushDue(ctx)
		}
	}
}

func (s *Store) flushDue(ctx context.Context) {
	now := time.Now()

	s.mu.RLock()
	var due []*entry
	for _, e := range s.entries {
		if now.Sub(e.lastModified) > idleBeforeFlush && e.state.LastPersistedTimestamp.Before(e.state.LastTradeTimestamp) {
			due = append(due, e)
		}
	}
	s.mu.RUnlock()

	for _, e := range due {
		s.mu.RLock()
		snapshot := *e.state
		s.mu.RUnlock()

		if err := s.durable.SaveMarketState(ctx, &snapshot); err != nil {
			slog.Error("marketstore: flush failed, will retry next tick", "market_id", snapshot.MarketID, "error", err)
			continue
		}

		s.mu.Lock()
		e.state.LastPersistedTimestamp = now
		s.mu.Unlock()
	}
}
