// Package positionstore is PositionStore: the hot, per-(user,market)
// Position cache, lazily loaded from durable storage with zero-shares
// defaults for new positions. Mirrors internal/marketstore's shape —
// both are grounded on the same teacher cache pattern
// (store.MemoryStore) and flush scheduler idiom.
package positionstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/predictionmkt/engine/internal/model"
)

// FlushInterval is how often the background flush sweep runs.
const FlushInterval = 1 * time.Second

const idleBeforeFlush = 1 * time.Second

// Durable is the subset of durable storage PositionStore needs.
type Durable interface {
	GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error)
	SavePosition(ctx context.Context, position *model.Position) error
}

func key(userID, marketID string) string {
	return userID + "|" + marketID
}

type entry struct {
	position       *model.Position
	lastModified   time.Time
	lastPersisted  time.Time
	lastTrade      time.Time
}

// Store is the hot Position cache.
type Store struct {
	durable Durable

	mu      sync.RWMutex
	entries map[string]*entry
}

// New constructs a PositionStore backed by durable.
func New(durable Durable) *Store {
	return &Store{
		durable: durable,
		entries: make(map[string]*entry),
	}
}

// GetOrCreate loads the cached position for (userID, marketID), loading
// from durable storage on a miss and falling back to a fresh
// zero-shares position if none exists there either.
func (s *Store) GetOrCreate(ctx context.Context, userID, marketID string) (*model.Position, error) {
	k := key(userID, marketID)

	s.mu.RLock()
	e, ok := s.entries[k]
	s.mu.RUnlock()
	if ok {
		return e.position, nil
	}

	pos, err := s.durable.GetPosition(ctx, userID, marketID)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &model.Position{UserID: userID, MarketID: marketID}
	}

	s.mu.Lock()
	s.entries[k] = &entry{position: pos}
	s.mu.Unlock()
	return pos, nil
}

// MarkModified records that (userID, marketID)'s cached position
// changed at now.
func (s *Store) MarkModified(userID, marketID string, now time.Time) {
	k := key(userID, marketID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[k]; ok {
		e.lastModified = now
		e.lastTrade = now
	}
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
		if now.Sub(e.lastModified) > idleBeforeFlush && e.lastPersisted.Before(e.lastTrade) {
			due = append(due, e)
		}
	}
	s.mu.RUnlock()

	for _, e := range due {
		s.mu.RLock()
		snapshot := *e.position
		s.mu.RUnlock()

		if err := s.durable.SavePosition(ctx, &snapshot); err != nil {
			slog.Error("positionstore: flush failed, will retry next tick",
				"user_id", snapshot.UserID, "market_id", snapshot.MarketID, "error", err)
			continue
		}

		s.mu.Lock()
		e.lastPersisted = now
		s.mu.Unlock()
	}
}
