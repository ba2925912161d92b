// Package balance implements BalanceService: a thin read path over the
// ledger plus a periodic reconciliation sweep. No teacher file has this
// concept (the teacher reads balances directly off model.User), so the
// shape is grounded on original_source/service/BalanceService.java's
// scheduled recompute, wired into Go the way the teacher wires its own
// background workers — a time.Ticker loop in Run, which the caller
// starts in its own goroutine, in the spirit of trade.WSHub.Run and the teacher's scheduled Redis
// cleanup idiom.
package balance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/predictionmkt/engine/internal/ledger"
	"github.com/predictionmkt/engine/internal/money"
)

// driftThreshold is the maximum allowed divergence between the cached
// balance and the ledger-derived sum before a drift event is logged and
// the cache is corrected.
var driftThreshold = money.MustOf("0.0001")

// ReconcileInterval is how often Reconcile runs when driven by Run.
const ReconcileInterval = 5 * time.Minute

// Service is BalanceService. It caches the latest known balance per user
// (for O(1) reads) but treats the ledger as the sole source of truth;
// Reconcile periodically corrects drift without ever mutating the
// ledger.
type Service struct {
	ledger ledger.Ledger

	mu    sync.RWMutex
	cache map[string]money.Money
}

// NewService constructs a BalanceService over ledger, in the teacher's
// constructor-injection style (trade.NewService).
func NewService(l ledger.Ledger) *Service {
	return &Service{
		ledger: l,
		cache:  make(map[string]money.Money),
	}
}

// Balance returns latestFor(userId)?.balanceAfter ?? 0, served from
// cache when available and refreshed from the ledger on a miss.
func (s *Service) Balance(ctx context.Context, userID string) (money.Money, error) {
	s.mu.RLock()
	cached, ok := s.cache[userID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	latest, found, err := s.ledger.LatestFor(ctx, userID)
	if err != nil {
		return money.Zero, err
	}
	bal := money.Zero
	if found {
		bal = latest.BalanceAfter
	}

	s.mu.Lock()
	s.cache[userID] = bal
	s.mu.Unlock()
	return bal, nil
}

// HasSufficientBalance reports whether userID's balance is >= amount.
// It is the authoritative pre-execution check (spec.md §4.8.1); on a
// cache miss it falls through to the ledger rather than failing closed.
func (s *Service) HasSufficientBalance(userID string, amount money.Money) bool {
	bal, err := s.Balance(context.Background(), userID)
	if err != nil {
		slog.Error("balance: lookup failed during sufficiency check", "user_id", userID, "error", err)
		return false
	}
	return bal.GreaterThanOrEqual(amount)
}

// Observe records a known-fresh balance for userID, called by the
// executor immediately after a successful ledger append so the next
// HasSufficientBalance check sees it without a ledger round-trip.
func (s *Service) Observe(userID string, balance money.Money) {
	s.mu.Lock()
	s.cache[userID] = balance
	s.mu.Unlock()
}

// Reconcile fully scans the ledger for every cached user, sums Amount,
// and overwrites the cache plus logs a drift event when the cached
// balance differs from the summed ledger by more than driftThreshold.
// Reconcile never mutates the ledger.
func (s *Service) Reconcile(ctx context.Context) {
	s.mu.RLock()
	users := make([]string, 0, len(s.cache))
	for u := range s.cache {
		users = append(users, u)
	}
	s.mu.RUnlock()

	for _, userID := range users {
		s.reconcileUser(ctx, userID)
	}
}

func (s *Service) reconcileUser(ctx context.Context, userID string) {
	entries, err := s.ledger.ScanFor(ctx, userID)
	if err != nil {
		slog.Error("balance: reconcile scan failed", "user_id", userID, "error", err)
		return
	}

	sum := money.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}

	s.mu.Lock()
	cached := s.cache[userID]
	drift := cached.Subtract(sum).Abs()
	if drift.GreaterThan(driftThreshold) {
		slog.Warn("balance: drift detected during reconciliation",
			"user_id", userID, "cached", cached.String(), "recomputed", sum.String(), "drift", drift.String())
		s.cache[userID] = sum
	}
	s.mu.Unlock()
}

// Run starts the reconciliation ticker; it blocks until ctx is
// cancelled, matching the teacher's background-worker shutdown pattern
// (cmd/server/main.go's signal-driven graceful shutdown).
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reconcile(ctx)
		}
	}
}
