// Package ledger implements the append-only transaction ledger that is
// the single source of truth for user balances. No teacher file
// implements this — the teacher's model.LedgerEntry + Store.
// InsertLedgerEntry is an audit trail of trades, not a running-balance
// ledger — so the interface here generalizes the teacher's Store
// contract-in-its-own-file pattern (internal/store/store.go) into a
// narrower, money-focused contract. Field list and invariants are
// grounded on original_source/entity/Transaction.java and
// original_source/repositories/TransactionRepository.java.
package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/predictionmkt/engine/internal/apperr"
	"github.com/predictionmkt/engine/internal/model"
)

// ErrDuplicateNonce is returned by Append when tx.Nonce already exists.
// No mutation occurs.
var ErrDuplicateNonce = errors.New("ledger: duplicate nonce")

// Ledger is the durable, append-only transaction log. Implementations
// must make Append atomic at the storage layer — no in-process lock is
// used for money, per spec.
type Ledger interface {
	// Append durably inserts tx. On unique-nonce conflict it returns
	// ErrDuplicateNonce (wrapped in apperr.KindDuplicateNonce) and
	// performs no mutation; otherwise it returns the stored entry.
	Append(ctx context.Context, tx model.Transaction) (model.Transaction, error)

	// LatestFor returns the highest-timestamp entry for userID, or
	// ok=false if the user has no entries.
	LatestFor(ctx context.Context, userID string) (tx model.Transaction, ok bool, err error)

	// ScanFor returns every entry for userID in insertion order. Used
	// only for reconciliation; not a hot path.
	ScanFor(ctx context.Context, userID string) ([]model.Transaction, error)
}

// MemoryLedger is an in-memory Ledger, grounded on the teacher's
// store.MemoryStore (sync.RWMutex guarding plain maps, no aggregation
// beyond what's asked). Safe for concurrent use.
type MemoryLedger struct {
	mu        sync.RWMutex
	byNonce   map[string]model.Transaction
	byUser    map[string][]model.Transaction
	latestIdx map[string]int // index into byUser[userID] of the latest entry
}

// NewMemoryLedger constructs an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byNonce:   make(map[string]model.Transaction),
		byUser:    make(map[string][]model.Transaction),
		latestIdx: make(map[string]int),
	}
}

func (l *MemoryLedger) Append(_ context.Context, tx model.Transaction) (model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.byNonce[tx.Nonce]; ok {
		_ = existing
		return model.Transaction{}, apperr.Wrap(apperr.KindDuplicateNonce, ErrDuplicateNonce).WithField("nonce", tx.Nonce)
	}

	l.byNonce[tx.Nonce] = tx
	l.byUser[tx.UserID] = append(l.byUser[tx.UserID], tx)
	entries := l.byUser[tx.UserID]
	// Ties on Timestamp go to the later insertion.
	if cur, ok := l.latestIdx[tx.UserID]; !ok || !tx.Timestamp.Before(entries[cur].Timestamp) {
		l.latestIdx[tx.UserID] = len(entries) - 1
	}
	return tx, nil
}

func (l *MemoryLedger) LatestFor(_ context.Context, userID string) (model.Transaction, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.byUser[userID]
	if len(entries) == 0 {
		return model.Transaction{}, false, nil
	}
	idx, ok := l.latestIdx[userID]
	if !ok || idx >= len(entries) {
		idx = len(entries) - 1
	}
	return entries[idx], true, nil
}

func (l *MemoryLedger) ScanFor(_ context.Context, userID string) ([]model.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.byUser[userID]
	out := make([]model.Transaction, len(entries))
	copy(out, entries)
	return out, nil
}
