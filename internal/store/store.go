// Package store defines the durable persistence contracts for the
// trade-execution engine. PostgreSQL (PostgresStore) is the source of
// truth; Redis (CachedStore) provides a read-through cache layer in
// front of it; MemoryStore backs tests and local development.
//
// Store's method set is deliberately named to match
// internal/executor.Orders, internal/ledger.Ledger,
// internal/marketstore.Durable, and internal/positionstore.Durable
// exactly, so any concrete Store below can be wired into all four
// without an adapter shim.
package store

import (
	"context"

	"github.com/predictionmkt/engine/internal/model"
)

// Store is the full durable persistence interface.
type Store interface {
	// --- Orders (internal/executor.Orders) ---

	Create(ctx context.Context, order *model.Order) error
	GetByNonce(ctx context.Context, nonce string) (*model.Order, bool, error)
	Get(ctx context.Context, id string) (*model.Order, bool, error)
	Update(ctx context.Context, order *model.Order) error
	ConditionalTransition(ctx context.Context, id string, expected []model.OrderStatus, newStatus model.OrderStatus) (bool, error)

	// --- Ledger (internal/ledger.Ledger) ---

	Append(ctx context.Context, tx model.Transaction) (model.Transaction, error)
	LatestFor(ctx context.Context, userID string) (model.Transaction, bool, error)
	ScanFor(ctx context.Context, userID string) ([]model.Transaction, error)

	// --- Markets (internal/marketstore.Durable) ---

	GetMarketState(ctx context.Context, marketID string) (*model.MarketState, error)
	SaveMarketState(ctx context.Context, state *model.MarketState) error
	ListMarketStates(ctx context.Context) ([]model.MarketState, error)

	// --- Positions (internal/positionstore.Durable) ---

	GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error)
	SavePosition(ctx context.Context, position *model.Position) error
}
