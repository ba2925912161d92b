// Package model defines the core domain types shared across the
// trade-execution engine. All monetary amounts use internal/money —
// never float64 — for anything that affects a balance decision; pool
// quantities and prices, which are never used to move money directly,
// stay in shopspring/decimal for arithmetic convenience in the pricing
// engine.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predictionmkt/engine/internal/money"
)

// Outcome is one side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// MarketStatus governs whether a market accepts trades.
type MarketStatus string

const (
	MarketOpen     MarketStatus = "OPEN"
	MarketResolved MarketStatus = "RESOLVED"
)

// MarketState is the hot, per-market LMSR pool and pricing state.
// Mutation is confined to the per-market dispatcher lane
// (internal/dispatcher); CurrentPrice must equal
// lmsr.Price(YesShares, NoShares, LiquidityB) after every applied trade.
type MarketState struct {
	MarketID                string          `json:"market_id" db:"market_id"`
	YesShares               decimal.Decimal `json:"yes_shares" db:"yes_shares"`
	NoShares                decimal.Decimal `json:"no_shares" db:"no_shares"`
	LiquidityB              decimal.Decimal `json:"liquidity_b" db:"liquidity_b"`
	CurrentPrice            decimal.Decimal `json:"current_price" db:"current_price"`
	Status                  MarketStatus    `json:"status" db:"status"`
	LastTradeTimestamp      time.Time       `json:"last_trade_timestamp" db:"last_trade_timestamp"`
	LastPersistedTimestamp  time.Time       `json:"last_persisted_timestamp" db:"last_persisted_timestamp"`
	CreatedAt               time.Time       `json:"created_at" db:"created_at"`
}

// Position is a user's aggregate share holdings in one market. Mutated
// only by OrderExecutor on a successful fill.
type Position struct {
	UserID   string `json:"user_id" db:"user_id"`
	MarketID string `json:"market_id" db:"market_id"`
	YesQty   int64  `json:"yes_qty" db:"yes_qty"`
	NoQty    int64  `json:"no_qty" db:"no_qty"`
}

// User is a cached, derived view of a trader's balance. It is never the
// source of truth — the ledger is. Never branch on Balance for a money
// decision; read through balance.Service instead.
type User struct {
	UserID  string      `json:"user_id" db:"user_id"`
	Balance money.Money `json:"balance" db:"balance"`
}

// OrderStatus is a lifecycle state; see internal/orderstate for the
// transition table.
type OrderStatus string

const (
	OrderNew       OrderStatus = "NEW"
	OrderOpen      OrderStatus = "OPEN"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
)

// Order is a single market-order request moving through its lifecycle.
type Order struct {
	ID               string       `json:"id" db:"id"`
	Nonce            string       `json:"nonce" db:"nonce"`
	UserID           string       `json:"user_id" db:"user_id"`
	MarketID         string       `json:"market_id" db:"market_id"`
	OrderType        string       `json:"order_type" db:"order_type"` // always "MARKET"
	Side             string       `json:"side" db:"side"`             // always "BUY"
	Outcome          Outcome      `json:"outcome" db:"outcome"`
	Quantity         int64        `json:"quantity" db:"quantity"`
	FilledQuantity   int64        `json:"filled_quantity" db:"filled_quantity"`
	TotalCost        *money.Money `json:"total_cost,omitempty" db:"total_cost"`
	AverageFillPrice *money.Money `json:"average_fill_price,omitempty" db:"average_fill_price"`
	Status           OrderStatus  `json:"status" db:"status"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
	RejectionReason  string       `json:"rejection_reason,omitempty" db:"rejection_reason"`
	TransactionID    string       `json:"transaction_id,omitempty" db:"transaction_id"`
}

// IsActive reports whether the order is still cancellable (OPEN or
// PARTIAL).
func (o *Order) IsActive() bool {
	return o.Status == OrderOpen || o.Status == OrderPartial
}

// IsTerminal reports whether the order has reached an absorbing state.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderFilled, OrderCancelled, OrderRejected:
		return true
	default:
		return false
	}
}

// Fill records a complete execution: market orders always fill entirely
// in one step, so this always transitions OPEN→FILLED. It sets
// averageFillPrice = totalCost / filledQuantity and stamps the
// transaction that produced the fill. Kept on Order itself (rather than
// routed through internal/orderstate) to avoid a model↔orderstate import
// cycle; the legality check it performs is the single OPEN→FILLED edge
// only.
func (o *Order) Fill(quantity int64, totalCost money.Money, transactionID string) error {
	if o.Status != OrderOpen {
		return fmt.Errorf("model: cannot fill order in status %s", o.Status)
	}
	now := time.Now()
	o.FilledQuantity += quantity
	o.TotalCost = &totalCost
	if avg, err := totalCost.DivideInt(o.FilledQuantity); err == nil {
		o.AverageFillPrice = &avg
	}
	o.TransactionID = transactionID
	o.Status = OrderFilled
	o.UpdatedAt = now
	o.CompletedAt = &now
	return nil
}

// TransactionType enumerates ledger entry kinds.
type TransactionType string

const (
	TxTradeBuy         TransactionType = "TRADE_BUY"
	TxTradeSell        TransactionType = "TRADE_SELL"
	TxDeposit          TransactionType = "DEPOSIT"
	TxWithdrawal       TransactionType = "WITHDRAWAL"
	TxMarketResolution TransactionType = "MARKET_RESOLUTION"
)

// Transaction is an immutable ledger entry. Once appended, it is never
// updated or deleted (I1). BalanceAfter forms a running total per user
// (I2); Nonce is globally unique (I3); no BUY path leaves
// BalanceAfter < 0 (I4).
type Transaction struct {
	ID           string          `json:"id" db:"id"`
	Nonce        string          `json:"nonce" db:"nonce"`
	UserID       string          `json:"user_id" db:"user_id"`
	MarketID     string          `json:"market_id" db:"market_id"`
	Type         TransactionType `json:"type" db:"type"`
	Amount       money.Money     `json:"amount" db:"amount"` // signed; negative = debit
	Outcome      Outcome         `json:"outcome,omitempty" db:"outcome"`
	Shares       int64           `json:"shares,omitempty" db:"shares"`
	Price        money.Money     `json:"price,omitempty" db:"price"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
	BalanceAfter money.Money     `json:"balance_after" db:"balance_after"`
}

// PositionSummary is a lightweight yes/no share-count view of a
// position, adapted from the teacher's PositionSummary/Position split.
type PositionSummary struct {
	YesQty int64 `json:"yes_qty"`
	NoQty  int64 `json:"no_qty"`
}

// Portfolio aggregates all positions for a user with basic exposure
// metrics. Adapted from the teacher's model.Portfolio: H3-cell exposure
// is dropped (no geospatial dimension in a binary market) in favor of
// per-market exposure.
type Portfolio struct {
	UserID              string               `json:"user_id"`
	Positions           []Position           `json:"positions"`
	Balance             money.Money          `json:"balance"`
	TotalExposureShares int64                `json:"total_exposure_shares"`
	ExposureByMarket    map[string]int64     `json:"exposure_by_market"`
}
