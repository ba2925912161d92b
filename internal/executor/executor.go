// Package executor implements OrderExecutor: the end-to-end
// executeMarketOrder algorithm (idempotency check, validation, pricing,
// ledger append, state mutation) and order cancellation. No teacher file
// has this shape — trade.Service.ExecuteTrade is the closest analogue,
// generalized here from a single global mutex to running inside
// internal/dispatcher's per-market lane, with the nonce/idempotency/
// cancel algorithm grounded on
// original_source/service/OrderExecutionService.java.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predictionmkt/engine/internal/apperr"
	"github.com/predictionmkt/engine/internal/balance"
	"github.com/predictionmkt/engine/internal/dispatcher"
	"github.com/predictionmkt/engine/internal/ledger"
	"github.com/predictionmkt/engine/internal/lmsr"
	"github.com/predictionmkt/engine/internal/marketstore"
	"github.com/predictionmkt/engine/internal/metrics"
	"github.com/predictionmkt/engine/internal/model"
	"github.com/predictionmkt/engine/internal/money"
	"github.com/predictionmkt/engine/internal/orderstate"
	"github.com/predictionmkt/engine/internal/positionstore"
	"github.com/predictionmkt/engine/internal/validator"
)

// Orders is the persistence contract OrderExecutor needs for the
// orders table described in spec.md §6: upsert by id, unique index on
// nonce, atomic conditional update keyed by (id, status ∈ expectedSet).
type Orders interface {
	Create(ctx context.Context, order *model.Order) error
	GetByNonce(ctx context.Context, nonce string) (*model.Order, bool, error)
	Get(ctx context.Context, id string) (*model.Order, bool, error)
	Update(ctx context.Context, order *model.Order) error
	// ConditionalTransition atomically sets status to newStatus iff the
	// stored status is currently in expected; it returns whether the
	// update applied.
	ConditionalTransition(ctx context.Context, id string, expected []model.OrderStatus, newStatus model.OrderStatus) (bool, error)
}

// Notifier pushes lifecycle/price events; internal/wsfeed implements
// this.
type Notifier interface {
	NotifyOrder(order model.Order)
	NotifyPrice(marketID string, price decimal.Decimal)
}

type noopNotifier struct{}

func (noopNotifier) NotifyOrder(model.Order)             {}
func (noopNotifier) NotifyPrice(string, decimal.Decimal) {}

// Request is a raw market-order request.
type Request struct {
	UserID      string
	MarketID    string
	Outcome     string
	Quantity    int64
	ClientNonce string
}

// Service is OrderExecutor.
type Service struct {
	orders     Orders
	markets    *marketstore.Store
	positions  *positionstore.Store
	ledger     ledger.Ledger
	balances   *balance.Service
	dispatcher *dispatcher.Dispatcher
	notifier   Notifier
}

// NewService wires OrderExecutor's dependencies, in the teacher's
// constructor-injection style (trade.NewService).
func NewService(
	orders Orders,
	markets *marketstore.Store,
	positions *positionstore.Store,
	ledg ledger.Ledger,
	balances *balance.Service,
	disp *dispatcher.Dispatcher,
	notifier Notifier,
) *Service {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Service{
		orders:     orders,
		markets:    markets,
		positions:  positions,
		ledger:     ledg,
		balances:   balances,
		dispatcher: disp,
		notifier:   notifier,
	}
}

// ExecuteMarketOrder runs spec.md §4.8's algorithm. It always returns an
// Order (possibly REJECTED) unless an unrecoverable infrastructure error
// occurs, in which case err is non-nil and order may be nil.
func (s *Service) ExecuteMarketOrder(ctx context.Context, req Request) (result *model.Order, err error) {
	start := time.Now()
	defer func() {
		label := "error"
		if result != nil {
			label = string(result.Status)
		}
		metrics.OrderLatency.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}()

	nonce := req.ClientNonce
	if nonce == "" {
		nonce = fmt.Sprintf("%s:%s:%d:%s", req.UserID, req.MarketID, time.Now().UnixMilli(), uuid.NewString())
	}

	if existing, ok, err := s.orders.GetByNonce(ctx, nonce); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceError, err)
	} else if ok {
		return existing, nil
	}

	now := time.Now()
	order := &model.Order{
		ID:        uuid.NewString(),
		Nonce:     nonce,
		UserID:    req.UserID,
		MarketID:  req.MarketID,
		OrderType: "MARKET",
		Side:      "BUY",
		Quantity:  req.Quantity,
		Status:    model.OrderNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if outcome, ok := validator.NormalizeOutcome(req.Outcome); ok {
		order.Outcome = outcome
	}

	if err := s.orders.Create(ctx, order); err != nil {
		if apperr.Is(err, apperr.KindDuplicateNonce) {
			existing, ok, rerr := s.orders.GetByNonce(ctx, nonce)
			if rerr != nil {
				return nil, apperr.Wrap(apperr.KindPersistenceError, rerr)
			}
			if ok {
				return existing, nil
			}
		}
		return nil, apperr.Wrap(apperr.KindPersistenceError, err)
	}

	// Serialize everything from here on through the market's dispatcher
	// lane: market load, validation, OPEN transition, and execution.
	// runInLane records a rejection reason onto order for the expected
	// failure kinds; those come back as a REJECTED order with a nil
	// error. Any other lane error is logged and returned.
	laneErr := s.dispatcher.Submit(req.MarketID, func() error {
		return s.runInLane(ctx, order, req)
	})
	if laneErr != nil {
		if _, tagged := apperr.KindOf(laneErr); !tagged || order.Status != model.OrderRejected {
			slog.Error("executor: order execution failed", "order_id", order.ID, "error", laneErr)
			return nil, laneErr
		}
	}

	s.notifier.NotifyOrder(*order)
	return order, nil
}

// runInLane executes steps 4-7 of §4.8 inside the per-market serialized
// lane. Any error here has already been recorded onto order (REJECTED
// with reason) by the time it returns, except for infrastructure
// failures, which ExecuteMarketOrder logs and returns to its caller.
func (s *Service) runInLane(ctx context.Context, order *model.Order, req Request) error {
	market, err := s.markets.GetMarketOrLoad(ctx, req.MarketID)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceError, err)
	}
	if market == nil {
		s.reject(ctx, order, "Market not found")
		return apperr.New(apperr.KindMarketNotFound, "market not found")
	}
	if market.Status != model.MarketOpen {
		s.reject(ctx, order, "Market is not open")
		return apperr.New(apperr.KindMarketClosed, "market is not open")
	}

	vreq := validator.Request{
		UserID:    req.UserID,
		MarketID:  req.MarketID,
		Side:      "BUY",
		Outcome:   req.Outcome,
		OrderType: "MARKET",
		Quantity:  req.Quantity,
		Nonce:     order.Nonce,
	}
	if err := validator.Validate(vreq, market, s.balances); err != nil {
		s.reject(ctx, order, err.Error())
		return err
	}

	if err := orderstate.Transition(order, model.OrderOpen, time.Now()); err != nil {
		return apperr.Wrap(apperr.KindIllegalTransition, err)
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return apperr.Wrap(apperr.KindPersistenceError, err)
	}

	if err := s.execute(ctx, order, market); err != nil {
		if apperr.Is(err, apperr.KindInsufficientFunds) {
			s.reject(ctx, order, "Insufficient balance")
			return err
		}
		s.reject(ctx, order, err.Error())
		return apperr.Wrap(apperr.KindExecutionFailed, err)
	}
	return nil
}

func (s *Service) reject(ctx context.Context, order *model.Order, reason string) {
	if err := orderstate.Reject(order, reason, time.Now()); err != nil {
		slog.Error("executor: reject transition failed", "order_id", order.ID, "error", err)
		return
	}
	if err := s.orders.Update(ctx, order); err != nil {
		slog.Error("executor: failed to persist rejected order", "order_id", order.ID, "error", err)
	}
	metrics.OrdersTotal.WithLabelValues(string(model.OrderRejected)).Inc()
}

// execute is §4.8.1.
func (s *Service) execute(ctx context.Context, order *model.Order, market *model.MarketState) error {
	mm, err := lmsr.NewMarketMaker(market.LiquidityB)
	if err != nil {
		return err
	}

	qty := decimal.NewFromInt(order.Quantity)
	cost := mm.ComputeCost(market.YesShares, market.NoShares, order.Outcome, qty)
	costMoney := money.OfDecimal(cost)

	if !s.balances.HasSufficientBalance(order.UserID, costMoney) {
		return apperr.New(apperr.KindInsufficientFunds, "insufficient balance at execution time")
	}

	currentBalance, err := s.balances.Balance(ctx, order.UserID)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceError, err)
	}
	debit := costMoney.Negate()
	balanceAfter := currentBalance.Add(debit)

	tx := model.Transaction{
		ID:           uuid.NewString(),
		Nonce:        order.Nonce + ":tx",
		UserID:       order.UserID,
		MarketID:     order.MarketID,
		Type:         model.TxTradeBuy,
		Amount:       debit,
		Outcome:      order.Outcome,
		Shares:       order.Quantity,
		Timestamp:    time.Now(),
		BalanceAfter: balanceAfter,
	}
	if pricePerShare, perr := costMoney.DivideInt(order.Quantity); perr == nil {
		tx.Price = pricePerShare
	}

	stored, appendErr := s.ledger.Append(ctx, tx)
	if appendErr != nil {
		if apperr.Is(appendErr, apperr.KindDuplicateNonce) {
			metrics.LedgerAppendDuplicates.Inc()
			slog.Info("executor: ledger append was a duplicate, prior attempt already completed",
				"order_id", order.ID, "nonce", tx.Nonce)
			return nil
		}
		return apperr.Wrap(apperr.KindPersistenceError, appendErr)
	}

	if err := order.Fill(order.Quantity, costMoney, stored.ID); err != nil {
		return err
	}
	if err := s.orders.Update(ctx, order); err != nil {
		slog.Error("executor: failed to persist filled order", "order_id", order.ID, "error", err)
	}
	metrics.OrdersTotal.WithLabelValues(string(model.OrderFilled)).Inc()

	s.applyTrade(market, order)
	s.balances.Observe(order.UserID, balanceAfter)

	return nil
}

// applyTrade mutates MarketState and Position in place and marks both
// dirty for the idle-flush sweep. Safe to call only from inside the
// market's dispatcher lane.
func (s *Service) applyTrade(market *model.MarketState, order *model.Order) {
	qty := decimal.NewFromInt(order.Quantity)
	if order.Outcome == model.OutcomeYes {
		market.YesShares = market.YesShares.Add(qty)
	} else {
		market.NoShares = market.NoShares.Add(qty)
	}

	mm, err := lmsr.NewMarketMaker(market.LiquidityB)
	if err == nil {
		market.CurrentPrice = mm.Price(market.YesShares, market.NoShares)
	}
	now := time.Now()
	market.LastTradeTimestamp = now
	s.markets.MarkModified(market.MarketID, now)
	s.notifier.NotifyPrice(market.MarketID, market.CurrentPrice)
	metrics.MarketVolume.WithLabelValues(market.MarketID, string(order.Outcome)).Add(float64(order.Quantity))

	pos, err := s.positions.GetOrCreate(context.Background(), order.UserID, order.MarketID)
	if err != nil {
		slog.Error("executor: failed to load position for mutation", "user_id", order.UserID, "market_id", order.MarketID, "error", err)
		return
	}
	if order.Outcome == model.OutcomeYes {
		pos.YesQty += order.Quantity
	} else {
		pos.NoQty += order.Quantity
	}
	s.positions.MarkModified(order.UserID, order.MarketID, now)
}

// Cancel implements §4.8.2.
func (s *Service) Cancel(ctx context.Context, orderID, byUserID string) (*model.Order, error) {
	order, ok, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceError, err)
	}
	if !ok {
		return nil, apperr.New(apperr.KindOrderNotFound, "order not found")
	}
	if order.UserID != byUserID {
		return nil, apperr.New(apperr.KindNotAuthorized, "order does not belong to caller")
	}
	if !order.IsActive() {
		return nil, apperr.New(apperr.KindNotActive, "order is not active")
	}

	applied, err := s.orders.ConditionalTransition(ctx, orderID,
		[]model.OrderStatus{model.OrderOpen, model.OrderPartial}, model.OrderCancelled)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceError, err)
	}
	if !applied {
		return nil, apperr.New(apperr.KindRaceLost, "order was no longer active by the time cancellation applied")
	}

	order.Status = model.OrderCancelled
	now := time.Now()
	order.UpdatedAt = now
	order.CompletedAt = &now
	metrics.OrdersTotal.WithLabelValues(string(model.OrderCancelled)).Inc()
	s.notifier.NotifyOrder(*order)
	return order, nil
}
