package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/predictionmkt/engine/internal/apperr"
	"github.com/predictionmkt/engine/internal/model"
	"github.com/predictionmkt/engine/internal/money"
)

// pgUniqueViolation is Postgres's SQLSTATE for a unique-index conflict
// (23505), used by IsDuplicateKey to classify a nonce collision without
// the caller needing to know pgx's error shape.
const pgUniqueViolation = "23505"

// IsDuplicateKey reports whether err is a Postgres unique-constraint
// violation, generalizing the teacher's bare fmt.Errorf-on-any-failure
// CreateMarket into a classifiable error so Create/Append can map
// it onto apperr.KindDuplicateNonce instead of a generic persistence
// failure.
func IsDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// PostgresStore implements Store using PostgreSQL as the source of
// truth. All monetary and pool-quantity values are stored as NUMERIC
// and round-tripped through their string representation, exactly as
// the teacher's PostgresStore does for q_yes/q_no/price_yes/price_no.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Orders ---

func (s *PostgresStore) Create(ctx context.Context, order *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, nonce, user_id, market_id, order_type, side, outcome, quantity,
		                      filled_quantity, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		order.ID, order.Nonce, order.UserID, order.MarketID, order.OrderType, order.Side,
		order.Outcome, order.Quantity, order.FilledQuantity, order.Status,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil && IsDuplicateKey(err) {
		return apperr.Wrap(apperr.KindDuplicateNonce, err).WithField("nonce", order.Nonce)
	}
	return err
}

func (s *PostgresStore) GetByNonce(ctx context.Context, nonce string) (*model.Order, bool, error) {
	return s.scanOneOrder(ctx,
		`SELECT id, nonce, user_id, market_id, order_type, side, outcome, quantity, filled_quantity,
		        total_cost, average_fill_price, status, created_at, updated_at, completed_at,
		        rejection_reason, transaction_id
		 FROM orders WHERE nonce = $1`, nonce)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Order, bool, error) {
	return s.scanOneOrder(ctx,
		`SELECT id, nonce, user_id, market_id, order_type, side, outcome, quantity, filled_quantity,
		        total_cost, average_fill_price, status, created_at, updated_at, completed_at,
		        rejection_reason, transaction_id
		 FROM orders WHERE id = $1`, id)
}

func (s *PostgresStore) scanOneOrder(ctx context.Context, query string, arg string) (*model.Order, bool, error) {
	var o model.Order
	var totalCost, avgFillPrice *string

	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&o.ID, &o.Nonce, &o.UserID, &o.MarketID, &o.OrderType, &o.Side, &o.Outcome, &o.Quantity,
		&o.FilledQuantity, &totalCost, &avgFillPrice, &o.Status, &o.CreatedAt, &o.UpdatedAt,
		&o.CompletedAt, &o.RejectionReason, &o.TransactionID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get order: %w", err)
	}

	if totalCost != nil {
		m, merr := money.Of(*totalCost)
		if merr != nil {
			return nil, false, fmt.Errorf("get order %s: parse total_cost: %w", o.ID, merr)
		}
		o.TotalCost = &m
	}
	if avgFillPrice != nil {
		m, merr := money.Of(*avgFillPrice)
		if merr != nil {
			return nil, false, fmt.Errorf("get order %s: parse average_fill_price: %w", o.ID, merr)
		}
		o.AverageFillPrice = &m
	}
	return &o, true, nil
}

func (s *PostgresStore) Update(ctx context.Context, order *model.Order) error {
	var totalCost, avgFillPrice *string
	if order.TotalCost != nil {
		s := order.TotalCost.String()
		totalCost = &s
	}
	if order.AverageFillPrice != nil {
		s := order.AverageFillPrice.String()
		avgFillPrice = &s
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE orders SET filled_quantity = $2, total_cost = $3::NUMERIC, average_fill_price = $4::NUMERIC,
		                    status = $5, updated_at = $6, completed_at = $7, rejection_reason = $8,
		                    transaction_id = $9
		 WHERE id = $1`,
		order.ID, order.FilledQuantity, totalCost, avgFillPrice, order.Status, order.UpdatedAt,
		order.CompletedAt, order.RejectionReason, order.TransactionID,
	)
	return err
}

func (s *PostgresStore) ConditionalTransition(ctx context.Context, id string, expected []model.OrderStatus, newStatus model.OrderStatus) (bool, error) {
	expectedStr := make([]string, len(expected))
	for i, e := range expected {
		expectedStr[i] = string(e)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1 AND status = ANY($3)`,
		id, newStatus, expectedStr,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// --- Ledger ---

func (s *PostgresStore) Append(ctx context.Context, tx model.Transaction) (model.Transaction, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (id, nonce, user_id, market_id, type, amount, outcome, shares,
		                            price, timestamp, balance_after)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9::NUMERIC, $10, $11::NUMERIC)`,
		tx.ID, tx.Nonce, tx.UserID, tx.MarketID, tx.Type, tx.Amount.String(), tx.Outcome, tx.Shares,
		tx.Price.String(), tx.Timestamp, tx.BalanceAfter.String(),
	)
	if err != nil {
		if IsDuplicateKey(err) {
			return model.Transaction{}, apperr.Wrap(apperr.KindDuplicateNonce, err).WithField("nonce", tx.Nonce)
		}
		return model.Transaction{}, err
	}
	return tx, nil
}

func (s *PostgresStore) LatestFor(ctx context.Context, userID string) (model.Transaction, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, nonce, user_id, market_id, type, amount::TEXT, outcome, shares, price::TEXT,
		        timestamp, balance_after::TEXT
		 FROM transactions WHERE user_id = $1 ORDER BY timestamp DESC LIMIT 1`, userID)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Transaction{}, false, nil
	}
	if err != nil {
		return model.Transaction{}, false, err
	}
	return tx, true, nil
}

func (s *PostgresStore) ScanFor(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, nonce, user_id, market_id, type, amount::TEXT, outcome, shares, price::TEXT,
		        timestamp, balance_after::TEXT
		 FROM transactions WHERE user_id = $1 ORDER BY timestamp ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

type pgxScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row pgxScanner) (model.Transaction, error) {
	var tx model.Transaction
	var amountS, priceS, balanceAfterS string

	if err := row.Scan(&tx.ID, &tx.Nonce, &tx.UserID, &tx.MarketID, &tx.Type, &amountS, &tx.Outcome,
		&tx.Shares, &priceS, &tx.Timestamp, &balanceAfterS); err != nil {
		return model.Transaction{}, err
	}

	var err error
	if tx.Amount, err = money.Of(amountS); err != nil {
		return model.Transaction{}, fmt.Errorf("scan transaction %s: amount: %w", tx.ID, err)
	}
	if tx.Price, err = money.Of(priceS); err != nil {
		return model.Transaction{}, fmt.Errorf("scan transaction %s: price: %w", tx.ID, err)
	}
	if tx.BalanceAfter, err = money.Of(balanceAfterS); err != nil {
		return model.Transaction{}, fmt.Errorf("scan transaction %s: balance_after: %w", tx.ID, err)
	}
	return tx, nil
}

// --- Markets ---

func (s *PostgresStore) GetMarketState(ctx context.Context, marketID string) (*model.MarketState, error) {
	var m model.MarketState
	var yesShares, noShares, liquidityB, currentPrice string

	err := s.pool.QueryRow(ctx,
		`SELECT market_id, yes_shares::TEXT, no_shares::TEXT, liquidity_b::TEXT, current_price::TEXT,
		        status, last_trade_timestamp, last_persisted_timestamp, created_at
		 FROM market_states WHERE market_id = $1`, marketID).
		Scan(&m.MarketID, &yesShares, &noShares, &liquidityB, &currentPrice, &m.Status,
			&m.LastTradeTimestamp, &m.LastPersistedTimestamp, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get market state %s: %w", marketID, err)
	}

	m.YesShares, _ = decimal.NewFromString(yesShares)
	m.NoShares, _ = decimal.NewFromString(noShares)
	m.LiquidityB, _ = decimal.NewFromString(liquidityB)
	m.CurrentPrice, _ = decimal.NewFromString(currentPrice)
	return &m, nil
}

func (s *PostgresStore) SaveMarketState(ctx context.Context, state *model.MarketState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO market_states (market_id, yes_shares, no_shares, liquidity_b, current_price,
		                             status, last_trade_timestamp, last_persisted_timestamp, created_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7, $8, $9)
		 ON CONFLICT (market_id) DO UPDATE SET
		   yes_shares = EXCLUDED.yes_shares, no_shares = EXCLUDED.no_shares,
		   current_price = EXCLUDED.current_price, status = EXCLUDED.status,
		   last_trade_timestamp = EXCLUDED.last_trade_timestamp,
		   last_persisted_timestamp = EXCLUDED.last_persisted_timestamp`,
		state.MarketID, state.YesShares.String(), state.NoShares.String(), state.LiquidityB.String(),
		state.CurrentPrice.String(), state.Status, state.LastTradeTimestamp,
		state.LastPersistedTimestamp, state.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListMarketStates(ctx context.Context) ([]model.MarketState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, yes_shares::TEXT, no_shares::TEXT, liquidity_b::TEXT, current_price::TEXT,
		        status, last_trade_timestamp, last_persisted_timestamp, created_at
		 FROM market_states ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MarketState
	for rows.Next() {
		var m model.MarketState
		var yesShares, noShares, liquidityB, currentPrice string
		if err := rows.Scan(&m.MarketID, &yesShares, &noShares, &liquidityB, &currentPrice, &m.Status,
			&m.LastTradeTimestamp, &m.LastPersistedTimestamp, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.YesShares, _ = decimal.NewFromString(yesShares)
		m.NoShares, _ = decimal.NewFromString(noShares)
		m.LiquidityB, _ = decimal.NewFromString(liquidityB)
		m.CurrentPrice, _ = decimal.NewFromString(currentPrice)
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Positions ---

func (s *PostgresStore) GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error) {
	var p model.Position
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, market_id, yes_qty, no_qty FROM positions WHERE user_id = $1 AND market_id = $2`,
		userID, marketID).
		Scan(&p.UserID, &p.MarketID, &p.YesQty, &p.NoQty)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", userID, marketID, err)
	}
	return &p, nil
}

func (s *PostgresStore) SavePosition(ctx context.Context, position *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (user_id, market_id, yes_qty, no_qty)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, market_id) DO UPDATE SET yes_qty = EXCLUDED.yes_qty, no_qty = EXCLUDED.no_qty`,
		position.UserID, position.MarketID, position.YesQty, position.NoQty,
	)
	return err
}
