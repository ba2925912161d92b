// Package validator implements OrderValidator: the side-effect-free
// pre-checks an incoming order must pass before OrderExecutor is allowed
// to touch the ledger or a market's LMSR pool.
//
// Grounded on original_source/service/OrderValidator.java, translated
// into the teacher's ValidationResult-less, error-returning idiom (see
// lmsr's sentinel-error style) rather than the Java class's mutable
// ValidationResult accumulator.
package validator

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/predictionmkt/engine/internal/apperr"
	"github.com/predictionmkt/engine/internal/model"
	"github.com/predictionmkt/engine/internal/money"
)

const (
	MinQuantity int64 = 1
	MaxQuantity int64 = 1_000_000

	slippageBuffer = "1.10"
)

var (
	minCost = money.MustOf("0.01")
	maxCost = money.MustOf("1000000.00")
)

// Request is the raw, unvalidated order request.
type Request struct {
	UserID    string
	MarketID  string
	Side      string
	Outcome   string
	OrderType string
	Quantity  int64
	Nonce     string
}

// BalanceSource is the subset of balance.Service the validator needs.
type BalanceSource interface {
	HasSufficientBalance(userID string, amount money.Money) bool
}

// Validate runs every OrderValidator constraint against req and the
// current market state, returning a concatenated, order-preserving error
// list wrapped in apperr.KindValidationFailed on any failure. It never
// mutates anything.
func Validate(req Request, market *model.MarketState, balances BalanceSource) error {
	var errs []string

	if strings.TrimSpace(req.UserID) == "" {
		errs = append(errs, "userId must not be empty")
	}
	if strings.TrimSpace(req.MarketID) == "" {
		errs = append(errs, "marketId must not be empty")
	}
	if strings.TrimSpace(req.Side) == "" {
		errs = append(errs, "side must not be empty")
	}
	if strings.TrimSpace(req.Outcome) == "" {
		errs = append(errs, "outcome must not be empty")
	}
	if strings.TrimSpace(req.Nonce) == "" {
		errs = append(errs, "nonce must not be empty")
	}

	if req.Quantity < MinQuantity {
		errs = append(errs, fmt.Sprintf("Quantity must be at least %d", MinQuantity))
	} else if req.Quantity > MaxQuantity {
		errs = append(errs, fmt.Sprintf("Quantity cannot exceed %d", MaxQuantity))
	}

	outcome, outcomeOK := NormalizeOutcome(req.Outcome)
	if req.Outcome != "" && !outcomeOK {
		errs = append(errs, "outcome must be YES or NO")
	}

	if req.OrderType != "" && req.OrderType != "MARKET" {
		errs = append(errs, "orderType must be MARKET; LIMIT is not supported")
	}

	if market == nil {
		errs = append(errs, "market does not exist")
	}

	if strings.EqualFold(req.Side, "BUY") && market != nil && outcomeOK {
		estimate := estimateOrderCost(market, outcome, req.Quantity)
		if estimate.LessThan(minCost) || estimate.GreaterThan(maxCost) {
			errs = append(errs, fmt.Sprintf("estimated cost %s outside allowed range [%s, %s]", estimate, minCost, maxCost))
		} else if balances != nil && !balances.HasSufficientBalance(req.UserID, estimate) {
			errs = append(errs, fmt.Sprintf("Insufficient balance: need ~%s", estimate))
		}
	}

	if len(errs) > 0 {
		return apperr.New(apperr.KindValidationFailed, strings.Join(errs, "; "))
	}
	return nil
}

// NormalizeOutcome canonicalizes a case-insensitive YES/NO string, for
// reuse by callers (e.g. OrderExecutor) that must resolve the same
// outcome again after validation succeeds.
func NormalizeOutcome(raw string) (model.Outcome, bool) {
	switch strings.ToUpper(raw) {
	case string(model.OutcomeYes):
		return model.OutcomeYes, true
	case string(model.OutcomeNo):
		return model.OutcomeNo, true
	default:
		return "", false
	}
}

// estimateOrderCost applies the 10% slippage buffer: quantity ·
// currentPrice · 1.10 for YES, quantity · (1 − currentPrice) · 1.10 for
// NO. The buffer deliberately overestimates so the authoritative check
// in OrderExecutor stays strict.
func estimateOrderCost(market *model.MarketState, outcome model.Outcome, quantity int64) money.Money {
	price := market.CurrentPrice
	if outcome == model.OutcomeNo {
		price = decimal.NewFromInt(1).Sub(price)
	}
	buffer, _ := decimal.NewFromString(slippageBuffer)
	raw := decimal.NewFromInt(quantity).Mul(price).Mul(buffer)
	return money.OfDecimal(raw)
}
