// Package lmsr implements the Logarithmic Market Scoring Rule (LMSR)
// automated market maker for binary YES/NO prediction markets.
//
// The LMSR was proposed by Robin Hanson and provides:
//   - Bounded loss for the market maker (capped at b * ln(2) for binary
//     markets)
//   - Continuous pricing with infinite liquidity
//   - Path-independent cost function
//
// All public signatures operate on shopspring/decimal — never float64 —
// for the quantities and cost/price results that feed money decisions.
// The log-sum-exp kernel itself runs in float64 (as any exp/log
// computation must), with the max-subtraction trick applied before the
// exponential so it never overflows, and the result is immediately
// converted back to decimal.
//
// Reference: Hanson, R. (2003) "Combinatorial Information Market Design"
package lmsr

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"github.com/predictionmkt/engine/internal/model"
)

// ErrInvalidLiquidity is returned when b <= 0.
var ErrInvalidLiquidity = errors.New("lmsr: liquidity parameter b must be positive")

// CostScale is the number of decimal places for cost/price rounding.
const CostScale int32 = 8

// MinPrice and MaxPrice bound Price's output strictly within (0, 1), per
// invariant P6. Rounding the price to CostScale at extreme share
// imbalance can otherwise land exactly on 0 or 1; clamping to the
// smallest/largest representable value at CostScale keeps the price a
// valid probability for every downstream cost calculation.
var (
	MinPrice = decimal.New(1, -CostScale)
	MaxPrice = decimal.NewFromInt(1).Sub(MinPrice)
)

// MarketMaker implements the LMSR cost function for binary outcome
// markets. It is stateless — market quantities are passed as arguments,
// never stored.
type MarketMaker struct {
	b decimal.Decimal
}

// NewMarketMaker creates an LMSR market maker with the given liquidity
// parameter b. Higher b means more liquidity and lower price impact per
// trade. Maximum market-maker loss is bounded by b * ln(2).
func NewMarketMaker(b decimal.Decimal) (*MarketMaker, error) {
	if b.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidLiquidity
	}
	return &MarketMaker{b: b}, nil
}

// B returns the liquidity parameter.
func (m *MarketMaker) B() decimal.Decimal {
	return m.b
}

// logSumExp computes ln(Σ exp(x_i)) using the log-sum-exp trick to
// prevent floating-point overflow: exp(x) overflows float64 once
// x > ~709, so the running max is subtracted before exponentiating.
//
// LSE(x) = max(x) + ln(Σ exp(x_i - max(x)))
func logSumExp(xs ...float64) float64 {
	maxVal := xs[0]
	for _, x := range xs[1:] {
		if x > maxVal {
			maxVal = x
		}
	}
	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - maxVal)
	}
	return maxVal + math.Log(sum)
}

// Cost computes the LMSR cost function:
//
//	C(q) = b * (m + ln(exp(qYes/b - m) + exp(qNo/b - m))), m = max(qYes,qNo)/b
//
// The m subtraction is required to prevent exp overflow; omitting it is
// non-conforming.
func (m *MarketMaker) Cost(qYes, qNo decimal.Decimal) decimal.Decimal {
	bf := m.b.InexactFloat64()
	qy := qYes.InexactFloat64() / bf
	qn := qNo.InexactFloat64() / bf

	cost := bf * logSumExp(qy, qn)
	return decimal.NewFromFloat(cost).Round(CostScale)
}

// Price computes the instantaneous probability for the YES outcome:
//
//	p_yes = exp(qYes/b - m) / (exp(qYes/b - m) + exp(qNo/b - m))
func (m *MarketMaker) Price(qYes, qNo decimal.Decimal) decimal.Decimal {
	bf := m.b.InexactFloat64()
	qy := qYes.InexactFloat64() / bf
	qn := qNo.InexactFloat64() / bf

	mm := math.Max(qy, qn)
	expYes := math.Exp(qy - mm)
	expNo := math.Exp(qn - mm)

	price := expYes / (expYes + expNo)
	rounded := decimal.NewFromFloat(price).Round(CostScale)
	return clampPrice(rounded)
}

// clampPrice keeps p within (MinPrice, MaxPrice) inclusive, preventing a
// rounded instantaneous price of exactly 0 or 1.
func clampPrice(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(MinPrice) {
		return MinPrice
	}
	if p.GreaterThan(MaxPrice) {
		return MaxPrice
	}
	return p
}

// PriceNo returns the instantaneous price for the NO outcome: 1 - p_yes.
func (m *MarketMaker) PriceNo(qYes, qNo decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Sub(m.Price(qYes, qNo))
}

// PriceFor returns the instantaneous price for the given outcome.
func (m *MarketMaker) PriceFor(qYes, qNo decimal.Decimal, outcome model.Outcome) decimal.Decimal {
	if outcome == model.OutcomeYes {
		return m.Price(qYes, qNo)
	}
	return m.PriceNo(qYes, qNo)
}

// ComputeCost computes the cost to buy delta shares of outcome, starting
// from pool state (qYes, qNo):
//
//	computeCost(qYes, qNo, YES, Δ) = Cost(qYes+Δ, qNo) - Cost(qYes, qNo)
//	computeCost(qYes, qNo, NO,  Δ) = Cost(qYes, qNo+Δ) - Cost(qYes, qNo)
//
// delta must be > 0; the result is non-negative for any legal state, and
// exactly zero when delta == 0.
func (m *MarketMaker) ComputeCost(qYes, qNo decimal.Decimal, outcome model.Outcome, delta decimal.Decimal) decimal.Decimal {
	if delta.IsZero() {
		return decimal.Zero
	}
	before := m.Cost(qYes, qNo)
	var after decimal.Decimal
	if outcome == model.OutcomeYes {
		after = m.Cost(qYes.Add(delta), qNo)
	} else {
		after = m.Cost(qYes, qNo.Add(delta))
	}
	return after.Sub(before)
}

// FillPrice returns the average execution price per share for a trade
// of delta shares of outcome against pool state (qYes, qNo).
func (m *MarketMaker) FillPrice(qYes, qNo decimal.Decimal, outcome model.Outcome, delta decimal.Decimal) decimal.Decimal {
	if delta.IsZero() {
		return m.PriceFor(qYes, qNo, outcome)
	}
	cost := m.ComputeCost(qYes, qNo, outcome, delta)
	return cost.DivRound(delta, CostScale)
}

// MaxLoss returns the maximum possible loss for the market maker:
// b * ln(2), for a binary market.
func (m *MarketMaker) MaxLoss() decimal.Decimal {
	bf := m.b.InexactFloat64()
	loss := bf * math.Log(2)
	return decimal.NewFromFloat(loss).Round(CostScale)
}
