package lmsr

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/predictionmkt/engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestNewMarketMaker_RejectsNonPositiveB(t *testing.T) {
	if _, err := NewMarketMaker(decimal.Zero); err != ErrInvalidLiquidity {
		t.Errorf("expected ErrInvalidLiquidity for b=0, got %v", err)
	}
	if _, err := NewMarketMaker(d(-10)); err != ErrInvalidLiquidity {
		t.Errorf("expected ErrInvalidLiquidity for b<0, got %v", err)
	}
}

func TestPrice_EqualAtOrigin(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	price := mm.Price(decimal.Zero, decimal.Zero)
	if !price.Equal(d(0.5)) {
		t.Errorf("expected price 0.5 at origin, got %s", price)
	}
}

// Spec scenario 1: b=100, fresh market, BUY YES qty=10.
func TestComputeCost_ScenarioOne(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	cost := mm.ComputeCost(decimal.Zero, decimal.Zero, model.OutcomeYes, d(10))
	expected := d(5.01249)
	if cost.Sub(expected).Abs().GreaterThan(d(0.00001)) {
		t.Errorf("cost = %s, want ≈ %s", cost, expected)
	}

	price := mm.FillPrice(decimal.Zero, decimal.Zero, model.OutcomeYes, d(10))
	expectedPrice := d(0.52498)
	if price.Sub(expectedPrice).Abs().GreaterThan(d(0.00001)) {
		t.Errorf("fill price = %s, want ≈ %s", price, expectedPrice)
	}
}

// P6: prices sum to 1 and both lie strictly within (0,1) for any finite
// pool state when b > 0.
func TestPrice_SumsToOneAndBounded(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	tolerance := d(0.0000001)
	one := decimal.NewFromInt(1)

	tests := []struct{ qYes, qNo float64 }{
		{0, 0},
		{10, 0},
		{0, 10},
		{30, 10},
		{100, 200},
		{500, 100},
		{-50, 30},
	}
	for _, tt := range tests {
		pYes := mm.Price(d(tt.qYes), d(tt.qNo))
		pNo := mm.PriceNo(d(tt.qYes), d(tt.qNo))
		sum := pYes.Add(pNo)
		if sum.Sub(one).Abs().GreaterThan(tolerance) {
			t.Errorf("prices should sum to 1: pYes=%s pNo=%s sum=%s (q=%.0f,%.0f)",
				pYes, pNo, sum, tt.qYes, tt.qNo)
		}
		if pYes.LessThanOrEqual(decimal.Zero) || pYes.GreaterThanOrEqual(one) {
			t.Errorf("pYes out of (0,1): %s", pYes)
		}
		if pNo.LessThanOrEqual(decimal.Zero) || pNo.GreaterThanOrEqual(one) {
			t.Errorf("pNo out of (0,1): %s", pNo)
		}
	}
}

func TestPrice_ExtremeQuantities_NoPanicAndBounded(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))

	tests := []struct {
		name      string
		qYes, qNo float64
	}{
		{"very large YES", 100000, 0},
		{"very large NO", 0, 100000},
		{"both large equal", 100000, 100000},
		{"large asymmetric", 100000, 50000},
		{"very negative YES", -100000, 0},
		{"very negative NO", 0, -100000},
		{"both very negative", -100000, -100000},
		{"overflow-scale values", 1e15, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price := mm.Price(d(tt.qYes), d(tt.qNo))
			if price.LessThan(decimal.Zero) || price.GreaterThan(decimal.NewFromInt(1)) {
				t.Errorf("price out of [0,1]: %s", price)
			}
		})
	}
}

// P5: computeCost is zero for delta=0 and strictly positive for delta>0,
// for either outcome.
func TestComputeCost_PositivityProperty(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))

	if cost := mm.ComputeCost(decimal.Zero, decimal.Zero, model.OutcomeYes, decimal.Zero); !cost.IsZero() {
		t.Errorf("computeCost with delta=0 should be exactly zero, got %s", cost)
	}
	if cost := mm.ComputeCost(decimal.Zero, decimal.Zero, model.OutcomeNo, decimal.Zero); !cost.IsZero() {
		t.Errorf("computeCost with delta=0 should be exactly zero, got %s", cost)
	}

	states := []struct{ qYes, qNo float64 }{
		{0, 0}, {10, 0}, {0, 10}, {30, 10}, {100, 200}, {500, 100},
	}
	deltas := []float64{0.001, 1, 10, 100, 10000}
	for _, s := range states {
		for _, delta := range deltas {
			for _, outcome := range []model.Outcome{model.OutcomeYes, model.OutcomeNo} {
				cost := mm.ComputeCost(d(s.qYes), d(s.qNo), outcome, d(delta))
				if cost.LessThanOrEqual(decimal.Zero) {
					t.Errorf("computeCost(%v,%v,%s,%v) should be positive, got %s",
						s.qYes, s.qNo, outcome, delta, cost)
				}
			}
		}
	}
}

func TestComputeCost_PathIndependence(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	tolerance := d(0.0000001)

	cost1 := mm.ComputeCost(decimal.Zero, decimal.Zero, model.OutcomeYes, d(10))
	afterFirst := d(10)
	cost2 := mm.ComputeCost(afterFirst, decimal.Zero, model.OutcomeYes, d(5))
	sequential := cost1.Add(cost2)

	direct := mm.ComputeCost(decimal.Zero, decimal.Zero, model.OutcomeYes, d(15))

	if sequential.Sub(direct).Abs().GreaterThan(tolerance) {
		t.Errorf("LMSR should be path-independent: sequential=%s direct=%s", sequential, direct)
	}
}

func TestComputeCost_Convexity(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	cost1 := mm.ComputeCost(decimal.Zero, decimal.Zero, model.OutcomeYes, d(10))
	cost2 := mm.ComputeCost(d(10), decimal.Zero, model.OutcomeYes, d(10))
	if cost2.LessThanOrEqual(cost1) {
		t.Errorf("second batch should cost more (convexity): first=%s second=%s", cost1, cost2)
	}
}

func TestComputeCost_SymmetricAtOrigin(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	costYes := mm.ComputeCost(decimal.Zero, decimal.Zero, model.OutcomeYes, d(10))
	costNo := mm.ComputeCost(decimal.Zero, decimal.Zero, model.OutcomeNo, d(10))
	if !costYes.Equal(costNo) {
		t.Errorf("expected symmetric cost at origin: YES=%s NO=%s", costYes, costNo)
	}
}

func TestMaxLoss_Bounded(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	maxLoss := mm.MaxLoss()

	initialCost := mm.Cost(decimal.Zero, decimal.Zero)
	highQCost := mm.Cost(d(10000), decimal.Zero)

	traderPaid := highQCost.Sub(initialCost)
	mmLoss := decimal.NewFromInt(10000).Sub(traderPaid)

	if mmLoss.GreaterThan(maxLoss) {
		t.Errorf("market maker loss %s exceeds theoretical bound %s", mmLoss, maxLoss)
	}
}

func TestFillPrice_ZeroDelta(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	fill := mm.FillPrice(decimal.Zero, decimal.Zero, model.OutcomeYes, decimal.Zero)
	if !fill.Equal(d(0.5)) {
		t.Errorf("zero-delta fill price should equal current price 0.5, got %s", fill)
	}
}

func TestFillPrice_PositiveForBothOutcomes(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))

	yesFill := mm.FillPrice(decimal.Zero, decimal.Zero, model.OutcomeYes, d(10))
	if yesFill.LessThanOrEqual(decimal.Zero) {
		t.Errorf("YES fill price should be positive, got %s", yesFill)
	}

	noFill := mm.FillPrice(decimal.Zero, decimal.Zero, model.OutcomeNo, d(10))
	if noFill.LessThanOrEqual(decimal.Zero) {
		t.Errorf("NO fill price should be positive, got %s", noFill)
	}
}

func TestPriceFor_MatchesPriceAndPriceNo(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	qYes, qNo := d(30), d(10)
	if got := mm.PriceFor(qYes, qNo, model.OutcomeYes); !got.Equal(mm.Price(qYes, qNo)) {
		t.Errorf("PriceFor(YES) = %s, want %s", got, mm.Price(qYes, qNo))
	}
	if got := mm.PriceFor(qYes, qNo, model.OutcomeNo); !got.Equal(mm.PriceNo(qYes, qNo)) {
		t.Errorf("PriceFor(NO) = %s, want %s", got, mm.PriceNo(qYes, qNo))
	}
}

func TestLogSumExp_NoOverflow(t *testing.T) {
	result := logSumExp(1000, 1001)
	if math.IsNaN(result) || math.IsInf(result, 1) {
		t.Errorf("logSumExp should not overflow: got %f", result)
	}
	if result < 1000 || result > 1002 {
		t.Errorf("logSumExp(1000,1001) should be in [1000,1002], got %f", result)
	}
}

func TestLogSumExp_SingleValue(t *testing.T) {
	result := logSumExp(5.0)
	if math.Abs(result-5.0) > 1e-10 {
		t.Errorf("logSumExp(5) should be 5, got %f", result)
	}
}

func TestLogSumExp_EqualValues(t *testing.T) {
	result := logSumExp(3, 3)
	expected := 3.0 + math.Log(2)
	if math.Abs(result-expected) > 1e-10 {
		t.Errorf("logSumExp(3,3) should be %f, got %f", expected, result)
	}
}

func TestB_ReturnsLiquidityParameter(t *testing.T) {
	mm, _ := NewMarketMaker(d(250))
	if !mm.B().Equal(d(250)) {
		t.Errorf("B() = %s, want 250", mm.B())
	}
}
