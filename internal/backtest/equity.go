package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratos-labs/quant-backend/pkg/types"
)

// EquityTracker marks open positions to the latest observed price after
// each clock tick and records the equity curve with drawdown against the
// running peak.
type EquityTracker struct {
	marks map[string]decimal.Decimal
	peak  decimal.Decimal
	curve []types.EquityPoint
}

// NewEquityTracker starts a tracker with the peak seeded at the run's
// initial capital.
func NewEquityTracker(initialCapital decimal.Decimal) *EquityTracker {
	return &EquityTracker{
		marks: make(map[string]decimal.Decimal),
		peak:  initialCapital,
	}
}

// Mark records the latest observed close for a symbol.
func (t *EquityTracker) Mark(symbol string, price decimal.Decimal) {
	t.marks[symbol] = price
}

// Snapshot appends one equity point for the tick. Position value sums
// signed quantity times the latest mark over symbols with an available
// price, so short exposure contributes negatively.
func (t *EquityTracker) Snapshot(ts time.Time, cash decimal.Decimal, positions map[string]types.Position) types.EquityPoint {
	positionValue := decimal.Zero
	for symbol, pos := range positions {
		if pos.IsFlat() {
			continue
		}
		if mark, ok := t.marks[symbol]; ok {
			positionValue = positionValue.Add(pos.Quantity.Mul(mark))
		}
	}

	equity := cash.Add(positionValue)
	if equity.GreaterThan(t.peak) {
		t.peak = equity
	}

	drawdown := t.peak.Sub(equity)
	drawdownPct := decimal.Zero
	if t.peak.IsPositive() {
		drawdownPct = drawdown.Div(t.peak)
	}

	point := types.EquityPoint{
		Timestamp:     ts,
		Equity:        equity,
		Cash:          cash,
		PositionValue: positionValue,
		Drawdown:      drawdown,
		DrawdownPct:   drawdownPct,
	}
	t.curve = append(t.curve, point)
	return point
}

// Peak returns the running equity peak.
func (t *EquityTracker) Peak() decimal.Decimal { return t.peak }

// Curve returns the recorded equity curve.
func (t *EquityTracker) Curve() []types.EquityPoint { return t.curve }
