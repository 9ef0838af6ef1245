package backtest

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stratos-labs/quant-backend/pkg/types"
)

// deltaEpsilon is the smallest position change worth executing.
var deltaEpsilon = decimal.New(1, -9)

// DecisionDelta translates a strategy decision into the signed quantity
// change it requires given the currently held signed quantity. This is
// the single diff-to-order translation shared by the backtest and live
// paths.
func DecisionDelta(d types.Decision, held decimal.Decimal) decimal.Decimal {
	switch dec := d.(type) {
	case types.TargetPosition:
		var desired decimal.Decimal
		switch dec.Side {
		case types.PositionSideLong:
			desired = dec.Quantity
		case types.PositionSideShort:
			desired = dec.Quantity.Neg()
		case types.PositionSideFlat:
			desired = decimal.Zero
		}
		return desired.Sub(held)
	case types.OrderIntent:
		if dec.Side == types.SideSell {
			return dec.Quantity.Neg()
		}
		return dec.Quantity
	}
	return decimal.Zero
}

// DecisionReason extracts the free-form reason carried by a decision.
func DecisionReason(d types.Decision) string {
	switch dec := d.(type) {
	case types.TargetPosition:
		return dec.Reason
	case types.OrderIntent:
		return dec.Reason
	}
	return ""
}

// Executor routes strategy decisions into ledger fills under the cost
// model. One executor exists per run and owns nothing shared.
type Executor struct {
	logger *zap.Logger
	ledger *Ledger
	cost   *CostModel
	seq    int
}

// NewExecutor creates an executor bound to a run's ledger and cost model.
func NewExecutor(logger *zap.Logger, ledger *Ledger, cost *CostModel) *Executor {
	return &Executor{logger: logger, ledger: ledger, cost: cost}
}

// Execute commits a decision against the ledger at price (the execution
// bar's open, or the final bar's close) and returns the resulting trade.
// It returns nil when the delta is negligible or a buy is unaffordable;
// an unaffordable buy is skipped with a warning, never an error, so the
// loop models a broker-side rejection without side effects.
func (e *Executor) Execute(ts time.Time, d types.Decision, price, barVolume decimal.Decimal) *types.Trade {
	symbol := types.DecisionSymbol(d)
	delta := DecisionDelta(d, e.ledger.Position(symbol).Quantity)
	if delta.Abs().LessThan(deltaEpsilon) {
		return nil
	}

	side := types.SideBuy
	if delta.Sign() < 0 {
		side = types.SideSell
	}
	quantity := delta.Abs()

	filled, commission := e.cost.Apply(price, quantity, side, barVolume)
	value := filled.Mul(quantity)

	if side == types.SideBuy {
		cost := value.Add(commission)
		if cost.GreaterThan(e.ledger.Cash()) {
			e.logger.Warn("insufficient cash, trade skipped",
				zap.String("symbol", symbol),
				zap.String("quantity", quantity.String()),
				zap.String("cost", cost.String()),
				zap.String("cash", e.ledger.Cash().String()),
			)
			return nil
		}
	}

	realized, closed := e.ledger.ApplyFill(symbol, side, quantity, filled)
	if side == types.SideBuy {
		e.ledger.Debit(value.Add(commission))
	} else {
		e.ledger.Credit(value.Sub(commission))
	}

	// Sequential IDs keep identical runs byte-identical.
	e.seq++

	return &types.Trade{
		ID:             fmt.Sprintf("t-%06d", e.seq),
		Timestamp:      ts,
		Symbol:         symbol,
		Side:           side,
		Quantity:       quantity,
		Price:          filled,
		Commission:     commission,
		RealizedPnL:    realized,
		ClosedQuantity: closed,
		Reason:         DecisionReason(d),
	}
}
