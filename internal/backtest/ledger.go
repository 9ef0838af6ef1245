// Package backtest provides the deterministic bar-driven simulation core.
package backtest

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/stratos-labs/quant-backend/pkg/types"
)

// Ledger owns the per-symbol position state machine and the account cash
// balance for a single run. A run's simulation loop is the sole owner;
// the ledger is never shared across concurrent runs.
type Ledger struct {
	cash      decimal.Decimal
	positions map[string]*types.Position
	realized  decimal.Decimal
}

// NewLedger creates a ledger with the given starting cash.
func NewLedger(initialCash decimal.Decimal) *Ledger {
	return &Ledger{
		cash:      initialCash,
		positions: make(map[string]*types.Position),
	}
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal { return l.cash }

// Debit subtracts amount from cash.
func (l *Ledger) Debit(amount decimal.Decimal) { l.cash = l.cash.Sub(amount) }

// Credit adds amount to cash.
func (l *Ledger) Credit(amount decimal.Decimal) { l.cash = l.cash.Add(amount) }

// RealizedPnL returns the running realized total across all symbols.
// It accumulates on closes and is never decremented elsewhere.
func (l *Ledger) RealizedPnL() decimal.Decimal { return l.realized }

// Position returns a copy of the position for symbol; a flat zero-value
// position if the symbol has never traded.
func (l *Ledger) Position(symbol string) types.Position {
	if p, ok := l.positions[symbol]; ok {
		return *p
	}
	return types.Position{Symbol: symbol}
}

// Positions returns a deep copy of all positions keyed by symbol, so
// callers can retain the snapshot after the ledger is discarded.
func (l *Ledger) Positions() map[string]types.Position {
	out := make(map[string]types.Position, len(l.positions))
	for sym, p := range l.positions {
		out[sym] = *p
	}
	return out
}

// OpenPositions returns the number of non-flat positions.
func (l *Ledger) OpenPositions() int {
	n := 0
	for _, p := range l.positions {
		if !p.IsFlat() {
			n++
		}
	}
	return n
}

// Symbols returns all symbols the ledger has seen, sorted.
func (l *Ledger) Symbols() []string {
	syms := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

// ApplyFill mutates the position for symbol with a fill and returns the
// PnL realized by the fill's closing portion. The realized amount (and
// how much exposure was closed) also accumulates into the running total.
//
// Transition cases:
//   - flat -> open: take the signed quantity at price, nothing realized
//   - same direction: quantity-weighted average entry price
//   - opposite, |fill| <= |held|: close that much at price
//   - opposite, |fill| > |held|: close everything, reopen the remainder
//     in the new direction at price
//
// Quantity must be positive and price non-negative; violations are
// programming errors and panic, because every downstream metric leans on
// this arithmetic.
func (l *Ledger) ApplyFill(symbol string, side types.Side, quantity, price decimal.Decimal) (realized, closed decimal.Decimal) {
	if !quantity.IsPositive() {
		panic(fmt.Sprintf("ledger: non-positive fill quantity %s for %s", quantity, symbol))
	}
	if price.IsNegative() {
		panic(fmt.Sprintf("ledger: negative fill price %s for %s", price, symbol))
	}

	pos, ok := l.positions[symbol]
	if !ok {
		pos = &types.Position{Symbol: symbol}
		l.positions[symbol] = pos
	}
	if pos.Quantity.IsZero() != pos.AvgPrice.IsZero() {
		panic(fmt.Sprintf("ledger: %s avg price %s inconsistent with quantity %s", symbol, pos.AvgPrice, pos.Quantity))
	}

	signed := quantity
	if side == types.SideSell {
		signed = quantity.Neg()
	}

	switch {
	case pos.Quantity.IsZero():
		// Flat -> open.
		pos.Quantity = signed
		pos.AvgPrice = price

	case pos.Quantity.Sign() == signed.Sign():
		// Same-direction add: quantity-weighted average entry.
		total := pos.Quantity.Add(signed)
		pos.AvgPrice = pos.Quantity.Mul(pos.AvgPrice).Add(signed.Mul(price)).Div(total).Abs()
		pos.Quantity = total

	case signed.Abs().LessThanOrEqual(pos.Quantity.Abs()):
		// Partial or full close.
		closed = signed.Abs()
		realized = closePnL(pos.Quantity, pos.AvgPrice, price, closed)
		pos.Quantity = pos.Quantity.Add(signed)
		if pos.Quantity.IsZero() {
			pos.AvgPrice = decimal.Zero
		}

	default:
		// Reverse: close the whole held quantity, reopen the remainder.
		closed = pos.Quantity.Abs()
		realized = closePnL(pos.Quantity, pos.AvgPrice, price, closed)
		pos.Quantity = pos.Quantity.Add(signed)
		pos.AvgPrice = price
	}

	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	l.realized = l.realized.Add(realized)
	return realized, closed
}

// closePnL computes the PnL of closing closedQty units of a held signed
// position with entry avgPrice at price. Long closes gain when price
// rises, short closes when it falls.
func closePnL(held, avgPrice, price, closedQty decimal.Decimal) decimal.Decimal {
	pnl := price.Sub(avgPrice).Mul(closedQty)
	if held.Sign() < 0 {
		pnl = pnl.Neg()
	}
	return pnl
}
