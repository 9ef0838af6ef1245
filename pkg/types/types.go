// Package types provides shared type definitions for the trading platform.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents buy or sell.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// PositionSide represents the desired exposure direction of a position.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
	PositionSideFlat  PositionSide = "flat"
)

// Timeframe represents trading timeframes.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// OHLCV represents a single candlestick for one symbol at one tick.
// Bars are immutable once produced from history.
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Decision is the closed union of shapes a strategy may emit per bar.
// A strategy returns zero or more decisions; any other shape does not
// compile. TargetPosition declares desired absolute exposure and the
// executor computes the delta; OrderIntent is imperative, the delta
// already decided by the strategy.
type Decision interface {
	decisionSymbol() string
}

// TargetPosition declares the desired absolute exposure for a symbol.
type TargetPosition struct {
	Symbol     string          `json:"symbol"`
	Side       PositionSide    `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Confidence decimal.Decimal `json:"confidence"`
	Reason     string          `json:"reason"`
}

func (t TargetPosition) decisionSymbol() string { return t.Symbol }

// OrderIntent is an imperative buy/sell instruction for a fixed quantity.
type OrderIntent struct {
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Reason   string          `json:"reason"`
}

func (o OrderIntent) decisionSymbol() string { return o.Symbol }

// DecisionSymbol returns the symbol a decision targets.
func DecisionSymbol(d Decision) string { return d.decisionSymbol() }

// Position is the per-symbol unit of truth for what is held and what it
// has made. Quantity is signed: positive for long, negative for short.
// Invariant: AvgPrice is zero iff Quantity is zero. Positions are never
// deleted; they collapse to flat instead.
type Position struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AvgPrice    decimal.Decimal `json:"avgPrice"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
}

// IsFlat reports whether the position holds nothing. Zero quantity is
// the sole flatness predicate.
func (p Position) IsFlat() bool { return p.Quantity.IsZero() }

// Trade is an immutable, append-only fill record. Quantity is always
// positive; direction is carried by Side. RealizedPnL is the PnL realized
// by the closing portion of this fill (zero for pure opens) and
// ClosedQuantity is how much existing exposure the fill closed, so
// downstream statistics never reconstruct per-trade PnL after the fact.
type Trade struct {
	ID             string          `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	Commission     decimal.Decimal `json:"commission"`
	RealizedPnL    decimal.Decimal `json:"realizedPnl"`
	ClosedQuantity decimal.Decimal `json:"closedQuantity"`
	Reason         string          `json:"reason,omitempty"`
}

// EquityPoint is one mark-to-market snapshot of the account.
// Invariants: Equity == Cash + PositionValue, DrawdownPct in [0, 1), and
// the running peak is monotonically non-decreasing across a run.
type EquityPoint struct {
	Timestamp     time.Time       `json:"timestamp"`
	Equity        decimal.Decimal `json:"equity"`
	Cash          decimal.Decimal `json:"cash"`
	PositionValue decimal.Decimal `json:"positionValue"`
	Drawdown      decimal.Decimal `json:"drawdown"`
	DrawdownPct   decimal.Decimal `json:"drawdownPct"`
}

// OrderStatus represents the status of a live order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order represents an order handed to a broker adapter on the live path.
type Order struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price,omitempty"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

// PerformanceMetrics is the summary derived from an equity curve and
// trade log. Win/loss statistics count closing fills only, using the
// realized PnL recorded on each trade.
type PerformanceMetrics struct {
	TotalReturn         decimal.Decimal `json:"totalReturn"`
	AnnualizedReturn    decimal.Decimal `json:"annualizedReturn"`
	Volatility          decimal.Decimal `json:"volatility"`
	SharpeRatio         decimal.Decimal `json:"sharpeRatio"`
	SortinoRatio        decimal.Decimal `json:"sortinoRatio"`
	CalmarRatio         decimal.Decimal `json:"calmarRatio"`
	MaxDrawdown         decimal.Decimal `json:"maxDrawdown"`
	MaxDrawdownDuration time.Duration   `json:"maxDrawdownDuration"`
	WinRate             decimal.Decimal `json:"winRate"`
	ProfitFactor        decimal.Decimal `json:"profitFactor"`
	TotalTrades         int             `json:"totalTrades"`
	ClosingTrades       int             `json:"closingTrades"`
	WinningTrades       int             `json:"winningTrades"`
	LosingTrades        int             `json:"losingTrades"`
	AvgWin              decimal.Decimal `json:"avgWin"`
	AvgLoss             decimal.Decimal `json:"avgLoss"`
	LargestWin          decimal.Decimal `json:"largestWin"`
	LargestLoss         decimal.Decimal `json:"largestLoss"`
	Expectancy          decimal.Decimal `json:"expectancy"`
	TotalCommission     decimal.Decimal `json:"totalCommission"`
}
