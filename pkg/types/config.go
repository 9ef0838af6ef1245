// Package types provides configuration types for the trading platform.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultLookbackBars is the history window length used when a config
// leaves LookbackBars unset.
const DefaultLookbackBars = 100

// SlippageConfig selects and parameterizes a slippage model.
// Model is one of "fixed", "percent", "volume_impact".
type SlippageConfig struct {
	Model        string          `json:"model"`
	FixedOffset  decimal.Decimal `json:"fixedOffset,omitempty"`
	Percent      decimal.Decimal `json:"percent,omitempty"`
	ImpactFactor decimal.Decimal `json:"impactFactor,omitempty"`
}

// FeeConfig selects a named exchange fee table and overrides.
type FeeConfig struct {
	Exchange      string          `json:"exchange"`
	Rate          decimal.Decimal `json:"rate,omitempty"`
	MinCommission decimal.Decimal `json:"minCommission,omitempty"`
	Taker         bool            `json:"taker"`
}

// BacktestConfig is immutable for the duration of a run.
// Start and End bounds are optional and inclusive; zero values mean
// unbounded.
type BacktestConfig struct {
	ID             string          `json:"id"`
	Strategy       string          `json:"strategy"`
	Symbols        []string        `json:"symbols"`
	InitialCapital decimal.Decimal `json:"initialCapital"`
	Slippage       SlippageConfig  `json:"slippage"`
	Fees           FeeConfig       `json:"fees"`
	Start          time.Time       `json:"start,omitempty"`
	End            time.Time       `json:"end,omitempty"`
	LookbackBars   int             `json:"lookbackBars"`
}

// Validate checks the config bounds from the run contract.
func (c BacktestConfig) Validate() error {
	if !c.InitialCapital.IsPositive() {
		return fmt.Errorf("initial capital must be positive, got %s", c.InitialCapital)
	}
	if c.Slippage.Percent.IsNegative() {
		return fmt.Errorf("slippage percent must be >= 0, got %s", c.Slippage.Percent)
	}
	if c.Fees.Rate.IsNegative() {
		return fmt.Errorf("commission rate must be >= 0, got %s", c.Fees.Rate)
	}
	if c.LookbackBars < 0 {
		return fmt.Errorf("lookback bars must be >= 0, got %d", c.LookbackBars)
	}
	if !c.Start.IsZero() && !c.End.IsZero() && c.End.Before(c.Start) {
		return fmt.Errorf("end %s before start %s", c.End, c.Start)
	}
	return nil
}

// Lookback returns the effective history window length.
func (c BacktestConfig) Lookback() int {
	if c.LookbackBars == 0 {
		return DefaultLookbackBars
	}
	return c.LookbackBars
}

// RiskLimits bounds a live or simulated account.
type RiskLimits struct {
	MaxPositionNotional decimal.Decimal `json:"maxPositionNotional"`
	MaxOpenPositions    int             `json:"maxOpenPositions"`
	MaxDrawdownPct      decimal.Decimal `json:"maxDrawdownPct"`
	CashFloor           decimal.Decimal `json:"cashFloor"`
}
