package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stratos-labs/quant-backend/pkg/types"
)

// MomentumConfig parameterizes the momentum strategy.
type MomentumConfig struct {
	Period    int
	Threshold decimal.Decimal
	Quantity  decimal.Decimal
}

// DefaultMomentumConfig returns the stock parameters.
func DefaultMomentumConfig() MomentumConfig {
	return MomentumConfig{
		Period:    14,
		Threshold: decimal.NewFromFloat(0.02),
		Quantity:  decimal.NewFromInt(1),
	}
}

// Momentum holds long while the trailing return over Period bars exceeds
// the threshold, short while it is below the negated threshold, and flat
// in between.
type Momentum struct {
	logger *zap.Logger
	cfg    MomentumConfig
}

// NewMomentum validates the config once at construction.
func NewMomentum(cfg MomentumConfig, logger *zap.Logger) (*Momentum, error) {
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("momentum: period must be positive, got %d", cfg.Period)
	}
	if cfg.Threshold.IsNegative() {
		return nil, fmt.Errorf("momentum: threshold must be >= 0, got %s", cfg.Threshold)
	}
	if !cfg.Quantity.IsPositive() {
		return nil, fmt.Errorf("momentum: quantity must be positive, got %s", cfg.Quantity)
	}
	return &Momentum{logger: logger, cfg: cfg}, nil
}

func (m *Momentum) Name() string { return "momentum" }

func (m *Momentum) Initialize() error { return nil }

func (m *Momentum) OnBar(symbol string, bar types.OHLCV, history []types.OHLCV) ([]types.Decision, error) {
	if len(history) < m.cfg.Period {
		return nil, nil
	}

	past := history[len(history)-m.cfg.Period].Close
	if past.IsZero() {
		return nil, nil
	}
	momentum := bar.Close.Sub(past).Div(past)

	switch {
	case momentum.GreaterThan(m.cfg.Threshold):
		return []types.Decision{types.TargetPosition{
			Symbol:     symbol,
			Side:       types.PositionSideLong,
			Quantity:   m.cfg.Quantity,
			Confidence: confidence(momentum, m.cfg.Threshold),
			Reason:     "positive momentum above threshold",
		}}, nil
	case momentum.LessThan(m.cfg.Threshold.Neg()):
		return []types.Decision{types.TargetPosition{
			Symbol:     symbol,
			Side:       types.PositionSideShort,
			Quantity:   m.cfg.Quantity,
			Confidence: confidence(momentum.Abs(), m.cfg.Threshold),
			Reason:     "negative momentum below threshold",
		}}, nil
	default:
		return []types.Decision{types.TargetPosition{
			Symbol: symbol,
			Side:   types.PositionSideFlat,
			Reason: "momentum inside neutral band",
		}}, nil
	}
}

func (m *Momentum) OnFill(types.Trade) {}

func (m *Momentum) OnStop() {}

func confidence(magnitude, threshold decimal.Decimal) decimal.Decimal {
	if threshold.IsZero() {
		return decimal.NewFromInt(1)
	}
	c := magnitude.Div(threshold)
	one := decimal.NewFromInt(1)
	if c.GreaterThan(one) {
		return one
	}
	return c
}
