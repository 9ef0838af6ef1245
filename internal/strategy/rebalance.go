package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stratos-labs/quant-backend/pkg/types"
)

// RebalanceConfig parameterizes the periodic accumulation strategy.
type RebalanceConfig struct {
	IntervalBars int
	Quantity     decimal.Decimal
}

// DefaultRebalanceConfig returns the stock parameters.
func DefaultRebalanceConfig() RebalanceConfig {
	return RebalanceConfig{
		IntervalBars: 24,
		Quantity:     decimal.NewFromInt(1),
	}
}

// Rebalance buys a fixed quantity every IntervalBars bars per symbol.
// It emits imperative OrderIntents, exercising the second decision shape.
type Rebalance struct {
	logger *zap.Logger
	cfg    RebalanceConfig
	count  map[string]int
}

// NewRebalance validates the config once at construction.
func NewRebalance(cfg RebalanceConfig, logger *zap.Logger) (*Rebalance, error) {
	if cfg.IntervalBars <= 0 {
		return nil, fmt.Errorf("rebalance: interval must be positive, got %d", cfg.IntervalBars)
	}
	if !cfg.Quantity.IsPositive() {
		return nil, fmt.Errorf("rebalance: quantity must be positive, got %s", cfg.Quantity)
	}
	return &Rebalance{logger: logger, cfg: cfg}, nil
}

func (r *Rebalance) Name() string { return "rebalance" }

func (r *Rebalance) Initialize() error {
	r.count = make(map[string]int)
	return nil
}

func (r *Rebalance) OnBar(symbol string, _ types.OHLCV, _ []types.OHLCV) ([]types.Decision, error) {
	r.count[symbol]++
	if r.count[symbol]%r.cfg.IntervalBars != 0 {
		return nil, nil
	}
	return []types.Decision{types.OrderIntent{
		Symbol:   symbol,
		Side:     types.SideBuy,
		Quantity: r.cfg.Quantity,
		Reason:   "scheduled accumulation",
	}}, nil
}

func (r *Rebalance) OnFill(types.Trade) {}

func (r *Rebalance) OnStop() {}
