package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stratos-labs/quant-backend/pkg/types"
)

// SMACrossConfig parameterizes the moving-average crossover strategy.
type SMACrossConfig struct {
	FastPeriod int
	SlowPeriod int
	Quantity   decimal.Decimal
	AllowShort bool
}

// DefaultSMACrossConfig returns the stock parameters.
func DefaultSMACrossConfig() SMACrossConfig {
	return SMACrossConfig{
		FastPeriod: 10,
		SlowPeriod: 30,
		Quantity:   decimal.NewFromInt(1),
	}
}

// SMACross goes long when the fast simple moving average crosses above
// the slow one and flat (or short) when it crosses below. All indicator
// state is derived from the supplied history window, so the strategy
// carries no bar buffer of its own.
type SMACross struct {
	logger *zap.Logger
	cfg    SMACrossConfig
	above  map[string]bool
	primed map[string]bool
}

// NewSMACross validates the config once at construction.
func NewSMACross(cfg SMACrossConfig, logger *zap.Logger) (*SMACross, error) {
	if cfg.FastPeriod <= 0 || cfg.SlowPeriod <= 0 {
		return nil, fmt.Errorf("sma_cross: periods must be positive, got fast=%d slow=%d", cfg.FastPeriod, cfg.SlowPeriod)
	}
	if cfg.FastPeriod >= cfg.SlowPeriod {
		return nil, fmt.Errorf("sma_cross: fast period %d must be below slow period %d", cfg.FastPeriod, cfg.SlowPeriod)
	}
	if !cfg.Quantity.IsPositive() {
		return nil, fmt.Errorf("sma_cross: quantity must be positive, got %s", cfg.Quantity)
	}
	return &SMACross{logger: logger, cfg: cfg}, nil
}

func (s *SMACross) Name() string { return "sma_cross" }

func (s *SMACross) Initialize() error {
	s.above = make(map[string]bool)
	s.primed = make(map[string]bool)
	return nil
}

func (s *SMACross) OnBar(symbol string, bar types.OHLCV, history []types.OHLCV) ([]types.Decision, error) {
	if len(history) < s.cfg.SlowPeriod {
		return nil, nil
	}

	// Include the current bar's close as the newest sample.
	fast := smaTail(history, bar.Close, s.cfg.FastPeriod)
	slow := smaTail(history, bar.Close, s.cfg.SlowPeriod)
	isAbove := fast.GreaterThan(slow)

	wasAbove, primed := s.above[symbol], s.primed[symbol]
	s.above[symbol] = isAbove
	s.primed[symbol] = true
	if !primed || wasAbove == isAbove {
		return nil, nil
	}

	if isAbove {
		return []types.Decision{types.TargetPosition{
			Symbol:   symbol,
			Side:     types.PositionSideLong,
			Quantity: s.cfg.Quantity,
			Reason:   "fast sma crossed above slow",
		}}, nil
	}

	side := types.PositionSideFlat
	if s.cfg.AllowShort {
		side = types.PositionSideShort
	}
	return []types.Decision{types.TargetPosition{
		Symbol:   symbol,
		Side:     side,
		Quantity: s.cfg.Quantity,
		Reason:   "fast sma crossed below slow",
	}}, nil
}

func (s *SMACross) OnFill(trade types.Trade) {
	s.logger.Debug("sma_cross fill",
		zap.String("symbol", trade.Symbol),
		zap.String("side", string(trade.Side)),
		zap.String("price", trade.Price.String()),
	)
}

func (s *SMACross) OnStop() {}

// smaTail averages the newest period samples of history plus current.
func smaTail(history []types.OHLCV, current decimal.Decimal, period int) decimal.Decimal {
	sum := current
	for i := 0; i < period-1; i++ {
		sum = sum.Add(history[len(history)-1-i].Close)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}
