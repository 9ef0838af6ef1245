package backtest

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stratos-labs/quant-backend/internal/strategy"
	"github.com/stratos-labs/quant-backend/pkg/types"
)

// Engine drives one backtest run: it advances the merged clock tick by
// tick, feeds each symbol's bar and history window to the strategy,
// routes decisions through the executor, and snapshots equity. A run is
// strictly single-threaded and deterministic; parallelism exists only
// across independent runs, each with its own engine.
type Engine struct {
	logger     *zap.Logger
	cfg        types.BacktestConfig
	cost       *CostModel
	onProgress func(processed, total int)
}

// NewEngine validates the configuration and builds the run's cost model.
func NewEngine(logger *zap.Logger, cfg types.BacktestConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backtest config: %w", err)
	}
	return &Engine{
		logger: logger,
		cfg:    cfg,
		cost:   NewCostModel(cfg.Slippage, cfg.Fees),
	}, nil
}

// SetProgress installs an optional per-tick progress callback.
func (e *Engine) SetProgress(fn func(processed, total int)) { e.onProgress = fn }

// Run replays the supplied history through the strategy and returns the
// aggregated result. History is assumed pre-loaded; nothing in the loop
// blocks on I/O. A run either completes the full timeline or is not
// started.
//
// Decisions made while processing bar t fill at the open of the symbol's
// bar t+1; decisions on a symbol's final bar fill at that bar's close.
// The current bar's close is never an execution price.
func (e *Engine) Run(history map[string][]types.OHLCV, strat strategy.Strategy) (*Result, error) {
	startedAt := time.Now()

	if len(e.cfg.Symbols) > 0 {
		filtered := make(map[string][]types.OHLCV, len(e.cfg.Symbols))
		for _, symbol := range e.cfg.Symbols {
			bars, ok := history[symbol]
			if !ok || len(bars) == 0 {
				e.logger.Warn("no history for symbol", zap.String("symbol", symbol))
				continue
			}
			filtered[symbol] = bars
		}
		history = filtered
	}

	timeline := NewTimeline(history, e.cfg.Start, e.cfg.End)
	if timeline.Len() == 0 {
		e.logger.Warn("no bars in requested window, returning empty result",
			zap.String("id", e.cfg.ID),
		)
		return newResult(e.cfg, nil, nil, NewLedger(e.cfg.InitialCapital), startedAt), nil
	}

	ledger := NewLedger(e.cfg.InitialCapital)
	executor := NewExecutor(e.logger, ledger, e.cost)
	tracker := NewEquityTracker(e.cfg.InitialCapital)

	if err := strat.Initialize(); err != nil {
		return nil, fmt.Errorf("strategy initialize: %w", err)
	}

	e.logger.Info("starting backtest",
		zap.String("id", e.cfg.ID),
		zap.String("strategy", strat.Name()),
		zap.Int("symbols", len(timeline.Symbols())),
		zap.Int("ticks", timeline.Len()),
	)

	var trades []types.Trade
	lookback := e.cfg.Lookback()
	pending := make(map[string][]types.Decision)

	for i := 0; i < timeline.Len(); i++ {
		ts := timeline.At(i)

		for _, symbol := range timeline.Symbols() {
			bar, ok := timeline.Bar(symbol, ts)
			if !ok {
				continue
			}

			// Fills queued from the symbol's previous bar execute at
			// this bar's open, before the strategy sees the bar.
			for _, d := range pending[symbol] {
				if trade := executor.Execute(ts, d, bar.Open, bar.Volume); trade != nil {
					trades = append(trades, *trade)
					strat.OnFill(*trade)
				}
			}
			delete(pending, symbol)

			window := timeline.History(symbol, ts, lookback)
			decisions, err := strat.OnBar(symbol, bar, window)
			if err != nil {
				e.logger.Warn("strategy error, bar skipped",
					zap.String("symbol", symbol),
					zap.Time("timestamp", ts),
					zap.Error(err),
				)
				decisions = nil
			}

			if len(decisions) > 0 {
				if timeline.IsLastBar(symbol, ts) {
					// No later open exists; fill at the final close.
					for _, d := range decisions {
						if trade := executor.Execute(ts, d, bar.Close, bar.Volume); trade != nil {
							trades = append(trades, *trade)
							strat.OnFill(*trade)
						}
					}
				} else {
					pending[symbol] = decisions
				}
			}

			tracker.Mark(symbol, bar.Close)
		}

		tracker.Snapshot(ts, ledger.Cash(), ledger.Positions())

		if e.onProgress != nil {
			e.onProgress(i+1, timeline.Len())
		}
	}

	strat.OnStop()

	result := newResult(e.cfg, tracker.Curve(), trades, ledger, startedAt)
	e.logger.Info("backtest completed",
		zap.String("id", e.cfg.ID),
		zap.Int("trades", len(trades)),
		zap.String("finalCash", result.FinalCash.String()),
		zap.Duration("elapsed", result.CompletedAt.Sub(result.StartedAt)),
	)
	return result, nil
}
