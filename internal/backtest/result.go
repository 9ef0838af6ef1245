package backtest

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratos-labs/quant-backend/pkg/types"
)

// Result is the immutable outcome of one run. Final positions are a deep
// copy, so results stay valid after the run's ledger is discarded.
// Summary statistics are derived lazily from the equity curve and trade
// log, computed once and memoized.
type Result struct {
	ID              string                    `json:"id"`
	Config          types.BacktestConfig      `json:"config"`
	EquityCurve     []types.EquityPoint       `json:"equityCurve"`
	Trades          []types.Trade             `json:"trades"`
	FinalCash       decimal.Decimal           `json:"finalCash"`
	FinalPositions  map[string]types.Position `json:"finalPositions"`
	TotalCommission decimal.Decimal           `json:"totalCommission"`
	RealizedPnL     decimal.Decimal           `json:"realizedPnl"`
	StartedAt       time.Time                 `json:"startedAt"`
	CompletedAt     time.Time                 `json:"completedAt"`

	summaryOnce sync.Once
	summary     *types.PerformanceMetrics
}

func newResult(cfg types.BacktestConfig, curve []types.EquityPoint, trades []types.Trade, ledger *Ledger, startedAt time.Time) *Result {
	totalCommission := decimal.Zero
	for _, t := range trades {
		totalCommission = totalCommission.Add(t.Commission)
	}
	if trades == nil {
		trades = []types.Trade{}
	}
	if curve == nil {
		curve = []types.EquityPoint{}
	}
	return &Result{
		ID:              cfg.ID,
		Config:          cfg,
		EquityCurve:     curve,
		Trades:          trades,
		FinalCash:       ledger.Cash(),
		FinalPositions:  ledger.Positions(),
		TotalCommission: totalCommission,
		RealizedPnL:     ledger.RealizedPnL(),
		StartedAt:       startedAt,
		CompletedAt:     time.Now(),
	}
}

// Summary computes the performance metrics on first access and caches
// them for subsequent calls.
func (r *Result) Summary() *types.PerformanceMetrics {
	r.summaryOnce.Do(func() {
		r.summary = computeSummary(r.EquityCurve, r.Trades, r.Config.InitialCapital)
		r.summary.TotalCommission = r.TotalCommission
	})
	return r.summary
}
