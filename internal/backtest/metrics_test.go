package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratos-labs/quant-backend/pkg/types"
)

func eq(ts time.Time, equity int64) types.EquityPoint {
	return types.EquityPoint{Timestamp: ts, Equity: d(equity)}
}

func closingTrade(pnl int64) types.Trade {
	return types.Trade{
		Quantity:       d(1),
		ClosedQuantity: d(1),
		RealizedPnL:    d(pnl),
	}
}

func TestSummaryWinLossStats(t *testing.T) {
	trades := []types.Trade{
		{Quantity: d(2)}, // pure open, nothing realized
		closingTrade(300),
		closingTrade(-100),
	}

	m := computeSummary(nil, trades, d(100_000))

	if m.TotalTrades != 3 {
		t.Fatalf("total trades %d, want 3", m.TotalTrades)
	}
	if m.ClosingTrades != 2 {
		t.Fatalf("closing trades %d, want 2 (opens excluded)", m.ClosingTrades)
	}
	if m.WinningTrades != 1 || m.LosingTrades != 1 {
		t.Fatalf("wins/losses %d/%d, want 1/1", m.WinningTrades, m.LosingTrades)
	}
	if !m.WinRate.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("win rate %s, want 0.5", m.WinRate)
	}
	if !m.AvgWin.Equal(d(300)) || !m.AvgLoss.Equal(d(100)) {
		t.Fatalf("avg win/loss %s/%s, want 300/100", m.AvgWin, m.AvgLoss)
	}
	if !m.ProfitFactor.Equal(d(3)) {
		t.Fatalf("profit factor %s, want 3", m.ProfitFactor)
	}
	if !m.LargestWin.Equal(d(300)) || !m.LargestLoss.Equal(d(100)) {
		t.Fatalf("largest win/loss %s/%s", m.LargestWin, m.LargestLoss)
	}
	// 0.5*300 - 0.5*100
	if !m.Expectancy.Equal(d(100)) {
		t.Fatalf("expectancy %s, want 100", m.Expectancy)
	}
}

func TestSummaryAllWinsHasNoProfitFactor(t *testing.T) {
	m := computeSummary(nil, []types.Trade{closingTrade(50), closingTrade(70)}, d(1_000))

	if !m.WinRate.Equal(d(1)) {
		t.Fatalf("win rate %s, want 1", m.WinRate)
	}
	// No losses: the ratio is undefined and left at zero rather than
	// faked as infinity.
	if !m.ProfitFactor.IsZero() {
		t.Fatalf("profit factor %s, want 0 when loss-free", m.ProfitFactor)
	}
}

func TestSummaryTotalReturn(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	curve := []types.EquityPoint{
		eq(t0, 100_000),
		eq(t0.Add(time.Hour), 104_000),
		eq(t0.Add(2*time.Hour), 110_000),
	}

	m := computeSummary(curve, nil, d(100_000))

	if !m.TotalReturn.Equal(decimal.NewFromFloat(0.1)) {
		t.Fatalf("total return %s, want 0.1", m.TotalReturn)
	}
	if !m.AnnualizedReturn.IsPositive() {
		t.Fatalf("annualized return %s, want positive for rising curve", m.AnnualizedReturn)
	}
	if !m.Volatility.IsPositive() {
		t.Fatalf("volatility %s, want positive for varying returns", m.Volatility)
	}
	if !m.SharpeRatio.IsPositive() {
		t.Fatalf("sharpe %s, want positive for rising curve", m.SharpeRatio)
	}
}

func TestSummaryMaxDrawdown(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	curve := []types.EquityPoint{
		eq(t0, 100),
		eq(t0.Add(time.Hour), 120),
		eq(t0.Add(2*time.Hour), 90),
		eq(t0.Add(3*time.Hour), 96),
		eq(t0.Add(4*time.Hour), 130),
	}

	m := computeSummary(curve, nil, d(100))

	// Deepest decline is 120 -> 90.
	if !m.MaxDrawdown.Equal(decimal.NewFromFloat(0.25)) {
		t.Fatalf("max drawdown %s, want 0.25", m.MaxDrawdown)
	}
	if m.MaxDrawdownDuration != time.Hour {
		t.Fatalf("drawdown duration %s, want 1h", m.MaxDrawdownDuration)
	}
}

func TestSummaryEmptyCurve(t *testing.T) {
	m := computeSummary(nil, nil, d(100_000))

	if m.TotalTrades != 0 || !m.TotalReturn.IsZero() || !m.MaxDrawdown.IsZero() {
		t.Fatalf("empty inputs must yield zero metrics: %+v", m)
	}
}

func TestResultSummaryMemoized(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := types.BacktestConfig{ID: "memo", InitialCapital: d(1_000)}
	ledger := NewLedger(cfg.InitialCapital)
	result := newResult(cfg, []types.EquityPoint{eq(t0, 1_000), eq(t0.Add(time.Hour), 1_100)}, nil, ledger, t0)

	first := result.Summary()
	second := result.Summary()
	if first != second {
		t.Fatal("Summary must return the same memoized instance")
	}
	if !first.TotalReturn.Equal(decimal.NewFromFloat(0.1)) {
		t.Fatalf("total return %s, want 0.1", first.TotalReturn)
	}
}

func TestAnnualPeriodsFromTickSpacing(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	daily := []types.EquityPoint{
		eq(t0, 100), eq(t0.Add(24*time.Hour), 101), eq(t0.Add(48*time.Hour), 102),
	}
	hourly := []types.EquityPoint{
		eq(t0, 100), eq(t0.Add(time.Hour), 101), eq(t0.Add(2*time.Hour), 102),
	}

	if got := annualPeriods(daily); got < 360 || got > 370 {
		t.Fatalf("daily periods/year %.1f, want ~365", got)
	}
	if got := annualPeriods(hourly); got < 8_700 || got > 8_800 {
		t.Fatalf("hourly periods/year %.1f, want ~8766", got)
	}
	if got := annualPeriods(nil); got != 252 {
		t.Fatalf("fallback periods/year %.1f, want 252", got)
	}
}
