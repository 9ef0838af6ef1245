package backtest_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stratos-labs/quant-backend/internal/backtest"
	"github.com/stratos-labs/quant-backend/pkg/types"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func mkBar(ts time.Time, open, close int64) types.OHLCV {
	high, low := open, close
	if close > open {
		high = close
		low = open
	}
	return types.OHLCV{
		Timestamp: ts,
		Open:      d(open),
		High:      d(high),
		Low:       d(low),
		Close:     d(close),
		Volume:    d(1_000),
	}
}

// scripted emits pre-programmed decisions on the nth OnBar invocation
// per symbol, counting from zero.
type scripted struct {
	script map[string]map[int][]types.Decision
	seen   map[string]int
	fills  []types.Trade
	stops  int
}

func newScripted(script map[string]map[int][]types.Decision) *scripted {
	return &scripted{script: script}
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Initialize() error {
	s.seen = make(map[string]int)
	s.fills = nil
	s.stops = 0
	return nil
}

func (s *scripted) OnBar(symbol string, _ types.OHLCV, _ []types.OHLCV) ([]types.Decision, error) {
	n := s.seen[symbol]
	s.seen[symbol] = n + 1
	return s.script[symbol][n], nil
}

func (s *scripted) OnFill(trade types.Trade) { s.fills = append(s.fills, trade) }

func (s *scripted) OnStop() { s.stops++ }

func freeConfig(capital int64) types.BacktestConfig {
	return types.BacktestConfig{
		ID:             "test",
		InitialCapital: d(capital),
	}
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func hourlyBars(prices ...[2]int64) []types.OHLCV {
	bars := make([]types.OHLCV, len(prices))
	for i, p := range prices {
		bars[i] = mkBar(t0.Add(time.Duration(i)*time.Hour), p[0], p[1])
	}
	return bars
}

func TestSingleLongRoundTrip(t *testing.T) {
	history := map[string][]types.OHLCV{
		"BTCUSDT": hourlyBars([2]int64{49_000, 49_500}, [2]int64{50_000, 51_000}, [2]int64{55_000, 55_000}),
	}
	strat := newScripted(map[string]map[int][]types.Decision{
		"BTCUSDT": {
			0: {types.OrderIntent{Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: d(1)}},
			1: {types.OrderIntent{Symbol: "BTCUSDT", Side: types.SideSell, Quantity: d(1)}},
		},
	})

	engine, err := backtest.NewEngine(zap.NewNop(), freeConfig(100_000))
	if err != nil {
		t.Fatal(err)
	}
	result, err := engine.Run(history, strat)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Trades) != 2 {
		t.Fatalf("trades %d, want 2", len(result.Trades))
	}
	buy, sell := result.Trades[0], result.Trades[1]

	// Decisions fill at the next bar's open, never the decision bar's close.
	if !buy.Price.Equal(d(50_000)) {
		t.Fatalf("buy fill price %s, want next open 50000", buy.Price)
	}
	if !sell.Price.Equal(d(55_000)) {
		t.Fatalf("sell fill price %s, want next open 55000", sell.Price)
	}
	if !sell.RealizedPnL.Equal(d(5_000)) {
		t.Fatalf("sell realized %s, want 5000", sell.RealizedPnL)
	}

	if !result.FinalCash.Equal(d(105_000)) {
		t.Fatalf("final cash %s, want 105000", result.FinalCash)
	}
	if pos := result.FinalPositions["BTCUSDT"]; !pos.IsFlat() {
		t.Fatalf("final position not flat: %s", pos.Quantity)
	}
	if !result.RealizedPnL.Equal(d(5_000)) {
		t.Fatalf("run realized %s, want 5000", result.RealizedPnL)
	}
	if len(strat.fills) != 2 {
		t.Fatalf("OnFill invoked %d times, want 2", len(strat.fills))
	}
	if strat.stops != 1 {
		t.Fatalf("OnStop invoked %d times, want exactly 1", strat.stops)
	}
}

func TestInsufficientFundsSkipsTrade(t *testing.T) {
	history := map[string][]types.OHLCV{
		"BTCUSDT": hourlyBars([2]int64{49_000, 49_500}, [2]int64{50_000, 51_000}),
	}
	strat := newScripted(map[string]map[int][]types.Decision{
		"BTCUSDT": {
			0: {types.OrderIntent{Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: d(1)}},
		},
	})

	engine, err := backtest.NewEngine(zap.NewNop(), freeConfig(1_000))
	if err != nil {
		t.Fatal(err)
	}
	result, err := engine.Run(history, strat)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Trades) != 0 {
		t.Fatalf("trades %d, want 0", len(result.Trades))
	}
	if !result.FinalCash.Equal(d(1_000)) {
		t.Fatalf("cash changed on skipped trade: %s", result.FinalCash)
	}
	if pos := result.FinalPositions["BTCUSDT"]; !pos.Quantity.IsZero() {
		t.Fatalf("ledger changed on skipped trade: %s", pos.Quantity)
	}
}

func TestFinalBarDecisionFillsAtClose(t *testing.T) {
	history := map[string][]types.OHLCV{
		"BTCUSDT": hourlyBars([2]int64{50_000, 51_000}, [2]int64{52_000, 53_000}),
	}
	strat := newScripted(map[string]map[int][]types.Decision{
		"BTCUSDT": {
			1: {types.OrderIntent{Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: d(1)}},
		},
	})

	engine, _ := backtest.NewEngine(zap.NewNop(), freeConfig(100_000))
	result, err := engine.Run(history, strat)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Trades) != 1 {
		t.Fatalf("trades %d, want 1", len(result.Trades))
	}
	if !result.Trades[0].Price.Equal(d(53_000)) {
		t.Fatalf("final-bar fill price %s, want final close 53000", result.Trades[0].Price)
	}
}

func TestEquityCurveInvariants(t *testing.T) {
	// Buy then watch the price fall: drawdown grows, peak never drops.
	history := map[string][]types.OHLCV{
		"BTCUSDT": hourlyBars(
			[2]int64{100, 100}, [2]int64{100, 110}, [2]int64{110, 90},
			[2]int64{90, 80}, [2]int64{80, 95},
		),
	}
	strat := newScripted(map[string]map[int][]types.Decision{
		"BTCUSDT": {
			0: {types.OrderIntent{Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: d(100)}},
		},
	})

	engine, _ := backtest.NewEngine(zap.NewNop(), freeConfig(100_000))
	result, err := engine.Run(history, strat)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.EquityCurve) != 5 {
		t.Fatalf("equity points %d, want one per tick (5)", len(result.EquityCurve))
	}

	peak := decimal.Zero
	for i, p := range result.EquityCurve {
		if !p.Equity.Equal(p.Cash.Add(p.PositionValue)) {
			t.Fatalf("point %d: equity %s != cash %s + positions %s", i, p.Equity, p.Cash, p.PositionValue)
		}
		if p.DrawdownPct.IsNegative() || p.DrawdownPct.GreaterThanOrEqual(d(1)) {
			t.Fatalf("point %d: drawdown pct %s outside [0,1)", i, p.DrawdownPct)
		}
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		impliedPeak := p.Equity.Add(p.Drawdown)
		if !impliedPeak.Equal(peak) && impliedPeak.LessThan(peak) {
			t.Fatalf("point %d: implied peak %s below running peak %s", i, impliedPeak, peak)
		}
	}
}

func TestDeterministicRuns(t *testing.T) {
	history := map[string][]types.OHLCV{
		"BTCUSDT": hourlyBars([2]int64{100, 102}, [2]int64{102, 99}, [2]int64{99, 104}, [2]int64{104, 101}),
		"ETHUSDT": hourlyBars([2]int64{50, 52}, [2]int64{52, 49}, [2]int64{49, 53}, [2]int64{53, 51}),
	}
	script := map[string]map[int][]types.Decision{
		"BTCUSDT": {
			0: {types.TargetPosition{Symbol: "BTCUSDT", Side: types.PositionSideLong, Quantity: d(10)}},
			2: {types.TargetPosition{Symbol: "BTCUSDT", Side: types.PositionSideFlat}},
		},
		"ETHUSDT": {
			1: {types.TargetPosition{Symbol: "ETHUSDT", Side: types.PositionSideShort, Quantity: d(5)}},
		},
	}

	run := func() ([]byte, []byte) {
		engine, err := backtest.NewEngine(zap.NewNop(), freeConfig(10_000))
		if err != nil {
			t.Fatal(err)
		}
		result, err := engine.Run(history, newScripted(script))
		if err != nil {
			t.Fatal(err)
		}
		trades, _ := json.Marshal(result.Trades)
		curve, _ := json.Marshal(result.EquityCurve)
		return trades, curve
	}

	trades1, curve1 := run()
	trades2, curve2 := run()
	if string(trades1) != string(trades2) {
		t.Fatal("trade logs differ between identical runs")
	}
	if string(curve1) != string(curve2) {
		t.Fatal("equity curves differ between identical runs")
	}
}

func TestEmptyHistoryReturnsEmptyResult(t *testing.T) {
	cfg := freeConfig(10_000)
	cfg.Symbols = []string{"MISSING"}
	engine, err := backtest.NewEngine(zap.NewNop(), cfg)
	if err != nil {
		t.Fatal(err)
	}

	result, err := engine.Run(map[string][]types.OHLCV{}, newScripted(nil))
	if err != nil {
		t.Fatalf("empty history must not be fatal: %v", err)
	}
	if len(result.Trades) != 0 || len(result.EquityCurve) != 0 {
		t.Fatalf("expected empty result, got %d trades, %d points", len(result.Trades), len(result.EquityCurve))
	}
	if !result.FinalCash.Equal(d(10_000)) {
		t.Fatalf("final cash %s, want untouched 10000", result.FinalCash)
	}
}

func TestTargetPositionDeltaExecution(t *testing.T) {
	history := map[string][]types.OHLCV{
		"BTCUSDT": hourlyBars([2]int64{100, 100}, [2]int64{100, 100}, [2]int64{100, 100}, [2]int64{100, 100}),
	}
	strat := newScripted(map[string]map[int][]types.Decision{
		"BTCUSDT": {
			0: {types.TargetPosition{Symbol: "BTCUSDT", Side: types.PositionSideLong, Quantity: d(3)}},
			// Same target again: delta is zero, no trade.
			1: {types.TargetPosition{Symbol: "BTCUSDT", Side: types.PositionSideLong, Quantity: d(3)}},
			// Reduce to 1: sells 2.
			2: {types.TargetPosition{Symbol: "BTCUSDT", Side: types.PositionSideLong, Quantity: d(1)}},
		},
	})

	engine, _ := backtest.NewEngine(zap.NewNop(), freeConfig(10_000))
	result, err := engine.Run(history, strat)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Trades) != 2 {
		t.Fatalf("trades %d, want 2 (open 3, reduce 2)", len(result.Trades))
	}
	if result.Trades[0].Side != types.SideBuy || !result.Trades[0].Quantity.Equal(d(3)) {
		t.Fatalf("first trade %s %s", result.Trades[0].Side, result.Trades[0].Quantity)
	}
	if result.Trades[1].Side != types.SideSell || !result.Trades[1].Quantity.Equal(d(2)) {
		t.Fatalf("second trade %s %s", result.Trades[1].Side, result.Trades[1].Quantity)
	}
	if pos := result.FinalPositions["BTCUSDT"]; !pos.Quantity.Equal(d(1)) {
		t.Fatalf("final quantity %s, want 1", pos.Quantity)
	}
}

func TestCashConservation(t *testing.T) {
	cfg := freeConfig(100_000)
	cfg.Fees = types.FeeConfig{Rate: decimal.NewFromFloat(0.001)}
	history := map[string][]types.OHLCV{
		"BTCUSDT": hourlyBars(
			[2]int64{100, 101}, [2]int64{101, 99}, [2]int64{99, 103},
			[2]int64{103, 100}, [2]int64{100, 102},
		),
	}
	strat := newScripted(map[string]map[int][]types.Decision{
		"BTCUSDT": {
			0: {types.OrderIntent{Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: d(7)}},
			1: {types.OrderIntent{Symbol: "BTCUSDT", Side: types.SideSell, Quantity: d(3)}},
			2: {types.OrderIntent{Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: d(5)}},
			3: {types.OrderIntent{Symbol: "BTCUSDT", Side: types.SideSell, Quantity: d(9)}},
		},
	})

	engine, _ := backtest.NewEngine(zap.NewNop(), cfg)
	result, err := engine.Run(history, strat)
	if err != nil {
		t.Fatal(err)
	}

	// Replay the fill log against the starting cash with exact decimal
	// arithmetic; the ledger must agree to the last digit.
	cash := d(100_000)
	for _, tr := range result.Trades {
		value := tr.Price.Mul(tr.Quantity)
		if tr.Side == types.SideBuy {
			cash = cash.Sub(value.Add(tr.Commission))
		} else {
			cash = cash.Add(value.Sub(tr.Commission))
		}
	}
	if !cash.Equal(result.FinalCash) {
		t.Fatalf("replayed cash %s != ledger cash %s", cash, result.FinalCash)
	}
}
