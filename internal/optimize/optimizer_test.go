package optimize

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stratos-labs/quant-backend/internal/strategy"
	"github.com/stratos-labs/quant-backend/pkg/types"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func risingHistory(n int) map[string][]types.OHLCV {
	bars := make([]types.OHLCV, n)
	for i := range bars {
		price := decimal.NewFromInt(int64(100 + i))
		bars[i] = types.OHLCV{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    decimal.NewFromInt(1_000),
		}
	}
	return map[string][]types.OHLCV{"BTCUSDT": bars}
}

// sizeParam buys at the first bar with a quantity set by the "size"
// parameter, so bigger sizes ride the rising tape to higher returns.
type sizeParam struct {
	size   decimal.Decimal
	bought bool
}

func (s *sizeParam) Name() string      { return "size_param" }
func (s *sizeParam) Initialize() error { s.bought = false; return nil }

func (s *sizeParam) OnBar(symbol string, _ types.OHLCV, _ []types.OHLCV) ([]types.Decision, error) {
	if s.bought {
		return nil, nil
	}
	s.bought = true
	return []types.Decision{types.OrderIntent{Symbol: symbol, Side: types.SideBuy, Quantity: s.size}}, nil
}

func (s *sizeParam) OnFill(types.Trade) {}
func (s *sizeParam) OnStop()            {}

func buildSizeParam(params Candidate) (strategy.Strategy, error) {
	return &sizeParam{size: decimal.NewFromFloat(params["size"])}, nil
}

func TestParameterValues(t *testing.T) {
	grid := Parameter{Name: "p", Min: 2, Max: 10, Step: 4}.Values()
	want := []float64{2, 6, 10}
	if len(grid) != len(want) {
		t.Fatalf("grid %v, want %v", grid, want)
	}
	for i := range want {
		if grid[i] != want[i] {
			t.Fatalf("grid %v, want %v", grid, want)
		}
	}

	ints := Parameter{Name: "p", Min: 1, Max: 3, Integer: true}.Values()
	if len(ints) != 3 || ints[0] != 1 || ints[2] != 3 {
		t.Fatalf("integer grid %v, want [1 2 3]", ints)
	}
}

func TestGridCandidatesCartesian(t *testing.T) {
	candidates := gridCandidates([]Parameter{
		{Name: "a", Min: 1, Max: 2, Step: 1},
		{Name: "b", Min: 10, Max: 30, Step: 10},
	})
	if len(candidates) != 6 {
		t.Fatalf("candidates %d, want 2x3=6", len(candidates))
	}
	seen := map[string]bool{}
	for _, c := range candidates {
		seen[formatParams(c)] = true
	}
	if !seen["a=1 b=20"] || !seen["a=2 b=30"] {
		t.Fatalf("missing combinations: %v", seen)
	}
}

func TestRandomCandidatesDeterministic(t *testing.T) {
	params := []Parameter{{Name: "x", Min: 0, Max: 100}}
	a := New(zap.NewNop(), Config{Method: MethodRandom, Samples: 20, Seed: 42})
	b := New(zap.NewNop(), Config{Method: MethodRandom, Samples: 20, Seed: 42})

	ca, cb := a.sampleCandidates(params), b.sampleCandidates(params)
	for i := range ca {
		if ca[i]["x"] != cb[i]["x"] {
			t.Fatalf("sample %d differs: %g vs %g", i, ca[i]["x"], cb[i]["x"])
		}
	}

	other := New(zap.NewNop(), Config{Method: MethodRandom, Samples: 20, Seed: 7}).sampleCandidates(params)
	same := true
	for i := range ca {
		if ca[i]["x"] != other[i]["x"] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different seeds produced identical samples")
	}
}

func TestGridSearchFindsBestSize(t *testing.T) {
	o := New(zap.NewNop(), Config{Method: MethodGrid, Metric: MetricTotalReturn, Workers: 2})
	base := types.BacktestConfig{ID: "opt", InitialCapital: decimal.NewFromInt(100_000)}

	report, err := o.Run(base, risingHistory(50), []Parameter{
		{Name: "size", Min: 1, Max: 5, Step: 1, Integer: true},
	}, buildSizeParam)
	if err != nil {
		t.Fatal(err)
	}

	if len(report.Evaluations) != 5 {
		t.Fatalf("evaluations %d, want 5", len(report.Evaluations))
	}
	if got := report.Best.Params["size"]; got != 5 {
		t.Fatalf("best size %g, want 5 (largest position on a rising tape)", got)
	}
	for i := 1; i < len(report.Evaluations); i++ {
		if report.Evaluations[i].Score > report.Evaluations[i-1].Score {
			t.Fatal("evaluations not sorted best first")
		}
	}
	if report.Best.Result == nil {
		t.Fatal("best evaluation missing its result")
	}
}

func TestWindowsRolling(t *testing.T) {
	start := t0
	end := t0.Add(10 * 24 * time.Hour)
	cfg := WalkForwardConfig{Train: 4 * 24 * time.Hour, Test: 2 * 24 * time.Hour}

	windows := Windows(start, end, cfg)
	if len(windows) != 3 {
		t.Fatalf("windows %d, want 3", len(windows))
	}
	for i, w := range windows {
		if !w.TestStart.Equal(w.TrainEnd) {
			t.Fatalf("window %d: test does not start at train end", i)
		}
		if w.TrainEnd.Sub(w.TrainStart) != cfg.Train {
			t.Fatalf("window %d: train length %s", i, w.TrainEnd.Sub(w.TrainStart))
		}
	}
	// Rolling: the second train window starts one test-length later.
	if got := windows[1].TrainStart.Sub(windows[0].TrainStart); got != cfg.Test {
		t.Fatalf("rolling step %s, want %s", got, cfg.Test)
	}
}

func TestWindowsAnchored(t *testing.T) {
	start := t0
	end := t0.Add(10 * 24 * time.Hour)
	cfg := WalkForwardConfig{Train: 4 * 24 * time.Hour, Test: 2 * 24 * time.Hour, Anchored: true}

	windows := Windows(start, end, cfg)
	if len(windows) < 2 {
		t.Fatalf("windows %d, want at least 2", len(windows))
	}
	for i, w := range windows {
		if !w.TrainStart.Equal(start) {
			t.Fatalf("window %d: anchored train start moved to %s", i, w.TrainStart)
		}
	}
	if !windows[1].TrainEnd.After(windows[0].TrainEnd) {
		t.Fatal("anchored train window did not expand")
	}
}

func TestWalkForwardReport(t *testing.T) {
	o := New(zap.NewNop(), Config{Method: MethodGrid, Metric: MetricTotalReturn, Workers: 2})

	history := risingHistory(24 * 10)
	base := types.BacktestConfig{
		ID:             "wf",
		InitialCapital: decimal.NewFromInt(100_000),
		Start:          t0,
		End:            t0.Add(10 * 24 * time.Hour),
	}
	cfg := WalkForwardConfig{Train: 4 * 24 * time.Hour, Test: 2 * 24 * time.Hour}

	report, err := o.WalkForward(base, history, []Parameter{
		{Name: "size", Min: 1, Max: 3, Step: 1, Integer: true},
	}, buildSizeParam, cfg)
	if err != nil {
		t.Fatal(err)
	}

	if len(report.Folds) != 3 {
		t.Fatalf("folds %d, want 3", len(report.Folds))
	}
	for i, f := range report.Folds {
		if f.Params["size"] != 3 {
			t.Fatalf("fold %d picked size %g, want 3", i, f.Params["size"])
		}
		if f.TestScore <= 0 {
			t.Fatalf("fold %d test score %g, want positive on a rising tape", i, f.TestScore)
		}
	}
	if report.Robustness <= 0 {
		t.Fatalf("robustness %g, want positive", report.Robustness)
	}
}

func TestWalkForwardRequiresBounds(t *testing.T) {
	o := New(zap.NewNop(), DefaultConfig())
	base := types.BacktestConfig{ID: "wf", InitialCapital: decimal.NewFromInt(1_000)}
	if _, err := o.WalkForward(base, nil, []Parameter{{Name: "x", Min: 1, Max: 2, Step: 1}}, buildSizeParam, WalkForwardConfig{Train: time.Hour, Test: time.Hour}); err == nil {
		t.Fatal("unbounded config accepted")
	}
}
