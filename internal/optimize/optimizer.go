// Package optimize searches strategy parameter spaces by running full
// simulations per candidate and ranking them on a summary metric.
package optimize

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stratos-labs/quant-backend/internal/backtest"
	"github.com/stratos-labs/quant-backend/internal/strategy"
	"github.com/stratos-labs/quant-backend/internal/workers"
	"github.com/stratos-labs/quant-backend/pkg/types"
)

// Method selects the search algorithm.
type Method string

const (
	MethodGrid   Method = "grid"
	MethodRandom Method = "random"
)

// Metric selects which summary statistic ranks candidates. Higher is
// always better; drawdown-style metrics are not offered as targets.
type Metric string

const (
	MetricSharpe      Metric = "sharpe"
	MetricTotalReturn Metric = "total_return"
	MetricCalmar      Metric = "calmar"
)

// Parameter describes one searchable dimension. Step applies to grid
// expansion; Integer rounds sampled and gridded values alike.
type Parameter struct {
	Name    string  `json:"name"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Step    float64 `json:"step,omitempty"`
	Integer bool    `json:"integer,omitempty"`
}

// Values expands the parameter into its grid points.
func (p Parameter) Values() []float64 {
	step := p.Step
	if step <= 0 {
		if p.Integer {
			step = 1
		} else {
			step = (p.Max - p.Min) / 10
		}
	}
	if step <= 0 || p.Max < p.Min {
		return []float64{p.Min}
	}
	var values []float64
	for v := p.Min; v <= p.Max+step/1e9; v += step {
		if p.Integer {
			v = math.Round(v)
		}
		if n := len(values); n > 0 && values[n-1] == v {
			continue
		}
		values = append(values, v)
	}
	return values
}

// Candidate is one concrete assignment of parameter values.
type Candidate map[string]float64

// Build constructs a fresh strategy instance for a candidate. It is
// called once per evaluation; instances are never shared between runs.
type Build func(params Candidate) (strategy.Strategy, error)

// Config tunes the search.
type Config struct {
	Method  Method `json:"method"`
	Metric  Metric `json:"metric"`
	Samples int    `json:"samples"` // random search only
	Seed    int64  `json:"seed"`    // random search only
	Workers int    `json:"workers"`
}

// DefaultConfig returns a grid search ranked on Sharpe.
func DefaultConfig() Config {
	return Config{Method: MethodGrid, Metric: MetricSharpe, Samples: 100, Workers: 4}
}

// Evaluation is one scored candidate.
type Evaluation struct {
	Params Candidate        `json:"params"`
	Score  float64          `json:"score"`
	Result *backtest.Result `json:"-"`
	Err    error            `json:"-"`
}

// Report is the outcome of one search, evaluations sorted best first.
type Report struct {
	Best        Evaluation    `json:"best"`
	Evaluations []Evaluation  `json:"evaluations"`
	Method      Method        `json:"method"`
	Metric      Metric        `json:"metric"`
	Duration    time.Duration `json:"duration"`
}

// Optimizer evaluates candidates against a fixed base config and
// history. Evaluations run in parallel; each gets its own engine and
// strategy instance, so runs never share state. Given the same seed the
// candidate list, and therefore the report, is identical across runs.
type Optimizer struct {
	logger *zap.Logger
	cfg    Config
}

// New creates an optimizer.
func New(logger *zap.Logger, cfg Config) *Optimizer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricSharpe
	}
	return &Optimizer{logger: logger.Named("optimize"), cfg: cfg}
}

// Run searches the parameter space and returns the ranked report.
func (o *Optimizer) Run(base types.BacktestConfig, history map[string][]types.OHLCV, params []Parameter, build Build) (*Report, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters to optimize")
	}
	startedAt := time.Now()

	var candidates []Candidate
	switch o.cfg.Method {
	case MethodRandom:
		candidates = o.sampleCandidates(params)
	default:
		candidates = gridCandidates(params)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("parameter space is empty")
	}

	o.logger.Info("starting parameter search",
		zap.String("method", string(o.cfg.Method)),
		zap.String("metric", string(o.cfg.Metric)),
		zap.Int("candidates", len(candidates)),
		zap.Int("workers", o.cfg.Workers),
	)

	pool := workers.NewPool(o.logger, workers.Config{
		Name:       "optimize",
		NumWorkers: o.cfg.Workers,
		QueueSize:  len(candidates),
	})
	pool.Start()
	defer pool.Stop()

	evaluations := make([]Evaluation, len(candidates))
	var mu sync.Mutex

	for i, candidate := range candidates {
		i, candidate := i, candidate
		if err := pool.SubmitFunc(func() error {
			eval := o.evaluate(base, history, candidate, build)
			mu.Lock()
			evaluations[i] = eval
			mu.Unlock()
			return eval.Err
		}); err != nil {
			return nil, fmt.Errorf("submit candidate: %w", err)
		}
	}
	pool.Wait()

	scored := evaluations[:0]
	for _, e := range evaluations {
		if e.Err != nil {
			o.logger.Warn("candidate failed",
				zap.String("params", formatParams(e.Params)),
				zap.Error(e.Err),
			)
			continue
		}
		scored = append(scored, e)
	}
	if len(scored) == 0 {
		return nil, fmt.Errorf("all %d candidates failed", len(candidates))
	}

	sort.SliceStable(scored, func(a, b int) bool {
		if scored[a].Score != scored[b].Score {
			return scored[a].Score > scored[b].Score
		}
		return formatParams(scored[a].Params) < formatParams(scored[b].Params)
	})

	report := &Report{
		Best:        scored[0],
		Evaluations: scored,
		Method:      o.cfg.Method,
		Metric:      o.cfg.Metric,
		Duration:    time.Since(startedAt),
	}
	o.logger.Info("parameter search completed",
		zap.String("bestParams", formatParams(report.Best.Params)),
		zap.Float64("bestScore", report.Best.Score),
		zap.Duration("elapsed", report.Duration),
	)
	return report, nil
}

func (o *Optimizer) evaluate(base types.BacktestConfig, history map[string][]types.OHLCV, candidate Candidate, build Build) Evaluation {
	eval := Evaluation{Params: candidate}

	strat, err := build(candidate)
	if err != nil {
		eval.Err = fmt.Errorf("build strategy: %w", err)
		return eval
	}

	engine, err := backtest.NewEngine(o.logger, base)
	if err != nil {
		eval.Err = err
		return eval
	}
	result, err := engine.Run(history, strat)
	if err != nil {
		eval.Err = err
		return eval
	}

	eval.Result = result
	eval.Score = Score(result, o.cfg.Metric)
	return eval
}

// Score extracts the ranking metric from a completed run.
func Score(result *backtest.Result, metric Metric) float64 {
	summary := result.Summary()
	switch metric {
	case MetricTotalReturn:
		return summary.TotalReturn.InexactFloat64()
	case MetricCalmar:
		return summary.CalmarRatio.InexactFloat64()
	default:
		return summary.SharpeRatio.InexactFloat64()
	}
}

// gridCandidates expands the full Cartesian product of grid values.
func gridCandidates(params []Parameter) []Candidate {
	grids := make([][]float64, len(params))
	for i, p := range params {
		grids[i] = p.Values()
	}

	candidates := []Candidate{{}}
	for i, p := range params {
		next := make([]Candidate, 0, len(candidates)*len(grids[i]))
		for _, base := range candidates {
			for _, v := range grids[i] {
				c := make(Candidate, len(params))
				for k, bv := range base {
					c[k] = bv
				}
				c[p.Name] = v
				next = append(next, c)
			}
		}
		candidates = next
	}
	return candidates
}

// sampleCandidates draws uniform samples with the configured seed, so
// the same seed yields the same candidate list.
func (o *Optimizer) sampleCandidates(params []Parameter) []Candidate {
	n := o.cfg.Samples
	if n <= 0 {
		n = 100
	}
	rng := rand.New(rand.NewSource(o.cfg.Seed))

	candidates := make([]Candidate, n)
	for i := range candidates {
		c := make(Candidate, len(params))
		for _, p := range params {
			v := p.Min + rng.Float64()*(p.Max-p.Min)
			if p.Integer {
				v = math.Round(v)
			}
			c[p.Name] = v
		}
		candidates[i] = c
	}
	return candidates
}

// formatParams renders a candidate in sorted key order for stable
// logging and tie-breaking.
func formatParams(c Candidate) string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, c[k])
	}
	return strings.Join(parts, " ")
}
