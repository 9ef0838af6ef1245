package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stratos-labs/quant-backend/internal/optimize"
	"github.com/stratos-labs/quant-backend/internal/strategy"
	"github.com/stratos-labs/quant-backend/pkg/types"
)

var optimizeFlags struct {
	method      string
	metric      string
	samples     int
	seed        int64
	workers     int
	space       []string
	top         int
	walkForward bool
	train       time.Duration
	test        time.Duration
	anchored    bool
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Search strategy parameters by backtest score",
	Long: `Search strategy parameters by backtest score.

Each --param flag adds one dimension: name=min:max[:step][:int].
With --walk-forward the search repeats per fold and reports
out-of-sample degradation instead of a single ranking.`,
	RunE: runOptimize,
}

func init() {
	f := optimizeCmd.Flags()
	f.StringVar(&optimizeFlags.method, "method", "grid", "search method: grid or random")
	f.StringVar(&optimizeFlags.metric, "metric", "sharpe", "ranking metric: sharpe, total_return, or calmar")
	f.IntVar(&optimizeFlags.samples, "samples", 100, "candidates for random search")
	f.Int64Var(&optimizeFlags.seed, "seed", 1, "random search seed")
	f.IntVar(&optimizeFlags.workers, "workers", 4, "parallel evaluations")
	f.StringSliceVar(&optimizeFlags.space, "param", nil, "search dimension, name=min:max[:step][:int]")
	f.IntVar(&optimizeFlags.top, "top", 10, "evaluations to print")
	f.BoolVar(&optimizeFlags.walkForward, "walk-forward", false, "run walk-forward validation")
	f.DurationVar(&optimizeFlags.train, "train", 60*24*time.Hour, "walk-forward train window")
	f.DurationVar(&optimizeFlags.test, "test", 20*24*time.Hour, "walk-forward test window")
	f.BoolVar(&optimizeFlags.anchored, "anchored", false, "anchor the train window start")
	addConfigFlags(f)
	rootCmd.AddCommand(optimizeCmd)
}

func runOptimize(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := buildRunConfig()
	if err != nil {
		return err
	}
	space, err := parseSearchSpace(optimizeFlags.space)
	if err != nil {
		return err
	}
	if len(space) == 0 {
		return fmt.Errorf("no search space: pass at least one --param name=min:max")
	}

	store, err := newStore(logger)
	if err != nil {
		return err
	}
	history, err := store.LoadAll(cfg.Symbols, types.Timeframe(runFlags.timeframe), cfg.Start, cfg.End)
	if err != nil {
		return err
	}

	build := func(params optimize.Candidate) (strategy.Strategy, error) {
		return buildStrategy(runFlags.strategy, params, logger)
	}
	opt := optimize.New(logger, optimize.Config{
		Method:  optimize.Method(optimizeFlags.method),
		Metric:  optimize.Metric(optimizeFlags.metric),
		Samples: optimizeFlags.samples,
		Seed:    optimizeFlags.seed,
		Workers: optimizeFlags.workers,
	})

	out := cmd.OutOrStdout()
	if optimizeFlags.walkForward {
		report, err := opt.WalkForward(cfg, history, space, build, optimize.WalkForwardConfig{
			Train:    optimizeFlags.train,
			Test:     optimizeFlags.test,
			Anchored: optimizeFlags.anchored,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Walk-forward: %d folds, metric %s\n\n", len(report.Folds), optimizeFlags.metric)
		for i, fold := range report.Folds {
			fmt.Fprintf(out, "fold %d  train %s..%s  test %s..%s\n",
				i+1,
				fold.Window.TrainStart.Format("2006-01-02"), fold.Window.TrainEnd.Format("2006-01-02"),
				fold.Window.TestStart.Format("2006-01-02"), fold.Window.TestEnd.Format("2006-01-02"),
			)
			fmt.Fprintf(out, "        params %s  train %.4f  test %.4f  degradation %.4f\n",
				formatCandidate(fold.Params), fold.TrainScore, fold.TestScore, fold.Degradation)
		}
		fmt.Fprintf(out, "\nmean train %.4f  mean test %.4f  robustness %.4f\n",
			report.MeanTrainScore, report.MeanTestScore, report.Robustness)
		return nil
	}

	report, err := opt.Run(cfg, history, space, build)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s search: %d evaluations in %s, metric %s\n\n",
		report.Method, len(report.Evaluations), report.Duration.Round(time.Millisecond), report.Metric)
	limit := optimizeFlags.top
	if limit <= 0 || limit > len(report.Evaluations) {
		limit = len(report.Evaluations)
	}
	for i, eval := range report.Evaluations[:limit] {
		fmt.Fprintf(out, "%2d. %-40s %.4f\n", i+1, formatCandidate(eval.Params), eval.Score)
	}
	return nil
}

func formatCandidate(c optimize.Candidate) string {
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
