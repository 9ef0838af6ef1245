package main

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/stratos-labs/quant-backend/internal/backtest"
	"github.com/stratos-labs/quant-backend/internal/report"
	"github.com/stratos-labs/quant-backend/pkg/types"
)

var runFlags struct {
	strategy  string
	symbols   []string
	timeframe string
	capital   string
	feeRate   string
	slippage  string
	start     string
	end       string
	lookback  int
	params    []string
	output    string
	format    string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single backtest and write the report",
	RunE:  runBacktest,
}

// addConfigFlags registers the backtest run settings shared by the run
// and optimize commands.
func addConfigFlags(f *pflag.FlagSet) {
	f.StringVar(&runFlags.strategy, "strategy", "sma_cross", "strategy name")
	f.StringSliceVar(&runFlags.symbols, "symbols", []string{"BTCUSDT"}, "symbols to trade")
	f.StringVar(&runFlags.timeframe, "timeframe", "1h", "bar timeframe")
	f.StringVar(&runFlags.capital, "capital", "100000", "initial capital")
	f.StringVar(&runFlags.feeRate, "fee-rate", "0.001", "commission rate")
	f.StringVar(&runFlags.slippage, "slippage", "0", "percent slippage per fill")
	f.StringVar(&runFlags.start, "start", "", "start bound (inclusive)")
	f.StringVar(&runFlags.end, "end", "", "end bound (inclusive)")
	f.IntVar(&runFlags.lookback, "lookback", 0, "history window in bars (0 for default)")
}

func init() {
	f := runCmd.Flags()
	addConfigFlags(f)
	f.StringSliceVar(&runFlags.params, "param", nil, "strategy parameter override, key=value")
	f.StringVar(&runFlags.output, "output", "", "report file (default stdout)")
	f.StringVar(&runFlags.format, "format", "markdown", "report format: markdown or json")
	rootCmd.AddCommand(runCmd)
}

func buildRunConfig() (types.BacktestConfig, error) {
	capital, err := decimal.NewFromString(runFlags.capital)
	if err != nil {
		return types.BacktestConfig{}, fmt.Errorf("invalid capital %q: %w", runFlags.capital, err)
	}
	feeRate, err := decimal.NewFromString(runFlags.feeRate)
	if err != nil {
		return types.BacktestConfig{}, fmt.Errorf("invalid fee rate %q: %w", runFlags.feeRate, err)
	}
	slippage, err := decimal.NewFromString(runFlags.slippage)
	if err != nil {
		return types.BacktestConfig{}, fmt.Errorf("invalid slippage %q: %w", runFlags.slippage, err)
	}
	start, err := parseTime(runFlags.start)
	if err != nil {
		return types.BacktestConfig{}, err
	}
	end, err := parseTime(runFlags.end)
	if err != nil {
		return types.BacktestConfig{}, err
	}

	return types.BacktestConfig{
		Strategy:       runFlags.strategy,
		Symbols:        runFlags.symbols,
		InitialCapital: capital,
		Fees:           types.FeeConfig{Rate: feeRate},
		Slippage:       types.SlippageConfig{Model: "percent", Percent: slippage},
		Start:          start,
		End:            end,
		LookbackBars:   runFlags.lookback,
	}, nil
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := buildRunConfig()
	if err != nil {
		return err
	}
	params, err := parseOverrides(runFlags.params)
	if err != nil {
		return err
	}
	strat, err := buildStrategy(runFlags.strategy, params, logger)
	if err != nil {
		return err
	}

	store, err := newStore(logger)
	if err != nil {
		return err
	}
	history, err := store.LoadAll(cfg.Symbols, types.Timeframe(runFlags.timeframe), cfg.Start, cfg.End)
	if err != nil {
		return err
	}

	engine, err := backtest.NewEngine(logger, cfg)
	if err != nil {
		return err
	}
	result, err := engine.Run(history, strat)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if runFlags.output != "" {
		file, err := os.Create(runFlags.output)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	switch runFlags.format {
	case "markdown", "md":
		return report.WriteMarkdown(out, result)
	case "json":
		return report.WriteJSON(out, result)
	default:
		return fmt.Errorf("unknown format %q: want markdown or json", runFlags.format)
	}
}
