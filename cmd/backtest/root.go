package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stratos-labs/quant-backend/internal/data"
	"github.com/stratos-labs/quant-backend/internal/optimize"
	"github.com/stratos-labs/quant-backend/internal/strategy"
)

var (
	flagDataDir  string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:           "backtest",
	Short:         "Run backtests, parameter searches, and data fetches",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data", "data", "bar history directory")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

func newLogger() *zap.Logger {
	level, err := zapcore.ParseLevel(flagLogLevel)
	if err != nil {
		level = zapcore.WarnLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func newStore(logger *zap.Logger) (*data.Store, error) {
	return data.NewStore(logger, flagDataDir)
}

// parseTime accepts a date or a full RFC 3339 timestamp. Empty means
// unbounded.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use YYYY-MM-DD or RFC 3339", s)
	}
	return t.UTC(), nil
}

// buildStrategy constructs a named strategy with parameter overrides.
// Unset parameters keep their defaults.
func buildStrategy(name string, params optimize.Candidate, logger *zap.Logger) (strategy.Strategy, error) {
	switch name {
	case "sma_cross":
		cfg := strategy.DefaultSMACrossConfig()
		if v, ok := params["fast"]; ok {
			cfg.FastPeriod = int(v)
		}
		if v, ok := params["slow"]; ok {
			cfg.SlowPeriod = int(v)
		}
		if v, ok := params["quantity"]; ok {
			cfg.Quantity = decimal.NewFromFloat(v)
		}
		if v, ok := params["short"]; ok {
			cfg.AllowShort = v != 0
		}
		return strategy.NewSMACross(cfg, logger)
	case "momentum":
		cfg := strategy.DefaultMomentumConfig()
		if v, ok := params["period"]; ok {
			cfg.Period = int(v)
		}
		if v, ok := params["threshold"]; ok {
			cfg.Threshold = decimal.NewFromFloat(v)
		}
		if v, ok := params["quantity"]; ok {
			cfg.Quantity = decimal.NewFromFloat(v)
		}
		return strategy.NewMomentum(cfg, logger)
	case "rebalance":
		cfg := strategy.DefaultRebalanceConfig()
		if v, ok := params["interval"]; ok {
			cfg.IntervalBars = int(v)
		}
		if v, ok := params["quantity"]; ok {
			cfg.Quantity = decimal.NewFromFloat(v)
		}
		return strategy.NewRebalance(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// parseOverrides turns repeated key=value flags into a candidate.
func parseOverrides(specs []string) (optimize.Candidate, error) {
	params := make(optimize.Candidate, len(specs))
	for _, spec := range specs {
		key, raw, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid parameter %q: want key=value", spec)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid parameter %q: %w", spec, err)
		}
		params[key] = v
	}
	return params, nil
}

// parseSearchSpace turns repeated name=min:max[:step][:int] flags into
// search parameters.
func parseSearchSpace(specs []string) ([]optimize.Parameter, error) {
	out := make([]optimize.Parameter, 0, len(specs))
	for _, spec := range specs {
		name, rest, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid parameter %q: want name=min:max[:step][:int]", spec)
		}
		parts := strings.Split(rest, ":")
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid parameter %q: want name=min:max[:step][:int]", spec)
		}
		p := optimize.Parameter{Name: name}
		if parts[len(parts)-1] == "int" {
			p.Integer = true
			parts = parts[:len(parts)-1]
		}
		var err error
		if p.Min, err = strconv.ParseFloat(parts[0], 64); err != nil {
			return nil, fmt.Errorf("invalid min in %q: %w", spec, err)
		}
		if p.Max, err = strconv.ParseFloat(parts[1], 64); err != nil {
			return nil, fmt.Errorf("invalid max in %q: %w", spec, err)
		}
		if len(parts) > 2 {
			if p.Step, err = strconv.ParseFloat(parts[2], 64); err != nil {
				return nil, fmt.Errorf("invalid step in %q: %w", spec, err)
			}
		}
		out = append(out, p)
	}
	return out, nil
}
