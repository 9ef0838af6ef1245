package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stratos-labs/quant-backend/internal/data"
	"github.com/stratos-labs/quant-backend/pkg/types"
)

var fetchFlags struct {
	symbols   []string
	timeframe string
	start     string
	end       string
	restURL   string
	chAddr    string
	chDB      string
	chTable   string
	chUser    string
	chPass    string
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download kline history into the local store",
	Long: `Download kline history into the local store.

Bars land in the --data directory as JSON files; with --ch-addr they
are also ingested into ClickHouse for the API daemon to serve.`,
	RunE: runFetch,
}

func init() {
	f := fetchCmd.Flags()
	f.StringSliceVar(&fetchFlags.symbols, "symbols", []string{"BTCUSDT"}, "symbols to fetch")
	f.StringVar(&fetchFlags.timeframe, "timeframe", "1h", "bar timeframe")
	f.StringVar(&fetchFlags.start, "start", "", "start bound (inclusive)")
	f.StringVar(&fetchFlags.end, "end", "", "end bound (inclusive)")
	f.StringVar(&fetchFlags.restURL, "rest-url", "https://api.binance.com", "kline API base URL")
	f.StringVar(&fetchFlags.chAddr, "ch-addr", "", "ClickHouse address (host:port), empty to skip ingest")
	f.StringVar(&fetchFlags.chDB, "ch-database", "quant", "ClickHouse database")
	f.StringVar(&fetchFlags.chTable, "ch-table", "candles", "ClickHouse table")
	f.StringVar(&fetchFlags.chUser, "ch-user", "default", "ClickHouse username")
	f.StringVar(&fetchFlags.chPass, "ch-password", "", "ClickHouse password")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	defer logger.Sync()
	ctx := cmd.Context()

	start, err := parseTime(fetchFlags.start)
	if err != nil {
		return err
	}
	end, err := parseTime(fetchFlags.end)
	if err != nil {
		return err
	}
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("fetch needs explicit --start and --end bounds")
	}
	timeframe := types.Timeframe(fetchFlags.timeframe)

	store, err := newStore(logger)
	if err != nil {
		return err
	}
	client := data.NewKlineClient(logger, fetchFlags.restURL)

	var warehouse *data.ClickHouseSource
	if fetchFlags.chAddr != "" {
		warehouse, err = data.NewClickHouseSource(ctx, logger, data.ClickHouseConfig{
			Addr:     fetchFlags.chAddr,
			Database: fetchFlags.chDB,
			Table:    fetchFlags.chTable,
			Username: fetchFlags.chUser,
			Password: fetchFlags.chPass,
		})
		if err != nil {
			return err
		}
		defer warehouse.Close()
	}

	out := cmd.OutOrStdout()
	for _, symbol := range fetchFlags.symbols {
		bars, err := client.Fetch(ctx, symbol, timeframe, start, end)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", symbol, err)
		}
		if err := store.Put(symbol, timeframe, bars); err != nil {
			return fmt.Errorf("store %s: %w", symbol, err)
		}
		if warehouse != nil {
			if err := warehouse.Ingest(ctx, symbol, timeframe, bars); err != nil {
				return fmt.Errorf("ingest %s: %w", symbol, err)
			}
		}
		logger.Info("fetched history",
			zap.String("symbol", symbol),
			zap.Int("bars", len(bars)),
		)
		fmt.Fprintf(out, "%s: %d bars\n", symbol, len(bars))
	}
	return nil
}
