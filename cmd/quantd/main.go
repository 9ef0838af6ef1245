// Package main runs the backtest API daemon.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stratos-labs/quant-backend/internal/api"
	"github.com/stratos-labs/quant-backend/internal/config"
	"github.com/stratos-labs/quant-backend/internal/data"
	"github.com/stratos-labs/quant-backend/internal/strategy"
	"github.com/stratos-labs/quant-backend/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Directory holding quantd.yaml")
	flag.Parse()

	// Missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	logger := setupLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting quantd",
		zap.String("addr", cfg.Server.Addr),
		zap.String("dataDir", cfg.Data.Dir),
	)

	store, err := data.NewStore(logger, cfg.Data.Dir)
	if err != nil {
		logger.Fatal("init data store", zap.Error(err))
	}

	loadBars := api.HistoryLoader(store.LoadAll)
	if cfg.Data.ClickHouse.Addr != "" {
		warehouse, err := data.NewClickHouseSource(context.Background(), logger, cfg.Data.ClickHouse)
		if err != nil {
			logger.Fatal("connect clickhouse", zap.Error(err))
		}
		defer warehouse.Close()
		loadBars = func(symbols []string, timeframe types.Timeframe, start, end time.Time) (map[string][]types.OHLCV, error) {
			return warehouse.LoadAll(context.Background(), symbols, timeframe, start, end)
		}
	}

	registry := strategy.NewRegistry(logger)
	logger.Info("registered strategies", zap.Strings("strategies", registry.List()))

	server := api.NewServer(logger, api.Config{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, registry, loadBars)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Fatal("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	logger.Info("quantd stopped")
}

func setupLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
