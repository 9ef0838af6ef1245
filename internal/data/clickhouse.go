package data

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stratos-labs/quant-backend/pkg/types"
)

// ClickHouseConfig holds connection settings for the bar warehouse.
type ClickHouseConfig struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Database string `json:"database" mapstructure:"database"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Table    string `json:"table" mapstructure:"table"`
}

// ClickHouseSource loads and ingests bars from a ClickHouse warehouse.
// Prices travel as strings end to end so no float conversion ever
// touches them.
type ClickHouseSource struct {
	logger *zap.Logger
	conn   driver.Conn
	table  string
}

// NewClickHouseSource opens a native-protocol connection and pings it.
func NewClickHouseSource(ctx context.Context, logger *zap.Logger, cfg ClickHouseConfig) (*ClickHouseSource, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	table := cfg.Table
	if table == "" {
		table = "candles"
	}
	return &ClickHouseSource{
		logger: logger.Named("clickhouse"),
		conn:   conn,
		table:  table,
	}, nil
}

// Close releases the connection.
func (c *ClickHouseSource) Close() error { return c.conn.Close() }

// Load fetches a symbol's bars inside [start, end], ordered by
// timestamp ascending.
func (c *ClickHouseSource) Load(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.OHLCV, error) {
	query := fmt.Sprintf(`
		SELECT timestamp, open, high, low, close, volume
		FROM %s
		WHERE symbol = ? AND interval = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC`, c.table)

	rows, err := c.conn.Query(ctx, query, symbol, string(timeframe), start, end)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var bars []types.OHLCV
	for rows.Next() {
		var (
			ts                             time.Time
			open, high, low, close, volume string
		)
		if err := rows.Scan(&ts, &open, &high, &low, &close, &volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		bar, err := parseBar(ts, open, high, low, close, volume)
		if err != nil {
			return nil, fmt.Errorf("bar at %s: %w", ts, err)
		}
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bars: %w", err)
	}

	c.logger.Debug("bars loaded",
		zap.String("symbol", symbol),
		zap.String("timeframe", string(timeframe)),
		zap.Int("count", len(bars)),
	)
	return bars, nil
}

// LoadAll fetches every requested symbol.
func (c *ClickHouseSource) LoadAll(ctx context.Context, symbols []string, timeframe types.Timeframe, start, end time.Time) (map[string][]types.OHLCV, error) {
	history := make(map[string][]types.OHLCV, len(symbols))
	for _, symbol := range symbols {
		bars, err := c.Load(ctx, symbol, timeframe, start, end)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", symbol, err)
		}
		history[symbol] = bars
	}
	return history, nil
}

// Ingest batch-inserts bars for a symbol.
func (c *ClickHouseSource) Ingest(ctx context.Context, symbol string, timeframe types.Timeframe, bars []types.OHLCV) error {
	if len(bars) == 0 {
		return nil
	}
	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (symbol, interval, timestamp, open, high, low, close, volume)", c.table))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, b := range bars {
		if err := batch.Append(
			symbol,
			string(timeframe),
			b.Timestamp,
			b.Open.String(),
			b.High.String(),
			b.Low.String(),
			b.Close.String(),
			b.Volume.String(),
		); err != nil {
			return fmt.Errorf("append bar at %s: %w", b.Timestamp, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	c.logger.Info("bars ingested",
		zap.String("symbol", symbol),
		zap.String("timeframe", string(timeframe)),
		zap.Int("count", len(bars)),
	)
	return nil
}

func parseBar(ts time.Time, open, high, low, closePx, volume string) (types.OHLCV, error) {
	fields := [5]string{open, high, low, closePx, volume}
	var parsed [5]decimal.Decimal
	for i, raw := range fields {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return types.OHLCV{}, fmt.Errorf("parse %q: %w", raw, err)
		}
		parsed[i] = v
	}
	return types.OHLCV{
		Timestamp: ts,
		Open:      parsed[0],
		High:      parsed[1],
		Low:       parsed[2],
		Close:     parsed[3],
		Volume:    parsed[4],
	}, nil
}
