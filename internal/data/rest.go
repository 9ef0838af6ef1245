package data

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stratos-labs/quant-backend/pkg/types"
)

// klineBatchLimit is the maximum rows per exchange request.
const klineBatchLimit = 1000

// KlineClient fetches historical candles from a Binance-compatible
// REST API. Responses arrive as arrays of mixed-type fields with prices
// as strings, which is exactly what exact decimal parsing needs.
type KlineClient struct {
	logger *zap.Logger
	client *resty.Client
}

// NewKlineClient creates a client against baseURL
// (e.g. https://api.binance.com).
func NewKlineClient(logger *zap.Logger, baseURL string) *KlineClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(time.Second)
	return &KlineClient{
		logger: logger.Named("klines"),
		client: client,
	}
}

// Fetch downloads all candles for [start, end], paging through the
// exchange's batch limit.
func (k *KlineClient) Fetch(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.OHLCV, error) {
	var bars []types.OHLCV
	cursor := start
	for cursor.Before(end) {
		batch, err := k.fetchBatch(ctx, symbol, timeframe, cursor, end)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		bars = append(bars, batch...)
		cursor = batch[len(batch)-1].Timestamp.Add(time.Millisecond)
	}
	k.logger.Info("klines fetched",
		zap.String("symbol", symbol),
		zap.String("timeframe", string(timeframe)),
		zap.Int("count", len(bars)),
	)
	return bars, nil
}

func (k *KlineClient) fetchBatch(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.OHLCV, error) {
	resp, err := k.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":    symbol,
			"interval":  string(timeframe),
			"startTime": strconv.FormatInt(start.UnixMilli(), 10),
			"endTime":   strconv.FormatInt(end.UnixMilli(), 10),
			"limit":     strconv.Itoa(klineBatchLimit),
		}).
		Get("/api/v3/klines")
	if err != nil {
		return nil, fmt.Errorf("fetch klines: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch klines: status %d: %s", resp.StatusCode(), resp.String())
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("parse klines: %w", err)
	}

	bars := make([]types.OHLCV, 0, len(rows))
	for _, row := range rows {
		bar, err := parseKlineRow(row)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// parseKlineRow decodes one exchange kline row:
// [openTime, open, high, low, close, volume, closeTime, ...].
func parseKlineRow(row []json.RawMessage) (types.OHLCV, error) {
	if len(row) < 6 {
		return types.OHLCV{}, fmt.Errorf("kline row has %d fields, want at least 6", len(row))
	}

	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return types.OHLCV{}, fmt.Errorf("parse open time: %w", err)
	}

	var prices [5]decimal.Decimal
	for i := 0; i < 5; i++ {
		var raw string
		if err := json.Unmarshal(row[i+1], &raw); err != nil {
			return types.OHLCV{}, fmt.Errorf("parse kline field %d: %w", i+1, err)
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return types.OHLCV{}, fmt.Errorf("parse kline field %d %q: %w", i+1, raw, err)
		}
		prices[i] = v
	}

	return types.OHLCV{
		Timestamp: time.UnixMilli(openMs).UTC(),
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Volume:    prices[4],
	}, nil
}
