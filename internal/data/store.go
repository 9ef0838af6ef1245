// Package data provides market data storage and loading.
package data

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stratos-labs/quant-backend/pkg/types"
)

// Store is a file-backed bar archive with an in-memory cache. One JSON
// file holds one symbol and timeframe; bars are kept sorted by
// timestamp. All methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	dataDir string
	cache   map[string][]types.OHLCV
}

// NewStore creates a store rooted at dataDir, creating it if needed.
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{
		logger:  logger.Named("store"),
		dataDir: dataDir,
		cache:   make(map[string][]types.OHLCV),
	}, nil
}

func cacheKey(symbol string, timeframe types.Timeframe) string {
	return fmt.Sprintf("%s_%s", symbol, timeframe)
}

func (s *Store) filename(symbol string, timeframe types.Timeframe) string {
	return filepath.Join(s.dataDir, cacheKey(symbol, timeframe)+".json")
}

// Load returns the symbol's bars inside [start, end], both bounds
// inclusive and optional (zero means unbounded). Missing symbols are an
// error; an empty window is not.
func (s *Store) Load(symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.OHLCV, error) {
	key := cacheKey(symbol, timeframe)

	s.mu.RLock()
	bars, ok := s.cache[key]
	s.mu.RUnlock()

	if !ok {
		var err error
		bars, err = s.readFile(symbol, timeframe)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache[key] = bars
		s.mu.Unlock()
	}

	return filterRange(bars, start, end), nil
}

// LoadAll loads every requested symbol at once, the shape a simulation
// run consumes.
func (s *Store) LoadAll(symbols []string, timeframe types.Timeframe, start, end time.Time) (map[string][]types.OHLCV, error) {
	history := make(map[string][]types.OHLCV, len(symbols))
	for _, symbol := range symbols {
		bars, err := s.Load(symbol, timeframe, start, end)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", symbol, err)
		}
		history[symbol] = bars
	}
	return history, nil
}

// Put merges bars into the symbol's archive and persists it. Duplicate
// timestamps resolve in favor of the incoming bar.
func (s *Store) Put(symbol string, timeframe types.Timeframe, bars []types.OHLCV) error {
	if len(bars) == 0 {
		return nil
	}
	key := cacheKey(symbol, timeframe)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.cache[key]
	if !ok {
		loaded, err := s.readFile(symbol, timeframe)
		if err == nil {
			existing = loaded
		}
	}

	byTime := make(map[int64]types.OHLCV, len(existing)+len(bars))
	for _, b := range existing {
		byTime[b.Timestamp.UnixNano()] = b
	}
	for _, b := range bars {
		byTime[b.Timestamp.UnixNano()] = b
	}

	merged := make([]types.OHLCV, 0, len(byTime))
	for _, b := range byTime {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})

	payload, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal bars: %w", err)
	}
	if err := os.WriteFile(s.filename(symbol, timeframe), payload, 0o644); err != nil {
		return fmt.Errorf("write bars: %w", err)
	}

	s.cache[key] = merged
	s.logger.Info("bars stored",
		zap.String("symbol", symbol),
		zap.String("timeframe", string(timeframe)),
		zap.Int("added", len(bars)),
		zap.Int("total", len(merged)),
	)
	return nil
}

// Symbols lists the symbols present on disk for a timeframe, sorted.
func (s *Store) Symbols(timeframe types.Timeframe) ([]string, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("read data directory: %w", err)
	}
	suffix := fmt.Sprintf("_%s.json", timeframe)
	var symbols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		symbols = append(symbols, name[:len(name)-len(suffix)])
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Range reports the first and last bar timestamps for a symbol.
func (s *Store) Range(symbol string, timeframe types.Timeframe) (start, end time.Time, err error) {
	bars, err := s.Load(symbol, timeframe, time.Time{}, time.Time{})
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if len(bars) == 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("no bars for %s %s", symbol, timeframe)
	}
	return bars[0].Timestamp, bars[len(bars)-1].Timestamp, nil
}

func (s *Store) readFile(symbol string, timeframe types.Timeframe) ([]types.OHLCV, error) {
	payload, err := os.ReadFile(s.filename(symbol, timeframe))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no data for %s %s", symbol, timeframe)
		}
		return nil, fmt.Errorf("read bars: %w", err)
	}
	var bars []types.OHLCV
	if err := json.Unmarshal(payload, &bars); err != nil {
		return nil, fmt.Errorf("parse bars: %w", err)
	}
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

func filterRange(bars []types.OHLCV, start, end time.Time) []types.OHLCV {
	out := make([]types.OHLCV, 0, len(bars))
	for _, b := range bars {
		if !start.IsZero() && b.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}
