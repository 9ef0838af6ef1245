package backtest

import (
	"sort"
	"time"

	"github.com/stratos-labs/quant-backend/pkg/types"
)

// Timeline is the master clock of a simulation: the globally sorted,
// deduplicated union of timestamps across all symbols' price series,
// plus per-symbol bar lookup and trailing history windows.
type Timeline struct {
	ticks   []time.Time
	symbols []string
	bars    map[string][]types.OHLCV
	// index maps symbol -> tick unix nanos -> position in bars[symbol].
	index map[string]map[int64]int
}

// NewTimeline builds the merged clock from per-symbol histories. Input
// series are copied and sorted chronologically; symbols with no bars are
// dropped. Bounds are inclusive; zero bounds are unbounded.
func NewTimeline(history map[string][]types.OHLCV, start, end time.Time) *Timeline {
	t := &Timeline{
		bars:  make(map[string][]types.OHLCV, len(history)),
		index: make(map[string]map[int64]int, len(history)),
	}

	seen := make(map[int64]time.Time)
	for symbol, series := range history {
		bars := make([]types.OHLCV, 0, len(series))
		for _, b := range series {
			if !start.IsZero() && b.Timestamp.Before(start) {
				continue
			}
			if !end.IsZero() && b.Timestamp.After(end) {
				continue
			}
			bars = append(bars, b)
		}
		if len(bars) == 0 {
			continue
		}
		sort.SliceStable(bars, func(i, j int) bool {
			return bars[i].Timestamp.Before(bars[j].Timestamp)
		})

		idx := make(map[int64]int, len(bars))
		for i, b := range bars {
			ns := b.Timestamp.UnixNano()
			idx[ns] = i
			if _, ok := seen[ns]; !ok {
				seen[ns] = b.Timestamp
			}
		}
		t.bars[symbol] = bars
		t.index[symbol] = idx
		t.symbols = append(t.symbols, symbol)
	}

	sort.Strings(t.symbols)
	t.ticks = make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		t.ticks = append(t.ticks, ts)
	}
	sort.Slice(t.ticks, func(i, j int) bool { return t.ticks[i].Before(t.ticks[j]) })
	return t
}

// Len returns the number of clock ticks.
func (t *Timeline) Len() int { return len(t.ticks) }

// At returns the timestamp of tick i.
func (t *Timeline) At(i int) time.Time { return t.ticks[i] }

// Symbols returns all symbols with data, sorted for deterministic
// iteration.
func (t *Timeline) Symbols() []string { return t.symbols }

// Bar returns the symbol's bar at timestamp ts, if it has one.
func (t *Timeline) Bar(symbol string, ts time.Time) (types.OHLCV, bool) {
	i, ok := t.index[symbol][ts.UnixNano()]
	if !ok {
		return types.OHLCV{}, false
	}
	return t.bars[symbol][i], true
}

// NextBar returns the symbol's bar immediately after ts in its own
// series, regardless of other symbols' ticks in between.
func (t *Timeline) NextBar(symbol string, ts time.Time) (types.OHLCV, bool) {
	i, ok := t.index[symbol][ts.UnixNano()]
	if !ok || i+1 >= len(t.bars[symbol]) {
		return types.OHLCV{}, false
	}
	return t.bars[symbol][i+1], true
}

// IsLastBar reports whether ts is the symbol's final bar.
func (t *Timeline) IsLastBar(symbol string, ts time.Time) bool {
	i, ok := t.index[symbol][ts.UnixNano()]
	return ok && i == len(t.bars[symbol])-1
}

// LastBar returns the symbol's final bar.
func (t *Timeline) LastBar(symbol string) (types.OHLCV, bool) {
	bars := t.bars[symbol]
	if len(bars) == 0 {
		return types.OHLCV{}, false
	}
	return bars[len(bars)-1], true
}

// History returns the trailing lookback bars preceding (and excluding)
// the symbol's bar at ts. The slice is a read-only view; callers must
// not mutate it.
func (t *Timeline) History(symbol string, ts time.Time, lookback int) []types.OHLCV {
	i, ok := t.index[symbol][ts.UnixNano()]
	if !ok || lookback <= 0 {
		return nil
	}
	from := i - lookback
	if from < 0 {
		from = 0
	}
	return t.bars[symbol][from:i]
}
