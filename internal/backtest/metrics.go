package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratos-labs/quant-backend/pkg/types"
)

// computeSummary derives all performance metrics from the equity curve
// and trade log. Monetary aggregates stay in decimal; ratio statistics
// (Sharpe, volatility) convert to float64 at the last step.
func computeSummary(curve []types.EquityPoint, trades []types.Trade, initialCapital decimal.Decimal) *types.PerformanceMetrics {
	m := &types.PerformanceMetrics{TotalTrades: len(trades)}

	// Win/loss statistics from per-trade realized PnL. Only fills that
	// closed exposure count; pure opens have nothing realized yet.
	var totalWins, totalLosses decimal.Decimal
	for _, t := range trades {
		if !t.ClosedQuantity.IsPositive() {
			continue
		}
		m.ClosingTrades++
		switch {
		case t.RealizedPnL.IsPositive():
			m.WinningTrades++
			totalWins = totalWins.Add(t.RealizedPnL)
			if t.RealizedPnL.GreaterThan(m.LargestWin) {
				m.LargestWin = t.RealizedPnL
			}
		case t.RealizedPnL.IsNegative():
			m.LosingTrades++
			loss := t.RealizedPnL.Abs()
			totalLosses = totalLosses.Add(loss)
			if loss.GreaterThan(m.LargestLoss) {
				m.LargestLoss = loss
			}
		}
	}

	if m.ClosingTrades > 0 {
		m.WinRate = decimal.NewFromInt(int64(m.WinningTrades)).
			Div(decimal.NewFromInt(int64(m.ClosingTrades)))
	}
	if m.WinningTrades > 0 {
		m.AvgWin = totalWins.Div(decimal.NewFromInt(int64(m.WinningTrades)))
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = totalLosses.Div(decimal.NewFromInt(int64(m.LosingTrades)))
	}
	if !totalLosses.IsZero() {
		m.ProfitFactor = totalWins.Div(totalLosses)
	}
	if m.ClosingTrades > 0 {
		lossRate := decimal.NewFromInt(1).Sub(m.WinRate)
		m.Expectancy = m.WinRate.Mul(m.AvgWin).Sub(lossRate.Mul(m.AvgLoss))
	}

	if len(curve) == 0 || !initialCapital.IsPositive() {
		return m
	}

	finalEquity := curve[len(curve)-1].Equity
	m.TotalReturn = finalEquity.Sub(initialCapital).Div(initialCapital)

	returns := tickReturns(curve)
	periodsPerYear := annualPeriods(curve)

	if len(returns) > 0 {
		avg := mean(returns)
		m.AnnualizedReturn = decimal.NewFromFloat(avg * periodsPerYear)

		vol := stdDev(returns)
		m.Volatility = decimal.NewFromFloat(vol * math.Sqrt(periodsPerYear))
		if vol > 0 {
			m.SharpeRatio = decimal.NewFromFloat(avg / vol * math.Sqrt(periodsPerYear))
		}
		if dd := downsideDeviation(returns); dd > 0 {
			m.SortinoRatio = decimal.NewFromFloat(avg / dd * math.Sqrt(periodsPerYear))
		}
	}

	maxDD, duration := maxDrawdown(curve)
	m.MaxDrawdown = maxDD
	m.MaxDrawdownDuration = duration
	if !maxDD.IsZero() {
		m.CalmarRatio = m.AnnualizedReturn.Div(maxDD)
	}

	return m
}

// tickReturns computes per-tick simple returns from the equity curve.
func tickReturns(curve []types.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev.IsZero() {
			continue
		}
		r, _ := curve[i].Equity.Sub(prev).Div(prev).Float64()
		returns = append(returns, r)
	}
	return returns
}

// annualPeriods estimates how many equity ticks fit in a year from the
// median tick spacing, so annualization adapts to the bar timeframe.
func annualPeriods(curve []types.EquityPoint) float64 {
	const tradingDays = 252
	if len(curve) < 2 {
		return tradingDays
	}
	gaps := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		gap := curve[i].Timestamp.Sub(curve[i-1].Timestamp).Seconds()
		if gap > 0 {
			gaps = append(gaps, gap)
		}
	}
	if len(gaps) == 0 {
		return tradingDays
	}
	sort.Float64s(gaps)
	median := gaps[len(gaps)/2]
	return (365.25 * 24 * 3600) / median
}

// maxDrawdown scans the curve for the deepest peak-to-trough decline and
// how long the equity stayed below that peak.
func maxDrawdown(curve []types.EquityPoint) (decimal.Decimal, time.Duration) {
	var maxDD decimal.Decimal
	var duration time.Duration

	if len(curve) == 0 {
		return maxDD, duration
	}

	peak := curve[0].Equity
	peakAt := curve[0].Timestamp
	for _, p := range curve {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
			peakAt = p.Timestamp
			continue
		}
		if !peak.IsPositive() {
			continue
		}
		dd := peak.Sub(p.Equity).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
			duration = p.Timestamp.Sub(peakAt)
		}
	}
	return maxDD, duration
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var ss float64
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

func downsideDeviation(returns []float64) float64 {
	var negative []float64
	for _, r := range returns {
		if r < 0 {
			negative = append(negative, r)
		}
	}
	return stdDev(negative)
}
