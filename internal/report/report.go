// Package report renders completed run results for humans and
// machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/template"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratos-labs/quant-backend/internal/backtest"
	"github.com/stratos-labs/quant-backend/pkg/types"
)

const markdownTemplate = `# Backtest Report: {{.ID}}

- **Strategy:** {{.Strategy}}
- **Period:** {{.Period}}
- **Initial capital:** {{.InitialCapital}}
- **Final equity:** {{.FinalEquity}}
- **Elapsed:** {{.Elapsed}}

## Performance

| Metric | Value |
|--------|-------|
| Total return | {{.TotalReturnPct}} |
| Annualized return | {{pct .Summary.AnnualizedReturn}} |
| Sharpe ratio | {{fixed .Summary.SharpeRatio}} |
| Sortino ratio | {{fixed .Summary.SortinoRatio}} |
| Calmar ratio | {{fixed .Summary.CalmarRatio}} |
| Volatility | {{pct .Summary.Volatility}} |
| Max drawdown | {{pct .Summary.MaxDrawdown}} |
| Max drawdown duration | {{.Summary.MaxDrawdownDuration}} |

## Trading

| Metric | Value |
|--------|-------|
| Total trades | {{.Summary.TotalTrades}} |
| Closing trades | {{.Summary.ClosingTrades}} |
| Win rate | {{pct .Summary.WinRate}} |
| Profit factor | {{fixed .Summary.ProfitFactor}} |
| Avg win | {{fixed .Summary.AvgWin}} |
| Avg loss | {{fixed .Summary.AvgLoss}} |
| Largest win | {{fixed .Summary.LargestWin}} |
| Largest loss | {{fixed .Summary.LargestLoss}} |
| Expectancy | {{fixed .Summary.Expectancy}} |
| Total commission | {{fixed .Summary.TotalCommission}} |
| Realized PnL | {{fixed .RealizedPnL}} |
{{if .OpenPositions}}
## Open Positions

| Symbol | Quantity | Avg Price |
|--------|----------|-----------|
{{range .OpenPositions}}| {{.Symbol}} | {{.Quantity}} | {{.AvgPrice}} |
{{end}}{{end}}`

var funcs = template.FuncMap{
	"fixed": func(v decimal.Decimal) string { return v.StringFixed(4) },
	"pct": func(v decimal.Decimal) string {
		return v.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
	},
}

var markdownTmpl = template.Must(template.New("report").Funcs(funcs).Parse(markdownTemplate))

type reportData struct {
	ID             string
	Strategy       string
	Period         string
	InitialCapital string
	FinalEquity    string
	Elapsed        time.Duration
	TotalReturnPct string
	Summary        *types.PerformanceMetrics
	RealizedPnL    decimal.Decimal
	OpenPositions  []types.Position
}

// WriteMarkdown renders a human-readable summary of the run.
func WriteMarkdown(w io.Writer, result *backtest.Result) error {
	summary := result.Summary()

	finalEquity := result.FinalCash
	if n := len(result.EquityCurve); n > 0 {
		finalEquity = result.EquityCurve[n-1].Equity
	}

	period := "full history"
	if !result.Config.Start.IsZero() || !result.Config.End.IsZero() {
		period = fmt.Sprintf("%s to %s",
			formatBound(result.Config.Start), formatBound(result.Config.End))
	}

	var open []types.Position
	for _, p := range result.FinalPositions {
		if !p.IsFlat() {
			open = append(open, p)
		}
	}
	sortPositions(open)

	data := reportData{
		ID:             result.ID,
		Strategy:       result.Config.Strategy,
		Period:         period,
		InitialCapital: result.Config.InitialCapital.String(),
		FinalEquity:    finalEquity.String(),
		Elapsed:        result.CompletedAt.Sub(result.StartedAt).Round(time.Millisecond),
		TotalReturnPct: funcs["pct"].(func(decimal.Decimal) string)(summary.TotalReturn),
		Summary:        summary,
		RealizedPnL:    result.RealizedPnL,
		OpenPositions:  open,
	}
	return markdownTmpl.Execute(w, data)
}

// WriteJSON renders the full result, summary included, as indented
// JSON.
func WriteJSON(w io.Writer, result *backtest.Result) error {
	payload := struct {
		*backtest.Result
		Summary *types.PerformanceMetrics `json:"summary"`
	}{Result: result, Summary: result.Summary()}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "open"
	}
	return t.Format("2006-01-02")
}

func sortPositions(positions []types.Position) {
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})
}
