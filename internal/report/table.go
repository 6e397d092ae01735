package report

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"quantlab/internal/backtest"
	"quantlab/internal/metrics"
	"quantlab/internal/store"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	gainStyle   = cellStyle.Foreground(lipgloss.Color("42"))
	lossStyle   = cellStyle.Foreground(lipgloss.Color("196"))
)

// newTable returns a bordered table that colors the returnCol cell of each
// row by the sign of returns[row].
func newTable(returns []float64, returnCol int, headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == returnCol && row >= 0 && row < len(returns) && returns[row] > 0:
				return gainStyle
			case col == returnCol && row >= 0 && row < len(returns) && returns[row] < 0:
				return lossStyle
			}
			return cellStyle
		})
}

// WriteComparison writes the summary rows followed by the leaders.
func WriteComparison(w io.Writer, rep backtest.ComparisonReport) error {
	returns := make([]float64, len(rep.Summary))
	for i, r := range rep.Summary {
		returns[i] = r.TotalReturn
	}

	t := newTable(returns, 1, "STRATEGY", "RETURN", "SHARPE", "MAX DD", "TRADES", "WIN RATE", "PF", "FINAL VALUE")
	for _, r := range rep.Summary {
		t.Row(
			r.Name,
			FormatReturn(r.TotalReturn),
			fmt.Sprintf("%.3f", r.SharpeRatio),
			FormatPct(r.MaxDrawdown, 2),
			FormatInt(r.NumTrades),
			FormatPct(r.WinRate, 1),
			FormatProfitFactor(r.ProfitFactor, metrics.ProfitFactorSentinel),
			FormatMoney(r.FinalValue),
		)
	}
	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return err
	}
	if rep.BestReturn == nil {
		return nil
	}

	_, err := fmt.Fprintf(w, "\nbest return:     %s (%s)\nbest sharpe:     %s (%.3f)\nlowest drawdown: %s (%s)\n",
		rep.BestReturn.Name, FormatReturn(rep.BestReturn.Value),
		rep.BestSharpe.Name, rep.BestSharpe.Value,
		rep.LowestDrawdown.Name, FormatPct(rep.LowestDrawdown.Value, 2),
	)
	return err
}

// WriteResults writes stored result summaries, one per row.
func WriteResults(w io.Writer, rows []store.ResultSummary) error {
	returns := make([]float64, len(rows))
	for i, r := range rows {
		returns[i] = r.TotalReturn
	}

	t := newTable(returns, 2, "ID", "NAME", "RETURN", "SHARPE", "MAX DD", "TRADES", "CREATED")
	for _, r := range rows {
		t.Row(
			r.ID,
			r.Name,
			FormatReturn(r.TotalReturn),
			fmt.Sprintf("%.3f", r.SharpeRatio),
			FormatPct(r.MaxDrawdown, 2),
			FormatInt(r.NumTrades),
			r.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
