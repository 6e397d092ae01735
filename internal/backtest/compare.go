package backtest

import "quantlab/internal/domain"

// SummaryRow is one line of the comparison table.
type SummaryRow struct {
	Name         string  `json:"strategy"`
	Strategy     string  `json:"strategy_type"`
	Symbol       string  `json:"symbol"`
	TotalReturn  float64 `json:"total_return"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	NumTrades    int     `json:"num_trades"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	FinalValue   float64 `json:"final_value"`
}

// Highlight names the run that leads on one figure.
type Highlight struct {
	Name  string  `json:"strategy"`
	ID    string  `json:"id"`
	Value float64 `json:"value"`
}

// ComparisonReport lines up the results of a batch.
type ComparisonReport struct {
	Summary      []SummaryRow                    `json:"summary"`
	EquityCurves map[string][]domain.EquityPoint `json:"equity_curves"`

	// Nil when there are no results.
	BestReturn     *Highlight `json:"best_return,omitempty"`
	BestSharpe     *Highlight `json:"best_sharpe,omitempty"`
	LowestDrawdown *Highlight `json:"lowest_drawdown,omitempty"`
}

// Compare builds the comparison across results. Ties go to the earlier
// result.
func Compare(results []*domain.RunResult) ComparisonReport {
	report := ComparisonReport{
		Summary:      make([]SummaryRow, 0, len(results)),
		EquityCurves: make(map[string][]domain.EquityPoint, len(results)),
	}
	if len(results) == 0 {
		return report
	}

	bestRet, bestSharpe, lowestDD := results[0], results[0], results[0]
	for _, r := range results {
		report.Summary = append(report.Summary, SummaryRow{
			Name:         r.Name,
			Strategy:     r.Strategy,
			Symbol:       r.Symbol,
			TotalReturn:  r.TotalReturn,
			SharpeRatio:  r.SharpeRatio,
			MaxDrawdown:  r.MaxDrawdown,
			NumTrades:    r.NumTrades,
			WinRate:      r.WinRate,
			ProfitFactor: r.ProfitFactor,
			FinalValue:   r.FinalValue,
		})
		report.EquityCurves[r.Name] = r.EquityCurve

		if r.TotalReturn > bestRet.TotalReturn {
			bestRet = r
		}
		if r.SharpeRatio > bestSharpe.SharpeRatio {
			bestSharpe = r
		}
		if r.MaxDrawdown < lowestDD.MaxDrawdown {
			lowestDD = r
		}
	}

	report.BestReturn = &Highlight{Name: bestRet.Name, ID: bestRet.ID, Value: bestRet.TotalReturn}
	report.BestSharpe = &Highlight{Name: bestSharpe.Name, ID: bestSharpe.ID, Value: bestSharpe.SharpeRatio}
	report.LowestDrawdown = &Highlight{Name: lowestDD.Name, ID: lowestDD.ID, Value: lowestDD.MaxDrawdown}
	return report
}
