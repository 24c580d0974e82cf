// Package costing derives budget/cost/margin summaries for jobs. Compute is
// pure, so the same ledger always yields the same numbers; Reader wraps it
// with storage access and a best-effort cache.
package costing

import (
	"github.com/fieldledger/fieldledger/internal/ledger"
	"github.com/fieldledger/fieldledger/internal/money"
)

// JobFinancials is a derived summary, never stored.
type JobFinancials struct {
	JobID             int64   `json:"jobId"`
	BudgetSubtotal    float64 `json:"budgetSubtotal"`
	ActualCost        float64 `json:"actualCost"`
	ForecastCost      float64 `json:"forecastCost"`
	ActualMargin      float64 `json:"actualMargin"`
	ForecastMargin    float64 `json:"forecastMargin"`
	ActualMarginPct   float64 `json:"actualMarginPct"`
	ForecastMarginPct float64 `json:"forecastMarginPct"`
}

// Compute aggregates a job's ledger against its budget. Actual cost counts
// only locked items; forecast counts every item. Margin percentages are zero
// when the budget is zero rather than dividing by it.
func Compute(jobID int64, budgetSubtotal float64, items []ledger.CostItem) JobFinancials {
	f := JobFinancials{JobID: jobID, BudgetSubtotal: budgetSubtotal}
	for _, item := range items {
		f.ForecastCost = money.Round(f.ForecastCost + item.TotalCost)
		if item.Locked() {
			f.ActualCost = money.Round(f.ActualCost + item.TotalCost)
		}
	}
	f.ActualMargin = money.Round(budgetSubtotal - f.ActualCost)
	f.ForecastMargin = money.Round(budgetSubtotal - f.ForecastCost)
	if budgetSubtotal != 0 {
		f.ActualMarginPct = money.Round(f.ActualMargin / budgetSubtotal * 100)
		f.ForecastMarginPct = money.Round(f.ForecastMargin / budgetSubtotal * 100)
	}
	return f
}
