package costing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldledger/fieldledger/internal/ledger"
)

func TestComputeSplitsActualAndForecast(t *testing.T) {
	items := []ledger.CostItem{
		{TotalCost: 280, LockStatus: ledger.LockLocked},
		{TotalCost: 120.50, LockStatus: ledger.LockLocked},
		{TotalCost: 75.25, LockStatus: ledger.LockOpen},
	}

	f := Compute(7, 1000, items)
	require.Equal(t, int64(7), f.JobID)
	require.Equal(t, 400.50, f.ActualCost)
	require.Equal(t, 475.75, f.ForecastCost)
	require.Equal(t, 599.50, f.ActualMargin)
	require.Equal(t, 524.25, f.ForecastMargin)
	require.Equal(t, 59.95, f.ActualMarginPct)
	require.Equal(t, 52.43, f.ForecastMarginPct)
}

func TestComputeIsDeterministic(t *testing.T) {
	items := []ledger.CostItem{
		{TotalCost: 333.33, LockStatus: ledger.LockLocked},
		{TotalCost: 666.67, LockStatus: ledger.LockOpen},
		{TotalCost: 0.01, LockStatus: ledger.LockLocked},
	}

	first := Compute(3, 1234.56, items)
	second := Compute(3, 1234.56, items)
	third := Compute(3, 1234.56, items)
	require.Equal(t, first, second)
	require.Equal(t, first, third)
}

func TestComputeZeroBudget(t *testing.T) {
	items := []ledger.CostItem{{TotalCost: 500, LockStatus: ledger.LockLocked}}

	f := Compute(7, 0, items)
	require.Equal(t, 500.0, f.ActualCost)
	require.Equal(t, -500.0, f.ActualMargin)
	require.Zero(t, f.ActualMarginPct)
	require.Zero(t, f.ForecastMarginPct)
}

func TestComputeEmptyLedger(t *testing.T) {
	f := Compute(7, 2500, nil)
	require.Zero(t, f.ActualCost)
	require.Zero(t, f.ForecastCost)
	require.Equal(t, 2500.0, f.ActualMargin)
	require.Equal(t, 100.0, f.ActualMarginPct)
}
