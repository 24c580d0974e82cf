package money

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVAT(t *testing.T) {
	vat := VAT(123.45, 0.2)
	require.InDelta(t, 24.69, vat, 0.001)

	total := Total(123.45, vat)
	require.InDelta(t, 148.14, total, 0.001)
	require.InDelta(t, 123.45+vat, total, 0.01)
}

func TestVATZeroRate(t *testing.T) {
	require.Zero(t, VAT(500, 0))
	require.InDelta(t, 500.0, Total(500, 0), 0.001)
}

func TestLine(t *testing.T) {
	require.InDelta(t, 93.38, Line(3.5, 26.68), 0.001)
	require.InDelta(t, 0.0, Line(0, 100), 0.001)
}

func TestRound(t *testing.T) {
	require.InDelta(t, 10.01, Round(10.005), 0.001)
	require.InDelta(t, -10.01, Round(-10.005), 0.001)
}
