package matching

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultline/cashops/internal/domain"
)

func invCandidate(id string, open float64, confidence float64) Candidate {
	return Candidate{
		Invoice:    &OpenInvoiceLike{ID: id, OpenAmount: decimal.NewFromFloat(open), TargetType: domain.TargetInvoice},
		Confidence: confidence,
	}
}

// S2 — Bundled payment: one bank transaction settles several invoices at
// once. The solver must allocate the full amount across all of them
// without exceeding any invoice's open amount.
func TestSolve_BundledPaymentAllocatesAcrossInvoices(t *testing.T) {
	candidates := []Candidate{
		invCandidate("inv-1", 1000, 0.95),
		invCandidate("inv-2", 2000, 0.90),
		invCandidate("inv-3", 3000, 0.85),
	}
	allocations, err := Solve(decimal.NewFromInt(6000), decimal.Zero, decimal.Zero, candidates)
	require.NoError(t, err)
	require.Len(t, allocations, 3)

	sum := decimal.Zero
	byInvoice := make(map[string]decimal.Decimal)
	for _, a := range allocations {
		sum = sum.Add(a.Amount)
		byInvoice[a.Candidate.Invoice.ID] = a.Amount
		assert.True(t, a.Amount.LessThanOrEqual(a.Candidate.Invoice.OpenAmount))
		assert.True(t, a.Amount.GreaterThan(decimal.Zero))
	}
	assert.True(t, sum.Equal(decimal.NewFromInt(6000)))
	assert.True(t, byInvoice["inv-1"].Equal(decimal.NewFromInt(1000)))
	assert.True(t, byInvoice["inv-2"].Equal(decimal.NewFromInt(2000)))
	assert.True(t, byInvoice["inv-3"].Equal(decimal.NewFromInt(3000)))
}

func TestSolve_FeesAndWriteoffsCarvedOutBeforeAllocating(t *testing.T) {
	candidates := []Candidate{invCandidate("inv-1", 1000, 0.9)}
	allocations, err := Solve(decimal.NewFromInt(990), decimal.NewFromInt(5), decimal.NewFromInt(5), candidates)
	require.NoError(t, err)
	require.Len(t, allocations, 1)
	assert.True(t, allocations[0].Amount.Equal(decimal.NewFromInt(980)))
}

func TestSolve_PartialAllocationStopsAtOpenAmount(t *testing.T) {
	candidates := []Candidate{
		invCandidate("inv-1", 500, 0.99),
		invCandidate("inv-2", 5000, 0.5),
	}
	allocations, err := Solve(decimal.NewFromInt(1000), decimal.Zero, decimal.Zero, candidates)
	require.NoError(t, err)
	require.Len(t, allocations, 2)
	assert.True(t, allocations[0].Amount.Equal(decimal.NewFromInt(500)))
	assert.True(t, allocations[1].Amount.Equal(decimal.NewFromInt(500)))
}

func TestSolve_FeesExceedingAmountIsError(t *testing.T) {
	candidates := []Candidate{invCandidate("inv-1", 1000, 0.9)}
	_, err := Solve(decimal.NewFromInt(10), decimal.NewFromInt(20), decimal.Zero, candidates)
	require.Error(t, err)
}

func TestSolve_ZeroOpenCandidateIsSkipped(t *testing.T) {
	candidates := []Candidate{
		invCandidate("inv-1", 0, 0.99),
		invCandidate("inv-2", 1000, 0.5),
	}
	allocations, err := Solve(decimal.NewFromInt(1000), decimal.Zero, decimal.Zero, candidates)
	require.NoError(t, err)
	require.Len(t, allocations, 1)
	assert.Equal(t, "inv-2", allocations[0].Candidate.Invoice.ID)
}
