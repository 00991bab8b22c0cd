package matching

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultline/cashops/internal/domain"
)

func TestBuildBlockingIndex_CandidatesMatchByReferenceAmountCounterpartyAndWeek(t *testing.T) {
	dueDate := time.Date(2026, 4, 9, 0, 0, 0, 0, time.UTC)
	open := []*OpenInvoiceLike{
		{ID: "by-ref", DocumentNumber: "INV-5001", Counterparty: "Nobody", OpenAmount: decimal.NewFromInt(99999), DueDate: time.Time{}, TargetType: domain.TargetInvoice},
		{ID: "by-amount", DocumentNumber: "", Counterparty: "Nobody Else", OpenAmount: decimal.NewFromInt(2500), DueDate: time.Time{}, TargetType: domain.TargetInvoice},
		{ID: "by-counterparty", DocumentNumber: "", Counterparty: "Acme Holdings Ltd", OpenAmount: decimal.NewFromInt(777777), DueDate: time.Time{}, TargetType: domain.TargetInvoice},
		{ID: "by-week", DocumentNumber: "", Counterparty: "Nobody", OpenAmount: decimal.NewFromInt(555555), DueDate: dueDate, TargetType: domain.TargetInvoice},
		{ID: "unreachable", DocumentNumber: "ZZZ", Counterparty: "Unrelated Co", OpenAmount: decimal.NewFromInt(1234567), DueDate: time.Time{}, TargetType: domain.TargetInvoice},
	}
	idx := BuildBlockingIndex(open)

	refTokens := ExtractReferenceTokens("payment ref INV-5001")
	got := idx.Candidates(refTokens, decimal.NewFromInt(2500), "Acme Holdings", dueDate)

	ids := make(map[string]bool)
	for _, inv := range got {
		ids[inv.ID] = true
	}
	assert.True(t, ids["by-ref"])
	assert.True(t, ids["by-amount"])
	assert.True(t, ids["by-counterparty"])
	assert.True(t, ids["by-week"])
	assert.False(t, ids["unreachable"])
}

func TestBuildBlockingIndex_SkipsZeroOrNegativeOpenAmount(t *testing.T) {
	open := []*OpenInvoiceLike{
		{ID: "zero", OpenAmount: decimal.Zero},
		{ID: "negative", OpenAmount: decimal.NewFromInt(-5)},
	}
	idx := BuildBlockingIndex(open)
	require.Len(t, idx.invoices, 0)
}

func TestBuildBlockingIndex_DeduplicatesAcrossBlocks(t *testing.T) {
	inv := &OpenInvoiceLike{ID: "dual-match", DocumentNumber: "INV-42", Counterparty: "Acme", OpenAmount: decimal.NewFromInt(1000)}
	idx := BuildBlockingIndex([]*OpenInvoiceLike{inv})

	got := idx.Candidates(ExtractReferenceTokens("INV-42"), decimal.NewFromInt(1000), "Acme", time.Time{})
	require.Len(t, got, 1)
	assert.Equal(t, "dual-match", got[0].ID)
}
