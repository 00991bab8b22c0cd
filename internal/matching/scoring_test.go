package matching

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/vaultline/cashops/internal/domain"
)

func TestScore_AdditiveAcrossDimensions(t *testing.T) {
	policy := domain.DefaultMatchingPolicy("ent-1", "EUR")
	dueDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	inv := &OpenInvoiceLike{
		DocumentNumber: "INV-1042",
		Counterparty:   "Widgets Co Ltd",
		OpenAmount:     decimal.NewFromInt(1000),
		DueDate:        dueDate,
	}

	refTokens := ExtractReferenceTokens("Payment re INV-1042 thanks")
	c := Score(refTokens, decimal.NewFromInt(1000), "Widgets Co", dueDate.AddDate(0, 0, 1), inv, policy)

	assert.True(t, c.ReferenceMatched)
	assert.True(t, c.AmountMatch)
	assert.True(t, c.DateMatch)
	assert.InDelta(t, 1.0, c.Confidence, 0.001)
}

func TestScore_PartialAmountMatchDoesNotSetAmountMatch(t *testing.T) {
	policy := domain.DefaultMatchingPolicy("ent-1", "EUR")
	inv := &OpenInvoiceLike{OpenAmount: decimal.NewFromInt(1000)}
	c := Score(nil, decimal.NewFromInt(1050), "", time.Time{}, inv, policy)
	assert.False(t, c.AmountMatch)
	assert.InDelta(t, 0.2, c.Confidence, 0.001)
}

func TestScore_NoOverlapIsZero(t *testing.T) {
	policy := domain.DefaultMatchingPolicy("ent-1", "EUR")
	inv := &OpenInvoiceLike{OpenAmount: decimal.NewFromInt(1000), Counterparty: "Acme"}
	c := Score(nil, decimal.NewFromInt(50000), "Totally Unrelated", time.Time{}, inv, policy)
	assert.Equal(t, 0.0, c.Confidence)
}

func TestNormalizeCounterparty_StripsSuffixPunctuationAndCase(t *testing.T) {
	assert.Equal(t, "widgets co", NormalizeCounterparty("Widgets Co, Ltd."))
	assert.Equal(t, "acme", NormalizeCounterparty("  ACME   "))
}

func TestExtractReferenceTokens_CollectsKnownPrefixesAndDigitRuns(t *testing.T) {
	tokens := ExtractReferenceTokens("invoice INV-1042 / ref 9981 order 55 doc# 778899")
	assert.Contains(t, tokens, "1042")
	assert.Contains(t, tokens, "778899")
	assert.NotContains(t, tokens, "55")
}
