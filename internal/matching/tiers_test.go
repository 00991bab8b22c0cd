package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vaultline/cashops/internal/domain"
)

func TestClassifyTier(t *testing.T) {
	policy := domain.DefaultMatchingPolicy("ent-1", "EUR")

	cases := []struct {
		name string
		c    Candidate
		want domain.ReconciliationType
	}{
		{"reference plus high confidence is deterministic",
			Candidate{ReferenceMatched: true, Confidence: 0.97}, domain.ReconDeterministic},
		{"reference below 0.95 falls through to rule when amount and date match",
			Candidate{ReferenceMatched: true, AmountMatch: true, DateMatch: true, Confidence: 0.9}, domain.ReconRule},
		{"amount and date match at exactly the tier2 floor is rule",
			Candidate{AmountMatch: true, DateMatch: true, Confidence: 0.80}, domain.ReconRule},
		{"amount match without date match is not rule",
			Candidate{AmountMatch: true, DateMatch: false, Confidence: 0.9}, domain.ReconSuggested},
		{"confidence at the tier3 floor is suggested",
			Candidate{Confidence: 0.60}, domain.ReconSuggested},
		{"confidence just under the tier3 floor is manual",
			Candidate{Confidence: 0.59}, domain.ReconManual},
		{"zero confidence is manual",
			Candidate{}, domain.ReconManual},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyTier(tc.c, policy))
		})
	}
}
