package matching

import "github.com/vaultline/cashops/internal/domain"

// ClassifyTier assigns a candidate's reconciliation tier from the
// confidence and match flags Score set on it and the matching policy in
// effect. Order matters: deterministic is checked first, then
// rule, then suggested; anything left over is manual.
func ClassifyTier(c Candidate, policy domain.MatchingPolicy) domain.ReconciliationType {
	switch {
	case c.ReferenceMatched && c.Confidence >= 0.95:
		return domain.ReconDeterministic
	case c.AmountMatch && c.DateMatch && c.Confidence >= policy.Tier2MinConfidence:
		return domain.ReconRule
	case c.Confidence >= policy.Tier3MinConfidence:
		return domain.ReconSuggested
	default:
		return domain.ReconManual
	}
}
