package domain

import "github.com/shopspring/decimal"

// FXRate is a (snapshot, from, to) -> positive rate. A missing rate
// routes the affected amount to the Unknown bucket; it must never be
// silently treated as 1.0.
type FXRate struct {
	SnapshotID string
	FromCcy    string
	ToCcy      string
	Rate       decimal.Decimal
}

// MatchingPolicy holds per entity/currency reconciliation thresholds.
type MatchingPolicy struct {
	EntityID            string
	Currency            string
	AmountTolerance     float64 // fraction, e.g. 0.02 for 2%
	DateWindowDays      int
	Tier2MinConfidence  float64
	Tier3MinConfidence  float64
	AutoApplyTier1      bool
	AutoApplyTier2      bool
}

// DefaultMatchingPolicy returns conservative production defaults.
func DefaultMatchingPolicy(entityID, currency string) MatchingPolicy {
	return MatchingPolicy{
		EntityID:           entityID,
		Currency:           currency,
		AmountTolerance:    0.01,
		DateWindowDays:     5,
		Tier2MinConfidence: 0.80,
		Tier3MinConfidence: 0.60,
		AutoApplyTier1:     true,
		AutoApplyTier2:     false,
	}
}
