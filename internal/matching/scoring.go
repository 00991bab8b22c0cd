package matching

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultline/cashops/internal/domain"
)

// Candidate is one scored (transaction, invoice) pairing.
type Candidate struct {
	Invoice          *OpenInvoiceLike
	Confidence       float64
	AmountMatch      bool // within policy.amount_tolerance
	DateMatch        bool // within policy.date_window_days
	ReferenceMatched bool
	Tier             domain.ReconciliationType
}

// Score computes the additive confidence for one candidate against a
// transaction, per the scoring rubric: reference (+0.5), amount
// tolerance (+0.3 exact / +0.2 within 10x), counterparty (+0.15 exact /
// +0.08 substring), date proximity (+0.1 tight / +0.05 policy window).
func Score(refTokens []string, txnAmount decimal.Decimal, txnCounterparty string, txnDate time.Time, inv *OpenInvoiceLike, policy domain.MatchingPolicy) Candidate {
	c := Candidate{Invoice: inv}

	if referenceMatches(refTokens, inv.DocumentNumber) {
		c.Confidence += 0.5
		c.ReferenceMatched = true
	}

	diff := amountDiffRatio(txnAmount, inv.OpenAmount)
	if diff <= policy.AmountTolerance {
		c.Confidence += 0.3
		c.AmountMatch = true
	} else if diff <= policy.AmountTolerance*10 {
		c.Confidence += 0.2
	}

	normTxn := NormalizeCounterparty(txnCounterparty)
	normInv := NormalizeCounterparty(inv.Counterparty)
	switch {
	case normTxn != "" && normTxn == normInv:
		c.Confidence += 0.15
	case normTxn != "" && normInv != "" && (contains(normTxn, normInv) || contains(normInv, normTxn)):
		c.Confidence += 0.08
	}

	if !txnDate.IsZero() && !inv.DueDate.IsZero() {
		days := math.Abs(txnDate.Sub(inv.DueDate).Hours() / 24)
		switch {
		case days <= 3:
			c.Confidence += 0.1
			c.DateMatch = true
		case days <= float64(policy.DateWindowDays):
			c.Confidence += 0.05
			c.DateMatch = true
		}
	}

	if c.Confidence > 1.0 {
		c.Confidence = 1.0
	}
	return c
}

func contains(a, b string) bool {
	return len(b) > 0 && len(a) >= len(b) && indexOf(a, b) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

// amountDiffRatio is |txn - inv.open| / inv.open, using the candidate's
// remaining open amount rather than its original face amount so partial
// payments don't permanently fail the tolerance check.
func amountDiffRatio(txnAmount decimal.Decimal, invAmount decimal.Decimal) float64 {
	base := invAmount
	if base.IsZero() {
		return math.MaxFloat64
	}
	diff := txnAmount.Abs().Sub(base.Abs()).Abs()
	ratio, _ := diff.Div(base.Abs()).Float64()
	return ratio
}
