package matching

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// toleranceDec is the 0.01 absolute tolerance the spec's conservation and
// non-overmatch checks use throughout.
var toleranceDec = decimal.NewFromFloat(0.01)

// Allocation is one solved (candidate, amount) pairing the solver is
// willing to persist.
type Allocation struct {
	Candidate Candidate
	Amount    decimal.Decimal
}

// Solve allocates a transaction's absolute amount across candidates,
// respecting each candidate's open_amount upper bound and fees/writeoffs
// already carved out of the transaction total. There is no LP backend in
// this module's dependency set, so the solver runs the spec's own
// documented fallback directly: greedy by descending confidence, taking
// min(remaining, open_amount) until the transaction is exhausted or
// candidates run out. The result is validated against the same tolerance
// an LP solution would need to satisfy; a violation is a hard error, not
// a best-effort partial allocation.
func Solve(txnAmount decimal.Decimal, fees, writeoffs decimal.Decimal, candidates []Candidate) ([]Allocation, error) {
	target := txnAmount.Abs().Sub(fees).Sub(writeoffs)
	if target.IsNegative() {
		return nil, fmt.Errorf("fees+writeoffs (%s) exceed transaction amount (%s)", fees.Add(writeoffs), txnAmount.Abs())
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	remaining := target
	var allocations []Allocation
	for _, c := range sorted {
		if !remaining.GreaterThan(decimal.Zero) {
			break
		}
		open := c.Invoice.OpenAmount
		if !open.GreaterThan(toleranceDec) {
			continue
		}
		take := remaining
		if open.LessThan(take) {
			take = open
		}
		allocations = append(allocations, Allocation{Candidate: c, Amount: take})
		remaining = remaining.Sub(take)
	}

	if err := validate(txnAmount, fees, writeoffs, allocations); err != nil {
		return nil, err
	}
	return allocations, nil
}

// validate re-checks conservation and non-overmatch on the solver's own
// output: Σ allocations + fees + writeoffs must equal |txn amount| within
// tolerance, and no allocation may exceed its invoice's open amount by
// more than tolerance.
func validate(txnAmount, fees, writeoffs decimal.Decimal, allocations []Allocation) error {
	sum := fees.Add(writeoffs)
	for _, a := range allocations {
		sum = sum.Add(a.Amount)
		if a.Amount.Sub(a.Candidate.Invoice.OpenAmount).GreaterThan(toleranceDec) {
			return fmt.Errorf("allocation %s exceeds open_amount %s for invoice %s",
				a.Amount, a.Candidate.Invoice.OpenAmount, a.Candidate.Invoice.ID)
		}
	}
	diff := sum.Sub(txnAmount.Abs()).Abs()
	if diff.GreaterThan(toleranceDec) {
		return fmt.Errorf("allocation conservation violated: sum %s vs txn amount %s (diff %s)", sum, txnAmount.Abs(), diff)
	}
	return nil
}
