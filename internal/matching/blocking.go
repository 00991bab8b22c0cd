package matching

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultline/cashops/internal/domain"
)

// OpenInvoiceLike is the subset of Invoice/VendorBill fields the blocking
// index and scorer need, so both AR and AP can share one matching path.
type OpenInvoiceLike struct {
	ID             string
	DocumentNumber string
	Counterparty   string
	Amount         decimal.Decimal
	DueDate        time.Time
	OpenAmount     decimal.Decimal
	TargetType     domain.AllocationTargetType
}

// BlockingIndex groups open invoices by cheap-to-compute keys so
// candidate generation never has to scan the full open set. Rebuilt once
// per snapshot, never cached across calls.
type BlockingIndex struct {
	byRef          map[string][]string // reference token -> invoice ids
	byAmountBucket map[int64][]string  // floor(|amount|/100)*100 -> invoice ids
	byCounterparty map[string][]string // normalized name -> invoice ids
	byDueWeek      map[string][]string // ISO YYYY-Www -> invoice ids
	invoices       map[string]*OpenInvoiceLike
}

// BuildBlockingIndex indexes every invoice with a positive open amount.
func BuildBlockingIndex(open []*OpenInvoiceLike) *BlockingIndex {
	idx := &BlockingIndex{
		byRef:          make(map[string][]string),
		byAmountBucket: make(map[int64][]string),
		byCounterparty: make(map[string][]string),
		byDueWeek:      make(map[string][]string),
		invoices:       make(map[string]*OpenInvoiceLike),
	}
	for _, inv := range open {
		if !inv.OpenAmount.GreaterThan(decimal.NewFromFloat(0)) {
			continue
		}
		idx.invoices[inv.ID] = inv

		for _, tok := range ExtractReferenceTokens(inv.DocumentNumber) {
			idx.byRef[tok] = append(idx.byRef[tok], inv.ID)
		}
		bucket := amountBucket(inv.OpenAmount)
		idx.byAmountBucket[bucket] = append(idx.byAmountBucket[bucket], inv.ID)

		cp := NormalizeCounterparty(inv.Counterparty)
		if cp != "" {
			idx.byCounterparty[cp] = append(idx.byCounterparty[cp], inv.ID)
		}
		if !inv.DueDate.IsZero() {
			week := isoWeek(inv.DueDate)
			idx.byDueWeek[week] = append(idx.byDueWeek[week], inv.ID)
		}
	}
	return idx
}

func amountBucket(amount decimal.Decimal) int64 {
	f, _ := amount.Abs().Float64()
	return int64(math.Floor(f/100)) * 100
}

func isoWeek(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// Candidates returns the union of every non-empty block's matches for a
// transaction, plus all reference-matched invoices, deduplicated.
func (idx *BlockingIndex) Candidates(refTokens []string, amount decimal.Decimal, counterparty string, txnDate time.Time) []*OpenInvoiceLike {
	seen := make(map[string]bool)
	var out []*OpenInvoiceLike

	add := func(ids []string) {
		for _, id := range ids {
			if seen[id] {
				continue
			}
			if inv, ok := idx.invoices[id]; ok {
				seen[id] = true
				out = append(out, inv)
			}
		}
	}

	for _, tok := range refTokens {
		add(idx.byRef[tok])
	}

	bucket := amountBucket(amount)
	add(idx.byAmountBucket[bucket])
	add(idx.byAmountBucket[bucket-100])
	add(idx.byAmountBucket[bucket+100])

	cp := NormalizeCounterparty(counterparty)
	if cp != "" {
		add(idx.byCounterparty[cp])
	}

	if !txnDate.IsZero() {
		for _, week := range weekWindow(txnDate, 1) {
			add(idx.byDueWeek[week])
		}
	}

	return out
}

// weekWindow returns the ISO week of t plus `span` weeks on either side.
func weekWindow(t time.Time, span int) []string {
	weeks := make([]string, 0, 2*span+1)
	for d := -span; d <= span; d++ {
		weeks = append(weeks, isoWeek(t.AddDate(0, 0, d*7)))
	}
	return weeks
}
