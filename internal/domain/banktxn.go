package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReconciliationType classifies how a BankTransaction was (or will be)
// matched. Tier 3 ("suggested") must never auto-apply.
type ReconciliationType string

const (
	ReconDeterministic ReconciliationType = "deterministic" // Tier 1
	ReconRule          ReconciliationType = "rule"           // Tier 2
	ReconSuggested     ReconciliationType = "suggested"      // Tier 3
	ReconManual        ReconciliationType = "manual"         // Tier 4
	ReconNone          ReconciliationType = "none"
)

// ReconciliationStatus is the per-transaction settlement state.
type ReconciliationStatus string

const (
	ReconStatusUnreconciled ReconciliationStatus = "unreconciled"
	ReconStatusReconciled   ReconciliationStatus = "reconciled"
)

// BankTransaction is one posting on an internal bank account. Positive
// amounts are inflows, negative amounts are outflows.
type BankTransaction struct {
	ID                   string
	SnapshotID           string
	BankAccountID        string
	TransactionDate      time.Time
	ValueDate            time.Time
	Amount               decimal.Decimal // signed; positive = inflow
	Currency             string
	ReferenceText        string
	CounterpartyText     string
	Fee                  decimal.Decimal
	Writeoff             decimal.Decimal
	ReconciliationStatus ReconciliationStatus
	ReconciliationType   ReconciliationType
	LifecycleStatus      string
}

// IsInflow reports whether the transaction is a positive (inflow) amount.
func (t *BankTransaction) IsInflow() bool {
	return t.Amount.IsPositive()
}
