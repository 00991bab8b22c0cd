package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is an open AR document belonging to a snapshot.
type Invoice struct {
	ID              string
	SnapshotID      string
	CanonicalID     string // stable hash, see connector/normalize.go
	DocumentNumber  string
	Counterparty    string
	Amount          decimal.Decimal // immutable after creation
	Currency        string
	IssueDate       time.Time
	DueDate         time.Time
	PaymentDate     *time.Time
	Country         string
	Project         string
	PaymentTermDays int

	// ParentID links a credit note or partial-payment row back to the
	// invoice it offsets, as a plain FK rather than an object graph.
	ParentID *string

	// Prediction fields, written only by the Forecast Engine.
	PredictedPaymentDate *time.Time
	ConfidenceP25Date    *time.Time
	ConfidenceP75Date    *time.Time
	AssignedSegment      string

	// TruthLabel is set to "reconciled" once an allocation against this
	// invoice is approved.
	TruthLabel string
}

// OpenAmount returns the invoice amount minus the sum of already-approved
// allocations against it.
func (i *Invoice) OpenAmount(approvedAllocated decimal.Decimal) decimal.Decimal {
	return i.Amount.Sub(approvedAllocated)
}

// IsOpen reports whether the invoice is still awaiting payment: no
// payment date recorded and a positive open amount.
func (i *Invoice) IsOpen(approvedAllocated decimal.Decimal) bool {
	if i.PaymentDate != nil {
		return false
	}
	return i.OpenAmount(approvedAllocated).GreaterThan(decimal.NewFromFloat(0.01))
}

// VendorBill is an open AP document belonging to a snapshot.
type VendorBill struct {
	ID              string
	SnapshotID      string
	CanonicalID     string
	DocumentNumber  string
	Counterparty    string
	Amount          decimal.Decimal
	Currency        string
	IssueDate       time.Time
	DueDate         time.Time
	PaymentDate     *time.Time
	Country         string
	Project         string
	PaymentTermDays int

	Discretionary bool
	OnHold        bool
	Category      string // bucket used by the cash calendar's committed/discretionary breakdown

	// ApprovalDate, when set, participates in the cash calendar's
	// outflow-timing base date alongside DueDate and today.
	ApprovalDate *time.Time

	// ScheduledPaymentDate, if set, overrides the Thursday-rule
	// computation in the cash calendar outflow combiner.
	ScheduledPaymentDate *time.Time

	PredictedPaymentDate *time.Time
	ConfidenceP25Date    *time.Time
	ConfidenceP75Date    *time.Time
	AssignedSegment      string
}

// IsOpen reports whether the bill is still unpaid.
func (b *VendorBill) IsOpen() bool {
	return b.PaymentDate == nil
}
