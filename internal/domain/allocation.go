package domain

import "github.com/shopspring/decimal"

// AllocationTargetType distinguishes which receivable/payable an
// allocation settles.
type AllocationTargetType string

const (
	TargetInvoice    AllocationTargetType = "invoice"
	TargetVendorBill AllocationTargetType = "vendor_bill"
)

// AllocationStatus is the approval lifecycle of a match.
type AllocationStatus string

const (
	AllocationPendingApproval AllocationStatus = "PENDING_APPROVAL"
	AllocationReconciled      AllocationStatus = "RECONCILED"
	AllocationRejected        AllocationStatus = "REJECTED"
)

// ReconciliationAllocation is a many-to-many link between one
// BankTransaction and one Invoice or VendorBill.
type ReconciliationAllocation struct {
	ID               string
	SnapshotID       string
	BankTransactionID string
	TargetType       AllocationTargetType
	TargetID         string
	AllocatedAmount  decimal.Decimal
	Tier             ReconciliationType
	Status           AllocationStatus
	Confidence       float64
}
