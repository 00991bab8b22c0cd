package ingestion

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vaultline/cashops/internal/connector"
	"github.com/vaultline/cashops/internal/domain"
)

// promote converts one canonical record into the domain entity the
// canonical store understands, scoping it to the active snapshot.
// RecordType drives the branch: "Invoice", "VendorBill", or "BankTxn".
func promote(snapshotID string, rec *connector.NormalizedRecord) (invoice *domain.Invoice, bill *domain.VendorBill, txn *domain.BankTransaction) {
	amount := decimal.NewFromFloat(rec.Amount)
	docNumber, _ := rec.Payload["document_number"].(string)

	switch rec.RecordType {
	case "Invoice":
		due := rec.RecordDate
		if rec.DueDate != nil {
			due = *rec.DueDate
		}
		return &domain.Invoice{
			ID:             uuid.NewString(),
			SnapshotID:     snapshotID,
			CanonicalID:    rec.CanonicalID,
			DocumentNumber: docNumber,
			Counterparty:   rec.Counterparty,
			Amount:         amount,
			Currency:       rec.Currency,
			IssueDate:      rec.RecordDate,
			DueDate:        due,
		}, nil, nil
	case "VendorBill":
		due := rec.RecordDate
		if rec.DueDate != nil {
			due = *rec.DueDate
		}
		return nil, &domain.VendorBill{
			ID:             uuid.NewString(),
			SnapshotID:     snapshotID,
			CanonicalID:    rec.CanonicalID,
			DocumentNumber: docNumber,
			Counterparty:   rec.Counterparty,
			Amount:         amount,
			Currency:       rec.Currency,
			IssueDate:      rec.RecordDate,
			DueDate:        due,
		}, nil
	default: // "BankTxn"
		return nil, nil, &domain.BankTransaction{
			ID:                   uuid.NewString(),
			SnapshotID:           snapshotID,
			TransactionDate:      rec.RecordDate,
			ValueDate:            rec.RecordDate,
			Amount:               amount,
			Currency:             rec.Currency,
			ReferenceText:        rec.ExternalID,
			CounterpartyText:     rec.Counterparty,
			Fee:                  decimal.Zero,
			Writeoff:             decimal.Zero,
			ReconciliationStatus: domain.ReconStatusUnreconciled,
			ReconciliationType:   domain.ReconNone,
		}
	}
}
