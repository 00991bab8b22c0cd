package ingestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultline/cashops/internal/connector"
)

func TestPromote_InvoiceUsesDueDateWhenPresent(t *testing.T) {
	due := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	rec := &connector.NormalizedRecord{
		RecordType: "Invoice", CanonicalID: "abc", Amount: 1000, Currency: "EUR",
		RecordDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), DueDate: &due,
		Counterparty: "Widgets Co", Payload: map[string]interface{}{"document_number": "INV-1"},
	}
	invoice, bill, txn := promote("snap-1", rec)
	require.NotNil(t, invoice)
	assert.Nil(t, bill)
	assert.Nil(t, txn)
	assert.Equal(t, "snap-1", invoice.SnapshotID)
	assert.Equal(t, "abc", invoice.CanonicalID)
	assert.Equal(t, "INV-1", invoice.DocumentNumber)
	assert.True(t, invoice.DueDate.Equal(due))
}

func TestPromote_InvoiceFallsBackToRecordDateWithoutDueDate(t *testing.T) {
	recordDate := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := &connector.NormalizedRecord{RecordType: "Invoice", Amount: 500, RecordDate: recordDate}
	invoice, _, _ := promote("snap-1", rec)
	require.NotNil(t, invoice)
	assert.True(t, invoice.DueDate.Equal(recordDate))
}

func TestPromote_VendorBill(t *testing.T) {
	rec := &connector.NormalizedRecord{
		RecordType: "VendorBill", Amount: 250, Currency: "USD",
		Counterparty: "Acme Supplies", Payload: map[string]interface{}{"document_number": "BILL-9"},
	}
	invoice, bill, txn := promote("snap-1", rec)
	assert.Nil(t, invoice)
	assert.Nil(t, txn)
	require.NotNil(t, bill)
	assert.Equal(t, "BILL-9", bill.DocumentNumber)
	assert.Equal(t, "Acme Supplies", bill.Counterparty)
}

func TestPromote_DefaultsToBankTransaction(t *testing.T) {
	rec := &connector.NormalizedRecord{RecordType: "BankTxn", Amount: 1200, ExternalID: "ext-1", Counterparty: "Payer Inc"}
	invoice, bill, txn := promote("snap-1", rec)
	assert.Nil(t, invoice)
	assert.Nil(t, bill)
	require.NotNil(t, txn)
	assert.Equal(t, "ext-1", txn.ReferenceText)
	assert.Equal(t, "Payer Inc", txn.CounterpartyText)
}
