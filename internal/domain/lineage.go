package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConnectionStatus is the health state of a LineageConnection.
type ConnectionStatus string

const (
	ConnectionActive       ConnectionStatus = "ACTIVE"
	ConnectionInactive     ConnectionStatus = "INACTIVE"
	ConnectionError        ConnectionStatus = "ERROR"
	ConnectionPendingSetup ConnectionStatus = "PENDING_SETUP"
)

// LineageConnection is a configured source system. Config is an opaque,
// connector-defined map; SecretRef is an opaque pointer into the secret
// store and is never the secret value itself.
type LineageConnection struct {
	ID            string
	EntityID      string
	ConnectorType string
	Name          string
	Status        ConnectionStatus
	Config        map[string]interface{}
	SecretRef     string
	LastSyncAt    *time.Time
}

// SyncRunStatus is the lifecycle of one ingestion run.
type SyncRunStatus string

const (
	SyncPending   SyncRunStatus = "PENDING"
	SyncRunning   SyncRunStatus = "RUNNING"
	SyncSuccess   SyncRunStatus = "SUCCESS"
	SyncPartial   SyncRunStatus = "PARTIAL"
	SyncFailed    SyncRunStatus = "FAILED"
	SyncCancelled SyncRunStatus = "CANCELLED"
)

// SyncRun is one execution of a connector's extract-normalize-commit
// pipeline.
type SyncRun struct {
	ID           string
	ConnectionID string
	DatasetID    string
	Status       SyncRunStatus
	Actor        string
	StartedAt    time.Time
	FinishedAt   *time.Time

	RowsExtracted int
	RowsNormalized int
	RowsCommitted  int
	RowsFailed     int

	Errors   []string
	Warnings []string
}

// Finish transitions the run to a terminal status based on its failure
// counters, mirroring the orchestrator's own accounting rather than
// letting the caller guess.
func (r *SyncRun) Finish(now time.Time) {
	r.FinishedAt = &now
	switch {
	case r.RowsFailed == 0 && len(r.Errors) == 0:
		r.Status = SyncSuccess
	case r.RowsCommitted > 0:
		r.Status = SyncPartial
	default:
		r.Status = SyncFailed
	}
}

// Dataset is one committed, versioned snapshot of canonical rows from a
// single sync run.
type Dataset struct {
	ID                string
	ConnectionID       string
	SourceType         string
	SchemaFingerprint  string
	SchemaColumns      map[string]string // column name -> type, for drift diffing against the next sync
	RowCount           int
	AmountTotal        decimal.Decimal
	DateRangeStart     time.Time
	DateRangeEnd       time.Time
	CreatedAt          time.Time
}

// RawRecord is the untransformed row as extracted, kept for audit and
// reprocessing.
type RawRecord struct {
	ID           string
	DatasetID    string
	SourceTable  string
	SourceRowID  string
	RawHash      string
	Payload      map[string]interface{}
	Processed    bool
	ErrorMessage string
}

// CanonicalRecord is a normalized row ready for the domain tables. The
// pair (DatasetID, CanonicalID) is unique and is the idempotency key for
// re-running a sync.
type CanonicalRecord struct {
	ID            string
	DatasetID     string
	RawRecordID   string
	RecordType    string // "Invoice" | "VendorBill" | "BankTxn"
	CanonicalID   string
	Amount        decimal.Decimal
	Currency      string
	RecordDate    time.Time
	DueDate       *time.Time
	Counterparty  string
	ExternalID    string
}

// SchemaDriftEvent is raised when a connector's observed schema diverges
// from the one recorded for its connection.
type SchemaDriftEvent struct {
	ID           string
	ConnectionID string
	SyncRunID    string
	AddedColumns   []string
	RemovedColumns []string
	TypeChanges    map[string]string // column -> "oldtype -> newtype"
	Severity       Severity
	DetectedAt     time.Time
}
