// Package store defines the Canonical Store: the persistence boundary
// for entities, snapshots, invoices, vendor bills, bank transactions, FX
// rates, reconciliation allocations, and audit logs.
package store

import (
	"context"

	"github.com/vaultline/cashops/internal/domain"
)

// Store is the Canonical Store interface. Every mutating method must be
// called only after the caller has verified domain.AssertNotLocked on the
// target snapshot; the store itself does not re-check lock state, leaving
// that business logic to callers.
type Store interface {
	CreateEntity(ctx context.Context, e *domain.Entity) error
	GetEntity(ctx context.Context, id string) (*domain.Entity, error)

	CreateSnapshot(ctx context.Context, s *domain.Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*domain.Snapshot, error)
	UpdateSnapshot(ctx context.Context, s *domain.Snapshot) error

	UpsertInvoice(ctx context.Context, inv *domain.Invoice) error
	GetInvoice(ctx context.Context, snapshotID, id string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, snapshotID string) ([]*domain.Invoice, error)

	UpsertVendorBill(ctx context.Context, vb *domain.VendorBill) error
	ListVendorBills(ctx context.Context, snapshotID string) ([]*domain.VendorBill, error)

	UpsertBankTransaction(ctx context.Context, t *domain.BankTransaction) error
	GetBankTransaction(ctx context.Context, snapshotID, id string) (*domain.BankTransaction, error)
	ListBankTransactions(ctx context.Context, snapshotID string) ([]*domain.BankTransaction, error)

	CreateAllocation(ctx context.Context, a *domain.ReconciliationAllocation) error
	UpdateAllocation(ctx context.Context, a *domain.ReconciliationAllocation) error
	ListAllocations(ctx context.Context, snapshotID string) ([]*domain.ReconciliationAllocation, error)
	ListAllocationsForTransaction(ctx context.Context, snapshotID, bankTxnID string) ([]*domain.ReconciliationAllocation, error)
	ListAllocationsForTarget(ctx context.Context, snapshotID string, targetType domain.AllocationTargetType, targetID string) ([]*domain.ReconciliationAllocation, error)

	UpsertFXRate(ctx context.Context, r *domain.FXRate) error
	GetFXRate(ctx context.Context, snapshotID, from, to string) (*domain.FXRate, bool, error)
	ListFXRates(ctx context.Context, snapshotID string) ([]*domain.FXRate, error)

	AppendAuditLog(ctx context.Context, a *domain.AuditLog) error
	ListAuditLogs(ctx context.Context, snapshotID string) ([]*domain.AuditLog, error)

	UpsertExceptionRecord(ctx context.Context, e *domain.Exception) error
	ListExceptions(ctx context.Context, snapshotID string) ([]*domain.Exception, error)

	CreateScenario(ctx context.Context, s *domain.Scenario) error
	UpdateScenario(ctx context.Context, s *domain.Scenario) error
	GetScenario(ctx context.Context, id string) (*domain.Scenario, error)
	ListScenarios(ctx context.Context, baseSnapshotID string) ([]*domain.Scenario, error)

	CreateAction(ctx context.Context, a *domain.Action) error
	UpdateAction(ctx context.Context, a *domain.Action) error
	GetAction(ctx context.Context, id string) (*domain.Action, error)
	ListActions(ctx context.Context, snapshotID string) ([]*domain.Action, error)

	CreateComment(ctx context.Context, c *domain.Comment) error
	UpdateComment(ctx context.Context, c *domain.Comment) error
	ListComments(ctx context.Context, parentType, parentID string) ([]*domain.Comment, error)

	AppendLockGateOverrideLog(ctx context.Context, o *domain.LockGateOverrideLog) error
	ListLockGateOverrideLogs(ctx context.Context, snapshotID string) ([]*domain.LockGateOverrideLog, error)

	UpsertSegment(ctx context.Context, s *domain.Segment) error
	ListSegments(ctx context.Context, snapshotID string) ([]*domain.Segment, error)

	UpsertCalibrationRecord(ctx context.Context, c *domain.CalibrationRecord) error
	ListCalibrationRecords(ctx context.Context, snapshotID string) ([]*domain.CalibrationRecord, error)

	CreateRecurringOutflow(ctx context.Context, r *domain.RecurringOutflow) error
	ListRecurringOutflows(ctx context.Context, entityID string) ([]*domain.RecurringOutflow, error)

	CreateOutflowItem(ctx context.Context, o *domain.OutflowItem) error
	ListOutflowItems(ctx context.Context, snapshotID string) ([]*domain.OutflowItem, error)
}
