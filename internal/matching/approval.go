package matching

import (
	"context"
	"fmt"

	"github.com/vaultline/cashops/internal/domain"
	"github.com/vaultline/cashops/internal/lock"
)

// Approve transitions a PENDING_APPROVAL allocation (a Tier-2 or Tier-3
// match that was not auto-applied) to RECONCILED, marks its transaction
// reconciled, and sets the target invoice's truth_label. This is the
// only path by which such a match can ever become reconciled — the
// engine itself never does it.
func (e *Engine) Approve(ctx context.Context, snapshotID, allocationID string) error {
	release, err := e.locks.Acquire(ctx, lock.SnapshotKey(snapshotID))
	if err != nil {
		return fmt.Errorf("acquire snapshot lock: %w", err)
	}
	defer release()

	snap, err := e.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if err := domain.AssertNotLocked(snap); err != nil {
		return err
	}

	allocs, err := e.store.ListAllocations(ctx, snapshotID)
	if err != nil {
		return fmt.Errorf("list allocations: %w", err)
	}
	var target *domain.ReconciliationAllocation
	for _, a := range allocs {
		if a.ID == allocationID {
			target = a
			break
		}
	}
	if target == nil {
		return &domain.InputError{Field: "allocation_id", Message: "allocation not found: " + allocationID}
	}
	if target.Status != domain.AllocationPendingApproval {
		return &domain.StateError{Message: fmt.Sprintf("allocation %s is %s, not PENDING_APPROVAL", allocationID, target.Status)}
	}

	target.Status = domain.AllocationReconciled
	if err := e.store.UpdateAllocation(ctx, target); err != nil {
		return fmt.Errorf("update allocation: %w", err)
	}

	txn, err := e.store.GetBankTransaction(ctx, snapshotID, target.BankTransactionID)
	if err != nil {
		return fmt.Errorf("load transaction: %w", err)
	}
	txn.ReconciliationStatus = domain.ReconStatusReconciled
	if err := e.store.UpsertBankTransaction(ctx, txn); err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}

	if target.TargetType == domain.TargetInvoice {
		inv, err := e.store.GetInvoice(ctx, snapshotID, target.TargetID)
		if err != nil {
			return fmt.Errorf("load invoice: %w", err)
		}
		inv.TruthLabel = "reconciled"
		if err := e.store.UpsertInvoice(ctx, inv); err != nil {
			return fmt.Errorf("update invoice: %w", err)
		}
	}

	return nil
}

// Reject transitions a PENDING_APPROVAL allocation to REJECTED without
// touching the transaction or invoice, leaving both open for re-matching.
func (e *Engine) Reject(ctx context.Context, snapshotID, allocationID string) error {
	release, err := e.locks.Acquire(ctx, lock.SnapshotKey(snapshotID))
	if err != nil {
		return fmt.Errorf("acquire snapshot lock: %w", err)
	}
	defer release()

	snap, err := e.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if err := domain.AssertNotLocked(snap); err != nil {
		return err
	}

	allocs, err := e.store.ListAllocations(ctx, snapshotID)
	if err != nil {
		return fmt.Errorf("list allocations: %w", err)
	}
	for _, a := range allocs {
		if a.ID == allocationID {
			if a.Status != domain.AllocationPendingApproval {
				return &domain.StateError{Message: fmt.Sprintf("allocation %s is %s, not PENDING_APPROVAL", allocationID, a.Status)}
			}
			a.Status = domain.AllocationRejected
			return e.store.UpdateAllocation(ctx, a)
		}
	}
	return &domain.InputError{Field: "allocation_id", Message: "allocation not found: " + allocationID}
}

// CashExplainedPct is the "Cash Explained %" KPI: approved allocations
// over positive bank inflows, clamped to [0, 100].
func CashExplainedPct(allocations []*domain.ReconciliationAllocation, transactions []*domain.BankTransaction) float64 {
	approved := 0.0
	for _, a := range allocations {
		if a.Status == domain.AllocationReconciled {
			f, _ := a.AllocatedAmount.Float64()
			approved += f
		}
	}
	inflows := 0.0
	for _, t := range transactions {
		if t.IsInflow() {
			f, _ := t.Amount.Float64()
			inflows += f
		}
	}
	if inflows <= 0 {
		return 0
	}
	pct := approved / inflows * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
