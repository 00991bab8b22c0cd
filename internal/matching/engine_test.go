package matching

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultline/cashops/internal/domain"
	"github.com/vaultline/cashops/internal/lock/memlock"
	"github.com/vaultline/cashops/internal/store/memstore"
)

func testEngine() (*Engine, *memstore.MemStore) {
	s := memstore.New()
	return New(s, memlock.New(), zerolog.New(io.Discard)), s
}

func seedMatchingSnapshot(t *testing.T, s *memstore.MemStore) *domain.Snapshot {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateEntity(ctx, &domain.Entity{ID: "ent-1", Name: "Acme EU", BaseCurrency: "EUR", PaymentRunDay: 4}))
	snap := &domain.Snapshot{ID: "snap-1", EntityID: "ent-1", Status: domain.SnapshotDraft}
	require.NoError(t, s.CreateSnapshot(ctx, snap))
	return snap
}

// TestEngine_DeterministicMatchAutoApplies covers the Tier-1 auto-apply
// path: an exact reference, amount, counterparty, and date match reaches
// the 0.95 confidence floor and, with AutoApplyTier1 on, is reconciled
// without ever landing in the approval queue.
func TestEngine_DeterministicMatchAutoApplies(t *testing.T) {
	engine, s := testEngine()
	ctx := context.Background()
	snap := seedMatchingSnapshot(t, s)
	dueDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertInvoice(ctx, &domain.Invoice{
		ID: "inv-1", SnapshotID: snap.ID, DocumentNumber: "INV-1042", Counterparty: "Widgets Co",
		Amount: decimal.NewFromInt(1000), DueDate: dueDate,
	}))
	require.NoError(t, s.UpsertBankTransaction(ctx, &domain.BankTransaction{
		ID: "txn-1", SnapshotID: snap.ID, Amount: decimal.NewFromInt(1000),
		TransactionDate: dueDate, ReferenceText: "Payment INV-1042", CounterpartyText: "Widgets Co",
		ReconciliationStatus: domain.ReconStatusUnreconciled,
	}))

	result, err := engine.Run(ctx, snap.ID, domain.DefaultMatchingPolicy(snap.EntityID, "EUR"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.AutoApplied)
	assert.Equal(t, 0, result.SuggestedPending)
	assert.Equal(t, 0, result.ManualQueued)

	txn, err := s.GetBankTransaction(ctx, snap.ID, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReconStatusReconciled, txn.ReconciliationStatus)
	assert.Equal(t, domain.ReconDeterministic, txn.ReconciliationType)

	allocs, err := s.ListAllocations(ctx, snap.ID)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, domain.AllocationReconciled, allocs[0].Status)
}

// Regression test for a Tier-2 ("rule") match that qualifies solo, with
// auto-apply for Tier 2 disabled (the documented default): it must be
// persisted PENDING_APPROVAL like a suggested match, never silently
// dropped to the manual queue.
func TestEngine_SoloTier2MatchIsPendingApprovalNotManual(t *testing.T) {
	engine, s := testEngine()
	ctx := context.Background()
	snap := seedMatchingSnapshot(t, s)
	dueDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertInvoice(ctx, &domain.Invoice{
		ID: "inv-1", SnapshotID: snap.ID, DocumentNumber: "INV-1042", Counterparty: "Widgets Co",
		Amount: decimal.NewFromInt(1000), DueDate: dueDate,
	}))
	require.NoError(t, s.UpsertBankTransaction(ctx, &domain.BankTransaction{
		ID: "txn-1", SnapshotID: snap.ID, Amount: decimal.NewFromInt(1000),
		// Two days off the due date (tight date match) and an exact amount,
		// but the counterparty text on the wire bears no resemblance to the
		// invoice's — so confidence lands at 0.9, below the 0.95 Tier-1
		// floor but above the 0.80 Tier-2 floor.
		TransactionDate: dueDate.AddDate(0, 0, 2), ReferenceText: "Payment INV-1042", CounterpartyText: "ZZZ Holdco SARL",
		ReconciliationStatus: domain.ReconStatusUnreconciled,
	}))

	policy := domain.DefaultMatchingPolicy(snap.EntityID, "EUR")
	require.False(t, policy.AutoApplyTier2)

	result, err := engine.Run(ctx, snap.ID, policy)
	require.NoError(t, err)
	assert.Equal(t, 0, result.AutoApplied)
	assert.Equal(t, 1, result.SuggestedPending)
	assert.Equal(t, 0, result.ManualQueued)

	txn, err := s.GetBankTransaction(ctx, snap.ID, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReconStatusUnreconciled, txn.ReconciliationStatus)
	assert.Equal(t, domain.ReconRule, txn.ReconciliationType)

	allocs, err := s.ListAllocations(ctx, snap.ID)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, domain.AllocationPendingApproval, allocs[0].Status)
	assert.Equal(t, domain.ReconRule, allocs[0].Tier)
}

// S5 — Tier-3 matches are suggestions, never auto-applied: the allocation
// is persisted PENDING_APPROVAL, the transaction stays unreconciled, and
// Cash Explained % is unaffected until a human approves it.
func TestEngine_SuggestedMatchNeverAutoApplies(t *testing.T) {
	engine, s := testEngine()
	ctx := context.Background()
	snap := seedMatchingSnapshot(t, s)
	dueDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertInvoice(ctx, &domain.Invoice{
		ID: "inv-1", SnapshotID: snap.ID, DocumentNumber: "INV-1042", Counterparty: "Widgets Co",
		Amount: decimal.NewFromInt(1000), DueDate: dueDate,
	}))
	require.NoError(t, s.UpsertBankTransaction(ctx, &domain.BankTransaction{
		// The reference token matches and the date is tight, but the amount
		// is 5% off (partial credit only, AmountMatch stays false) so the
		// confidence settles at 0.8 without ever satisfying Tier 2's
		// amount-and-date requirement.
		ID: "txn-1", SnapshotID: snap.ID, Amount: decimal.NewFromInt(1050),
		TransactionDate: dueDate.AddDate(0, 0, 1), ReferenceText: "re INV-1042", CounterpartyText: "Nobody in particular",
		ReconciliationStatus: domain.ReconStatusUnreconciled,
	}))

	result, err := engine.Run(ctx, snap.ID, domain.DefaultMatchingPolicy(snap.EntityID, "EUR"))
	require.NoError(t, err)
	assert.Equal(t, 0, result.AutoApplied)
	assert.Equal(t, 1, result.SuggestedPending)

	txn, err := s.GetBankTransaction(ctx, snap.ID, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReconStatusUnreconciled, txn.ReconciliationStatus)

	allocs, err := s.ListAllocations(ctx, snap.ID)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, domain.ReconSuggested, allocs[0].Tier)
	assert.Equal(t, domain.AllocationPendingApproval, allocs[0].Status)

	transactions, err := s.ListBankTransactions(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, CashExplainedPct(allocs, transactions))

	require.NoError(t, engine.Approve(ctx, snap.ID, allocs[0].ID))

	reloadedAllocs, err := s.ListAllocations(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AllocationReconciled, reloadedAllocs[0].Status)
	assert.Greater(t, CashExplainedPct(reloadedAllocs, transactions), 0.0)
}

func TestEngine_NoCandidatesQueuesManual(t *testing.T) {
	engine, s := testEngine()
	ctx := context.Background()
	snap := seedMatchingSnapshot(t, s)

	require.NoError(t, s.UpsertBankTransaction(ctx, &domain.BankTransaction{
		ID: "txn-1", SnapshotID: snap.ID, Amount: decimal.NewFromInt(4242),
		TransactionDate: time.Now(), ReferenceText: "unrelated wire", CounterpartyText: "Nobody",
		ReconciliationStatus: domain.ReconStatusUnreconciled,
	}))

	result, err := engine.Run(ctx, snap.ID, domain.DefaultMatchingPolicy(snap.EntityID, "EUR"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.ManualQueued)

	txn, err := s.GetBankTransaction(ctx, snap.ID, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReconManual, txn.ReconciliationType)
}

func TestEngine_RunRejectsLockedSnapshot(t *testing.T) {
	engine, s := testEngine()
	ctx := context.Background()
	snap := seedMatchingSnapshot(t, s)
	snap.Status = domain.SnapshotLocked
	require.NoError(t, s.UpdateSnapshot(ctx, snap))

	_, err := engine.Run(ctx, snap.ID, domain.DefaultMatchingPolicy(snap.EntityID, "EUR"))
	require.Error(t, err)
	assert.Equal(t, "Cannot modify locked snapshot.", err.Error())
}

func TestEngine_ApproveRejectsLockedSnapshot(t *testing.T) {
	engine, s := testEngine()
	ctx := context.Background()
	snap := seedMatchingSnapshot(t, s)
	require.NoError(t, s.CreateAllocation(ctx, &domain.ReconciliationAllocation{
		ID: "alloc-1", SnapshotID: snap.ID, Status: domain.AllocationPendingApproval,
	}))
	snap.Status = domain.SnapshotLocked
	require.NoError(t, s.UpdateSnapshot(ctx, snap))

	err := engine.Approve(ctx, snap.ID, "alloc-1")
	require.Error(t, err)
	assert.Equal(t, "Cannot modify locked snapshot.", err.Error())
}
