package invariant

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
	"github.com/vaultline/cashops/internal/store/memstore"
)

func testEngine() (*Engine, *memstore.MemStore) {
	s := memstore.New()
	log := zerolog.New(io.Discard)
	return New(s, decimal.NewFromFloat(0.01), log), s
}

func seedEntitySnapshot(t *testing.T, s *memstore.MemStore, locked bool) (*domain.Entity, *domain.Snapshot) {
	t.Helper()
	ctx := context.Background()

	ent := &domain.Entity{ID: "ent-1", Name: "Acme EU", BaseCurrency: "EUR", PaymentRunDay: 4}
	require.NoError(t, s.CreateEntity(ctx, ent))

	snap := &domain.Snapshot{
		ID:                 "snap-1",
		EntityID:           ent.ID,
		Status:             domain.SnapshotDraft,
		OpeningBankBalance: decimal.NewFromInt(100000),
		MinCashThreshold:   decimal.NewFromInt(10000),
		DatasetID:          "ds-1",
		CreatedAt:          time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if locked {
		snap.Status = domain.SnapshotLocked
		snap.Lock = &domain.LockMetadata{
			LockedBy:     "cfo@acme.com",
			LockedByRole: domain.RoleLockCapable,
			LockedAt:     time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
			Reason:       "month end",
		}
	}
	require.NoError(t, s.CreateSnapshot(ctx, snap))
	return ent, snap
}

func TestRunAll_EmptySnapshotPassesOrSkips(t *testing.T) {
	engine, s := testEngine()
	seedEntitySnapshot(t, s, false)

	run, err := engine.RunAll(context.Background(), "snap-1", "tester")
	require.NoError(t, err)

	assert.Equal(t, 7, run.Summary.TotalChecks)
	assert.Equal(t, 0, run.Summary.Failed)
	assert.False(t, run.HasOpenCriticalFindings())
}

func TestCheckNoOvermatch_FlagsOverAllocation(t *testing.T) {
	engine, s := testEngine()
	ctx := context.Background()
	_, snap := seedEntitySnapshot(t, s, false)

	inv := &domain.Invoice{
		ID: "inv-1", SnapshotID: snap.ID, CanonicalID: "c-1",
		Amount: decimal.NewFromInt(1000), Currency: "EUR",
	}
	require.NoError(t, s.UpsertInvoice(ctx, inv))

	txn := &domain.BankTransaction{
		ID: "txn-1", SnapshotID: snap.ID, Amount: decimal.NewFromInt(1000), Currency: "EUR",
		ReconciliationStatus: domain.ReconStatusReconciled,
	}
	require.NoError(t, s.UpsertBankTransaction(ctx, txn))

	over := &domain.ReconciliationAllocation{
		ID: "alloc-1", SnapshotID: snap.ID, BankTransactionID: txn.ID,
		TargetType: domain.TargetInvoice, TargetID: inv.ID,
		AllocatedAmount: decimal.NewFromInt(1500), Status: domain.AllocationReconciled,
	}
	require.NoError(t, s.CreateAllocation(ctx, over))

	result, err := engine.checkNoOvermatch(ctx, snap, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFail, result.Status)
	assert.Equal(t, domain.SeverityCritical, result.Severity)
}

func TestCheckNoOvermatch_FlagsNegativeAllocation(t *testing.T) {
	engine, s := testEngine()
	ctx := context.Background()
	_, snap := seedEntitySnapshot(t, s, false)

	neg := &domain.ReconciliationAllocation{
		ID: "alloc-neg", SnapshotID: snap.ID, BankTransactionID: "txn-x",
		TargetType: domain.TargetInvoice, TargetID: "inv-x",
		AllocatedAmount: decimal.NewFromInt(-50), Status: domain.AllocationReconciled,
	}
	require.NoError(t, s.CreateAllocation(ctx, neg))

	result, err := engine.checkNoOvermatch(ctx, snap, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFail, result.Status)
}

func TestCheckFXSafety_MissingRateWarns(t *testing.T) {
	engine, s := testEngine()
	ctx := context.Background()
	entity, snap := seedEntitySnapshot(t, s, false)

	inv := &domain.Invoice{
		ID: "inv-usd", SnapshotID: snap.ID, CanonicalID: "c-usd",
		Amount: decimal.NewFromInt(500), Currency: "USD",
	}
	require.NoError(t, s.UpsertInvoice(ctx, inv))

	result, err := engine.checkFXSafety(ctx, snap, entity)
	require.NoError(t, err)
	assert.Equal(t, StatusWarn, result.Status)
	assert.Equal(t, domain.SeverityWarning, result.Severity)
}

func TestCheckFXSafety_SuspiciousOneToOneRateFails(t *testing.T) {
	engine, s := testEngine()
	ctx := context.Background()
	entity, snap := seedEntitySnapshot(t, s, false)

	inv := &domain.Invoice{
		ID: "inv-usd2", SnapshotID: snap.ID, CanonicalID: "c-usd2",
		Amount: decimal.NewFromInt(500), Currency: "USD",
	}
	require.NoError(t, s.UpsertInvoice(ctx, inv))
	require.NoError(t, s.UpsertFXRate(ctx, &domain.FXRate{
		SnapshotID: snap.ID, FromCcy: "USD", ToCcy: "EUR", Rate: decimal.NewFromInt(1),
	}))

	result, err := engine.checkFXSafety(ctx, snap, entity)
	require.NoError(t, err)
	assert.Equal(t, StatusFail, result.Status)
	assert.Equal(t, domain.SeverityCritical, result.Severity)
}

func TestCheckFXSafety_ValidRatePasses(t *testing.T) {
	engine, s := testEngine()
	ctx := context.Background()
	entity, snap := seedEntitySnapshot(t, s, false)

	inv := &domain.Invoice{
		ID: "inv-usd3", SnapshotID: snap.ID, CanonicalID: "c-usd3",
		Amount: decimal.NewFromInt(500), Currency: "USD",
	}
	require.NoError(t, s.UpsertInvoice(ctx, inv))
	require.NoError(t, s.UpsertFXRate(ctx, &domain.FXRate{
		SnapshotID: snap.ID, FromCcy: "USD", ToCcy: "EUR", Rate: decimal.NewFromFloat(0.92),
	}))

	result, err := engine.checkFXSafety(ctx, snap, entity)
	require.NoError(t, err)
	assert.Equal(t, StatusPass, result.Status)
}

func TestCheckIdempotency_FlagsDuplicateCanonicalID(t *testing.T) {
	engine, s := testEngine()
	ctx := context.Background()
	_, snap := seedEntitySnapshot(t, s, false)

	require.NoError(t, s.UpsertInvoice(ctx, &domain.Invoice{ID: "inv-a", SnapshotID: snap.ID, CanonicalID: "dup-1", Amount: decimal.NewFromInt(10)}))
	require.NoError(t, s.UpsertInvoice(ctx, &domain.Invoice{ID: "inv-b", SnapshotID: snap.ID, CanonicalID: "dup-1", Amount: decimal.NewFromInt(10)}))

	result, err := engine.checkIdempotency(ctx, snap, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFail, result.Status)
	assert.Equal(t, 1, result.Details["total_duplicates"])
}

func TestCheckSnapshotImmutability_UnlockedPasses(t *testing.T) {
	engine, s := testEngine()
	_, snap := seedEntitySnapshot(t, s, false)

	result, err := engine.checkSnapshotImmutability(context.Background(), snap, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPass, result.Status)
}

func TestCheckSnapshotImmutability_LockedWithPostLockEditFails(t *testing.T) {
	engine, s := testEngine()
	ctx := context.Background()
	_, snap := seedEntitySnapshot(t, s, true)

	require.NoError(t, s.AppendAuditLog(ctx, &domain.AuditLog{
		ID: "log-1", SnapshotID: snap.ID, Actor: "someone", Action: "Update",
		ResourceType: "invoice", ResourceID: "inv-1",
		Timestamp: snap.Lock.LockedAt.Add(time.Hour),
	}))

	result, err := engine.checkSnapshotImmutability(ctx, snap, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFail, result.Status)
}

func TestCheckReconciliationConservation_ViolationDetected(t *testing.T) {
	engine, s := testEngine()
	ctx := context.Background()
	_, snap := seedEntitySnapshot(t, s, false)

	txn := &domain.BankTransaction{
		ID: "txn-c1", SnapshotID: snap.ID, Amount: decimal.NewFromInt(-1000), Currency: "EUR",
		Fee: decimal.Zero, Writeoff: decimal.Zero,
	}
	require.NoError(t, s.UpsertBankTransaction(ctx, txn))

	alloc := &domain.ReconciliationAllocation{
		ID: "alloc-c1", SnapshotID: snap.ID, BankTransactionID: txn.ID,
		TargetType: domain.TargetVendorBill, TargetID: "bill-1",
		AllocatedAmount: decimal.NewFromInt(800), Status: domain.AllocationReconciled,
	}
	require.NoError(t, s.CreateAllocation(ctx, alloc))

	result, err := engine.checkReconciliationConservation(ctx, snap, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.ExposureAmount.GreaterThan(decimal.Zero))
}

func TestIsoWeekKey(t *testing.T) {
	key := isoWeekKey(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
	assert.Regexp(t, `^\d{4}-W\d{2}$`, key)
}
