package trust

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
	"github.com/vaultline/cashops/internal/invariant"
	"github.com/vaultline/cashops/internal/lineage/memlineage"
	"github.com/vaultline/cashops/internal/lock/memlock"
	"github.com/vaultline/cashops/internal/store/memstore"
)

func testEngine() (*Engine, *memstore.MemStore, *memlineage.MemLineage) {
	s := memstore.New()
	l := memlineage.New()
	log := zerolog.New(io.Discard)
	return New(s, l, memlock.New(), log), s, l
}

func seedEntitySnapshot(t *testing.T, s *memstore.MemStore) (*domain.Entity, *domain.Snapshot) {
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
		CreatedAt:          time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.CreateSnapshot(ctx, snap))
	return ent, snap
}

func TestGenerate_EmptySnapshotIsLockEligible(t *testing.T) {
	engine, s, _ := testEngine()
	_, snap := seedEntitySnapshot(t, s)

	report, err := engine.Generate(context.Background(), snap.ID, DefaultThresholds(), nil)
	require.NoError(t, err)

	assert.True(t, report.LockEligible)
	assert.Empty(t, report.GateFailures)
	assert.GreaterOrEqual(t, report.TrustScore, 0.0)
	assert.LessOrEqual(t, report.TrustScore, 100.0)
	assert.Len(t, report.Metrics, 8)
}

func TestGenerate_MissingFXFailsGate(t *testing.T) {
	engine, s, _ := testEngine()
	ctx := context.Background()
	_, snap := seedEntitySnapshot(t, s)

	inv := &domain.Invoice{
		ID: "inv-usd", SnapshotID: snap.ID, CanonicalID: "c-usd",
		Amount: decimal.NewFromInt(1000), Currency: "USD",
	}
	require.NoError(t, s.UpsertInvoice(ctx, inv))

	report, err := engine.Generate(ctx, snap.ID, DefaultThresholds(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1000.0, report.MetricValue(MetricMissingFXExposure))
	assert.False(t, report.LockEligible)
	assert.Contains(t, report.GateFailures, "unknown_cash_pct")
}

func TestAttemptLock_WithoutOverrideStaysIneligible(t *testing.T) {
	engine, s, _ := testEngine()
	ctx := context.Background()
	_, snap := seedEntitySnapshot(t, s)
	require.NoError(t, s.UpsertInvoice(ctx, &domain.Invoice{
		ID: "inv-usd", SnapshotID: snap.ID, CanonicalID: "c-usd",
		Amount: decimal.NewFromInt(1000), Currency: "USD",
	}))

	decision, err := engine.AttemptLock(ctx, snap.ID, DefaultThresholds(), nil, nil)
	require.NoError(t, err)
	assert.False(t, decision.Eligible)
	assert.Nil(t, decision.Override)
}

func TestAttemptLock_ShortAcknowledgmentRejected(t *testing.T) {
	engine, s, _ := testEngine()
	ctx := context.Background()
	_, snap := seedEntitySnapshot(t, s)
	require.NoError(t, s.UpsertInvoice(ctx, &domain.Invoice{
		ID: "inv-usd", SnapshotID: snap.ID, CanonicalID: "c-usd",
		Amount: decimal.NewFromInt(1000), Currency: "USD",
	}))

	_, err := engine.AttemptLock(ctx, snap.ID, DefaultThresholds(), nil, &domain.LockGateOverrideLog{
		User: "cfo", Role: domain.RoleLockCapable, Acknowledgment: "short", Reason: "rush",
	})
	require.Error(t, err)
}

func TestAttemptLock_ValidOverrideRecordsAuditLog(t *testing.T) {
	engine, s, _ := testEngine()
	ctx := context.Background()
	_, snap := seedEntitySnapshot(t, s)
	require.NoError(t, s.UpsertInvoice(ctx, &domain.Invoice{
		ID: "inv-usd", SnapshotID: snap.ID, CanonicalID: "c-usd",
		Amount: decimal.NewFromInt(1000), Currency: "USD",
	}))

	decision, err := engine.AttemptLock(ctx, snap.ID, DefaultThresholds(), nil, &domain.LockGateOverrideLog{
		User: "cfo@acme.com", Role: domain.RoleLockCapable, Email: "cfo@acme.com",
		Acknowledgment: "I accept the missing USD FX rate risk for this close.",
		Reason:         "Client payment expected before exposure materializes",
	})
	require.NoError(t, err)
	assert.True(t, decision.Eligible)
	require.NotNil(t, decision.Override)
	assert.Contains(t, decision.Override.FailedGates, "unknown_cash_pct")

	logs, err := s.ListLockGateOverrideLogs(ctx, snap.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "cfo@acme.com", logs[0].User)
}

func TestAttemptLock_CriticalFindingsBlockWithoutOverride(t *testing.T) {
	engine, s, _ := testEngine()
	ctx := context.Background()
	_, snap := seedEntitySnapshot(t, s)

	run := &invariant.Run{Summary: invariant.Summary{CriticalFailures: 1}}
	decision, err := engine.AttemptLock(ctx, snap.ID, DefaultThresholds(), run, nil)
	require.NoError(t, err)
	assert.False(t, decision.Eligible)
	assert.Contains(t, decision.Report.GateFailures, "critical_findings_open")
}
