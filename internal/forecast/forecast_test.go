package forecast

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

func seedSnapshot(t *testing.T, s *memstore.MemStore) *domain.Snapshot {
	t.Helper()
	ctx := context.Background()
	ent := &domain.Entity{ID: "ent-1", Name: "Acme", BaseCurrency: "EUR", PaymentRunDay: 4}
	require.NoError(t, s.CreateEntity(ctx, ent))
	snap := &domain.Snapshot{ID: "snap-1", EntityID: ent.ID, Status: domain.SnapshotDraft}
	require.NoError(t, s.CreateSnapshot(ctx, snap))
	return snap
}

func paymentDate(due time.Time, delayDays int) *time.Time {
	d := due.AddDate(0, 0, delayDays)
	return &d
}

func TestEngineRun_ForecastsOpenInvoicesFromHistory(t *testing.T) {
	s := memstore.New()
	snap := seedSnapshot(t, s)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		due := base.AddDate(0, 0, i)
		inv := &domain.Invoice{
			ID: "paid-" + string(rune('a'+i)), SnapshotID: snap.ID, CanonicalID: "c-" + string(rune('a'+i)),
			Counterparty: "Acme Corp", Country: "DE", PaymentTermDays: 30,
			Amount: decimal.NewFromInt(100), Currency: "EUR",
			DueDate: due, PaymentDate: paymentDate(due, 5),
		}
		require.NoError(t, s.UpsertInvoice(ctx, inv))
	}

	openInv := &domain.Invoice{
		ID: "open-1", SnapshotID: snap.ID, CanonicalID: "c-open-1",
		Counterparty: "Acme Corp", Country: "DE", PaymentTermDays: 30,
		Amount: decimal.NewFromInt(200), Currency: "EUR",
		DueDate: base.AddDate(0, 1, 0),
	}
	require.NoError(t, s.UpsertInvoice(ctx, openInv))

	engine := New(s, time.Hour, zerolog.New(io.Discard))
	result, err := engine.Run(ctx, snap.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, result.InvoicesForecasted)
	assert.Greater(t, result.SegmentsAnalyzed, 0)

	updated, err := s.GetInvoice(ctx, snap.ID, "open-1")
	require.NoError(t, err)
	assert.NotNil(t, updated.PredictedPaymentDate)
	assert.NotEmpty(t, updated.AssignedSegment)
}

func TestEngineRun_EmptySnapshotIsNoOp(t *testing.T) {
	s := memstore.New()
	snap := seedSnapshot(t, s)
	engine := New(s, time.Hour, zerolog.New(io.Discard))

	result, err := engine.Run(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.InvoicesForecasted)
}

func TestWinsorizeClampsExtremeValues(t *testing.T) {
	delays := make([]float64, 100)
	for i := range delays {
		delays[i] = float64(i)
	}
	delays[99] = 10000

	out := winsorize(delays, 99)
	assert.Less(t, out[99], 10000.0)
}

func TestRecencyWeightDecaysWithAge(t *testing.T) {
	recent := recencyWeight(0, 90)
	old := recencyWeight(90, 90)
	assert.InDelta(t, 1.0, recent, 0.0001)
	assert.InDelta(t, 0.5, old, 0.0001)
}

func TestDiagnostics_EmptyWithoutPriorRun(t *testing.T) {
	s := memstore.New()
	snap := seedSnapshot(t, s)
	engine := New(s, time.Hour, zerolog.New(io.Discard))

	diag, err := engine.Diagnostics(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, diag.TotalSegments)
}

func TestDiagnostics_ReflectsCompletedRun(t *testing.T) {
	s := memstore.New()
	snap := seedSnapshot(t, s)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		due := base.AddDate(0, 0, i)
		inv := &domain.Invoice{
			ID: "paid-" + string(rune('a'+i)), SnapshotID: snap.ID, CanonicalID: "c-" + string(rune('a'+i)),
			Counterparty: "Acme Corp", Country: "DE", PaymentTermDays: 30,
			Amount: decimal.NewFromInt(100), Currency: "EUR",
			DueDate: due, PaymentDate: paymentDate(due, 5),
		}
		require.NoError(t, s.UpsertInvoice(ctx, inv))
	}

	engine := New(s, time.Hour, zerolog.New(io.Discard))
	_, err := engine.Run(ctx, snap.ID)
	require.NoError(t, err)

	diag, err := engine.Diagnostics(ctx, snap.ID)
	require.NoError(t, err)
	assert.Greater(t, diag.TotalSegments, 0)
}
