package cashcalendar

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

func seedEntityAndSnapshot(t *testing.T, s *memstore.MemStore) (*domain.Entity, *domain.Snapshot) {
	t.Helper()
	ctx := context.Background()
	ent := &domain.Entity{ID: "ent-1", Name: "Acme", BaseCurrency: "EUR", PaymentRunDay: 4} // Thursday
	require.NoError(t, s.CreateEntity(ctx, ent))
	snap := &domain.Snapshot{
		ID: "snap-1", EntityID: ent.ID, Status: domain.SnapshotDraft,
		OpeningBankBalance: decimal.NewFromInt(100000),
		MinCashThreshold:   decimal.NewFromInt(10000),
	}
	require.NoError(t, s.CreateSnapshot(ctx, snap))
	return ent, snap
}

func newEngine(s *memstore.MemStore) *Engine {
	return New(s, memlock.New(), zerolog.New(io.Discard))
}

func TestProjectRecurringOutflows_Weekly(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	ent, snap := seedEntityAndSnapshot(t, s)

	require.NoError(t, s.CreateRecurringOutflow(ctx, &domain.RecurringOutflow{
		ID: "rec-1", EntityID: ent.ID, Category: "Payroll", Description: "Biweekly payroll",
		Amount: decimal.NewFromInt(5000), Currency: "EUR", Frequency: "Weekly", DayOfWeek: 5,
	}))

	engine := newEngine(s)
	created, err := engine.ProjectRecurringOutflows(ctx, ent.ID, snap.ID)
	require.NoError(t, err)
	assert.Greater(t, created, 10) // ~14 weekly occurrences over the 14-week window

	items, err := s.ListOutflowItems(ctx, snap.ID)
	require.NoError(t, err)
	assert.Len(t, items, created)
	for _, item := range items {
		assert.Equal(t, "Calendar", item.Source)
		assert.Equal(t, time.Friday, item.ExpectedDate.Weekday())
	}
}

func TestProjectRecurringOutflows_MonthlyLastDay(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	ent, snap := seedEntityAndSnapshot(t, s)

	require.NoError(t, s.CreateRecurringOutflow(ctx, &domain.RecurringOutflow{
		ID: "rec-2", EntityID: ent.ID, Category: "Rent", Description: "Office rent",
		Amount: decimal.NewFromInt(8000), Currency: "EUR", Frequency: "Monthly", IsLastDay: true,
	}))

	engine := newEngine(s)
	created, err := engine.ProjectRecurringOutflows(ctx, ent.ID, snap.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, created, 3)

	items, err := s.ListOutflowItems(ctx, snap.ID)
	require.NoError(t, err)
	for _, item := range items {
		next := item.ExpectedDate.AddDate(0, 0, 1)
		assert.NotEqual(t, item.ExpectedDate.Month(), next.Month(), "expected last day of month")
	}
}

func TestOutflowSummary_ActualBillBeatsTemplate(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	ent, snap := seedEntityAndSnapshot(t, s)

	thisWeek := weekStart(time.Now().UTC()).AddDate(0, 0, 2)
	require.NoError(t, s.CreateOutflowItem(ctx, &domain.OutflowItem{
		ID: "tmpl-1", SnapshotID: snap.ID, EntityID: ent.ID, Category: "Rent",
		Description: "Projected rent", Amount: decimal.NewFromInt(9999), Currency: "EUR",
		ExpectedDate: thisWeek, Source: "Calendar", Status: "Planned",
	}))
	require.NoError(t, s.UpsertVendorBill(ctx, &domain.VendorBill{
		ID: "bill-1", SnapshotID: snap.ID, CanonicalID: "c-1", Counterparty: "Landlord Co",
		Amount: decimal.NewFromInt(8000), Currency: "EUR", Category: "Rent",
		DueDate: thisWeek, ScheduledPaymentDate: &thisWeek,
	}))

	engine := newEngine(s)
	summary, err := engine.OutflowSummary(ctx, snap.ID)
	require.NoError(t, err)

	key := weekStart(thisWeek).Format("2006-01-02")
	cb, ok := summary[key]["Rent"]
	require.True(t, ok)
	assert.True(t, cb.Total.Equal(decimal.NewFromInt(8000)), "actual bill should supersede the template amount")
}

func TestOutflowSummary_OnHoldBillExcluded(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	ent, snap := seedEntityAndSnapshot(t, s)

	due := time.Now().UTC().AddDate(0, 0, 3)
	require.NoError(t, s.UpsertVendorBill(ctx, &domain.VendorBill{
		ID: "bill-2", SnapshotID: snap.ID, CanonicalID: "c-2", Counterparty: "Disputed Vendor",
		Amount: decimal.NewFromInt(4000), Currency: "EUR", Category: "Services",
		DueDate: due, OnHold: true,
	}))

	engine := newEngine(s)
	summary, err := engine.OutflowSummary(ctx, snap.ID)
	require.NoError(t, err)
	for _, cats := range summary {
		_, found := cats["Services"]
		assert.False(t, found)
	}
}

func TestBuild13WeekGrid_FlagsCriticalWeeks(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	ent, snap := seedEntityAndSnapshot(t, s)
	snap.OpeningBankBalance = decimal.NewFromInt(5000)
	snap.MinCashThreshold = decimal.NewFromInt(1000)
	require.NoError(t, s.UpdateSnapshot(ctx, snap))

	due := time.Now().UTC().AddDate(0, 0, 2)
	require.NoError(t, s.UpsertVendorBill(ctx, &domain.VendorBill{
		ID: "bill-3", SnapshotID: snap.ID, CanonicalID: "c-3", Counterparty: "Big Supplier",
		Amount: decimal.NewFromInt(10000), Currency: "EUR", Category: "Supplies",
		DueDate: due, ScheduledPaymentDate: &due,
	}))

	engine := newEngine(s)
	grid, err := engine.Build13WeekGrid(ctx, snap.ID)
	require.NoError(t, err)
	require.Len(t, grid.Weeks, gridWeeks)
	assert.True(t, grid.Weeks[0].IsCritical || grid.MinProjected.LessThan(snap.MinCashThreshold))

	_ = ent
}

func TestWeekDrilldown_InflowSortedByAmountDesc(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	_, snap := seedEntityAndSnapshot(t, s)

	anchor := weekStart(time.Now().UTC())
	small := anchor.AddDate(0, 0, 1)
	large := anchor.AddDate(0, 0, 2)
	require.NoError(t, s.UpsertInvoice(ctx, &domain.Invoice{
		ID: "inv-1", SnapshotID: snap.ID, CanonicalID: "ci-1", Counterparty: "Small Co",
		Amount: decimal.NewFromInt(100), Currency: "EUR", DueDate: anchor,
		PredictedPaymentDate: &small,
	}))
	require.NoError(t, s.UpsertInvoice(ctx, &domain.Invoice{
		ID: "inv-2", SnapshotID: snap.ID, CanonicalID: "ci-2", Counterparty: "Large Co",
		Amount: decimal.NewFromInt(900), Currency: "EUR", DueDate: anchor,
		PredictedPaymentDate: &large,
	}))

	engine := newEngine(s)
	items, err := engine.WeekDrilldown(ctx, snap.ID, 0, "inflow")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Large Co", items[0].Label)
	assert.Equal(t, "Small Co", items[1].Label)
}
