// Package cashcalendar implements the 13-week cash flow workspace: it
// projects recurring outflow templates forward, applies the entity's
// payment-run-day ("Thursday rule") to un-scheduled vendor bills,
// resolves actual-bill-beats-template precedence per week/category, and
// combines the result with the Forecast Engine's predicted inflows into
// a weekly opening/closing cash grid.
package cashcalendar

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/vaultline/cashops/internal/domain"
	"github.com/vaultline/cashops/internal/lock"
	"github.com/vaultline/cashops/internal/store"
)

const (
	gridWeeks         = 13
	projectionWeeks   = 14 // matches the original's "a bit extra to ensure coverage"
	defaultCategory   = "General Vendor"
)

// Engine computes the outflow projection and the combined 13-week grid
// for a snapshot.
type Engine struct {
	store  store.Store
	locks  lock.Manager
	logger zerolog.Logger
}

func New(s store.Store, locks lock.Manager, logger zerolog.Logger) *Engine {
	return &Engine{store: s, locks: locks, logger: logger.With().Str("component", "cash-calendar").Logger()}
}

// ProjectRecurringOutflows materializes an entity's RecurringOutflow
// templates into OutflowItem rows covering the next projectionWeeks
// weeks of the given snapshot, and returns how many rows were created.
func (e *Engine) ProjectRecurringOutflows(ctx context.Context, entityID, snapshotID string) (int, error) {
	release, err := e.locks.Acquire(ctx, lock.SnapshotKey(snapshotID))
	if err != nil {
		return 0, fmt.Errorf("acquire snapshot lock: %w", err)
	}
	defer release()

	snap, err := e.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	if err := domain.AssertNotLocked(snap); err != nil {
		return 0, err
	}

	templates, err := e.store.ListRecurringOutflows(ctx, entityID)
	if err != nil {
		return 0, fmt.Errorf("list recurring outflows: %w", err)
	}

	now := dateOnly(time.Now().UTC())
	end := now.AddDate(0, 0, 7*projectionWeeks)

	created := 0
	for _, rec := range templates {
		for _, target := range projectOccurrences(rec, now, end) {
			item := &domain.OutflowItem{
				ID:            uuid.NewString(),
				SnapshotID:    snapshotID,
				EntityID:      entityID,
				Category:      rec.Category,
				Description:   rec.Description,
				Amount:        rec.Amount,
				Currency:      rec.Currency,
				ExpectedDate:  target,
				Discretionary: rec.Discretionary,
				Source:        "Calendar",
				Status:        "Planned",
			}
			if err := e.store.CreateOutflowItem(ctx, item); err != nil {
				return created, fmt.Errorf("create outflow item: %w", err)
			}
			created++
		}
	}

	e.logger.Info().Str("entity_id", entityID).Str("snapshot_id", snapshotID).Int("created", created).
		Msg("projected recurring outflows")
	return created, nil
}

// projectOccurrences walks a RecurringOutflow template forward from
// start, returning every occurrence date strictly before end.
func projectOccurrences(rec *domain.RecurringOutflow, start, end time.Time) []time.Time {
	var out []time.Time
	current := start

	for current.Before(end) {
		var target time.Time
		switch rec.Frequency {
		case "Weekly":
			daysAhead := daysUntilWeekday(current, rec.DayOfWeek)
			target = current.AddDate(0, 0, daysAhead)
			current = target.AddDate(0, 0, 1)
		case "Monthly":
			if rec.IsLastDay {
				target = lastDayOfMonth(current)
			} else {
				target = dayOfMonthOrLast(current, rec.DayOfMonth)
			}
			if target.Before(current) {
				target = addMonths(target, 1)
			}
			current = target.AddDate(0, 0, 1)
		default:
			return out
		}

		if target.Before(end) {
			out = append(out, target)
		} else {
			break
		}
	}
	return out
}

// CategoryBreakdown is one (week, category) cell of the outflow summary.
type CategoryBreakdown struct {
	Total         decimal.Decimal
	Committed     decimal.Decimal
	Discretionary decimal.Decimal
}

type outflowRow struct {
	week          time.Time
	category      string
	amount        decimal.Decimal
	discretionary bool
}

// OutflowSummary applies the actual-bill-beats-template precedence rule
// and the payment-run-day timing layer to every vendor bill and
// recurring-outflow template in a snapshot, returning committed and
// discretionary totals per week (keyed "2006-01-02") and category.
func (e *Engine) OutflowSummary(ctx context.Context, snapshotID string) (map[string]map[string]CategoryBreakdown, error) {
	snap, err := e.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	entity, err := e.store.GetEntity(ctx, snap.EntityID)
	if err != nil {
		return nil, fmt.Errorf("load entity: %w", err)
	}

	bills, err := e.store.ListVendorBills(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("list vendor bills: %w", err)
	}
	items, err := e.store.ListOutflowItems(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("list outflow items: %w", err)
	}

	today := dateOnly(time.Now().UTC())

	var rows []outflowRow
	actualMask := map[string]bool{}

	for _, b := range bills {
		if b.OnHold {
			continue
		}
		amt, ok := e.convert(ctx, snapshotID, b.Amount, b.Currency, entity.BaseCurrency)
		if !ok {
			e.logger.Warn().Str("bill_id", b.ID).Str("currency", b.Currency).
				Msg("missing fx rate, excluding vendor bill from outflow summary")
			continue
		}

		var cashOut time.Time
		if b.ScheduledPaymentDate != nil {
			cashOut = dateOnly(*b.ScheduledPaymentDate)
		} else {
			due := today
			if !b.DueDate.IsZero() {
				due = dateOnly(b.DueDate)
			}
			approved := today
			if b.ApprovalDate != nil {
				approved = dateOnly(*b.ApprovalDate)
			}
			base := maxDate(due, approved, today)
			cashOut = base.AddDate(0, 0, daysUntilWeekday(base, entity.PaymentRunDay))
		}

		category := b.Category
		if category == "" {
			category = defaultCategory
		}
		ws := weekStart(cashOut)
		rows = append(rows, outflowRow{week: ws, category: category, amount: amt, discretionary: b.Discretionary})
		actualMask[maskKey(ws, category)] = true
	}

	for _, item := range items {
		ws := weekStart(item.ExpectedDate)
		if actualMask[maskKey(ws, item.Category)] {
			continue // an actual bill already covers this week/category
		}
		amt, ok := e.convert(ctx, snapshotID, item.Amount, item.Currency, entity.BaseCurrency)
		if !ok {
			e.logger.Warn().Str("outflow_item_id", item.ID).Str("currency", item.Currency).
				Msg("missing fx rate, excluding outflow item from outflow summary")
			continue
		}
		rows = append(rows, outflowRow{week: ws, category: item.Category, amount: amt, discretionary: item.Discretionary})
	}

	summary := map[string]map[string]CategoryBreakdown{}
	for _, r := range rows {
		wk := r.week.Format("2006-01-02")
		if summary[wk] == nil {
			summary[wk] = map[string]CategoryBreakdown{}
		}
		cb := summary[wk][r.category]
		if r.discretionary {
			cb.Discretionary = cb.Discretionary.Add(r.amount)
		} else {
			cb.Committed = cb.Committed.Add(r.amount)
		}
		cb.Total = cb.Committed.Add(cb.Discretionary)
		summary[wk][r.category] = cb
	}
	return summary, nil
}

func maskKey(week time.Time, category string) string {
	return week.Format("2006-01-02") + "::" + category
}

func (e *Engine) convert(ctx context.Context, snapshotID string, amount decimal.Decimal, from, to string) (decimal.Decimal, bool) {
	if from == to {
		return amount, true
	}
	rate, ok, err := e.store.GetFXRate(ctx, snapshotID, from, to)
	if err != nil || !ok {
		return decimal.Zero, false
	}
	return amount.Mul(rate.Rate), true
}

// WeekRow is one row of the 13-week workspace grid.
type WeekRow struct {
	WeekLabel      string
	StartDate      time.Time
	OpeningCash    decimal.Decimal
	InflowP50      decimal.Decimal
	InflowP25      decimal.Decimal
	InflowP75      decimal.Decimal
	OutflowTotal   decimal.Decimal
	OutflowCommitted decimal.Decimal
	OutflowDetails map[string]CategoryBreakdown
	ClosingCash    decimal.Decimal
	IsCritical     bool
}

// Grid is the 13-week workspace: the week-by-week rows plus the
// headline summary shown above them.
type Grid struct {
	OpeningCash     decimal.Decimal
	MinThreshold    decimal.Decimal
	MinProjected    decimal.Decimal
	TotalInflow4W   decimal.Decimal
	TotalOutflow4W  decimal.Decimal
	Weeks           []WeekRow
}

// Build13WeekGrid combines the forecast engine's predicted inflows with
// the outflow summary into a week-by-week opening/closing cash
// projection, flagging any week whose closing balance falls below the
// snapshot's minimum cash threshold.
func (e *Engine) Build13WeekGrid(ctx context.Context, snapshotID string) (*Grid, error) {
	snap, err := e.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	inflows, anchor, err := e.aggregateInflows(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("aggregate inflows: %w", err)
	}
	outflows, err := e.OutflowSummary(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("outflow summary: %w", err)
	}

	currentCash := snap.OpeningBankBalance
	weeks := make([]WeekRow, 0, gridWeeks)

	for i := 0; i < gridWeeks; i++ {
		wStart := anchor.AddDate(0, 0, 7*i)
		key := wStart.Format("2006-01-02")

		inflow := inflows[key]
		outflowDetails := outflows[key]

		var totalOut, committedOut decimal.Decimal
		for _, cb := range outflowDetails {
			totalOut = totalOut.Add(cb.Total)
			committedOut = committedOut.Add(cb.Committed)
		}

		netChange := inflow.base.Sub(totalOut)
		closingCash := currentCash.Add(netChange)

		weeks = append(weeks, WeekRow{
			WeekLabel:        fmt.Sprintf("W%d", i+1),
			StartDate:        wStart,
			OpeningCash:      currentCash,
			InflowP50:        inflow.base,
			InflowP25:        inflow.upside,
			InflowP75:        inflow.downside,
			OutflowTotal:     totalOut,
			OutflowCommitted: committedOut,
			OutflowDetails:   outflowDetails,
			ClosingCash:      closingCash,
			IsCritical:       closingCash.LessThan(snap.MinCashThreshold),
		})
		currentCash = closingCash
	}

	grid := &Grid{
		OpeningCash:  snap.OpeningBankBalance,
		MinThreshold: snap.MinCashThreshold,
		Weeks:        weeks,
	}
	if len(weeks) > 0 {
		grid.MinProjected = weeks[0].ClosingCash
		for _, w := range weeks {
			if w.ClosingCash.LessThan(grid.MinProjected) {
				grid.MinProjected = w.ClosingCash
			}
		}
	}
	for i := 0; i < len(weeks) && i < 4; i++ {
		grid.TotalInflow4W = grid.TotalInflow4W.Add(weeks[i].InflowP50)
		grid.TotalOutflow4W = grid.TotalOutflow4W.Add(weeks[i].OutflowTotal)
	}

	return grid, nil
}

type inflowWeek struct {
	base, upside, downside decimal.Decimal
}

// aggregateInflows buckets every still-open invoice's predicted
// payment date (and its P25/P75 confidence dates) into weeks, anchored
// at the first predicted week when that's more than 4 weeks in the
// past, or at the current week otherwise.
func (e *Engine) aggregateInflows(ctx context.Context, snapshotID string) (map[string]inflowWeek, time.Time, error) {
	invoices, err := e.store.ListInvoices(ctx, snapshotID)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("list invoices: %w", err)
	}

	today := dateOnly(time.Now().UTC())
	anchor := weekStart(today)

	var open []*domain.Invoice
	var earliest *time.Time
	for _, inv := range invoices {
		if inv.PaymentDate != nil || inv.PredictedPaymentDate == nil {
			continue
		}
		open = append(open, inv)
		if earliest == nil || inv.PredictedPaymentDate.Before(*earliest) {
			earliest = inv.PredictedPaymentDate
		}
	}
	if earliest != nil && today.Sub(*earliest) > 28*24*time.Hour {
		anchor = weekStart(*earliest)
	}

	byWeek := map[string]inflowWeek{}
	for _, inv := range open {
		addToWeek(byWeek, *inv.PredictedPaymentDate, inv.Amount, func(w inflowWeek) inflowWeek { w.base = w.base.Add(inv.Amount); return w })
		if inv.ConfidenceP25Date != nil {
			addToWeek(byWeek, *inv.ConfidenceP25Date, inv.Amount, func(w inflowWeek) inflowWeek { w.upside = w.upside.Add(inv.Amount); return w })
		}
		if inv.ConfidenceP75Date != nil {
			addToWeek(byWeek, *inv.ConfidenceP75Date, inv.Amount, func(w inflowWeek) inflowWeek { w.downside = w.downside.Add(inv.Amount); return w })
		}
	}

	return byWeek, anchor, nil
}

func addToWeek(byWeek map[string]inflowWeek, date time.Time, _ decimal.Decimal, mutate func(inflowWeek) inflowWeek) {
	key := weekStart(date).Format("2006-01-02")
	byWeek[key] = mutate(byWeek[key])
}

// DrilldownItem is one line of a week's inflow or outflow detail.
type DrilldownItem struct {
	Label         string
	Amount        decimal.Decimal
	Date          time.Time
	Detail        string // confidence segment for inflows, discretionary/committed for outflows
	Discretionary bool
}

// WeekDrilldown returns the invoices (kind "inflow") or vendor
// bills/outflow items (any other kind) landing in the week at
// weekIndex of the 13-week grid, sorted by amount descending.
func (e *Engine) WeekDrilldown(ctx context.Context, snapshotID string, weekIndex int, kind string) ([]DrilldownItem, error) {
	_, anchor, err := e.aggregateInflows(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	weekFrom := anchor.AddDate(0, 0, 7*weekIndex)
	weekTo := weekFrom.AddDate(0, 0, 7)

	if kind == "inflow" {
		invoices, err := e.store.ListInvoices(ctx, snapshotID)
		if err != nil {
			return nil, fmt.Errorf("list invoices: %w", err)
		}
		var out []DrilldownItem
		for _, inv := range invoices {
			if inv.PaymentDate != nil || inv.PredictedPaymentDate == nil {
				continue
			}
			d := *inv.PredictedPaymentDate
			if d.Before(weekFrom) || !d.Before(weekTo) {
				continue
			}
			out = append(out, DrilldownItem{
				Label: inv.Counterparty, Amount: inv.Amount, Date: d, Detail: inv.AssignedSegment,
			})
		}
		sortByAmountDesc(out)
		return out, nil
	}

	bills, err := e.store.ListVendorBills(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("list vendor bills: %w", err)
	}
	items, err := e.store.ListOutflowItems(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("list outflow items: %w", err)
	}

	var out []DrilldownItem
	for _, b := range bills {
		if b.DueDate.Before(weekFrom) || !b.DueDate.Before(weekTo) {
			continue
		}
		out = append(out, DrilldownItem{
			Label: "Vendor: " + b.Counterparty, Amount: b.Amount, Date: b.DueDate, Discretionary: b.Discretionary,
		})
	}
	for _, o := range items {
		if o.ExpectedDate.Before(weekFrom) || !o.ExpectedDate.Before(weekTo) {
			continue
		}
		out = append(out, DrilldownItem{
			Label: o.Description, Amount: o.Amount, Date: o.ExpectedDate, Discretionary: o.Discretionary,
		})
	}
	sortByAmountDesc(out)
	return out, nil
}

func sortByAmountDesc(items []DrilldownItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].Amount.GreaterThan(items[j].Amount) })
}

// --- date helpers, all operating on UTC midnight values ---

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// mondayIndex returns 0 for Monday .. 6 for Sunday, matching the
// original's week-bucketing convention (Python's date.weekday()). This
// is distinct from Entity.PaymentRunDay's Sunday=0 encoding used by
// daysUntilWeekday below.
func mondayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func weekStart(t time.Time) time.Time {
	d := dateOnly(t)
	return d.AddDate(0, 0, -mondayIndex(d))
}

func daysUntilWeekday(from time.Time, target int) int {
	return ((target-int(from.Weekday()))%7 + 7) % 7
}

func lastDayOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)
}

func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m+time.Month(months), d, 0, 0, 0, 0, time.UTC)
}

func dayOfMonthOrLast(t time.Time, day int) time.Time {
	last := lastDayOfMonth(t)
	if day < 1 || day > last.Day() {
		return last
	}
	y, m, _ := t.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func maxDate(dates ...time.Time) time.Time {
	m := dates[0]
	for _, d := range dates[1:] {
		if d.After(m) {
			m = d
		}
	}
	return m
}
