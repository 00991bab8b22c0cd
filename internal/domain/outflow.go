package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecurringOutflow is a standing template for a payment an entity expects
// to make on a regular cadence (rent, payroll, subscriptions). The cash
// calendar projects it forward into OutflowItem rows each time it builds
// a forecast window.
type RecurringOutflow struct {
	ID            string
	EntityID      string
	Category      string
	Description   string
	Amount        decimal.Decimal
	Currency      string
	Frequency     string // "Weekly" or "Monthly"
	DayOfWeek     int    // 0=Sunday .. 6=Saturday, matching Entity.PaymentRunDay's encoding; used when Frequency == "Weekly"
	DayOfMonth    int    // used when Frequency == "Monthly" and !IsLastDay
	IsLastDay     bool   // last calendar day of the month, overrides DayOfMonth
	Discretionary bool
}

// OutflowItem is one projected or actual cash outflow against a snapshot.
// It is either generated from a RecurringOutflow template (Source
// "Calendar") or entered directly, and is superseded by an actual
// VendorBill in the same week and category per the cash calendar's
// precedence rule.
type OutflowItem struct {
	ID            string
	SnapshotID    string
	EntityID      string
	Category      string
	Description   string
	Amount        decimal.Decimal
	Currency      string
	ExpectedDate  time.Time
	Discretionary bool
	Source        string // "Calendar" for projected templates
	Status        string // "Planned"
}
