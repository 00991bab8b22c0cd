// Package sdkclient is a typed Go accessor over this module's four
// exit-facing artifacts (reconciliation allocations, the 13-week cash
// calendar grid, an invariant run report, and a trust report). It is
// built around functional-options construction and one private
// transport call, with the transport itself supplied by the caller:
// this client never dials a socket itself, it only decodes whatever
// bytes its Transport hands back.
package sdkclient

import (
	"context"
	"encoding/json"
	"fmt"
)

// Transport fetches the raw JSON bytes for one artifact path. Callers
// wire this to whatever actually serves it — a file on disk, an
// internal RPC call, a future HTTP handler — keeping this package
// itself transport-agnostic.
type Transport func(ctx context.Context, path string) ([]byte, error)

// Client decodes the exit-facing artifacts into typed Go values.
type Client struct {
	transport Transport
}

// Option configures a Client.
type Option func(*Client)

// WithTransport overrides the default not-configured transport; a
// Client constructed without one returns ErrNoTransport from every call.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// New returns a Client; callers must supply WithTransport to make it
// usable.
func New(opts ...Option) *Client {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ErrNoTransport is returned by every call when the Client was
// constructed without WithTransport.
var ErrNoTransport = &Error{Message: "sdkclient: no transport configured"}

// Error is a decode- or transport-level failure; Code distinguishes the
// class of failure by string reason since there is no HTTP response
// here to classify.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("sdkclient: %s", e.Message) }

func (c *Client) fetch(ctx context.Context, path string, out interface{}) error {
	if c.transport == nil {
		return ErrNoTransport
	}
	body, err := c.transport(ctx, path)
	if err != nil {
		return &Error{Code: "transport_failed", Message: err.Error()}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Code: "decode_failed", Message: err.Error()}
	}
	return nil
}

// AllocationView is one reconciliation allocation row in the exit
// artifact, mirroring domain.ReconciliationAllocation's JSON shape
// without re-exporting the domain type, keeping the SDK's wire
// contract independent of internal refactors.
type AllocationView struct {
	ID                string  `json:"id"`
	SnapshotID        string  `json:"snapshot_id"`
	BankTransactionID string  `json:"bank_transaction_id"`
	TargetType        string  `json:"target_type"`
	TargetID          string  `json:"target_id"`
	Tier              string  `json:"tier"`
	Status            string  `json:"status"`
	AllocatedAmount   string  `json:"allocated_amount"`
	Confidence        float64 `json:"confidence"`
}

// ListAllocations fetches the allocations exit artifact for a snapshot.
func (c *Client) ListAllocations(ctx context.Context, snapshotID string) ([]AllocationView, error) {
	var out []AllocationView
	err := c.fetch(ctx, fmt.Sprintf("/snapshots/%s/allocations", snapshotID), &out)
	return out, err
}

// WeekRowView is one row of the 13-week cash calendar grid.
type WeekRowView struct {
	WeekLabel    string `json:"week_label"`
	StartDate    string `json:"start_date"`
	OpeningCash  string `json:"opening_cash"`
	InflowP50    string `json:"inflow_p50"`
	OutflowTotal string `json:"outflow_total"`
	ClosingCash  string `json:"closing_cash"`
	IsCritical   bool   `json:"is_critical"`
}

// CashCalendarView is the exit artifact for the 13-week grid.
type CashCalendarView struct {
	OpeningCash  string        `json:"opening_cash"`
	MinThreshold string        `json:"min_threshold"`
	Weeks        []WeekRowView `json:"weeks"`
}

// GetCashCalendar fetches the cash calendar grid exit artifact.
func (c *Client) GetCashCalendar(ctx context.Context, snapshotID string) (*CashCalendarView, error) {
	var out CashCalendarView
	err := c.fetch(ctx, fmt.Sprintf("/snapshots/%s/calendar", snapshotID), &out)
	return &out, err
}

// CheckResultView is one invariant check's outcome in the exit artifact.
type CheckResultView struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	Severity    string `json:"severity"`
	ProofString string `json:"proof_string"`
}

// InvariantRunView is the exit artifact for an invariant run.
type InvariantRunView struct {
	ID               string            `json:"id"`
	SnapshotID       string            `json:"snapshot_id"`
	Status           string            `json:"status"`
	CriticalFailures int               `json:"critical_failures"`
	Results          []CheckResultView `json:"results"`
}

// GetInvariantRun fetches a past invariant run's exit artifact by id.
func (c *Client) GetInvariantRun(ctx context.Context, runID string) (*InvariantRunView, error) {
	var out InvariantRunView
	err := c.fetch(ctx, fmt.Sprintf("/invariant-runs/%s", runID), &out)
	return &out, err
}

// TrustMetricView is one metric row in the exit artifact.
type TrustMetricView struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// TrustReportView is the exit artifact for a trust report.
type TrustReportView struct {
	ID           string            `json:"id"`
	SnapshotID   string            `json:"snapshot_id"`
	TrustScore   float64           `json:"trust_score"`
	LockEligible bool              `json:"lock_eligible"`
	GateFailures []string          `json:"gate_failures"`
	Metrics      []TrustMetricView `json:"metrics"`
}

// GetTrustReport fetches a snapshot's most recent trust report exit
// artifact.
func (c *Client) GetTrustReport(ctx context.Context, snapshotID string) (*TrustReportView, error) {
	var out TrustReportView
	err := c.fetch(ctx, fmt.Sprintf("/snapshots/%s/trust-report", snapshotID), &out)
	return &out, err
}
