// Package invariant implements the Invariant Engine: seven deterministic
// correctness checks that gate lock eligibility, each producing a proof
// string and evidence refs.
package invariant

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/vaultline/cashops/internal/domain"
	"github.com/vaultline/cashops/internal/metrics"
	"github.com/vaultline/cashops/internal/store"
)

// Status is the outcome of a single invariant check.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
	StatusWarn Status = "WARN"
	StatusSkip Status = "SKIP"
)

// RunStatus is the aggregate outcome of a Run over all seven checks.
type RunStatus string

const (
	RunPassed RunStatus = "PASSED"
	RunPartial RunStatus = "PARTIAL"
	RunFailed RunStatus = "FAILED"
)

// CheckResult is the outcome of one invariant check.
type CheckResult struct {
	Name             string
	Description      string
	Status           Status
	Severity         domain.Severity
	Details          map[string]interface{}
	ProofString      string
	EvidenceRefs     []domain.EvidenceRef
	ExposureAmount   decimal.Decimal
	ExposureCurrency string
}

// Summary aggregates counts across a Run's check results.
type Summary struct {
	TotalChecks      int
	Passed           int
	Failed           int
	Warnings         int
	Skipped          int
	CriticalFailures int
	ExecutionTimeMs  float64
}

// Run is the record of one invocation of all seven invariant checks
// against a snapshot.
type Run struct {
	ID          string
	SnapshotID  string
	TriggeredBy string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt time.Time
	Results     []CheckResult
	Summary     Summary
}

// Engine runs all seven invariant checks over a snapshot.
type Engine struct {
	store     store.Store
	tolerance decimal.Decimal
	logger    zerolog.Logger
	alerts    alerter
}

// alerter is the one notify.Client method this package needs, kept as
// a narrow local interface so invariant never imports notify's
// PagerDuty HTTP plumbing directly.
type alerter interface {
	AlertCriticalInvariantFailure(snapshotID, checkName, proof string) error
}

// New returns an Engine comparing floating-point-equivalent amounts
// within the given absolute tolerance (spec default 0.01).
func New(s store.Store, tolerance decimal.Decimal, logger zerolog.Logger) *Engine {
	return &Engine{store: s, tolerance: tolerance, logger: logger.With().Str("component", "invariant-engine").Logger()}
}

// WithAlerts attaches a notify.Client so critical findings page
// on-call as soon as RunAll surfaces them.
func (e *Engine) WithAlerts(a alerter) *Engine {
	e.alerts = a
	return e
}

// RunAll executes all seven checks over a snapshot and returns the
// aggregated Run. It never mutates the snapshot or its children — a
// failed check is recorded as a FAIL result, never raised as an error.
func (e *Engine) RunAll(ctx context.Context, snapshotID, triggeredBy string) (*Run, error) {
	start := time.Now()

	snap, err := e.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	entity, err := e.store.GetEntity(ctx, snap.EntityID)
	if err != nil {
		return nil, fmt.Errorf("load entity: %w", err)
	}

	run := &Run{
		ID:          uuid.NewString(),
		SnapshotID:  snapshotID,
		TriggeredBy: triggeredBy,
		StartedAt:   start,
	}

	checks := []func(context.Context, *domain.Snapshot, *domain.Entity) (CheckResult, error){
		e.checkWeeklyCashMath,
		e.checkDrilldownSumIntegrity,
		e.checkReconciliationConservation,
		e.checkNoOvermatch,
		e.checkFXSafety,
		e.checkSnapshotImmutability,
		e.checkIdempotency,
	}

	for _, check := range checks {
		result, err := check(ctx, snap, entity)
		if err != nil {
			return nil, err
		}
		run.Results = append(run.Results, result)
		run.Summary.TotalChecks++
		switch result.Status {
		case StatusPass:
			run.Summary.Passed++
		case StatusFail:
			run.Summary.Failed++
			if result.Severity == domain.SeverityCritical {
				run.Summary.CriticalFailures++
				if e.alerts != nil {
					if err := e.alerts.AlertCriticalInvariantFailure(snapshotID, result.Name, result.ProofString); err != nil {
						e.logger.Warn().Err(err).Str("check", result.Name).Msg("failed to send critical invariant alert")
					}
				}
			}
		case StatusWarn:
			run.Summary.Warnings++
		case StatusSkip:
			run.Summary.Skipped++
		}
	}

	run.Summary.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	run.CompletedAt = time.Now()

	switch {
	case run.Summary.Failed > 0:
		run.Status = RunFailed
	case run.Summary.Warnings > 0:
		run.Status = RunPartial
	default:
		run.Status = RunPassed
	}

	metrics.InvariantRunDuration.Observe(run.Summary.ExecutionTimeMs / 1000.0)
	metrics.InvariantCriticalFailures.WithLabelValues(snapshotID).Set(float64(run.Summary.CriticalFailures))

	return run, nil
}

// HasOpenCriticalFindings reports whether the most recent run contains
// any unresolved FAIL at CRITICAL severity — the input to the trust
// report's "critical findings open" lock gate.
func (r *Run) HasOpenCriticalFindings() bool {
	return r.Summary.CriticalFailures > 0
}

func isoWeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func decFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
