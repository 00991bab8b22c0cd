// Package forecast implements probabilistic payment-date prediction with
// conformal calibration: hierarchical segment fallback, recency
// weighting, winsorization, and split-conformal coverage diagnostics.
package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaultline/cashops/internal/domain"
	"github.com/vaultline/cashops/internal/metrics"
	"github.com/vaultline/cashops/internal/store"
)

// Engine runs the probabilistic forecast over a snapshot's invoices.
type Engine struct {
	store  store.Store
	cache  *SegmentCache
	logger zerolog.Logger
}

// New returns a forecast Engine backed by the given store, caching the
// last run's artifacts for ttl so repeated Diagnostics calls don't
// re-query the store.
func New(s store.Store, ttl time.Duration, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  s,
		cache:  NewSegmentCache(ttl),
		logger: logger.With().Str("component", "forecast-engine").Logger(),
	}
}

// RunResult summarizes one forecast run.
type RunResult struct {
	SnapshotID         string
	SegmentsAnalyzed   int
	InvoicesForecasted int
	CalibrationStats   int
}

// Run computes segment delay statistics from paid invoices, calibrates
// them with split-conformal backtesting, persists both to the Canonical
// Store, and writes predicted payment dates and confidence bands onto
// every still-open invoice.
func (e *Engine) Run(ctx context.Context, snapshotID string) (*RunResult, error) {
	now := time.Now().UTC()

	invoices, err := e.store.ListInvoices(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	if len(invoices) == 0 {
		return &RunResult{SnapshotID: snapshotID}, nil
	}

	var paid []paidRecord
	var open []*domain.Invoice
	for _, inv := range invoices {
		if inv.DueDate.IsZero() {
			continue
		}
		if inv.PaymentDate != nil {
			delay := clamp(inv.PaymentDate.Sub(inv.DueDate).Hours()/24, -30, 180)
			paid = append(paid, paidRecord{invoice: inv, delay: delay})
		} else {
			open = append(open, inv)
		}
	}

	segmentMap := buildSegments(snapshotID, paid, now)
	segments := make([]*domain.Segment, 0, len(segmentMap))
	for _, seg := range segmentMap {
		segments = append(segments, seg)
		if err := e.store.UpsertSegment(ctx, seg); err != nil {
			return nil, fmt.Errorf("upsert segment: %w", err)
		}
	}

	rawByKey := map[string][]float64{}
	for _, h := range hierarchyLevels {
		for _, p := range paid {
			key := segmentKeyFor(h, p.invoice)
			rawByKey[segmentMapKey(h.level, key)] = append(rawByKey[segmentMapKey(h.level, key)], p.delay)
		}
	}
	calibrations := calibrateSegments(snapshotID, rawByKey)
	for _, c := range calibrations {
		if err := e.store.UpsertCalibrationRecord(ctx, c); err != nil {
			return nil, fmt.Errorf("upsert calibration record: %w", err)
		}
	}

	var forecasted int
	for _, inv := range open {
		seg, segName := selectSegment(segmentMap, inv)
		due := inv.DueDate
		predicted := due.Add(time.Duration(seg.P50) * 24 * time.Hour)
		p25 := due.Add(time.Duration(seg.P25) * 24 * time.Hour)
		p75 := due.Add(time.Duration(seg.P75) * 24 * time.Hour)

		inv.PredictedPaymentDate = &predicted
		inv.ConfidenceP25Date = &p25
		inv.ConfidenceP75Date = &p75
		inv.AssignedSegment = segName

		if err := e.store.UpsertInvoice(ctx, inv); err != nil {
			return nil, fmt.Errorf("upsert invoice %s: %w", inv.ID, err)
		}
		forecasted++
	}

	e.cache.Put(snapshotID, segments, calibrations, now)

	e.logger.Info().
		Str("snapshot_id", snapshotID).
		Int("segments", len(segments)).
		Int("forecasted", forecasted).
		Msg("forecast run complete")

	return &RunResult{
		SnapshotID:         snapshotID,
		SegmentsAnalyzed:   len(segments),
		InvoicesForecasted: forecasted,
		CalibrationStats:   len(calibrations),
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DriftWarning flags a segment whose calibrated coverage has drifted away
// from its nominal target.
type DriftWarning struct {
	Segment  string
	Issue    string
	Value    float64
	Expected float64
}

// InsufficientSegment flags a segment that never reached the minimum
// sample size required to be trusted.
type InsufficientSegment struct {
	Level      domain.SegmentLevel
	Key        string
	SampleSize int
}

// Diagnostics reports coverage, calibration error, sample-size spread,
// and drift warnings for the most recent run against a snapshot.
type Diagnostics struct {
	SnapshotID                   string
	TotalSegments                int
	SegmentsWithSufficientData   int
	SegmentsWithInsufficientData int
	AverageCoverageP25P75        *float64
	AverageCalibrationError      *float64
	CalibratedSegments           int
	MinSampleSize                int
	MaxSampleSize                int
	MedianSampleSize             float64
	DriftWarnings                []DriftWarning
	InsufficientDataSegments     []InsufficientSegment
}

// Diagnostics builds a diagnostics report for a snapshot, reading the
// last computed segments/calibrations from cache or, on a cache miss,
// from the Canonical Store directly.
func (e *Engine) Diagnostics(ctx context.Context, snapshotID string) (*Diagnostics, error) {
	now := time.Now().UTC()
	segments, calibrations, ok := e.cache.Get(snapshotID, now)
	if !ok {
		var err error
		segments, err = e.store.ListSegments(ctx, snapshotID)
		if err != nil {
			return nil, fmt.Errorf("list segments: %w", err)
		}
		calibrations, err = e.store.ListCalibrationRecords(ctx, snapshotID)
		if err != nil {
			return nil, fmt.Errorf("list calibration records: %w", err)
		}
		e.cache.Put(snapshotID, segments, calibrations, now)
	}

	diag := &Diagnostics{SnapshotID: snapshotID, TotalSegments: len(segments)}

	sampleSizes := make([]int, 0, len(segments))
	for _, s := range segments {
		sampleSizes = append(sampleSizes, s.Count)
		if s.Count >= minSampleSize {
			diag.SegmentsWithSufficientData++
		} else {
			diag.InsufficientDataSegments = append(diag.InsufficientDataSegments, InsufficientSegment{
				Level: s.Level, Key: s.Key, SampleSize: s.Count,
			})
		}
	}
	diag.SegmentsWithInsufficientData = len(diag.InsufficientDataSegments)

	if len(sampleSizes) > 0 {
		diag.MinSampleSize, diag.MaxSampleSize = sampleSizes[0], sampleSizes[0]
		for _, s := range sampleSizes {
			if s < diag.MinSampleSize {
				diag.MinSampleSize = s
			}
			if s > diag.MaxSampleSize {
				diag.MaxSampleSize = s
			}
		}
		diag.MedianSampleSize = medianInt(sampleSizes)
	}

	if len(calibrations) > 0 {
		var covSum, errSum float64
		for _, c := range calibrations {
			covSum += c.CoverageP25
			errSum += c.CalibrationError
			if c.CoverageP25 < 0.40 || c.CoverageP25 > 0.60 {
				diag.DriftWarnings = append(diag.DriftWarnings, DriftWarning{
					Segment: string(c.Level) + "::" + c.Key, Issue: "coverage_out_of_range",
					Value: c.CoverageP25, Expected: 0.50,
				})
			}
			if c.CalibrationError > 0.10 {
				diag.DriftWarnings = append(diag.DriftWarnings, DriftWarning{
					Segment: string(c.Level) + "::" + c.Key, Issue: "high_calibration_error",
					Value: c.CalibrationError, Expected: 0.10,
				})
			}
		}
		avgCov := covSum / float64(len(calibrations))
		avgErr := errSum / float64(len(calibrations))
		diag.AverageCoverageP25P75 = &avgCov
		diag.AverageCalibrationError = &avgErr
		diag.CalibratedSegments = len(calibrations)
	}

	metrics.ForecastSegmentsCalibrated.WithLabelValues(snapshotID).Set(float64(diag.CalibratedSegments))

	return diag, nil
}

func medianInt(values []int) float64 {
	sorted := append([]int(nil), values...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2.0
}
