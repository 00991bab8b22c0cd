package forecast

import (
	"strconv"
	"strings"
	"time"

	"github.com/vaultline/cashops/internal/domain"
)

const (
	minSampleSize       = 15
	recencyHalfLifeDays = 90.0
	winsorizePercentile = 99.0
)

// hierarchyLevel names the invoice attributes a segment groups on, paired
// with the domain.SegmentLevel it resolves to, in fallback order from
// most to least specific.
type hierarchyLevel struct {
	level  domain.SegmentLevel
	fields []string
}

var hierarchyLevels = []hierarchyLevel{
	{domain.LevelCustomerCountryTerms, []string{"customer", "country", "terms"}},
	{domain.LevelCustomerCountry, []string{"customer", "country"}},
	{domain.LevelCustomer, []string{"customer"}},
	{domain.LevelCountry, []string{"country"}},
	{domain.LevelGlobal, nil},
}

func segmentFieldValue(inv *domain.Invoice, field string) string {
	switch field {
	case "customer":
		return inv.Counterparty
	case "country":
		return inv.Country
	case "terms":
		return strconv.Itoa(inv.PaymentTermDays)
	}
	return ""
}

func segmentKeyFor(h hierarchyLevel, inv *domain.Invoice) string {
	if len(h.fields) == 0 {
		return ""
	}
	parts := make([]string, len(h.fields))
	for i, f := range h.fields {
		parts[i] = strings.TrimSpace(segmentFieldValue(inv, f))
	}
	return strings.Join(parts, "+")
}

// defaultSegment is the absolute fallback used when no historical
// payment data exists at all.
func defaultSegment(snapshotID string) *domain.Segment {
	return &domain.Segment{
		SnapshotID: snapshotID, Level: domain.LevelGlobal, Key: "",
		Count: 0,
		P25:   -7, P50: 0, P75: 14, P90: 30,
		WeightedMean: 0, WeightedStd: 15,
	}
}

type paidRecord struct {
	invoice *domain.Invoice
	delay   float64
}

// buildSegments computes winsorized, recency-weighted delay statistics
// for every hierarchy level with enough samples, falling back to a
// synthetic global default when there is no paid history at all.
func buildSegments(snapshotID string, paid []paidRecord, now time.Time) map[string]*domain.Segment {
	result := map[string]*domain.Segment{}
	if len(paid) == 0 {
		seg := defaultSegment(snapshotID)
		result[segmentMapKey(domain.LevelGlobal, "")] = seg
		return result
	}

	rawDelays := make([]float64, len(paid))
	for i, p := range paid {
		rawDelays[i] = p.delay
	}
	winsorized := winsorize(rawDelays, winsorizePercentile)

	weighted := make([]weightedSample, len(paid))
	for i, p := range paid {
		age := now.Sub(*p.invoice.PaymentDate).Hours() / 24
		weighted[i] = weightedSample{value: winsorized[i], weight: recencyWeight(age, recencyHalfLifeDays)}
	}

	for _, h := range hierarchyLevels {
		if len(h.fields) == 0 {
			if seg := calculateSegment(snapshotID, weighted, h.level, ""); seg != nil {
				result[segmentMapKey(h.level, "")] = seg
			}
			continue
		}

		groups := map[string][]weightedSample{}
		for i, p := range paid {
			key := segmentKeyFor(h, p.invoice)
			groups[key] = append(groups[key], weighted[i])
		}
		for key, samples := range groups {
			if len(samples) < minSampleSize {
				continue
			}
			if seg := calculateSegment(snapshotID, samples, h.level, key); seg != nil {
				result[segmentMapKey(h.level, key)] = seg
			}
		}
	}

	return result
}

func calculateSegment(snapshotID string, samples []weightedSample, level domain.SegmentLevel, key string) *domain.Segment {
	if len(samples) == 0 {
		return nil
	}
	percentiles := weightedPercentiles(samples, []float64{25, 50, 75, 90})
	mean, std := weightedMeanStd(samples)

	return &domain.Segment{
		SnapshotID: snapshotID, Level: level, Key: key, Count: len(samples),
		P25: percentiles[25], P50: percentiles[50], P75: percentiles[75], P90: percentiles[90],
		WeightedMean: mean, WeightedStd: std,
	}
}

func segmentMapKey(level domain.SegmentLevel, key string) string {
	return string(level) + "::" + key
}

// selectSegment walks the hierarchy levels from most to least specific,
// returning the first one with enough samples to have been built. This is
// the lookup-side mirror of buildSegments's grouping.
func selectSegment(segments map[string]*domain.Segment, inv *domain.Invoice) (*domain.Segment, string) {
	for _, h := range hierarchyLevels {
		key := segmentKeyFor(h, inv)
		if seg, ok := segments[segmentMapKey(h.level, key)]; ok {
			return seg, string(h.level)
		}
	}
	return defaultSegment(inv.SnapshotID), string(domain.LevelGlobal)
}
