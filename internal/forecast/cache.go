package forecast

import (
	"sync"
	"time"

	"github.com/vaultline/cashops/internal/domain"
)

// segmentCacheEntry holds one snapshot's forecast artifacts, namespaced
// by snapshot ID with a TTL and a hit counter.
type segmentCacheEntry struct {
	segments     []*domain.Segment
	calibrations []*domain.CalibrationRecord
	expiresAt    time.Time
	hitCount     int64
}

// SegmentCache is a short-lived read-through cache in front of the
// Canonical Store's segment/calibration tables, so repeated Diagnostics
// calls in one process don't re-query on every call.
type SegmentCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]*segmentCacheEntry
}

// NewSegmentCache returns a cache evicting entries older than ttl.
func NewSegmentCache(ttl time.Duration) *SegmentCache {
	return &SegmentCache{ttl: ttl, entries: make(map[string]*segmentCacheEntry)}
}

func (c *SegmentCache) Put(snapshotID string, segments []*domain.Segment, calibrations []*domain.CalibrationRecord, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[snapshotID] = &segmentCacheEntry{
		segments:     segments,
		calibrations: calibrations,
		expiresAt:    now.Add(c.ttl),
	}
}

func (c *SegmentCache) Get(snapshotID string, now time.Time) ([]*domain.Segment, []*domain.CalibrationRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[snapshotID]
	if !ok || now.After(entry.expiresAt) {
		return nil, nil, false
	}
	entry.hitCount++
	return entry.segments, entry.calibrations, true
}
