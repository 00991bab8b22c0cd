// Package memlineage is an in-memory lineage.Store for tests and for
// the CLI when --pg is not set.
package memlineage

import (
	"context"
	"sync"

	"github.com/vaultline/cashops/internal/domain"
	"github.com/vaultline/cashops/internal/lineage"
)

// MemLineage is a thread-safe, in-memory lineage.Store.
type MemLineage struct {
	mu sync.RWMutex

	connections map[string]*domain.LineageConnection
	syncRuns    map[string]*domain.SyncRun
	datasets    map[string]*domain.Dataset
	// datasetOrder tracks creation order per connection to find the
	// latest dataset without relying on a wall-clock comparison.
	datasetOrder  map[string][]string // connectionID -> dataset ids in creation order
	rawRecords    map[string]*domain.RawRecord
	canonical     map[string]map[string]*domain.CanonicalRecord // datasetID -> canonicalID -> record
	driftEvents   map[string][]*domain.SchemaDriftEvent
}

// New returns an empty MemLineage.
func New() *MemLineage {
	return &MemLineage{
		connections:  make(map[string]*domain.LineageConnection),
		syncRuns:     make(map[string]*domain.SyncRun),
		datasets:     make(map[string]*domain.Dataset),
		datasetOrder: make(map[string][]string),
		rawRecords:   make(map[string]*domain.RawRecord),
		canonical:    make(map[string]map[string]*domain.CanonicalRecord),
		driftEvents:  make(map[string][]*domain.SchemaDriftEvent),
	}
}

func (m *MemLineage) CreateConnection(_ context.Context, c *domain.LineageConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
	return nil
}

func (m *MemLineage) GetConnection(_ context.Context, id string) (*domain.LineageConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connections[id]
	if !ok {
		return nil, &domain.StateError{Message: "connection not found: " + id}
	}
	return c, nil
}

func (m *MemLineage) UpdateConnection(_ context.Context, c *domain.LineageConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
	return nil
}

func (m *MemLineage) ListConnections(_ context.Context, entityID string) ([]*domain.LineageConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.LineageConnection
	for _, c := range m.connections {
		if c.EntityID == entityID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemLineage) CreateSyncRun(_ context.Context, r *domain.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncRuns[r.ID] = r
	return nil
}

func (m *MemLineage) UpdateSyncRun(_ context.Context, r *domain.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncRuns[r.ID] = r
	return nil
}

func (m *MemLineage) GetSyncRun(_ context.Context, id string) (*domain.SyncRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.syncRuns[id]
	if !ok {
		return nil, &domain.StateError{Message: "sync run not found: " + id}
	}
	return r, nil
}

func (m *MemLineage) CreateDataset(_ context.Context, d *domain.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[d.ID] = d
	m.datasetOrder[d.ConnectionID] = append(m.datasetOrder[d.ConnectionID], d.ID)
	return nil
}

func (m *MemLineage) UpdateDataset(_ context.Context, d *domain.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[d.ID] = d
	return nil
}

func (m *MemLineage) LatestDatasetForConnection(_ context.Context, connectionID string) (*domain.Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order := m.datasetOrder[connectionID]
	if len(order) == 0 {
		return nil, nil
	}
	return m.datasets[order[len(order)-1]], nil
}

func (m *MemLineage) CreateRawRecord(_ context.Context, r *domain.RawRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rawRecords[r.ID] = r
	return nil
}

func (m *MemLineage) MarkRawRecordProcessed(_ context.Context, id string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rawRecords[id]
	if !ok {
		return &domain.StateError{Message: "raw record not found: " + id}
	}
	r.Processed = true
	r.ErrorMessage = errMsg
	return nil
}

func (m *MemLineage) CreateCanonicalRecord(_ context.Context, r *domain.CanonicalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.canonical[r.DatasetID]
	if bucket == nil {
		bucket = make(map[string]*domain.CanonicalRecord)
		m.canonical[r.DatasetID] = bucket
	}
	if _, exists := bucket[r.CanonicalID]; exists {
		return lineage.ErrDuplicateCanonicalID
	}
	bucket[r.CanonicalID] = r
	return nil
}

func (m *MemLineage) ListCanonicalRecords(_ context.Context, datasetID string) ([]*domain.CanonicalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.CanonicalRecord, 0, len(m.canonical[datasetID]))
	for _, r := range m.canonical[datasetID] {
		out = append(out, r)
	}
	return out, nil
}

func (m *MemLineage) RecordSchemaDriftEvent(_ context.Context, e *domain.SchemaDriftEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.driftEvents[e.ConnectionID] = append(m.driftEvents[e.ConnectionID], e)
	return nil
}

func (m *MemLineage) ListSchemaDriftEvents(_ context.Context, connectionID string) ([]*domain.SchemaDriftEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.SchemaDriftEvent, len(m.driftEvents[connectionID]))
	copy(out, m.driftEvents[connectionID])
	return out, nil
}
