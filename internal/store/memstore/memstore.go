// Package memstore is an in-process Store implementation used by tests
// and by the CLI when --pg is not set; it mirrors pgstore's semantics
// (uniqueness, not-found errors) without a database.
package memstore

import (
	"context"
	"sync"

	"github.com/vaultline/cashops/internal/domain"
)

// MemStore is a thread-safe, in-memory Store.
type MemStore struct {
	mu sync.RWMutex

	entities   map[string]*domain.Entity
	snapshots  map[string]*domain.Snapshot
	invoices   map[string]map[string]*domain.Invoice    // snapshotID -> id -> invoice
	bills      map[string]map[string]*domain.VendorBill // snapshotID -> id -> bill
	banktxns   map[string]map[string]*domain.BankTransaction
	allocs     map[string]map[string]*domain.ReconciliationAllocation
	fxrates    map[string]map[string]*domain.FXRate // snapshotID -> "from->to" -> rate
	auditlogs  map[string][]*domain.AuditLog
	exceptions map[string]map[string]*domain.Exception

	scenarios map[string]*domain.Scenario
	actions   map[string]*domain.Action
	comments  map[string][]*domain.Comment // "parentType:parentID" -> comments

	overrides map[string][]*domain.LockGateOverrideLog

	segments     map[string]map[string]*domain.Segment // snapshotID -> "level:key" -> segment
	calibrations map[string]map[string]*domain.CalibrationRecord

	recurringOutflows map[string][]*domain.RecurringOutflow // entityID -> templates
	outflowItems      map[string]map[string]*domain.OutflowItem
}

// New returns an empty MemStore.
func New() *MemStore {
	return &MemStore{
		entities:   make(map[string]*domain.Entity),
		snapshots:  make(map[string]*domain.Snapshot),
		invoices:   make(map[string]map[string]*domain.Invoice),
		bills:      make(map[string]map[string]*domain.VendorBill),
		banktxns:   make(map[string]map[string]*domain.BankTransaction),
		allocs:     make(map[string]map[string]*domain.ReconciliationAllocation),
		fxrates:    make(map[string]map[string]*domain.FXRate),
		auditlogs:  make(map[string][]*domain.AuditLog),
		exceptions: make(map[string]map[string]*domain.Exception),
		scenarios:  make(map[string]*domain.Scenario),
		actions:    make(map[string]*domain.Action),
		comments:   make(map[string][]*domain.Comment),
		overrides:  make(map[string][]*domain.LockGateOverrideLog),

		segments:     make(map[string]map[string]*domain.Segment),
		calibrations: make(map[string]map[string]*domain.CalibrationRecord),

		recurringOutflows: make(map[string][]*domain.RecurringOutflow),
		outflowItems:      make(map[string]map[string]*domain.OutflowItem),
	}
}

func segmentKey(level domain.SegmentLevel, key string) string {
	return string(level) + ":" + key
}

func (m *MemStore) CreateEntity(_ context.Context, e *domain.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[e.ID] = e
	return nil
}

func (m *MemStore) GetEntity(_ context.Context, id string) (*domain.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return nil, &domain.StateError{Message: "entity not found: " + id}
	}
	return e, nil
}

func (m *MemStore) CreateSnapshot(_ context.Context, s *domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.snapshots[s.ID]; exists {
		return &domain.StateError{Message: "snapshot already exists: " + s.ID}
	}
	m.snapshots[s.ID] = s
	m.invoices[s.ID] = make(map[string]*domain.Invoice)
	m.bills[s.ID] = make(map[string]*domain.VendorBill)
	m.banktxns[s.ID] = make(map[string]*domain.BankTransaction)
	m.allocs[s.ID] = make(map[string]*domain.ReconciliationAllocation)
	m.fxrates[s.ID] = make(map[string]*domain.FXRate)
	m.exceptions[s.ID] = make(map[string]*domain.Exception)
	return nil
}

func (m *MemStore) GetSnapshot(_ context.Context, id string) (*domain.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[id]
	if !ok {
		return nil, &domain.StateError{Message: "snapshot not found: " + id}
	}
	return s, nil
}

func (m *MemStore) UpdateSnapshot(_ context.Context, s *domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[s.ID]; !ok {
		return &domain.StateError{Message: "snapshot not found: " + s.ID}
	}
	m.snapshots[s.ID] = s
	return nil
}

func (m *MemStore) UpsertInvoice(_ context.Context, inv *domain.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.invoices[inv.SnapshotID]
	if bucket == nil {
		bucket = make(map[string]*domain.Invoice)
		m.invoices[inv.SnapshotID] = bucket
	}
	for _, existing := range bucket {
		if existing.CanonicalID == inv.CanonicalID && existing.ID != inv.ID {
			return &domain.StateError{Message: "duplicate canonical_id in snapshot: " + inv.CanonicalID}
		}
	}
	bucket[inv.ID] = inv
	return nil
}

func (m *MemStore) GetInvoice(_ context.Context, snapshotID, id string) (*domain.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invoices[snapshotID][id]
	if !ok {
		return nil, &domain.StateError{Message: "invoice not found: " + id}
	}
	return inv, nil
}

func (m *MemStore) ListInvoices(_ context.Context, snapshotID string) ([]*domain.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Invoice, 0, len(m.invoices[snapshotID]))
	for _, inv := range m.invoices[snapshotID] {
		out = append(out, inv)
	}
	return out, nil
}

func (m *MemStore) UpsertVendorBill(_ context.Context, vb *domain.VendorBill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.bills[vb.SnapshotID]
	if bucket == nil {
		bucket = make(map[string]*domain.VendorBill)
		m.bills[vb.SnapshotID] = bucket
	}
	for _, existing := range bucket {
		if existing.CanonicalID == vb.CanonicalID && existing.ID != vb.ID {
			return &domain.StateError{Message: "duplicate canonical_id in snapshot: " + vb.CanonicalID}
		}
	}
	bucket[vb.ID] = vb
	return nil
}

func (m *MemStore) ListVendorBills(_ context.Context, snapshotID string) ([]*domain.VendorBill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.VendorBill, 0, len(m.bills[snapshotID]))
	for _, vb := range m.bills[snapshotID] {
		out = append(out, vb)
	}
	return out, nil
}

func (m *MemStore) UpsertBankTransaction(_ context.Context, t *domain.BankTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.banktxns[t.SnapshotID]
	if bucket == nil {
		bucket = make(map[string]*domain.BankTransaction)
		m.banktxns[t.SnapshotID] = bucket
	}
	bucket[t.ID] = t
	return nil
}

func (m *MemStore) GetBankTransaction(_ context.Context, snapshotID, id string) (*domain.BankTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.banktxns[snapshotID][id]
	if !ok {
		return nil, &domain.StateError{Message: "bank transaction not found: " + id}
	}
	return t, nil
}

func (m *MemStore) ListBankTransactions(_ context.Context, snapshotID string) ([]*domain.BankTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.BankTransaction, 0, len(m.banktxns[snapshotID]))
	for _, t := range m.banktxns[snapshotID] {
		out = append(out, t)
	}
	return out, nil
}

func (m *MemStore) CreateAllocation(_ context.Context, a *domain.ReconciliationAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.allocs[a.SnapshotID]
	if bucket == nil {
		bucket = make(map[string]*domain.ReconciliationAllocation)
		m.allocs[a.SnapshotID] = bucket
	}
	bucket[a.ID] = a
	return nil
}

func (m *MemStore) UpdateAllocation(_ context.Context, a *domain.ReconciliationAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.allocs[a.SnapshotID]
	if bucket == nil {
		return &domain.StateError{Message: "allocation not found: " + a.ID}
	}
	bucket[a.ID] = a
	return nil
}

func (m *MemStore) ListAllocations(_ context.Context, snapshotID string) ([]*domain.ReconciliationAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.ReconciliationAllocation, 0, len(m.allocs[snapshotID]))
	for _, a := range m.allocs[snapshotID] {
		out = append(out, a)
	}
	return out, nil
}

func (m *MemStore) ListAllocationsForTransaction(_ context.Context, snapshotID, bankTxnID string) ([]*domain.ReconciliationAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.ReconciliationAllocation
	for _, a := range m.allocs[snapshotID] {
		if a.BankTransactionID == bankTxnID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemStore) ListAllocationsForTarget(_ context.Context, snapshotID string, targetType domain.AllocationTargetType, targetID string) ([]*domain.ReconciliationAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.ReconciliationAllocation
	for _, a := range m.allocs[snapshotID] {
		if a.TargetType == targetType && a.TargetID == targetID {
			out = append(out, a)
		}
	}
	return out, nil
}

func fxKey(from, to string) string { return from + "->" + to }

func (m *MemStore) UpsertFXRate(_ context.Context, r *domain.FXRate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.fxrates[r.SnapshotID]
	if bucket == nil {
		bucket = make(map[string]*domain.FXRate)
		m.fxrates[r.SnapshotID] = bucket
	}
	bucket[fxKey(r.FromCcy, r.ToCcy)] = r
	return nil
}

func (m *MemStore) GetFXRate(_ context.Context, snapshotID, from, to string) (*domain.FXRate, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.fxrates[snapshotID][fxKey(from, to)]
	return r, ok, nil
}

func (m *MemStore) ListFXRates(_ context.Context, snapshotID string) ([]*domain.FXRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.FXRate, 0, len(m.fxrates[snapshotID]))
	for _, r := range m.fxrates[snapshotID] {
		out = append(out, r)
	}
	return out, nil
}

func (m *MemStore) AppendAuditLog(_ context.Context, a *domain.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditlogs[a.SnapshotID] = append(m.auditlogs[a.SnapshotID], a)
	return nil
}

func (m *MemStore) ListAuditLogs(_ context.Context, snapshotID string) ([]*domain.AuditLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.AuditLog, len(m.auditlogs[snapshotID]))
	copy(out, m.auditlogs[snapshotID])
	return out, nil
}

func (m *MemStore) UpsertExceptionRecord(_ context.Context, e *domain.Exception) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.exceptions[e.SnapshotID]
	if bucket == nil {
		bucket = make(map[string]*domain.Exception)
		m.exceptions[e.SnapshotID] = bucket
	}
	bucket[e.ID] = e
	return nil
}

func (m *MemStore) ListExceptions(_ context.Context, snapshotID string) ([]*domain.Exception, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Exception, 0, len(m.exceptions[snapshotID]))
	for _, e := range m.exceptions[snapshotID] {
		out = append(out, e)
	}
	return out, nil
}

func (m *MemStore) CreateScenario(_ context.Context, s *domain.Scenario) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.scenarios[s.ID]; exists {
		return &domain.StateError{Message: "scenario already exists: " + s.ID}
	}
	m.scenarios[s.ID] = s
	return nil
}

func (m *MemStore) UpdateScenario(_ context.Context, s *domain.Scenario) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scenarios[s.ID]; !ok {
		return &domain.StateError{Message: "scenario not found: " + s.ID}
	}
	m.scenarios[s.ID] = s
	return nil
}

func (m *MemStore) GetScenario(_ context.Context, id string) (*domain.Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scenarios[id]
	if !ok {
		return nil, &domain.StateError{Message: "scenario not found: " + id}
	}
	return s, nil
}

func (m *MemStore) ListScenarios(_ context.Context, baseSnapshotID string) ([]*domain.Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Scenario
	for _, s := range m.scenarios {
		if s.BaseSnapshotID == baseSnapshotID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemStore) CreateAction(_ context.Context, a *domain.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.actions[a.ID]; exists {
		return &domain.StateError{Message: "action already exists: " + a.ID}
	}
	m.actions[a.ID] = a
	return nil
}

func (m *MemStore) UpdateAction(_ context.Context, a *domain.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.actions[a.ID]; !ok {
		return &domain.StateError{Message: "action not found: " + a.ID}
	}
	m.actions[a.ID] = a
	return nil
}

func (m *MemStore) GetAction(_ context.Context, id string) (*domain.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.actions[id]
	if !ok {
		return nil, &domain.StateError{Message: "action not found: " + id}
	}
	return a, nil
}

func (m *MemStore) ListActions(_ context.Context, snapshotID string) ([]*domain.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Action
	for _, a := range m.actions {
		if a.SnapshotID == snapshotID {
			out = append(out, a)
		}
	}
	return out, nil
}

func commentKey(parentType, parentID string) string { return parentType + ":" + parentID }

func (m *MemStore) CreateComment(_ context.Context, c *domain.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := commentKey(c.ParentType, c.ParentID)
	m.comments[key] = append(m.comments[key], c)
	return nil
}

func (m *MemStore) UpdateComment(_ context.Context, c *domain.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := commentKey(c.ParentType, c.ParentID)
	for i, existing := range m.comments[key] {
		if existing.ID == c.ID {
			m.comments[key][i] = c
			return nil
		}
	}
	return &domain.StateError{Message: "comment not found: " + c.ID}
}

func (m *MemStore) ListComments(_ context.Context, parentType, parentID string) ([]*domain.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.comments[commentKey(parentType, parentID)]
	out := make([]*domain.Comment, len(src))
	copy(out, src)
	return out, nil
}

func (m *MemStore) AppendLockGateOverrideLog(_ context.Context, o *domain.LockGateOverrideLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[o.SnapshotID] = append(m.overrides[o.SnapshotID], o)
	return nil
}

func (m *MemStore) ListLockGateOverrideLogs(_ context.Context, snapshotID string) ([]*domain.LockGateOverrideLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.LockGateOverrideLog, len(m.overrides[snapshotID]))
	copy(out, m.overrides[snapshotID])
	return out, nil
}

func (m *MemStore) UpsertSegment(_ context.Context, s *domain.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.segments[s.SnapshotID] == nil {
		m.segments[s.SnapshotID] = make(map[string]*domain.Segment)
	}
	m.segments[s.SnapshotID][segmentKey(s.Level, s.Key)] = s
	return nil
}

func (m *MemStore) ListSegments(_ context.Context, snapshotID string) ([]*domain.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Segment, 0, len(m.segments[snapshotID]))
	for _, s := range m.segments[snapshotID] {
		out = append(out, s)
	}
	return out, nil
}

func (m *MemStore) UpsertCalibrationRecord(_ context.Context, c *domain.CalibrationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calibrations[c.SnapshotID] == nil {
		m.calibrations[c.SnapshotID] = make(map[string]*domain.CalibrationRecord)
	}
	m.calibrations[c.SnapshotID][segmentKey(c.Level, c.Key)] = c
	return nil
}

func (m *MemStore) ListCalibrationRecords(_ context.Context, snapshotID string) ([]*domain.CalibrationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.CalibrationRecord, 0, len(m.calibrations[snapshotID]))
	for _, c := range m.calibrations[snapshotID] {
		out = append(out, c)
	}
	return out, nil
}

func (m *MemStore) CreateRecurringOutflow(_ context.Context, r *domain.RecurringOutflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recurringOutflows[r.EntityID] = append(m.recurringOutflows[r.EntityID], r)
	return nil
}

func (m *MemStore) ListRecurringOutflows(_ context.Context, entityID string) ([]*domain.RecurringOutflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.RecurringOutflow, len(m.recurringOutflows[entityID]))
	copy(out, m.recurringOutflows[entityID])
	return out, nil
}

func (m *MemStore) CreateOutflowItem(_ context.Context, o *domain.OutflowItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outflowItems[o.SnapshotID] == nil {
		m.outflowItems[o.SnapshotID] = make(map[string]*domain.OutflowItem)
	}
	m.outflowItems[o.SnapshotID][o.ID] = o
	return nil
}

func (m *MemStore) ListOutflowItems(_ context.Context, snapshotID string) ([]*domain.OutflowItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.OutflowItem, 0, len(m.outflowItems[snapshotID]))
	for _, o := range m.outflowItems[snapshotID] {
		out = append(out, o)
	}
	return out, nil
}
