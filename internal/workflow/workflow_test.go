package workflow

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultline/cashops/internal/domain"
	"github.com/vaultline/cashops/internal/lock/memlock"
	"github.com/vaultline/cashops/internal/store/memstore"
)

func testWorkflow() (*Workflow, *memstore.MemStore) {
	s := memstore.New()
	return New(s, memlock.New(), zerolog.New(io.Discard)), s
}

func seedDraftSnapshot(t *testing.T, s *memstore.MemStore) *domain.Snapshot {
	t.Helper()
	ctx := context.Background()
	ent := &domain.Entity{ID: "ent-1", Name: "Acme EU", BaseCurrency: "EUR", PaymentRunDay: 4}
	require.NoError(t, s.CreateEntity(ctx, ent))
	snap := &domain.Snapshot{
		ID:                 "snap-1",
		EntityID:           ent.ID,
		Status:             domain.SnapshotDraft,
		OpeningBankBalance: decimal.NewFromInt(100000),
		MinCashThreshold:   decimal.NewFromInt(10000),
	}
	require.NoError(t, s.CreateSnapshot(ctx, snap))
	return snap
}

func lockSnapshot(t *testing.T, wf *Workflow, s *memstore.MemStore, snap *domain.Snapshot) {
	t.Helper()
	ctx := context.Background()
	snap.Status = domain.SnapshotReadyForReview
	require.NoError(t, s.UpdateSnapshot(ctx, snap))
	err := wf.Lock(ctx, snap.ID, "cfo@acme.com", domain.RoleLockCapable, "I accept the Q4 FX gap; revisit next week",
		LockDecision{GatesPassed: true}, nil)
	require.NoError(t, err)
}

// TestMarkReadyForReview_DeniedByCriticalException covers §4.G's DRAFT ->
// READY_FOR_REVIEW gate: a critical open exception blocks the transition.
func TestMarkReadyForReview_DeniedByCriticalException(t *testing.T) {
	wf, s := testWorkflow()
	ctx := context.Background()
	snap := seedDraftSnapshot(t, s)

	require.NoError(t, s.UpsertExceptionRecord(ctx, &domain.Exception{
		ID: "exc-1", SnapshotID: snap.ID, Type: "missing_fx", Severity: domain.SeverityCritical, Status: domain.ExceptionOpen,
	}))

	err := wf.MarkReadyForReview(ctx, snap.ID, "alice@acme.com", domain.RoleRegular)
	require.Error(t, err)
	var stateErr *domain.StateError
	assert.ErrorAs(t, err, &stateErr)

	reloaded, err := s.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotDraft, reloaded.Status)
}

func TestMarkReadyForReview_SucceedsWithoutCriticalExceptions(t *testing.T) {
	wf, s := testWorkflow()
	ctx := context.Background()
	snap := seedDraftSnapshot(t, s)

	require.NoError(t, s.UpsertExceptionRecord(ctx, &domain.Exception{
		ID: "exc-1", SnapshotID: snap.ID, Type: "stale_rate", Severity: domain.SeverityWarning, Status: domain.ExceptionOpen,
	}))

	require.NoError(t, wf.MarkReadyForReview(ctx, snap.ID, "alice@acme.com", domain.RoleRegular))

	reloaded, err := s.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotReadyForReview, reloaded.Status)
}

// TestLock_RequiresLockCapableRole covers §4.G/§6: only LOCK_CAPABLE may
// lock a snapshot.
func TestLock_RequiresLockCapableRole(t *testing.T) {
	wf, s := testWorkflow()
	ctx := context.Background()
	snap := seedDraftSnapshot(t, s)
	snap.Status = domain.SnapshotReadyForReview
	require.NoError(t, s.UpdateSnapshot(ctx, snap))

	err := wf.Lock(ctx, snap.ID, "bob@acme.com", domain.RoleRegular, "month end", LockDecision{GatesPassed: true}, nil)
	require.Error(t, err)
	var policyErr *domain.PolicyViolation
	assert.ErrorAs(t, err, &policyErr)
}

// TestLock_FailedGatesRequireOverride covers §4.J: a failed-gate lock
// without an override is refused.
func TestLock_FailedGatesRequireOverride(t *testing.T) {
	wf, s := testWorkflow()
	ctx := context.Background()
	snap := seedDraftSnapshot(t, s)
	snap.Status = domain.SnapshotReadyForReview
	require.NoError(t, s.UpdateSnapshot(ctx, snap))

	err := wf.Lock(ctx, snap.ID, "cfo@acme.com", domain.RoleLockCapable, "month end", LockDecision{GatesPassed: false}, nil)
	require.Error(t, err)
	var policyErr *domain.PolicyViolation
	assert.ErrorAs(t, err, &policyErr)

	reloaded, err := s.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotReadyForReview, reloaded.Status)
}

// TestLock_FreezesPoliciesAndOverride exercises a failed-gate lock with a
// valid override, and checks the policy-freeze write.
func TestLock_FreezesPoliciesAndOverride(t *testing.T) {
	wf, s := testWorkflow()
	ctx := context.Background()
	snap := seedDraftSnapshot(t, s)
	snap.Status = domain.SnapshotReadyForReview
	require.NoError(t, s.UpdateSnapshot(ctx, snap))

	policy := domain.DefaultMatchingPolicy(snap.EntityID, "EUR")
	override := &domain.LockGateOverrideLog{
		SnapshotID:     snap.ID,
		User:           "cfo@acme.com",
		Role:           domain.RoleLockCapable,
		Acknowledgment: "I accept the Q4 FX gap; revisit next week",
		Reason:         "FX feed down for known reasons",
	}
	require.NoError(t, override.Valid())

	err := wf.Lock(ctx, snap.ID, "cfo@acme.com", domain.RoleLockCapable, "month end",
		LockDecision{GatesPassed: false, Override: override}, []domain.MatchingPolicy{policy})
	require.NoError(t, err)

	reloaded, err := s.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotLocked, reloaded.Status)
	assert.NotEmpty(t, reloaded.PoliciesJSON)
	assert.Contains(t, reloaded.PoliciesJSON, "matching_policies")
	require.NotNil(t, reloaded.Lock)
	assert.Equal(t, "cfo@acme.com", reloaded.Lock.LockedBy)
}

// S4 — Locked immutability: once locked, every write path must refuse to
// mutate the snapshot or any child row.
func TestS4_LockedSnapshotRejectsExceptionAssignment(t *testing.T) {
	wf, s := testWorkflow()
	ctx := context.Background()
	snap := seedDraftSnapshot(t, s)
	require.NoError(t, s.UpsertExceptionRecord(ctx, &domain.Exception{
		ID: "exc-1", SnapshotID: snap.ID, Type: "missing_fx", Severity: domain.SeverityWarning, Status: domain.ExceptionOpen,
	}))

	lockSnapshot(t, wf, s, snap)

	err := wf.AssignException(ctx, snap.ID, "exc-1", "alice@acme.com", "bob@acme.com", domain.RoleRegular, nil)
	require.Error(t, err)
	assert.Equal(t, "Cannot modify locked snapshot.", err.Error())

	reloaded, err := s.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotLocked, reloaded.Status)
}

func TestS4_LockedSnapshotRejectsActionCreation(t *testing.T) {
	wf, s := testWorkflow()
	ctx := context.Background()
	snap := seedDraftSnapshot(t, s)
	lockSnapshot(t, wf, s, snap)

	_, err := wf.CreateAction(ctx, snap.ID, "chase overdue invoice", "alice@acme.com", domain.RoleRegular, false)
	require.Error(t, err)
	assert.Equal(t, "Cannot modify locked snapshot.", err.Error())
}

func TestException_AssignThenResolveRequiresNote(t *testing.T) {
	wf, s := testWorkflow()
	ctx := context.Background()
	snap := seedDraftSnapshot(t, s)
	require.NoError(t, s.UpsertExceptionRecord(ctx, &domain.Exception{
		ID: "exc-1", SnapshotID: snap.ID, Type: "missing_fx", Severity: domain.SeverityWarning, Status: domain.ExceptionOpen,
	}))

	require.NoError(t, wf.AssignException(ctx, snap.ID, "exc-1", "alice@acme.com", "bob@acme.com", domain.RoleRegular, nil))

	err := wf.ResolveException(ctx, snap.ID, "exc-1", "alice@acme.com", domain.RoleRegular, domain.ExceptionResolved, "", "")
	require.Error(t, err)
	var inputErr *domain.InputError
	assert.ErrorAs(t, err, &inputErr)

	require.NoError(t, wf.ResolveException(ctx, snap.ID, "exc-1", "alice@acme.com", domain.RoleRegular,
		domain.ExceptionResolved, "fx_rate_added", "rate backfilled from treasury feed"))

	exceptions, err := s.ListExceptions(ctx, snap.ID)
	require.NoError(t, err)
	require.Len(t, exceptions, 1)
	assert.Equal(t, domain.ExceptionResolved, exceptions[0].Status)
}

func TestScenario_ApprovalRestrictedToLockCapableRole(t *testing.T) {
	wf, _ := testWorkflow()
	ctx := context.Background()

	sc, err := wf.CreateScenario(ctx, "snap-1", "optimistic collections", "alice@acme.com", domain.RoleRegular)
	require.NoError(t, err)
	require.NoError(t, wf.ProposeScenario(ctx, sc.ID, "alice@acme.com", domain.RoleRegular))

	err = wf.DecideScenario(ctx, sc.ID, "alice@acme.com", domain.RoleRegular, true)
	require.Error(t, err)
	var policyErr *domain.PolicyViolation
	assert.ErrorAs(t, err, &policyErr)

	require.NoError(t, wf.DecideScenario(ctx, sc.ID, "cfo@acme.com", domain.RoleLockCapable, true))
}

func TestComment_SoftDeleteLeavesRowInPlace(t *testing.T) {
	wf, s := testWorkflow()
	ctx := context.Background()

	c, err := wf.AddComment(ctx, "exception", "exc-1", "alice@acme.com", "chasing this with the bank", nil, nil)
	require.NoError(t, err)

	require.NoError(t, wf.DeleteComment(ctx, "exception", "exc-1", c.ID))

	comments, err := s.ListComments(ctx, "exception", "exc-1")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.True(t, comments[0].Deleted)
}
