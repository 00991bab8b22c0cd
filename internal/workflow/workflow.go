// Package workflow implements the Snapshot Workflow: status transitions
// (DRAFT -> READY_FOR_REVIEW -> LOCKED), the exception/scenario/action
// state machines, comments with evidence links, the append-only audit
// log, and the policy-freeze write that happens once at lock time.
//
// Every mutating method acquires the per-snapshot lock and calls
// domain.AssertNotLocked before touching a child row.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vaultline/cashops/internal/domain"
	"github.com/vaultline/cashops/internal/lock"
	"github.com/vaultline/cashops/internal/store"
)

// Workflow drives the snapshot-scoped state machines on top of the
// Canonical Store, with every transition guarded by internal/lock and
// store.Store calls.
type Workflow struct {
	store  store.Store
	locks  lock.Manager
	logger zerolog.Logger
}

func New(s store.Store, locks lock.Manager, logger zerolog.Logger) *Workflow {
	return &Workflow{store: s, locks: locks, logger: logger.With().Str("component", "workflow").Logger()}
}

func (w *Workflow) withSnapshotLock(ctx context.Context, snapshotID string, fn func(*domain.Snapshot) error) error {
	release, err := w.locks.Acquire(ctx, lock.SnapshotKey(snapshotID))
	if err != nil {
		return fmt.Errorf("acquire snapshot lock: %w", err)
	}
	defer release()

	snap, err := w.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if err := domain.AssertNotLocked(snap); err != nil {
		return err
	}
	return fn(snap)
}

func (w *Workflow) audit(ctx context.Context, snapshotID, actor string, role domain.Role, action, resourceType, resourceID string, before, after map[string]interface{}) {
	entry := &domain.AuditLog{
		ID:           uuid.NewString(),
		SnapshotID:   snapshotID,
		Actor:        actor,
		Role:         role,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Before:       before,
		After:        after,
		Timestamp:    time.Now().UTC(),
	}
	if err := w.store.AppendAuditLog(ctx, entry); err != nil {
		w.logger.Error().Err(err).Str("resource_type", resourceType).Msg("failed to append audit log")
	}
}

// MarkReadyForReview transitions DRAFT -> READY_FOR_REVIEW, denied if any
// OPEN/IN_REVIEW exception on the snapshot is critical.
func (w *Workflow) MarkReadyForReview(ctx context.Context, snapshotID, actor string, role domain.Role) error {
	return w.withSnapshotLock(ctx, snapshotID, func(snap *domain.Snapshot) error {
		if snap.Status != domain.SnapshotDraft {
			return &domain.StateError{Message: "snapshot must be DRAFT to mark ready for review"}
		}
		exceptions, err := w.store.ListExceptions(ctx, snapshotID)
		if err != nil {
			return fmt.Errorf("list exceptions: %w", err)
		}
		if !domain.CanTransitionToReview(exceptions) {
			return &domain.StateError{Message: "cannot mark ready: unresolved critical exceptions"}
		}
		old := snap.Status
		snap.Status = domain.SnapshotReadyForReview
		if err := w.store.UpdateSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("update snapshot: %w", err)
		}
		w.audit(ctx, snapshotID, actor, role, "Update", "snapshot", snapshotID,
			map[string]interface{}{"status": old}, map[string]interface{}{"status": snap.Status})
		return nil
	})
}

// LockDecision is the outcome of a prior trust-gate evaluation, supplied
// by the caller (internal/trust) so this package never has to import it
// back. GatesPassed true means Lock proceeds without an override;
// otherwise Override must be non-nil and already recorded by the caller.
type LockDecision struct {
	GatesPassed bool
	Override    *domain.LockGateOverrideLog
}

// Lock transitions READY_FOR_REVIEW -> LOCKED. Restricted to the
// lock-capable role. Requires either all lock gates to pass or a valid,
// already-recorded CFO override. Freezes the supplied policies into
// snap.PoliciesJSON.
func (w *Workflow) Lock(ctx context.Context, snapshotID, actor string, role domain.Role, reason string, decision LockDecision, policies []domain.MatchingPolicy) error {
	if role != domain.RoleLockCapable {
		return &domain.PolicyViolation{Message: "only the lock-capable role may lock a snapshot"}
	}
	if !decision.GatesPassed && decision.Override == nil {
		return &domain.PolicyViolation{Message: "lock gates failed and no override was supplied"}
	}
	return w.withSnapshotLock(ctx, snapshotID, func(snap *domain.Snapshot) error {
		if snap.Status != domain.SnapshotReadyForReview {
			return &domain.StateError{Message: "snapshot must be READY_FOR_REVIEW before locking"}
		}
		frozen, err := json.Marshal(map[string]interface{}{
			"matching_policies": policies,
			"captured_at":       time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("freeze policies: %w", err)
		}
		snap.Status = domain.SnapshotLocked
		snap.PoliciesJSON = string(frozen)
		snap.Lock = &domain.LockMetadata{
			LockedBy:     actor,
			LockedByRole: role,
			LockedAt:     time.Now().UTC(),
			Reason:       reason,
		}
		if err := w.store.UpdateSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("update snapshot: %w", err)
		}
		changes := map[string]interface{}{"status": "LOCKED", "lock_reason": reason}
		if decision.Override != nil {
			changes["override"] = decision.Override
		}
		w.audit(ctx, snapshotID, actor, role, "Lock", "snapshot", snapshotID, nil, changes)
		return nil
	})
}

// AssignException transitions an Exception OPEN -> IN_REVIEW.
func (w *Workflow) AssignException(ctx context.Context, snapshotID, exceptionID, assignee, actor string, role domain.Role, slaDue *time.Time) error {
	return w.withSnapshotLock(ctx, snapshotID, func(*domain.Snapshot) error {
		ex, err := w.findException(ctx, snapshotID, exceptionID)
		if err != nil {
			return err
		}
		before := map[string]interface{}{"status": ex.Status}
		if err := ex.Assign(assignee, actor, slaDue); err != nil {
			return err
		}
		if err := w.store.UpsertExceptionRecord(ctx, ex); err != nil {
			return fmt.Errorf("update exception: %w", err)
		}
		w.audit(ctx, snapshotID, actor, role, "Update", "exception", exceptionID, before, map[string]interface{}{"status": ex.Status})
		return nil
	})
}

// ResolveException transitions an Exception to RESOLVED | ESCALATED |
// WONT_FIX, requiring a resolution type and note.
func (w *Workflow) ResolveException(ctx context.Context, snapshotID, exceptionID, actor string, role domain.Role, status domain.ExceptionStatus, resolutionType, note string) error {
	return w.withSnapshotLock(ctx, snapshotID, func(*domain.Snapshot) error {
		ex, err := w.findException(ctx, snapshotID, exceptionID)
		if err != nil {
			return err
		}
		before := map[string]interface{}{"status": ex.Status}
		if err := ex.Resolve(status, resolutionType, note); err != nil {
			return err
		}
		if err := w.store.UpsertExceptionRecord(ctx, ex); err != nil {
			return fmt.Errorf("update exception: %w", err)
		}
		w.audit(ctx, snapshotID, actor, role, "Update", "exception", exceptionID, before, map[string]interface{}{"status": ex.Status})
		return nil
	})
}

func (w *Workflow) findException(ctx context.Context, snapshotID, exceptionID string) (*domain.Exception, error) {
	exceptions, err := w.store.ListExceptions(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	for _, e := range exceptions {
		if e.ID == exceptionID {
			return e, nil
		}
	}
	return nil, &domain.InputError{Field: "exception_id", Message: "exception not found: " + exceptionID}
}

// CreateScenario persists a new DRAFT Scenario against a base snapshot.
func (w *Workflow) CreateScenario(ctx context.Context, baseSnapshotID, name, actor string, role domain.Role) (*domain.Scenario, error) {
	sc := &domain.Scenario{ID: uuid.NewString(), BaseSnapshotID: baseSnapshotID, Name: name, Status: domain.ScenarioDraft}
	if err := w.store.CreateScenario(ctx, sc); err != nil {
		return nil, fmt.Errorf("create scenario: %w", err)
	}
	w.audit(ctx, baseSnapshotID, actor, role, "Create", "scenario", sc.ID, nil, map[string]interface{}{"status": sc.Status})
	return sc, nil
}

// ProposeScenario transitions DRAFT -> PROPOSED.
func (w *Workflow) ProposeScenario(ctx context.Context, scenarioID, actor string, role domain.Role) error {
	sc, err := w.store.GetScenario(ctx, scenarioID)
	if err != nil {
		return err
	}
	before := sc.Status
	if err := sc.Propose(); err != nil {
		return err
	}
	if err := w.store.UpdateScenario(ctx, sc); err != nil {
		return fmt.Errorf("update scenario: %w", err)
	}
	w.audit(ctx, sc.BaseSnapshotID, actor, role, "Update", "scenario", scenarioID,
		map[string]interface{}{"status": before}, map[string]interface{}{"status": sc.Status})
	return nil
}

// DecideScenario transitions PROPOSED -> APPROVED|REJECTED, restricted
// to the lock-capable role for approval.
func (w *Workflow) DecideScenario(ctx context.Context, scenarioID, actor string, role domain.Role, approve bool) error {
	sc, err := w.store.GetScenario(ctx, scenarioID)
	if err != nil {
		return err
	}
	before := sc.Status
	if err := sc.Decide(approve, role); err != nil {
		return err
	}
	if err := w.store.UpdateScenario(ctx, sc); err != nil {
		return fmt.Errorf("update scenario: %w", err)
	}
	w.audit(ctx, sc.BaseSnapshotID, actor, role, "Update", "scenario", scenarioID,
		map[string]interface{}{"status": before}, map[string]interface{}{"status": sc.Status})
	return nil
}

// CreateAction persists a new DRAFT remediation Action against a snapshot.
func (w *Workflow) CreateAction(ctx context.Context, snapshotID, description, actor string, role domain.Role, requiresApproval bool) (*domain.Action, error) {
	a := &domain.Action{ID: uuid.NewString(), SnapshotID: snapshotID, Description: description, Status: domain.ActionDraft, RequiresApproval: requiresApproval}
	if err := w.withSnapshotLock(ctx, snapshotID, func(*domain.Snapshot) error {
		return w.store.CreateAction(ctx, a)
	}); err != nil {
		return nil, err
	}
	w.audit(ctx, snapshotID, actor, role, "Create", "action", a.ID, nil, map[string]interface{}{"status": a.Status})
	return a, nil
}

// TransitionAction advances an Action through its status machine.
func (w *Workflow) TransitionAction(ctx context.Context, actionID, actor string, role domain.Role, next domain.ActionStatus) error {
	a, err := w.store.GetAction(ctx, actionID)
	if err != nil {
		return err
	}
	return w.withSnapshotLock(ctx, a.SnapshotID, func(*domain.Snapshot) error {
		before := a.Status
		if err := a.Transition(next, role); err != nil {
			return err
		}
		if err := w.store.UpdateAction(ctx, a); err != nil {
			return fmt.Errorf("update action: %w", err)
		}
		w.audit(ctx, a.SnapshotID, actor, role, "Update", "action", actionID,
			map[string]interface{}{"status": before}, map[string]interface{}{"status": a.Status})
		return nil
	})
}

// AddComment appends a comment with optional evidence links to any
// parent resource (exception, allocation, invoice, ...).
func (w *Workflow) AddComment(ctx context.Context, parentType, parentID, author, body string, replyTo *string, evidence []domain.EvidenceRef) (*domain.Comment, error) {
	c := &domain.Comment{
		ID: uuid.NewString(), ParentType: parentType, ParentID: parentID,
		Author: author, Body: body, ReplyToID: replyTo, Evidence: evidence,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.store.CreateComment(ctx, c); err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	return c, nil
}

// DeleteComment soft-deletes a comment in place; comments are never hard
// deleted.
func (w *Workflow) DeleteComment(ctx context.Context, parentType, parentID, commentID string) error {
	comments, err := w.store.ListComments(ctx, parentType, parentID)
	if err != nil {
		return fmt.Errorf("list comments: %w", err)
	}
	for _, c := range comments {
		if c.ID == commentID {
			c.SoftDelete()
			return w.store.UpdateComment(ctx, c)
		}
	}
	return &domain.InputError{Field: "comment_id", Message: "comment not found: " + commentID}
}
