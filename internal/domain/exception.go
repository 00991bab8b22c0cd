package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Severity classifies an Exception or an Invariant check result.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ExceptionStatus is the workflow state of a flagged condition.
type ExceptionStatus string

const (
	ExceptionOpen      ExceptionStatus = "open"
	ExceptionInReview  ExceptionStatus = "in_review"
	ExceptionEscalated ExceptionStatus = "escalated"
	ExceptionResolved  ExceptionStatus = "resolved"
	ExceptionWontFix   ExceptionStatus = "wont_fix"
)

// EvidenceRef points at the raw record, canonical record, or dataset
// backing a claim, so every exception/exposure is traceable to bytes.
type EvidenceRef struct {
	EvidenceType string
	EvidenceID   string
}

// Exception is a flagged condition on a snapshot.
type Exception struct {
	ID         string
	SnapshotID string
	Type       string
	Severity   Severity
	Amount     decimal.Decimal
	Currency   string
	Evidence   []EvidenceRef
	Status     ExceptionStatus

	AssigneeID   string
	AssignedByID string
	SLADueAt     *time.Time

	ResolutionType string
	ResolutionNote string
}

// Assign transitions OPEN -> IN_REVIEW, recording the assignee and a
// default 24h SLA if none is given.
func (e *Exception) Assign(assignee, assignedBy string, slaDue *time.Time) error {
	if e.Status != ExceptionOpen {
		return &StateError{Message: "exception must be open to assign"}
	}
	e.AssigneeID = assignee
	e.AssignedByID = assignedBy
	if slaDue == nil {
		due := time.Now().Add(24 * time.Hour)
		slaDue = &due
	}
	e.SLADueAt = slaDue
	e.Status = ExceptionInReview
	return nil
}

// Resolve transitions to RESOLVED | ESCALATED | WONT_FIX, requiring a
// resolution type and note.
func (e *Exception) Resolve(status ExceptionStatus, resolutionType, note string) error {
	if status != ExceptionResolved && status != ExceptionEscalated && status != ExceptionWontFix {
		return &StateError{Message: "invalid exception resolution status"}
	}
	if resolutionType == "" || note == "" {
		return &InputError{Field: "resolution", Message: "resolution_type and resolution_note are required"}
	}
	e.Status = status
	e.ResolutionType = resolutionType
	e.ResolutionNote = note
	return nil
}

// ScenarioStatus is the approval workflow state of a what-if Scenario.
type ScenarioStatus string

const (
	ScenarioDraft    ScenarioStatus = "DRAFT"
	ScenarioProposed ScenarioStatus = "PROPOSED"
	ScenarioApproved ScenarioStatus = "APPROVED"
	ScenarioRejected ScenarioStatus = "REJECTED"
)

// Scenario is a what-if workflow record referencing a base snapshot by
// ID, never by object graph.
type Scenario struct {
	ID             string
	BaseSnapshotID string
	Name           string
	Status         ScenarioStatus
	ApprovedByRole Role
}

// Propose transitions DRAFT -> PROPOSED.
func (s *Scenario) Propose() error {
	if s.Status != ScenarioDraft {
		return &StateError{Message: "scenario must be in DRAFT to propose"}
	}
	s.Status = ScenarioProposed
	return nil
}

// Decide transitions PROPOSED -> APPROVED|REJECTED. Approval is
// restricted to the lock-capable role.
func (s *Scenario) Decide(approve bool, actorRole Role) error {
	if s.Status != ScenarioProposed {
		return &StateError{Message: "scenario must be PROPOSED to decide"}
	}
	if approve && actorRole != RoleLockCapable {
		return &PolicyViolation{Message: "only the lock-capable role may approve a scenario"}
	}
	if approve {
		s.Status = ScenarioApproved
	} else {
		s.Status = ScenarioRejected
	}
	s.ApprovedByRole = actorRole
	return nil
}

// ActionStatus is the workflow state of a remediation Action.
type ActionStatus string

const (
	ActionDraft           ActionStatus = "DRAFT"
	ActionPendingApproval ActionStatus = "PENDING_APPROVAL"
	ActionApproved        ActionStatus = "APPROVED"
	ActionInProgress      ActionStatus = "IN_PROGRESS"
	ActionDone            ActionStatus = "DONE"
	ActionCancelled       ActionStatus = "CANCELLED"
)

// Action is a remediation workflow record.
type Action struct {
	ID               string
	SnapshotID       string
	Description      string
	Status           ActionStatus
	RequiresApproval bool
}

var actionTransitions = map[ActionStatus][]ActionStatus{
	ActionDraft:           {ActionPendingApproval, ActionApproved, ActionCancelled},
	ActionPendingApproval: {ActionApproved, ActionCancelled},
	ActionApproved:        {ActionInProgress, ActionCancelled},
	ActionInProgress:      {ActionDone, ActionCancelled},
}

// Transition advances the action's status, enforcing the lock-capable
// role constraint for actions requiring approval.
func (a *Action) Transition(next ActionStatus, actorRole Role) error {
	allowed := actionTransitions[a.Status]
	ok := false
	for _, s := range allowed {
		if s == next {
			ok = true
			break
		}
	}
	if !ok {
		return &StateError{Message: "illegal action transition"}
	}
	if a.RequiresApproval && next == ActionApproved && actorRole != RoleLockCapable {
		return &PolicyViolation{Message: "only the lock-capable role may approve this action"}
	}
	a.Status = next
	return nil
}

// Comment carries free-form discussion attached to any parent record.
type Comment struct {
	ID         string
	ParentType string
	ParentID   string
	Author     string
	Body       string
	ReplyToID  *string
	Evidence   []EvidenceRef
	Deleted    bool
	CreatedAt  time.Time
}

// SoftDelete marks a comment deleted without removing the row.
func (c *Comment) SoftDelete() {
	c.Deleted = true
}

// AuditLog is an append-only record of one mutating action.
type AuditLog struct {
	ID           string
	SnapshotID   string
	Actor        string
	Role         Role
	Action       string // verb, e.g. "Create", "Update", "Delete", "Approve"
	ResourceType string
	ResourceID   string
	Before       map[string]interface{}
	After        map[string]interface{}
	IP           string
	Note         string
	Timestamp    time.Time
}
