package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotStatus is the lock lifecycle of a Snapshot.
type SnapshotStatus string

const (
	SnapshotDraft            SnapshotStatus = "DRAFT"
	SnapshotReadyForReview   SnapshotStatus = "READY_FOR_REVIEW"
	SnapshotLocked           SnapshotStatus = "LOCKED"
)

// Role is the privilege class of the actor performing a mutating
// operation. It is always an explicit input, never inferred.
type Role string

const (
	RoleLockCapable Role = "LOCK_CAPABLE" // e.g. CFO
	RoleRegular     Role = "REGULAR"
)

// LockMetadata records who locked a snapshot, when, and why.
type LockMetadata struct {
	LockedBy     string
	LockedByRole Role
	LockedAt     time.Time
	Reason       string
}

// Snapshot is a point-in-time captured state for one entity.
type Snapshot struct {
	ID                 string
	EntityID           string
	Status             SnapshotStatus
	OpeningBankBalance  decimal.Decimal
	MinCashThreshold    decimal.Decimal
	Lock               *LockMetadata
	// PoliciesJSON is the frozen serialization of the MatchingPolicy set in
	// effect at lock time; written once, at lock, and never updated.
	PoliciesJSON string
	DatasetID    string
	CreatedAt    time.Time
}

// IsLocked reports whether the snapshot has been locked.
func (s *Snapshot) IsLocked() bool {
	return s.Status == SnapshotLocked
}

// AssertNotLocked is the mandatory guard every write path must call before
// mutating any child row of a snapshot.
func AssertNotLocked(s *Snapshot) error {
	if s.IsLocked() {
		return ErrSnapshotLocked()
	}
	return nil
}

// CanTransitionToReview reports whether DRAFT -> READY_FOR_REVIEW is legal
// given the open/in-review exceptions on the snapshot: denied if any is
// critical.
func CanTransitionToReview(openExceptions []*Exception) bool {
	for _, ex := range openExceptions {
		if (ex.Status == ExceptionOpen || ex.Status == ExceptionInReview) && ex.Severity == SeverityCritical {
			return false
		}
	}
	return true
}
