// Package domain holds the canonical data model shared by every subsystem:
// entities, snapshots, invoices, bank transactions, allocations, FX rates,
// matching policy, forecast segments, lineage records, and the workflow
// state machines that govern them.
package domain

import "fmt"

// Code identifies the error taxonomy class of an error, independent of its
// message, so callers can branch on it without string matching.
type Code string

const (
	CodeInput          Code = "input_error"
	CodeState          Code = "state_error"
	CodeInvariant      Code = "invariant_violation"
	CodePolicy         Code = "policy_violation"
	CodeInfrastructure Code = "infrastructure_error"
)

// InputError is a malformed or missing field encountered during
// normalization. It is recovered locally: callers record it against the
// SyncRun's error counters and continue to the next row, never abort.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input error: %s: %s", e.Field, e.Message)
}

func (e *InputError) Code() Code { return CodeInput }

// StateError is an illegal state-machine transition: a locked-snapshot
// mutation, a duplicate canonical_id, or any other violation of an
// explicit status machine. It is surfaced to the caller as-is.
type StateError struct {
	Message string
}

func (e *StateError) Error() string { return e.Message }

func (e *StateError) Code() Code { return CodeState }

// ErrSnapshotLocked is returned by assert_snapshot_not_locked-style guards.
func ErrSnapshotLocked() error {
	return &StateError{Message: "Cannot modify locked snapshot."}
}

// PolicyViolation surfaces a role or policy check failure, such as a
// non-capable role attempting to approve a suggested match.
type PolicyViolation struct {
	Message string
}

func (e *PolicyViolation) Error() string { return e.Message }

func (e *PolicyViolation) Code() Code { return CodePolicy }

// InfrastructureError wraps an unrecoverable failure (DB unreachable,
// connector network failure) that aborts the current operation.
type InfrastructureError struct {
	Message string
	Cause   error
}

func (e *InfrastructureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("infrastructure error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("infrastructure error: %s", e.Message)
}

func (e *InfrastructureError) Code() Code { return CodeInfrastructure }

func (e *InfrastructureError) Unwrap() error { return e.Cause }

// Coded is implemented by every error in the taxonomy above.
type Coded interface {
	error
	Code() Code
}
