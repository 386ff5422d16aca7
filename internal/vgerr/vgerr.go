// Package vgerr defines the error taxonomy shared across the core: every
// collaborator (vector store, HNSW graph, ring, DAG coordinator, query
// pipeline) returns errors tagged with one of these kinds so that callers
// above the core can apply the propagation policy without parsing
// messages.
package vgerr

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error category. Exact string values
// are part of the programmatic contract and must not change once shipped.
type Kind string

const (
	// Input errors: the caller supplied something invalid.
	DimensionMismatch Kind = "DIMENSION_MISMATCH"
	UnknownCollection Kind = "UNKNOWN_COLLECTION"
	UnknownID         Kind = "UNKNOWN_ID"
	DuplicateID       Kind = "DUPLICATE_ID"
	InvalidFilter     Kind = "INVALID_FILTER"
	InvalidParameter  Kind = "INVALID_PARAMETER"

	// State errors: the collaborator is in a state that rejects the op.
	Tombstoned      Kind = "TOMBSTONED"
	ReadOnly        Kind = "READ_ONLY"
	ConflictPending Kind = "CONFLICT_PENDING"
	NotFinalized    Kind = "NOT_FINALIZED"

	// Capacity errors: resource exhaustion, not necessarily fatal.
	QuotaExceeded     Kind = "QUOTA_EXCEEDED"
	MemoryLimit       Kind = "MEMORY_LIMIT"
	RecallBelowTarget Kind = "RECALL_BELOW_TARGET"

	// Integrity errors: the collection is no longer trustworthy.
	ChecksumMismatch   Kind = "CHECKSUM_MISMATCH"
	GraphCorruption    Kind = "GRAPH_CORRUPTION"
	UnknownParentVertex Kind = "UNKNOWN_PARENT_VERTEX"

	// Coordination errors: cluster-level failures, often retryable
	// against an alternate replica.
	QuorumLost  Kind = "QUORUM_LOST"
	Partitioned Kind = "PARTITIONED"
	Timeout     Kind = "TIMEOUT"
	Cancelled   Kind = "CANCELLED"
)

// fatalKinds are integrity errors that mark a collection read-only until
// an operator restores a snapshot (see spec §7 propagation policy).
var fatalKinds = map[Kind]bool{
	ChecksumMismatch:    true,
	GraphCorruption:     true,
	UnknownParentVertex: true,
}

// Fatal reports whether kind is terminal for the affected collection.
func (k Kind) Fatal() bool { return fatalKinds[k] }

// Error is the concrete error type carrying a Kind, a human message, and
// an optional wrapped cause. Callers use errors.As to recover the Kind.
type Error struct {
	Cause   error
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error wrapping cause, or returns nil if cause is nil.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, walking the unwrap chain. The zero
// Kind ("") is returned if err does not carry a tagged Kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is tagged with kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
