package services

import "errors"

// Typed outcomes the folder and access services return. These are
// expected, caller-recoverable results, not crashes; anything else
// coming out of a service is an infrastructure failure from the store
// and propagates wrapped and unchanged.
var (
	// ErrNotFound: the resource, parent, or grantee does not exist (or
	// belongs to another tenant, which callers cannot distinguish).
	ErrNotFound = errors.New("resource not found")

	// ErrConflict: sibling name collision, non-empty folder delete, or a
	// concurrent structural change detected by the revision guard. The
	// concurrent case is retryable.
	ErrConflict = errors.New("conflict")

	// ErrInvalidOperation: a structurally nonsensical request, such as
	// moving a folder under itself.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrCycleDetected: the requested move would make a folder its own
	// ancestor.
	ErrCycleDetected = errors.New("move would create a cycle")

	// ErrForbidden: the access resolver denied the operation. A normal
	// outcome, never an exception.
	ErrForbidden = errors.New("access denied")
)
