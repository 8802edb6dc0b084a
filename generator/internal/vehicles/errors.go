package vehicles

import "errors"

var (
	// ErrPermissionDenied is returned before a handler runs when the
	// invoker's roles do not intersect the operation's required roles.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUnknownOperation marks a dispatch for an operation name that is
	// not in the table. This is an integration error, not a domain fault.
	ErrUnknownOperation = errors.New("unknown operation")

	ErrGenerationRunning    = errors.New("vehicle generation is already in progress")
	ErrGenerationNotRunning = errors.New("no vehicle generation is currently running")

	// ErrStorageTimeout is re-raised past response normalization so
	// callers can distinguish transient infrastructure failures from
	// domain rejections and retry.
	ErrStorageTimeout = errors.New("storage timeout")

	// ErrUnsupportedEventVersion is raised by the projector when an
	// event carries a version with no registered decoder. Version 0 is
	// defined as absent.
	ErrUnsupportedEventVersion = errors.New("unsupported event type version")
)
