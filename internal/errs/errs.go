// Package errs defines the sentinel error kinds from SPEC_FULL.md §7.
// Every layer wraps these with fmt.Errorf("...: %w", ...) so callers can
// classify failures with errors.Is regardless of which component raised them.
package errs

import "errors"

var (
	// ErrMalformedInput is raised by Ingress's syntactic validation step.
	ErrMalformedInput = errors.New("malformed input")

	// ErrUnderpriced is raised when a replace-by-fee candidate does not
	// strictly exceed the fee of the transaction it would replace.
	ErrUnderpriced = errors.New("underpriced")

	// ErrBusy is raised by Ingress back-pressure or a Store busy-timeout.
	ErrBusy = errors.New("sequencer busy")

	// ErrAlreadyKnown names the duplicate-hash kind. Ingress does not return
	// it: a transaction hash it already admitted is reported as success with
	// the existing hash and a nil error.
	ErrAlreadyKnown = errors.New("already known")

	// ErrConstraintConflict is raised by the Store on a uniqueness violation.
	ErrConstraintConflict = errors.New("constraint conflict")

	// ErrNotFound is raised by the Store on a missing key.
	ErrNotFound = errors.New("not found")

	// ErrRPCFailure wraps a transient failure talking to L1, L2, or the
	// aggregator; callers log and retry on the next tick.
	ErrRPCFailure = errors.New("rpc failure")

	// ErrAttemptFailed marks a post attempt as terminally failed (hard
	// revert or signing failure).
	ErrAttemptFailed = errors.New("attempt failed")

	// ErrBatchAbandoned marks a batch whose every live attempt reached a
	// terminal non-mined state.
	ErrBatchAbandoned = errors.New("batch abandoned")

	// ErrReorged marks a batch whose confirming L1 block disappeared.
	ErrReorged = errors.New("reorged")
)
