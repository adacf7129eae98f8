package ccm

import "errors"

// Sentinel error strings that spec.md's testable scenarios assert on
// verbatim. Callers compare with errors.Is; clients see the literal text
// via Error().
var (
	// ErrNotActive is returned by Query/Commit when the caller's transaction
	// id is unknown or no longer ACTIVE, and by CommitFlushed/End when the
	// transaction is not in the status they require.
	ErrNotActive = errors.New("not active")

	// ErrWaitDieDie is returned to the younger transaction in a Wait-Die
	// conflict: it is killed rather than made to wait.
	ErrWaitDieDie = errors.New("wait-die: die")

	// ErrTimestampTooOld is returned by the timestamp-ordering protocol when
	// a transaction's timestamp is older than a resource's write_ts (read)
	// or read_ts (write).
	ErrTimestampTooOld = errors.New("timestamp too old")

	// ErrValidationFailure is returned by the OCC protocol's backward
	// validation when a committing transaction's read-set intersects the
	// write-set of a transaction that committed during its window.
	ErrValidationFailure = errors.New("validation failure")

	// ErrTransactionNotFound mirrors spec.md §8's idempotence scenario: a
	// second commit/rollback on an already-terminal transaction id.
	ErrTransactionNotFound = errors.New("transaction not found or not active")
)
