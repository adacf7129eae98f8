package executor

import "fmt"

// WaitingError is returned by Execute when a table lock request came back
// WAITING (spec.md §4.2: "On any FAILED response, abort immediately with
// that reason" — WAITING is not a failure, it is routed by pkg/txn into
// the retry dispatcher instead of surfaced as an error to the client).
type WaitingError struct {
	Resource  string
	BlockedBy int64
}

func (e *WaitingError) Error() string {
	return fmt.Sprintf("executor: waiting on %q (blocked by txid %d)", e.Resource, e.BlockedBy)
}

// SchemaError wraps a catalog-level failure (unknown table/column,
// duplicate CREATE) per spec.md §7: surfaced to the client, the
// transaction itself continues (not failed by the CCM).
type SchemaError struct {
	Message string
}

func (e *SchemaError) Error() string { return e.Message }

func schemaErrorf(format string, args ...interface{}) error {
	return &SchemaError{Message: fmt.Sprintf(format, args...)}
}
