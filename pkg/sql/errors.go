package sql

import "fmt"

// ParseError is spec.md §7's ParseError: surfaced to the client with the
// transaction left ACTIVE, never failing the transaction itself.
type ParseError struct {
	Message string
	Pos     int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d: %s", e.Pos, e.Message)
}

func parseErrorf(pos int, format string, args ...interface{}) error {
	return &ParseError{Message: fmt.Sprintf(format, args...), Pos: pos}
}
