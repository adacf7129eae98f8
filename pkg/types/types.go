package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ValueKind tags the scalar variant held by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInt
	KindFloat
	KindText
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindInt:
		return "INT"
	case KindFloat:
		return "FLOAT"
	case KindText:
		return "TEXT"
	default:
		return "UNKNOWN"
	}
}

// Value is the scalar value type flowing through rows, conditions and the
// packed row encoding. It is a tagged union over Int, Float, Text and Null;
// Go has no sum types, so only the field matching Kind is meaningful.
type Value struct {
	Kind ValueKind
	I    int32
	F    float32
	S    string
}

// NullValue returns the SQL NULL value.
func NullValue() Value { return Value{Kind: KindNull} }

// IntValue wraps an int32 scalar.
func IntValue(i int32) Value { return Value{Kind: KindInt, I: i} }

// FloatValue wraps a float32 scalar.
func FloatValue(f float32) Value { return Value{Kind: KindFloat, F: f} }

// TextValue wraps a string scalar.
func TextValue(s string) Value { return Value{Kind: KindText, S: s} }

// IsNull reports whether v holds SQL NULL.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Native returns the value unwrapped into its closest Go type, for JSON
// marshalling of wire-protocol rows. NULL unwraps to nil.
func (v Value) Native() interface{} {
	switch v.Kind {
	case KindInt:
		return v.I
	case KindFloat:
		return v.F
	case KindText:
		return v.S
	default:
		return nil
	}
}

// MarshalJSON emits a Value as the bare scalar it wraps (a JSON number,
// string, or null) rather than as a {Kind,I,F,S} struct, matching the wire
// protocol's row encoding (spec §6: `data: [[1, "Alice"]]`).
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Native())
}

// UnmarshalJSON reconstructs a Value from the bare scalar MarshalJSON wrote.
// Kind is inferred from the JSON type: numbers decode via json.Number so an
// integral literal becomes KindInt and a fractional one becomes KindFloat.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case nil:
		*v = NullValue()
	case json.Number:
		if i, err := t.Int64(); err == nil {
			*v = IntValue(int32(i))
			return nil
		}
		f, err := t.Float64()
		if err != nil {
			return fmt.Errorf("types: decode Value number %q: %w", t.String(), err)
		}
		*v = FloatValue(float32(f))
	case string:
		*v = TextValue(t)
	default:
		return fmt.Errorf("types: unexpected JSON value %T for Value", raw)
	}
	return nil
}

func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return fmt.Sprintf("%d", v.I)
	case KindFloat:
		return fmt.Sprintf("%g", v.F)
	case KindText:
		return v.S
	default:
		return "NULL"
	}
}

// Equal reports whether two values are the same kind and scalar. Used by
// executor internals (join row construction, ORDER BY tie-breaking) where
// NULL == NULL is the useful answer; three-valued SQL NULL semantics for
// comparison operators are handled separately in pkg/plan condition eval.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindInt:
		return v.I == other.I
	case KindFloat:
		return v.F == other.F
	case KindText:
		return v.S == other.S
	default:
		return true
	}
}

// Compare orders two values for Sort. NULLs sort before every other value;
// two NULLs compare equal. Comparing across kinds falls back to comparing
// the Kind tag, which keeps Sort a total order without requiring coercion.
func (v Value) Compare(other Value) int {
	if v.Kind == KindNull && other.Kind == KindNull {
		return 0
	}
	if v.Kind == KindNull {
		return -1
	}
	if other.Kind == KindNull {
		return 1
	}
	if v.Kind != other.Kind {
		if v.Kind < other.Kind {
			return -1
		}
		return 1
	}
	switch v.Kind {
	case KindInt:
		switch {
		case v.I < other.I:
			return -1
		case v.I > other.I:
			return 1
		default:
			return 0
		}
	case KindFloat:
		switch {
		case v.F < other.F:
			return -1
		case v.F > other.F:
			return 1
		default:
			return 0
		}
	case KindText:
		switch {
		case v.S < other.S:
			return -1
		case v.S > other.S:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

// Rows is the result of a TableScan, a Project, or anything the executor
// returns to the client: an ordered column list and an ordered list of
// ordered value rows. Not mutated once returned.
type Rows struct {
	Columns []string  `json:"columns"`
	Data    [][]Value `json:"data"`
}

// NewRows builds an empty Rows with the given column order.
func NewRows(columns []string) *Rows {
	return &Rows{Columns: append([]string(nil), columns...), Data: make([][]Value, 0)}
}

// TransactionStatus is a node in the DAG ACTIVE -> PARTIALLY_COMMITTED ->
// COMMITTED -> TERMINATED, or ACTIVE -> FAILED -> ABORTED -> TERMINATED.
type TransactionStatus string

const (
	StatusActive             TransactionStatus = "ACTIVE"
	StatusPartiallyCommitted TransactionStatus = "PARTIALLY_COMMITTED"
	StatusCommitted          TransactionStatus = "COMMITTED"
	StatusFailed             TransactionStatus = "FAILED"
	StatusAborted            TransactionStatus = "ABORTED"
	StatusTerminated         TransactionStatus = "TERMINATED"
)

// Transaction is the CCM's bookkeeping record for one in-flight unit of
// work. A pkg/ccm Manager owns the map of these and all mutation of it;
// every other package treats a *Transaction as read-only, reached through
// the manager's accessors.
type Transaction struct {
	ID        int64
	Timestamp int64
	Status    TransactionStatus
	ClientID  string
	ReadSet   map[string]struct{}
	WriteSet  map[string]struct{}

	// queryLog is a bounded ring of the last statements executed under this
	// transaction. pkg/txn records into it; it is readable through QueryLog,
	// is not logged, and is not sent over the wire protocol.
	queryLog []string
}

// NewTransaction allocates a fresh ACTIVE transaction record. Timestamp
// equals ID unless a protocol re-stamps it (none currently do).
func NewTransaction(id int64, timestamp int64, clientID string) *Transaction {
	return &Transaction{
		ID:        id,
		Timestamp: timestamp,
		Status:    StatusActive,
		ClientID:  clientID,
		ReadSet:   make(map[string]struct{}),
		WriteSet:  make(map[string]struct{}),
	}
}

const queryLogCapacity = 20

// RecordQuery appends a statement to the transaction's bounded diagnostic
// ring, dropping the oldest entry once full.
func (t *Transaction) RecordQuery(sql string) {
	t.queryLog = append(t.queryLog, sql)
	if len(t.queryLog) > queryLogCapacity {
		t.queryLog = t.queryLog[len(t.queryLog)-queryLogCapacity:]
	}
}

// QueryLog returns the recorded statements, oldest first.
func (t *Transaction) QueryLog() []string {
	return append([]string(nil), t.queryLog...)
}

// LogKind tags a WAL record.
type LogKind string

const (
	LogStart      LogKind = "START"
	LogOp         LogKind = "OP"
	LogCommit     LogKind = "COMMIT"
	LogAbort      LogKind = "ABORT"
	LogCheckpoint LogKind = "CHECKPOINT"
)

// LogRecord is one append-only WAL entry. LSN is assigned by the WAL at
// append time; Table/Key/Old/New are only meaningful for LogOp.
type LogRecord struct {
	LSN     int64   `json:"lsn"`
	TxID    int64   `json:"txid"`
	Kind    LogKind `json:"kind"`
	Table   string  `json:"table,omitempty"`
	Key     string  `json:"key,omitempty"`
	Old     []byte  `json:"old,omitempty"`
	New     []byte  `json:"new,omitempty"`
	RedoLSN int64   `json:"redo_lsn,omitempty"`
}

// ColumnKind is one of the four scalar column types the dialect supports.
type ColumnKind int

const (
	ColumnInt ColumnKind = iota
	ColumnFloat
	ColumnChar
	ColumnVarchar
)

func (k ColumnKind) String() string {
	switch k {
	case ColumnInt:
		return "INT"
	case ColumnFloat:
		return "FLOAT"
	case ColumnChar:
		return "CHAR"
	case ColumnVarchar:
		return "VARCHAR"
	default:
		return "UNKNOWN"
	}
}

// Column describes one table column. Length is only meaningful for
// ColumnChar and ColumnVarchar (the declared n in CHAR(n)/VARCHAR(n)).
type Column struct {
	Name   string     `json:"name"`
	Type   ColumnKind `json:"type"`
	Length int        `json:"length,omitempty"`
}

// Schema is the ordered column list of a table, as recorded in the catalog.
type Schema struct {
	Table   string   `json:"table"`
	Columns []Column `json:"columns"`
}

// ColumnIndex returns the position of name in the schema, or -1.
func (s Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Protocol selects which of the three CCM variants a server instance runs.
// spec.md leaves mixing protocols on one instance undefined; ledger assumes
// one protocol per process, chosen at startup (see DESIGN.md).
type Protocol string

const (
	ProtocolLock       Protocol = "lock"
	ProtocolTimestamp  Protocol = "timestamp"
	ProtocolValidation Protocol = "validation"
)
