package plan

import "github.com/cuemby/ledger/pkg/types"

// Node is a query plan node, per spec.md §4.2's Query Plan algebra:
// TableScan, Filter, Project, Sort, NestedLoopJoin, Insert, Update,
// Delete, CreateTable, DropTable. pkg/executor type-switches on the
// concrete types below; Node itself is a marker so pkg/sql can build
// trees without importing pkg/executor.
type Node interface {
	planNode()
}

// TableScan requires READ on Table and returns all non-tombstoned rows
// with their declared column names (spec.md §4.2).
type TableScan struct {
	Table string
	Alias string
}

func (TableScan) planNode() {}

// Filter evaluates Condition over each row produced by Child.
type Filter struct {
	Condition Condition
	Child     Node
}

func (Filter) planNode() {}

// Project reorders and narrows the columns a child node produces. A
// single column named "*" passes every column through unchanged.
type Project struct {
	Columns []string
	Child   Node
}

func (Project) planNode() {}

// Sort orders Child's rows by OrderBy, applied left to right.
type Sort struct {
	OrderBy []OrderByClause
	Child   Node
}

func (Sort) planNode() {}

// NestedLoopJoin is a Cartesian product of Left and Right rows if
// Condition is nil, otherwise the Cartesian product filtered by
// Condition. Output columns are the concatenation Left's ‖ Right's.
type NestedLoopJoin struct {
	Left      Node
	Right     Node
	Condition Condition
}

func (NestedLoopJoin) planNode() {}

// Insert requires WRITE on Table and appends one row. Columns is nil
// when the statement omits an explicit column list (values are
// positional against the table's declared schema order).
type Insert struct {
	Table   string
	Columns []string
	Values  []interface{} // types.Value literals, schema-ordered (or Columns-ordered)
}

func (Insert) planNode() {}

// Arithmetic is spec.md §4.2's Update arithmetic expression form,
// `k * col + c`: scale Column by K and add C. Either operand order
// (`k * col` or `col * k`) is accepted by the parser; this is the
// normalized form the executor evaluates.
type Arithmetic struct {
	K      float64
	Column string
	C      float64
}

// Eval computes the arithmetic expression against the current row's
// value for Column. Column must hold an INT or FLOAT value.
func (a Arithmetic) Eval(row map[string]types.Value) (types.Value, error) {
	v, ok := row[a.Column]
	if !ok {
		return types.Value{}, &ArithmeticError{Column: a.Column}
	}
	switch v.Kind {
	case types.KindInt:
		return types.FloatValue(float32(a.K*float64(v.I) + a.C)), nil
	case types.KindFloat:
		return types.FloatValue(float32(a.K*float64(v.F) + a.C)), nil
	default:
		return types.Value{}, &ArithmeticError{Column: a.Column}
	}
}

// ArithmeticError reports an Arithmetic expression applied to a
// non-numeric or absent column.
type ArithmeticError struct {
	Column string
}

func (e *ArithmeticError) Error() string {
	return "plan: arithmetic expression requires a numeric column: " + e.Column
}

// Assignment is one `column = expr` pair of an UPDATE's SET clause.
// Value is a types.Value literal, a ColumnReference, or an Arithmetic
// expression.
type Assignment struct {
	Column string
	Value  interface{}
}

// Update requires WRITE on Table and rewrites every row matching Where
// (or every row, if Where is nil) by applying Assignments.
type Update struct {
	Table       string
	Assignments []Assignment
	Where       Condition
}

func (Update) planNode() {}

// Delete requires WRITE on Table and tombstones every row matching Where
// (or every row, if Where is nil).
type Delete struct {
	Table string
	Where Condition
}

func (Delete) planNode() {}

// Limit caps Child to the first N rows. Not one of spec.md §4.2's named
// plan operations, but required by the SELECT grammar of spec.md §6
// ("[LIMIT n]"); added as a thin pass-through node rather than folded
// into Sort or Project.
type Limit struct {
	N     int
	Child Node
}

func (Limit) planNode() {}

// CreateTable requires catalog WRITE. Fails if the table already exists.
type CreateTable struct {
	Schema types.Schema
}

func (CreateTable) planNode() {}

// DropTable requires catalog WRITE. IfExists suppresses the
// table-not-found error.
type DropTable struct {
	Table    string
	IfExists bool
}

func (DropTable) planNode() {}
