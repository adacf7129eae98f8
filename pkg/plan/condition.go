package plan

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cuemby/ledger/pkg/types"
)

// ComparisonOp is one of the comparison operators spec.md §4.2's Filter
// supports: "= <> > >= < <= LIKE IN BETWEEN IS NULL IS NOT NULL".
type ComparisonOp string

const (
	OpEquals      ComparisonOp = "="
	OpNotEquals   ComparisonOp = "<>"
	OpGreater     ComparisonOp = ">"
	OpGreaterEq   ComparisonOp = ">="
	OpLess        ComparisonOp = "<"
	OpLessEq      ComparisonOp = "<="
	OpLike        ComparisonOp = "LIKE"
	OpIn          ComparisonOp = "IN"
	OpBetween     ComparisonOp = "BETWEEN"
	OpIsNull      ComparisonOp = "IS NULL"
	OpIsNotNull   ComparisonOp = "IS NOT NULL"
)

// LogicalOp combines conditions, per spec.md §4.2: "AND/OR/NOT".
type LogicalOp string

const (
	LogicalAnd LogicalOp = "AND"
	LogicalOr  LogicalOp = "OR"
	LogicalNot LogicalOp = "NOT"
)

// Condition is a boolean expression tree node evaluated against one row,
// represented as a name -> Value map the executor builds from a scan's
// column list and a row's values (spec.md §4.2's Filter: "evaluates a
// boolean expression tree over row dictionaries").
type Condition interface {
	Evaluate(row map[string]types.Value) (bool, error)
}

// ColumnReference names a column to resolve from the current row rather
// than a literal value — the "escape hatch" spec.md §9 calls out, used to
// express join conditions like a.x = b.y without a full expression AST.
type ColumnReference struct {
	Column string
}

// WhereCondition is one comparison: column OP value, where value may be a
// types.Value literal, a ColumnReference, a []types.Value (for IN) or a
// [2]types.Value of lower and upper bound (for BETWEEN).
// Grounded on original_source/QueryProcessor/models/conditions.py's
// WhereCondition.evaluate.
type WhereCondition struct {
	Column   string
	Operator ComparisonOp
	Value    interface{}
}

func (w WhereCondition) resolve(row map[string]types.Value, v interface{}) (types.Value, bool) {
	switch rv := v.(type) {
	case ColumnReference:
		val, ok := row[rv.Column]
		return val, ok
	case types.Value:
		return rv, true
	default:
		return types.Value{}, false
	}
}

// Evaluate implements Condition.
func (w WhereCondition) Evaluate(row map[string]types.Value) (bool, error) {
	left, ok := row[w.Column]
	if !ok {
		return false, fmt.Errorf("plan: column %q not present in row", w.Column)
	}

	switch w.Operator {
	case OpIsNull:
		return left.IsNull(), nil
	case OpIsNotNull:
		return !left.IsNull(), nil
	case OpIn:
		list, ok := w.Value.([]types.Value)
		if !ok {
			return false, fmt.Errorf("plan: IN requires a value list")
		}
		for _, v := range list {
			if left.Equal(v) {
				return true, nil
			}
		}
		return false, nil
	case OpBetween:
		bounds, ok := w.Value.([2]types.Value)
		if !ok {
			return false, fmt.Errorf("plan: BETWEEN requires exactly two bounds")
		}
		return left.Compare(bounds[0]) >= 0 && left.Compare(bounds[1]) <= 0, nil
	case OpLike:
		right, ok := w.resolve(row, w.Value)
		if !ok {
			return false, fmt.Errorf("plan: LIKE right-hand side unresolved")
		}
		return matchLike(left.String(), right.String()), nil
	}

	right, ok := w.resolve(row, w.Value)
	if !ok {
		return false, fmt.Errorf("plan: right-hand side of %q unresolved", w.Column)
	}
	if left.IsNull() || right.IsNull() {
		return false, nil
	}

	cmp := left.Compare(right)
	switch w.Operator {
	case OpEquals:
		return cmp == 0, nil
	case OpNotEquals:
		return cmp != 0, nil
	case OpGreater:
		return cmp > 0, nil
	case OpGreaterEq:
		return cmp >= 0, nil
	case OpLess:
		return cmp < 0, nil
	case OpLessEq:
		return cmp <= 0, nil
	default:
		return false, fmt.Errorf("plan: unknown operator %q", w.Operator)
	}
}

// matchLike implements SQL LIKE's two wildcards (% any run, _ one char) by
// translating the pattern to a regexp, mirroring the original's
// re.match-based approach.
func matchLike(value, pattern string) bool {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

// LogicalCondition combines child conditions with AND/OR/NOT. Grounded on
// original_source/QueryProcessor/models/conditions.py's LogicalCondition.
type LogicalCondition struct {
	Operator   LogicalOp
	Conditions []Condition
}

// Evaluate implements Condition.
func (l LogicalCondition) Evaluate(row map[string]types.Value) (bool, error) {
	switch l.Operator {
	case LogicalAnd:
		for _, c := range l.Conditions {
			ok, err := c.Evaluate(row)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case LogicalOr:
		for _, c := range l.Conditions {
			ok, err := c.Evaluate(row)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case LogicalNot:
		if len(l.Conditions) != 1 {
			return false, fmt.Errorf("plan: NOT requires exactly one condition")
		}
		ok, err := l.Conditions[0].Evaluate(row)
		return !ok, err
	default:
		return false, fmt.Errorf("plan: unknown logical operator %q", l.Operator)
	}
}

// OrderByClause is one ORDER BY key.
type OrderByClause struct {
	Column string
	Desc   bool
}
