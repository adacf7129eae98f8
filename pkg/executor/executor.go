/*
Package executor is the tree-walking Query Executor of spec.md §4.2: a
visitor over pkg/plan trees that acquires table locks through pkg/ccm in
deterministic alphabetical order, evaluates the plan against pkg/storage,
and appends WAL OP records in the order spec.md §5 requires (apply to
storage, then log, then — for commits — fsync before reporting success).

Grounded on the teacher's reconciler visitor pattern
(_examples/cuemby-warren/internal/manager/reconciler, a type-switch driven
tree walk over a small closed node set) generalized from Kubernetes-style
resource reconciliation to relational plan evaluation.
*/
package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/ledger/pkg/ccm"
	"github.com/cuemby/ledger/pkg/log"
	"github.com/cuemby/ledger/pkg/plan"
	"github.com/cuemby/ledger/pkg/storage"
	"github.com/cuemby/ledger/pkg/types"
	"github.com/cuemby/ledger/pkg/wal"
	"github.com/rs/zerolog"
)

// Result is the outcome of executing one plan.Node. Rows is non-nil for
// SELECT-shaped plans; AffectedRows counts rows touched by INSERT, UPDATE
// or DELETE.
type Result struct {
	Rows         *types.Rows
	AffectedRows int64
}

// Executor binds the Storage Facade, a concurrency-control Manager and the
// WAL together to run one plan.Node under one transaction.
type Executor struct {
	store *storage.Store
	ccm   ccm.Manager
	wal   *wal.WAL
	log   zerolog.Logger
}

// New builds an Executor over the given collaborators.
func New(store *storage.Store, manager ccm.Manager, w *wal.WAL) *Executor {
	return &Executor{store: store, ccm: manager, wal: w, log: log.WithComponent("executor")}
}

// Execute acquires every lock node's statement requires (spec.md §4.2's
// pre-execution pass, alphabetical by table name) then evaluates node. A
// *WaitingError means the caller (pkg/txn) should queue the statement for
// retry rather than report failure to the client.
func (ex *Executor) Execute(txid int64, node plan.Node) (*Result, error) {
	ignored, err := acquireLocks(ex.ccm, txid, node)
	if err != nil {
		return nil, err
	}

	switch n := node.(type) {
	case plan.CreateTable:
		if ignored[n.Schema.Table] {
			return &Result{}, nil
		}
		return ex.execCreateTable(txid, n)
	case plan.DropTable:
		if ignored[n.Table] {
			return &Result{}, nil
		}
		return ex.execDropTable(txid, n)
	case plan.Insert:
		if ignored[n.Table] {
			return &Result{}, nil
		}
		return ex.execInsert(txid, n)
	case plan.Update:
		if ignored[n.Table] {
			return &Result{}, nil
		}
		return ex.execUpdate(txid, n)
	case plan.Delete:
		if ignored[n.Table] {
			return &Result{}, nil
		}
		return ex.execDelete(txid, n)
	default:
		rs, err := ex.eval(node)
		if err != nil {
			return nil, err
		}
		return &Result{Rows: &types.Rows{Columns: rs.columns, Data: rs.rows}}, nil
	}
}

// resultSet is the executor's internal row representation while
// evaluating a read-only (query) plan subtree.
type resultSet struct {
	columns []string
	rows    [][]types.Value
}

func rowToMap(columns []string, row []types.Value) map[string]types.Value {
	m := make(map[string]types.Value, len(columns))
	for i, c := range columns {
		m[c] = row[i]
	}
	return m
}

// eval recursively evaluates a read-only plan subtree: TableScan, Filter,
// Project, Sort, NestedLoopJoin, Limit.
func (ex *Executor) eval(node plan.Node) (*resultSet, error) {
	switch n := node.(type) {
	case plan.TableScan:
		return ex.evalTableScan(n)
	case plan.Filter:
		return ex.evalFilter(n)
	case plan.Project:
		return ex.evalProject(n)
	case plan.Sort:
		return ex.evalSort(n)
	case plan.NestedLoopJoin:
		return ex.evalJoin(n)
	case plan.Limit:
		return ex.evalLimit(n)
	default:
		return nil, fmt.Errorf("executor: %T is not a query node", node)
	}
}

func (ex *Executor) evalTableScan(n plan.TableScan) (*resultSet, error) {
	schema, rows, err := ex.store.ReadTable(n.Table)
	if err != nil {
		return nil, err
	}
	columns := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		columns[i] = c.Name
	}
	data := make([][]types.Value, len(rows))
	for i, r := range rows {
		data[i] = r.Values
	}
	return &resultSet{columns: columns, rows: data}, nil
}

func (ex *Executor) evalFilter(n plan.Filter) (*resultSet, error) {
	child, err := ex.eval(n.Child)
	if err != nil {
		return nil, err
	}
	out := &resultSet{columns: child.columns}
	for _, row := range child.rows {
		keep, err := n.Condition.Evaluate(rowToMap(child.columns, row))
		if err != nil {
			return nil, err
		}
		if keep {
			out.rows = append(out.rows, row)
		}
	}
	return out, nil
}

// projectSpec splits a select-list entry of the form "source" or
// "source AS alias" into its source column and output name.
func projectSpec(spec string) (source, alias string) {
	if idx := strings.Index(spec, " AS "); idx >= 0 {
		return spec[:idx], spec[idx+4:]
	}
	return spec, spec
}

func (ex *Executor) evalProject(n plan.Project) (*resultSet, error) {
	child, err := ex.eval(n.Child)
	if err != nil {
		return nil, err
	}
	if len(n.Columns) == 1 && n.Columns[0] == "*" {
		return child, nil
	}

	indexOf := make(map[string]int, len(child.columns))
	for i, c := range child.columns {
		indexOf[c] = i
	}

	sources := make([]int, len(n.Columns))
	columns := make([]string, len(n.Columns))
	for i, spec := range n.Columns {
		source, alias := projectSpec(spec)
		idx, ok := indexOf[source]
		if !ok {
			return nil, schemaErrorf("executor: unknown column %q", source)
		}
		sources[i] = idx
		columns[i] = alias
	}

	out := &resultSet{columns: columns, rows: make([][]types.Value, len(child.rows))}
	for ri, row := range child.rows {
		projected := make([]types.Value, len(sources))
		for i, idx := range sources {
			projected[i] = row[idx]
		}
		out.rows[ri] = projected
	}
	return out, nil
}

func (ex *Executor) evalSort(n plan.Sort) (*resultSet, error) {
	child, err := ex.eval(n.Child)
	if err != nil {
		return nil, err
	}
	indexOf := make(map[string]int, len(child.columns))
	for i, c := range child.columns {
		indexOf[c] = i
	}
	for _, ob := range n.OrderBy {
		if _, ok := indexOf[ob.Column]; !ok {
			return nil, schemaErrorf("executor: unknown ORDER BY column %q", ob.Column)
		}
	}

	rows := append([][]types.Value(nil), child.rows...)
	sort.SliceStable(rows, func(i, j int) bool {
		for _, ob := range n.OrderBy {
			idx := indexOf[ob.Column]
			cmp := rows[i][idx].Compare(rows[j][idx])
			if cmp == 0 {
				continue
			}
			if ob.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return &resultSet{columns: child.columns, rows: rows}, nil
}

func (ex *Executor) evalLimit(n plan.Limit) (*resultSet, error) {
	child, err := ex.eval(n.Child)
	if err != nil {
		return nil, err
	}
	if n.N >= 0 && n.N < len(child.rows) {
		child.rows = child.rows[:n.N]
	}
	return child, nil
}

func (ex *Executor) evalJoin(n plan.NestedLoopJoin) (*resultSet, error) {
	left, err := ex.eval(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := ex.eval(n.Right)
	if err != nil {
		return nil, err
	}

	columns := append(append([]string(nil), left.columns...), right.columns...)
	out := &resultSet{columns: columns}
	for _, lrow := range left.rows {
		for _, rrow := range right.rows {
			merged := append(append([]types.Value(nil), lrow...), rrow...)
			if n.Condition != nil {
				keep, err := n.Condition.Evaluate(rowToMap(columns, merged))
				if err != nil {
					return nil, err
				}
				if !keep {
					continue
				}
			}
			out.rows = append(out.rows, merged)
		}
	}
	return out, nil
}

// literalValue unwraps a plan insert-value slot (always a types.Value
// literal produced by pkg/sql's parseLiteral) into its types.Value.
func literalValue(v interface{}) (types.Value, error) {
	if tv, ok := v.(types.Value); ok {
		return tv, nil
	}
	return types.Value{}, fmt.Errorf("executor: unsupported literal expression %T", v)
}

func (ex *Executor) execInsert(txid int64, n plan.Insert) (*Result, error) {
	schema, err := ex.store.Schema(n.Table)
	if err != nil {
		if errors.Is(err, storage.ErrTableNotFound) {
			return nil, schemaErrorf("executor: table %q does not exist", n.Table)
		}
		return nil, err
	}

	values := make([]types.Value, len(schema.Columns))
	for i := range values {
		values[i] = types.NullValue()
	}

	if len(n.Columns) == 0 {
		if len(n.Values) != len(schema.Columns) {
			return nil, schemaErrorf("executor: INSERT into %s expects %d values, got %d", n.Table, len(schema.Columns), len(n.Values))
		}
		for i, v := range n.Values {
			val, err := literalValue(v)
			if err != nil {
				return nil, err
			}
			values[i] = val
		}
	} else {
		if len(n.Columns) != len(n.Values) {
			return nil, schemaErrorf("executor: INSERT into %s column/value count mismatch", n.Table)
		}
		for i, colName := range n.Columns {
			idx := schema.ColumnIndex(colName)
			if idx < 0 {
				return nil, schemaErrorf("executor: %s has no column %q", n.Table, colName)
			}
			val, err := literalValue(n.Values[i])
			if err != nil {
				return nil, err
			}
			values[idx] = val
		}
	}

	rowID, err := ex.store.InsertRow(n.Table, values)
	if err != nil {
		return nil, err
	}
	if err := ex.logRowOp(txid, n.Table, rowID, nil, values); err != nil {
		return nil, err
	}
	return &Result{AffectedRows: 1}, nil
}

func evalAssignment(v interface{}, row map[string]types.Value) (types.Value, error) {
	switch val := v.(type) {
	case types.Value:
		return val, nil
	case plan.ColumnReference:
		rv, ok := row[val.Column]
		if !ok {
			return types.Value{}, schemaErrorf("executor: unknown column %q in SET", val.Column)
		}
		return rv, nil
	case plan.Arithmetic:
		return val.Eval(row)
	default:
		return types.Value{}, fmt.Errorf("executor: unsupported assignment expression %T", v)
	}
}

func (ex *Executor) execUpdate(txid int64, n plan.Update) (*Result, error) {
	schema, rows, err := ex.store.ReadTable(n.Table)
	if err != nil {
		return nil, err
	}

	columns := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		columns[i] = c.Name
	}

	var affected int64
	for _, row := range rows {
		rowMap := rowToMap(columns, row.Values)
		if n.Where != nil {
			keep, err := n.Where.Evaluate(rowMap)
			if err != nil {
				return nil, err
			}
			if !keep {
				continue
			}
		}

		newValues := append([]types.Value(nil), row.Values...)
		for _, a := range n.Assignments {
			idx := schema.ColumnIndex(a.Column)
			if idx < 0 {
				return nil, schemaErrorf("executor: %s has no column %q", n.Table, a.Column)
			}
			val, err := evalAssignment(a.Value, rowMap)
			if err != nil {
				return nil, err
			}
			newValues[idx] = val
		}

		if _, err := ex.store.UpdateRow(n.Table, row.ID, newValues); err != nil {
			return nil, err
		}
		if err := ex.logRowOp(txid, n.Table, row.ID, row.Values, newValues); err != nil {
			return nil, err
		}
		affected++
	}
	return &Result{AffectedRows: affected}, nil
}

func (ex *Executor) execDelete(txid int64, n plan.Delete) (*Result, error) {
	schema, rows, err := ex.store.ReadTable(n.Table)
	if err != nil {
		return nil, err
	}
	columns := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		columns[i] = c.Name
	}

	var affected int64
	for _, row := range rows {
		if n.Where != nil {
			keep, err := n.Where.Evaluate(rowToMap(columns, row.Values))
			if err != nil {
				return nil, err
			}
			if !keep {
				continue
			}
		}
		if err := ex.store.DeleteRow(n.Table, row.ID); err != nil {
			return nil, err
		}
		if err := ex.logRowOp(txid, n.Table, row.ID, row.Values, nil); err != nil {
			return nil, err
		}
		affected++
	}
	return &Result{AffectedRows: affected}, nil
}

func (ex *Executor) execCreateTable(txid int64, n plan.CreateTable) (*Result, error) {
	if err := ex.store.CreateTable(n.Schema); err != nil {
		if errors.Is(err, storage.ErrTableExists) {
			return nil, schemaErrorf("executor: table %q already exists", n.Schema.Table)
		}
		return nil, err
	}
	schemaJSON, err := json.Marshal(n.Schema)
	if err != nil {
		return nil, err
	}
	if _, err := ex.wal.Append(types.LogRecord{TxID: txid, Kind: types.LogOp, Table: n.Schema.Table, Key: "__schema__", New: schemaJSON}); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func (ex *Executor) execDropTable(txid int64, n plan.DropTable) (*Result, error) {
	if err := ex.store.DropTable(n.Table); err != nil {
		if errors.Is(err, storage.ErrTableNotFound) {
			if n.IfExists {
				return &Result{}, nil
			}
			return nil, schemaErrorf("executor: table %q does not exist", n.Table)
		}
		return nil, err
	}
	if _, err := ex.wal.Append(types.LogRecord{TxID: txid, Kind: types.LogOp, Table: n.Table, Key: "__schema__"}); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

// logRowOp appends a WAL OP record for a single row mutation, JSON-encoding
// the before/after values rather than replaying the packed storage format
// (redo re-invokes the Storage Facade; see DESIGN.md). Called strictly
// after the storage mutation, matching spec.md §5's ordering contract.
func (ex *Executor) logRowOp(txid int64, table string, rowID uint64, oldValues, newValues []types.Value) error {
	var oldJSON, newJSON []byte
	var err error
	if oldValues != nil {
		if oldJSON, err = json.Marshal(oldValues); err != nil {
			return err
		}
	}
	if newValues != nil {
		if newJSON, err = json.Marshal(newValues); err != nil {
			return err
		}
	}
	_, err = ex.wal.Append(types.LogRecord{
		TxID:  txid,
		Kind:  types.LogOp,
		Table: table,
		Key:   strconv.FormatUint(rowID, 10),
		Old:   oldJSON,
		New:   newJSON,
	})
	return err
}
