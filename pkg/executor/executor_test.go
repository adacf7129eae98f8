package executor

import (
	"path/filepath"
	"testing"

	"github.com/cuemby/ledger/pkg/ccm"
	"github.com/cuemby/ledger/pkg/plan"
	"github.com/cuemby/ledger/pkg/storage"
	"github.com/cuemby/ledger/pkg/types"
	"github.com/cuemby/ledger/pkg/wal"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) (*Executor, *storage.Store, ccm.Manager) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	w, err := wal.Open(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	manager := ccm.NewLockManager()
	return New(store, manager, w), store, manager
}

func usersSchema() types.Schema {
	return types.Schema{
		Table: "users",
		Columns: []types.Column{
			{Name: "id", Type: types.ColumnInt},
			{Name: "name", Type: types.ColumnVarchar, Length: 32},
		},
	}
}

func TestExecutor_CreateInsertSelect(t *testing.T) {
	ex, _, manager := newTestExecutor(t)
	tx := manager.Begin("c1")

	_, err := ex.Execute(tx, plan.CreateTable{Schema: usersSchema()})
	require.NoError(t, err)

	_, err = ex.Execute(tx, plan.Insert{
		Table:  "users",
		Values: []interface{}{types.IntValue(1), types.TextValue("Alice")},
	})
	require.NoError(t, err)

	res, err := ex.Execute(tx, plan.Project{
		Columns: []string{"*"},
		Child:   plan.TableScan{Table: "users"},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows.Data, 1)
	require.Equal(t, types.TextValue("Alice"), res.Rows.Data[0][1])
}

func TestExecutor_UpdateArithmeticAssignment(t *testing.T) {
	ex, _, manager := newTestExecutor(t)
	tx := manager.Begin("c1")

	schema := types.Schema{
		Table: "accounts",
		Columns: []types.Column{
			{Name: "id", Type: types.ColumnInt},
			{Name: "balance", Type: types.ColumnFloat},
		},
	}
	_, err := ex.Execute(tx, plan.CreateTable{Schema: schema})
	require.NoError(t, err)
	_, err = ex.Execute(tx, plan.Insert{
		Table:  "accounts",
		Values: []interface{}{types.IntValue(1), types.FloatValue(100)},
	})
	require.NoError(t, err)

	res, err := ex.Execute(tx, plan.Update{
		Table: "accounts",
		Assignments: []plan.Assignment{
			{Column: "balance", Value: plan.Arithmetic{K: 1.1, Column: "balance", C: 5}},
		},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, res.AffectedRows)

	scan, err := ex.Execute(tx, plan.Project{Columns: []string{"*"}, Child: plan.TableScan{Table: "accounts"}})
	require.NoError(t, err)
	require.InDelta(t, float32(115), scan.Rows.Data[0][1].F, 0.01)
}

func TestExecutor_DeleteTombstonesRows(t *testing.T) {
	ex, _, manager := newTestExecutor(t)
	tx := manager.Begin("c1")

	_, err := ex.Execute(tx, plan.CreateTable{Schema: usersSchema()})
	require.NoError(t, err)
	_, err = ex.Execute(tx, plan.Insert{Table: "users", Values: []interface{}{types.IntValue(1), types.TextValue("A")}})
	require.NoError(t, err)
	_, err = ex.Execute(tx, plan.Insert{Table: "users", Values: []interface{}{types.IntValue(2), types.TextValue("B")}})
	require.NoError(t, err)

	res, err := ex.Execute(tx, plan.Delete{
		Table: "users",
		Where: plan.WhereCondition{Column: "id", Operator: plan.OpEquals, Value: types.IntValue(1)},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, res.AffectedRows)

	scan, err := ex.Execute(tx, plan.Project{Columns: []string{"*"}, Child: plan.TableScan{Table: "users"}})
	require.NoError(t, err)
	require.Len(t, scan.Rows.Data, 1)
	require.Equal(t, types.IntValue(2), scan.Rows.Data[0][0])
}

func TestExecutor_JoinFiltersOnCondition(t *testing.T) {
	ex, _, manager := newTestExecutor(t)
	tx := manager.Begin("c1")

	_, err := ex.Execute(tx, plan.CreateTable{Schema: usersSchema()})
	require.NoError(t, err)
	ordersSchema := types.Schema{
		Table: "orders",
		Columns: []types.Column{
			{Name: "id", Type: types.ColumnInt},
			{Name: "user_id", Type: types.ColumnInt},
		},
	}
	_, err = ex.Execute(tx, plan.CreateTable{Schema: ordersSchema})
	require.NoError(t, err)

	_, err = ex.Execute(tx, plan.Insert{Table: "users", Values: []interface{}{types.IntValue(1), types.TextValue("A")}})
	require.NoError(t, err)
	_, err = ex.Execute(tx, plan.Insert{Table: "orders", Values: []interface{}{types.IntValue(100), types.IntValue(1)}})
	require.NoError(t, err)

	res, err := ex.Execute(tx, plan.Project{
		Columns: []string{"*"},
		Child: plan.NestedLoopJoin{
			Left:  plan.TableScan{Table: "orders"},
			Right: plan.TableScan{Table: "users"},
			Condition: plan.WhereCondition{
				Column:   "user_id",
				Operator: plan.OpEquals,
				Value:    plan.ColumnReference{Column: "id"},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows.Data, 1)
}

func TestExecutor_WaitingPropagatesAsError(t *testing.T) {
	ex, _, manager := newTestExecutor(t)
	// Wait-Die (spec.md §4.1.1): an older transaction requesting a lock
	// held by a younger one waits. Begin the eventual requester first so
	// it gets the lower (older) txid.
	requester := manager.Begin("requester")
	holder := manager.Begin("holder")

	_, err := ex.Execute(holder, plan.CreateTable{Schema: usersSchema()})
	require.NoError(t, err)

	res := manager.Query(holder, ccm.Write, "users")
	require.Equal(t, ccm.Granted, res.Outcome)

	_, err = ex.Execute(requester, plan.Insert{Table: "users", Values: []interface{}{types.IntValue(1), types.TextValue("A")}})
	require.Error(t, err)
	var waitErr *WaitingError
	require.ErrorAs(t, err, &waitErr)
	require.Equal(t, holder, waitErr.BlockedBy)
}

func TestExecutor_InsertIntoMissingTableIsSchemaError(t *testing.T) {
	ex, _, manager := newTestExecutor(t)
	tx := manager.Begin("c1")

	_, err := ex.Execute(tx, plan.Insert{Table: "ghosts", Values: []interface{}{types.IntValue(1)}})
	require.Error(t, err)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

// TestExecutor_ThomasWriteRuleSkipsStaleWrite mirrors spec.md §8 scenario 4
// under the Timestamp protocol: an older transaction's write to a row a
// younger transaction already wrote is granted but must leave storage (and
// the WAL) untouched rather than overwrite the newer value.
func TestExecutor_ThomasWriteRuleSkipsStaleWrite(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	w, err := wal.Open(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	manager := ccm.NewTimestampManager()
	ex := New(store, manager, w)

	setup := manager.Begin("setup")
	_, err = ex.Execute(setup, plan.CreateTable{Schema: usersSchema()})
	require.NoError(t, err)
	_, err = ex.Execute(setup, plan.Insert{Table: "users", Values: []interface{}{types.IntValue(1), types.TextValue("original")}})
	require.NoError(t, err)

	older := manager.Begin("older")     // ts=2
	younger := manager.Begin("younger") // ts=3

	_, err = ex.Execute(younger, plan.Update{
		Table:       "users",
		Assignments: []plan.Assignment{{Column: "name", Value: types.TextValue("younger-write")}},
	})
	require.NoError(t, err)

	res, err := ex.Execute(older, plan.Update{
		Table:       "users",
		Assignments: []plan.Assignment{{Column: "name", Value: types.TextValue("stale-write")}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), res.AffectedRows)

	_, rows, err := store.ReadTable("users")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "younger-write", rows[0].Values[1].S)
}
