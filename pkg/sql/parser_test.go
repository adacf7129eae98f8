package sql

import (
	"testing"

	"github.com/cuemby/ledger/pkg/plan"
	"github.com/cuemby/ledger/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_CreateTable(t *testing.T) {
	node, err := Parse("CREATE TABLE users (id INT, name VARCHAR(50))")
	require.NoError(t, err)
	ct, ok := node.(plan.CreateTable)
	require.True(t, ok)
	assert.Equal(t, "users", ct.Schema.Table)
	require.Len(t, ct.Schema.Columns, 2)
	assert.Equal(t, types.ColumnInt, ct.Schema.Columns[0].Type)
	assert.Equal(t, types.ColumnVarchar, ct.Schema.Columns[1].Type)
	assert.Equal(t, 50, ct.Schema.Columns[1].Length)
}

func TestParse_DropTableIfExists(t *testing.T) {
	node, err := Parse("DROP TABLE IF EXISTS users")
	require.NoError(t, err)
	dt, ok := node.(plan.DropTable)
	require.True(t, ok)
	assert.Equal(t, "users", dt.Table)
	assert.True(t, dt.IfExists)
}

func TestParse_Insert(t *testing.T) {
	node, err := Parse("INSERT INTO users VALUES (1, 'Alice')")
	require.NoError(t, err)
	ins, ok := node.(plan.Insert)
	require.True(t, ok)
	assert.Equal(t, "users", ins.Table)
	require.Len(t, ins.Values, 2)
	assert.Equal(t, types.IntValue(1), ins.Values[0])
	assert.Equal(t, types.TextValue("Alice"), ins.Values[1])
}

func TestParse_UpdateWithWhere(t *testing.T) {
	node, err := Parse("UPDATE users SET name = 'Bob' WHERE id = 1")
	require.NoError(t, err)
	upd, ok := node.(plan.Update)
	require.True(t, ok)
	assert.Equal(t, "users", upd.Table)
	require.Len(t, upd.Assignments, 1)
	assert.Equal(t, "name", upd.Assignments[0].Column)
	require.NotNil(t, upd.Where)
}

func TestParse_UpdateArithmeticAssignment(t *testing.T) {
	node, err := Parse("UPDATE accounts SET balance = 1.1 * balance + 5")
	require.NoError(t, err)
	upd, ok := node.(plan.Update)
	require.True(t, ok)
	require.Len(t, upd.Assignments, 1)
	arith, ok := upd.Assignments[0].Value.(plan.Arithmetic)
	require.True(t, ok)
	assert.Equal(t, "balance", arith.Column)
	assert.InDelta(t, 1.1, arith.K, 0.0001)
	assert.InDelta(t, 5.0, arith.C, 0.0001)
}

func TestParse_DeleteWithWhere(t *testing.T) {
	node, err := Parse("DELETE FROM users WHERE id = 1")
	require.NoError(t, err)
	del, ok := node.(plan.Delete)
	require.True(t, ok)
	assert.Equal(t, "users", del.Table)
	require.NotNil(t, del.Where)
}

func TestParse_SelectStar(t *testing.T) {
	node, err := Parse("SELECT * FROM users")
	require.NoError(t, err)
	proj, ok := node.(plan.Project)
	require.True(t, ok)
	assert.Equal(t, []string{"*"}, proj.Columns)
	scan, ok := proj.Child.(plan.TableScan)
	require.True(t, ok)
	assert.Equal(t, "users", scan.Table)
}

func TestParse_SelectWhereOrderByLimit(t *testing.T) {
	node, err := Parse("SELECT id, name FROM users WHERE id > 1 ORDER BY name DESC LIMIT 10")
	require.NoError(t, err)
	limit, ok := node.(plan.Limit)
	require.True(t, ok)
	assert.Equal(t, 10, limit.N)

	proj, ok := limit.Child.(plan.Project)
	require.True(t, ok)
	assert.Equal(t, []string{"id", "name"}, proj.Columns)

	sort, ok := proj.Child.(plan.Sort)
	require.True(t, ok)
	require.Len(t, sort.OrderBy, 1)
	assert.Equal(t, "name", sort.OrderBy[0].Column)
	assert.True(t, sort.OrderBy[0].Desc)

	filter, ok := sort.Child.(plan.Filter)
	require.True(t, ok)
	where, ok := filter.Condition.(plan.WhereCondition)
	require.True(t, ok)
	assert.Equal(t, plan.OpGreater, where.Operator)
}

func TestParse_JoinOn(t *testing.T) {
	node, err := Parse("SELECT * FROM orders JOIN users ON orders.user_id = users.id")
	require.NoError(t, err)
	proj, ok := node.(plan.Project)
	require.True(t, ok)
	join, ok := proj.Child.(plan.NestedLoopJoin)
	require.True(t, ok)
	assert.NotNil(t, join.Condition)
}

func TestParse_UnrecognizedStatement(t *testing.T) {
	_, err := Parse("FROBNICATE users")
	require.Error(t, err)
	var pe *ParseError
	assert.ErrorAs(t, err, &pe)
}
