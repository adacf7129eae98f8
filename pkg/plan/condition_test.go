package plan

import (
	"testing"

	"github.com/cuemby/ledger/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhereCondition_Equals(t *testing.T) {
	row := map[string]types.Value{"id": types.IntValue(1)}
	c := WhereCondition{Column: "id", Operator: OpEquals, Value: types.IntValue(1)}
	ok, err := c.Evaluate(row)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWhereCondition_ColumnReference(t *testing.T) {
	row := map[string]types.Value{"a": types.IntValue(5), "b": types.IntValue(5)}
	c := WhereCondition{Column: "a", Operator: OpEquals, Value: ColumnReference{Column: "b"}}
	ok, err := c.Evaluate(row)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWhereCondition_IsNull(t *testing.T) {
	row := map[string]types.Value{"x": types.NullValue()}
	c := WhereCondition{Column: "x", Operator: OpIsNull}
	ok, err := c.Evaluate(row)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWhereCondition_Between(t *testing.T) {
	row := map[string]types.Value{"n": types.IntValue(5)}
	c := WhereCondition{Column: "n", Operator: OpBetween, Value: [2]types.Value{types.IntValue(1), types.IntValue(10)}}
	ok, err := c.Evaluate(row)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWhereCondition_In(t *testing.T) {
	row := map[string]types.Value{"n": types.IntValue(3)}
	c := WhereCondition{Column: "n", Operator: OpIn, Value: []types.Value{types.IntValue(1), types.IntValue(3)}}
	ok, err := c.Evaluate(row)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWhereCondition_Like(t *testing.T) {
	row := map[string]types.Value{"name": types.TextValue("Alice")}
	c := WhereCondition{Column: "name", Operator: OpLike, Value: types.TextValue("Al%")}
	ok, err := c.Evaluate(row)
	require.NoError(t, err)
	assert.True(t, ok)

	c2 := WhereCondition{Column: "name", Operator: OpLike, Value: types.TextValue("Bob%")}
	ok2, err := c2.Evaluate(row)
	require.NoError(t, err)
	assert.False(t, ok2)
}

func TestLogicalCondition_And(t *testing.T) {
	row := map[string]types.Value{"a": types.IntValue(1), "b": types.IntValue(2)}
	l := LogicalCondition{
		Operator: LogicalAnd,
		Conditions: []Condition{
			WhereCondition{Column: "a", Operator: OpEquals, Value: types.IntValue(1)},
			WhereCondition{Column: "b", Operator: OpEquals, Value: types.IntValue(2)},
		},
	}
	ok, err := l.Evaluate(row)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLogicalCondition_Not(t *testing.T) {
	row := map[string]types.Value{"a": types.IntValue(1)}
	l := LogicalCondition{
		Operator:   LogicalNot,
		Conditions: []Condition{WhereCondition{Column: "a", Operator: OpEquals, Value: types.IntValue(2)}},
	}
	ok, err := l.Evaluate(row)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWhereCondition_NullComparisonIsFalse(t *testing.T) {
	row := map[string]types.Value{"a": types.NullValue()}
	c := WhereCondition{Column: "a", Operator: OpEquals, Value: types.IntValue(1)}
	ok, err := c.Evaluate(row)
	require.NoError(t, err)
	assert.False(t, ok)
}
