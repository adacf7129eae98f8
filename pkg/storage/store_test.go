package storage

import (
	"testing"

	"github.com/cuemby/ledger/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usersSchema() types.Schema {
	return types.Schema{
		Table: "users",
		Columns: []types.Column{
			{Name: "id", Type: types.ColumnInt},
			{Name: "name", Type: types.ColumnVarchar, Length: 50},
		},
	}
}

func TestStore_CreateTableRejectsDuplicate(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateTable(usersSchema()))
	err = s.CreateTable(usersSchema())
	assert.ErrorIs(t, err, ErrTableExists)
}

// TestStore_RoundTrip mirrors spec.md §8 scenario 1: CREATE TABLE, INSERT,
// then SELECT * returns exactly the inserted row in insertion order.
func TestStore_RoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateTable(usersSchema()))

	id, err := s.InsertRow("users", []types.Value{types.IntValue(1), types.TextValue("Alice")})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	schema, rows, err := s.ReadTable("users")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []types.Column{{Name: "id", Type: types.ColumnInt}, {Name: "name", Type: types.ColumnVarchar, Length: 50}}, schema.Columns)
	assert.True(t, rows[0].Values[0].Equal(types.IntValue(1)))
	assert.True(t, rows[0].Values[1].Equal(types.TextValue("Alice")))
}

func TestStore_InsertionOrderPreserved(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateTable(usersSchema()))

	for i := int32(1); i <= 5; i++ {
		_, err := s.InsertRow("users", []types.Value{types.IntValue(i), types.TextValue("n")})
		require.NoError(t, err)
	}

	_, rows, err := s.ReadTable("users")
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for i, r := range rows {
		assert.Equal(t, int32(i+1), r.Values[0].I)
	}
}

func TestStore_DeleteRowTombstonesAndHidesFromScan(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateTable(usersSchema()))

	id, err := s.InsertRow("users", []types.Value{types.IntValue(1), types.TextValue("Alice")})
	require.NoError(t, err)

	require.NoError(t, s.DeleteRow("users", id))

	_, rows, err := s.ReadTable("users")
	require.NoError(t, err)
	assert.Len(t, rows, 0)
}

func TestStore_UpdateRowAppendsReplacementUnderNewID(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateTable(usersSchema()))

	id, err := s.InsertRow("users", []types.Value{types.IntValue(1), types.TextValue("Alice")})
	require.NoError(t, err)

	newID, err := s.UpdateRow("users", id, []types.Value{types.IntValue(1), types.TextValue("Alicia")})
	require.NoError(t, err)
	assert.NotEqual(t, id, newID)

	_, rows, err := s.ReadTable("users")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alicia", rows[0].Values[1].S)
}

func TestStore_DropTableRemovesCatalogAndBucket(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateTable(usersSchema()))

	require.NoError(t, s.DropTable("users"))

	exists, err := s.TableExists("users")
	require.NoError(t, err)
	assert.False(t, exists)

	_, _, err = s.ReadTable("users")
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestStore_CharColumnTrimsNULPadding(t *testing.T) {
	schema := types.Schema{
		Table: "codes",
		Columns: []types.Column{
			{Name: "code", Type: types.ColumnChar, Length: 8},
		},
	}
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateTable(schema))

	_, err = s.InsertRow("codes", []types.Value{types.TextValue("AB")})
	require.NoError(t, err)

	_, rows, err := s.ReadTable("codes")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "AB", rows[0].Values[0].S)
}

func TestStore_FloatRoundTrip(t *testing.T) {
	schema := types.Schema{
		Table:   "measurements",
		Columns: []types.Column{{Name: "v", Type: types.ColumnFloat}},
	}
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateTable(schema))

	_, err = s.InsertRow("measurements", []types.Value{types.FloatValue(3.5)})
	require.NoError(t, err)

	_, rows, err := s.ReadTable("measurements")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, float32(3.5), rows[0].Values[0].F)
}
