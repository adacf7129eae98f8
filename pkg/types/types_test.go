package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_MarshalJSON_EmitsBareScalar(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want string
	}{
		{"int", IntValue(1), "1"},
		{"float", FloatValue(2.5), "2.5"},
		{"text", TextValue("Alice"), `"Alice"`},
		{"null", NullValue(), "null"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out, err := json.Marshal(c.v)
			require.NoError(t, err)
			assert.JSONEq(t, c.want, string(out))
		})
	}
}

func TestValue_UnmarshalJSON_InfersKind(t *testing.T) {
	var i Value
	require.NoError(t, json.Unmarshal([]byte("1"), &i))
	assert.Equal(t, IntValue(1), i)

	var f Value
	require.NoError(t, json.Unmarshal([]byte("2.5"), &f))
	assert.Equal(t, FloatValue(2.5), f)

	var s Value
	require.NoError(t, json.Unmarshal([]byte(`"Alice"`), &s))
	assert.Equal(t, TextValue("Alice"), s)

	var n Value
	require.NoError(t, json.Unmarshal([]byte("null"), &n))
	assert.Equal(t, NullValue(), n)
}

// TestRows_MarshalJSON_MatchesWireSchema pins the exact shape spec §6 and
// §8 scenario 1 require: scalar cells, not {Kind,I,F,S} structs.
func TestRows_MarshalJSON_MatchesWireSchema(t *testing.T) {
	rows := &Rows{
		Columns: []string{"id", "name"},
		Data:    [][]Value{{IntValue(1), TextValue("Alice")}},
	}
	out, err := json.Marshal(rows)
	require.NoError(t, err)
	assert.JSONEq(t, `{"columns":["id","name"],"data":[[1,"Alice"]]}`, string(out))

	var roundTrip Rows
	require.NoError(t, json.Unmarshal(out, &roundTrip))
	assert.Equal(t, rows.Columns, roundTrip.Columns)
	assert.Equal(t, rows.Data, roundTrip.Data)
}
