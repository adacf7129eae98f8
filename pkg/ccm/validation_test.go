package ccm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestValidationManager_ConflictLoses mirrors spec.md §8 scenario 5: two
// transactions both insert into t; whichever validates second and whose
// read-set intersects the other's write-set loses.
func TestValidationManager_ConflictLoses(t *testing.T) {
	m := NewValidationManager()
	a := m.Begin("A")
	b := m.Begin("B")

	require.Equal(t, Granted, m.Query(a, Write, "t").Outcome)
	require.Equal(t, Granted, m.Query(a, Read, "t").Outcome)
	require.Equal(t, Granted, m.Query(b, Write, "t").Outcome)
	require.Equal(t, Granted, m.Query(b, Read, "t").Outcome)

	require.NoError(t, m.Commit(b))
	require.NoError(t, m.CommitFlushed(b))

	err := m.Commit(a)
	assert.True(t, errors.Is(err, ErrValidationFailure))
}

func TestValidationManager_NoConflictDisjointSets(t *testing.T) {
	m := NewValidationManager()
	a := m.Begin("A")
	b := m.Begin("B")

	require.Equal(t, Granted, m.Query(a, Write, "t1").Outcome)
	require.Equal(t, Granted, m.Query(b, Write, "t2").Outcome)
	require.Equal(t, Granted, m.Query(b, Read, "t2").Outcome)

	require.NoError(t, m.Commit(b))
	require.NoError(t, m.CommitFlushed(b))

	assert.NoError(t, m.Commit(a))
}
