package ccm

import (
	"errors"
	"testing"

	"github.com/cuemby/ledger/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLockManager_WaitDieWaits mirrors spec.md §8 scenario 2: an older
// transaction requesting a lock held by a younger one waits rather than
// dying.
func TestLockManager_WaitDieWaits(t *testing.T) {
	m := NewLockManager()
	a := m.Begin("A") // timestamp 1, older
	b := m.Begin("B") // timestamp 2, younger

	res := m.Query(b, Write, "products")
	require.Equal(t, Granted, res.Outcome)

	res = m.Query(a, Write, "products")
	assert.Equal(t, Waiting, res.Outcome)
	assert.Equal(t, b, res.BlockedBy)

	ev, ok := m.WaitEvent(a)
	require.True(t, ok)
	select {
	case <-ev.Channel():
		t.Fatal("wait event should not be set before B releases")
	default:
	}

	require.NoError(t, m.Commit(b))
	require.NoError(t, m.CommitFlushed(b))
	require.NoError(t, m.End(b))

	select {
	case <-ev.Channel():
	default:
		t.Fatal("wait event should be set once B releases the lock")
	}

	res = m.Query(a, Write, "products")
	assert.Equal(t, Granted, res.Outcome)
}

// TestLockManager_WaitDieDies mirrors spec.md §8 scenario 3: a younger
// transaction requesting a lock held by an older one dies immediately.
func TestLockManager_WaitDieDies(t *testing.T) {
	m := NewLockManager()
	a := m.Begin("A") // older
	b := m.Begin("B") // younger

	res := m.Query(a, Write, "T")
	require.Equal(t, Granted, res.Outcome)

	res = m.Query(b, Write, "T")
	assert.Equal(t, Failed, res.Outcome)
	assert.True(t, errors.Is(res.Err, ErrWaitDieDie))

	status, ok := m.Status(b)
	require.True(t, ok)
	assert.Equal(t, types.StatusFailed, status)

	res = m.Query(b, Write, "T")
	assert.Equal(t, Failed, res.Outcome)
	assert.True(t, errors.Is(res.Err, ErrNotActive))
}

func TestLockManager_SharedLocksCoexist(t *testing.T) {
	m := NewLockManager()
	a := m.Begin("A")
	b := m.Begin("B")

	assert.Equal(t, Granted, m.Query(a, Read, "T").Outcome)
	assert.Equal(t, Granted, m.Query(b, Read, "T").Outcome)
}

func TestLockManager_UpgradeSoleSharedHolder(t *testing.T) {
	m := NewLockManager()
	a := m.Begin("A")

	assert.Equal(t, Granted, m.Query(a, Read, "T").Outcome)
	assert.Equal(t, Granted, m.Query(a, Write, "T").Outcome)
}

func TestLockManager_RollbackIsIdempotentAndReleasesLocks(t *testing.T) {
	m := NewLockManager()
	a := m.Begin("A") // older
	b := m.Begin("B") // younger

	require.Equal(t, Granted, m.Query(b, Write, "T").Outcome)
	res := m.Query(a, Write, "T")
	require.Equal(t, Waiting, res.Outcome)

	require.NoError(t, m.Rollback(b))
	require.NoError(t, m.Rollback(b)) // idempotent
	require.NoError(t, m.Abort(b))

	ev, ok := m.WaitEvent(a)
	require.True(t, ok)
	select {
	case <-ev.Channel():
	default:
		t.Fatal("rollback+abort of B should release T and wake A")
	}
}
