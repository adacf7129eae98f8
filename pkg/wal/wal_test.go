package wal

import (
	"path/filepath"
	"testing"

	"github.com/cuemby/ledger/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAL_AppendAssignsMonotonicLSNs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	lsn1, err := w.Append(types.LogRecord{TxID: 1, Kind: types.LogStart})
	require.NoError(t, err)
	lsn2, err := w.Append(types.LogRecord{TxID: 1, Kind: types.LogCommit})
	require.NoError(t, err)

	assert.Equal(t, int64(1), lsn1)
	assert.Equal(t, int64(2), lsn2)
}

func TestWAL_FlushAdvancesFlushedLSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(types.LogRecord{TxID: 1, Kind: types.LogStart})
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.FlushedLSN())

	require.NoError(t, w.Flush())
	assert.Equal(t, int64(1), w.FlushedLSN())
}

// TestRecover_CommittedTransactionFullyVisible mirrors spec.md §8
// scenario 6's first half: insert 100 rows under one COMMITTED
// transaction, crash after COMMIT fsync; recovery redoes all 100 OPs.
func TestRecover_CommittedTransactionFullyVisible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := Open(path)
	require.NoError(t, err)

	_, err = w.Append(types.LogRecord{TxID: 1, Kind: types.LogStart})
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		_, err = w.Append(types.LogRecord{TxID: 1, Kind: types.LogOp, Table: "t", Key: "row"})
		require.NoError(t, err)
	}
	_, err = w.Append(types.LogRecord{TxID: 1, Kind: types.LogCommit})
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	applied, _, err := Recover(path, func(rec types.LogRecord) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 100, applied)
}

// TestRecover_UncommittedTransactionInvisible mirrors spec.md §8 scenario
// 6's second half: if killed between OP-log append and COMMIT, recovery
// redoes nothing for that transaction.
func TestRecover_UncommittedTransactionInvisible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := Open(path)
	require.NoError(t, err)

	_, err = w.Append(types.LogRecord{TxID: 1, Kind: types.LogStart})
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		_, err = w.Append(types.LogRecord{TxID: 1, Kind: types.LogOp, Table: "t", Key: "row"})
		require.NoError(t, err)
	}
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	applied, _, err := Recover(path, func(rec types.LogRecord) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
}

func TestRecover_RedoLSNSkipsPreCheckpointOps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := Open(path)
	require.NoError(t, err)

	_, err = w.Append(types.LogRecord{TxID: 1, Kind: types.LogStart})
	require.NoError(t, err)
	_, err = w.Append(types.LogRecord{TxID: 1, Kind: types.LogOp, Table: "t", Key: "a"})
	require.NoError(t, err)
	_, err = w.Append(types.LogRecord{TxID: 1, Kind: types.LogCommit})
	require.NoError(t, err)

	ckptLSN, err := w.Checkpoint(100) // redo_lsn far ahead: nothing before it applied to storage
	require.NoError(t, err)
	require.Greater(t, ckptLSN, int64(0))
	require.NoError(t, w.Close())

	applied, _, err := Recover(path, func(rec types.LogRecord) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
}
