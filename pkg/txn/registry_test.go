package txn

import (
	"path/filepath"
	"testing"

	"github.com/cuemby/ledger/pkg/ccm"
	"github.com/cuemby/ledger/pkg/storage"
	"github.com/cuemby/ledger/pkg/wal"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, dir string) (*Registry, *storage.Store, *wal.WAL) {
	t.Helper()
	store, err := storage.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	w, err := wal.Open(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	manager := ccm.NewLockManager()
	return New(store, manager, w), store, w
}

func TestRegistry_AutoCommitExecuteQuery(t *testing.T) {
	r, _, _ := newTestRegistry(t, t.TempDir())

	_, _, err := r.ExecuteQuery(0, "client-a", "CREATE TABLE users (id INT, name VARCHAR(20))")
	require.NoError(t, err)

	_, _, err = r.ExecuteQuery(0, "client-a", "INSERT INTO users VALUES (1, 'Alice')")
	require.NoError(t, err)

	res, _, err := r.ExecuteQuery(0, "client-a", "SELECT * FROM users")
	require.NoError(t, err)
	require.Len(t, res.Rows.Data, 1)

	require.Equal(t, 0, r.ActiveTransactions())
}

func TestRegistry_ExplicitTransactionCommit(t *testing.T) {
	r, _, _ := newTestRegistry(t, t.TempDir())

	_, _, err := r.ExecuteQuery(0, "client-a", "CREATE TABLE users (id INT, name VARCHAR(20))")
	require.NoError(t, err)

	txid := r.BeginTransaction("client-a")
	require.Equal(t, 1, r.ActiveTransactions())

	_, _, err = r.ExecuteQuery(txid, "client-a", "INSERT INTO users VALUES (1, 'Bob')")
	require.NoError(t, err)

	require.NoError(t, r.CommitTransaction(txid))
	require.Equal(t, 0, r.ActiveTransactions())
}

func TestRegistry_ExplicitTransactionRollback(t *testing.T) {
	r, _, _ := newTestRegistry(t, t.TempDir())

	_, _, err := r.ExecuteQuery(0, "client-a", "CREATE TABLE users (id INT, name VARCHAR(20))")
	require.NoError(t, err)

	txid := r.BeginTransaction("client-a")
	_, _, err = r.ExecuteQuery(txid, "client-a", "INSERT INTO users VALUES (1, 'Carl')")
	require.NoError(t, err)

	require.NoError(t, r.RollbackTransaction(txid))

	res, _, err := r.ExecuteQuery(0, "client-a", "SELECT * FROM users")
	require.NoError(t, err)
	require.Len(t, res.Rows.Data, 0)
}

// TestRegistry_RecoverReplaysCommittedWork mirrors spec.md §8 scenario 6:
// a fresh store rebuilt purely from the WAL should see every committed
// row and none of an uncommitted transaction's.
func TestRegistry_RecoverReplaysCommittedWork(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "wal.log")

	func() {
		r, store, w := newTestRegistry(t, dir)
		defer store.Close()
		defer w.Close()

		_, _, err := r.ExecuteQuery(0, "client-a", "CREATE TABLE users (id INT, name VARCHAR(20))")
		require.NoError(t, err)

		txid := r.BeginTransaction("client-a")
		_, _, err = r.ExecuteQuery(txid, "client-a", "INSERT INTO users VALUES (1, 'Dana')")
		require.NoError(t, err)
		require.NoError(t, r.CommitTransaction(txid))

		uncommitted := r.BeginTransaction("client-b")
		_, _, err = r.ExecuteQuery(uncommitted, "client-b", "INSERT INTO users VALUES (2, 'Eve')")
		require.NoError(t, err)
		// Deliberately never committed or rolled back: simulates a crash.
	}()

	freshDir := t.TempDir()
	freshStore, err := storage.Open(freshDir)
	require.NoError(t, err)
	defer freshStore.Close()

	freshWAL, err := wal.Open(filepath.Join(freshDir, "wal.log"))
	require.NoError(t, err)
	defer freshWAL.Close()

	manager := ccm.NewLockManager()
	r2 := New(freshStore, manager, freshWAL)
	applied, err := r2.Recover(walPath)
	require.NoError(t, err)
	require.Greater(t, applied, 0)

	_, rows, err := freshStore.ReadTable("users")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Dana", rows[0].Values[1].S)
}
