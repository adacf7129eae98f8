package ccm

import (
	"sync"

	"github.com/cuemby/ledger/pkg/metrics"
	"github.com/cuemby/ledger/pkg/types"
)

// Action is the kind of access a caller requests on a resource.
type Action int

const (
	Read Action = iota
	Write
)

// Outcome is the authorization verdict Query returns.
type Outcome int

const (
	Granted Outcome = iota
	Waiting
	Failed

	// GrantedIgnored is Granted's silent-discard sibling: the caller may
	// proceed (no abort, no wait), but the write itself must not be applied
	// to storage or logged to the WAL. Only the Timestamp-Ordering protocol
	// returns it, for a Thomas Write Rule write that arrives older than the
	// resource's current write_ts (spec.md §4.1.2).
	GrantedIgnored
)

// QueryResult is the return value of Manager.Query.
type QueryResult struct {
	Outcome   Outcome
	BlockedBy int64 // populated on Waiting: the txid this caller waits behind
	Err       error // populated on Failed
}

// Manager is the common contract every concurrency-control protocol
// implements (spec.md §4.1). A server process selects exactly one variant
// at startup (see the Open Question decision in DESIGN.md).
type Manager interface {
	Begin(clientID string) int64
	Query(txid int64, action Action, resource string) QueryResult
	Commit(txid int64) error
	CommitFlushed(txid int64) error
	Rollback(txid int64) error
	Abort(txid int64) error
	End(txid int64) error
	Status(txid int64) (types.TransactionStatus, bool)
	WaitEvent(txid int64) (*WaitEvent, bool)
	Transaction(txid int64) (*types.Transaction, bool)
	Protocol() types.Protocol

	// ActiveTransactions reports the number of ACTIVE transactions, for
	// metrics.StatsSource.
	ActiveTransactions() int
}

// base holds the state and bookkeeping every variant shares: the
// transaction table, the per-transaction Wait/Wake Registry, and the
// single coarse mutex spec.md §4.1 mandates ("All state mutations use a
// single coarse mutex within the CCM; the event objects live under that
// mutex but are wait()ed on without holding it."). Variant-specific state
// (lock tables, timestamp tables, validation log) is guarded by the same
// mu, declared alongside base in each variant's file.
type base struct {
	mu           sync.Mutex
	nextTxID     int64
	transactions map[int64]*types.Transaction
	events       map[int64]*WaitEvent
}

func newBase() base {
	return base{
		transactions: make(map[int64]*types.Transaction),
		events:       make(map[int64]*WaitEvent),
	}
}

// beginLocked allocates a new ACTIVE transaction. Caller must hold mu.
func (b *base) beginLocked(clientID string) *types.Transaction {
	b.nextTxID++
	id := b.nextTxID
	txn := types.NewTransaction(id, id, clientID)
	b.transactions[id] = txn
	b.events[id] = NewWaitEvent()
	metrics.TransactionsActive.Inc()
	return txn
}

func (b *base) transactionLocked(txid int64) (*types.Transaction, bool) {
	txn, ok := b.transactions[txid]
	return txn, ok
}

// activeLocked reports whether txid is registered and ACTIVE. Used at the
// top of Query/Commit: spec.md §4.1 requires "not active" on any
// non-ACTIVE transaction.
func (b *base) activeLocked(txid int64) (*types.Transaction, bool) {
	txn, ok := b.transactions[txid]
	if !ok || txn.Status != types.StatusActive {
		return nil, false
	}
	return txn, true
}

func (b *base) Transaction(txid int64) (*types.Transaction, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transactionLocked(txid)
}

func (b *base) Status(txid int64) (types.TransactionStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	txn, ok := b.transactions[txid]
	if !ok {
		return "", false
	}
	return txn.Status, true
}

func (b *base) WaitEvent(txid int64) (*WaitEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, ok := b.events[txid]
	return ev, ok
}

// endLocked removes a COMMITTED/ABORTED transaction's bookkeeping,
// transitioning it to TERMINATED. Caller must hold mu.
func (b *base) endLocked(txid int64) error {
	txn, ok := b.transactions[txid]
	if !ok {
		return ErrTransactionNotFound
	}
	if txn.Status != types.StatusCommitted && txn.Status != types.StatusAborted {
		return ErrNotActive
	}
	metrics.TransactionsTotal.WithLabelValues(string(txn.Status)).Inc()
	txn.Status = types.StatusTerminated
	delete(b.transactions, txid)
	delete(b.events, txid)
	return nil
}

func (b *base) ActiveTransactions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, txn := range b.transactions {
		if txn.Status == types.StatusActive {
			n++
		}
	}
	return n
}
