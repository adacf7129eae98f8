package ccm

import (
	"errors"

	"github.com/cuemby/ledger/pkg/log"
	"github.com/cuemby/ledger/pkg/metrics"
	"github.com/cuemby/ledger/pkg/types"
	"github.com/rs/zerolog"
)

type waiter struct {
	txid   int64
	action Action
}

// LockManager implements 2PL with Wait-Die deadlock prevention (spec.md
// §4.1.1). Grounded on the teacher's pkg/manager.FSM pattern of a single
// mutex guarding a handful of maps (see _examples/cuemby-warren/pkg/manager/fsm.go).
type LockManager struct {
	base
	log zerolog.Logger

	shared    map[string]map[int64]struct{} // resource -> set of holder txids
	exclusive map[string]int64              // resource -> holder txid
	waitQueue map[string][]waiter           // resource -> ordered waiters
}

// NewLockManager constructs an empty Lock-Based CCM.
func NewLockManager() *LockManager {
	return &LockManager{
		base:      newBase(),
		log:       log.WithComponent("ccm-lock"),
		shared:    make(map[string]map[int64]struct{}),
		exclusive: make(map[string]int64),
		waitQueue: make(map[string][]waiter),
	}
}

func (m *LockManager) Protocol() types.Protocol { return types.ProtocolLock }

func (m *LockManager) Begin(clientID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn := m.beginLocked(clientID)
	return txn.ID
}

func (m *LockManager) Query(txid int64, action Action, resource string) QueryResult {
	m.mu.Lock()
	txn, ok := m.activeLocked(txid)
	if !ok {
		m.mu.Unlock()
		return QueryResult{Outcome: Failed, Err: ErrNotActive}
	}

	var result QueryResult
	if action == Read {
		result = m.queryReadLocked(txn, resource)
	} else {
		result = m.queryWriteLocked(txn, resource)
	}
	m.mu.Unlock()

	switch {
	case result.Outcome == Waiting:
		metrics.LockConflictsTotal.WithLabelValues("waiting").Inc()
	case result.Outcome == Failed && errors.Is(result.Err, ErrWaitDieDie):
		metrics.LockConflictsTotal.WithLabelValues("die").Inc()
	}
	return result
}

func (m *LockManager) queryReadLocked(txn *types.Transaction, resource string) QueryResult {
	holder, hasExclusive := m.exclusive[resource]
	if !hasExclusive || holder == txn.ID {
		m.grantSharedLocked(txn, resource)
		return QueryResult{Outcome: Granted}
	}
	return m.waitOrDieLocked(txn, resource, Read, holder)
}

func (m *LockManager) queryWriteLocked(txn *types.Transaction, resource string) QueryResult {
	if holder, ok := m.exclusive[resource]; ok {
		if holder == txn.ID {
			return QueryResult{Outcome: Granted} // idempotent
		}
		return m.waitOrDieLocked(txn, resource, Write, holder)
	}

	holders := m.shared[resource]
	if len(holders) == 0 {
		m.grantExclusiveLocked(txn, resource)
		return QueryResult{Outcome: Granted}
	}

	if _, inShared := holders[txn.ID]; inShared && len(holders) == 1 {
		// sole shared holder: upgrade in place.
		delete(holders, txn.ID)
		delete(txn.ReadSet, resource)
		m.grantExclusiveLocked(txn, resource)
		return QueryResult{Outcome: Granted}
	}

	oldest := m.oldestOtherHolderLocked(holders, txn.ID)
	return m.waitOrDieLocked(txn, resource, Write, oldest)
}

func (m *LockManager) oldestOtherHolderLocked(holders map[int64]struct{}, exclude int64) int64 {
	var oldest int64 = -1
	var oldestTS int64
	for tid := range holders {
		if tid == exclude {
			continue
		}
		if other, ok := m.transactions[tid]; ok {
			if oldest == -1 || other.Timestamp < oldestTS {
				oldest = tid
				oldestTS = other.Timestamp
			}
		}
	}
	return oldest
}

// waitOrDieLocked applies the Wait-Die rule: an older requester (smaller
// timestamp) than holder waits; a younger requester dies.
func (m *LockManager) waitOrDieLocked(txn *types.Transaction, resource string, action Action, holder int64) QueryResult {
	holderTxn, ok := m.transactions[holder]
	if !ok {
		// Holder vanished (released concurrently under the same lock,
		// should not happen) — treat as immediately grantable.
		if action == Read {
			m.grantSharedLocked(txn, resource)
		} else {
			m.grantExclusiveLocked(txn, resource)
		}
		return QueryResult{Outcome: Granted}
	}
	if txn.Timestamp < holderTxn.Timestamp {
		m.waitQueue[resource] = append(m.waitQueue[resource], waiter{txid: txn.ID, action: action})
		if ev, ok := m.events[txn.ID]; ok {
			ev.Clear()
		}
		return QueryResult{Outcome: Waiting, BlockedBy: holder}
	}
	txn.Status = types.StatusFailed
	return QueryResult{Outcome: Failed, Err: ErrWaitDieDie}
}

func (m *LockManager) grantSharedLocked(txn *types.Transaction, resource string) {
	if m.shared[resource] == nil {
		m.shared[resource] = make(map[int64]struct{})
	}
	m.shared[resource][txn.ID] = struct{}{}
	txn.ReadSet[resource] = struct{}{}
}

func (m *LockManager) grantExclusiveLocked(txn *types.Transaction, resource string) {
	m.exclusive[resource] = txn.ID
	txn.WriteSet[resource] = struct{}{}
}

func (m *LockManager) Commit(txid int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.activeLocked(txid)
	if !ok {
		return ErrNotActive
	}
	txn.Status = types.StatusPartiallyCommitted
	return nil
}

func (m *LockManager) CommitFlushed(txid int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactionLocked(txid)
	if !ok || txn.Status != types.StatusPartiallyCommitted {
		return ErrNotActive
	}
	txn.Status = types.StatusCommitted
	m.releaseLocked(txn)
	return nil
}

func (m *LockManager) Rollback(txid int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactionLocked(txid)
	if !ok {
		return ErrTransactionNotFound
	}
	// Idempotent: only marks the transaction FAILED, whether or not it
	// already landed there (e.g. a Wait-Die victim). Locks are released and
	// waiters signalled by the Abort that follows, not here.
	txn.Status = types.StatusFailed
	return nil
}

func (m *LockManager) Abort(txid int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactionLocked(txid)
	if !ok {
		return ErrTransactionNotFound
	}
	txn.Status = types.StatusAborted
	m.releaseLocked(txn)
	return nil
}

func (m *LockManager) End(txid int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endLocked(txid)
}

// releaseLocked drops every shared/exclusive entry this transaction holds
// and wakes the head waiter of each resource thereby freed.
func (m *LockManager) releaseLocked(txn *types.Transaction) {
	touched := make(map[string]struct{}, len(txn.ReadSet)+len(txn.WriteSet))
	for r := range txn.ReadSet {
		if holders := m.shared[r]; holders != nil {
			delete(holders, txn.ID)
		}
		touched[r] = struct{}{}
	}
	for r := range txn.WriteSet {
		if m.exclusive[r] == txn.ID {
			delete(m.exclusive, r)
		}
		touched[r] = struct{}{}
	}
	for r := range touched {
		m.wakeHeadLocked(r)
	}
}

// wakeHeadLocked signals the head waiter of resource's queue if the
// resource is now grantable for it, per spec.md §4.1.1: "process
// wait-queue head: if grantable now, set its event."
func (m *LockManager) wakeHeadLocked(resource string) {
	q := m.waitQueue[resource]
	for len(q) > 0 {
		head := q[0]
		if _, stillActive := m.activeLocked(head.txid); !stillActive {
			q = q[1:]
			continue
		}
		if m.grantableLocked(resource, head.action, head.txid) {
			if ev, ok := m.events[head.txid]; ok {
				ev.Set()
			}
			q = q[1:]
			m.waitQueue[resource] = q
			return
		}
		break
	}
	m.waitQueue[resource] = q
}

func (m *LockManager) grantableLocked(resource string, action Action, txid int64) bool {
	holder, hasExclusive := m.exclusive[resource]
	if hasExclusive && holder != txid {
		return false
	}
	if action == Read {
		return true
	}
	holders := m.shared[resource]
	if len(holders) == 0 {
		return true
	}
	if len(holders) == 1 {
		_, ok := holders[txid]
		return ok
	}
	return false
}
