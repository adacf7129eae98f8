package ccm

import (
	"github.com/cuemby/ledger/pkg/log"
	"github.com/cuemby/ledger/pkg/types"
	"github.com/rs/zerolog"
)

type tsState struct {
	readTS  int64
	writeTS int64
}

// TimestampManager implements Timestamp-Ordering with the Thomas Write
// Rule (spec.md §4.1.2). Never waits: every query is decided immediately,
// so the Wait/Wake Registry exists only for interface uniformity with the
// other two variants (spec.md: "Wait events exist for API uniformity but
// are unused").
type TimestampManager struct {
	base
	log zerolog.Logger

	resources map[string]*tsState
}

// NewTimestampManager constructs an empty Timestamp-Ordering CCM.
func NewTimestampManager() *TimestampManager {
	return &TimestampManager{
		base:      newBase(),
		log:       log.WithComponent("ccm-timestamp"),
		resources: make(map[string]*tsState),
	}
}

func (m *TimestampManager) Protocol() types.Protocol { return types.ProtocolTimestamp }

func (m *TimestampManager) Begin(clientID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn := m.beginLocked(clientID)
	return txn.ID
}

func (m *TimestampManager) stateLocked(resource string) *tsState {
	st, ok := m.resources[resource]
	if !ok {
		st = &tsState{}
		m.resources[resource] = st
	}
	return st
}

func (m *TimestampManager) Query(txid int64, action Action, resource string) QueryResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.activeLocked(txid)
	if !ok {
		return QueryResult{Outcome: Failed, Err: ErrNotActive}
	}

	st := m.stateLocked(resource)
	if action == Read {
		if txn.Timestamp < st.writeTS {
			txn.Status = types.StatusFailed
			return QueryResult{Outcome: Failed, Err: ErrTimestampTooOld}
		}
		if txn.Timestamp > st.readTS {
			st.readTS = txn.Timestamp
		}
		txn.ReadSet[resource] = struct{}{}
		return QueryResult{Outcome: Granted}
	}

	// Write.
	if txn.Timestamp < st.readTS {
		txn.Status = types.StatusFailed
		return QueryResult{Outcome: Failed, Err: ErrTimestampTooOld}
	}
	if txn.Timestamp < st.writeTS {
		// Thomas Write Rule: accept but ignore; state is not updated and
		// the executor must skip applying this particular write.
		txn.WriteSet[resource] = struct{}{}
		return QueryResult{Outcome: GrantedIgnored}
	}
	st.writeTS = txn.Timestamp
	txn.WriteSet[resource] = struct{}{}
	return QueryResult{Outcome: Granted}
}

func (m *TimestampManager) Commit(txid int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.activeLocked(txid)
	if !ok {
		return ErrNotActive
	}
	txn.Status = types.StatusPartiallyCommitted
	return nil
}

func (m *TimestampManager) CommitFlushed(txid int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactionLocked(txid)
	if !ok || txn.Status != types.StatusPartiallyCommitted {
		return ErrNotActive
	}
	txn.Status = types.StatusCommitted
	return nil
}

func (m *TimestampManager) Rollback(txid int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactionLocked(txid)
	if !ok {
		return ErrTransactionNotFound
	}
	txn.Status = types.StatusFailed
	return nil
}

func (m *TimestampManager) Abort(txid int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactionLocked(txid)
	if !ok {
		return ErrTransactionNotFound
	}
	txn.Status = types.StatusAborted
	return nil
}

func (m *TimestampManager) End(txid int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endLocked(txid)
}
