package ccm

import (
	"github.com/cuemby/ledger/pkg/log"
	"github.com/cuemby/ledger/pkg/metrics"
	"github.com/cuemby/ledger/pkg/types"
	"github.com/rs/zerolog"
)

// committedRecord is one row of the committed-records log backward
// validation consults (spec.md §4.1.3's "Validation Record").
type committedRecord struct {
	startTS  int64
	finishTS int64
	writeSet map[string]struct{}
}

// ValidationManager implements Backward Validation OCC (spec.md §4.1.3).
// Reads and writes proceed optimistically during the ACTIVE phase; the
// conflict check happens once, at Commit.
type ValidationManager struct {
	base
	log zerolog.Logger

	clock        int64 // assigns validation_ts/finish_ts, independent of txid
	validationTS map[int64]int64 // txid -> validation_ts assigned at Commit
	committed    []committedRecord
}

// NewValidationManager constructs an empty Backward-Validation OCC CCM.
func NewValidationManager() *ValidationManager {
	return &ValidationManager{
		base:         newBase(),
		log:          log.WithComponent("ccm-validation"),
		validationTS: make(map[int64]int64),
	}
}

func (m *ValidationManager) Protocol() types.Protocol { return types.ProtocolValidation }

func (m *ValidationManager) Begin(clientID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn := m.beginLocked(clientID)
	return txn.ID
}

// Query never blocks and never fails under OCC: conflicts surface only at
// Commit. It just accumulates the read/write set.
func (m *ValidationManager) Query(txid int64, action Action, resource string) QueryResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.activeLocked(txid)
	if !ok {
		return QueryResult{Outcome: Failed, Err: ErrNotActive}
	}
	if action == Read {
		txn.ReadSet[resource] = struct{}{}
	} else {
		txn.WriteSet[resource] = struct{}{}
	}
	return QueryResult{Outcome: Granted}
}

// Commit runs backward validation: T fails if its read-set intersects the
// write-set of any transaction T' that committed with start_ts(T) <=
// finish_ts(T') <= validation_ts(T).
func (m *ValidationManager) Commit(txid int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.activeLocked(txid)
	if !ok {
		return ErrNotActive
	}

	m.clock++
	validationTS := m.clock

	for _, cr := range m.committed {
		if cr.finishTS < txn.Timestamp || cr.finishTS > validationTS {
			continue
		}
		if intersects(txn.ReadSet, cr.writeSet) {
			txn.Status = types.StatusFailed
			metrics.ValidationFailuresTotal.Inc()
			return ErrValidationFailure
		}
	}

	m.validationTS[txid] = validationTS
	txn.Status = types.StatusPartiallyCommitted
	return nil
}

func intersects(a, b map[string]struct{}) bool {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	for k := range small {
		if _, ok := large[k]; ok {
			return true
		}
	}
	return false
}

func (m *ValidationManager) CommitFlushed(txid int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactionLocked(txid)
	if !ok || txn.Status != types.StatusPartiallyCommitted {
		return ErrNotActive
	}

	m.clock++
	finishTS := m.clock
	writeSet := make(map[string]struct{}, len(txn.WriteSet))
	for k := range txn.WriteSet {
		writeSet[k] = struct{}{}
	}
	m.committed = append(m.committed, committedRecord{
		startTS:  txn.Timestamp,
		finishTS: finishTS,
		writeSet: writeSet,
	})
	delete(m.validationTS, txid)
	txn.Status = types.StatusCommitted
	return nil
}

func (m *ValidationManager) Rollback(txid int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactionLocked(txid)
	if !ok {
		return ErrTransactionNotFound
	}
	txn.Status = types.StatusFailed
	return nil
}

func (m *ValidationManager) Abort(txid int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactionLocked(txid)
	if !ok {
		return ErrTransactionNotFound
	}
	delete(m.validationTS, txid)
	txn.Status = types.StatusAborted
	return nil
}

func (m *ValidationManager) End(txid int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endLocked(txid)
}
