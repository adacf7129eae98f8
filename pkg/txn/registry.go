/*
Package txn is the Transaction Registry & Query Processor of spec.md §4.3:
the component clients actually talk to. It owns the begin/commit/rollback
lifecycle on top of a pkg/ccm.Manager, auto-commits single statements that
arrive without an explicit transaction id, and drives pkg/executor +
pkg/wal through the ordering contract spec.md §5 mandates.

Grounded on the teacher's pkg/manager.Manager (a single coarse-mutex
façade coordinating several subsystems behind one API surface), adapted
from container-lifecycle orchestration to SQL-statement orchestration.
*/
package txn

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/cuemby/ledger/pkg/ccm"
	"github.com/cuemby/ledger/pkg/executor"
	"github.com/cuemby/ledger/pkg/log"
	"github.com/cuemby/ledger/pkg/plan"
	"github.com/cuemby/ledger/pkg/sql"
	"github.com/cuemby/ledger/pkg/storage"
	"github.com/cuemby/ledger/pkg/types"
	"github.com/cuemby/ledger/pkg/wal"
	"github.com/rs/zerolog"
)

// Registry is the Transaction Registry & Query Processor. One instance is
// created per server process, wrapping one Storage Facade, one CCM
// variant and one WAL.
type Registry struct {
	store *storage.Store
	ccm   ccm.Manager
	wal   *wal.WAL
	exec  *executor.Executor
	log   zerolog.Logger

	retryDepth func() int
}

// New builds a Registry. retryDepth is polled by RetryQueueDepth for
// metrics.StatsSource; pkg/netsrv supplies it once its retry dispatcher
// exists (SetRetryDepthFunc), so Registry itself never imports pkg/netsrv.
func New(store *storage.Store, manager ccm.Manager, w *wal.WAL) *Registry {
	return &Registry{
		store:      store,
		ccm:        manager,
		wal:        w,
		exec:       executor.New(store, manager, w),
		log:        log.WithComponent("txn"),
		retryDepth: func() int { return 0 },
	}
}

// SetRetryDepthFunc wires the live retry-queue depth into the Registry's
// metrics.StatsSource implementation.
func (r *Registry) SetRetryDepthFunc(f func() int) {
	r.retryDepth = f
}

// ActiveTransactions implements metrics.StatsSource.
func (r *Registry) ActiveTransactions() int {
	return r.ccm.ActiveTransactions()
}

// Tables lists every table currently in the catalog, for the `show
// tables` CLI convenience (original_source/cli.go's table-listing
// command).
func (r *Registry) Tables() ([]string, error) {
	return r.store.Tables()
}

// RetryQueueDepth implements metrics.StatsSource.
func (r *Registry) RetryQueueDepth() int {
	return r.retryDepth()
}

// BeginTransaction starts an explicit transaction (the client's `begin`
// command) and returns its id.
func (r *Registry) BeginTransaction(clientID string) int64 {
	txid := r.ccm.Begin(clientID)
	if _, err := r.wal.Append(types.LogRecord{TxID: txid, Kind: types.LogStart}); err != nil {
		r.log.Error().Err(err).Int64("txid", txid).Msg("failed to log transaction start")
	}
	return txid
}

// ExecuteQuery parses and runs sqlText. If txid is 0 the statement runs
// under an implicit auto-commit transaction: begin, execute, then commit
// on success or rollback on failure (spec.md §4.3's "ExecuteQuery"). The
// returned int64 is the transaction id the statement actually ran under —
// for txid==0 this is the freshly begun auto-commit transaction, which the
// caller (pkg/netsrv) must use to key a retry item if the result is a
// *executor.WaitingError: a WAITING outcome is not a failure, so the
// auto-commit transaction is deliberately left ACTIVE rather than rolled
// back, and the retry dispatcher resumes it later under this same id.
func (r *Registry) ExecuteQuery(txid int64, clientID, sqlText string) (*executor.Result, int64, error) {
	node, err := sql.Parse(sqlText)
	if err != nil {
		return nil, txid, err
	}

	if txid != 0 {
		if txn, ok := r.ccm.Transaction(txid); ok {
			txn.RecordQuery(sqlText)
		}
		res, err := r.exec.Execute(txid, node)
		return res, txid, err
	}

	autoTxid := r.BeginTransaction(clientID)
	if txn, ok := r.ccm.Transaction(autoTxid); ok {
		txn.RecordQuery(sqlText)
	}
	res, err := r.exec.Execute(autoTxid, node)
	if err != nil {
		var waitErr *executor.WaitingError
		if errors.As(err, &waitErr) {
			return nil, autoTxid, err
		}
		if rbErr := r.RollbackTransaction(autoTxid); rbErr != nil {
			r.log.Error().Err(rbErr).Int64("txid", autoTxid).Msg("auto-commit rollback failed")
		}
		return nil, autoTxid, err
	}
	if err := r.CommitTransaction(autoTxid); err != nil {
		return nil, autoTxid, err
	}
	return res, autoTxid, nil
}

// CommitTransaction implements spec.md §5's commit-flush ordering: mark
// PARTIALLY_COMMITTED, append and fsync a COMMIT record, then release
// locks via CommitFlushed, then terminate via End. An id that is no longer
// registered (e.g. already committed) gets ccm.ErrTransactionNotFound. If
// the COMMIT record cannot be appended or fsynced, the transaction is
// rolled back and the error returned.
func (r *Registry) CommitTransaction(txid int64) error {
	if _, ok := r.ccm.Status(txid); !ok {
		return ccm.ErrTransactionNotFound
	}
	if err := r.ccm.Commit(txid); err != nil {
		return err
	}
	_, err := r.wal.Append(types.LogRecord{TxID: txid, Kind: types.LogCommit})
	if err != nil {
		err = fmt.Errorf("txn: log commit for %d: %w", txid, err)
	} else if ferr := r.wal.Flush(); ferr != nil {
		err = fmt.Errorf("txn: flush commit for %d: %w", txid, ferr)
	}
	if err != nil {
		if rbErr := r.RollbackTransaction(txid); rbErr != nil {
			r.log.Error().Err(rbErr).Int64("txid", txid).Msg("rollback after failed commit flush failed")
		}
		return err
	}
	if err := r.ccm.CommitFlushed(txid); err != nil {
		return err
	}
	if err := r.ccm.End(txid); err != nil {
		return err
	}
	if r.wal.ShouldCheckpoint() {
		if _, err := r.wal.Checkpoint(r.wal.FlushedLSN()); err != nil {
			r.log.Error().Err(err).Msg("checkpoint failed")
		}
	}
	return nil
}

// RollbackTransaction marks the transaction FAILED, logs an ABORT record,
// releases its locks via Abort, then terminates it via End.
func (r *Registry) RollbackTransaction(txid int64) error {
	if err := r.ccm.Rollback(txid); err != nil {
		return err
	}
	if _, err := r.wal.Append(types.LogRecord{TxID: txid, Kind: types.LogAbort}); err != nil {
		r.log.Error().Err(err).Int64("txid", txid).Msg("failed to log abort record")
	}
	if err := r.ccm.Abort(txid); err != nil {
		return err
	}
	return r.ccm.End(txid)
}

// Recover replays the WAL against the Storage Facade at startup, per
// spec.md §4.4. The Apply callback re-invokes the facade's own row/schema
// methods rather than splicing raw bytes (see DESIGN.md's pkg/executor
// entry on why the WAL's Old/New payloads are JSON, not packed rows).
func (r *Registry) Recover(walPath string) (applied int, err error) {
	applied, _, err = wal.Recover(walPath, r.applyRecord)
	return applied, err
}

func (r *Registry) applyRecord(rec types.LogRecord) error {
	if rec.Key == "__schema__" {
		return r.applySchemaRecord(rec)
	}
	return r.applyRowRecord(rec)
}

func (r *Registry) applySchemaRecord(rec types.LogRecord) error {
	if len(rec.New) > 0 {
		var schema types.Schema
		if err := json.Unmarshal(rec.New, &schema); err != nil {
			return err
		}
		if err := r.store.CreateTable(schema); err != nil && !errors.Is(err, storage.ErrTableExists) {
			return err
		}
		return nil
	}
	if err := r.store.DropTable(rec.Table); err != nil && !errors.Is(err, storage.ErrTableNotFound) {
		return err
	}
	return nil
}

// applyRowRecord redoes one row mutation. UpdateRow falling back to
// InsertRow on ErrRowNotFound (and DeleteRow ignoring ErrRowNotFound)
// handles the common recovery case where
// the Storage Facade's own bbolt file is already durable beyond the WAL's
// last fsync point (bbolt commits each db.Update with its own fsync) — the
// "old" key the record names may never have existed in this file, so
// redo degrades to materializing the new values directly.
func (r *Registry) applyRowRecord(rec types.LogRecord) error {
	switch {
	case len(rec.Old) == 0 && len(rec.New) > 0:
		var values []types.Value
		if err := json.Unmarshal(rec.New, &values); err != nil {
			return err
		}
		_, err := r.store.InsertRow(rec.Table, values)
		return err
	case len(rec.Old) > 0 && len(rec.New) > 0:
		var values []types.Value
		if err := json.Unmarshal(rec.New, &values); err != nil {
			return err
		}
		rowID, err := rowIDFromKey(rec.Key)
		if err != nil {
			return err
		}
		if _, err := r.store.UpdateRow(rec.Table, rowID, values); err != nil {
			if errors.Is(err, storage.ErrRowNotFound) {
				_, err = r.store.InsertRow(rec.Table, values)
				return err
			}
			return err
		}
		return nil
	case len(rec.New) == 0:
		rowID, err := rowIDFromKey(rec.Key)
		if err != nil {
			return err
		}
		if err := r.store.DeleteRow(rec.Table, rowID); err != nil && !errors.Is(err, storage.ErrRowNotFound) {
			return err
		}
		return nil
	default:
		return fmt.Errorf("txn: unrecognized OP record shape for table %s key %s", rec.Table, rec.Key)
	}
}

func rowIDFromKey(key string) (uint64, error) {
	return strconv.ParseUint(key, 10, 64)
}

// Plan exposes the parsed plan.Node for callers (pkg/netsrv) that need to
// log or label a statement before executing it.
func Plan(sqlText string) (plan.Node, error) {
	return sql.Parse(sqlText)
}
