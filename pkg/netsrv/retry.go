package netsrv

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cuemby/ledger/pkg/ccm"
	"github.com/cuemby/ledger/pkg/executor"
	"github.com/cuemby/ledger/pkg/log"
	"github.com/cuemby/ledger/pkg/metrics"
	"github.com/cuemby/ledger/pkg/txn"
	"github.com/cuemby/ledger/pkg/types"
	"github.com/rs/zerolog"
)

// retryTimeout is the bounded safety-net wait spec.md §5 calls for ("on
// timeout the dispatcher re-tries the query anyway"), applied per
// dequeued item before re-invoking its statement unconditionally.
const retryTimeout = 30 * time.Second

// retryItem is one statement queued after a WAITING result, keyed by the
// transaction whose wait event the dispatcher blocks on.
type retryItem struct {
	txid       int64
	clientID   string
	query      string
	conn       io.Writer
	writeMu    *sync.Mutex
	autoCommit bool
}

// Dispatcher is spec.md §4.5's single retry-dispatcher task: a FIFO queue
// (priority = enqueue order, since enqueue order already is enqueue
// timestamp order) drained by one goroutine that waits on each item's
// transaction event, bounded by retryTimeout, then re-executes.
type Dispatcher struct {
	mu       sync.Mutex
	items    []*retryItem
	notify   chan struct{}
	stopCh   chan struct{}
	manager  ccm.Manager
	registry *txn.Registry
	log      zerolog.Logger
}

// NewDispatcher builds a Dispatcher over manager and registry.
func NewDispatcher(manager ccm.Manager, registry *txn.Registry) *Dispatcher {
	return &Dispatcher{
		notify:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		manager:  manager,
		registry: registry,
		log:      log.WithComponent("retry-dispatcher"),
	}
}

// Enqueue adds item to the tail of the queue and wakes Run if it is idle.
func (d *Dispatcher) Enqueue(item *retryItem) {
	d.mu.Lock()
	d.items = append(d.items, item)
	d.mu.Unlock()
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Depth reports the current queue length, for metrics.StatsSource.
func (d *Dispatcher) Depth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func (d *Dispatcher) popOldest() *retryItem {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return nil
	}
	item := d.items[0]
	d.items = d.items[1:]
	return item
}

// DrainForTxID removes every still-queued (not currently being processed)
// item belonging to txid and answers each with an aborted response,
// per spec.md §5: "processing rollback... drains its retry items with an
// aborted response." The item actively being waited on (if any) is woken
// by the caller Set()ing its WaitEvent before calling DrainForTxID, and
// resolves itself through the normal Status check in run/process.
func (d *Dispatcher) DrainForTxID(txid int64) {
	d.mu.Lock()
	var remaining, drained []*retryItem
	for _, item := range d.items {
		if item.txid == txid {
			drained = append(drained, item)
		} else {
			remaining = append(remaining, item)
		}
	}
	d.items = remaining
	d.mu.Unlock()

	for _, item := range drained {
		resp := Response{Success: false, TransactionID: item.txid, Retried: true, Message: "transaction rolled back"}
		if err := writeFrame(item.conn, item.writeMu, resp); err != nil {
			d.log.Debug().Err(err).Int64("txid", item.txid).Msg("failed to write drained retry response")
		}
		metrics.RetriesTotal.WithLabelValues("aborted").Inc()
	}
}

// Stop halts Run.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
}

// Run drains the queue until Stop is called, processing one item fully
// (wait, then re-execute, then respond) before dequeuing the next — the
// single-task serialization spec.md §4.5 describes.
func (d *Dispatcher) Run() {
	for {
		item := d.popOldest()
		if item == nil {
			select {
			case <-d.notify:
			case <-d.stopCh:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		select {
		case <-d.stopCh:
			return
		default:
		}
		d.process(item)
	}
}

func (d *Dispatcher) process(item *retryItem) {
	if ev, ok := d.manager.WaitEvent(item.txid); ok {
		timer := metrics.NewTimer()
		select {
		case <-ev.Channel():
		case <-time.After(retryTimeout):
			d.log.Warn().Int64("txid", item.txid).Msg("retry wait timed out, retrying anyway")
		}
		timer.ObserveDuration(metrics.LockWaitDuration)
	}

	if status, ok := d.manager.Status(item.txid); !ok || status != types.StatusActive {
		resp := Response{Success: false, TransactionID: item.txid, Retried: true, Message: "transaction no longer active"}
		if err := writeFrame(item.conn, item.writeMu, resp); err != nil {
			d.log.Debug().Err(err).Int64("txid", item.txid).Msg("failed to write aborted retry response")
		}
		metrics.RetriesTotal.WithLabelValues("aborted").Inc()
		return
	}

	res, _, err := d.registry.ExecuteQuery(item.txid, item.clientID, item.query)

	var waitErr *executor.WaitingError
	if errors.As(err, &waitErr) {
		metrics.RetriesTotal.WithLabelValues("requeued").Inc()
		d.Enqueue(item)
		return
	}

	if item.autoCommit {
		if err != nil {
			if rbErr := d.registry.RollbackTransaction(item.txid); rbErr != nil {
				d.log.Error().Err(rbErr).Int64("txid", item.txid).Msg("retry rollback failed")
			}
		} else if cErr := d.registry.CommitTransaction(item.txid); cErr != nil {
			err = cErr
		}
	}

	resp := buildExecuteResponse(item.txid, res, err)
	resp.Retried = true
	if werr := writeFrame(item.conn, item.writeMu, resp); werr != nil {
		d.log.Debug().Err(werr).Int64("txid", item.txid).Msg("failed to write retry response")
	}
	if err != nil {
		metrics.RetriesTotal.WithLabelValues("error").Inc()
	} else {
		metrics.RetriesTotal.WithLabelValues("success").Inc()
	}
}
