package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/cuemby/ledger/pkg/log"
	"github.com/cuemby/ledger/pkg/metrics"
	"github.com/cuemby/ledger/pkg/types"
	"github.com/rs/zerolog"
)

// WAL is the append-only, NDJSON-backed Write-Ahead Log (spec.md §4.4).
// Grounded on the teacher's single-mutex-guarded *os.File pattern (see
// _examples/other_examples' recovery.go RecoveryManager) and on
// original_source/FailureRecoveryManager._append_json_line, which this
// mirrors: append a JSON line, flush (fsync), keep a running LSN counter.
type WAL struct {
	mu         sync.Mutex
	file       *os.File
	nextLSN    int64
	flushedLSN int64
	sinceCkpt  int
	ckptEvery  int

	log zerolog.Logger
}

// DefaultCheckpointInterval is the number of buffered (appended but not
// yet checkpointed) records after which ShouldCheckpoint starts reporting
// true; overridable per-instance via SetCheckpointInterval (the `ledger
// serve --checkpoint-interval` flag).
const DefaultCheckpointInterval = 200

// Open opens (creating if absent) the WAL file at path and primes the LSN
// counter from its current contents so a restarted process continues the
// same LSN sequence rather than restarting at zero.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	w := &WAL{file: f, ckptEvery: DefaultCheckpointInterval, log: log.WithComponent("wal")}
	lastLSN, err := scanLastLSN(path)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: scan %s: %w", path, err)
	}
	w.nextLSN = lastLSN
	w.flushedLSN = lastLSN
	return w, nil
}

func scanLastLSN(path string) (int64, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var last int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec types.LogRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.LSN > last {
			last = rec.LSN
		}
	}
	return last, scanner.Err()
}

// Append assigns the next LSN to rec and writes it to the in-memory file
// buffer. It does not fsync; callers that need durability call Flush.
func (w *WAL) Append(rec types.LogRecord) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextLSN++
	rec.LSN = w.nextLSN

	line, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("wal: marshal record: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.file.Write(line); err != nil {
		return 0, fmt.Errorf("wal: write record: %w", err)
	}

	metrics.WALRecordsTotal.WithLabelValues(string(rec.Kind)).Inc()
	w.sinceCkpt++
	return rec.LSN, nil
}

// Flush fsyncs the log file and advances flushedLSN. The WAL ordering
// contract (spec.md §5) requires a COMMIT record be flushed before the
// processor reports success to the client.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	timer := metrics.NewTimer()
	err := w.file.Sync()
	timer.ObserveDuration(metrics.WALFlushDuration)
	if err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	w.flushedLSN = w.nextLSN
	return nil
}

// FlushedLSN returns the highest LSN known durable.
func (w *WAL) FlushedLSN() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushedLSN
}

// ShouldCheckpoint reports whether enough records have accumulated since
// the last checkpoint to warrant writing a new one.
func (w *WAL) ShouldCheckpoint() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sinceCkpt >= w.ckptEvery
}

// SetCheckpointInterval overrides the default checkpoint threshold.
func (w *WAL) SetCheckpointInterval(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ckptEvery = n
}

// Checkpoint appends a CHECKPOINT record carrying redoLSN (the first LSN
// not yet known-applied to storage) and flushes the log.
func (w *WAL) Checkpoint(redoLSN int64) (int64, error) {
	lsn, err := w.Append(types.LogRecord{Kind: types.LogCheckpoint, RedoLSN: redoLSN})
	if err != nil {
		return 0, err
	}
	if err := w.Flush(); err != nil {
		return 0, err
	}
	w.mu.Lock()
	w.sinceCkpt = 0
	w.mu.Unlock()
	return lsn, nil
}

// Close flushes and closes the underlying file.
func (w *WAL) Close() error {
	_ = w.Flush()
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
