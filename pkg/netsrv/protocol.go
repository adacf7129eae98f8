/*
Package netsrv is the Network Server & Retry Dispatcher of spec.md §4.5: a
length-prefixed JSON socket server where each connection is served by one
worker goroutine that never blocks on locks, backed by a single retry
dispatcher goroutine that wakes blocked statements via pkg/ccm's
Wait/Wake Registry and pushes unsolicited follow-up responses.

Grounded on the teacher's pkg/api/server.go accept-loop/per-connection
shape (net.Listen, one goroutine per accepted connection), generalized
from gRPC+mTLS framing to spec.md §6's raw length-prefixed JSON framing.
*/
package netsrv

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/ledger/pkg/types"
)

// maxFrameSize bounds a single request/response body, guarding against a
// corrupt or hostile length prefix forcing an unbounded allocation.
const maxFrameSize = 16 * 1024 * 1024

// Request is one decoded client frame, per spec.md §6's request schema.
type Request struct {
	Type          string `json:"type"`
	Query         string `json:"query,omitempty"`
	TransactionID int64  `json:"transaction_id,omitempty"`
	TableName     string `json:"table_name,omitempty"`
}

// Response is one encoded server frame, per spec.md §6's response schema.
type Response struct {
	Success               bool        `json:"success"`
	Error                 *string     `json:"error,omitempty"`
	Message               string      `json:"message,omitempty"`
	TransactionID         int64       `json:"transaction_id,omitempty"`
	AffectedRows          int64       `json:"affected_rows,omitempty"`
	Rows                  *types.Rows `json:"rows,omitempty"`
	QueuedForRetry        bool        `json:"queued_for_retry,omitempty"`
	Retried               bool        `json:"retried,omitempty"`
	OriginalTransactionID int64       `json:"original_transaction_id,omitempty"`
}

func errString(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}

// readFrame reads one `uint32 BE length || JSON body` frame.
func readFrame(r io.Reader) (Request, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Request{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return Request{}, fmt.Errorf("netsrv: frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Request{}, err
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Request{}, fmt.Errorf("netsrv: decode request: %w", err)
	}
	return req, nil
}

// writeFrame marshals resp and writes it as one length-prefixed frame.
// mu serializes writes from the connection's own worker goroutine against
// the retry dispatcher's unsolicited follow-up writes on the same socket.
func writeFrame(w io.Writer, mu *sync.Mutex, resp Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("netsrv: encode response: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	mu.Lock()
	defer mu.Unlock()
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}
