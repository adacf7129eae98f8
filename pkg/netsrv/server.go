package netsrv

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"unicode"

	"github.com/cuemby/ledger/pkg/ccm"
	"github.com/cuemby/ledger/pkg/executor"
	"github.com/cuemby/ledger/pkg/log"
	"github.com/cuemby/ledger/pkg/metrics"
	"github.com/cuemby/ledger/pkg/txn"
	"github.com/cuemby/ledger/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Server is the Network Server of spec.md §4.5: a length-prefixed JSON
// socket listener, one worker goroutine per accepted connection, and the
// retry Dispatcher those workers hand WAITING statements off to.
type Server struct {
	registry   *txn.Registry
	manager    ccm.Manager
	dispatcher *Dispatcher
	listener   net.Listener
	log        zerolog.Logger
	wg         sync.WaitGroup
	stopCh     chan struct{}
	ready      chan struct{}
}

// New builds a Server over registry and manager, wiring the retry
// dispatcher's depth into registry's metrics.StatsSource.
func New(registry *txn.Registry, manager ccm.Manager) *Server {
	d := NewDispatcher(manager, registry)
	registry.SetRetryDepthFunc(d.Depth)
	return &Server{
		registry:   registry,
		manager:    manager,
		dispatcher: d,
		log:        log.WithComponent("netsrv"),
		stopCh:     make(chan struct{}),
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the listener is bound, for callers that start
// ListenAndServe in a goroutine and need to wait before calling Addr.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// ListenAndServe starts the retry dispatcher and accepts connections on
// addr until Close is called.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("netsrv: listen %s: %w", addr, err)
	}
	s.listener = ln
	close(s.ready)

	go s.dispatcher.Run()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return nil
			default:
				return err
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Addr returns the listener's bound address. Only valid after
// ListenAndServe has started listening (e.g. from another goroutine).
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops accepting connections, halts the retry dispatcher, and
// waits for in-flight connection handlers to exit.
func (s *Server) Close() error {
	close(s.stopCh)
	s.dispatcher.Stop()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	clientID := uuid.New().String()
	writeMu := &sync.Mutex{}
	metrics.ConnectionsActive.Inc()
	defer func() {
		metrics.ConnectionsActive.Dec()
		conn.Close()
	}()
	s.log.Debug().Str("client", clientID).Msg("connection opened")

	for {
		req, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug().Err(err).Str("client", clientID).Msg("connection closed")
			}
			return
		}

		resp := s.handleRequest(clientID, conn, writeMu, req)
		if err := writeFrame(conn, writeMu, resp); err != nil {
			s.log.Debug().Err(err).Str("client", clientID).Msg("write failed, closing connection")
			return
		}

		switch req.Type {
		case "begin", "execute", "commit", "rollback", "analyze", "defragment", "catalog":
		default:
			// An unknown request type is a protocol error: it is answered
			// above, then the connection is closed.
			s.log.Debug().Str("client", clientID).Str("type", req.Type).Msg("unknown request type, closing connection")
			return
		}
	}
}

func (s *Server) handleRequest(clientID string, conn net.Conn, writeMu *sync.Mutex, req Request) Response {
	switch req.Type {
	case "begin":
		txid := s.registry.BeginTransaction(clientID)
		return Response{Success: true, TransactionID: txid}

	case "execute":
		return s.handleExecute(clientID, conn, writeMu, req)

	case "commit":
		err := s.registry.CommitTransaction(req.TransactionID)
		return Response{Success: err == nil, Error: errString(err), TransactionID: req.TransactionID}

	case "rollback":
		// Wake the transaction's own wait event first: spec.md §5 requires
		// rollback to be processed "even while the transaction has a
		// pending retry" — this unblocks a dispatcher goroutine that may be
		// parked in process()'s select on this exact event.
		if ev, ok := s.manager.WaitEvent(req.TransactionID); ok {
			ev.Set()
		}
		err := s.registry.RollbackTransaction(req.TransactionID)
		s.dispatcher.DrainForTxID(req.TransactionID)
		return Response{Success: err == nil, Error: errString(err), TransactionID: req.TransactionID}

	case "analyze", "defragment":
		// spec.md §7: "present in the wire protocol but storage effect is
		// stubbed in source" — no-op acknowledgement.
		return Response{Success: true, Message: fmt.Sprintf("%s acknowledged for %s", req.Type, req.TableName)}

	case "catalog":
		// Backs the `show tables` CLI convenience with a single column of
		// table names rather than a SQL verb the dialect doesn't have.
		tables, err := s.registry.Tables()
		if err != nil {
			return Response{Success: false, Error: errString(err)}
		}
		rows := make([][]types.Value, len(tables))
		for i, name := range tables {
			rows[i] = []types.Value{types.TextValue(name)}
		}
		return Response{Success: true, Rows: &types.Rows{Columns: []string{"table"}, Data: rows}}

	default:
		msg := fmt.Sprintf("unknown request type %q", req.Type)
		return Response{Success: false, Error: &msg}
	}
}

func (s *Server) handleExecute(clientID string, conn net.Conn, writeMu *sync.Mutex, req Request) Response {
	timer := metrics.NewTimer()
	res, effTxid, err := s.registry.ExecuteQuery(req.TransactionID, clientID, req.Query)

	var waitErr *executor.WaitingError
	if errors.As(err, &waitErr) {
		metrics.QueriesTotal.WithLabelValues("waiting").Inc()
		s.dispatcher.Enqueue(&retryItem{
			txid:       effTxid,
			clientID:   clientID,
			query:      req.Query,
			conn:       conn,
			writeMu:    writeMu,
			autoCommit: req.TransactionID == 0,
		})
		return Response{
			Success:        false,
			QueuedForRetry: true,
			Message:        fmt.Sprintf("waiting on %s", waitErr.Resource),
			TransactionID:  effTxid,
		}
	}

	timer.ObserveDurationVec(metrics.QueryDuration, statementKind(req.Query))
	resp := buildExecuteResponse(effTxid, res, err)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("error").Inc()
	} else {
		metrics.QueriesTotal.WithLabelValues("granted").Inc()
	}
	return resp
}

// statementKind extracts the leading keyword of a SQL statement for the
// ledger_query_duration_seconds{kind} label, without a full parse.
func statementKind(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	end := strings.IndexFunc(trimmed, unicode.IsSpace)
	if end < 0 {
		end = len(trimmed)
	}
	return strings.ToUpper(trimmed[:end])
}

// buildExecuteResponse converts an executor.Result/error pair into the
// wire Response shape shared by the initial request path and the retry
// dispatcher's follow-up path.
func buildExecuteResponse(txid int64, res *executor.Result, err error) Response {
	if err != nil {
		return Response{Success: false, Error: errString(err), TransactionID: txid}
	}
	resp := Response{Success: true, TransactionID: txid, AffectedRows: res.AffectedRows}
	if res.Rows != nil {
		resp.Rows = res.Rows
	}
	return resp
}
