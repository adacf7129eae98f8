package main

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/cuemby/ledger/pkg/netsrv"
	"github.com/cuemby/ledger/pkg/types"
	"github.com/spf13/cobra"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Interactive REPL client for a ledger server",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("server")
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", addr, err)
		}
		defer conn.Close()

		repl := &replSession{conn: conn, scanner: bufio.NewScanner(os.Stdin)}
		repl.run()
		return nil
	},
}

func init() {
	clientCmd.Flags().String("server", "127.0.0.1:50051", "ledger server address")
}

// replSession is the thin interactive client of spec.md §6's CLI surface:
// begin/commit/rollback/show tables/show data/analyze/defragment plus raw
// SQL terminated by ';'.
type replSession struct {
	conn          net.Conn
	scanner       *bufio.Scanner
	transactionID int64
	pending       strings.Builder
}

func (r *replSession) run() {
	fmt.Println("ledger client. Type 'help' for commands, 'exit' to quit.")
	for {
		r.prompt()
		if !r.scanner.Scan() {
			return
		}
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		if r.pending.Len() == 0 {
			if r.handleCommand(line) {
				continue
			}
		}
		r.pending.WriteString(line)
		r.pending.WriteByte(' ')
		if strings.HasSuffix(line, ";") {
			r.executeSQL(strings.TrimSuffix(strings.TrimSpace(r.pending.String()), ";"))
			r.pending.Reset()
		}
	}
}

func (r *replSession) prompt() {
	if r.transactionID != 0 {
		fmt.Printf("ledger[txn %d]> ", r.transactionID)
		return
	}
	fmt.Print("ledger> ")
}

// handleCommand dispatches a non-SQL control command. Returns false if line
// should instead be buffered as the start of a raw SQL statement.
func (r *replSession) handleCommand(line string) bool {
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "exit", "quit":
		os.Exit(0)
	case "help":
		printHelp()
	case "begin":
		resp := r.send(netsrv.Request{Type: "begin"})
		if resp.Success {
			r.transactionID = resp.TransactionID
			fmt.Printf("Transaction %d started\n", resp.TransactionID)
		} else {
			printError(resp)
		}
	case "commit":
		resp := r.send(netsrv.Request{Type: "commit", TransactionID: r.transactionID})
		printResult(resp)
		r.transactionID = 0
	case "rollback":
		resp := r.send(netsrv.Request{Type: "rollback", TransactionID: r.transactionID})
		printResult(resp)
		r.transactionID = 0
	case "show":
		r.handleShow(fields)
	case "analyze":
		if len(fields) < 2 {
			fmt.Println("usage: analyze <table>")
			return true
		}
		printResult(r.send(netsrv.Request{Type: "analyze", TableName: fields[1]}))
	case "defragment":
		if len(fields) < 2 {
			fmt.Println("usage: defragment <table>")
			return true
		}
		printResult(r.send(netsrv.Request{Type: "defragment", TableName: fields[1]}))
	default:
		return false
	}
	return true
}

func (r *replSession) handleShow(fields []string) {
	if len(fields) < 2 {
		fmt.Println("usage: show tables | show data <table>")
		return
	}
	switch strings.ToLower(fields[1]) {
	case "tables":
		printResult(r.send(netsrv.Request{Type: "catalog"}))
	case "data":
		if len(fields) < 3 {
			fmt.Println("usage: show data <table>")
			return
		}
		r.executeSQL(fmt.Sprintf("SELECT * FROM %s", fields[2]))
	default:
		fmt.Println("usage: show tables | show data <table>")
	}
}

func (r *replSession) executeSQL(query string) {
	if strings.TrimSpace(query) == "" {
		return
	}
	resp := r.send(netsrv.Request{Type: "execute", Query: query, TransactionID: r.transactionID})
	printResult(resp)
	if resp.QueuedForRetry {
		followUp := r.recv()
		fmt.Println("(retry completed)")
		printResult(followUp)
	}
}

func (r *replSession) send(req netsrv.Request) netsrv.Response {
	body, err := json.Marshal(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode error: %v\n", err)
		return netsrv.Response{Success: false}
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := r.conn.Write(lenBuf[:]); err != nil {
		fmt.Fprintf(os.Stderr, "write error: %v\n", err)
		return netsrv.Response{Success: false}
	}
	if _, err := r.conn.Write(body); err != nil {
		fmt.Fprintf(os.Stderr, "write error: %v\n", err)
		return netsrv.Response{Success: false}
	}
	return r.recv()
}

func (r *replSession) recv() netsrv.Response {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r.conn, lenBuf[:]); err != nil {
		fmt.Fprintf(os.Stderr, "read error: %v\n", err)
		return netsrv.Response{Success: false}
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r.conn, body); err != nil {
		fmt.Fprintf(os.Stderr, "read error: %v\n", err)
		return netsrv.Response{Success: false}
	}
	var resp netsrv.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "decode error: %v\n", err)
		return netsrv.Response{Success: false}
	}
	return resp
}

func printResult(resp netsrv.Response) {
	if !resp.Success {
		printError(resp)
		return
	}
	if resp.Rows != nil {
		printRows(resp.Rows.Columns, resp.Rows.Data)
	}
	if resp.AffectedRows > 0 {
		fmt.Printf("%d row(s) affected\n", resp.AffectedRows)
	}
	if resp.Message != "" {
		fmt.Println(resp.Message)
	}
	if resp.QueuedForRetry {
		fmt.Println("queued for retry, waiting on a lock...")
	}
}

func printRows(columns []string, data [][]types.Value) {
	fmt.Println(strings.Join(columns, " | "))
	for _, row := range data {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = v.String()
		}
		fmt.Println(strings.Join(cells, " | "))
	}
}

func printError(resp netsrv.Response) {
	if resp.Error != nil {
		fmt.Printf("Error: %s\n", *resp.Error)
		return
	}
	fmt.Println("Error: request failed")
}

func printHelp() {
	fmt.Println(`Commands:
  begin                start an explicit transaction
  commit                commit the current transaction
  rollback              roll back the current transaction
  show tables            list tables in the catalog
  show data <table>      select all rows from <table>
  analyze <table>        run maintenance analysis on <table>
  defragment <table>     run maintenance defragmentation on <table>
  help                   show this message
  exit                   leave the client
  <sql>;                 run a raw SQL statement ending in ';'`)
}
