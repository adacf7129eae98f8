package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cuemby/ledger/pkg/ccm"
	"github.com/cuemby/ledger/pkg/log"
	"github.com/cuemby/ledger/pkg/metrics"
	"github.com/cuemby/ledger/pkg/netsrv"
	"github.com/cuemby/ledger/pkg/storage"
	"github.com/cuemby/ledger/pkg/txn"
	"github.com/cuemby/ledger/pkg/types"
	"github.com/cuemby/ledger/pkg/wal"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledger",
	Short: "ledger - a single-node transactional SQL server",
	Long: `ledger is a single-node relational database server that accepts SQL
over a length-prefixed JSON socket protocol and provides ACID-style
transactions under a pluggable concurrency-control protocol.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ledger version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(clientCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a ledger server",
	RunE: func(cmd *cobra.Command, args []string) error {
		protocolFlag, _ := cmd.Flags().GetString("protocol")
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		checkpointInterval, _ := cmd.Flags().GetInt("checkpoint-interval")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		protocol := types.Protocol(protocolFlag)
		switch protocol {
		case types.ProtocolLock, types.ProtocolTimestamp, types.ProtocolValidation:
		default:
			return fmt.Errorf("unknown --protocol %q (want lock, timestamp, or validation)", protocolFlag)
		}

		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}

		store, err := storage.Open(dataDir)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		walPath := filepath.Join(dataDir, "ledger.wal")
		w, err := wal.Open(walPath)
		if err != nil {
			return fmt.Errorf("open wal: %w", err)
		}
		defer w.Close()
		w.SetCheckpointInterval(checkpointInterval)

		manager, err := ccm.New(protocol)
		if err != nil {
			return fmt.Errorf("build concurrency manager: %w", err)
		}

		registry := txn.New(store, manager, w)
		applied, err := registry.Recover(walPath)
		if err != nil {
			return fmt.Errorf("recover from wal: %w", err)
		}
		if applied > 0 {
			fmt.Printf("Recovered %d WAL records\n", applied)
		}

		server := netsrv.New(registry, manager)

		metricsCollector := metrics.NewCollector(registry)
		metricsCollector.Start()
		defer metricsCollector.Stop()

		go func() {
			http.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(metricsAddr, nil); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()

		addr := fmt.Sprintf("%s:%d", host, port)
		errCh := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(addr); err != nil {
				errCh <- err
			}
		}()
		<-server.Ready()

		printBanner(server.Addr().String(), protocol, dataDir, metricsAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nServer error: %v\n", err)
		}

		if err := server.Close(); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		fmt.Println("Shutdown complete")
		return nil
	},
}

func printBanner(addr string, protocol types.Protocol, dataDir, metricsAddr string) {
	fmt.Println()
	fmt.Println("-----------------------------------------------")
	fmt.Println("  ledger server")
	fmt.Println("-----------------------------------------------")
	fmt.Printf("  Listening:  %s\n", addr)
	fmt.Printf("  Protocol:   %s\n", protocol)
	fmt.Printf("  Data dir:   %s\n", dataDir)
	fmt.Printf("  Metrics:    http://%s/metrics\n", metricsAddr)
	fmt.Println("-----------------------------------------------")
	fmt.Println()
	fmt.Println("Server is running. Press Ctrl+C to stop.")
}

func init() {
	serveCmd.Flags().String("protocol", "lock", "Concurrency control protocol: lock, timestamp, or validation")
	serveCmd.Flags().String("host", "127.0.0.1", "Bind host")
	serveCmd.Flags().Int("port", 50051, "Bind port")
	serveCmd.Flags().String("data-dir", "./ledger-data", "Data directory")
	serveCmd.Flags().Int("checkpoint-interval", wal.DefaultCheckpointInterval, "WAL records between checkpoints")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Prometheus metrics listen address")
}
