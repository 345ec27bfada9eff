// Command catapultbroker runs the broker scheduler (NEW SPEC_FULL.md
// §4.11): one independently-ticking goroutine per spool queue, replaying
// published messages into in-process subscriber stubs. Matches the
// process split in
// original_source/client/catapult/src/catapult/process/broker/main.cpp,
// which hosts a broker-disposition bootstrapper distinct from both the
// server and recovery processes.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgerwatch/catapult/broker"
	"github.com/ledgerwatch/catapult/cache"
	"github.com/ledgerwatch/catapult/config"
	"github.com/ledgerwatch/catapult/internal/catlog"
	"github.com/ledgerwatch/catapult/metrics"
	"github.com/ledgerwatch/catapult/subscribers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	dataDirFlag     string
	metricsAddrFlag string
	pollIntervalMs  int
)

func init() {
	rootCmd.Flags().StringVar(&dataDirFlag, "datadir", "", "path to the catapult data directory (required)")
	rootCmd.Flags().StringVar(&metricsAddrFlag, "metrics-addr", "127.0.0.1:9103", "address to serve Prometheus metrics on")
	rootCmd.Flags().IntVar(&pollIntervalMs, "poll-interval-ms", 50, "per-queue poll interval, in milliseconds")
}

var rootCmd = &cobra.Command{
	Use:   "catapultbroker",
	Short: "Run the broker scheduler that drains spool queues into subscribers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if dataDirFlag == "" {
			return fmt.Errorf("catapultbroker: --datadir is required")
		}
		return run(dataDirFlag, metricsAddrFlag, time.Duration(pollIntervalMs)*time.Millisecond)
	},
}

func run(root, metricsAddr string, pollInterval time.Duration) error {
	log := catlog.New("component", "catapultbroker")

	dataDir, err := config.Prepare(root)
	if err != nil {
		return fmt.Errorf("catapultbroker: prepare data directory: %w", err)
	}
	registry := cache.NewRegistry(cache.NewLengthPrefixedStorage(1))

	blockChange, err := subscribers.NewFileBlockChangeSubscriber(dataDir)
	if err != nil {
		return fmt.Errorf("catapultbroker: open block-change queue: %w", err)
	}
	utChange, err := subscribers.NewFileUTChangeSubscriber(dataDir)
	if err != nil {
		return fmt.Errorf("catapultbroker: open ut-change queue: %w", err)
	}
	ptChange, err := subscribers.NewFilePTChangeSubscriber(dataDir)
	if err != nil {
		return fmt.Errorf("catapultbroker: open pt-change queue: %w", err)
	}
	finalization, err := subscribers.NewFileFinalizationSubscriber(dataDir)
	if err != nil {
		return fmt.Errorf("catapultbroker: open finalization queue: %w", err)
	}
	transactionStatus, err := subscribers.NewFileTransactionStatusSubscriber(dataDir)
	if err != nil {
		return fmt.Errorf("catapultbroker: open transaction-status queue: %w", err)
	}
	stateChange, err := subscribers.NewFileStateChangeSubscriber(dataDir, registry)
	if err != nil {
		return fmt.Errorf("catapultbroker: open state-change queue: %w", err)
	}

	b := broker.New(dataDir, registry, broker.Subscribers{
		BlockChange:       blockChange,
		UTChange:          utChange,
		PTChange:          ptChange,
		Finalization:      finalization,
		TransactionStatus: transactionStatus,
		StateChange:       stateChange,
	}, pollInterval)

	quit := make(chan struct{})
	go b.Run(quit)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "err", err)
		}
	}()
	log.Info("catapultbroker started", "datadir", root, "metrics-addr", metricsAddr, "poll-interval", pollInterval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	close(quit)
	return httpServer.Close()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		catlog.New().Crit("catapultbroker failed", "err", err)
		os.Exit(1)
	}
}
