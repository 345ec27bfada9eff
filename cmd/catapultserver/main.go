// Command catapultserver is the normal-operation node process
// (component I over component M): it applies blocks through the
// commit-step protocol and periodically flushes the batching UT/PT
// subscribers, exposing the component L metrics registry over HTTP.
// Matches the process split in
// original_source/client/catapult/src/catapult/process/server/main.cpp,
// which wires a LocalNode against an already-bootstrapped data directory
// and otherwise does no application logic of its own.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgerwatch/catapult/cache"
	"github.com/ledgerwatch/catapult/config"
	"github.com/ledgerwatch/catapult/internal/catlog"
	"github.com/ledgerwatch/catapult/metrics"
	"github.com/ledgerwatch/catapult/server"
	"github.com/ledgerwatch/catapult/storage"
	"github.com/ledgerwatch/catapult/subscribers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	dataDirFlag     string
	metricsAddrFlag string
	flushIntervalMs int
)

func init() {
	rootCmd.Flags().StringVar(&dataDirFlag, "datadir", "", "path to the catapult data directory (required)")
	rootCmd.Flags().StringVar(&metricsAddrFlag, "metrics-addr", "127.0.0.1:9102", "address to serve Prometheus metrics on")
	rootCmd.Flags().IntVar(&flushIntervalMs, "flush-interval-ms", 1000, "UT/PT subscriber flush interval, in milliseconds")
}

var rootCmd = &cobra.Command{
	Use:   "catapultserver",
	Short: "Run the normal-operation catapult node process",
	RunE: func(cmd *cobra.Command, args []string) error {
		if dataDirFlag == "" {
			return fmt.Errorf("catapultserver: --datadir is required")
		}
		return run(dataDirFlag, metricsAddrFlag, time.Duration(flushIntervalMs)*time.Millisecond)
	},
}

func run(root, metricsAddr string, flushInterval time.Duration) error {
	log := catlog.New("component", "catapultserver")

	dataDir, err := config.Prepare(root)
	if err != nil {
		return fmt.Errorf("catapultserver: prepare data directory: %w", err)
	}

	registry := cache.NewRegistry(cache.NewLengthPrefixedStorage(1))

	blockIndex, err := storage.OpenBlockIndex(dataDir.RootDir().File("index.mdb"))
	if err != nil {
		return fmt.Errorf("catapultserver: open block index: %w", err)
	}
	defer blockIndex.Close()
	hotCache := storage.NewBlockHotCache(64 << 20)

	canonical := storage.NewBlockStorage(dataDir.RootDir().Str(), storage.WithBlockIndex(blockIndex), storage.WithHotCache(hotCache))
	staged := storage.NewBlockStorage(dataDir.SpoolDir("block_sync").Str())
	state := storage.NewStateStorage(dataDir.RootDir().Str())

	blockChange, err := subscribers.NewFileBlockChangeSubscriber(dataDir)
	if err != nil {
		return fmt.Errorf("catapultserver: open block-change queue: %w", err)
	}
	stateChange, err := subscribers.NewFileStateChangeSubscriber(dataDir, registry)
	if err != nil {
		return fmt.Errorf("catapultserver: open state-change queue: %w", err)
	}
	utChange, err := subscribers.NewFileUTChangeSubscriber(dataDir)
	if err != nil {
		return fmt.Errorf("catapultserver: open ut-change queue: %w", err)
	}
	ptChange, err := subscribers.NewFilePTChangeSubscriber(dataDir)
	if err != nil {
		return fmt.Errorf("catapultserver: open pt-change queue: %w", err)
	}

	node := server.New(dataDir, canonical, staged, state, registry, server.Subscribers{
		BlockChange: blockChange,
		StateChange: stateChange,
	}, utChange, ptChange)

	quit := make(chan struct{})
	go node.RunPeriodicFlush(flushInterval, quit)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "err", err)
		}
	}()
	log.Info("catapultserver started", "datadir", root, "metrics-addr", metricsAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	close(quit)
	return httpServer.Close()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		catlog.New().Crit("catapultserver failed", "err", err)
		os.Exit(1)
	}
}
