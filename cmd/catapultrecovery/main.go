// Command catapultrecovery runs the boot-time recovery orchestrator
// (component H, spec.md §4.8) once and exits, matching the three-binary
// split in original_source/client/catapult/src/catapult/process/{server,
// broker,recovery}/main.cpp: recovery is a distinct process that must
// complete before either the server or the broker is started against the
// same data directory.
package main

import (
	"fmt"
	"os"

	"github.com/ledgerwatch/catapult/cache"
	"github.com/ledgerwatch/catapult/commitstep"
	"github.com/ledgerwatch/catapult/config"
	"github.com/ledgerwatch/catapult/internal/catlog"
	"github.com/ledgerwatch/catapult/recovery"
	"github.com/ledgerwatch/catapult/storage"
	"github.com/ledgerwatch/catapult/subscribers"
	"github.com/spf13/cobra"
)

var dataDirFlag string

func init() {
	rootCmd.Flags().StringVar(&dataDirFlag, "datadir", "", "path to the catapult data directory (required)")
}

var rootCmd = &cobra.Command{
	Use:   "catapultrecovery",
	Short: "Repair the commit-step transaction and replay pending spool messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		if dataDirFlag == "" {
			return fmt.Errorf("catapultrecovery: --datadir is required")
		}
		return run(dataDirFlag)
	},
}

func run(root string) error {
	log := catlog.New("component", "catapultrecovery")

	dataDir, err := config.Prepare(root)
	if err != nil {
		return fmt.Errorf("catapultrecovery: prepare data directory: %w", err)
	}

	registry := cache.NewRegistry(cache.NewLengthPrefixedStorage(1))
	canonical := storage.NewBlockStorage(dataDir.RootDir().Str())
	staged := storage.NewBlockStorage(dataDir.SpoolDir("block_sync").Str())
	state := storage.NewStateStorage(dataDir.RootDir().Str())

	blockChange, err := subscribers.NewFileBlockChangeSubscriber(dataDir)
	if err != nil {
		return fmt.Errorf("catapultrecovery: open block-change queue: %w", err)
	}
	utChange, err := subscribers.NewFileUTChangeSubscriber(dataDir)
	if err != nil {
		return fmt.Errorf("catapultrecovery: open ut-change queue: %w", err)
	}
	ptChange, err := subscribers.NewFilePTChangeSubscriber(dataDir)
	if err != nil {
		return fmt.Errorf("catapultrecovery: open pt-change queue: %w", err)
	}
	finalization, err := subscribers.NewFileFinalizationSubscriber(dataDir)
	if err != nil {
		return fmt.Errorf("catapultrecovery: open finalization queue: %w", err)
	}
	transactionStatus, err := subscribers.NewFileTransactionStatusSubscriber(dataDir)
	if err != nil {
		return fmt.Errorf("catapultrecovery: open transaction-status queue: %w", err)
	}
	stateChange, err := subscribers.NewFileStateChangeSubscriber(dataDir, registry)
	if err != nil {
		return fmt.Errorf("catapultrecovery: open state-change queue: %w", err)
	}

	orchestrator, err := recovery.New(dataDir, canonical, staged, state, registry, recovery.Subscribers{
		BlockChange:       blockChange,
		UTChange:          utChange,
		PTChange:          ptChange,
		Finalization:      finalization,
		TransactionStatus: transactionStatus,
		StateChange:       stateChange,
	})
	if err != nil {
		return fmt.Errorf("catapultrecovery: build orchestrator: %w", err)
	}

	if step, present, err := commitstep.NewMarker(dataDir).Read(); err == nil && present {
		log.Info("resuming from prior commit step", "step", step)
	}

	if err := orchestrator.Run(); err != nil {
		return fmt.Errorf("catapultrecovery: %w", err)
	}
	log.Info("recovery complete")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		catlog.New().Crit("catapultrecovery failed", "err", err)
		os.Exit(1)
	}
}
