package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/phylogo/treesearch/internal/model"
	"github.com/phylogo/treesearch/internal/store"
	"github.com/spf13/cobra"
)

var resumeDataDir string

var resumeCmd = &cobra.Command{
	Use:   "resume [run-id]",
	Short: "Resume an interrupted search from its checkpoint",
	Long: `Resumes a search run from its last persisted checkpoint. Phases completed
before the interruption are skipped; the phase that was in flight re-executes
from its start. The run configuration is recovered from the checkpoint.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Base directory for checkpoint storage")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	id := args[0]

	checkpointStore, err := store.NewFSStore(resumeDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	checkpoint, err := checkpointStore.LoadCheckpoint(id)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}

	config := checkpoint.Config
	if config.Workers < 1 {
		config.Workers = 1
	}

	// executeRun reads these from flag state; recover them from the run config
	dataDir = resumeDataDir
	runID = id
	sprCutoff = 1.0
	nniEpsilon = 0.1
	nniTolerance = 0.1

	slog.Info("Resuming search", "run_id", id, "strategy", config.Strategy, "phase", checkpoint.State.Phase)

	tree := model.New(config.Tips, config.Seed)

	start := time.Now()
	finalLoglh, err := executeRun(tree, checkpointStore, config, id, true)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	slog.Info("Search complete", "run_id", id, "elapsed", elapsed, "final_loglh", finalLoglh)

	fmt.Printf("Run %s finished: logLH %.4f (%s)\n", id, finalLoglh, elapsed.Round(time.Millisecond))

	return nil
}
