package main

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phylogo/treesearch/internal/model"
	"github.com/phylogo/treesearch/internal/parallel"
	"github.com/phylogo/treesearch/internal/search"
	"github.com/phylogo/treesearch/internal/store"
	"github.com/spf13/cobra"
)

var (
	tips         int
	seed         int64
	adaptive     bool
	difficulty   float64
	sprRadius    int
	epsilon      float64
	sprCutoff    float64
	nniEpsilon   float64
	nniTolerance float64
	workers      int
	dataDir      string
	runID        string
	noCheckpoint bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run a tree search",
	Long: `Runs a maximum-likelihood tree search on a synthetic instance, using the
fixed strategy by default or the difficulty-adaptive strategy with --adaptive.
The run checkpoints at every phase boundary; use "resume" to continue an
interrupted run.`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&tips, "tips", 50, "Number of tips (leaves) in the instance")
	searchCmd.Flags().Int64Var(&seed, "seed", 42, "Random seed for the instance")
	searchCmd.Flags().BoolVar(&adaptive, "adaptive", false, "Use the difficulty-adaptive strategy")
	searchCmd.Flags().Float64Var(&difficulty, "difficulty", 0.5, "Instance difficulty in [0,1] (adaptive strategy)")
	searchCmd.Flags().IntVar(&sprRadius, "radius", 0, "Fast SPR radius (0 = autodetect)")
	searchCmd.Flags().Float64Var(&epsilon, "epsilon", 0.1, "General convergence epsilon")
	searchCmd.Flags().Float64Var(&sprCutoff, "cutoff", 1.0, "Subtree rejection cutoff")
	searchCmd.Flags().Float64Var(&nniEpsilon, "nni-epsilon", 0.1, "NNI round epsilon")
	searchCmd.Flags().Float64Var(&nniTolerance, "nni-tolerance", 0.1, "NNI round tolerance")
	searchCmd.Flags().IntVar(&workers, "workers", 1, "Number of group workers")
	searchCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Base directory for checkpoint storage")
	searchCmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (default: generated)")
	searchCmd.Flags().BoolVar(&noCheckpoint, "no-checkpoint", false, "Disable checkpointing")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if tips < 4 {
		return fmt.Errorf("need at least 4 tips, got %d", tips)
	}
	if difficulty < 0 || difficulty > 1 {
		return fmt.Errorf("difficulty must be in [0,1], got %g", difficulty)
	}

	strategy := "fixed"
	if adaptive {
		strategy = "adaptive"
	}

	if runID == "" {
		runID = uuid.New().String()
	}

	config := store.RunConfig{
		Tips:       tips,
		Seed:       seed,
		Strategy:   strategy,
		Difficulty: difficulty,
		Radius:     sprRadius,
		Epsilon:    epsilon,
		Workers:    workers,
	}

	slog.Info("Starting search", "run_id", runID, "strategy", strategy, "tips", tips, "workers", workers)

	var checkpointStore store.Store
	if !noCheckpoint {
		fsStore, err := store.NewFSStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		checkpointStore = fsStore
	}

	tree := model.New(tips, seed)
	initialLoglh := tree.Loglh()

	start := time.Now()
	finalLoglh, err := executeRun(tree, checkpointStore, config, runID, false)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	slog.Info("Search complete",
		"run_id", runID,
		"elapsed", elapsed,
		"initial_loglh", initialLoglh,
		"final_loglh", finalLoglh,
		"improvement", finalLoglh-initialLoglh,
	)

	fmt.Printf("Run %s finished: logLH %.4f -> %.4f (%s)\n", runID, initialLoglh, finalLoglh, elapsed.Round(time.Millisecond))

	return nil
}

// executeRun drives one run of the configured strategy across the worker
// group and returns the final score. With resume set, the run continues from
// the last persisted checkpoint for this run ID.
func executeRun(tree *model.Model, checkpointStore store.Store, config store.RunConfig, runID string, resume bool) (float64, error) {
	cfg := search.Config{
		Epsilon:        config.Epsilon,
		TripletEpsilon: search.DefaultConfig().TripletEpsilon,
		SPRRadius:      config.Radius,
		SPRCutoff:      sprCutoff,
		NNIEpsilon:     nniEpsilon,
		NNITolerance:   nniTolerance,
	}

	group := parallel.NewGroup(config.Workers)
	manager := search.NewManager(checkpointStore, runID, config, group.Worker(0))

	if resume {
		checkpoint, err := checkpointStore.LoadCheckpoint(runID)
		if err != nil {
			return 0, fmt.Errorf("failed to load checkpoint: %w", err)
		}
		if err := checkpoint.Validate(); err != nil {
			return 0, fmt.Errorf("invalid checkpoint: %w", err)
		}
		if err := checkpoint.IsCompatible(config); err != nil {
			return 0, fmt.Errorf("incompatible checkpoint: %w", err)
		}
		manager.Restore(checkpoint)
		tree.Restore(checkpoint.BranchLengths)
		slog.Info("Resuming from checkpoint", "run_id", runID, "phase", checkpoint.State.Phase, "loglh", checkpoint.State.Loglh)
	}

	if checkpointStore != nil {
		// trace file lives next to the checkpoint; appended on resume
		tw, err := store.NewTraceWriter(dataDir, runID, resume)
		if err != nil {
			slog.Warn("Trace disabled", "error", err)
		} else {
			manager.AttachTrace(tw)
			defer tw.Close()
		}
	}

	shared := parallel.NewSharedTree(tree)

	var wg sync.WaitGroup
	results := make([]float64, group.Size())
	errs := make([]error, group.Size())

	for rank := 0; rank < group.Size(); rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()

			worker := group.Worker(rank)
			view := shared.View(worker)
			opt := search.New(cfg, worker)
			ckp := manager.View(worker)

			switch config.Strategy {
			case "fixed":
				results[rank], errs[rank] = opt.RunFixed(view, ckp)
			case "adaptive":
				results[rank], errs[rank] = opt.RunAdaptive(view, ckp, config.Difficulty)
			case "evaluate":
				results[rank], errs[rank] = opt.Evaluate(view, ckp)
			default:
				errs[rank] = fmt.Errorf("unknown strategy: %s", config.Strategy)
			}
		}(rank)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return 0, err
		}
	}
	return results[0], nil
}
