package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phylogo/treesearch/internal/model"
	"github.com/phylogo/treesearch/internal/parallel"
	"github.com/phylogo/treesearch/internal/search"
	"github.com/phylogo/treesearch/internal/store"
)

// runJob executes a search run in the background.
// If checkpointStore is not nil, the run checkpoints at every phase boundary
// and resumes from a previous checkpoint with the same job ID when one exists.
func runJob(ctx context.Context, jm *JobManager, checkpointStore store.Store, jobID string) error {
	// Get the job
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	// Update state to running
	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}

	slog.Info("Starting job", "job_id", jobID, "strategy", job.Config.Strategy, "tips", job.Config.Tips)

	// Build the surrogate tree/model instance
	tree := model.New(job.Config.Tips, job.Config.Seed)

	// Build the worker group and checkpoint manager
	group := parallel.NewGroup(job.Config.Workers)
	manager := search.NewManager(checkpointStore, jobID, job.Config, group.Worker(0))

	// Resume from an existing checkpoint if one is compatible
	if checkpointStore != nil {
		checkpoint, err := checkpointStore.LoadCheckpoint(jobID)
		switch {
		case err == nil:
			if err := checkpoint.IsCompatible(job.Config); err != nil {
				markJobFailed(jm, jobID, fmt.Errorf("incompatible checkpoint: %w", err))
				return err
			}
			manager.Restore(checkpoint)
			tree.Restore(checkpoint.BranchLengths)
			slog.Info("Resuming from checkpoint", "job_id", jobID, "phase", checkpoint.State.Phase)
		case errors.Is(err, store.ErrNotFound):
			// fresh run
		default:
			markJobFailed(jm, jobID, fmt.Errorf("failed to load checkpoint: %w", err))
			return err
		}
	}

	initialLoglh := tree.Loglh()
	jm.UpdateJob(jobID, func(j *Job) {
		j.InitialLoglh = initialLoglh
		j.Loglh = initialLoglh
	})

	// Check for cancellation before starting expensive operation
	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	// Start progress monitoring goroutine
	progressDone := make(chan struct{})
	go monitorProgress(ctx, jm, manager, jobID, progressDone)

	start := time.Now()
	finalLoglh, runErr := runGroup(group, tree, manager, job.Config)
	close(progressDone)
	elapsed := time.Since(start)

	if runErr != nil {
		markJobFailed(jm, jobID, runErr)
		return runErr
	}

	// Check for cancellation after the search
	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	// Update job with results
	endTime := time.Now()
	final := manager.Snapshot()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.Loglh = finalLoglh
		j.Phase = final.Phase.String()
		j.Iteration = final.Iteration
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"initial_loglh", initialLoglh,
		"final_loglh", finalLoglh,
	)

	// Broadcast final completion event
	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:     jobID,
		State:     StateCompleted,
		Phase:     final.Phase.String(),
		Iteration: final.Iteration,
		Loglh:     finalLoglh,
		Timestamp: time.Now(),
	})

	return nil
}

// runGroup runs the configured strategy on every worker of the group and
// returns the coordinator's final score.
func runGroup(group *parallel.Group, tree *model.Model, manager *search.Manager, config JobConfig) (float64, error) {
	cfg := search.DefaultConfig()
	cfg.Epsilon = config.Epsilon
	cfg.SPRRadius = config.Radius

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

// monitorProgress periodically broadcasts progress events during the search
func monitorProgress(ctx context.Context, jm *JobManager, manager *search.Manager, jobID string, done chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond) // Throttle to 2 updates per second
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Get current job state
			job, exists := jm.GetJob(jobID)
			if !exists {
				return
			}

			snapshot := manager.Snapshot()

			jm.UpdateJob(jobID, func(j *Job) {
				j.Loglh = snapshot.Loglh
				j.Phase = snapshot.Phase.String()
				j.Iteration = snapshot.Iteration
			})

			// Broadcast progress event
			jm.broadcaster.Broadcast(ProgressEvent{
				JobID:     jobID,
				State:     job.State,
				Phase:     snapshot.Phase.String(),
				Iteration: snapshot.Iteration,
				Loglh:     snapshot.Loglh,
				Timestamp: time.Now(),
			})
		}
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}
