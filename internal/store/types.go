package store

import (
	"fmt"
	"time"
)

// RunConfig holds configuration for a search run (checkpoint copy).
// This avoids import cycles with the search and server packages.
type RunConfig struct {
	Tips       int     `json:"tips"`
	Seed       int64   `json:"seed"`
	Strategy   string  `json:"strategy"` // fixed, adaptive, evaluate
	Difficulty float64 `json:"difficulty,omitempty"`
	Radius     int     `json:"radius,omitempty"`
	Epsilon    float64 `json:"epsilon"`
	Workers    int     `json:"workers,omitempty"`
}

// SearchSnapshot is the persisted form of the controller's resumable state.
// Field layout mirrors search.SearchState but is kept separate so the store
// package stays dependency-free.
type SearchSnapshot struct {
	Loglh     float64 `json:"loglh"`
	Iteration int     `json:"iteration"`

	// Phase is the ordinal of the last phase that started; a resumed run
	// skips every phase below it
	Phase int `json:"phase"`

	RadiusMin           int     `json:"radiusMin"`
	RadiusMax           int     `json:"radiusMax"`
	Thorough            bool    `json:"thorough"`
	NTopolKeep          int     `json:"ntopolKeep"`
	SubtreeCutoff       float64 `json:"subtreeCutoff"`
	CutoffThreshold     float64 `json:"cutoffThreshold"`
	CutoffDeclineCount  int     `json:"cutoffDeclineCount"`
	CutoffDeclineSum    float64 `json:"cutoffDeclineSum"`
	BrlenEpsilonFull    float64 `json:"brlenEpsilonFull"`
	BrlenEpsilonTriplet float64 `json:"brlenEpsilonTriplet"`

	NNITolerance float64 `json:"nniTolerance"`
	NNIEpsilon   float64 `json:"nniEpsilon"`

	BestFastRadius int `json:"bestFastRadius"`
}

// Checkpoint represents a saved search state that can be resumed later.
// All fields are serialized to JSON for persistence.
//
// The checkpoint is written at every phase boundary, immediately before the
// phase does its work. A crash mid-phase therefore resumes by redoing that
// phase from its start; phases whose ordinal is below the persisted one are
// never replayed. Saving is idempotent: writing the same boundary twice
// produces the same resumption behavior.
type Checkpoint struct {
	// RunID is the unique identifier for this search run
	RunID string `json:"runId"`

	// State is the controller's resumable state at the phase boundary
	State SearchSnapshot `json:"state"`

	// BranchLengths is the tree's branch-length vector at the same instant,
	// so the persisted score always reflects the persisted tree
	BranchLengths []float64 `json:"branchLengths"`

	// Timestamp records when this checkpoint was created
	Timestamp time.Time `json:"timestamp"`

	// Config holds the run configuration, needed for validation during
	// resume: resumed runs must use a compatible instance and strategy
	Config RunConfig `json:"config"`
}

// CheckpointInfo contains metadata about a checkpoint without the full
// branch-length data. Used for listing checkpoints efficiently.
type CheckpointInfo struct {
	RunID     string    `json:"runId"`
	Loglh     float64   `json:"loglh"`
	Phase     int       `json:"phase"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
	Strategy  string    `json:"strategy"`
	Tips      int       `json:"tips"`
}

// NewCheckpoint creates a checkpoint from run state.
func NewCheckpoint(runID string, state SearchSnapshot, branchLengths []float64, config RunConfig) *Checkpoint {
	return &Checkpoint{
		RunID:         runID,
		State:         state,
		BranchLengths: branchLengths,
		Timestamp:     time.Now(),
		Config:        config,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo (metadata only).
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		RunID:     c.RunID,
		Loglh:     c.State.Loglh,
		Phase:     c.State.Phase,
		Iteration: c.State.Iteration,
		Timestamp: c.Timestamp,
		Strategy:  c.Config.Strategy,
		Tips:      c.Config.Tips,
	}
}

// Validate checks if the checkpoint has valid data.
// Returns an error if any required field is missing or invalid.
func (c *Checkpoint) Validate() error {
	if c.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.State.Phase < 0 || c.State.Phase > 8 {
		return &ValidationError{Field: "State.Phase", Reason: "out of range"}
	}
	if c.State.Iteration < 0 {
		return &ValidationError{Field: "State.Iteration", Reason: "cannot be negative"}
	}
	// the window invariant must hold at every checkpoint boundary
	if c.State.RadiusMin > c.State.RadiusMax {
		return &ValidationError{Field: "State.RadiusMin", Reason: "cannot exceed RadiusMax"}
	}
	if c.Config.Strategy == "" {
		return &ValidationError{Field: "Config.Strategy", Reason: "cannot be empty"}
	}
	if c.Config.Tips < 4 {
		return &ValidationError{Field: "Config.Tips", Reason: "must be at least 4"}
	}
	if c.Config.Difficulty < 0 || c.Config.Difficulty > 1 {
		return &ValidationError{Field: "Config.Difficulty", Reason: "must be in [0,1]"}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks if this checkpoint can be resumed with the given
// config. Returns an error if the configs are incompatible.
func (c *Checkpoint) IsCompatible(config RunConfig) error {
	if c.Config.Strategy != config.Strategy {
		return &CompatibilityError{
			Field:    "Strategy",
			Expected: c.Config.Strategy,
			Actual:   config.Strategy,
		}
	}
	if c.Config.Tips != config.Tips {
		return &CompatibilityError{
			Field:    "Tips",
			Expected: fmt.Sprintf("%d", c.Config.Tips),
			Actual:   fmt.Sprintf("%d", config.Tips),
		}
	}
	if c.Config.Seed != config.Seed {
		return &CompatibilityError{
			Field:    "Seed",
			Expected: fmt.Sprintf("%d", c.Config.Seed),
			Actual:   fmt.Sprintf("%d", config.Seed),
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
