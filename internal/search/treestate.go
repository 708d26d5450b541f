package search

// TreeState is the tree/model collaborator the controller drives: it owns the
// topology, branch lengths and model parameters, and exposes scoring and
// mutation operations. All scores are log-likelihoods. Implementations used
// with a worker group must behave collectively: every worker observes the
// same return value for the same logical operation.
type TreeState interface {
	// Loglh scores the current state
	Loglh() float64

	// OptimizeParamsAll refines all model parameters to the given threshold
	// and returns the resulting score
	OptimizeParamsAll(epsilon float64) float64

	// OptimizeBranches refines all branch lengths and returns the resulting
	// score; iters bounds the number of passes over the tree
	OptimizeBranches(epsilon float64, iters int) float64

	// SPRRound performs one bounded subtree-pruning-and-regrafting round
	// under the given parameters and returns the resulting score
	SPRRound(params *TopologyParams) float64

	// NNIRound performs one neighbor-interchange round under the given
	// parameters and returns the resulting score
	NNIRound(params *InterchangeParams) float64

	// TipCount returns the number of leaves, used to bound the SPR radius
	TipCount() int

	// Snapshot returns a copy of the current branch-length vector for
	// checkpointing
	Snapshot() []float64
}

// CheckpointIO is the persistence collaborator. UpdateAndWrite is idempotent:
// writing the same phase boundary twice is safe.
type CheckpointIO interface {
	// SearchState returns the authoritative resumable state
	SearchState() *SearchState

	// UpdateAndWrite persists the current search state together with a
	// snapshot of the tree/model state
	UpdateAndWrite(tree TreeState) error
}

// GroupWorker is this worker's membership in a fixed group of cooperating
// workers executing the controller in lockstep.
type GroupWorker interface {
	// IsCoordinator reports whether this worker's state copy is authoritative
	IsCoordinator() bool

	// Barrier blocks until all group members arrive
	Barrier()
}

// soloWorker is the degenerate group of one, used when no group is supplied.
type soloWorker struct{}

func (soloWorker) IsCoordinator() bool { return true }
func (soloWorker) Barrier()            {}
