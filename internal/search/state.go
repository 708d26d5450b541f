package search

// Phase identifies one checkpoint-bounded stage of the optimization pipeline.
// Phases are strictly ordered; a run resumes at the first phase whose ordinal
// is not below the last persisted one and never replays completed phases.
type Phase int

const (
	PhaseBrlenOpt Phase = iota
	PhaseModOpt1
	PhaseRadiusDetectOrNNI
	PhaseModOpt2
	PhaseFastSPR
	PhaseModOpt3
	PhaseSlowSPR
	PhaseModOpt4
	PhaseFinish
)

var phaseNames = map[Phase]string{
	PhaseBrlenOpt:          "brlenOpt",
	PhaseModOpt1:           "modOpt1",
	PhaseRadiusDetectOrNNI: "radiusDetectOrNNI",
	PhaseModOpt2:           "modOpt2",
	PhaseFastSPR:           "fastSPR",
	PhaseModOpt3:           "modOpt3",
	PhaseSlowSPR:           "slowSPR",
	PhaseModOpt4:           "modOpt4",
	PhaseFinish:            "finish",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// CutoffInfo is the derived subtree-rejection bookkeeping attached to the
// topology parameters. It is reset whenever the score baseline changes.
type CutoffInfo struct {
	// Threshold is the current log-likelihood decline cutoff below which
	// subtrees are rejected without full evaluation
	Threshold float64 `json:"threshold"`

	// DeclineCount is the number of declined moves since the last reset
	DeclineCount int `json:"declineCount"`

	// DeclineSum accumulates the magnitude of declined moves since the last reset
	DeclineSum float64 `json:"declineSum"`
}

// TopologyParams governs one round of topology mutation (SPR).
type TopologyParams struct {
	// RadiusMin and RadiusMax bound the rearrangement radius window
	RadiusMin int `json:"radiusMin"`
	RadiusMax int `json:"radiusMax"`

	// Thorough selects slow mode (full branch-length evaluation per candidate)
	// over fast mode (triplet evaluation only)
	Thorough bool `json:"thorough"`

	// NTopolKeep caps how many candidate topologies are retained per round
	NTopolKeep int `json:"ntopolKeep"`

	// SubtreeCutoff controls early rejection of unpromising subtrees (0 = off)
	SubtreeCutoff float64 `json:"subtreeCutoff"`

	// Cutoff holds the derived rejection bookkeeping for SubtreeCutoff
	Cutoff CutoffInfo `json:"cutoff"`

	// BrlenEpsilonFull and BrlenEpsilonTriplet are the branch-length
	// convergence thresholds used inside a round
	BrlenEpsilonFull    float64 `json:"brlenEpsilonFull"`
	BrlenEpsilonTriplet float64 `json:"brlenEpsilonTriplet"`
}

// ResetCutoffInfo re-seeds the rejection bookkeeping against a new score
// baseline. Scores are log-likelihoods, i.e. large negative numbers.
func (p *TopologyParams) ResetCutoffInfo(loglh float64) {
	p.Cutoff = CutoffInfo{Threshold: loglh / -1000.0}
}

// InterchangeParams governs one neighbor-interchange (NNI) round.
type InterchangeParams struct {
	Tolerance float64 `json:"tolerance"`
	Epsilon   float64 `json:"epsilon"`
}

// SearchState is the unit of checkpointing: everything the controller needs
// to resume a run at the correct phase without redoing completed work. It is
// mutated in place by the Optimizer and persisted at every phase boundary.
// Only the coordinator's copy is authoritative; other workers operate on a
// private scratch copy so their control flow can evaluate the same branch
// conditions without racing on the shared structure.
type SearchState struct {
	// Loglh is the current best score, non-decreasing across a successful run
	Loglh float64 `json:"loglh"`

	// Iteration counts topology-search rounds within the current stage;
	// reset at the start of each stage
	Iteration int `json:"iteration"`

	// Phase is the current position in the ordered phase sequence
	Phase Phase `json:"phase"`

	// Topology holds the mutable parameters of the current SPR stage
	Topology TopologyParams `json:"topology"`

	// Interchange holds the NNI round parameters
	Interchange InterchangeParams `json:"interchange"`

	// BestFastRadius is the radius discovered (or supplied) for the fast stage
	BestFastRadius int `json:"bestFastRadius"`
}

// StateHandle selects which SearchState a worker computes on. The coordinator
// aliases the group-visible state owned by the checkpoint manager; every other
// worker gets a disposable private copy.
type StateHandle interface {
	State() *SearchState
}

// SharedHandle is the coordinator's view: it aliases the authoritative state.
type SharedHandle struct {
	st *SearchState
}

func (h *SharedHandle) State() *SearchState { return h.st }

// ScratchHandle is a non-coordinator's view: a private copy whose mutations
// are never persisted.
type ScratchHandle struct {
	st SearchState
}

func (h *ScratchHandle) State() *SearchState { return &h.st }

// NewStateHandle picks the handle for a worker once at entry to a run.
func NewStateHandle(coordinator bool, authoritative *SearchState) StateHandle {
	if coordinator {
		return &SharedHandle{st: authoritative}
	}
	return &ScratchHandle{st: *authoritative}
}

// stepper keeps the "already done / do now" resumption decision in one place.
// A phase is due if its ordinal is not below the phase recorded at entry;
// due phases record themselves before executing, so a crash mid-phase resumes
// by redoing that phase from its start.
type stepper struct {
	st     *SearchState
	resume Phase
}

func newStepper(st *SearchState) *stepper {
	return &stepper{st: st, resume: st.Phase}
}

func (s *stepper) advanceIfDue(p Phase) bool {
	if p >= s.resume {
		s.st.Phase = p
		return true
	}
	return false
}
