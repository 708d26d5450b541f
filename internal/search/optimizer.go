package search

import (
	"log/slog"
	"math"
)

// Model-optimization thresholds shared by the fixed and adaptive strategies.
const (
	fastModoptEps    = 10.0
	interimModoptEps = 3.0
	finalModoptEps   = 0.1
)

// Fixed-strategy SPR schedule.
const (
	fixedRadiusStep    = 5
	fixedRadiusCeiling = 22
	autodetectMargin   = 0.1
)

// Retained-candidate cap for thorough rounds.
const ntopolKeep = 20

// Config is the immutable controller configuration.
type Config struct {
	// Epsilon is the general convergence threshold for branch-length and
	// model optimization
	Epsilon float64

	// TripletEpsilon is the tighter threshold used for branch-length
	// triplet optimization inside SPR rounds
	TripletEpsilon float64

	// SPRRadius pins the fast-stage search radius; 0 means autodetect
	SPRRadius int

	// SPRCutoff controls subtree rejection in thorough rounds
	SPRCutoff float64

	// NNIEpsilon and NNITolerance govern neighbor-interchange rounds
	NNIEpsilon   float64
	NNITolerance float64
}

// DefaultConfig returns the standard search thresholds.
func DefaultConfig() Config {
	return Config{
		Epsilon:        0.1,
		TripletEpsilon: 1000.0,
		SPRRadius:      0,
		SPRCutoff:      1.0,
		NNIEpsilon:     0.1,
		NNITolerance:   0.1,
	}
}

// Optimizer drives the iterative improvement of a scored tree/model state:
// it alternates branch-length/model refinement with topology-mutation rounds
// under a fixed or adaptive strategy, checkpointing at every phase boundary
// so an interrupted run resumes without redoing completed phases.
type Optimizer struct {
	cfg    Config
	worker GroupWorker
}

// New creates an Optimizer. A nil worker means a group of one.
func New(cfg Config, worker GroupWorker) *Optimizer {
	if worker == nil {
		worker = soloWorker{}
	}
	return &Optimizer{cfg: cfg, worker: worker}
}

// OptimizeModel repeatedly refines all model parameters until the score gain
// between consecutive iterations drops to the threshold, and returns the
// final score.
func (o *Optimizer) OptimizeModel(tree TreeState, epsilon float64) float64 {
	newLoglh := tree.Loglh()

	iter := 0
	for {
		curLoglh := newLoglh

		tree.OptimizeParamsAll(epsilon)
		newLoglh = tree.Loglh()

		iter++
		slog.Debug("Model optimization iteration", "iteration", iter, "loglh", newLoglh)

		if newLoglh-curLoglh <= epsilon {
			break
		}
	}

	return newLoglh
}

// NNI performs a single neighbor-interchange round and updates the caller's
// running score in place. It is a bounded operation, not a convergence loop.
func (o *Optimizer) NNI(tree TreeState, params *InterchangeParams, loglh *float64) {
	slog.Info("NNI round", "tolerance", params.Tolerance, "epsilon", params.Epsilon, "loglh", *loglh)
	*loglh = tree.NNIRound(params)
}

// enter selects this worker's state handle and synchronizes the group on it.
// The coordinator aliases the checkpoint manager's state; everyone else gets
// a scratch copy.
func (o *Optimizer) enter(ckp CheckpointIO) *SearchState {
	handle := NewStateHandle(o.worker.IsCoordinator(), ckp.SearchState())
	o.worker.Barrier()
	return handle.State()
}

// RunFixed runs the fixed-strategy search: coarse polish, fast SPR rounds at
// an autodetected (or pinned) radius, then thorough SPR rounds sweeping the
// radius window up to the ceiling. Returns the final score.
func (o *Optimizer) RunFixed(tree TreeState, ckp CheckpointIO) (float64, error) {
	st := o.enter(ckp)

	st.Topology.BrlenEpsilonFull = o.cfg.Epsilon
	st.Topology.BrlenEpsilonTriplet = o.cfg.TripletEpsilon

	steps := newStepper(st)

	st.Loglh = tree.Loglh()

	if steps.advanceIfDue(PhaseBrlenOpt) {
		if err := ckp.UpdateAndWrite(tree); err != nil {
			return st.Loglh, err
		}
		slog.Info("Initial branch length optimization", "loglh", st.Loglh)
		st.Loglh = tree.OptimizeBranches(fastModoptEps, 1)
	}

	if steps.advanceIfDue(PhaseModOpt1) {
		if err := ckp.UpdateAndWrite(tree); err != nil {
			return st.Loglh, err
		}
		slog.Info("Model parameter optimization", "eps", fastModoptEps, "loglh", st.Loglh)
		st.Loglh = o.OptimizeModel(tree, fastModoptEps)

		// start SPR rounds from the beginning
		st.Iteration = 0
	}

	radiusLimit := min(fixedRadiusCeiling, tree.TipCount()-3)

	if o.cfg.SPRRadius > 0 {
		st.BestFastRadius = o.cfg.SPRRadius
	} else if steps.advanceIfDue(PhaseRadiusDetectOrNNI) {
		// autodetect the best radius for fast SPR rounds
		if st.Iteration == 0 {
			st.Topology.Thorough = false
			st.Topology.RadiusMin = 1
			st.Topology.RadiusMax = fixedRadiusStep
			st.BestFastRadius = fixedRadiusStep
			st.Topology.NTopolKeep = 0
			st.Topology.SubtreeCutoff = 0
		}

		bestLoglh := st.Loglh

		for st.Topology.RadiusMin < radiusLimit {
			if err := ckp.UpdateAndWrite(tree); err != nil {
				return st.Loglh, err
			}

			st.Iteration++
			slog.Info("Autodetect SPR round", "round", st.Iteration, "radius", st.Topology.RadiusMax, "loglh", bestLoglh)
			st.Loglh = tree.SPRRound(&st.Topology)

			if st.Loglh-bestLoglh <= autodetectMargin {
				break
			}

			// score improved, widen the window and retry
			st.BestFastRadius = st.Topology.RadiusMax
			st.Topology.RadiusMin += fixedRadiusStep
			st.Topology.RadiusMax += fixedRadiusStep
			bestLoglh = st.Loglh
		}
	}

	source := "autodetect"
	if o.cfg.SPRRadius > 0 {
		source = "user-specified"
	}
	slog.Info("SPR radius for fast rounds", "radius", st.BestFastRadius, "source", source)

	if steps.advanceIfDue(PhaseModOpt2) {
		if err := ckp.UpdateAndWrite(tree); err != nil {
			return st.Loglh, err
		}
		slog.Info("Model parameter optimization", "eps", interimModoptEps, "loglh", st.Loglh)
		st.Loglh = o.OptimizeModel(tree, interimModoptEps)

		st.Iteration = 0
		st.Topology.Thorough = false
		st.Topology.RadiusMin = 1
		st.Topology.RadiusMax = st.BestFastRadius
		st.Topology.NTopolKeep = ntopolKeep
		st.Topology.SubtreeCutoff = o.cfg.SPRCutoff
		st.Topology.ResetCutoffInfo(st.Loglh)
	}

	if steps.advanceIfDue(PhaseFastSPR) {
		for {
			if err := ckp.UpdateAndWrite(tree); err != nil {
				return st.Loglh, err
			}
			st.Iteration++
			oldLoglh := st.Loglh
			slog.Info("FAST spr round", "round", st.Iteration, "radius", st.Topology.RadiusMax, "loglh", oldLoglh)
			st.Loglh = tree.SPRRound(&st.Topology)

			// optimize ALL branches
			st.Loglh = tree.OptimizeBranches(o.cfg.Epsilon, 1)

			if st.Loglh-oldLoglh <= o.cfg.Epsilon {
				break
			}
		}
	}

	if steps.advanceIfDue(PhaseModOpt3) {
		if err := ckp.UpdateAndWrite(tree); err != nil {
			return st.Loglh, err
		}
		slog.Info("Model parameter optimization", "eps", 1.0, "loglh", st.Loglh)
		st.Loglh = o.OptimizeModel(tree, 1.0)

		st.Topology.Thorough = true
		st.Topology.RadiusMin = 1
		st.Topology.RadiusMax = fixedRadiusStep
		st.Iteration = 0
	}

	if steps.advanceIfDue(PhaseSlowSPR) {
		for {
			if err := ckp.UpdateAndWrite(tree); err != nil {
				return st.Loglh, err
			}
			st.Iteration++
			oldLoglh := st.Loglh
			slog.Info("SLOW spr round", "round", st.Iteration, "radius", st.Topology.RadiusMax, "loglh", oldLoglh)
			st.Loglh = tree.SPRRound(&st.Topology)

			// optimize ALL branches
			st.Loglh = tree.OptimizeBranches(o.cfg.Epsilon, 1)

			if st.Loglh-oldLoglh > o.cfg.Epsilon {
				// improvement in thorough mode: retry from a fresh window
				st.Topology.RadiusMin = 1
				st.Topology.RadiusMax = fixedRadiusStep
			} else {
				// no improvement: shift the window past the current max
				st.Topology.RadiusMin = st.Topology.RadiusMax + 1
				st.Topology.RadiusMax += fixedRadiusStep
			}

			if st.Topology.RadiusMin >= radiusLimit {
				break
			}
		}
	}

	if steps.advanceIfDue(PhaseModOpt4) {
		if err := ckp.UpdateAndWrite(tree); err != nil {
			return st.Loglh, err
		}
		slog.Info("Model parameter optimization", "eps", finalModoptEps, "loglh", st.Loglh)
		st.Loglh = o.OptimizeModel(tree, finalModoptEps)
	}

	if steps.advanceIfDue(PhaseFinish) {
		if err := ckp.UpdateAndWrite(tree); err != nil {
			return st.Loglh, err
		}
	}

	return st.Loglh, nil
}

// RunAdaptive runs the difficulty-driven search: the radius ceiling, window
// step and the extra NNI/model-refinement work are all functions of the
// caller-supplied difficulty score in [0,1]. Returns the final score.
func (o *Optimizer) RunAdaptive(tree TreeState, ckp CheckpointIO, difficulty float64) (float64, error) {
	st := o.enter(ckp)

	st.Topology.BrlenEpsilonFull = o.cfg.Epsilon
	st.Topology.BrlenEpsilonTriplet = o.cfg.TripletEpsilon

	st.Interchange.Tolerance = o.cfg.NNITolerance
	st.Interchange.Epsilon = o.cfg.NNIEpsilon

	easyOrDifficult := difficulty <= 0.3 || difficulty >= 0.7

	steps := newStepper(st)

	st.Loglh = tree.Loglh()

	if steps.advanceIfDue(PhaseBrlenOpt) {
		if err := ckp.UpdateAndWrite(tree); err != nil {
			return st.Loglh, err
		}
		slog.Info("Initial branch length optimization", "loglh", st.Loglh)
		st.Loglh = tree.OptimizeBranches(fastModoptEps, 1)
	}

	if steps.advanceIfDue(PhaseModOpt1) {
		if err := ckp.UpdateAndWrite(tree); err != nil {
			return st.Loglh, err
		}
		slog.Info("Model parameter optimization", "eps", fastModoptEps, "loglh", st.Loglh)
		st.Loglh = o.OptimizeModel(tree, fastModoptEps)

		// start SPR rounds from the beginning
		st.Iteration = 0
	}

	// easy and difficult instances get an extra NNI round plus an extra
	// model refinement before the fast stage begins
	if steps.advanceIfDue(PhaseRadiusDetectOrNNI) {
		if err := ckp.UpdateAndWrite(tree); err != nil {
			return st.Loglh, err
		}
		if easyOrDifficult {
			o.NNI(tree, &st.Interchange, &st.Loglh)
		}
	}

	if steps.advanceIfDue(PhaseModOpt2) {
		if err := ckp.UpdateAndWrite(tree); err != nil {
			return st.Loglh, err
		}
		if easyOrDifficult {
			slog.Info("Model parameter optimization", "eps", interimModoptEps, "loglh", st.Loglh)
			st.Loglh = o.OptimizeModel(tree, interimModoptEps)
		}
	}

	radiusLimit := min(RadiusLimitAdaptive(difficulty), tree.TipCount()-3)
	radiusStep := RadiusStepAdaptive(radiusLimit, false)

	if steps.advanceIfDue(PhaseFastSPR) {
		if st.Iteration == 0 {
			st.Topology.Thorough = false
			st.Topology.RadiusMin = 1
			st.Topology.RadiusMax = radiusStep
			st.Topology.NTopolKeep = 0
			st.Topology.SubtreeCutoff = 0
		}

		for cont := true; cont; {
			if err := ckp.UpdateAndWrite(tree); err != nil {
				return st.Loglh, err
			}
			st.Iteration++
			oldLoglh := st.Loglh

			slog.Info("SPR round", "round", st.Iteration, "radius", st.Topology.RadiusMax, "loglh", oldLoglh)
			st.Loglh = tree.SPRRound(&st.Topology)

			if st.Topology.RadiusMax > 2*radiusStep {
				o.NNI(tree, &st.Interchange, &st.Loglh)
			}

			gain := st.Loglh - oldLoglh
			relGain := gain / math.Abs(st.Loglh)

			w := window{min: st.Topology.RadiusMin, max: st.Topology.RadiusMax}
			w, cont = nextWindow(w, gain, relGain, o.cfg.Epsilon, radiusStep, radiusLimit, !easyOrDifficult)
			st.Topology.RadiusMin = w.min
			st.Topology.RadiusMax = w.max
		}
	}

	if steps.advanceIfDue(PhaseModOpt3) {
		if err := ckp.UpdateAndWrite(tree); err != nil {
			return st.Loglh, err
		}
		slog.Info("Model parameter optimization", "eps", interimModoptEps, "loglh", st.Loglh)
		st.Loglh = o.OptimizeModel(tree, interimModoptEps)

		radiusStep = RadiusStepAdaptive(radiusLimit, true)
		st.Iteration = 0
		st.Topology.Thorough = true
		st.Topology.RadiusMin = 1
		st.Topology.RadiusMax = radiusStep
		st.Topology.NTopolKeep = ntopolKeep
		st.Topology.SubtreeCutoff = o.cfg.SPRCutoff
		st.Topology.ResetCutoffInfo(st.Loglh)
	} else {
		radiusStep = RadiusStepAdaptive(radiusLimit, true)
	}

	if steps.advanceIfDue(PhaseSlowSPR) {
		for {
			if err := ckp.UpdateAndWrite(tree); err != nil {
				return st.Loglh, err
			}
			st.Iteration++
			oldLoglh := st.Loglh

			slog.Info("SLOW spr round", "round", st.Iteration, "radius", st.Topology.RadiusMax, "loglh", oldLoglh)
			st.Loglh = tree.SPRRound(&st.Topology)

			if st.Topology.RadiusMin > radiusStep {
				o.NNI(tree, &st.Interchange, &st.Loglh)
			}

			// optimize ALL branches
			st.Loglh = tree.OptimizeBranches(o.cfg.Epsilon, 1)

			gain := st.Loglh - oldLoglh
			relGain := gain / math.Abs(st.Loglh)
			improved := gain > o.cfg.Epsilon

			if !improved || (st.Topology.RadiusMin+radiusStep < radiusLimit && relGain <= 1e-3) {
				st.Topology.RadiusMin = st.Topology.RadiusMax + 1
				st.Topology.RadiusMax += radiusStep
			}

			if st.Topology.RadiusMin >= radiusLimit {
				break
			}
		}
	}

	if steps.advanceIfDue(PhaseModOpt4) {
		if err := ckp.UpdateAndWrite(tree); err != nil {
			return st.Loglh, err
		}
		slog.Info("Model parameter optimization", "eps", finalModoptEps, "loglh", st.Loglh)
		st.Loglh = o.OptimizeModel(tree, finalModoptEps)
	}

	if steps.advanceIfDue(PhaseFinish) {
		if err := ckp.UpdateAndWrite(tree); err != nil {
			return st.Loglh, err
		}
	}

	return st.Loglh, nil
}

// Evaluate scores a fixed topology without searching it: branch-length
// polish plus one model refinement at the configured epsilon.
func (o *Optimizer) Evaluate(tree TreeState, ckp CheckpointIO) (float64, error) {
	st := o.enter(ckp)

	steps := newStepper(st)

	st.Loglh = tree.Loglh()

	if steps.advanceIfDue(PhaseBrlenOpt) {
		if err := ckp.UpdateAndWrite(tree); err != nil {
			return st.Loglh, err
		}
		slog.Info("Initial branch length optimization", "loglh", st.Loglh)
		st.Loglh = tree.OptimizeBranches(fastModoptEps, 1)
	}

	if steps.advanceIfDue(PhaseModOpt1) {
		if err := ckp.UpdateAndWrite(tree); err != nil {
			return st.Loglh, err
		}
		slog.Info("Model parameter optimization", "eps", o.cfg.Epsilon, "loglh", st.Loglh)
		st.Loglh = o.OptimizeModel(tree, o.cfg.Epsilon)
	}

	if steps.advanceIfDue(PhaseFinish) {
		if err := ckp.UpdateAndWrite(tree); err != nil {
			return st.Loglh, err
		}
	}

	return st.Loglh, nil
}
