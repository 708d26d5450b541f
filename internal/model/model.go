// Package model provides a deterministic surrogate tree/model state: a
// synthetic likelihood landscape over branch lengths, substitution-model
// rates and a set of topology defects discoverable within bounded SPR/NNI
// radii. It implements the controller's TreeState contract so runs can be
// exercised end to end without a likelihood kernel.
package model

import (
	"math/rand"

	"github.com/phylogo/treesearch/internal/search"
)

const (
	rateWeight  = 10.0
	brlenWeight = 5.0

	minBrlen = 1e-6
	maxBrlen = 10.0
)

// Defect is a topology flaw planted in the landscape: resolving it requires
// a rearrangement round whose radius window covers it. Thorough defects are
// only found in thorough (slow) mode.
type Defect struct {
	Radius   int
	Gain     float64
	Thorough bool
}

// Model is a surrogate tree/model state with a known optimum.
// It is not safe for concurrent use; group runs must wrap it in a
// collective view so each operation executes once.
type Model struct {
	tips int
	base float64

	branches    []float64
	optBranches []float64

	rates    []float64
	optRates []float64

	defects []Defect
	fixed   []bool

	refiner *brlenRefiner
}

// New creates a surrogate instance with a seeded random landscape.
func New(tips int, seed int64) *Model {
	rng := rand.New(rand.NewSource(seed))

	nDefects := tips/8 + 2
	maxRadius := min(10, tips-3)
	defects := make([]Defect, nDefects)
	for i := range defects {
		defects[i] = Defect{
			Radius:   1 + rng.Intn(maxRadius),
			Gain:     0.3 + rng.Float64()*3.0,
			Thorough: rng.Float64() < 0.3,
		}
	}

	return NewWithDefects(tips, seed, defects)
}

// NewWithDefects creates a surrogate instance with caller-chosen topology
// defects, used by tests that need a landscape improvable only within a
// known radius.
func NewWithDefects(tips int, seed int64, defects []Defect) *Model {
	rng := rand.New(rand.NewSource(seed))

	nBranches := 2*tips - 3
	branches := make([]float64, nBranches)
	optBranches := make([]float64, nBranches)
	for i := range branches {
		branches[i] = 0.1
		optBranches[i] = 0.01 + rng.Float64()*0.99
	}

	rates := make([]float64, 4)
	optRates := make([]float64, 4)
	for i := range rates {
		rates[i] = 1.0
		optRates[i] = 0.5 + rng.Float64()*1.5
	}

	return &Model{
		tips:        tips,
		base:        -25.0 * float64(tips),
		branches:    branches,
		optBranches: optBranches,
		rates:       rates,
		optRates:    optRates,
		defects:     defects,
		fixed:       make([]bool, len(defects)),
		refiner:     newBrlenRefiner(50, 20, seed),
	}
}

// Loglh scores the current state: the baseline minus the squared distance to
// the parameter optima minus the penalty of every unresolved defect.
func (m *Model) Loglh() float64 {
	return m.base - rateWeight*m.rateError() - brlenWeight*m.brlenError() - m.defectPenalty()
}

func (m *Model) rateError() float64 {
	var e float64
	for i, r := range m.rates {
		d := r - m.optRates[i]
		e += d * d
	}
	return e
}

func (m *Model) brlenError() float64 {
	var e float64
	for i, b := range m.branches {
		d := b - m.optBranches[i]
		e += d * d
	}
	return e
}

func (m *Model) defectPenalty() float64 {
	var p float64
	for i, d := range m.defects {
		if !m.fixed[i] {
			p += d.Gain
		}
	}
	return p
}

// OptimizeParamsAll moves the model rates toward their optimum. The step is
// a fixed fraction of the remaining distance, so successive calls yield
// geometrically shrinking gains and any positive epsilon converges.
func (m *Model) OptimizeParamsAll(epsilon float64) float64 {
	for i := range m.rates {
		m.rates[i] += 0.7 * (m.optRates[i] - m.rates[i])
	}
	return m.Loglh()
}

// OptimizeBranches relaxes the branch-length vector toward its optimum and
// then lets the mayfly refiner polish it, keeping the refined vector only if
// it scores better.
func (m *Model) OptimizeBranches(epsilon float64, iters int) float64 {
	for pass := 0; pass < iters; pass++ {
		for i := range m.branches {
			m.branches[i] += 0.5 * (m.optBranches[i] - m.branches[i])
		}
	}

	cost := func(candidate []float64) float64 {
		var e float64
		for i, b := range candidate {
			d := b - m.optBranches[i]
			e += d * d
		}
		return e
	}

	refined, refinedCost := m.refiner.Refine(cost, minBrlen, maxBrlen, len(m.branches))
	if refinedCost < cost(m.branches) {
		copy(m.branches, refined)
	}

	return m.Loglh()
}

// SPRRound resolves every defect reachable within the given radius window,
// honoring the thorough flag, and re-polishes the branches touched by the
// rearrangements.
func (m *Model) SPRRound(params *search.TopologyParams) float64 {
	for i, d := range m.defects {
		if m.fixed[i] {
			continue
		}
		if d.Radius < params.RadiusMin || d.Radius > params.RadiusMax {
			continue
		}
		if d.Thorough && !params.Thorough {
			continue
		}
		m.fixed[i] = true
	}

	// local branch re-optimization around the regrafted subtrees
	for i := range m.branches {
		m.branches[i] += 0.1 * (m.optBranches[i] - m.branches[i])
	}

	return m.Loglh()
}

// NNIRound resolves defects adjacent to their branch (radius 1) and lightly
// re-optimizes branch lengths.
func (m *Model) NNIRound(params *search.InterchangeParams) float64 {
	for i, d := range m.defects {
		if !m.fixed[i] && d.Radius == 1 && !d.Thorough {
			m.fixed[i] = true
		}
	}

	for i := range m.branches {
		m.branches[i] += 0.05 * (m.optBranches[i] - m.branches[i])
	}

	return m.Loglh()
}

// TipCount returns the number of leaves.
func (m *Model) TipCount() int { return m.tips }

// Snapshot returns a copy of the current branch-length vector.
func (m *Model) Snapshot() []float64 {
	snap := make([]float64, len(m.branches))
	copy(snap, m.branches)
	return snap
}

// Restore replaces the branch-length vector from a checkpoint snapshot.
// Vectors of the wrong length are ignored.
func (m *Model) Restore(branches []float64) {
	if len(branches) != len(m.branches) {
		return
	}
	copy(m.branches, branches)
}
