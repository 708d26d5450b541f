package model

import (
	"math"
	"testing"

	"github.com/phylogo/treesearch/internal/search"
	"github.com/phylogo/treesearch/internal/store"
)

func TestNew_Deterministic(t *testing.T) {
	a := New(20, 42)
	b := New(20, 42)

	if a.Loglh() != b.Loglh() {
		t.Errorf("Same seed must give the same score: %f vs %f", a.Loglh(), b.Loglh())
	}

	c := New(20, 7)
	if a.Loglh() == c.Loglh() {
		t.Error("Different seeds should give different landscapes")
	}
}

func TestTipCount(t *testing.T) {
	if got := New(20, 42).TipCount(); got != 20 {
		t.Errorf("Expected 20 tips, got %d", got)
	}
}

func TestOptimizeParamsAll_Converges(t *testing.T) {
	m := New(20, 42)

	prev := m.Loglh()
	initial := prev

	iters := 0
	for {
		cur := m.OptimizeParamsAll(0.01)
		if cur < prev {
			t.Fatalf("Score regressed from %f to %f at iteration %d", prev, cur, iters)
		}
		if cur-prev <= 0.01 {
			break
		}
		prev = cur
		iters++
		if iters > 100 {
			t.Fatal("Rate optimization did not converge")
		}
	}

	if m.Loglh() <= initial {
		t.Errorf("Expected an improved score, got %f (initial %f)", m.Loglh(), initial)
	}
	if m.rateError() > 1e-3 {
		t.Errorf("Rates should be near their optimum, error %f", m.rateError())
	}
}

func TestOptimizeBranches_ImprovesAndIsDeterministic(t *testing.T) {
	a := New(20, 42)
	b := New(20, 42)

	before := a.Loglh()
	after := a.OptimizeBranches(0.1, 1)
	if after < before {
		t.Errorf("Branch optimization regressed the score: %f -> %f", before, after)
	}

	b.OptimizeBranches(0.1, 1)

	snapA, snapB := a.Snapshot(), b.Snapshot()
	for i := range snapA {
		if snapA[i] != snapB[i] {
			t.Fatalf("Branch %d diverged between identical models: %f vs %f",
				i, snapA[i], snapB[i])
		}
	}
}

func TestSPRRound_WindowGatesDefects(t *testing.T) {
	defects := []Defect{{Radius: 5, Gain: 2.0}}

	miss := NewWithDefects(20, 42, defects)
	hit := NewWithDefects(20, 42, defects)

	// identical rearrangement work, only the window coverage differs
	missScore := miss.SPRRound(&search.TopologyParams{RadiusMin: 1, RadiusMax: 4})
	hitScore := hit.SPRRound(&search.TopologyParams{RadiusMin: 1, RadiusMax: 6})

	if diff := hitScore - missScore; math.Abs(diff-2.0) > 1e-9 {
		t.Errorf("Expected the covered defect's gain of 2.0, got %f", diff)
	}
}

func TestSPRRound_ThoroughGatesDefects(t *testing.T) {
	defects := []Defect{{Radius: 5, Gain: 2.0, Thorough: true}}

	fast := NewWithDefects(20, 42, defects)
	slow := NewWithDefects(20, 42, defects)

	fastScore := fast.SPRRound(&search.TopologyParams{RadiusMin: 1, RadiusMax: 6})
	slowScore := slow.SPRRound(&search.TopologyParams{RadiusMin: 1, RadiusMax: 6, Thorough: true})

	if diff := slowScore - fastScore; math.Abs(diff-2.0) > 1e-9 {
		t.Errorf("A thorough defect must only fall to a thorough round, diff %f", diff)
	}
}

func TestSPRRound_AlreadyFixedDefectsStayFixed(t *testing.T) {
	withDefect := NewWithDefects(20, 42, []Defect{{Radius: 5, Gain: 2.0}})
	clean := NewWithDefects(20, 42, nil)

	params := &search.TopologyParams{RadiusMin: 1, RadiusMax: 6}

	// the covering round resolves the defect, reaching the defect-free score
	first := withDefect.SPRRound(params)
	if cleanFirst := clean.SPRRound(params); first != cleanFirst {
		t.Fatalf("Expected the defect-free score %f after fixing, got %f", cleanFirst, first)
	}

	// later rounds track the defect-free twin exactly: branch re-polish is
	// identical on both, so any divergence would be a replayed defect gain
	second := withDefect.SPRRound(params)
	if cleanSecond := clean.SPRRound(params); second != cleanSecond {
		t.Errorf("Defect gain applied twice: %f vs defect-free %f", second, cleanSecond)
	}
	if second < first {
		t.Errorf("Score regressed: %f -> %f", first, second)
	}
}

func TestNNIRound_FixesOnlyAdjacentFastDefects(t *testing.T) {
	adjacent := NewWithDefects(20, 42, []Defect{{Radius: 1, Gain: 1.0}})
	distant := NewWithDefects(20, 42, []Defect{{Radius: 2, Gain: 1.0}})
	thorough := NewWithDefects(20, 42, []Defect{{Radius: 1, Gain: 1.0, Thorough: true}})

	params := &search.InterchangeParams{Tolerance: 0.1, Epsilon: 0.1}
	adjScore := adjacent.NNIRound(params)
	distScore := distant.NNIRound(params)
	thorScore := thorough.NNIRound(params)

	if diff := adjScore - distScore; math.Abs(diff-1.0) > 1e-9 {
		t.Errorf("Only the adjacent defect should fall to NNI, diff %f", diff)
	}
	if distScore != thorScore {
		t.Errorf("A thorough defect must survive NNI: %f vs %f", thorScore, distScore)
	}
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	m := New(20, 42)

	snap := m.Snapshot()
	if len(snap) != 2*20-3 {
		t.Fatalf("Expected %d branch lengths, got %d", 2*20-3, len(snap))
	}
	before := m.Loglh()

	m.OptimizeBranches(0.1, 2)
	if m.Loglh() == before {
		t.Fatal("Optimization should have moved the branches")
	}

	m.Restore(snap)
	if m.Loglh() != before {
		t.Errorf("Restore did not reproduce the score: %f vs %f", m.Loglh(), before)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	m := New(20, 42)

	snap := m.Snapshot()
	snap[0] = 99.0

	if m.Snapshot()[0] == 99.0 {
		t.Error("Snapshot must not alias the model's branch vector")
	}
}

func TestRestore_RejectsWrongLength(t *testing.T) {
	m := New(20, 42)
	before := m.Loglh()

	m.Restore([]float64{0.5, 0.5})

	if m.Loglh() != before {
		t.Error("A wrong-length vector must be ignored")
	}
}

func TestRunFixed_AutodetectCoversDefectRadius(t *testing.T) {
	// every improvement in this landscape sits within radius 3, so the
	// autodetected fast radius must cover it
	defects := []Defect{
		{Radius: 1, Gain: 1.5},
		{Radius: 2, Gain: 2.0},
		{Radius: 3, Gain: 2.5},
	}
	m := NewWithDefects(20, 42, defects)
	initial := m.Loglh()

	config := store.RunConfig{Tips: 20, Seed: 42, Strategy: "fixed", Epsilon: 0.1, Workers: 1}
	mgr := search.NewManager(nil, "autodetect-run", config, nil)
	opt := search.New(search.DefaultConfig(), nil)

	final, err := opt.RunFixed(m, mgr)
	if err != nil {
		t.Fatalf("RunFixed failed: %v", err)
	}

	st := mgr.SearchState()
	if st.BestFastRadius < 3 {
		t.Errorf("Detected radius %d does not cover the defects at radius <= 3", st.BestFastRadius)
	}
	if st.Phase != search.PhaseFinish {
		t.Errorf("Expected final phase finish, got %s", st.Phase)
	}
	if final <= initial {
		t.Errorf("Expected the search to improve on %f, got %f", initial, final)
	}
}

func TestRestoredBranchesBeatFreshOnes(t *testing.T) {
	first := New(20, 42)
	first.OptimizeBranches(0.1, 3)
	optimized := first.Snapshot()

	fresh := New(20, 42)
	freshScore := fresh.Loglh()
	fresh.Restore(optimized)

	if fresh.Loglh() <= freshScore {
		t.Errorf("Restoring optimized branches should improve a fresh instance: %f vs %f",
			fresh.Loglh(), freshScore)
	}
}
