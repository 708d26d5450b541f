package parallel

import "github.com/phylogo/treesearch/internal/search"

// SharedTree makes a single tree/model state usable by a whole group: each
// logical operation executes exactly once, on the coordinator, and its
// result is broadcast to every worker at a barrier. This gives all group
// members identical return values, which the controller relies on to keep
// their branch conditions in lockstep.
type SharedTree struct {
	tree   search.TreeState
	result float64
}

// NewSharedTree wraps a tree/model state for collective use.
func NewSharedTree(tree search.TreeState) *SharedTree {
	return &SharedTree{tree: tree}
}

// View returns the worker-local view implementing search.TreeState.
func (s *SharedTree) View(w *Worker) *TreeView {
	return &TreeView{shared: s, worker: w}
}

// TreeView is one worker's handle on a SharedTree.
type TreeView struct {
	shared *SharedTree
	worker *Worker
}

// collective runs op once on the coordinator and hands the result to every
// worker. The first barrier publishes the result, the second keeps the next
// operation from overwriting it before all workers have read it.
func (v *TreeView) collective(op func(search.TreeState) float64) float64 {
	if v.worker.IsCoordinator() {
		v.shared.result = op(v.shared.tree)
	}
	v.worker.Barrier()
	result := v.shared.result
	v.worker.Barrier()
	return result
}

func (v *TreeView) Loglh() float64 {
	return v.collective(func(t search.TreeState) float64 { return t.Loglh() })
}

func (v *TreeView) OptimizeParamsAll(epsilon float64) float64 {
	return v.collective(func(t search.TreeState) float64 { return t.OptimizeParamsAll(epsilon) })
}

func (v *TreeView) OptimizeBranches(epsilon float64, iters int) float64 {
	return v.collective(func(t search.TreeState) float64 { return t.OptimizeBranches(epsilon, iters) })
}

func (v *TreeView) SPRRound(params *search.TopologyParams) float64 {
	return v.collective(func(t search.TreeState) float64 { return t.SPRRound(params) })
}

func (v *TreeView) NNIRound(params *search.InterchangeParams) float64 {
	return v.collective(func(t search.TreeState) float64 { return t.NNIRound(params) })
}

// TipCount reads immutable data and needs no synchronization.
func (v *TreeView) TipCount() int { return v.shared.tree.TipCount() }

// Snapshot is only called by the checkpoint manager on the coordinator,
// between collective operations, so a direct read is safe.
func (v *TreeView) Snapshot() []float64 { return v.shared.tree.Snapshot() }
