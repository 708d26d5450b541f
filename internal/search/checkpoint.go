package search

import (
	"log/slog"
	"sync"
	"time"

	"github.com/phylogo/treesearch/internal/store"
)

// Manager owns the authoritative SearchState of a run and persists it at
// phase boundaries. It implements CheckpointIO.
//
// Only the coordinator writes; every worker then meets at a barrier so the
// whole group observes a consistent phase boundary before proceeding. A
// failed write is logged and the run continues: the group must never diverge
// mid-phase over a persistence problem, and correctness under interruption
// comes from resuming at the last boundary that did make it to disk.
type Manager struct {
	runID  string
	st     store.Store // nil disables persistence
	worker GroupWorker
	cfg    store.RunConfig

	state SearchState

	mu    sync.Mutex
	last  SearchState // last written copy, for concurrent observers
	trace *store.TraceWriter
}

// NewManager creates a checkpoint manager for a fresh run.
// A nil store disables persistence; a nil worker means a group of one.
func NewManager(st store.Store, runID string, cfg store.RunConfig, worker GroupWorker) *Manager {
	if worker == nil {
		worker = soloWorker{}
	}
	return &Manager{
		runID:  runID,
		st:     st,
		worker: worker,
		cfg:    cfg,
	}
}

// Restore primes the manager's state from a persisted checkpoint, so the
// next run resumes at the recorded phase.
func (m *Manager) Restore(ckp *store.Checkpoint) {
	m.state = stateFromSnapshot(ckp.State)
	m.mu.Lock()
	m.last = m.state
	m.mu.Unlock()
}

// AttachTrace directs per-phase score entries to the given trace writer.
func (m *Manager) AttachTrace(tw *store.TraceWriter) {
	m.mu.Lock()
	m.trace = tw
	m.mu.Unlock()
}

// SearchState returns the authoritative resumable state.
func (m *Manager) SearchState() *SearchState {
	return &m.state
}

// Snapshot returns a copy of the state as of the last write. Safe to call
// from other goroutines while the run is in flight.
func (m *Manager) Snapshot() SearchState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// UpdateAndWrite persists the coordinator's state together with the tree
// snapshot, then synchronizes the group on the new phase boundary.
func (m *Manager) UpdateAndWrite(tree TreeState) error {
	return m.updateAndWrite(tree, m.worker)
}

// View binds the shared manager to one group member. Every worker of a group
// run must go through its own view, so the coordinator check inside
// updateAndWrite sees the caller, not whoever constructed the manager.
func (m *Manager) View(worker GroupWorker) CheckpointIO {
	return &managerView{m: m, worker: worker}
}

type managerView struct {
	m      *Manager
	worker GroupWorker
}

func (v *managerView) SearchState() *SearchState { return v.m.SearchState() }

func (v *managerView) UpdateAndWrite(tree TreeState) error {
	return v.m.updateAndWrite(tree, v.worker)
}

func (m *Manager) updateAndWrite(tree TreeState, worker GroupWorker) error {
	if worker.IsCoordinator() {
		m.mu.Lock()
		m.last = m.state
		trace := m.trace
		m.mu.Unlock()

		if m.st != nil {
			ckp := store.NewCheckpoint(m.runID, snapshotFromState(&m.state), tree.Snapshot(), m.cfg)
			if err := m.st.SaveCheckpoint(m.runID, ckp); err != nil {
				slog.Error("Checkpoint write failed", "runID", m.runID, "phase", m.state.Phase, "error", err)
			}
		}

		if trace != nil {
			entry := store.TraceEntry{
				Phase:     m.state.Phase.String(),
				Iteration: m.state.Iteration,
				Loglh:     m.state.Loglh,
				Timestamp: time.Now(),
			}
			if err := trace.Write(entry); err != nil {
				slog.Warn("Trace write failed", "runID", m.runID, "error", err)
			}
		}
	}

	worker.Barrier()
	return nil
}

// snapshotFromState flattens the in-memory state into its persisted form.
func snapshotFromState(st *SearchState) store.SearchSnapshot {
	return store.SearchSnapshot{
		Loglh:               st.Loglh,
		Iteration:           st.Iteration,
		Phase:               int(st.Phase),
		RadiusMin:           st.Topology.RadiusMin,
		RadiusMax:           st.Topology.RadiusMax,
		Thorough:            st.Topology.Thorough,
		NTopolKeep:          st.Topology.NTopolKeep,
		SubtreeCutoff:       st.Topology.SubtreeCutoff,
		CutoffThreshold:     st.Topology.Cutoff.Threshold,
		CutoffDeclineCount:  st.Topology.Cutoff.DeclineCount,
		CutoffDeclineSum:    st.Topology.Cutoff.DeclineSum,
		BrlenEpsilonFull:    st.Topology.BrlenEpsilonFull,
		BrlenEpsilonTriplet: st.Topology.BrlenEpsilonTriplet,
		NNITolerance:        st.Interchange.Tolerance,
		NNIEpsilon:          st.Interchange.Epsilon,
		BestFastRadius:      st.BestFastRadius,
	}
}

// stateFromSnapshot rebuilds the in-memory state from its persisted form.
func stateFromSnapshot(snap store.SearchSnapshot) SearchState {
	return SearchState{
		Loglh:     snap.Loglh,
		Iteration: snap.Iteration,
		Phase:     Phase(snap.Phase),
		Topology: TopologyParams{
			RadiusMin:     snap.RadiusMin,
			RadiusMax:     snap.RadiusMax,
			Thorough:      snap.Thorough,
			NTopolKeep:    snap.NTopolKeep,
			SubtreeCutoff: snap.SubtreeCutoff,
			Cutoff: CutoffInfo{
				Threshold:    snap.CutoffThreshold,
				DeclineCount: snap.CutoffDeclineCount,
				DeclineSum:   snap.CutoffDeclineSum,
			},
			BrlenEpsilonFull:    snap.BrlenEpsilonFull,
			BrlenEpsilonTriplet: snap.BrlenEpsilonTriplet,
		},
		Interchange: InterchangeParams{
			Tolerance: snap.NNITolerance,
			Epsilon:   snap.NNIEpsilon,
		},
		BestFastRadius: snap.BestFastRadius,
	}
}
