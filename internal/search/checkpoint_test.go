package search

import (
	"errors"
	"testing"

	"github.com/phylogo/treesearch/internal/store"
)

// rankWorker is a fixed-rank group member with a no-op barrier, for
// exercising the coordinator-only write path without a real group.
type rankWorker struct{ coordinator bool }

func (w rankWorker) IsCoordinator() bool { return w.coordinator }
func (w rankWorker) Barrier()            {}

// failingStore rejects every save so the degraded-persistence path can be
// observed.
type failingStore struct{ saves int }

func (s *failingStore) SaveCheckpoint(runID string, ckp *store.Checkpoint) error {
	s.saves++
	return errors.New("disk full")
}

func (s *failingStore) LoadCheckpoint(runID string) (*store.Checkpoint, error) {
	return nil, store.ErrNotFound
}

func (s *failingStore) ListCheckpoints() ([]store.CheckpointInfo, error) {
	return nil, nil
}

func (s *failingStore) DeleteCheckpoint(runID string) error { return nil }

func managerConfig() store.RunConfig {
	return store.RunConfig{
		Tips:     20,
		Seed:     42,
		Strategy: "fixed",
		Epsilon:  0.1,
		Workers:  1,
	}
}

func TestManager_UpdateAndWritePersists(t *testing.T) {
	fsStore, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	mgr := NewManager(fsStore, "run-1", managerConfig(), nil)
	st := mgr.SearchState()
	st.Loglh = -2500
	st.Phase = PhaseFastSPR
	st.Iteration = 3
	st.Topology.RadiusMin = 1
	st.Topology.RadiusMax = 10
	st.BestFastRadius = 10

	tree := newFakeTree(20, -2500)
	if err := mgr.UpdateAndWrite(tree); err != nil {
		t.Fatalf("UpdateAndWrite failed: %v", err)
	}

	ckp, err := fsStore.LoadCheckpoint("run-1")
	if err != nil {
		t.Fatalf("Failed to load checkpoint: %v", err)
	}

	if ckp.State.Loglh != -2500 {
		t.Errorf("Expected persisted loglh -2500, got %f", ckp.State.Loglh)
	}
	if ckp.State.Phase != int(PhaseFastSPR) {
		t.Errorf("Expected persisted phase %d, got %d", int(PhaseFastSPR), ckp.State.Phase)
	}
	if ckp.Config.Strategy != "fixed" {
		t.Errorf("Expected config strategy fixed, got %q", ckp.Config.Strategy)
	}
	if len(ckp.BranchLengths) != len(tree.Snapshot()) {
		t.Errorf("Expected %d branch lengths, got %d", len(tree.Snapshot()), len(ckp.BranchLengths))
	}
}

func TestManager_SnapshotTracksLastWrite(t *testing.T) {
	mgr := NewManager(nil, "run-1", managerConfig(), nil)
	tree := newFakeTree(20, -2500)

	st := mgr.SearchState()
	st.Loglh = -2500
	st.Phase = PhaseModOpt1

	if got := mgr.Snapshot(); got.Phase != PhaseBrlenOpt {
		t.Errorf("Snapshot should lag until the first write, got phase %s", got.Phase)
	}

	if err := mgr.UpdateAndWrite(tree); err != nil {
		t.Fatalf("UpdateAndWrite failed: %v", err)
	}

	got := mgr.Snapshot()
	if got.Phase != PhaseModOpt1 || got.Loglh != -2500 {
		t.Errorf("Snapshot did not track the write: %+v", got)
	}

	// later in-flight mutations stay invisible until the next boundary
	st.Loglh = -2400
	if got := mgr.Snapshot(); got.Loglh != -2500 {
		t.Errorf("Snapshot exposed unwritten state: %f", got.Loglh)
	}
}

func TestManager_RestoreRoundTrip(t *testing.T) {
	fsStore, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	first := NewManager(fsStore, "run-1", managerConfig(), nil)
	st := first.SearchState()
	st.Loglh = -2100.5
	st.Phase = PhaseSlowSPR
	st.Iteration = 7
	st.Topology.RadiusMin = 6
	st.Topology.RadiusMax = 10
	st.Topology.Thorough = true
	st.Topology.NTopolKeep = 20
	st.Topology.SubtreeCutoff = 1.0
	st.Topology.Cutoff.Threshold = 2.1
	st.Topology.Cutoff.DeclineCount = 4
	st.Topology.Cutoff.DeclineSum = 8.4
	st.Topology.BrlenEpsilonFull = 0.1
	st.Topology.BrlenEpsilonTriplet = 1000.0
	st.Interchange.Tolerance = 0.1
	st.Interchange.Epsilon = 0.1
	st.BestFastRadius = 10

	if err := first.UpdateAndWrite(newFakeTree(20, -2100.5)); err != nil {
		t.Fatalf("UpdateAndWrite failed: %v", err)
	}

	ckp, err := fsStore.LoadCheckpoint("run-1")
	if err != nil {
		t.Fatalf("Failed to load checkpoint: %v", err)
	}

	second := NewManager(fsStore, "run-1", managerConfig(), nil)
	second.Restore(ckp)

	if *second.SearchState() != *first.SearchState() {
		t.Errorf("Restored state differs:\n got %+v\nwant %+v",
			*second.SearchState(), *first.SearchState())
	}
	if got := second.Snapshot(); got.Phase != PhaseSlowSPR {
		t.Errorf("Restore should prime the snapshot, got phase %s", got.Phase)
	}
}

func TestManager_NilStoreDisablesPersistence(t *testing.T) {
	mgr := NewManager(nil, "run-1", managerConfig(), nil)
	if err := mgr.UpdateAndWrite(newFakeTree(20, -2500)); err != nil {
		t.Fatalf("UpdateAndWrite with nil store failed: %v", err)
	}
}

func TestManager_WriteFailureDoesNotAbortRun(t *testing.T) {
	st := &failingStore{}
	mgr := NewManager(st, "run-1", managerConfig(), nil)

	if err := mgr.UpdateAndWrite(newFakeTree(20, -2500)); err != nil {
		t.Fatalf("A failed write must not surface as an error, got: %v", err)
	}
	if st.saves != 1 {
		t.Errorf("Expected 1 attempted save, got %d", st.saves)
	}
}

func TestManager_OnlyCoordinatorWrites(t *testing.T) {
	fsStore, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	mgr := NewManager(fsStore, "run-1", managerConfig(), rankWorker{coordinator: true})
	follower := mgr.View(rankWorker{coordinator: false})

	follower.SearchState().Loglh = -2500
	if err := follower.UpdateAndWrite(newFakeTree(20, -2500)); err != nil {
		t.Fatalf("Follower UpdateAndWrite failed: %v", err)
	}

	if _, err := fsStore.LoadCheckpoint("run-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Follower must not write checkpoints, got err %v", err)
	}

	coordinator := mgr.View(rankWorker{coordinator: true})
	if err := coordinator.UpdateAndWrite(newFakeTree(20, -2500)); err != nil {
		t.Fatalf("Coordinator UpdateAndWrite failed: %v", err)
	}

	if _, err := fsStore.LoadCheckpoint("run-1"); err != nil {
		t.Errorf("Coordinator write missing: %v", err)
	}
}

func TestManager_ViewsShareState(t *testing.T) {
	mgr := NewManager(nil, "run-1", managerConfig(), rankWorker{coordinator: true})

	a := mgr.View(rankWorker{coordinator: true})
	b := mgr.View(rankWorker{coordinator: false})

	a.SearchState().Loglh = -1234.5
	if b.SearchState().Loglh != -1234.5 {
		t.Error("Views must share the manager's authoritative state")
	}
}

func TestManager_TraceEntryPerBoundary(t *testing.T) {
	dir := t.TempDir()
	tw, err := store.NewTraceWriter(dir, "run-1", false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}

	mgr := NewManager(nil, "run-1", managerConfig(), nil)
	mgr.AttachTrace(tw)

	st := mgr.SearchState()
	tree := newFakeTree(20, -2500)

	st.Phase = PhaseModOpt1
	st.Loglh = -2500
	if err := mgr.UpdateAndWrite(tree); err != nil {
		t.Fatalf("UpdateAndWrite failed: %v", err)
	}

	st.Phase = PhaseFastSPR
	st.Iteration = 1
	st.Loglh = -2400
	if err := mgr.UpdateAndWrite(tree); err != nil {
		t.Fatalf("UpdateAndWrite failed: %v", err)
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("Failed to close trace writer: %v", err)
	}

	reader, err := store.NewTraceReader(dir, "run-1")
	if err != nil {
		t.Fatalf("Failed to open trace: %v", err)
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read trace: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("Expected 2 trace entries, got %d", len(entries))
	}
	if entries[0].Phase != "modOpt1" || entries[1].Phase != "fastSPR" {
		t.Errorf("Unexpected trace phases: %q, %q", entries[0].Phase, entries[1].Phase)
	}
	if entries[1].Loglh != -2400 {
		t.Errorf("Expected second entry loglh -2400, got %f", entries[1].Loglh)
	}
}

func TestSnapshotStateRoundTrip(t *testing.T) {
	original := SearchState{
		Loglh:     -1987.25,
		Iteration: 5,
		Phase:     PhaseSlowSPR,
		Topology: TopologyParams{
			RadiusMin:     6,
			RadiusMax:     10,
			Thorough:      true,
			NTopolKeep:    20,
			SubtreeCutoff: 1.0,
			Cutoff: CutoffInfo{
				Threshold:    1.9,
				DeclineCount: 3,
				DeclineSum:   5.7,
			},
			BrlenEpsilonFull:    0.1,
			BrlenEpsilonTriplet: 1000.0,
		},
		Interchange: InterchangeParams{
			Tolerance: 0.1,
			Epsilon:   0.1,
		},
		BestFastRadius: 10,
	}

	restored := stateFromSnapshot(snapshotFromState(&original))
	if restored != original {
		t.Errorf("Round trip changed the state:\n got %+v\nwant %+v", restored, original)
	}
}
