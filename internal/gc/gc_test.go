package gc

import (
	"context"
	"testing"

	"github.com/corewal/corewal/internal/config"
	"github.com/corewal/corewal/internal/ids"
	"github.com/corewal/corewal/internal/logrpc"
	"github.com/corewal/corewal/internal/objectstore"
	"github.com/corewal/corewal/internal/systemdb"
)

func newTestStore(t *testing.T) objectstore.Store {
	t.Helper()
	fs, err := objectstore.NewFSProvider(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSProvider: %v", err)
	}
	return objectstore.NewPassthrough(fs)
}

const day = int64(24 * 60 * 60 * 1000 * 1000)

// TestComputeVersionsToDeleteRetainsInvariants is spec.md §8 property 9:
// version 0 is never dropped, the minVersionsToKeep newest are never
// dropped, and nothing created at or after cutoff is ever dropped.
func TestComputeVersionsToDeleteRetainsInvariants(t *testing.T) {
	coll := ids.NewCollectionID()
	graph := VersionGraph{Nodes: []VersionNode{
		{CollectionID: coll, Version: 0, CreatedAtUnixMicros: 0, Files: []string{"a"}},
		{CollectionID: coll, Version: 1, CreatedAtUnixMicros: 1 * day, Files: []string{"b"}},
		{CollectionID: coll, Version: 2, CreatedAtUnixMicros: 2 * day, Files: []string{"c"}},
		{CollectionID: coll, Version: 3, CreatedAtUnixMicros: 3 * day, Files: []string{"d"}},
		{CollectionID: coll, Version: 4, CreatedAtUnixMicros: 4 * day, Files: []string{"e"}},
	}}

	plan := ComputeVersionsToDelete(graph, 2*day, 2)

	dropped := make(map[ids.Version]bool)
	for _, k := range plan.VersionsToDelete {
		dropped[k.Version] = true
	}
	if dropped[0] {
		t.Fatal("version 0 must never be dropped")
	}
	if dropped[3] || dropped[4] {
		t.Fatal("the 2 most recent versions must never be dropped")
	}
	if dropped[2] {
		t.Fatal("version 2 was created at cutoff, not before it, must not be dropped")
	}
	if !dropped[1] {
		t.Fatal("version 1 predates cutoff and is not in the keep window, should be dropped")
	}
	found := false
	for _, f := range plan.FilesToDelete {
		if f == "b" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected file b (version 1's only file) in FilesToDelete, got %v", plan.FilesToDelete)
	}
}

// TestComputeVersionsToDeleteKeepsSharedFiles asserts that a file still
// referenced by a surviving version (e.g. via a fork into another
// collection) is never deleted even though the version that originally
// wrote it is.
func TestComputeVersionsToDeleteKeepsSharedFiles(t *testing.T) {
	src := ids.NewCollectionID()
	fork := ids.NewCollectionID()
	graph := VersionGraph{Nodes: []VersionNode{
		{CollectionID: src, Version: 0, CreatedAtUnixMicros: 0, Files: []string{"base"}},
		{CollectionID: src, Version: 1, CreatedAtUnixMicros: 1 * day, Files: []string{"shared", "src-only"}},
		{CollectionID: src, Version: 2, CreatedAtUnixMicros: 2 * day, Files: []string{"src-only-2"}},
		{CollectionID: fork, Version: 0, CreatedAtUnixMicros: 1 * day, Files: []string{"shared"}},
	}}

	plan := ComputeVersionsToDelete(graph, 10*day, 1)

	for _, f := range plan.FilesToDelete {
		if f == "shared" {
			t.Fatal("shared file referenced by a surviving fork must not be deleted")
		}
	}
	wantGone := map[string]bool{"src-only": true}
	for _, f := range plan.FilesToDelete {
		delete(wantGone, f)
	}
	if len(wantGone) != 0 {
		t.Fatalf("expected src-only to be deleted, missing: %v", wantGone)
	}
}

func TestComputeVersionsToDeleteEmptyGraph(t *testing.T) {
	plan := ComputeVersionsToDelete(VersionGraph{}, 10*day, 2)
	if len(plan.VersionsToDelete) != 0 || len(plan.FilesToDelete) != 0 {
		t.Fatalf("expected empty plan, got %+v", plan)
	}
}

func setup(t *testing.T) (*Orchestrator, *systemdb.Fake, logrpc.LogRPC, objectstore.Store, ids.CollectionID) {
	t.Helper()
	store := newTestStore(t)
	cfg := config.Resolve()
	sdb := systemdb.NewFake()
	lr := logrpc.NewLocal(store, cfg, nil)

	collID := ids.NewCollectionID()
	sdb.Seed(systemdb.Collection{
		ID:              collID,
		Tenant:          "t",
		Version:         0,
		MetadataSegment: systemdb.Segment{ID: ids.NewSegmentID(), Flavor: "metadata"},
		VectorSegment:   systemdb.Segment{ID: ids.NewSegmentID(), Flavor: "vector"},
	})

	o := New(store, sdb, lr, nil)
	return o, sdb, lr, store, collID
}

func TestHardDeleteCollectionRemovesLogPrefix(t *testing.T) {
	o, _, lr, store, collID := setup(t)
	ctx := context.Background()

	if _, err := lr.PushLogs(ctx, collID, [][]byte{[]byte("rec-1"), []byte("rec-2")}); err != nil {
		t.Fatalf("PushLogs: %v", err)
	}

	paths, err := store.List(ctx, logPrefix(collID))
	if err != nil {
		t.Fatalf("List before delete: %v", err)
	}
	if len(paths) == 0 {
		t.Fatal("expected log objects to exist before hard delete")
	}

	if err := o.HardDeleteCollection(ctx, collID); err != nil {
		t.Fatalf("HardDeleteCollection: %v", err)
	}

	after, err := store.List(ctx, logPrefix(collID))
	if err != nil {
		t.Fatalf("List after delete: %v", err)
	}
	if len(after) != 0 {
		t.Fatalf("expected no objects under %s after hard delete, got %v", logPrefix(collID), after)
	}
}

func TestRunNoCollectionsIsNoop(t *testing.T) {
	store := newTestStore(t)
	sdb := systemdb.NewFake()
	lr := logrpc.NewLocal(store, config.Resolve(), nil)
	o := New(store, sdb, lr, nil)

	if err := o.Run(context.Background(), 10*day, 2); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunDropsStaleVersionsAndAdvancesCursor(t *testing.T) {
	o, sdb, _, _, collID := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := sdb.FlushCompaction(ctx, "t", collID, ids.Offset(i+1), ids.Version(i), nil); err != nil {
			t.Fatalf("FlushCompaction %d: %v", i, err)
		}
	}

	if err := o.Run(ctx, 1, 1); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
