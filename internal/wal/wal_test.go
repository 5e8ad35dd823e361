package wal

import (
	"context"
	"testing"

	"github.com/corewal/corewal/internal/config"
	"github.com/corewal/corewal/internal/ids"
	"github.com/corewal/corewal/internal/objectstore"
)

func newTestStore(t *testing.T) objectstore.Store {
	t.Helper()
	fs, err := objectstore.NewFSProvider(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSProvider: %v", err)
	}
	return objectstore.NewPassthrough(fs)
}

// TestAppendThenRead is scenario S1 from spec.md §8.
func TestAppendThenRead(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	cfg := config.Resolve()

	w, err := Open(ctx, store, cfg, "log1", "writer-a", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	first, err := w.AppendMany(ctx, [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")})
	if err != nil {
		t.Fatalf("AppendMany: %v", err)
	}
	if first != 0 {
		t.Fatalf("first offset = %d, want 0", first)
	}

	r, err := OpenReader(ctx, store, "log1", nil)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	recs, err := r.Read(ctx, 0, 3)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []string{"a", "bb", "ccc"}
	if len(recs) != len(want) {
		t.Fatalf("got %d records, want %d", len(recs), len(want))
	}
	for i, rec := range recs {
		if string(rec.Bytes) != want[i] {
			t.Fatalf("record %d = %q, want %q", i, rec.Bytes, want[i])
		}
	}

	m := w.Manifest()
	if m.nextWriteOffset() != 3 {
		t.Fatalf("manifest.next_write = %d, want 3", m.nextWriteOffset())
	}
}

// TestSetsumInvariantAcrossAppends is testable property 1 from spec.md §8.
func TestSetsumInvariantAcrossAppends(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	cfg := config.Resolve(config.OptFragmentRolloverThreshold(4))

	w, err := Open(ctx, store, cfg, "log2", "writer-a", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 20; i++ {
		if _, err := w.AppendMany(ctx, [][]byte{[]byte{byte(i)}}); err != nil {
			t.Fatalf("AppendMany(%d): %v", i, err)
		}
		m := w.Manifest()
		if !m.checkInvariant() {
			t.Fatalf("setsum invariant violated after append %d", i)
		}
		if !m.checkContiguity() {
			t.Fatalf("contiguity violated after append %d", i)
		}
	}
}

// TestSnapshotRollover is scenario S2 from spec.md §8 (structural check:
// rollover happens and the resulting manifest still satisfies the setsum
// and contiguity invariants; exact fragment/snapshot counts are an
// implementation detail of the rollover grouping policy, not re-derived
// here bit for bit).
func TestSnapshotRollover(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	cfg := config.Resolve(config.OptFragmentRolloverThreshold(3))

	w, err := Open(ctx, store, cfg, "log3", "writer-a", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 7; i++ {
		if _, err := w.AppendMany(ctx, [][]byte{[]byte{byte(i)}}); err != nil {
			t.Fatalf("AppendMany(%d): %v", i, err)
		}
	}
	m := w.Manifest()
	if len(m.Snapshots) == 0 {
		t.Fatal("expected at least one snapshot after exceeding fragment_rollover_threshold repeatedly")
	}
	if len(m.Fragments) > cfg.FragmentRolloverThreshold {
		t.Fatalf("got %d loose fragments, want <= %d after rollover", len(m.Fragments), cfg.FragmentRolloverThreshold)
	}
	if !m.checkInvariant() {
		t.Fatal("setsum invariant violated after rollover")
	}
	if !m.checkContiguity() {
		t.Fatal("contiguity violated after rollover")
	}

	// Every offset is still readable after rollover folded fragments into
	// snapshots.
	r, err := OpenReader(ctx, store, "log3", NewMemorySnapshotCache())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	recs, err := r.Read(ctx, 0, 7)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(recs) != 7 {
		t.Fatalf("got %d records, want 7", len(recs))
	}
	for i, rec := range recs {
		if len(rec.Bytes) != 1 || rec.Bytes[0] != byte(i) {
			t.Fatalf("record %d = %v, want [%d]", i, rec.Bytes, i)
		}
	}
}

// TestScrubDetectsInvariant exercises Reader.Scrub over a manifest with
// rolled-up snapshots.
func TestScrubDetectsInvariant(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	cfg := config.Resolve(config.OptFragmentRolloverThreshold(2))

	w, err := Open(ctx, store, cfg, "log4", "writer-a", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 9; i++ {
		if _, err := w.AppendMany(ctx, [][]byte{[]byte{byte(i)}}); err != nil {
			t.Fatalf("AppendMany(%d): %v", i, err)
		}
	}

	r, err := OpenReader(ctx, store, "log4", NewMemorySnapshotCache())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	result, err := r.Scrub(ctx)
	if err != nil {
		t.Fatalf("Scrub: %v", err)
	}
	if result.FragmentsChecked == 0 {
		t.Fatal("expected Scrub to check at least one fragment")
	}
}

// TestGCWithCursor is scenario S3 from spec.md §8.
func TestGCWithCursor(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	cfg := config.Resolve(config.OptFragmentRolloverThreshold(3))

	w, err := Open(ctx, store, cfg, "log5", "writer-a", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 7; i++ {
		if _, err := w.AppendMany(ctx, [][]byte{[]byte{byte(i)}}); err != nil {
			t.Fatalf("AppendMany(%d): %v", i, err)
		}
	}

	cursor := Cursor{Name: "reader", Position: 5}
	if err := PutCursor(ctx, store, "log5", cursor); err != nil {
		t.Fatalf("PutCursor: %v", err)
	}

	before := w.Manifest()
	g, err := ComputeGarbage(ctx, store, NewMemorySnapshotCache(), before, 5)
	if err != nil {
		t.Fatalf("ComputeGarbage: %v", err)
	}
	if len(g.FragmentsToDrop) == 0 && len(g.SnapshotsToDrop) == 0 {
		t.Fatal("expected GC to find something below offset 5 to drop")
	}
	for _, f := range g.FragmentsToDrop {
		if f.LimitOffset > 5 {
			t.Fatalf("dropped fragment %+v extends past the cursor", f)
		}
	}

	after, err := ApplyGarbage(ctx, store, "log5", before, g)
	if err != nil {
		t.Fatalf("ApplyGarbage: %v", err)
	}
	if after.Setsum != before.Setsum {
		t.Fatal("GC must not change manifest.setsum")
	}
	if !after.checkInvariant() {
		t.Fatal("setsum invariant violated after GC")
	}
	if !after.checkContiguity() {
		t.Fatal("contiguity violated after GC")
	}

	if err := DeleteGarbageBlobs(ctx, store, g); err != nil {
		t.Fatalf("DeleteGarbageBlobs: %v", err)
	}
}

// TestForkCopyPreservesSetsum is testable property 8 / scenario-adjacent:
// copying at offset o yields a target whose manifest invariant still holds
// and whose total setsum matches the source's.
func TestForkCopyPreservesSetsum(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	cfg := config.Resolve(config.OptFragmentRolloverThreshold(3))

	w, err := Open(ctx, store, cfg, "src", "writer-a", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 7; i++ {
		if _, err := w.AppendMany(ctx, [][]byte{[]byte{byte(i)}}); err != nil {
			t.Fatalf("AppendMany(%d): %v", i, err)
		}
	}
	before := w.Manifest()

	target, err := Copy(ctx, store, "src", ids.Offset(4), "dst")
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if target.Setsum != before.Setsum {
		t.Fatal("Copy must preserve manifest.setsum")
	}
	if target.InitialOffset != 4 {
		t.Fatalf("target.InitialOffset = %d, want 4", target.InitialOffset)
	}
	if !target.checkInvariant() {
		t.Fatal("setsum invariant violated on forked manifest")
	}
	if !target.checkContiguity() {
		t.Fatal("contiguity violated on forked manifest")
	}

	r, err := OpenReader(ctx, store, "dst", NewMemorySnapshotCache())
	if err != nil {
		t.Fatalf("OpenReader(dst): %v", err)
	}
	recs, err := r.Read(ctx, 4, 3)
	if err != nil {
		t.Fatalf("Read(dst): %v", err)
	}
	for i, rec := range recs {
		want := byte(4 + i)
		if len(rec.Bytes) != 1 || rec.Bytes[0] != want {
			t.Fatalf("record %d = %v, want [%d]", i, rec.Bytes, want)
		}
	}

	// Fork isolation: writing to the source after the fork must not be
	// visible through the target.
	if _, err := w.AppendMany(ctx, [][]byte{[]byte("z")}); err != nil {
		t.Fatalf("AppendMany after fork: %v", err)
	}
	targetAfter, err := r.Manifest(ctx)
	if err != nil {
		t.Fatalf("Manifest(dst): %v", err)
	}
	if targetAfter.nextWriteOffset() != target.nextWriteOffset() {
		t.Fatal("target manifest must not observe writes made to the source after the fork")
	}
}
