package wal

import (
	"context"

	"github.com/corewal/corewal/internal/ids"
	"github.com/corewal/corewal/internal/objectstore"
	"github.com/corewal/corewal/internal/setsum"
)

// Garbage is what ComputeGarbage proposes to remove from a manifest
// (spec.md §4.2.5).
type Garbage struct {
	SnapshotsToDrop   []SnapshotPointer
	SnapshotsToMake   []Snapshot
	FragmentsToDrop   []Fragment
	SetsumToDiscard   setsum.Setsum
	FirstToKeepOffset ids.Offset
	FirstToKeepSeqNo  ids.SeqNo
}

// ComputeGarbage walks a manifest's live children and determines what may
// be dropped given minCursor, the minimum position across the log's
// cursors. Only fragments (and snapshot leaves) whose limit <= minCursor
// may be dropped; a snapshot straddling minCursor is rewritten to a
// smaller, equivalent snapshot holding only its still-live children
// (spec.md §4.2.5, §9 second open question: "snapshots are rewritten to a
// smaller equivalent form when their range is partially dropped").
func ComputeGarbage(ctx context.Context, store objectstore.Store, cache SnapshotCache, m Manifest, minCursor ids.Offset) (Garbage, error) {
	if cache == nil {
		cache = NopSnapshotCache{}
	}
	var g Garbage
	var survivors []Child
	for _, c := range m.children() {
		survivor, err := gcChild(ctx, store, cache, c, minCursor, &g)
		if err != nil {
			return Garbage{}, err
		}
		if survivor != nil {
			survivors = append(survivors, *survivor)
		}
	}

	if len(survivors) == 0 {
		g.FirstToKeepOffset = m.nextWriteOffset()
		g.FirstToKeepSeqNo = m.NextSeqNo
		return g, nil
	}
	g.FirstToKeepOffset, _ = survivors[0].coveredRange()
	// A rewritten snapshot is not in storage until ApplyGarbage writes it,
	// so follow the leftmost path through SnapshotsToMake (outermost last)
	// before loading anything.
	first := survivors[0]
	for i := len(g.SnapshotsToMake) - 1; i >= 0 && first.Snapshot != nil; i-- {
		if made := g.SnapshotsToMake[i]; made.Setsum == first.Snapshot.Setsum {
			first = made.Children[0]
		}
	}
	seqNo, err := leftmostSeqNo(ctx, store, cache, first)
	if err != nil {
		return Garbage{}, err
	}
	g.FirstToKeepSeqNo = seqNo
	return g, nil
}

// gcChild returns the surviving Child (nil if fully dropped) and records
// what was dropped into g.
func gcChild(ctx context.Context, store objectstore.Store, cache SnapshotCache, c Child, minCursor ids.Offset, g *Garbage) (*Child, error) {
	start, limit := c.coveredRange()
	if limit <= minCursor {
		// Entirely droppable.
		if c.Fragment != nil {
			g.FragmentsToDrop = append(g.FragmentsToDrop, *c.Fragment)
			g.SetsumToDiscard = setsum.Add(g.SetsumToDiscard, c.Fragment.Setsum)
		} else {
			g.SnapshotsToDrop = append(g.SnapshotsToDrop, *c.Snapshot)
			g.SetsumToDiscard = setsum.Add(g.SetsumToDiscard, c.Snapshot.Setsum)
		}
		return nil, nil
	}
	if start >= minCursor {
		// Entirely kept, untouched.
		return &c, nil
	}
	// Straddles the cutoff.
	if c.Fragment != nil {
		// Fragments are atomic: a fragment that isn't entirely below
		// min_cursor is entirely kept.
		return &c, nil
	}

	snap, err := loadSnapshot(ctx, store, cache, *c.Snapshot)
	if err != nil {
		return nil, err
	}
	var kept []Child
	for _, child := range snap.Children {
		survivor, err := gcChild(ctx, store, cache, child, minCursor, g)
		if err != nil {
			return nil, err
		}
		if survivor != nil {
			kept = append(kept, *survivor)
		}
	}
	if len(kept) == 0 {
		// Fully consumed after recursion; the whole snapshot pointer is
		// dropped (already accounted for via its children above).
		return nil, nil
	}

	newSnap := Snapshot{
		Depth:        snap.Depth,
		Children:     kept,
		CoveredStart: func() ids.Offset { s, _ := kept[0].coveredRange(); return s }(),
	}
	_, newSnap.CoveredLimit = kept[len(kept)-1].coveredRange()
	acc := setsum.Zero
	for _, k := range kept {
		acc = setsum.Add(acc, k.setsum())
	}
	newSnap.Setsum = acc

	// The old snapshot blob is superseded by a smaller equivalent one. The
	// dropped children already added their setsums to SetsumToDiscard during
	// the recursion above, and old.setsum XOR new.setsum is exactly those, so
	// nothing more is discarded here.
	g.SnapshotsToDrop = append(g.SnapshotsToDrop, *c.Snapshot)
	g.SnapshotsToMake = append(g.SnapshotsToMake, newSnap)

	newPointer := newSnap.Pointer(snapshotPath(pathPrefixOf(c.Snapshot.Path), newSnap.Setsum))
	return &Child{Snapshot: &newPointer}, nil
}

// pathPrefixOf recovers the log prefix from a snapshot path of the form
// "{prefix}/s/{setsum_hex}".
func pathPrefixOf(snapshotPath string) string {
	const suffix = "/s/"
	for i := len(snapshotPath) - len(suffix); i >= 0; i-- {
		if snapshotPath[i:i+len(suffix)] == suffix {
			return snapshotPath[:i]
		}
	}
	return ""
}

func leftmostSeqNo(ctx context.Context, store objectstore.Store, cache SnapshotCache, c Child) (ids.SeqNo, error) {
	if c.Fragment != nil {
		return c.Fragment.SeqNo, nil
	}
	snap, err := loadSnapshot(ctx, store, cache, *c.Snapshot)
	if err != nil {
		return 0, err
	}
	if len(snap.Children) == 0 {
		return 0, ErrManifestCorrupt
	}
	return leftmostSeqNo(ctx, store, cache, snap.Children[0])
}

// ApplyGarbage rewrites a manifest to reflect g: drops the listed
// fragments/snapshots, writes any rewritten (smaller) snapshot bodies,
// replaces collected += setsum_to_discard, and leaves setsum unchanged
// (spec.md §4.2.5's manifest-level invariant). Storage deletes of the
// dropped blobs are the caller's responsibility and must happen only
// after this returns a manifest that has been durably committed (a crash
// in between merely leaks unreferenced blobs, recovered by a later sweep).
func ApplyGarbage(ctx context.Context, store objectstore.Store, prefix string, m Manifest, g Garbage) (Manifest, error) {
	dropSet := make(map[string]bool, len(g.FragmentsToDrop)+len(g.SnapshotsToDrop))
	for _, f := range g.FragmentsToDrop {
		dropSet[f.Path] = true
	}
	for _, s := range g.SnapshotsToDrop {
		dropSet[s.Path] = true
	}

	next := cloneManifest(m)
	filteredFragments := next.Fragments[:0:0]
	for _, f := range next.Fragments {
		if !dropSet[f.Path] {
			filteredFragments = append(filteredFragments, f)
		}
	}
	filteredSnapshots := next.Snapshots[:0:0]
	for _, s := range next.Snapshots {
		if !dropSet[s.Path] {
			filteredSnapshots = append(filteredSnapshots, s)
		}
	}

	for _, snap := range g.SnapshotsToMake {
		path := snapshotPath(prefix, snap.Setsum)
		data, err := marshalSnapshot(snap)
		if err != nil {
			return Manifest{}, err
		}
		if err := store.PutIfAbsent(ctx, path, data); err != nil && err != objectstore.ErrAlreadyExists {
			return Manifest{}, err
		}
		filteredSnapshots = append(filteredSnapshots, snap.Pointer(path))
	}

	next.Fragments = filteredFragments
	next.Snapshots = filteredSnapshots
	next.Collected = setsum.Add(next.Collected, g.SetsumToDiscard)
	next.InitialOffset = g.FirstToKeepOffset
	if g.FirstToKeepSeqNo > next.InitialSeqNo {
		next.InitialSeqNo = g.FirstToKeepSeqNo
	}
	return next, nil
}

// DeleteGarbageBlobs issues the storage deletes for everything g dropped.
// Called only after the new manifest has already been durably committed
// (spec.md §4.2.5).
func DeleteGarbageBlobs(ctx context.Context, store objectstore.Store, g Garbage) error {
	for _, f := range g.FragmentsToDrop {
		if err := store.Delete(ctx, f.Path); err != nil && err != objectstore.ErrNotFound {
			return err
		}
	}
	for _, s := range g.SnapshotsToDrop {
		if err := store.Delete(ctx, s.Path); err != nil && err != objectstore.ErrNotFound {
			return err
		}
	}
	return nil
}
