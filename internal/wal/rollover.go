package wal

import (
	"context"

	"github.com/corewal/corewal/internal/config"
	"github.com/corewal/corewal/internal/objectstore"
	"github.com/corewal/corewal/internal/setsum"
)

// rollover implements spec.md §4.2.1 step 5: once fragments.len() exceeds
// fragment_rollover_threshold, the oldest contiguous group is replaced by a
// snapshot; recursively, once snapshots.len() at a given depth exceeds
// snapshot_rollover_threshold, the oldest contiguous group at that depth is
// replaced by a depth+1 snapshot. Both levels repeat until the manifest is
// back under threshold, so a single large batch of appends can trigger
// several rollups in one call.
func rollover(ctx context.Context, store objectstore.Store, prefix string, m *Manifest, cfg *config.Config) error {
	for len(m.Fragments) > cfg.FragmentRolloverThreshold {
		n := cfg.FragmentRolloverThreshold
		if n < 1 {
			n = 1
		}
		group := m.Fragments[:n]
		rest := m.Fragments[n:]

		snap := Snapshot{
			Depth:        0,
			CoveredStart: group[0].StartOffset,
			CoveredLimit: group[len(group)-1].LimitOffset,
		}
		acc := setsum.Zero
		for i := range group {
			f := group[i]
			snap.Children = append(snap.Children, Child{Fragment: &f})
			acc = setsum.Add(acc, f.Setsum)
		}
		snap.Setsum = acc

		pointer, err := writeSnapshot(ctx, store, prefix, snap)
		if err != nil {
			return err
		}
		m.Snapshots = append(m.Snapshots, pointer)
		m.Fragments = append([]Fragment(nil), rest...)
	}

	depth := 0
	for {
		atDepth, otherDepths := partitionByDepth(m.Snapshots, depth)
		if len(atDepth) <= cfg.SnapshotRolloverThreshold {
			deeper := false
			for _, p := range otherDepths {
				if p.Depth > depth {
					deeper = true
					break
				}
			}
			if !deeper {
				break
			}
			depth++
			continue
		}
		n := cfg.SnapshotRolloverThreshold
		if n < 1 {
			n = 1
		}
		group := atDepth[:n]
		rest := atDepth[n:]

		snap := Snapshot{
			Depth:        depth + 1,
			CoveredStart: group[0].CoveredStart,
			CoveredLimit: group[len(group)-1].CoveredLimit,
		}
		acc := setsum.Zero
		for i := range group {
			p := group[i]
			snap.Children = append(snap.Children, Child{Snapshot: &p})
			acc = setsum.Add(acc, p.Setsum)
		}
		snap.Setsum = acc

		pointer, err := writeSnapshot(ctx, store, prefix, snap)
		if err != nil {
			return err
		}

		merged := append([]SnapshotPointer(nil), otherDepths...)
		merged = append(merged, rest...)
		merged = append(merged, pointer)
		m.Snapshots = merged
		// Re-examine from depth 0: the newly created depth+1 snapshot may
		// itself now be part of an over-full group at its depth.
		depth = 0
	}
	return nil
}

func partitionByDepth(pointers []SnapshotPointer, depth int) (atDepth, other []SnapshotPointer) {
	for _, p := range pointers {
		if p.Depth == depth {
			atDepth = append(atDepth, p)
		} else {
			other = append(other, p)
		}
	}
	return atDepth, other
}

func writeSnapshot(ctx context.Context, store objectstore.Store, prefix string, snap Snapshot) (SnapshotPointer, error) {
	path := snapshotPath(prefix, snap.Setsum)
	data, err := marshalSnapshot(snap)
	if err != nil {
		return SnapshotPointer{}, err
	}
	if err := store.PutIfAbsent(ctx, path, data); err != nil && err != objectstore.ErrAlreadyExists {
		return SnapshotPointer{}, err
	}
	return snap.Pointer(path), nil
}
