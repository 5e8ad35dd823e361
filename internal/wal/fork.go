package wal

import (
	"context"

	"github.com/corewal/corewal/internal/ids"
	"github.com/corewal/corewal/internal/objectstore"
)

// Copy materializes a new log at targetPrefix whose manifest references
// sourcePrefix's fragments and snapshots from sourceOffset onward.
// Fragment/snapshot blobs are not copied — they live in the same store;
// only a new manifest is written, with InitialOffset/InitialSeqNo recording
// the cut (spec.md §4.2.6).
func Copy(ctx context.Context, store objectstore.Store, sourcePrefix string, sourceOffset ids.Offset, targetPrefix string) (Manifest, error) {
	data, err := store.Get(ctx, manifestPath(sourcePrefix))
	if err != nil {
		if err == objectstore.ErrNotFound {
			return Manifest{}, ErrFragmentMissing
		}
		return Manifest{}, err
	}
	src, derr := unmarshalManifest(data)
	if derr != nil {
		return Manifest{}, ErrManifestCorrupt
	}

	offset := src.nextWriteOffset()
	if sourceOffset < src.InitialOffset || sourceOffset > offset {
		return Manifest{}, ErrInvalidArgument
	}

	// ComputeGarbage is reused here purely as a "what's below this cut"
	// walk: treating sourceOffset as a minCursor, its survivors are exactly
	// the fork target's live set, and it already knows how to rewrite a
	// snapshot straddling the cut into a smaller equivalent one.
	g, err := ComputeGarbage(ctx, store, nil, src, sourceOffset)
	if err != nil {
		return Manifest{}, err
	}
	// We never call DeleteGarbageBlobs against the source — fork never
	// deletes or rewrites the source log, only adds a new manifest that
	// references its existing blobs.
	target, err := ApplyGarbage(ctx, newNoopDeleteStore(store), targetPrefix, src, g)
	if err != nil {
		return Manifest{}, err
	}
	target.WriterLabel = targetPrefix
	target.AccBytes = src.AccBytes - sumBytes(g.FragmentsToDrop)

	encoded, merr := marshalManifest(target)
	if merr != nil {
		return Manifest{}, merr
	}
	hash, cerr := store.CompareAndSwap(ctx, manifestPath(targetPrefix), objectstore.ZeroHash, encoded)
	if cerr != nil {
		return Manifest{}, cerr
	}
	_ = hash
	return target, nil
}

func sumBytes(fragments []Fragment) int64 {
	var total int64
	for _, f := range fragments {
		total += f.NumBytes
	}
	return total
}

// noopDeleteStore wraps a Store so ApplyGarbage's PutIfAbsent calls (for
// any rewritten, partially-retained snapshot straddling the fork cut) still
// go to real storage, while guaranteeing fork never issues a delete against
// the source log — ApplyGarbage itself never calls Delete, but this keeps
// the invariant explicit and future-proof if that ever changes.
type noopDeleteStore struct {
	objectstore.Store
}

func newNoopDeleteStore(s objectstore.Store) objectstore.Store {
	return &noopDeleteStore{Store: s}
}

func (n *noopDeleteStore) Delete(ctx context.Context, path string) error {
	return objectstore.ErrDeleteUnsupported
}

func (n *noopDeleteStore) SupportsDelete() bool { return false }
