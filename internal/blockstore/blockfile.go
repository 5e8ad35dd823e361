package blockstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/corewal/corewal/internal/objectstore"
)

// Mode selects one of spec.md §4.3.4's two mutation disciplines, fixed at
// writer construction.
type Mode int

const (
	// Ordered mode: the caller promises (prefix, key) ascending input.
	Ordered Mode = iota
	// Unordered mode: the caller may set/delete in arbitrary order.
	Unordered
)

// Writer is the blockfile facade spec.md §4.3.4 describes: set/delete
// accumulate into one or more Deltas, fork shares an existing writer's
// blocks copy-on-write, and commit+flush produce new immutable blocks plus
// an updated sparse index.
//
// Blocks live in a flat, id-addressed namespace shared by every blockfile
// (spec.md §4.3.4's fork contract: "Fragment/snapshot blobs are not
// copied... only a new manifest is written" for the WAL applies equally
// here — a block, once written under its uuid, is immutable and may be
// referenced by any number of sparse indexes). Only the sparse index is
// scoped to one blockfile id.
type Writer struct {
	store     objectstore.Store
	id        string
	mode      Mode
	keyType   KeyType
	valueType Flavor
	budget    int

	index *SparseIndex
	// blocks caches decoded blocks already loaded for forking into mutable
	// deltas in Unordered mode, keyed by block id.
	blocks map[string]*Block
	// active is the open delta in Ordered mode (nil until the first Set).
	active *Delta
	// byBlock is the set of deltas keyed by the source block id they
	// overlay, in Unordered mode. A delta with no source block (a brand
	// new one opened because the key fell outside every existing block's
	// range) is keyed by "".
	byBlock map[string]*Delta
}

// NewWriter opens a blockfile writer with no source: everything it
// produces is new, registered under a fresh id.
func NewWriter(store objectstore.Store, id string, mode Mode, keyType KeyType, valueType Flavor, budget int) *Writer {
	return &Writer{
		store: store, id: id, mode: mode, keyType: keyType, valueType: valueType, budget: budget,
		index: NewSparseIndex(), blocks: make(map[string]*Block), byBlock: make(map[string]*Delta),
	}
}

// Fork returns a new writer whose sparse index is the source blockfile's,
// sharing all its blocks; new writes copy-on-write into fresh deltas,
// never observably mutating the source (spec.md §4.3.4, tested by
// scenario S5 / property 7). The fork gets its own fresh output id.
func Fork(ctx context.Context, store objectstore.Store, sourceID, newID string, mode Mode, keyType KeyType, valueType Flavor, budget int) (*Writer, error) {
	idx, err := loadIndex(ctx, store, sourceID)
	if err != nil {
		return nil, err
	}
	return &Writer{
		store: store, id: newID, mode: mode, keyType: keyType, valueType: valueType, budget: budget,
		index: idx.Fork(), blocks: make(map[string]*Block), byBlock: make(map[string]*Delta),
	}, nil
}

// ID returns the writer's output identity, used as the sparse index's
// storage path.
func (w *Writer) ID() string { return w.id }

func indexPath(id string) string      { return id + "/index" }
func blockPath(blockID string) string { return "blocks/" + blockID }

func loadIndex(ctx context.Context, store objectstore.Store, id string) (*SparseIndex, error) {
	data, err := store.Get(ctx, indexPath(id))
	if err != nil {
		if err == objectstore.ErrNotFound {
			return NewSparseIndex(), nil
		}
		return nil, err
	}
	return DeserializeSparseIndex(data)
}

func (w *Writer) loadBlock(ctx context.Context, blockID string) (*Block, error) {
	if b, ok := w.blocks[blockID]; ok {
		return b, nil
	}
	data, err := w.store.Get(ctx, blockPath(blockID))
	if err != nil {
		return nil, ErrBlockMissing
	}
	b, err := Decode(blockID, data)
	if err != nil {
		return nil, err
	}
	w.blocks[blockID] = b
	return b, nil
}

// Set records a (prefix, key, value) write, last-write-wins.
func (w *Writer) Set(ctx context.Context, prefix, key string, value Value) error {
	switch w.mode {
	case Ordered:
		if w.active == nil {
			w.active = NewDelta(nil)
		}
		w.active.Add(prefix, key, value)
		return nil
	default:
		d, err := w.deltaFor(ctx, prefix, key)
		if err != nil {
			return err
		}
		d.Add(prefix, key, value)
		return nil
	}
}

// Delete removes (prefix, key) if present.
func (w *Writer) Delete(ctx context.Context, prefix, key string) error {
	switch w.mode {
	case Ordered:
		if w.active == nil {
			w.active = NewDelta(nil)
		}
		w.active.Delete(prefix, key)
		return nil
	default:
		d, err := w.deltaFor(ctx, prefix, key)
		if err != nil {
			return err
		}
		d.Delete(prefix, key)
		return nil
	}
}

// deltaFor returns the delta owning (prefix, key) in Unordered mode,
// forking the owning block into a mutable delta on first touch.
func (w *Writer) deltaFor(ctx context.Context, prefix, key string) (*Delta, error) {
	blockID, ok := w.index.Lookup(prefix, key)
	if !ok {
		if d, exists := w.byBlock[""]; exists {
			return d, nil
		}
		d := NewDelta(nil)
		w.byBlock[""] = d
		return d, nil
	}
	if d, exists := w.byBlock[blockID]; exists {
		return d, nil
	}
	source, err := w.loadBlock(ctx, blockID)
	if err != nil {
		return nil, err
	}
	d := NewDelta(source)
	w.byBlock[blockID] = d
	return d, nil
}

// Flusher is the staged write commit() returns: the new blocks and
// sparse index are computed, but not yet durable, until Flush runs.
type Flusher struct {
	w         *Writer
	newBlocks []*Block
	newIndex  *SparseIndex
}

// Commit freezes every open delta: ordered deltas split on their byte
// budget and are appended to the index in ascending order; unordered
// deltas that exceed budget are split repeatedly until every piece fits.
func (w *Writer) Commit() (*Flusher, error) {
	newIndex := w.index.Fork()
	var newBlocks []*Block

	writeBlock := func(d *Delta) {
		id := uuid.NewString()
		b := d.IntoBlock(id, w.keyType, w.valueType)
		newBlocks = append(newBlocks, b)
		minPrefix, minKey, _ := b.MinKey()
		newIndex.Insert(minPrefix, minKey, id)
	}

	freeze := func(d *Delta, removeBlockID string) {
		if removeBlockID != "" {
			newIndex.Remove(removeBlockID)
		}
		remaining := d
		for remaining.Len() > 0 {
			if remaining.GetSize(w.keyType) <= w.budget {
				writeBlock(remaining)
				return
			}
			_, _, right, ok := remaining.Split(w.keyType, w.budget)
			if !ok {
				writeBlock(remaining)
				return
			}
			writeBlock(remaining)
			remaining = right
		}
	}

	if w.mode == Ordered {
		if w.active != nil {
			freeze(w.active, "")
		}
	} else {
		for blockID, d := range w.byBlock {
			freeze(d, blockID)
		}
	}

	return &Flusher{w: w, newBlocks: newBlocks, newIndex: newIndex}, nil
}

// Flush writes all new blocks and the new sparse index to storage,
// returning the set of paths the caller records in the system DB.
func (f *Flusher) Flush(ctx context.Context) ([]string, error) {
	var paths []string
	for _, b := range f.newBlocks {
		data, err := b.Encode()
		if err != nil {
			return nil, err
		}
		path := blockPath(b.ID)
		if err := f.w.store.PutIfAbsent(ctx, path, data); err != nil && err != objectstore.ErrAlreadyExists {
			return nil, err
		}
		paths = append(paths, path)
	}
	data, err := f.newIndex.Serialize()
	if err != nil {
		return nil, err
	}
	idxPath := indexPath(f.w.id)
	if err := f.w.store.Put(ctx, idxPath, data); err != nil {
		return nil, err
	}
	paths = append(paths, idxPath)
	f.w.index = f.newIndex
	return paths, nil
}
