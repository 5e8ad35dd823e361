package blockstore

import (
	"context"

	"github.com/corewal/corewal/internal/objectstore"
)

// Reader is the blockfile reader facade (spec.md §4.3.5): Open loads the
// sparse index, Get resolves a single key through the owning block, and
// GetRange streams across consecutive blocks in ascending order.
type Reader struct {
	store objectstore.Store
	id    string
	index *SparseIndex
}

// Open loads the sparse index for blockfile id.
func Open(ctx context.Context, store objectstore.Store, id string) (*Reader, error) {
	idx, err := loadIndex(ctx, store, id)
	if err != nil {
		return nil, err
	}
	return &Reader{store: store, id: id, index: idx}, nil
}

func (r *Reader) loadBlock(ctx context.Context, blockID string) (*Block, error) {
	data, err := r.store.Get(ctx, blockPath(blockID))
	if err != nil {
		return nil, ErrBlockMissing
	}
	return Decode(blockID, data)
}

// Get finds the block that would own (prefix, key), loads it, and returns
// the decoded value if present.
func (r *Reader) Get(ctx context.Context, prefix, key string) (Value, error) {
	blockID, ok := r.index.Lookup(prefix, key)
	if !ok {
		return Value{}, ErrKeyNotFound
	}
	b, err := r.loadBlock(ctx, blockID)
	if err != nil {
		return Value{}, err
	}
	for _, rec := range b.Records {
		if rec.Prefix == prefix && rec.Key == key {
			return rec.Value, nil
		}
	}
	return Value{}, ErrKeyNotFound
}

// KeyRange bounds a GetRange scan, inclusive of both ends.
type KeyRange struct {
	StartPrefix, StartKey string
	EndPrefix, EndKey     string
}

func (kr KeyRange) contains(prefix, key string) bool {
	if less(prefix, key, kr.StartPrefix, kr.StartKey) {
		return false
	}
	if less(kr.EndPrefix, kr.EndKey, prefix, key) {
		return false
	}
	return true
}

// GetRange streams every live record whose (prefix, key) falls within kr,
// merging-style across consecutive blocks in ascending order.
func (r *Reader) GetRange(ctx context.Context, kr KeyRange) ([]Record, error) {
	var out []Record
	for _, e := range r.index.Entries() {
		if less(kr.EndPrefix, kr.EndKey, e.Prefix, e.Key) {
			break
		}
		b, err := r.loadBlock(ctx, e.BlockID)
		if err != nil {
			return nil, err
		}
		for _, rec := range b.Records {
			if kr.contains(rec.Prefix, rec.Key) {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

// IsValid performs spec.md §4.3.5's structural check: the sparse index is
// non-empty, its entries' block ranges are disjoint and ordered, and
// every referenced block decodes and is internally sorted.
func (r *Reader) IsValid(ctx context.Context) error {
	entries := r.index.Entries()
	if len(entries) == 0 {
		return ErrInvalidIndex
	}
	var prevLast *Record
	for i, e := range entries {
		b, err := r.loadBlock(ctx, e.BlockID)
		if err != nil {
			return err
		}
		if prevLast != nil && !less(prevLast.Prefix, prevLast.Key, e.Prefix, e.Key) {
			return ErrInvalidIndex
		}
		if n := len(b.Records); n > 0 {
			last := b.Records[n-1]
			prevLast = &last
		}
		if !b.IsSorted() {
			return ErrInvalidIndex
		}
		minPrefix, minKey, ok := b.MinKey()
		if !ok || minPrefix != e.Prefix || minKey != e.Key {
			return ErrInvalidIndex
		}
		if i > 0 {
			prev := entries[i-1]
			if !less(prev.Prefix, prev.Key, e.Prefix, e.Key) {
				return ErrInvalidIndex
			}
		}
	}
	return nil
}
