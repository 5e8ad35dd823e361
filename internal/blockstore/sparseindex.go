package blockstore

import (
	"bytes"
	"encoding/gob"
	"sort"

	"github.com/google/btree"
)

// indexEntry is one (min_key -> block_id) slot in the sparse index,
// ordered by (prefix, key) just like a Delta's entries (spec.md §3.8,
// §4.3.3).
type indexEntry struct {
	Prefix     string
	Key        string
	BlockID    string
	Generation uint64
}

func lessEntry(a, b indexEntry) bool {
	return less(a.Prefix, a.Key, b.Prefix, b.Key)
}

// SparseIndex maps each block's minimum (prefix, key) to its block id,
// backed by google/btree the way the memcp teacher's deltaBtree indexes
// its delta storage (storage/index.go) — here the ordered structure is
// the index itself rather than an overlay atop a columnar scan.
type SparseIndex struct {
	tree       *btree.BTreeG[indexEntry]
	generation uint64
}

// NewSparseIndex returns an empty sparse index.
func NewSparseIndex() *SparseIndex {
	return &SparseIndex{tree: btree.NewG(32, lessEntry)}
}

// Lookup returns the id of the block that would own (prefix, key): the
// entry with the greatest min_key that is <= (prefix, key).
func (si *SparseIndex) Lookup(prefix, key string) (blockID string, ok bool) {
	target := indexEntry{Prefix: prefix, Key: key}
	var found indexEntry
	have := false
	si.tree.DescendLessOrEqual(target, func(e indexEntry) bool {
		found = e
		have = true
		return false
	})
	if !have {
		return "", false
	}
	return found.BlockID, true
}

// Insert maps the min key (prefix, key) to blockID, replacing whatever
// block id that exact min key mapped to before. An entry for blockID under
// a different min key is left in place; Remove drops it.
func (si *SparseIndex) Insert(prefix, key, blockID string) {
	si.generation++
	si.tree.ReplaceOrInsert(indexEntry{Prefix: prefix, Key: key, BlockID: blockID, Generation: si.generation})
}

// SplitBlock records the right half of a split block: a new entry is
// inserted at newMinPrefix/newMinKey pointing at newBlockID, the right half
// produced by Delta.Split. The left half keeps its existing entry.
func (si *SparseIndex) SplitBlock(newMinPrefix, newMinKey, newBlockID string) {
	si.Insert(newMinPrefix, newMinKey, newBlockID)
}

// Remove drops the entry whose min_key currently maps to blockID.
func (si *SparseIndex) Remove(blockID string) {
	var target *indexEntry
	si.tree.Ascend(func(e indexEntry) bool {
		if e.BlockID == blockID {
			t := e
			target = &t
			return false
		}
		return true
	})
	if target != nil {
		si.tree.Delete(*target)
	}
}

// Fork returns a new sparse index sharing all the same block ids — the
// teacher's copy-on-write convention for blockfile forking (spec.md
// §4.3.3, §4.3.4): mutating the fork never touches the parent's tree.
func (si *SparseIndex) Fork() *SparseIndex {
	clone := &SparseIndex{tree: si.tree.Clone(), generation: si.generation}
	return clone
}

// Entries returns all (prefix, key, block_id) entries in ascending order,
// the form Reader.IsValid and GetRange walk over.
func (si *SparseIndex) Entries() []indexEntry {
	out := make([]indexEntry, 0, si.tree.Len())
	si.tree.Ascend(func(e indexEntry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Len returns the number of blocks registered in the index.
func (si *SparseIndex) Len() int { return si.tree.Len() }

// Serialize encodes the sparse index to bytes (gob; every field is a
// plain scalar, so no wire-safety concerns like Block.Encode's bitmaps).
func (si *SparseIndex) Serialize() ([]byte, error) {
	entries := si.Entries()
	sort.Slice(entries, func(i, j int) bool { return lessEntry(entries[i], entries[j]) })
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeSparseIndex reverses Serialize.
func DeserializeSparseIndex(data []byte) (*SparseIndex, error) {
	var entries []indexEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entries); err != nil {
		return nil, ErrInvalidIndex
	}
	si := NewSparseIndex()
	for _, e := range entries {
		si.Insert(e.Prefix, e.Key, e.BlockID)
	}
	return si, nil
}
