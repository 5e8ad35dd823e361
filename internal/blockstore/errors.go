// Package blockstore implements spec.md §4.3: immutable, sorted key-value
// blocks with columnar byte accounting, the mutable delta overlay used to
// build and fork them, a sparse index mapping minimum key to block id, and
// the blockfile writer/reader facade consumers use.
//
// Grounded on the teacher's checksummed binary framing
// (valuestorefile_GEN_.go's murmur3-checksummed value files) for on-disk
// block encoding, since no columnar/arrow library appears anywhere in the
// retrieval pack — the arrow-aligned *byte accounting formula* in spec.md
// §4.3.1 is schema arithmetic, not a serialization format, so it is
// implemented directly rather than depending on a library neither the
// teacher nor any other example repo pulls in (see DESIGN.md).
package blockstore

import "errors"

var (
	// ErrKeyNotFound is returned by Reader.Get when no block covers the
	// requested key, or when the covering block does not hold it.
	ErrKeyNotFound = errors.New("blockstore: key not found")
	// ErrBlockMissing is returned when the sparse index names a block id
	// the object store no longer has.
	ErrBlockMissing = errors.New("blockstore: block missing")
	// ErrInvalidIndex is returned by is_valid()-style structural checks.
	ErrInvalidIndex = errors.New("blockstore: sparse index invalid")
	// ErrCorruptBlock is returned when a block fails to decode or its
	// checksum doesn't match.
	ErrCorruptBlock = errors.New("blockstore: block corrupt")
)
