// Package ids mints the identifiers described in spec.md §3.1: collection
// and segment ids (128 bit UUIDs), plus the monotonic counters layered on
// top of them (log position, fragment sequence number, collection version).
package ids

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// CollectionID is a globally unique, immutable identifier for a collection.
type CollectionID uuid.UUID

// SegmentID is a globally unique, immutable identifier for a segment
// (metadata or vector flavor).
type SegmentID uuid.UUID

// NewCollectionID mints a fresh collection id.
func NewCollectionID() CollectionID {
	return CollectionID(uuid.New())
}

// NewSegmentID mints a fresh segment id.
func NewSegmentID() SegmentID {
	return SegmentID(uuid.New())
}

func (c CollectionID) String() string { return uuid.UUID(c).String() }
func (s SegmentID) String() string    { return uuid.UUID(s).String() }

// ParseCollectionID parses the canonical string form of a collection id.
func ParseCollectionID(s string) (CollectionID, error) {
	u, err := uuid.Parse(s)
	return CollectionID(u), err
}

// ParseSegmentID parses the canonical string form of a segment id.
func ParseSegmentID(s string) (SegmentID, error) {
	u, err := uuid.Parse(s)
	return SegmentID(u), err
}

// Offset is a monotonically increasing 64 bit log position, one sequence
// per collection (spec.md §3.1).
type Offset uint64

// SeqNo is a monotonically increasing 64 bit fragment sequence number, one
// sequence per collection log.
type SeqNo uint64

// Version is a monotonically increasing 32 bit collection version counter,
// bumped once per successful compaction.
type Version uint32

// Sequencer hands out strictly increasing SeqNo/Offset pairs for a single
// log, the way the teacher's atValuesLocBlocksIDer hands out loc-block ids
// with atomic.AddUint32 (see valuesstore.go's addValuesLocBock).
type Sequencer struct {
	nextSeqNo SeqNo
	nextOff   Offset
}

// NewSequencer creates a Sequencer resuming from the given manifest state.
func NewSequencer(nextSeqNo SeqNo, nextOffset Offset) *Sequencer {
	return &Sequencer{nextSeqNo: nextSeqNo, nextOff: nextOffset}
}

// Reserve reserves a contiguous run of n offsets for the next fragment and
// returns its sequence number and [start, limit) range. Not safe for
// concurrent use; callers serialize calls themselves.
func (s *Sequencer) Reserve(n uint64) (SeqNo, Offset, Offset) {
	seq := s.nextSeqNo
	start := s.nextOff
	limit := start + Offset(n)
	s.nextSeqNo++
	s.nextOff = limit
	return seq, start, limit
}

// NextOffset reports the offset the next reservation would start at.
func (s *Sequencer) NextOffset() Offset {
	return s.nextOff
}

// AtomicVersion is a lock-free holder for a Version with Load, Store and
// CompareAndSwap.
type AtomicVersion struct {
	v uint32
}

func (a *AtomicVersion) Load() Version { return Version(atomic.LoadUint32(&a.v)) }
func (a *AtomicVersion) Store(v Version) {
	atomic.StoreUint32(&a.v, uint32(v))
}
func (a *AtomicVersion) CompareAndSwap(old, new Version) bool {
	return atomic.CompareAndSwapUint32(&a.v, uint32(old), uint32(new))
}
