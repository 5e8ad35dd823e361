// Package systemdb describes the system-database RPC surface the
// compaction and GC orchestrators consume (spec.md §6.3). The real system
// DB is out of scope per spec.md §1; this package is the interface plus an
// in-memory fake used by tests, grounded on the teacher's own
// request/response channel shape (valuestore_GEN_.go's pendingReadReqChan
// style request structs) flattened into plain method calls since the
// system DB lives out-of-process from this module either way.
package systemdb

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/corewal/corewal/internal/ids"
)

var (
	// ErrVersionMismatch is returned by FlushCompaction when
	// prevVersion does not match the collection's current version.
	ErrVersionMismatch = errors.New("systemdb: version mismatch")
	// ErrCollectionNotFound is returned when no collection has the given id.
	ErrCollectionNotFound = errors.New("systemdb: collection not found")
)

// Segment describes one segment's location and recorded high-water marks,
// the shape get_collection_with_segments returns per segment.
type Segment struct {
	ID        ids.SegmentID
	Flavor    string // "metadata" or "vector"
	FilePaths []string
	MaxSeqID  ids.SeqNo
}

// Collection is the aggregate get_collection_with_segments returns.
type Collection struct {
	ID              ids.CollectionID
	Tenant          string
	Version         ids.Version
	LogPosition     ids.Offset
	MetadataSegment Segment
	VectorSegment   Segment
}

// SegmentFlushInfo is one segment's new state as of a compaction round,
// the payload flush_compaction's caller presents (spec.md §4.4).
type SegmentFlushInfo struct {
	SegmentID ids.SegmentID
	FilePaths []string
	MaxSeqID  ids.SeqNo
}

// VersionGraphSeed is one collection's version-graph starting point, as
// returned by get_collections_to_gc (spec.md §6.3, §4.5).
type VersionGraphSeed struct {
	CollectionID ids.CollectionID
	Tenant       string
}

// VersionRecord is one historical version of a collection: when it was
// created and which segment files it referenced. internal/gc's
// ComputeVersionsToDelete walks these per collection to build a
// VersionGraph. Not itself one of spec.md §6.3's named calls (which
// describes get_collections_to_gc only abstractly, as returning "version
// graph seeds"); ListCollectionVersions is the supplemental call this
// module adds to actually expand a seed into the full per-collection
// version sequence §4.5 step 1 needs, since the distilled spec is silent
// on exactly how that expansion happens.
type VersionRecord struct {
	Version             ids.Version
	CreatedAtUnixMicros int64
	Files               []string
}

// SystemDB is the RPC surface spec.md §6.3 names, plus ListCollectionVersions
// (see VersionRecord's doc comment).
type SystemDB interface {
	GetCollectionWithSegments(ctx context.Context, id ids.CollectionID) (Collection, error)
	// FlushCompaction atomically bumps the collection's version iff
	// prevVersion matches the collection's current recorded version;
	// otherwise it returns ErrVersionMismatch and the caller must resync
	// and retry from the pull-log step (spec.md §4.4, §7).
	FlushCompaction(ctx context.Context, tenant string, id ids.CollectionID, newLogPosition ids.Offset, prevVersion ids.Version, flushInfos []SegmentFlushInfo) (newVersion ids.Version, err error)
	GetCollectionsToGC(ctx context.Context, cutoffUnixMicros int64, minVersionsToKeep int) ([]VersionGraphSeed, error)
	ListCollectionVersions(ctx context.Context, id ids.CollectionID) ([]VersionRecord, error)
	// AdvanceTask and FinishTask are the task/operator bookkeeping calls
	// spec.md §4.5 describes abstractly: each bumps a nonce the caller
	// must present on the next call for the same task, guarding against
	// two orchestrators racing on the same unit of work.
	AdvanceTask(ctx context.Context, taskName string, expectedNonce uint64) (newNonce uint64, err error)
	FinishTask(ctx context.Context, taskName string, expectedNonce uint64) error
}

// memCollection is the fake's mutable per-collection record.
type memCollection struct {
	Collection
	history []VersionRecord
}

// Fake is an in-memory SystemDB used by tests and by cmd/compactord when
// run without a real system DB configured.
type Fake struct {
	mu          sync.Mutex
	collections map[ids.CollectionID]*memCollection
	taskNonces  map[string]uint64
}

// NewFake returns an empty in-memory SystemDB.
func NewFake() *Fake {
	return &Fake{
		collections: make(map[ids.CollectionID]*memCollection),
		taskNonces:  make(map[string]uint64),
	}
}

// Seed registers a collection's initial state for tests to build on,
// recording its version-0 entry in the version history ListCollectionVersions
// reports.
func (f *Fake) Seed(c Collection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[c.ID] = &memCollection{
		Collection: c,
		history: []VersionRecord{{
			Version:             c.Version,
			CreatedAtUnixMicros: time.Now().UnixMicro(),
			Files:               append(append([]string(nil), c.MetadataSegment.FilePaths...), c.VectorSegment.FilePaths...),
		}},
	}
}

func (f *Fake) GetCollectionWithSegments(ctx context.Context, id ids.CollectionID) (Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[id]
	if !ok {
		return Collection{}, ErrCollectionNotFound
	}
	return c.Collection, nil
}

func (f *Fake) FlushCompaction(ctx context.Context, tenant string, id ids.CollectionID, newLogPosition ids.Offset, prevVersion ids.Version, flushInfos []SegmentFlushInfo) (ids.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[id]
	if !ok {
		return 0, ErrCollectionNotFound
	}
	if c.Version != prevVersion {
		return 0, ErrVersionMismatch
	}
	for _, fi := range flushInfos {
		switch {
		case fi.SegmentID == c.MetadataSegment.ID:
			c.MetadataSegment.FilePaths = fi.FilePaths
			c.MetadataSegment.MaxSeqID = fi.MaxSeqID
		case fi.SegmentID == c.VectorSegment.ID:
			c.VectorSegment.FilePaths = fi.FilePaths
			c.VectorSegment.MaxSeqID = fi.MaxSeqID
		}
	}
	c.LogPosition = newLogPosition
	c.Version++
	c.history = append(c.history, VersionRecord{
		Version:             c.Version,
		CreatedAtUnixMicros: time.Now().UnixMicro(),
		Files:               append(append([]string(nil), c.MetadataSegment.FilePaths...), c.VectorSegment.FilePaths...),
	})
	return c.Version, nil
}

func (f *Fake) ListCollectionVersions(ctx context.Context, id ids.CollectionID) ([]VersionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[id]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	return append([]VersionRecord(nil), c.history...), nil
}

func (f *Fake) GetCollectionsToGC(ctx context.Context, cutoffUnixMicros int64, minVersionsToKeep int) ([]VersionGraphSeed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seeds := make([]VersionGraphSeed, 0, len(f.collections))
	for _, c := range f.collections {
		seeds = append(seeds, VersionGraphSeed{CollectionID: c.ID, Tenant: c.Tenant})
	}
	return seeds, nil
}

func (f *Fake) AdvanceTask(ctx context.Context, taskName string, expectedNonce uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.taskNonces[taskName] != expectedNonce {
		return 0, ErrVersionMismatch
	}
	f.taskNonces[taskName]++
	return f.taskNonces[taskName], nil
}

func (f *Fake) FinishTask(ctx context.Context, taskName string, expectedNonce uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.taskNonces[taskName] != expectedNonce {
		return ErrVersionMismatch
	}
	delete(f.taskNonces, taskName)
	return nil
}

var _ SystemDB = (*Fake)(nil)
