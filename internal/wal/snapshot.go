package wal

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/corewal/corewal/internal/ids"
	"github.com/corewal/corewal/internal/objectstore"
	"github.com/corewal/corewal/internal/setsum"
)

// SnapshotPointer is the lightweight reference a manifest (or a parent
// snapshot) holds to a snapshot blob, without loading its body (spec.md
// §3.4).
type SnapshotPointer struct {
	Path           string        `json:"path"`
	Setsum         setsum.Setsum `json:"setsum"`
	CoveredStart   ids.Offset    `json:"covered_start"`
	CoveredLimit   ids.Offset    `json:"covered_limit"`
	Depth          int           `json:"depth"`
}

// Child is a closed tagged variant over {Fragment, SnapshotPointer},
// exactly one of which is non-nil, preserving spec.md §3.4's
// "children: [Fragment | SnapshotPointer]" while staying ordered (order
// matters: children cover strictly increasing, contiguous offset ranges).
type Child struct {
	Fragment *Fragment        `json:"fragment,omitempty"`
	Snapshot *SnapshotPointer `json:"snapshot,omitempty"`
}

func (c Child) setsum() setsum.Setsum {
	if c.Fragment != nil {
		return c.Fragment.Setsum
	}
	return c.Snapshot.Setsum
}

func (c Child) coveredRange() (ids.Offset, ids.Offset) {
	if c.Fragment != nil {
		return c.Fragment.StartOffset, c.Fragment.LimitOffset
	}
	return c.Snapshot.CoveredStart, c.Snapshot.CoveredLimit
}

// Snapshot is the blob body a SnapshotPointer refers to: a recursive
// grouping of fragments/snapshots forming one level of the balanced tree
// (spec.md §3.4).
type Snapshot struct {
	Setsum       setsum.Setsum `json:"setsum"`
	CoveredStart ids.Offset    `json:"covered_start"`
	CoveredLimit ids.Offset    `json:"covered_limit"`
	Depth        int           `json:"depth"`
	Children     []Child       `json:"children"`
}

// Pointer returns the SnapshotPointer a manifest should hold for s once
// it's been written to path.
func (s Snapshot) Pointer(path string) SnapshotPointer {
	return SnapshotPointer{
		Path:         path,
		Setsum:       s.Setsum,
		CoveredStart: s.CoveredStart,
		CoveredLimit: s.CoveredLimit,
		Depth:        s.Depth,
	}
}

// VerifyEquivalence checks testable property 4 (spec.md §8): a snapshot's
// setsum must equal the XOR of its children's setsums, recursively. It does
// not recurse into nested snapshot bodies itself (the caller does that via
// the cache, see Reader.scrubChild) but it does check the immediate
// level.
func (s Snapshot) VerifyEquivalence() bool {
	acc := setsum.Zero
	for _, c := range s.Children {
		acc = setsum.Add(acc, c.setsum())
	}
	return acc == s.Setsum
}

func snapshotPath(prefix string, sum setsum.Setsum) string {
	return prefix + "/s/" + sum.String()
}

func marshalSnapshot(s Snapshot) ([]byte, error) { return json.Marshal(s) }

func unmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	err := json.Unmarshal(data, &s)
	return s, err
}

// SnapshotCache is the small trait described in spec.md §4.2.4: {get, put}.
// Snapshot bodies are immutable and content-addressed by setsum, so any
// implementation may cache them indefinitely once observed.
type SnapshotCache interface {
	Get(pointer SnapshotPointer) (Snapshot, bool)
	Put(pointer SnapshotPointer, snapshot Snapshot)
}

// NopSnapshotCache never caches anything; every lookup reloads from
// storage. This is the "empty" implementation spec.md §4.2.4 allows.
type NopSnapshotCache struct{}

func (NopSnapshotCache) Get(SnapshotPointer) (Snapshot, bool) { return Snapshot{}, false }
func (NopSnapshotCache) Put(SnapshotPointer, Snapshot)        {}

// MemorySnapshotCache is a process-wide, unbounded in-memory SnapshotCache,
// keyed by path (which already embeds the setsum). A production deployment
// would pair this with an eviction policy (spec.md §5's "process-wide with
// pluggable eviction"); this implementation is the simple in-memory variant
// that policy can wrap.
type MemorySnapshotCache struct {
	mu    sync.RWMutex
	byKey map[string]Snapshot
}

// NewMemorySnapshotCache builds an empty MemorySnapshotCache.
func NewMemorySnapshotCache() *MemorySnapshotCache {
	return &MemorySnapshotCache{byKey: make(map[string]Snapshot)}
}

func (c *MemorySnapshotCache) Get(p SnapshotPointer) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byKey[p.Path]
	return s, ok
}

func (c *MemorySnapshotCache) Put(p SnapshotPointer, s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[p.Path] = s
}

// loadSnapshot resolves a SnapshotPointer to its body, through the cache
// first and the object store on a miss.
func loadSnapshot(ctx context.Context, store objectstore.Store, cache SnapshotCache, p SnapshotPointer) (Snapshot, error) {
	if s, ok := cache.Get(p); ok {
		return s, nil
	}
	data, err := store.Get(ctx, p.Path)
	if err == objectstore.ErrNotFound {
		return Snapshot{}, ErrFragmentMissing
	}
	if err != nil {
		return Snapshot{}, err
	}
	s, err := unmarshalSnapshot(data)
	if err != nil {
		return Snapshot{}, ErrManifestCorrupt
	}
	cache.Put(p, s)
	return s, nil
}
