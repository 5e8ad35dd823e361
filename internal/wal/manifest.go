package wal

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/corewal/corewal/internal/ids"
	"github.com/corewal/corewal/internal/objectstore"
	"github.com/corewal/corewal/internal/setsum"
)

// Manifest is the single document describing a log's live fragments and
// snapshots (spec.md §3.5). It is persisted by compare-and-put keyed by its
// prior content hash.
type Manifest struct {
	WriterLabel   string            `json:"writer_label"`
	Fragments     []Fragment        `json:"fragments"`
	Snapshots     []SnapshotPointer `json:"snapshots"`
	Setsum        setsum.Setsum     `json:"setsum"`
	Collected     setsum.Setsum     `json:"collected"`
	InitialOffset ids.Offset        `json:"initial_offset"`
	InitialSeqNo  ids.SeqNo         `json:"initial_seq_no"`
	AccBytes      int64             `json:"acc_bytes"`

	// NextSeqNo is the fragment sequence number the next append_many will
	// claim. It is not one of spec.md §3.5's named fields but is required
	// bookkeeping for recovering seq_no assignment across writer restarts
	// without rescanning every live and rolled-up fragment.
	NextSeqNo ids.SeqNo `json:"next_seq_no"`
}

func manifestPath(prefix string) string { return prefix + "/manifest" }

func marshalManifest(m Manifest) ([]byte, error) { return json.Marshal(m) }

func unmarshalManifest(data []byte) (Manifest, error) {
	var m Manifest
	err := json.Unmarshal(data, &m)
	return m, err
}

// children returns the manifest's live fragments and snapshots as an
// ordered list of tagged Children, sorted by the start of their covered
// offset range, which spec.md §3.3/§3.4 guarantee is the same order as
// seq_no / snapshot-rollover order.
func (m Manifest) children() []Child {
	out := make([]Child, 0, len(m.Fragments)+len(m.Snapshots))
	for i := range m.Fragments {
		f := m.Fragments[i]
		out = append(out, Child{Fragment: &f})
	}
	for i := range m.Snapshots {
		s := m.Snapshots[i]
		out = append(out, Child{Snapshot: &s})
	}
	sort.Slice(out, func(i, j int) bool {
		si, _ := out[i].coveredRange()
		sj, _ := out[j].coveredRange()
		return si < sj
	})
	return out
}

// nextWriteOffset is the offset the next appended record will occupy: the
// limit of the last live child, or InitialOffset if the manifest has no
// live children yet.
func (m Manifest) nextWriteOffset() ids.Offset {
	children := m.children()
	if len(children) == 0 {
		return m.InitialOffset
	}
	_, limit := children[len(children)-1].coveredRange()
	return limit
}

// NextWriteOffset is the exported form of nextWriteOffset, for callers
// outside this package that need to scout a log's current end (spec.md
// §6.4's scout_logs) without reimplementing the children/coveredRange walk.
func (m Manifest) NextWriteOffset() ids.Offset { return m.nextWriteOffset() }

// liveSetsum is the XOR of every live fragment/snapshot's setsum — the
// right-hand side of the manifest invariant besides Collected (spec.md
// §8 property 1).
func (m Manifest) liveSetsum() setsum.Setsum {
	acc := setsum.Zero
	for _, c := range m.children() {
		acc = setsum.Add(acc, c.setsum())
	}
	return acc
}

// checkInvariant verifies spec.md §8 property 1:
// setsum == collected XOR (XOR of live).
func (m Manifest) checkInvariant() bool {
	return m.Setsum == setsum.Add(m.Collected, m.liveSetsum())
}

// checkContiguity verifies spec.md §8 property 2: live children form a
// contiguous, disjoint, increasing cover of [InitialOffset, nextWriteOffset).
func (m Manifest) checkContiguity() bool {
	children := m.children()
	cursor := m.InitialOffset
	for _, c := range children {
		start, limit := c.coveredRange()
		if start != cursor || limit <= start {
			return false
		}
		cursor = limit
	}
	return true
}

func cloneManifest(m Manifest) Manifest {
	out := m
	out.Fragments = append([]Fragment(nil), m.Fragments...)
	out.Snapshots = append([]SnapshotPointer(nil), m.Snapshots...)
	return out
}

// CommitManifest durably writes m as prefix's current manifest,
// unconditionally overwriting whatever is there. Used by administrative
// operations (purge_logs) that have already computed m from a manifest they
// read moments ago and accept last-writer-wins against a concurrent
// fragment append; a live Writer always goes through its own CAS loop in
// AppendMany instead.
func CommitManifest(ctx context.Context, store objectstore.Store, prefix string, m Manifest) error {
	encoded, err := marshalManifest(m)
	if err != nil {
		return err
	}
	return store.Put(ctx, manifestPath(prefix), encoded)
}
