// Package gc implements spec.md §4.5's garbage-collection orchestrator:
// log-only hard delete for destroyed collections, and full collection GC
// (version graph construction, ComputeVersionsToDelete, unused-file
// deletion, and log cursor advancement).
//
// Grounded on original_source/rust/garbage_collector's
// compute_versions_to_delete.rs and log_only_orchestrator.rs (see
// SPEC_FULL.md's SUPPLEMENTED FEATURES section): the two entry points are kept
// as genuinely separate code paths, and ComputeVersionsToDelete is a pure
// function over a value type with no I/O, unit-testable against literal
// graphs (spec.md §8 property 9).
package gc

import (
	"sort"

	"github.com/corewal/corewal/internal/ids"
)

// VersionNode is one collection's version as it appears in the version
// graph: its creation time and the segment files it references. Files are
// the object paths its segments were flushed to: block blobs
// ("blocks/<uuid>", the flat namespace every blockfile shares) and each
// segment's sparse index ("<segment id>/index"), so the same string
// appearing in two nodes' Files already means those two versions share that
// object — no separate edge-walk is needed to know a file survives as long
// as any node referencing it survives.
type VersionNode struct {
	CollectionID        ids.CollectionID
	Version             ids.Version
	CreatedAtUnixMicros int64
	Files               []string
}

// ForkEdge records that ToCollection's initial version was forked from
// FromCollection at FromVersion (spec.md §4.5's DAG edges). Retained on
// VersionGraph for data-model fidelity and future lineage queries; current
// retention correctness comes from VersionNode.Files' own cross-collection
// sharing, not from walking these edges (see DESIGN.md).
type ForkEdge struct {
	FromCollection ids.CollectionID
	FromVersion    ids.Version
	ToCollection   ids.CollectionID
}

// VersionGraph is the DAG spec.md §4.5 step 1 describes.
type VersionGraph struct {
	Nodes []VersionNode
	Edges []ForkEdge
}

// Plan is ComputeVersionsToDelete's pure output.
type Plan struct {
	VersionsToDelete []VersionKey
	FilesToDelete    []string
}

// VersionKey identifies one node in a VersionGraph.
type VersionKey struct {
	CollectionID ids.CollectionID
	Version      ids.Version
}

// ComputeVersionsToDelete walks graph per spec.md §4.5 step 2: within each
// collection's version sequence (sorted ascending), always keeps version
// 0, always keeps the minVersionsToKeep most recent versions, and drops
// only versions strictly older than cutoffUnixMicros. It is pure: no I/O,
// safe to call against literal graphs in tests (spec.md §8 property 9).
func ComputeVersionsToDelete(graph VersionGraph, cutoffUnixMicros int64, minVersionsToKeep int) Plan {
	if minVersionsToKeep < 1 {
		minVersionsToKeep = 1
	}

	byCollection := make(map[ids.CollectionID][]VersionNode)
	for _, n := range graph.Nodes {
		byCollection[n.CollectionID] = append(byCollection[n.CollectionID], n)
	}

	toDelete := make(map[VersionKey]bool)
	for _, nodes := range byCollection {
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].Version < nodes[j].Version })
		keepFromIdx := len(nodes) - minVersionsToKeep
		for i, n := range nodes {
			if n.Version == 0 {
				continue
			}
			if i >= keepFromIdx {
				continue
			}
			if n.CreatedAtUnixMicros >= cutoffUnixMicros {
				continue
			}
			toDelete[VersionKey{CollectionID: n.CollectionID, Version: n.Version}] = true
		}
	}

	// A file survives if any node not slated for deletion references it,
	// across every collection (copy-on-write sharing crosses collection
	// boundaries via forks).
	referenced := make(map[string]bool)
	for _, n := range graph.Nodes {
		if toDelete[VersionKey{CollectionID: n.CollectionID, Version: n.Version}] {
			continue
		}
		for _, f := range n.Files {
			referenced[f] = true
		}
	}

	var plan Plan
	droppedFiles := make(map[string]bool)
	for _, n := range graph.Nodes {
		key := VersionKey{CollectionID: n.CollectionID, Version: n.Version}
		if !toDelete[key] {
			continue
		}
		plan.VersionsToDelete = append(plan.VersionsToDelete, key)
		for _, f := range n.Files {
			if !referenced[f] && !droppedFiles[f] {
				droppedFiles[f] = true
				plan.FilesToDelete = append(plan.FilesToDelete, f)
			}
		}
	}
	sort.Slice(plan.VersionsToDelete, func(i, j int) bool {
		a, b := plan.VersionsToDelete[i], plan.VersionsToDelete[j]
		if a.CollectionID != b.CollectionID {
			return a.CollectionID.String() < b.CollectionID.String()
		}
		return a.Version < b.Version
	})
	sort.Strings(plan.FilesToDelete)
	return plan
}
