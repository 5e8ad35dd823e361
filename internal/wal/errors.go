// Package wal implements the content-addressed, object-store-backed
// ordered log described in spec.md §4.2: fragments, manifests, snapshots,
// cursors, garbage collection and fork/copy, grounded on the teacher's
// channel-actor ValuesStore (appends batched through a single writer
// goroutine, checksummed framing, CAS-style TOC commits) generalized to an
// object-store backing instead of local disk files.
package wal

import "errors"

// Sentinel errors, matching the stable classes in spec.md §4.2 and §7.
var (
	// ErrLogClosed is returned by AppendMany on a Writer after Close has
	// been called.
	ErrLogClosed = errors.New("wal: log closed")
	// ErrLogContention is returned when a manifest CAS loses the race more
	// times than ManifestCASMaxRetries allows.
	ErrLogContention = errors.New("wal: log contention: manifest CAS retries exhausted")
	// ErrManifestCorrupt is returned when a manifest fails to decode, or a
	// fragment write collides with different content at the same path.
	ErrManifestCorrupt = errors.New("wal: manifest corrupt")
	// ErrFragmentMissing is returned when a read needs a fragment or
	// snapshot blob that the object store no longer has.
	ErrFragmentMissing = errors.New("wal: fragment missing")
	// ErrSetsumMismatch is returned by scrub when the recomputed setsum
	// disagrees with the manifest's recorded setsum.
	ErrSetsumMismatch = errors.New("wal: setsum mismatch")
	// ErrStorageUnavailable is declared for transient object-store
	// failures; the wal functions return object-store errors unwrapped.
	ErrStorageUnavailable = errors.New("wal: storage unavailable")
	// ErrInvalidArgument is returned for caller errors that aren't worth
	// retrying (e.g. an empty record in append_many, a Copy source offset
	// outside the log's live range).
	ErrInvalidArgument = errors.New("wal: invalid argument")
)
