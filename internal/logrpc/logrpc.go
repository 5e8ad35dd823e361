// Package logrpc describes the log RPC surface consumed when the log is
// remote (spec.md §6.4), plus an in-process adapter over internal/wal so
// the compaction orchestrator can be driven either locally or remotely
// without changing a line of orchestrator code — the same seam the
// teacher exposes between its in-process GroupStore calls and its
// msg.go-based ring replication RPCs.
package logrpc

import (
	"context"

	"github.com/corewal/corewal/internal/config"
	"github.com/corewal/corewal/internal/ids"
	"github.com/corewal/corewal/internal/objectstore"
	"github.com/corewal/corewal/internal/telemetrylog"
	"github.com/corewal/corewal/internal/wal"
)

// LogRPC is the surface spec.md §6.4 names, keyed per collection id.
type LogRPC interface {
	PushLogs(ctx context.Context, collectionID ids.CollectionID, records [][]byte) (firstOffset ids.Offset, err error)
	PullLogs(ctx context.Context, collectionID ids.CollectionID, offset ids.Offset, batchSize int) ([]wal.Record, error)
	ScoutLogs(ctx context.Context, collectionID ids.CollectionID, startingOffset ids.Offset) (nextOffset ids.Offset, err error)
	UpdateCollectionLogOffset(ctx context.Context, collectionID ids.CollectionID, newOffset ids.Offset) error
	PurgeLogs(ctx context.Context, collectionID ids.CollectionID, seqID ids.SeqNo) error
	ForkLogs(ctx context.Context, src, dst ids.CollectionID) error
}

// Local is an in-process LogRPC adapter over internal/wal: every
// collection's log lives at object-store prefix "logs/{collection_id}",
// opened lazily on first use and cached until PurgeLogs drops it, so the
// next push reloads the purged manifest.
type Local struct {
	store objectstore.Store
	cfg   *config.Config
	log   *telemetrylog.Logger

	writers map[ids.CollectionID]*wal.Writer
}

// NewLocal returns a LogRPC backed directly by internal/wal against store.
func NewLocal(store objectstore.Store, cfg *config.Config, log *telemetrylog.Logger) *Local {
	if log == nil {
		log = telemetrylog.NewNop()
	}
	return &Local{store: store, cfg: cfg, log: log, writers: make(map[ids.CollectionID]*wal.Writer)}
}

func logPrefix(id ids.CollectionID) string { return "logs/" + id.String() }

func (l *Local) writerFor(ctx context.Context, id ids.CollectionID) (*wal.Writer, error) {
	if w, ok := l.writers[id]; ok {
		return w, nil
	}
	w, err := wal.Open(ctx, l.store, l.cfg, logPrefix(id), id.String(), l.log)
	if err != nil {
		return nil, err
	}
	l.writers[id] = w
	return w, nil
}

// PushLogs appends records to a collection's log, opening it on first use.
func (l *Local) PushLogs(ctx context.Context, collectionID ids.CollectionID, records [][]byte) (ids.Offset, error) {
	w, err := l.writerFor(ctx, collectionID)
	if err != nil {
		return 0, err
	}
	return w.AppendMany(ctx, records)
}

// PullLogs reads up to batchSize records starting at offset.
func (l *Local) PullLogs(ctx context.Context, collectionID ids.CollectionID, offset ids.Offset, batchSize int) ([]wal.Record, error) {
	r, err := wal.OpenReader(ctx, l.store, logPrefix(collectionID), nil)
	if err != nil {
		return nil, err
	}
	return r.Read(ctx, offset, ids.Offset(batchSize))
}

// ScoutLogs reports the log's current next-write offset, the position a
// puller should resume from if it has no recorded cursor.
func (l *Local) ScoutLogs(ctx context.Context, collectionID ids.CollectionID, startingOffset ids.Offset) (ids.Offset, error) {
	r, err := wal.OpenReader(ctx, l.store, logPrefix(collectionID), nil)
	if err != nil {
		return 0, err
	}
	m, err := r.Manifest(ctx)
	if err != nil {
		return 0, err
	}
	return m.NextWriteOffset(), nil
}

// UpdateCollectionLogOffset advances the collection's "compaction" cursor
// to newOffset, the durable watermark GC treats as the reader floor.
func (l *Local) UpdateCollectionLogOffset(ctx context.Context, collectionID ids.CollectionID, newOffset ids.Offset) error {
	return wal.PutCursor(ctx, l.store, logPrefix(collectionID), wal.Cursor{
		Name:     "compaction",
		Position: newOffset,
		Writer:   collectionID.String(),
	})
}

// PurgeLogs runs garbage collection against the minimum position across
// every recorded cursor, dropping fragments/snapshots entirely below it.
func (l *Local) PurgeLogs(ctx context.Context, collectionID ids.CollectionID, seqID ids.SeqNo) error {
	prefix := logPrefix(collectionID)
	cursors, err := wal.ListCursors(ctx, l.store, prefix)
	if err != nil {
		return err
	}
	minPos, ok := wal.MinCursorPosition(cursors)
	if !ok {
		return nil
	}
	r, err := wal.OpenReader(ctx, l.store, prefix, nil)
	if err != nil {
		return err
	}
	m, err := r.Manifest(ctx)
	if err != nil {
		return err
	}
	g, err := wal.ComputeGarbage(ctx, l.store, nil, m, minPos)
	if err != nil {
		return err
	}
	next, err := wal.ApplyGarbage(ctx, l.store, prefix, m, g)
	if err != nil {
		return err
	}
	if err := wal.CommitManifest(ctx, l.store, prefix, next); err != nil {
		return err
	}
	delete(l.writers, collectionID)
	return wal.DeleteGarbageBlobs(ctx, l.store, g)
}

// ForkLogs materializes a new log at dst's prefix referencing src's
// fragments/snapshots from src's current next-write offset onward (an
// empty fork point) — full historical forks go through wal.Copy directly
// with an explicit offset, since that operation needs a caller-chosen cut
// point spec.md §6.4's abstract signature doesn't carry.
func (l *Local) ForkLogs(ctx context.Context, src, dst ids.CollectionID) error {
	r, err := wal.OpenReader(ctx, l.store, logPrefix(src), nil)
	if err != nil {
		return err
	}
	m, err := r.Manifest(ctx)
	if err != nil {
		return err
	}
	_, err = wal.Copy(ctx, l.store, logPrefix(src), m.NextWriteOffset(), logPrefix(dst))
	return err
}

var _ LogRPC = (*Local)(nil)
