// Package compactor implements the per-collection compaction state
// machine of spec.md §4.4: pull log records since the last durable
// offset, apply them to the metadata and vector segment blockfile
// writers, register a new collection version with the system DB, and
// advance the log's compaction cursor.
//
// Grounded on the teacher's request-driven background workers
// (valuesstore.go's compaction/discard goroutines driven by tick
// messages on pendingTombstoneChan): a single exported entry point,
// RunOnce, plays the role of one tick's worth of work for one
// collection, structured as an explicit state progression rather than a
// background goroutine loop so callers (a cron-style daemon, a test)
// control when ticks happen.
package compactor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/corewal/corewal/internal/blockstore"
	"github.com/corewal/corewal/internal/config"
	"github.com/corewal/corewal/internal/ids"
	"github.com/corewal/corewal/internal/logrpc"
	"github.com/corewal/corewal/internal/objectstore"
	"github.com/corewal/corewal/internal/statehash"
	"github.com/corewal/corewal/internal/systemdb"
	"github.com/corewal/corewal/internal/telemetrylog"
)

// State is one node of the spec.md §4.4 state machine.
type State int

const (
	Idle State = iota
	PullingLog
	WritingMetadata
	WritingVectors
	Registering
	AdvancingLog
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case PullingLog:
		return "PullingLog"
	case WritingMetadata:
		return "WritingMetadata"
	case WritingVectors:
		return "WritingVectors"
	case Registering:
		return "Registering"
	case AdvancingLog:
		return "AdvancingLog"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ErrOrchestratorBusy is returned by RunOnce when another orchestrator is
// already active for the requested collection (spec.md §4.4's "at most
// one active orchestrator per collection").
var ErrOrchestratorBusy = errors.New("compactor: another orchestrator is already running for this collection")

const (
	prefixDoc = "doc"
	pullBatch = 4096
)

// orchestratorLock is the statehash.Value guarding a single collection's
// in-flight orchestrator run; it carries no payload beyond the mutex
// itself, same shape as statehash.MutexValue.
type orchestratorLock struct {
	statehash.MutexValue
}

// Orchestrator drives compaction for any number of collections, enforcing
// at most one active run per collection via a rendezvous state-hash table
// (spec.md §4.6).
type Orchestrator struct {
	store objectstore.Store
	sysdb systemdb.SystemDB
	log   logrpc.LogRPC
	cfg   *config.Config
	tele  *telemetrylog.Logger

	locks *statehash.Table[ids.CollectionID, *orchestratorLock]
}

// New builds an Orchestrator wired against the given system DB, log RPC,
// and object store (the store is the one the blockfile writers that back
// the metadata/vector segments write to).
func New(store objectstore.Store, sysdb systemdb.SystemDB, log logrpc.LogRPC, cfg *config.Config, tele *telemetrylog.Logger) *Orchestrator {
	if tele == nil {
		tele = telemetrylog.NewNop()
	}
	return &Orchestrator{
		store: store,
		sysdb: sysdb,
		log:   log,
		cfg:   cfg,
		tele:  tele,
		locks: statehash.New(func(ids.CollectionID) *orchestratorLock { return &orchestratorLock{} }),
	}
}

// RunOnce drives one full Idle->...->Idle cycle for collectionID: pulls
// whatever log records are new since the collection's recorded log
// position, applies them to both segment writers, registers the new
// version, and advances the log cursor. If there is nothing new to apply
// it returns to Idle having made no system DB or storage writes at all
// (spec.md §8 scenario S6, compaction idempotence).
func (o *Orchestrator) RunOnce(ctx context.Context, tenant string, collectionID ids.CollectionID) (State, error) {
	handle := o.locks.GetOrCreate(collectionID)
	if !handle.Value().TryLock() {
		o.locks.Release(handle)
		return Idle, ErrOrchestratorBusy
	}
	defer func() {
		handle.Value().Unlock()
		o.locks.Release(handle)
	}()

	state := Idle
	boff := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(o.cfg.ManifestCASMaxRetries))

	for {
		collection, err := o.sysdb.GetCollectionWithSegments(ctx, collectionID)
		if err != nil {
			return state, fmt.Errorf("compactor: get collection: %w", err)
		}

		state = PullingLog
		targetEnd, err := o.log.ScoutLogs(ctx, collectionID, collection.LogPosition)
		if err != nil {
			return state, fmt.Errorf("compactor: scout logs: %w", err)
		}
		if targetEnd <= collection.LogPosition {
			return Idle, nil
		}

		records, err := o.log.PullLogs(ctx, collectionID, collection.LogPosition, pullBatch)
		if err != nil {
			return state, fmt.Errorf("compactor: pull logs: %w", err)
		}
		if len(records) == 0 {
			return Idle, nil
		}
		// PullLogs returns at most pullBatch records; register and advance
		// only as far as what was actually pulled.
		if last := records[len(records)-1].Position + 1; last < targetEnd {
			targetEnd = last
		}

		ops := make([]decodedOp, 0, len(records))
		for _, rec := range records {
			op, derr := DecodeOperationRecord(rec.Bytes)
			if derr != nil {
				// An undecodable record is unrecoverable corruption, not a
				// transient condition a retry fixes (spec.md §4.4 failure
				// semantics).
				return Failed, fmt.Errorf("compactor: decode operation record at offset %d: %w", rec.Position, derr)
			}
			// Sequence numbers are offset+1, so a fresh segment's MaxSeqID
			// of 0 masks nothing.
			ops = append(ops, decodedOp{seq: ids.SeqNo(rec.Position) + 1, op: op})
		}

		state = WritingMetadata
		metaWriter, err := o.openSegmentWriter(ctx, collection.MetadataSegment.ID)
		if err != nil {
			return state, fmt.Errorf("compactor: open metadata writer: %w", err)
		}
		metaMax, err := applyOps(ctx, metaWriter, ops, collection.MetadataSegment.MaxSeqID, metadataRecord)
		if err != nil {
			return state, fmt.Errorf("compactor: apply metadata ops: %w", err)
		}

		state = WritingVectors
		vecWriter, err := o.openSegmentWriter(ctx, collection.VectorSegment.ID)
		if err != nil {
			return state, fmt.Errorf("compactor: open vector writer: %w", err)
		}
		vecMax, err := applyOps(ctx, vecWriter, ops, collection.VectorSegment.MaxSeqID, vectorRecord)
		if err != nil {
			return state, fmt.Errorf("compactor: apply vector ops: %w", err)
		}

		state = Registering
		metaFlusher, err := metaWriter.Commit()
		if err != nil {
			return state, fmt.Errorf("compactor: commit metadata writer: %w", err)
		}
		metaBlocks, err := metaFlusher.Flush(ctx)
		if err != nil {
			// Written-but-unreferenced blocks are reclaimed by a future GC
			// round (spec.md §4.4 failure semantics); nothing to undo here.
			return state, fmt.Errorf("compactor: flush metadata writer: %w", err)
		}
		vecFlusher, err := vecWriter.Commit()
		if err != nil {
			return state, fmt.Errorf("compactor: commit vector writer: %w", err)
		}
		vecBlocks, err := vecFlusher.Flush(ctx)
		if err != nil {
			return state, fmt.Errorf("compactor: flush vector writer: %w", err)
		}

		flushInfos := []systemdb.SegmentFlushInfo{
			{SegmentID: collection.MetadataSegment.ID, FilePaths: metaBlocks, MaxSeqID: metaMax},
			{SegmentID: collection.VectorSegment.ID, FilePaths: vecBlocks, MaxSeqID: vecMax},
		}

		_, err = o.sysdb.FlushCompaction(ctx, tenant, collectionID, targetEnd, collection.Version, flushInfos)
		if errors.Is(err, systemdb.ErrVersionMismatch) {
			wait := boff.NextBackOff()
			if wait == backoff.Stop {
				return state, fmt.Errorf("compactor: flush_compaction: %w (retries exhausted)", err)
			}
			o.tele.Warning("compactor: flush_compaction version mismatch for %s, retrying", collectionID)
			select {
			case <-ctx.Done():
				return state, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		if err != nil {
			return state, fmt.Errorf("compactor: flush_compaction: %w", err)
		}

		state = AdvancingLog
		if err := o.log.UpdateCollectionLogOffset(ctx, collectionID, targetEnd); err != nil {
			return state, fmt.Errorf("compactor: update log offset: %w", err)
		}

		return Idle, nil
	}
}

// openSegmentWriter resumes a segment's blockfile in place: forking a
// writer from and back onto its own id loads any existing sparse index
// (or an empty one, for a segment's first compaction round) without
// disturbing already-committed blocks, so successive compaction rounds
// accumulate into the same segment rather than starting over.
func (o *Orchestrator) openSegmentWriter(ctx context.Context, segmentID ids.SegmentID) (*blockstore.Writer, error) {
	id := segmentID.String()
	return blockstore.Fork(ctx, o.store, id, id, blockstore.Unordered, blockstore.KeyTypeString, blockstore.FlavorDataRecord, o.cfg.BlockByteBudget)
}

type decodedOp struct {
	seq ids.SeqNo
	op  OperationRecord
}

// segmentRecord converts one decoded operation into the DataRecord a
// segment's blockfile stores for it, projecting out the fields that
// segment doesn't own (the metadata segment never stores an embedding,
// the vector segment never stores document text/metadata).
type segmentRecord func(OperationRecord) blockstore.DataRecord

func metadataRecord(op OperationRecord) blockstore.DataRecord {
	return blockstore.DataRecord{ID: op.ID, Metadata: op.Metadata, Document: op.Document}
}

func vectorRecord(op OperationRecord) blockstore.DataRecord {
	return blockstore.DataRecord{ID: op.ID, Embedding: op.Embedding}
}

// applyOps writes every op whose sequence number is past priorMaxSeq into
// w, masking out already-applied ops so a retried run is idempotent
// (spec.md §4.4's PullingLog->WritingMetadata/Vectors transition), and
// returns the highest sequence number actually applied (or priorMaxSeq
// unchanged if nothing was new).
func applyOps(ctx context.Context, w *blockstore.Writer, ops []decodedOp, priorMaxSeq ids.SeqNo, project segmentRecord) (ids.SeqNo, error) {
	maxSeq := priorMaxSeq
	for _, d := range ops {
		if d.seq <= priorMaxSeq {
			continue
		}
		if d.op.Operation == OpDelete {
			if err := w.Delete(ctx, prefixDoc, d.op.ID); err != nil {
				return maxSeq, err
			}
		} else {
			rec := project(d.op)
			if err := w.Set(ctx, prefixDoc, d.op.ID, blockstore.DataRecordValue(&rec)); err != nil {
				return maxSeq, err
			}
		}
		if d.seq > maxSeq {
			maxSeq = d.seq
		}
	}
	return maxSeq, nil
}
