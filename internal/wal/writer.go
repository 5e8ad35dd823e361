package wal

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/corewal/corewal/internal/config"
	"github.com/corewal/corewal/internal/ids"
	"github.com/corewal/corewal/internal/objectstore"
	"github.com/corewal/corewal/internal/setsum"
	"github.com/corewal/corewal/internal/telemetrylog"
)

// Writer batches appends, opens/rolls fragments, updates the manifest under
// CAS, and triggers snapshot rollover (spec.md §4.2.1). Grounded on the
// teacher's DefaultValueStore: a single mutex-protected mutator serializes
// writes the same way the teacher serializes writes through its
// memWriters/tocWriter goroutines, simplified to a mutex here since the WAL
// has no equivalent to the teacher's sharded in-memory location map to
// protect.
type Writer struct {
	mu sync.Mutex

	store  objectstore.Store
	prefix string
	cfg    *config.Config
	log    *telemetrylog.Logger

	manifest     Manifest
	manifestHash objectstore.Hash
	closed       bool
}

// Open creates an empty manifest at prefix if none exists, otherwise loads
// the current one (spec.md §4.2.1).
func Open(ctx context.Context, store objectstore.Store, cfg *config.Config, prefix, writerLabel string, log *telemetrylog.Logger) (*Writer, error) {
	if log == nil {
		log = telemetrylog.NewNop()
	}
	w := &Writer{store: store, prefix: prefix, cfg: cfg, log: log}

	path := manifestPath(prefix)
	data, err := store.Get(ctx, path)
	if err == objectstore.ErrNotFound {
		empty := Manifest{WriterLabel: writerLabel}
		encoded, merr := marshalManifest(empty)
		if merr != nil {
			return nil, merr
		}
		hash, cerr := store.CompareAndSwap(ctx, path, objectstore.ZeroHash, encoded)
		if cerr == objectstore.ErrCASMismatch {
			// Someone else created it concurrently; fall through to load it.
			return Open(ctx, store, cfg, prefix, writerLabel, log)
		}
		if cerr != nil {
			return nil, cerr
		}
		w.manifest = empty
		w.manifestHash = hash
		return w, nil
	}
	if err != nil {
		return nil, err
	}
	m, derr := unmarshalManifest(data)
	if derr != nil {
		return nil, ErrManifestCorrupt
	}
	head, herr := store.Head(ctx, path)
	if herr != nil {
		return nil, herr
	}
	w.manifest = m
	w.manifestHash = head.Hash
	return w, nil
}

// Manifest returns a copy of the writer's last-known-committed manifest.
func (w *Writer) Manifest() Manifest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return cloneManifest(w.manifest)
}

// AppendMany batches records, returning the offset of the first record in
// the batch (spec.md §4.2.1). Record order within the batch is preserved;
// ordering between concurrent batches is determined by the order in which
// they acquire the writer's mutex (this process) or win the manifest CAS
// race (across processes).
func (w *Writer) AppendMany(ctx context.Context, records [][]byte) (ids.Offset, error) {
	if len(records) == 0 {
		return 0, ErrInvalidArgument
	}
	for _, r := range records {
		if len(r) == 0 {
			return 0, ErrInvalidArgument
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrLogClosed
	}

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = 10 * time.Millisecond
	boff.MaxInterval = 500 * time.Millisecond

	var firstOffset ids.Offset
	for attempt := 0; attempt <= w.cfg.ManifestCASMaxRetries; attempt++ {
		base := cloneManifest(w.manifest)

		seqNo := base.NextSeqNo
		start := base.nextWriteOffset()
		limit := start + ids.Offset(len(records))

		body := encodeBatch(records)
		acc := setsum.Zero
		for _, r := range records {
			acc = setsum.AddBytes(acc, r)
		}

		fragPath := fragmentPath(w.prefix, seqNo)
		if err := w.putFragmentIdempotent(ctx, fragPath, body); err != nil {
			return 0, err
		}

		frag := Fragment{
			Path:        fragPath,
			SeqNo:       seqNo,
			StartOffset: start,
			LimitOffset: limit,
			NumBytes:    int64(len(body)),
			Setsum:      acc,
		}

		next := cloneManifest(base)
		next.Fragments = append(next.Fragments, frag)
		next.Setsum = setsum.Add(next.Setsum, acc)
		next.AccBytes += int64(len(body))
		next.NextSeqNo = seqNo + 1

		if err := rollover(ctx, w.store, w.prefix, &next, w.cfg); err != nil {
			return 0, err
		}

		encoded, err := marshalManifest(next)
		if err != nil {
			return 0, err
		}
		newHash, err := w.store.CompareAndSwap(ctx, manifestPath(w.prefix), w.manifestHash, encoded)
		if err == nil {
			w.manifest = next
			w.manifestHash = newHash
			firstOffset = start
			return firstOffset, nil
		}
		if err != objectstore.ErrCASMismatch {
			return 0, err
		}

		w.log.Warning("wal: manifest CAS contention on %s, attempt %d", w.prefix, attempt)
		if rerr := w.reload(ctx); rerr != nil {
			return 0, rerr
		}
		time.Sleep(boff.NextBackOff())
	}
	return 0, ErrLogContention
}

// putFragmentIdempotent writes a fragment body, treating "already exists
// with identical content" as success (retries of the same batch after a
// manifest CAS loss) and "already exists with different content" as
// ErrManifestCorrupt (spec.md §4.2.1 step 3).
func (w *Writer) putFragmentIdempotent(ctx context.Context, path string, body []byte) error {
	err := w.store.PutIfAbsent(ctx, path, body)
	if err == nil {
		return nil
	}
	if err != objectstore.ErrAlreadyExists {
		return err
	}
	existing, gerr := w.store.Get(ctx, path)
	if gerr != nil {
		return gerr
	}
	if string(existing) != string(body) {
		return ErrManifestCorrupt
	}
	return nil
}

func (w *Writer) reload(ctx context.Context) error {
	path := manifestPath(w.prefix)
	data, err := w.store.Get(ctx, path)
	if err != nil {
		return err
	}
	m, derr := unmarshalManifest(data)
	if derr != nil {
		return ErrManifestCorrupt
	}
	head, herr := w.store.Head(ctx, path)
	if herr != nil {
		return herr
	}
	w.manifest = m
	w.manifestHash = head.Hash
	return nil
}

// Close marks the writer closed; subsequent calls return ErrLogClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}
