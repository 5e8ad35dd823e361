package systemdb

import (
	"context"
	"testing"

	"github.com/corewal/corewal/internal/ids"
)

func TestFlushCompactionBumpsVersionOnMatch(t *testing.T) {
	f := NewFake()
	id := ids.NewCollectionID()
	f.Seed(Collection{ID: id, Tenant: "t", Version: ids.Version(1)})
	ctx := context.Background()
	v, err := f.FlushCompaction(ctx, "t", id, ids.Offset(10), 1, nil)
	if err != nil {
		t.Fatalf("FlushCompaction: %v", err)
	}
	if v != 2 {
		t.Fatalf("version = %d, want 2", v)
	}
	got, err := f.GetCollectionWithSegments(ctx, id)
	if err != nil {
		t.Fatalf("GetCollectionWithSegments: %v", err)
	}
	if got.Version != 2 || got.LogPosition != ids.Offset(10) {
		t.Fatalf("got %+v", got)
	}
}

func TestFlushCompactionRejectsStaleVersion(t *testing.T) {
	f := NewFake()
	id := ids.NewCollectionID()
	f.Seed(Collection{ID: id, Tenant: "t", Version: 5})
	ctx := context.Background()
	if _, err := f.FlushCompaction(ctx, "t", id, ids.Offset(10), 4, nil); err != ErrVersionMismatch {
		t.Fatalf("got %v, want ErrVersionMismatch", err)
	}
}

func TestTaskNonceRoundTrip(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	n, err := f.AdvanceTask(ctx, "gc", 0)
	if err != nil || n != 1 {
		t.Fatalf("AdvanceTask: n=%d err=%v", n, err)
	}
	if err := f.FinishTask(ctx, "gc", n); err != nil {
		t.Fatalf("FinishTask: %v", err)
	}
	if _, err := f.AdvanceTask(ctx, "gc", n); err != ErrVersionMismatch {
		t.Fatalf("got %v, want ErrVersionMismatch after FinishTask reset the nonce", err)
	}
}
