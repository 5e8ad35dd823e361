package blockstore

import (
	"context"
	"testing"

	"github.com/corewal/corewal/internal/objectstore"
)

func newTestBlockStore(t *testing.T) objectstore.Store {
	t.Helper()
	fs, err := objectstore.NewFSProvider(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSProvider: %v", err)
	}
	return objectstore.NewPassthrough(fs)
}

// TestBlockfileRoundTripOrdered is spec.md §8 property 6 in Ordered mode.
func TestBlockfileRoundTripOrdered(t *testing.T) {
	ctx := context.Background()
	store := newTestBlockStore(t)
	w := NewWriter(store, "bf1", Ordered, KeyTypeString, FlavorString, 4096)
	inputs := []struct{ prefix, key, value string }{
		{"p", "a", "1"}, {"p", "b", "2"}, {"p", "c", "3"}, {"q", "a", "4"},
	}
	for _, in := range inputs {
		if err := w.Set(ctx, in.prefix, in.key, StringValue(in.value)); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	f, err := w.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := f.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r, err := Open(ctx, store, "bf1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.IsValid(ctx); err != nil {
		t.Fatalf("IsValid: %v", err)
	}
	for _, in := range inputs {
		v, err := r.Get(ctx, in.prefix, in.key)
		if err != nil {
			t.Fatalf("Get(%s,%s): %v", in.prefix, in.key, err)
		}
		if v.Str != in.value {
			t.Fatalf("Get(%s,%s) = %q, want %q", in.prefix, in.key, v.Str, in.value)
		}
	}
	records, err := r.GetRange(ctx, KeyRange{StartPrefix: "", StartKey: "", EndPrefix: "z", EndKey: "z"})
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if len(records) != len(inputs) {
		t.Fatalf("GetRange returned %d records, want %d", len(records), len(inputs))
	}
	for i := 1; i < len(records); i++ {
		if !less(records[i-1].Prefix, records[i-1].Key, records[i].Prefix, records[i].Key) {
			t.Fatalf("records not ascending at %d", i)
		}
	}
}

// TestBlockfileRoundTripUnordered is spec.md §8 property 6 in Unordered
// mode: same semantics, records presented out of order.
func TestBlockfileRoundTripUnordered(t *testing.T) {
	ctx := context.Background()
	store := newTestBlockStore(t)
	w := NewWriter(store, "bf2", Unordered, KeyTypeString, FlavorString, 4096)
	inputs := []struct{ prefix, key, value string }{
		{"q", "a", "4"}, {"p", "a", "1"}, {"p", "c", "3"}, {"p", "b", "2"},
	}
	for _, in := range inputs {
		if err := w.Set(ctx, in.prefix, in.key, StringValue(in.value)); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	f, err := w.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := f.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r, err := Open(ctx, store, "bf2")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, in := range inputs {
		v, err := r.Get(ctx, in.prefix, in.key)
		if err != nil || v.Str != in.value {
			t.Fatalf("Get(%s,%s) = %v, %v, want %q", in.prefix, in.key, v, err, in.value)
		}
	}
}

// TestForkIsolation is spec.md §8 property 7 / scenario S5: forking a
// blockfile and writing to the child must not observably change the
// parent's reads, and two forks of the same parent must diverge
// independently of each other.
func TestForkIsolation(t *testing.T) {
	ctx := context.Background()
	store := newTestBlockStore(t)

	base := NewWriter(store, "A", Unordered, KeyTypeString, FlavorString, 4096)
	if err := base.Set(ctx, "p", "a", StringValue("1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	f, err := base.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := f.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	fork1, err := Fork(ctx, store, "A", "B1", Unordered, KeyTypeString, FlavorString, 4096)
	if err != nil {
		t.Fatalf("Fork 1: %v", err)
	}
	if err := fork1.Set(ctx, "p", "b", StringValue("2")); err != nil {
		t.Fatalf("Set fork1: %v", err)
	}
	f1, err := fork1.Commit()
	if err != nil {
		t.Fatalf("Commit fork1: %v", err)
	}
	if _, err := f1.Flush(ctx); err != nil {
		t.Fatalf("Flush fork1: %v", err)
	}

	fork2, err := Fork(ctx, store, "A", "B2", Unordered, KeyTypeString, FlavorString, 4096)
	if err != nil {
		t.Fatalf("Fork 2: %v", err)
	}
	if err := fork2.Set(ctx, "p", "b", StringValue("3")); err != nil {
		t.Fatalf("Set fork2: %v", err)
	}
	f2, err := fork2.Commit()
	if err != nil {
		t.Fatalf("Commit fork2: %v", err)
	}
	if _, err := f2.Flush(ctx); err != nil {
		t.Fatalf("Flush fork2: %v", err)
	}

	rA, err := Open(ctx, store, "A")
	if err != nil {
		t.Fatalf("Open A: %v", err)
	}
	if _, err := rA.Get(ctx, "p", "b"); err != ErrKeyNotFound {
		t.Fatalf("parent should not see fork writes, got %v", err)
	}
	va, err := rA.Get(ctx, "p", "a")
	if err != nil || va.Str != "1" {
		t.Fatalf("parent a = %v, %v, want 1", va, err)
	}

	r1, err := Open(ctx, store, "B1")
	if err != nil {
		t.Fatalf("Open B1: %v", err)
	}
	v1, err := r1.Get(ctx, "p", "b")
	if err != nil || v1.Str != "2" {
		t.Fatalf("fork1 b = %v, %v, want 2", v1, err)
	}

	r2, err := Open(ctx, store, "B2")
	if err != nil {
		t.Fatalf("Open B2: %v", err)
	}
	v2, err := r2.Get(ctx, "p", "b")
	if err != nil || v2.Str != "3" {
		t.Fatalf("fork2 b = %v, %v, want 3", v2, err)
	}
}
