package objectstore

import (
	"context"
	"testing"
)

func TestNonDestructiveForcesNoDelete(t *testing.T) {
	fs, err := NewFSProvider(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSProvider: %v", err)
	}
	if !fs.SupportsDelete() {
		t.Fatal("FSProvider itself should support delete")
	}

	nd := NewNonDestructive(fs)
	if nd.SupportsDelete() {
		t.Fatal("NonDestructive must report SupportsDelete() == false even though the wrapped provider supports it")
	}
	ctx := context.Background()
	if err := nd.Put(ctx, "f", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := nd.Delete(ctx, "f"); err != ErrDeleteUnsupported {
		t.Fatalf("got %v, want ErrDeleteUnsupported", err)
	}
	data, err := nd.Get(ctx, "f")
	if err != nil || string(data) != "x" {
		t.Fatalf("Delete should not have removed the object: data=%q err=%v", data, err)
	}
}

func TestFSProviderCASAndList(t *testing.T) {
	fs, err := NewFSProvider(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSProvider: %v", err)
	}
	ctx := context.Background()

	if err := fs.PutIfAbsent(ctx, "a/1", []byte("one")); err != nil {
		t.Fatalf("PutIfAbsent: %v", err)
	}
	if err := fs.PutIfAbsent(ctx, "a/1", []byte("again")); err != ErrAlreadyExists {
		t.Fatalf("got %v, want ErrAlreadyExists", err)
	}

	h, err := fs.CompareAndSwap(ctx, "a/2", ZeroHash, []byte("two"))
	if err != nil {
		t.Fatalf("CompareAndSwap(create): %v", err)
	}
	if _, err := fs.CompareAndSwap(ctx, "a/2", ZeroHash, []byte("two-again")); err != ErrCASMismatch {
		t.Fatalf("got %v, want ErrCASMismatch", err)
	}
	if _, err := fs.CompareAndSwap(ctx, "a/2", h, []byte("two-updated")); err != nil {
		t.Fatalf("CompareAndSwap(update): %v", err)
	}

	names, err := fs.List(ctx, "a/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("got %d entries, want 2: %v", len(names), names)
	}

	if err := fs.Copy(ctx, "a/1", "b/1"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	data, err := fs.Get(ctx, "b/1")
	if err != nil || string(data) != "one" {
		t.Fatalf("Get(b/1) = %q, %v; want \"one\", nil", data, err)
	}

	if _, err := fs.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestFSProviderGetRange(t *testing.T) {
	fs, err := NewFSProvider(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSProvider: %v", err)
	}
	ctx := context.Background()
	if err := fs.Put(ctx, "r", []byte("abcdefghij")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	chunk, err := fs.GetRange(ctx, "r", Range{Offset: 3, Length: 4})
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if string(chunk) != "defg" {
		t.Fatalf("got %q, want defg", chunk)
	}
}
