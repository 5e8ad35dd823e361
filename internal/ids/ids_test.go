package ids

import "testing"

func TestCollectionIDRoundTrip(t *testing.T) {
	id := NewCollectionID()
	parsed, err := ParseCollectionID(id.String())
	if err != nil {
		t.Fatalf("ParseCollectionID: %v", err)
	}
	if parsed != id {
		t.Fatalf("got %v, want %v", parsed, id)
	}
}

func TestSegmentIDRoundTrip(t *testing.T) {
	id := NewSegmentID()
	parsed, err := ParseSegmentID(id.String())
	if err != nil {
		t.Fatalf("ParseSegmentID: %v", err)
	}
	if parsed != id {
		t.Fatalf("got %v, want %v", parsed, id)
	}
}

func TestSequencerReservesContiguousRanges(t *testing.T) {
	s := NewSequencer(1, 0)

	seq1, start1, limit1 := s.Reserve(4)
	if seq1 != 1 {
		t.Fatalf("got seq %d, want 1", seq1)
	}
	if start1 != 0 || limit1 != 4 {
		t.Fatalf("got [%d,%d), want [0,4)", start1, limit1)
	}

	seq2, start2, limit2 := s.Reserve(3)
	if seq2 != 2 {
		t.Fatalf("got seq %d, want 2", seq2)
	}
	if start2 != limit1 {
		t.Fatalf("second reservation must start where the first ended: got %d, want %d", start2, limit1)
	}
	if limit2-start2 != 3 {
		t.Fatalf("got range length %d, want 3", limit2-start2)
	}

	if got := s.NextOffset(); got != limit2 {
		t.Fatalf("NextOffset() = %d, want %d", got, limit2)
	}
}

func TestAtomicVersionCompareAndSwap(t *testing.T) {
	var v AtomicVersion
	v.Store(5)
	if got := v.Load(); got != 5 {
		t.Fatalf("Load() = %d, want 5", got)
	}
	if !v.CompareAndSwap(5, 6) {
		t.Fatal("expected CompareAndSwap(5,6) to succeed")
	}
	if v.CompareAndSwap(5, 7) {
		t.Fatal("expected CompareAndSwap(5,7) to fail after version moved to 6")
	}
	if got := v.Load(); got != 6 {
		t.Fatalf("Load() = %d, want 6", got)
	}
}
