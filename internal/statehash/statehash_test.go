package statehash

import "testing"

type counterValue struct {
	id       int
	finished bool
}

func (c *counterValue) Finished() bool { return c.finished }

func TestGetOrCreateSharesState(t *testing.T) {
	next := 0
	tbl := New(func(key string) *counterValue {
		next++
		return &counterValue{id: next}
	})
	h1 := tbl.GetOrCreate("a")
	h2 := tbl.GetOrCreate("a")
	if h1.Value() != h2.Value() {
		t.Fatal("two handles for the same key did not share state")
	}
	h3 := tbl.GetOrCreate("b")
	if h3.Value() == h1.Value() {
		t.Fatal("distinct keys shared state")
	}
}

func TestReleaseEvictsOnlyWhenFinishedAndUnreferenced(t *testing.T) {
	tbl := New(func(key string) *counterValue { return &counterValue{} })
	h1 := tbl.GetOrCreate("k")
	h2 := tbl.GetOrCreate("k")
	tbl.Release(h1)
	if tbl.Len() != 1 {
		t.Fatal("entry evicted while still referenced")
	}
	h2.Value().finished = true
	tbl.Release(h2)
	if tbl.Len() != 0 {
		t.Fatal("entry not evicted once unreferenced and finished")
	}
}

func TestReleasePersistsUnfinishedState(t *testing.T) {
	tbl := New(func(key string) *counterValue { return &counterValue{} })
	h1 := tbl.GetOrCreate("k")
	h1.Value().id = 7
	tbl.Release(h1)
	if tbl.Len() != 1 {
		t.Fatal("unfinished state was evicted on release")
	}
	h2 := tbl.GetOrCreate("k")
	if h2.Value().id != 7 {
		t.Fatal("state did not persist across release/get-or-create")
	}
}

func TestGetMissingKey(t *testing.T) {
	tbl := New(func(key string) *counterValue { return &counterValue{} })
	if _, ok := tbl.Get("missing"); ok {
		t.Fatal("expected Get to report no state for an untouched key")
	}
}
