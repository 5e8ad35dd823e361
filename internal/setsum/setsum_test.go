package setsum

import (
	"encoding/json"
	"testing"
)

func TestAddCommutative(t *testing.T) {
	a := Of([]byte("alpha"))
	b := Of([]byte("beta"))
	if Add(a, b) != Add(b, a) {
		t.Fatal("Add is not commutative")
	}
}

func TestAddSelfInverse(t *testing.T) {
	acc := Zero
	acc = AddBytes(acc, []byte("one"))
	acc = AddBytes(acc, []byte("two"))
	acc = AddBytes(acc, []byte("three"))
	removed := AddBytes(acc, []byte("two"))
	removed = Add(removed, Of([]byte("two")))
	// Removing "two" twice should be equivalent to never having removed it:
	// subtracting the same digest twice cancels out under XOR.
	if removed != acc {
		t.Fatal("double-remove did not cancel")
	}
	withoutTwo := Add(acc, Of([]byte("two")))
	rebuilt := Zero
	rebuilt = AddBytes(rebuilt, []byte("one"))
	rebuilt = AddBytes(rebuilt, []byte("three"))
	if withoutTwo != rebuilt {
		t.Fatal("subtracting a record did not match rebuilding without it")
	}
}

func TestOrderIndependence(t *testing.T) {
	records := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}
	forward := AddAll(Zero, records)
	reversed := make([][]byte, len(records))
	for i, r := range records {
		reversed[len(records)-1-i] = r
	}
	backward := AddAll(Zero, reversed)
	if forward != backward {
		t.Fatal("setsum is order dependent")
	}
}

func TestZeroIdentity(t *testing.T) {
	a := Of([]byte("x"))
	if Add(a, Zero) != a {
		t.Fatal("Zero is not the identity element")
	}
}

func TestStringRoundTrip(t *testing.T) {
	a := Of([]byte("round-trip"))
	s := a.String()
	b, err := Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("round trip through hex changed the digest")
	}
}

func TestParseInvalidLength(t *testing.T) {
	if _, err := Parse("abcd"); err == nil {
		t.Fatal("expected error for short hex string")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	a := Of([]byte("json"))
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var b Setsum
	if err := json.Unmarshal(data, &b); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if a != b {
		t.Fatal("JSON round trip changed the digest")
	}
}
