// Package setsum implements the order-independent, additively invertible
// multiset hash used by the WAL to track "everything ever written" and
// "everything ever collected" without re-reading history.
//
// A Setsum is the XOR of per-record digests, each made of four murmur3 sums
// of the record bytes under fixed, distinct seeds, so that two different
// records practically never collide while the combining operator (XOR)
// stays commutative and its own inverse. That gives the manifest invariant
// described in spec.md §4.2.3:
//
//	manifest.setsum == manifest.collected ^ (xor of setsum(live fragment/snapshot))
package setsum

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/spaolacci/murmur3"
)

// Size is the width, in bytes, of a Setsum digest.
const Size = 32

// Setsum is a 256 bit order-independent multiset digest.
type Setsum [Size]byte

// Zero is the identity element: Add(Zero, x) == x for all x.
var Zero Setsum

// Of computes the single-record digest used as the seed for Add.
//
// Four independent 64 bit murmur3 sums (with distinct seeds) are
// concatenated rather than a single wide hash so that XOR-combining many
// digests doesn't cancel structure the way a single narrow hash could.
func Of(record []byte) Setsum {
	var s Setsum
	for i := 0; i < 4; i++ {
		h := murmur3.Sum64WithSeed(record, uint32(i*0x9e3779b1))
		binary.BigEndian.PutUint64(s[i*8:], h)
	}
	return s
}

// Add combines two digests. It is commutative, associative, and its own
// inverse: Add(Add(a, b), b) == a.
func Add(a, b Setsum) Setsum {
	var out Setsum
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// AddBytes folds a single record's bytes into an accumulator in one step.
func AddBytes(acc Setsum, record []byte) Setsum {
	return Add(acc, Of(record))
}

// AddAll folds every record's bytes, in any order, into acc.
func AddAll(acc Setsum, records [][]byte) Setsum {
	for _, r := range records {
		acc = AddBytes(acc, r)
	}
	return acc
}

// IsZero reports whether s is the identity element.
func (s Setsum) IsZero() bool {
	return s == Zero
}

// String renders the digest as lowercase hex, suitable for use as a
// snapshot blob path component (spec.md §6.1: {prefix}/s/{setsum_hex}).
func (s Setsum) String() string {
	return hex.EncodeToString(s[:])
}

// Parse reconstructs a Setsum from its hex rendering.
func Parse(s string) (Setsum, error) {
	var out Setsum
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != Size {
		return out, errInvalidLength(len(b))
	}
	copy(out[:], b)
	return out, nil
}

type errInvalidLength int

func (e errInvalidLength) Error() string {
	return "setsum: invalid encoded length"
}

// MarshalJSON renders a Setsum as its hex string, so manifests/snapshots
// serialize to readable JSON documents.
func (s Setsum) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses the hex string produced by MarshalJSON.
func (s *Setsum) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errInvalidLength(len(data))
	}
	parsed, err := Parse(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
