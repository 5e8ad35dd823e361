package blockstore

import (
	"bytes"
	"encoding/gob"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/spaolacci/murmur3"
)

// KeyType is the key column's arrow type (spec.md §3.7).
type KeyType int

const (
	KeyTypeString KeyType = iota
	KeyTypeF32
	KeyTypeU32
	KeyTypeBool
)

// Record is one (prefix, key, value) triple stored in a Block, sorted by
// (prefix, key) within the block (spec.md §3.7).
type Record struct {
	Prefix string
	Key    string
	Value  Value
}

// Block is an immutable sorted key-value page (spec.md §3.7). Once
// written, a Block's ID and Records never change; forking/mutating a block
// always goes through a Delta.
type Block struct {
	ID        string
	KeyType   KeyType
	ValueType Flavor
	Records   []Record
}

// ByteSize computes spec.md §4.3.1's load-bearing formula over this
// block's columns: prefix (Utf8, variable-length), key (typed), value
// (typed, flavor-dependent).
func (b *Block) ByteSize() int {
	n := len(b.Records)
	if n == 0 {
		return 0
	}
	prefixRaw, keyRaw, valueRaw := 0, 0, 0
	keyVariable := b.KeyType != KeyTypeU32 && b.KeyType != KeyTypeF32
	valueVariable := false
	for _, r := range b.Records {
		prefixRaw += len(r.Prefix)
		keyRaw += len(r.Key)
		valueRaw += r.Value.byteSize()
		if r.Value.isVariableLength() {
			valueVariable = true
		}
	}
	total := columnBytes(prefixRaw, offsetBytes(n), validityBytes(n))
	if keyVariable {
		total += columnBytes(keyRaw, offsetBytes(n), validityBytes(n))
	} else {
		total += columnBytes(keyRaw, 0, validityBytes(n))
	}
	if valueVariable {
		total += columnBytes(valueRaw, offsetBytes(n), validityBytes(n))
	} else {
		total += columnBytes(valueRaw, 0, validityBytes(n))
	}
	return total
}

// wireRecord is Record flattened to gob-safe types: Value's *roaring.Bitmap
// field doesn't gob-encode on its own (it carries unexported internal
// state), so bitmaps are serialized through their own binary form and
// everything else rides gob directly.
type wireRecord struct {
	Prefix      string
	Key         string
	Flavor      Flavor
	Str         string
	U32         uint32
	VecU32      []uint32
	BitmapBytes []byte
	Record      *DataRecord
	Posting     *SpannPostingList
}

func toWire(r Record) (wireRecord, error) {
	w := wireRecord{
		Prefix: r.Prefix, Key: r.Key, Flavor: r.Value.Flavor,
		Str: r.Value.Str, U32: r.Value.U32, VecU32: r.Value.VecU32,
		Record: r.Value.Record, Posting: r.Value.Posting,
	}
	if r.Value.Flavor == FlavorBitmap && r.Value.Bitmap != nil {
		b, err := r.Value.Bitmap.ToBytes()
		if err != nil {
			return wireRecord{}, err
		}
		w.BitmapBytes = b
	}
	return w, nil
}

func fromWire(w wireRecord) (Record, error) {
	v := Value{Flavor: w.Flavor, Str: w.Str, U32: w.U32, VecU32: w.VecU32, Record: w.Record, Posting: w.Posting}
	if w.Flavor == FlavorBitmap && w.BitmapBytes != nil {
		bm := roaring.New()
		if err := bm.UnmarshalBinary(w.BitmapBytes); err != nil {
			return Record{}, err
		}
		v.Bitmap = bm
	}
	return Record{Prefix: w.Prefix, Key: w.Key, Value: v}, nil
}

// blockWire is the on-disk encoding: gob-encoded records behind the
// teacher's own murmur3 checksum framing (valuestorefile_GEN_.go writes a
// checksum every ChecksumInterval bytes; here, with whole-block-at-a-time
// writes, one checksum covers the whole body).
type blockWire struct {
	KeyType   KeyType
	ValueType Flavor
	Records   []wireRecord
}

// Encode serializes a block to bytes: a gob payload followed by an 8-byte
// big-endian murmur3 checksum of that payload, matching the teacher's
// checksum-then-body framing idiom.
func (b *Block) Encode() ([]byte, error) {
	wire := blockWire{KeyType: b.KeyType, ValueType: b.ValueType, Records: make([]wireRecord, len(b.Records))}
	for i, r := range b.Records {
		w, err := toWire(r)
		if err != nil {
			return nil, err
		}
		wire.Records[i] = w
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wire); err != nil {
		return nil, err
	}
	payload := buf.Bytes()
	sum := murmur3.Sum64(payload)
	out := make([]byte, 0, len(payload)+8)
	out = append(out, payload...)
	for i := 7; i >= 0; i-- {
		out = append(out, byte(sum>>(8*uint(i))))
	}
	return out, nil
}

// Decode reverses Encode, verifying the trailing checksum before trusting
// the body.
func Decode(id string, data []byte) (*Block, error) {
	if len(data) < 8 {
		return nil, ErrCorruptBlock
	}
	payload := data[:len(data)-8]
	wantSum := uint64(0)
	for _, b := range data[len(data)-8:] {
		wantSum = wantSum<<8 | uint64(b)
	}
	if murmur3.Sum64(payload) != wantSum {
		return nil, ErrCorruptBlock
	}
	var wire blockWire
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&wire); err != nil {
		return nil, ErrCorruptBlock
	}
	records := make([]Record, len(wire.Records))
	for i, w := range wire.Records {
		r, err := fromWire(w)
		if err != nil {
			return nil, ErrCorruptBlock
		}
		records[i] = r
	}
	return &Block{ID: id, KeyType: wire.KeyType, ValueType: wire.ValueType, Records: records}, nil
}

// IsSorted checks the block's records are strictly increasing by
// (prefix, key), part of Reader.IsValid's structural check (spec.md
// §4.3.5).
func (b *Block) IsSorted() bool {
	for i := 1; i < len(b.Records); i++ {
		if !less(b.Records[i-1].Prefix, b.Records[i-1].Key, b.Records[i].Prefix, b.Records[i].Key) {
			return false
		}
	}
	return true
}

// MinKey returns the block's minimum (prefix, key), or ("", "", false) if
// empty.
func (b *Block) MinKey() (string, string, bool) {
	if len(b.Records) == 0 {
		return "", "", false
	}
	return b.Records[0].Prefix, b.Records[0].Key, true
}

func less(p1, k1, p2, k2 string) bool {
	if p1 != p2 {
		return p1 < p2
	}
	return k1 < k2
}
