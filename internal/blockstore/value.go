package blockstore

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// Flavor tags which arrow schema a Value's bytes follow (spec.md §4.3.2).
// This is the closed tagged variant spec.md §9 calls for ("no open-world
// polymorphism is exposed across the segment boundary"): Value carries
// exactly the field matching its Flavor, every other field left zero.
type Flavor int

const (
	FlavorString Flavor = iota
	FlavorU32
	FlavorVecU32
	FlavorBitmap
	FlavorDataRecord
	FlavorSpannPostingList
)

// DataRecord is a vector segment's record: an embedding plus id, metadata,
// and document text (spec.md §4.3.2).
type DataRecord struct {
	ID        string
	Embedding []float32
	Metadata  map[string]string
	Document  string
}

// SpannPostingList is a per-head posting list: parallel offset_ids,
// versions, and embeddings arrays (spec.md §4.3.2).
type SpannPostingList struct {
	OffsetIDs []uint32
	Versions  []uint32
	Embeddings [][]float32
}

// Value is one cell's worth of payload, tagged by Flavor.
type Value struct {
	Flavor Flavor

	Str     string
	U32     uint32
	VecU32  []uint32
	Bitmap  *roaring.Bitmap
	Record  *DataRecord
	Posting *SpannPostingList
}

// StringValue, U32Value, ... are convenience constructors, one per Flavor.
func StringValue(s string) Value          { return Value{Flavor: FlavorString, Str: s} }
func U32Value(v uint32) Value             { return Value{Flavor: FlavorU32, U32: v} }
func VecU32Value(v []uint32) Value        { return Value{Flavor: FlavorVecU32, VecU32: v} }
func BitmapValue(b *roaring.Bitmap) Value { return Value{Flavor: FlavorBitmap, Bitmap: b} }
func DataRecordValue(r *DataRecord) Value { return Value{Flavor: FlavorDataRecord, Record: r} }
func SpannPostingListValue(p *SpannPostingList) Value {
	return Value{Flavor: FlavorSpannPostingList, Posting: p}
}

// byteSize computes this value's raw-bytes contribution for columnBytes,
// not yet rounded or combined with offset/validity overhead — that
// happens in columnBytes, once per block in Block.ByteSize (which
// Delta.GetSize uses) and once per record in Delta.Split.
func (v Value) byteSize() int {
	switch v.Flavor {
	case FlavorString:
		return len(v.Str)
	case FlavorU32:
		return 4
	case FlavorVecU32:
		return len(v.VecU32) * 4
	case FlavorBitmap:
		if v.Bitmap == nil {
			return 0
		}
		return int(v.Bitmap.GetSerializedSizeInBytes())
	case FlavorDataRecord:
		if v.Record == nil {
			return 0
		}
		size := len(v.Record.ID) + len(v.Record.Document) + len(v.Record.Embedding)*4
		for k, val := range v.Record.Metadata {
			size += len(k) + len(val)
		}
		return size
	case FlavorSpannPostingList:
		if v.Posting == nil {
			return 0
		}
		size := len(v.Posting.OffsetIDs)*4 + len(v.Posting.Versions)*4
		for _, e := range v.Posting.Embeddings {
			size += len(e) * 4
		}
		return size
	default:
		return 0
	}
}

// isVariableLength reports whether this flavor needs an Arrow offsets
// buffer (variable-length columns do; fixed-width scalars don't).
func (v Value) isVariableLength() bool {
	switch v.Flavor {
	case FlavorU32:
		return false
	default:
		return true
	}
}
