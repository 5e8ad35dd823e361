package blockstore

import (
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
)

func TestBlockEncodeDecodeRoundTrip(t *testing.T) {
	bm := roaring.New()
	bm.Add(1)
	bm.Add(100)
	b := &Block{
		ID:      "b1",
		KeyType: KeyTypeString,
		Records: []Record{
			{Prefix: "p", Key: "a", Value: StringValue("x")},
			{Prefix: "p", Key: "b", Value: U32Value(42)},
			{Prefix: "p", Key: "c", Value: BitmapValue(bm)},
			{Prefix: "p", Key: "d", Value: DataRecordValue(&DataRecord{ID: "d1", Embedding: []float32{1, 2, 3}})},
		},
	}
	data, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode("b1", data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Records) != len(b.Records) {
		t.Fatalf("got %d records, want %d", len(got.Records), len(b.Records))
	}
	bmOut := got.Records[2].Value.Bitmap
	if bmOut == nil || !bmOut.Contains(1) || !bmOut.Contains(100) {
		t.Fatalf("bitmap did not round trip: %v", bmOut)
	}
	rec := got.Records[3].Value.Record
	if rec == nil || rec.ID != "d1" || len(rec.Embedding) != 3 {
		t.Fatalf("data record did not round trip: %+v", rec)
	}
}

func TestDecodeRejectsCorruptChecksum(t *testing.T) {
	b := &Block{ID: "b1", KeyType: KeyTypeString, Records: []Record{{Prefix: "p", Key: "a", Value: StringValue("x")}}}
	data, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	data[0] ^= 0xFF
	if _, err := Decode("b1", data); err != ErrCorruptBlock {
		t.Fatalf("got %v, want ErrCorruptBlock", err)
	}
}

func TestIsSorted(t *testing.T) {
	sorted := &Block{Records: []Record{{Prefix: "p", Key: "a"}, {Prefix: "p", Key: "b"}}}
	if !sorted.IsSorted() {
		t.Fatal("expected sorted block to report sorted")
	}
	unsorted := &Block{Records: []Record{{Prefix: "p", Key: "b"}, {Prefix: "p", Key: "a"}}}
	if unsorted.IsSorted() {
		t.Fatal("expected unsorted block to report unsorted")
	}
}

func TestColumnBytesFormula(t *testing.T) {
	// 10 raw bytes rounds up to one 64-byte alignment unit; offset bytes
	// for 1 item is 8, rounds up to 64; validity is 1 byte, not rounded.
	got := columnBytes(10, offsetBytes(1), validityBytes(1))
	want := 64 + 64 + 1
	if got != want {
		t.Fatalf("columnBytes = %d, want %d", got, want)
	}
}
