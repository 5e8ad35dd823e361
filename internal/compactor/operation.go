package compactor

import (
	"bytes"
	"encoding/gob"
)

// OperationKind tags what an OperationRecord does to a document (spec.md
// §3.2). Closed variant: exactly one of Operation's meanings applies per
// record, no open-world extension across the log/segment boundary.
type OperationKind int

const (
	OpAdd OperationKind = iota
	OpUpdate
	OpUpsert
	OpDelete
)

// OperationRecord is the typed payload producers encode into a log
// record's opaque bytes (spec.md §3.2): an id, an operation, and the
// optional embedding/encoding/metadata delta that operation carries.
// Fields unused by Operation are left zero, the same closed-variant
// contract blockstore.Value follows for its Flavor-tagged fields.
type OperationRecord struct {
	ID          string
	Operation   OperationKind
	Embedding   []float32
	EncodingTag string
	Metadata    map[string]string
	Document    string
}

// EncodeOperationRecord serializes an OperationRecord for the log, gob
// chosen for the same reason the sparse index uses it: every field here is
// a plain scalar/slice/map, with none of blockstore.Value's
// gob-incompatible *roaring.Bitmap pointer to work around.
func EncodeOperationRecord(r OperationRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeOperationRecord is EncodeOperationRecord's inverse.
func DecodeOperationRecord(data []byte) (OperationRecord, error) {
	var r OperationRecord
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r)
	return r, err
}
