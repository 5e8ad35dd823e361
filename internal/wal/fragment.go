package wal

import (
	"fmt"

	"github.com/corewal/corewal/internal/ids"
	"github.com/corewal/corewal/internal/setsum"
)

// Fragment is an immutable blob holding a contiguous run of records at a
// known offset range, sealed by a content hash (spec.md §3.3).
type Fragment struct {
	Path        string      `json:"path"`
	SeqNo       ids.SeqNo   `json:"seq_no"`
	StartOffset ids.Offset  `json:"start_offset"`
	LimitOffset ids.Offset  `json:"limit_offset"`
	NumBytes    int64       `json:"num_bytes"`
	Setsum      setsum.Setsum `json:"setsum"`
}

// fragmentPath matches spec.md §6.1: {prefix}/f/{seq_no}.
func fragmentPath(prefix string, seqNo ids.SeqNo) string {
	return fmt.Sprintf("%s/f/%020d", prefix, seqNo)
}

// encodeBatch concatenates records into a fragment body, length-prefixing
// each record so the reader can split the body back into individual
// records. This is the on-disk representation of a fragment's bytes.
func encodeBatch(records [][]byte) []byte {
	size := 0
	for _, r := range records {
		size += 4 + len(r)
	}
	out := make([]byte, 0, size)
	var lenBuf [4]byte
	for _, r := range records {
		putUint32(lenBuf[:], uint32(len(r)))
		out = append(out, lenBuf[:]...)
		out = append(out, r...)
	}
	return out
}

// decodeBatch splits a fragment/snapshot body back into its constituent
// records, in the order they were encoded.
func decodeBatch(body []byte) ([][]byte, error) {
	var out [][]byte
	for len(body) > 0 {
		if len(body) < 4 {
			return nil, ErrManifestCorrupt
		}
		n := getUint32(body)
		body = body[4:]
		if uint32(len(body)) < n {
			return nil, ErrManifestCorrupt
		}
		out = append(out, body[:n])
		body = body[n:]
	}
	return out, nil
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
