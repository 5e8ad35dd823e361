package wal

import (
	"context"
	"encoding/json"

	"github.com/corewal/corewal/internal/ids"
	"github.com/corewal/corewal/internal/objectstore"
)

// Cursor is a named durable offset tracking a reader's progress (spec.md
// §3.6). min(cursor.Position) across all of a log's cursors is the GC
// watermark.
type Cursor struct {
	Name     string     `json:"name"`
	Position ids.Offset `json:"position"`
	EpochUs  int64      `json:"epoch_us"`
	Writer   string     `json:"writer"`
}

func cursorPath(prefix, name string) string {
	return prefix + "/cursors/" + name
}

// GetCursor reads a named cursor, or (Cursor{}, false, nil) if it has
// never been created.
func GetCursor(ctx context.Context, store objectstore.Store, prefix, name string) (Cursor, bool, error) {
	data, err := store.Get(ctx, cursorPath(prefix, name))
	if err == objectstore.ErrNotFound {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, err
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, false, ErrManifestCorrupt
	}
	return c, true, nil
}

// PutCursor durably advances (or creates) a named cursor. Cursors are
// logically mutable with CAS (spec.md §3.10); callers that need strict
// linearizability across multiple writers of the same cursor name should
// synchronize externally (e.g. one cursor owner per name), which matches
// how every named cursor in this system has exactly one writer.
func PutCursor(ctx context.Context, store objectstore.Store, prefix string, c Cursor) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return store.Put(ctx, cursorPath(prefix, c.Name), data)
}

// ListCursors returns every cursor currently recorded for a log.
func ListCursors(ctx context.Context, store objectstore.Store, prefix string) ([]Cursor, error) {
	names, err := store.List(ctx, prefix+"/cursors/")
	if err != nil {
		return nil, err
	}
	out := make([]Cursor, 0, len(names))
	for _, n := range names {
		data, err := store.Get(ctx, n)
		if err != nil {
			return nil, err
		}
		var c Cursor
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, ErrManifestCorrupt
		}
		out = append(out, c)
	}
	return out, nil
}

// MinCursorPosition returns the minimum position across cursors, the GC
// watermark. If there are no cursors, ok is false and GC must not drop
// anything (an absent cursor is not the same as a cursor at offset 0: it
// means "no reader has ever checked in", so nothing can safely be
// considered read).
func MinCursorPosition(cursors []Cursor) (ids.Offset, bool) {
	if len(cursors) == 0 {
		return 0, false
	}
	min := cursors[0].Position
	for _, c := range cursors[1:] {
		if c.Position < min {
			min = c.Position
		}
	}
	return min, true
}
