package blockstore

import "sort"

// entry is one sorted-map slot in a Delta: present=false means a tombstone
// recorded over a key the delta's source Block still carries, so merging
// the delta back over the source omits it (spec.md §3.9, §4.3.2).
type entry struct {
	prefix  string
	key     string
	value   Value
	present bool
}

// Delta is the mutable overlay over an optional immutable source Block
// (spec.md §4.3.2). Unlike the teacher's lock-free valuelocmap (built for
// concurrent readers/writers sharing one structure), a Delta is owned by a
// single blockfile writer goroutine at a time, so a plain sorted slice
// with binary search is the right trade: simpler, and every operation here
// is already O(log n) lookup + O(n) insert, matching what a sorted map
// overlay costs regardless of backing structure.
type Delta struct {
	source  *Block
	entries []entry // sorted by (prefix, key)
}

// NewDelta builds a Delta over an optional source block (nil for a
// brand-new, empty delta).
func NewDelta(source *Block) *Delta {
	return &Delta{source: source}
}

func (d *Delta) find(prefix, key string) (int, bool) {
	i := sort.Search(len(d.entries), func(i int) bool {
		return !less(d.entries[i].prefix, d.entries[i].key, prefix, key)
	})
	if i < len(d.entries) && d.entries[i].prefix == prefix && d.entries[i].key == key {
		return i, true
	}
	return i, false
}

// Add records a (prefix, key, value) write, last-write-wins (spec.md
// §4.3.4's shared blockfile contract).
func (d *Delta) Add(prefix, key string, value Value) {
	i, ok := d.find(prefix, key)
	if ok {
		d.entries[i].value = value
		d.entries[i].present = true
		return
	}
	d.entries = append(d.entries, entry{})
	copy(d.entries[i+1:], d.entries[i:])
	d.entries[i] = entry{prefix: prefix, key: key, value: value, present: true}
}

// Delete marks (prefix, key) absent, shadowing any value the source block
// may still carry for that key.
func (d *Delta) Delete(prefix, key string) {
	i, ok := d.find(prefix, key)
	if ok {
		d.entries[i].present = false
		return
	}
	d.entries = append(d.entries, entry{})
	copy(d.entries[i+1:], d.entries[i:])
	d.entries[i] = entry{prefix: prefix, key: key, present: false}
}

// Get returns the current value for (prefix, key), checking the overlay
// before falling back to the source block.
func (d *Delta) Get(prefix, key string) (Value, bool) {
	if i, ok := d.find(prefix, key); ok {
		return d.entries[i].value, d.entries[i].present
	}
	if d.source == nil {
		return Value{}, false
	}
	for _, r := range d.source.Records {
		if r.Prefix == prefix && r.Key == key {
			return r.Value, true
		}
	}
	return Value{}, false
}

// GetMinKey returns the smallest live (prefix, key) across overlay and
// source, or ok=false if the delta has no live entries at all.
func (d *Delta) GetMinKey() (prefix, key string, ok bool) {
	records := d.merged()
	if len(records) == 0 {
		return "", "", false
	}
	return records[0].Prefix, records[0].Key, true
}

// Len returns the number of live (prefix, key) pairs after merging the
// overlay with the source block.
func (d *Delta) Len() int {
	return len(d.merged())
}

// merged returns the delta's fully resolved record set: source records
// overlaid with entries, tombstones dropped, sorted by (prefix, key).
// This is the one place source+overlay reconciliation happens; every
// other method (GetSize, Split, IntoBlock) builds on it.
func (d *Delta) merged() []Record {
	byKey := make(map[[2]string]Record)
	order := make([][2]string, 0)
	if d.source != nil {
		for _, r := range d.source.Records {
			k := [2]string{r.Prefix, r.Key}
			byKey[k] = r
			order = append(order, k)
		}
	}
	for _, e := range d.entries {
		k := [2]string{e.prefix, e.key}
		if _, existed := byKey[k]; !existed {
			order = append(order, k)
		}
		if e.present {
			byKey[k] = Record{Prefix: e.prefix, Key: e.key, Value: e.value}
		} else {
			delete(byKey, k)
		}
	}
	out := make([]Record, 0, len(byKey))
	for _, k := range order {
		if r, ok := byKey[k]; ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return less(out[i].Prefix, out[i].Key, out[j].Prefix, out[j].Key)
	})
	return out
}

// GetSize computes the delta's rendered byte size via the same
// columnBytes formula a Block uses, so size-budget decisions made against
// a Delta and against the Block it eventually becomes never disagree
// (spec.md §4.3.1's "any deviation is a bug").
func (d *Delta) GetSize(keyType KeyType) int {
	b := &Block{KeyType: keyType, Records: d.merged()}
	return b.ByteSize()
}

// IntoBlock freezes this delta's merged records into an immutable Block
// with the given id and key/value types.
func (d *Delta) IntoBlock(id string, keyType KeyType, valueType Flavor) *Block {
	return &Block{ID: id, KeyType: keyType, ValueType: valueType, Records: d.merged()}
}

// Split implements spec.md §4.3.2's universal split algorithm: walk the
// merged, sorted record set accumulating each record's per-column byte
// contribution; once the running total first exceeds budget, the *next*
// key becomes the split key and everything from it onward moves to the
// right-hand delta. If the budget is only exceeded by the last record,
// that last record alone moves to the right (a single-element delta is
// never split).
func (d *Delta) Split(keyType KeyType, budget int) (splitPrefix, splitKey string, right *Delta, ok bool) {
	records := d.merged()
	if len(records) <= 1 {
		return "", "", nil, false
	}
	n := len(records)
	running := 0
	splitAt := -1
	for i, r := range records {
		keyVariable := keyType != KeyTypeU32 && keyType != KeyTypeF32
		valueVariable := r.Value.isVariableLength()
		running += columnBytes(len(r.Prefix), offsetBytes(1), validityBytes(1))
		if keyVariable {
			running += columnBytes(len(r.Key), offsetBytes(1), validityBytes(1))
		} else {
			running += columnBytes(len(r.Key), 0, validityBytes(1))
		}
		if valueVariable {
			running += columnBytes(r.Value.byteSize(), offsetBytes(1), validityBytes(1))
		} else {
			running += columnBytes(r.Value.byteSize(), 0, validityBytes(1))
		}
		if running > budget {
			if i+1 < n {
				splitAt = i + 1
			} else {
				splitAt = n - 1
			}
			break
		}
	}
	if splitAt <= 0 || splitAt >= n {
		return "", "", nil, false
	}
	leftRecords := records[:splitAt]
	rightRecords := records[splitAt:]
	splitPrefix, splitKey = rightRecords[0].Prefix, rightRecords[0].Key

	right = NewDelta(nil)
	for _, r := range rightRecords {
		right.Add(r.Prefix, r.Key, r.Value)
	}

	newLeft := NewDelta(nil)
	for _, r := range leftRecords {
		newLeft.Add(r.Prefix, r.Key, r.Value)
	}
	*d = *newLeft
	return splitPrefix, splitKey, right, true
}
