// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package blockfile

import (
	"sync"

	"github.com/tidwall/btree"

	"github.com/embeddb/storecore/keyvalue"
)

type deltaEntry struct {
	Key   keyvalue.CompositeKey
	Value keyvalue.Value
}

func deltaEntryLess(a, b deltaEntry) bool { return a.Key.Less(b.Key) }

// BlockDelta is the mutable, pre-commit form of a block: a sorted map
// plus a tombstone set (spec.md §3 "Block delta"). It is the exclusive
// owner of its pending mutations for the duration of a writer; callers
// reach it only through the writer's single per-writer lock, so BlockDelta
// itself uses a plain mutex rather than trying to be independently
// lock-free.
type BlockDelta struct {
	mu        sync.Mutex
	ID        BlockID
	KeyKind   keyvalue.KeyKind
	ValueKind keyvalue.ValueKind
	rows      *btree.BTreeG[deltaEntry]
	tombstone map[keyvalue.CompositeKey]struct{}
}

func newEmptyDelta(keyKind keyvalue.KeyKind, valueKind keyvalue.ValueKind) *BlockDelta {
	return &BlockDelta{
		ID:        NewID(),
		KeyKind:   keyKind,
		ValueKind: valueKind,
		rows:      btree.NewBTreeG(deltaEntryLess),
		tombstone: make(map[keyvalue.CompositeKey]struct{}),
	}
}

// newDeltaFromBlock forks a committed block into a fresh delta with a new
// ID (spec.md §4.1.1 "the committed block is fetched and forked into a
// new delta with a fresh ID").
func newDeltaFromBlock(b *Block) *BlockDelta {
	d := newEmptyDelta(b.KeyKind, b.ValueKind)
	for _, row := range b.Rows {
		d.rows.Set(deltaEntry{Key: row.Key, Value: row.Value})
	}
	return d
}

func (d *BlockDelta) Set(key keyvalue.CompositeKey, value keyvalue.Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tombstone, key)
	d.rows.Set(deltaEntry{Key: key, Value: value})
}

func (d *BlockDelta) Delete(key keyvalue.CompositeKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rows.Delete(deltaEntry{Key: key})
	d.tombstone[key] = struct{}{}
}

func (d *BlockDelta) Get(key keyvalue.CompositeKey) (keyvalue.Value, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.rows.Get(deltaEntry{Key: key})
	return e.Value, ok
}

// MinKey is the current minimum live key, used to re-key the sparse
// index entry pointing at this delta.
func (d *BlockDelta) MinKey() keyvalue.CompositeKey {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.rows.Min(); ok {
		return e.Key
	}
	return keyvalue.MinSentinel(d.KeyKind)
}

// EncodedLen is the in-memory serialized size of the delta's live rows
// (prefix, key and value, length prefixes included) — the quantity split decisions are made against (spec.md §4.1.4).
func (d *BlockDelta) EncodedLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	d.rows.Scan(func(e deltaEntry) bool {
		n += 4 + len(e.Key.Prefix) + e.Value.EncodedLen()
		switch e.Key.Key.Kind() {
		case keyvalue.KeyBool:
			n++
		case keyvalue.KeyStr:
			n += 4 + len(e.Key.Key.Str())
		default:
			n += 4
		}
		return true
	})
	return n
}

func (d *BlockDelta) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rows.Len()
}

// splitAtMedian splits d into two deltas at the composite-key median,
// each with its own fresh ID (spec.md §4.1.1 "split at the composite-key
// median into ≥2 deltas").
func (d *BlockDelta) splitAtMedian() (*BlockDelta, *BlockDelta) {
	d.mu.Lock()
	all := make([]deltaEntry, 0, d.rows.Len())
	d.rows.Scan(func(e deltaEntry) bool {
		all = append(all, e)
		return true
	})
	d.mu.Unlock()

	mid := len(all) / 2
	left := newEmptyDelta(d.KeyKind, d.ValueKind)
	right := newEmptyDelta(d.KeyKind, d.ValueKind)
	for _, e := range all[:mid] {
		left.rows.Set(e)
	}
	for _, e := range all[mid:] {
		right.rows.Set(e)
	}
	return left, right
}

// toCommittedRows snapshots the delta's live rows in sorted order.
func (d *BlockDelta) toCommittedRows() []Row {
	d.mu.Lock()
	defer d.mu.Unlock()
	rows := make([]Row, 0, d.rows.Len())
	d.rows.Scan(func(e deltaEntry) bool {
		rows = append(rows, Row{Key: e.Key, Value: e.Value})
		return true
	})
	return rows
}
