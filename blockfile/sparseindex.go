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

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/embeddb/storecore/errkind"
	"github.com/embeddb/storecore/keyvalue"
)

// BlockID and BlockfileID are the UUIDv4 identifiers spec.md §6.1 mandates
// for every persisted block and blockfile manifest.
type BlockID = uuid.UUID
type BlockfileID = uuid.UUID

func NewID() BlockID { return uuid.New() }

type sparseEntry struct {
	MinKey  keyvalue.CompositeKey
	BlockID BlockID
}

func sparseEntryLess(a, b sparseEntry) bool { return a.MinKey.Less(b.MinKey) }

func newSparseTree() *btree.BTreeG[sparseEntry] { return btree.NewG(32, sparseEntryLess) }

// RangeOp names the bound comparison a range scan uses to select blocks.
type RangeOp int

const (
	OpLT RangeOp = iota
	OpLTE
	OpGT
	OpGTE
	OpPrefix
)

// SparseIndex is the per-blockfile map from a composite-key lower bound
// to the block that owns everything from that bound up to (but not
// including) the next entry's bound. Exactly one entry per live block;
// the leftmost entry's key is the sentinel minimum (spec.md §3, §4.1.3).
//
// Guarded by a fine-grained RWMutex, held only for the duration of each
// structural operation (spec.md §5 "Locking discipline").
type SparseIndex struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[sparseEntry]
	kind keyvalue.KeyKind
}

// NewSparseIndex returns an index with a single sentinel entry pointing
// at rootBlock — the shape a freshly created (non-forked) writer starts
// with.
func NewSparseIndex(kind keyvalue.KeyKind, rootBlock BlockID) *SparseIndex {
	idx := &SparseIndex{
		tree: btree.NewG(32, sparseEntryLess),
		kind: kind,
	}
	idx.tree.ReplaceOrInsert(sparseEntry{MinKey: keyvalue.MinSentinel(kind), BlockID: rootBlock})
	return idx
}

// Fork returns a deep copy sharing no mutable state with idx, the shape a
// forked writer's sparse index starts from (spec.md §4.1.1).
func (idx *SparseIndex) Fork() *SparseIndex {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := &SparseIndex{tree: btree.NewG(32, sparseEntryLess), kind: idx.kind}
	idx.tree.Ascend(func(e sparseEntry) bool {
		out.tree.ReplaceOrInsert(e)
		return true
	})
	return out
}

// GetTargetBlockID returns the block owning key: the entry with the
// greatest lower bound <= key (spec.md §4.1.3).
func (idx *SparseIndex) GetTargetBlockID(key keyvalue.CompositeKey) (BlockID, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var found sparseEntry
	ok := false
	idx.tree.DescendLessOrEqual(sparseEntry{MinKey: key}, func(e sparseEntry) bool {
		found, ok = e, true
		return false
	})
	return found.BlockID, ok
}

// ReplaceBlock atomically rewrites the entry for oldID to point at newID
// under newMinKey. Fails if newMinKey would violate strict ordering
// against its neighbors (spec.md §4.1.3). The leftmost entry keeps its
// sentinel minimum key whatever newMinKey is.
func (idx *SparseIndex) ReplaceBlock(oldID, newID BlockID, newMinKey keyvalue.CompositeKey) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var oldEntry sparseEntry
	found := false
	idx.tree.Ascend(func(e sparseEntry) bool {
		if e.BlockID == oldID {
			oldEntry, found = e, true
			return false
		}
		return true
	})
	if !found {
		return errkind.New(errkind.InvariantViolation, "SparseIndex.ReplaceBlock", "old block id not present in sparse index")
	}

	var prevKey, nextKey *keyvalue.CompositeKey
	idx.tree.DescendLessOrEqual(sparseEntry{MinKey: oldEntry.MinKey}, func(e sparseEntry) bool {
		if e.MinKey.Compare(oldEntry.MinKey) < 0 {
			k := e.MinKey
			prevKey = &k
			return false
		}
		return true
	})
	idx.tree.AscendGreaterOrEqual(sparseEntry{MinKey: oldEntry.MinKey}, func(e sparseEntry) bool {
		if e.MinKey.Compare(oldEntry.MinKey) > 0 {
			k := e.MinKey
			nextKey = &k
			return false
		}
		return true
	})

	if prevKey == nil && oldEntry.MinKey.Compare(keyvalue.MinSentinel(idx.kind)) == 0 {
		newMinKey = oldEntry.MinKey
	}
	if prevKey != nil && newMinKey.Compare(*prevKey) < 0 {
		return errkind.New(errkind.InvariantViolation, "SparseIndex.ReplaceBlock", "new_min_key precedes previous entry's min key")
	}
	if nextKey != nil && newMinKey.Compare(*nextKey) >= 0 {
		return errkind.New(errkind.InvariantViolation, "SparseIndex.ReplaceBlock", "new_min_key at or past next entry's min key")
	}

	idx.tree.Delete(oldEntry)
	idx.tree.ReplaceOrInsert(sparseEntry{MinKey: newMinKey, BlockID: newID})
	return nil
}

// AddBlock inserts a new boundary. The caller must already have split the
// adjacent delta so ordering is preserved (spec.md §4.1.3).
func (idx *SparseIndex) AddBlock(minKey keyvalue.CompositeKey, id BlockID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.tree.ReplaceOrInsert(sparseEntry{MinKey: minKey, BlockID: id})
}

// RemoveBlock deletes the entry pointing at id, used when a delta is
// merged away (no empty-block gaps are ever produced by this engine, but
// the primitive is exposed for completeness).
func (idx *SparseIndex) RemoveBlock(id BlockID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var victim sparseEntry
	found := false
	idx.tree.Ascend(func(e sparseEntry) bool {
		if e.BlockID == id {
			victim, found = e, true
			return false
		}
		return true
	})
	if found {
		idx.tree.Delete(victim)
	}
}

// Entries returns all (minKey, blockID) pairs in ascending order.
func (idx *SparseIndex) Entries() []struct {
	MinKey  keyvalue.CompositeKey
	BlockID BlockID
} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]struct {
		MinKey  keyvalue.CompositeKey
		BlockID BlockID
	}, 0, idx.tree.Len())
	idx.tree.Ascend(func(e sparseEntry) bool {
		out = append(out, struct {
			MinKey  keyvalue.CompositeKey
			BlockID BlockID
		}{e.MinKey, e.BlockID})
		return true
	})
	return out
}

// BlocksInRange returns the IDs of every block whose key range
// intersects the given bound, in ascending order.
func (idx *SparseIndex) BlocksInRange(op RangeOp, bound keyvalue.CompositeKey) []BlockID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	entries := make([]sparseEntry, 0, idx.tree.Len())
	idx.tree.Ascend(func(e sparseEntry) bool {
		entries = append(entries, e)
		return true
	})

	var out []BlockID
	for i, e := range entries {
		var hi *keyvalue.CompositeKey
		if i+1 < len(entries) {
			hi = &entries[i+1].MinKey
		}
		if blockIntersects(op, bound, e.MinKey, hi) {
			out = append(out, e.BlockID)
		}
	}
	return out
}

// blockIntersects decides whether a block spanning [lo, hi) can contain a
// key satisfying `key OP bound`.
func blockIntersects(op RangeOp, bound, lo keyvalue.CompositeKey, hi *keyvalue.CompositeKey) bool {
	switch op {
	case OpGT, OpGTE:
		return hi == nil || bound.Compare(*hi) < 0
	case OpLT, OpLTE:
		// Over-inclusive is safe: the caller re-filters exact results
		// after loading the block.
		return lo.Compare(bound) <= 0
	case OpPrefix:
		if hi == nil {
			return true
		}
		return bound.Prefix <= hi.Prefix
	default:
		return true
	}
}

// Valid reports whether entries are strictly ordered and the first
// entry's key is the sentinel minimum (spec.md §4.1.3).
func (idx *SparseIndex) Valid() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	first := true
	var prev keyvalue.CompositeKey
	ok := true
	idx.tree.Ascend(func(e sparseEntry) bool {
		if first {
			first = false
			if e.MinKey.Compare(keyvalue.MinSentinel(idx.kind)) != 0 {
				ok = false
				return false
			}
		} else if e.MinKey.Compare(prev) <= 0 {
			ok = false
			return false
		}
		prev = e.MinKey
		return true
	})
	return ok
}

func (idx *SparseIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Len()
}
