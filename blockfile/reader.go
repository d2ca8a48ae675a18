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
	"context"
	"sort"

	"github.com/embeddb/storecore/keyvalue"
)

// Reader is a read-only, point-in-time view of one committed blockfile
// (spec.md §4.1.2). It loads the sparse index eagerly at construction and
// pulls blocks lazily and on demand through the shared Provider cache.
type Reader struct {
	provider    *Provider
	segmentPath string
	id          BlockfileID
	keyKind     keyvalue.KeyKind
	sparse      *SparseIndex
}

// OpenReader loads id's sparse index and returns a Reader bound to it.
// Every subsequent lookup is against this frozen view, even if a
// concurrent writer later commits a new version under the same ID
// (spec.md §4.1.2 "readers observe a fixed version for their lifetime").
func OpenReader(ctx context.Context, provider *Provider, segmentPath string, keyKind keyvalue.KeyKind, id BlockfileID) (*Reader, error) {
	idx, err := provider.LoadSparseIndex(ctx, segmentPath, keyKind, id)
	if err != nil {
		return nil, err
	}
	return &Reader{provider: provider, segmentPath: segmentPath, id: id, keyKind: keyKind, sparse: idx}, nil
}

func (r *Reader) ID() BlockfileID { return r.id }

// Get returns the value at (prefix, key), or false if absent.
func (r *Reader) Get(ctx context.Context, prefix string, key keyvalue.KeyWrapper) (keyvalue.Value, bool, error) {
	ck := keyvalue.NewCompositeKey(prefix, key)
	blockID, ok := r.sparse.GetTargetBlockID(ck)
	if !ok {
		return keyvalue.Value{}, false, nil
	}
	b, err := r.provider.GetBlock(ctx, r.segmentPath, r.id, blockID)
	if err != nil {
		return keyvalue.Value{}, false, err
	}
	v, found := b.Get(ck)
	return v, found, nil
}

// Contains reports whether (prefix, key) is present.
func (r *Reader) Contains(ctx context.Context, prefix string, key keyvalue.KeyWrapper) (bool, error) {
	_, ok, err := r.Get(ctx, prefix, key)
	return ok, err
}

// GetRange returns every row matching `key OP bound` within prefix, in
// ascending key order (spec.md §4.1.2). Block boundaries are consulted
// via the sparse index first so only intersecting blocks are fetched;
// rows within a fetched block are still re-filtered since sparse-index
// ranges can be over-inclusive for LT/LTE bounds.
func (r *Reader) GetRange(ctx context.Context, prefix string, op RangeOp, bound keyvalue.KeyWrapper) ([]Row, error) {
	ck := keyvalue.NewCompositeKey(prefix, bound)
	blockIDs := r.sparse.BlocksInRange(op, ck)

	var out []Row
	for _, id := range blockIDs {
		b, err := r.provider.GetBlock(ctx, r.segmentPath, r.id, id)
		if err != nil {
			return nil, err
		}
		for _, row := range b.Rows {
			if row.Key.Prefix != prefix {
				continue
			}
			if matchesRange(op, row.Key, ck) {
				out = append(out, row)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out, nil
}

func matchesRange(op RangeOp, key, bound keyvalue.CompositeKey) bool {
	switch op {
	case OpLT:
		return key.Compare(bound) < 0
	case OpLTE:
		return key.Compare(bound) <= 0
	case OpGT:
		return key.Compare(bound) > 0
	case OpGTE:
		return key.Compare(bound) >= 0
	case OpPrefix:
		return key.Prefix == bound.Prefix
	default:
		return false
	}
}

// Count returns the total live row count across all blocks.
func (r *Reader) Count(ctx context.Context) (int, error) {
	n := 0
	for _, e := range r.sparse.Entries() {
		b, err := r.provider.GetBlock(ctx, r.segmentPath, r.id, e.BlockID)
		if err != nil {
			return 0, err
		}
		n += len(b.Rows)
	}
	return n, nil
}

// Rank returns the zero-based ordinal position of key among all live
// rows, or false if key is absent. Used by the SPANN scalar metadata
// segment to translate a key into a dense offset (spec.md §4.1.2).
func (r *Reader) Rank(ctx context.Context, prefix string, key keyvalue.KeyWrapper) (int, bool, error) {
	target := keyvalue.NewCompositeKey(prefix, key)
	rank := 0
	for _, e := range r.sparse.Entries() {
		b, err := r.provider.GetBlock(ctx, r.segmentPath, r.id, e.BlockID)
		if err != nil {
			return 0, false, err
		}
		for _, row := range b.Rows {
			if row.Key.Compare(target) == 0 {
				return rank, true, nil
			}
			rank++
		}
	}
	return 0, false, nil
}

// LoadBlocksForKeys prefetches and returns every distinct block that owns
// one of keys, deduplicated, in the order their owning blocks first
// appear in the sparse index. Used by callers that batch many point
// lookups against the same reader (spec.md §4.1.2 "batch prefetch").
func (r *Reader) LoadBlocksForKeys(ctx context.Context, prefix string, keys []keyvalue.KeyWrapper) ([]*Block, error) {
	seen := make(map[BlockID]struct{})
	var out []*Block
	for _, k := range keys {
		ck := keyvalue.NewCompositeKey(prefix, k)
		blockID, ok := r.sparse.GetTargetBlockID(ck)
		if !ok {
			continue
		}
		if _, dup := seen[blockID]; dup {
			continue
		}
		seen[blockID] = struct{}{}
		b, err := r.provider.GetBlock(ctx, r.segmentPath, r.id, blockID)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// LoadBlocksForPrefixes prefetches every block intersecting any of the
// given namespace prefixes (spec.md §4.1.2).
func (r *Reader) LoadBlocksForPrefixes(ctx context.Context, prefixes []string) ([]*Block, error) {
	seen := make(map[BlockID]struct{})
	var out []*Block
	for _, p := range prefixes {
		bound := keyvalue.NewCompositeKey(p, keyvalue.MinSentinel(r.keyKind).Key)
		for _, id := range r.sparse.BlocksInRange(OpPrefix, bound) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			b, err := r.provider.GetBlock(ctx, r.segmentPath, r.id, id)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
	}
	return out, nil
}

// Valid reports whether the underlying sparse index satisfies its
// ordering invariant, surfaced for diagnostics and tests.
func (r *Reader) Valid() bool { return r.sparse.Valid() }
