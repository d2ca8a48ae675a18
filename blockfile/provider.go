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
	"fmt"

	arc "github.com/hashicorp/golang-lru/arc/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/embeddb/storecore/errkind"
	"github.com/embeddb/storecore/keyvalue"
)

// Provider is the process-wide block cache + object-storage façade every
// writer and reader goes through (spec.md §2 "provider/cache", §5
// "Block caches ... are process-global, concurrent maps"). Both caches
// are content-addressed (UUID → immutable bytes) and so need no
// invalidation — only eviction.
type Provider struct {
	Store Store
	log   *logrus.Entry

	readCache    *lru.Cache[BlockID, *Block]
	builderCache *arc.ARCCache[BlockID, *BlockDelta]
}

// NewProvider wires a Store with a bounded read cache (committed blocks,
// keyed by block UUID) and a bounded builder cache (in-flight deltas,
// keyed by builder UUID). ARC is used for the builder cache because
// compaction workloads revisit recently-split deltas far more than cold
// ones, which ARC's recency+frequency balance favors over plain LRU.
func NewProvider(store Store, readCacheSize, builderCacheSize int) (*Provider, error) {
	rc, err := lru.New[BlockID, *Block](readCacheSize)
	if err != nil {
		return nil, fmt.Errorf("blockfile: building read cache: %w", err)
	}
	bc, err := arc.NewARC[BlockID, *BlockDelta](builderCacheSize)
	if err != nil {
		return nil, fmt.Errorf("blockfile: building builder cache: %w", err)
	}
	return &Provider{
		Store:        store,
		log:          logrus.WithField("component", "blockfile.Provider"),
		readCache:    rc,
		builderCache: bc,
	}, nil
}

// GetBlock loads a committed block by (blockfile, block) ID, serving from
// the read cache when possible. A cache hit never needs the blockfile
// ID; it is only used to form the object-storage path on a miss.
func (p *Provider) GetBlock(ctx context.Context, segmentPath string, blockfileID BlockfileID, id BlockID) (*Block, error) {
	if b, ok := p.readCache.Get(id); ok {
		cacheRequests.WithLabelValues("hit").Inc()
		return b, nil
	}
	cacheRequests.WithLabelValues("miss").Inc()
	blockStoreOps.WithLabelValues("get_block").Inc()
	raw, err := p.Store.GetBlock(ctx, segmentPath, blockfileID, id)
	if err != nil {
		return nil, err
	}
	b, err := UnmarshalBlock(id, raw)
	if err != nil {
		return nil, err
	}
	p.readCache.Add(id, b)
	return b, nil
}

// PutBlock uploads a committed block. Idempotent under UUID: re-uploading
// the same ID with the same bytes is always safe (spec.md §4.1.1).
func (p *Provider) PutBlock(ctx context.Context, segmentPath string, blockfileID BlockfileID, b *Block) error {
	raw, err := b.Marshal()
	if err != nil {
		return err
	}
	blockStoreOps.WithLabelValues("put_block").Inc()
	if err := p.Store.PutBlock(ctx, segmentPath, blockfileID, b.ID, raw); err != nil {
		return err
	}
	p.readCache.Add(b.ID, b)
	return nil
}

// CacheBuilder registers an in-flight delta under its own ID so
// concurrent tasks sharing a writer see the same delta instance.
func (p *Provider) CacheBuilder(d *BlockDelta) { p.builderCache.Add(d.ID, d) }

// EvictBuilder drops a delta from the builder cache once it has been
// committed or superseded by a split.
func (p *Provider) EvictBuilder(id BlockID) { p.builderCache.Remove(id) }

// LoadSparseIndex fetches and decodes the sparse index for blockfileID.
func (p *Provider) LoadSparseIndex(ctx context.Context, segmentPath string, keyKind keyvalue.KeyKind, blockfileID BlockfileID) (*SparseIndex, error) {
	raw, err := p.Store.GetSparseIndex(ctx, segmentPath, blockfileID)
	if err != nil {
		return nil, err
	}
	return decodeSparseIndex(keyKind, raw)
}

// PutSparseIndex uploads the final sparse index for a committed blockfile.
func (p *Provider) PutSparseIndex(ctx context.Context, segmentPath string, blockfileID BlockfileID, idx *SparseIndex) error {
	return p.Store.PutSparseIndex(ctx, segmentPath, blockfileID, encodeSparseIndex(idx))
}

func notFound(op, what string) error {
	return errkind.New(errkind.NotFound, op, what+" not found")
}
