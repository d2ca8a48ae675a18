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
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/embeddb/storecore/errkind"
	"github.com/embeddb/storecore/keyvalue"
)

// DefaultBlockCapBytes is production's 2MiB block-size cap (spec.md §6.3);
// tests use a much smaller cap (e.g. 16KiB) to exercise splitting cheaply.
const DefaultBlockCapBytes = 2 << 20

// Writer is a single blockfile's mutable side: create/fork, set/delete,
// commit, flush (spec.md §4.1.1). Mutations are linearized through mu,
// the sole synchronization point a writer needs even when shared across
// tasks (spec.md §5).
type Writer struct {
	mu sync.Mutex

	provider    *Provider
	segmentPath string

	id          BlockfileID
	parentID    *BlockfileID // set only in fork mode
	keyKind     keyvalue.KeyKind
	valueKind   keyvalue.ValueKind
	capBytes    int

	sparse    *SparseIndex
	deltas    map[BlockID]*BlockDelta
	committed bool

	log *logrus.Entry
}

// NewWriterCreate opens a writer in create mode: fresh ID, one empty root
// delta, sparse index seeded with a single sentinel entry pointing at it.
func NewWriterCreate(provider *Provider, segmentPath string, keyKind keyvalue.KeyKind, valueKind keyvalue.ValueKind, capBytes int) *Writer {
	if capBytes <= 0 {
		capBytes = DefaultBlockCapBytes
	}
	root := newEmptyDelta(keyKind, valueKind)
	w := &Writer{
		provider:    provider,
		segmentPath: segmentPath,
		id:          NewID(),
		keyKind:     keyKind,
		valueKind:   valueKind,
		capBytes:    capBytes,
		sparse:      NewSparseIndex(keyKind, root.ID),
		deltas:      map[BlockID]*BlockDelta{root.ID: root},
	}
	w.log = logrus.WithFields(logrus.Fields{"component": "blockfile.Writer", "blockfile_id": w.id.String(), "mode": "create"})
	return w
}

// NewWriterFork opens a writer in fork mode: new ID, sparse index copied
// from parentID, no block deltas materialized until first mutation
// touches a block (spec.md §4.1.1).
func NewWriterFork(ctx context.Context, provider *Provider, segmentPath string, parentID BlockfileID, keyKind keyvalue.KeyKind, valueKind keyvalue.ValueKind, capBytes int) (*Writer, error) {
	if capBytes <= 0 {
		capBytes = DefaultBlockCapBytes
	}
	parentIdx, err := provider.LoadSparseIndex(ctx, segmentPath, keyKind, parentID)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		provider:    provider,
		segmentPath: segmentPath,
		id:          NewID(),
		parentID:    &parentID,
		keyKind:     keyKind,
		valueKind:   valueKind,
		capBytes:    capBytes,
		sparse:      parentIdx.Fork(),
		deltas:      make(map[BlockID]*BlockDelta),
	}
	w.log = logrus.WithFields(logrus.Fields{"component": "blockfile.Writer", "blockfile_id": w.id.String(), "mode": "fork", "parent_id": parentID.String()})
	return w, nil
}

func (w *Writer) ID() BlockfileID { return w.id }

// ownedDelta returns the delta that currently owns key's block, forking a
// committed parent block into a fresh delta on first touch (spec.md
// §4.1.1).
func (w *Writer) ownedDelta(ctx context.Context, key keyvalue.CompositeKey) (*BlockDelta, error) {
	blockID, ok := w.sparse.GetTargetBlockID(key)
	if !ok {
		return nil, errkind.New(errkind.InvariantViolation, "Writer.ownedDelta", "sparse index has no entry covering key")
	}
	if d, owned := w.deltas[blockID]; owned {
		return d, nil
	}
	if w.parentID == nil {
		return nil, errkind.New(errkind.InvariantViolation, "Writer.ownedDelta", "create-mode writer has no owner for block id")
	}
	committed, err := w.provider.GetBlock(ctx, w.segmentPath, *w.parentID, blockID)
	if err != nil {
		return nil, err
	}
	newDelta := newDeltaFromBlock(committed)
	w.deltas[newDelta.ID] = newDelta
	w.provider.CacheBuilder(newDelta)
	if err := w.sparse.ReplaceBlock(blockID, newDelta.ID, newDelta.MinKey()); err != nil {
		return nil, err
	}
	return newDelta, nil
}

// Set inserts or overwrites (prefix, key) -> value.
func (w *Writer) Set(ctx context.Context, prefix string, key keyvalue.KeyWrapper, value keyvalue.Value) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if value.EncodedLen() > w.capBytes {
		return errkind.New(errkind.Validation, "Writer.Set", "value exceeds block capacity (InvalidBufferWidth)")
	}
	ck := keyvalue.NewCompositeKey(prefix, key)
	delta, err := w.ownedDelta(ctx, ck)
	if err != nil {
		return err
	}
	delta.Set(ck, value)
	if delta.EncodedLen() > w.capBytes {
		return w.splitDelta(delta)
	}
	return nil
}

// Delete inserts a tombstone for (prefix, key).
func (w *Writer) Delete(ctx context.Context, prefix string, key keyvalue.KeyWrapper) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ck := keyvalue.NewCompositeKey(prefix, key)
	delta, err := w.ownedDelta(ctx, ck)
	if err != nil {
		return err
	}
	delta.Delete(ck)
	return nil
}

// splitDelta recursively halves an oversized delta at its composite-key
// median until every resulting child fits the block-size ceiling
// (spec.md §4.1.1, §8 "Split correctness").
func (w *Writer) splitDelta(d *BlockDelta) error {
	delete(w.deltas, d.ID)
	w.provider.EvictBuilder(d.ID)
	left, right := d.splitAtMedian()

	if err := w.sparse.ReplaceBlock(d.ID, left.ID, left.MinKey()); err != nil {
		return err
	}
	w.sparse.AddBlock(right.MinKey(), right.ID)
	w.deltas[left.ID] = left
	w.deltas[right.ID] = right
	w.provider.CacheBuilder(left)
	w.provider.CacheBuilder(right)

	for _, child := range []*BlockDelta{left, right} {
		if child.EncodedLen() > w.capBytes && child.Len() > 1 {
			if err := w.splitDelta(child); err != nil {
				return err
			}
		}
	}
	return nil
}

// CommitResult is the output of Commit: every dirty delta turned into a
// frozen Block, plus the final sparse index.
type CommitResult struct {
	Blocks []*Block
	Sparse *SparseIndex
}

// Commit freezes every dirty delta into an immutable, content-hashed
// Block. Either all deltas become blocks or none do (spec.md §4.1.1
// "commit must never partially succeed").
func (w *Writer) Commit() (*CommitResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.committed {
		return nil, errkind.New(errkind.InvariantViolation, "Writer.Commit", "writer already committed")
	}

	blocks := make([]*Block, 0, len(w.deltas))
	for _, d := range w.deltas {
		rows := d.toCommittedRows()
		b := &Block{ID: d.ID, KeyKind: d.KeyKind, ValueKind: d.ValueKind, Rows: rows}
		raw, err := b.Marshal()
		if err != nil {
			return nil, errkind.Wrap(errkind.InvariantViolation, "Writer.Commit", err)
		}
		b.ContentHash = contentHash(raw)
		blocks = append(blocks, b)
	}
	w.committed = true
	w.log.WithField("block_count", len(blocks)).Info("committed blockfile writer")
	return &CommitResult{Blocks: blocks, Sparse: w.sparse}, nil
}

// Flush uploads every block and the sparse index, returning the
// blockfile UUID the caller must record in the version file (spec.md
// §4.1.1, §6.1).
func (w *Writer) Flush(ctx context.Context, result *CommitResult) (BlockfileID, error) {
	for _, b := range result.Blocks {
		if err := w.provider.PutBlock(ctx, w.segmentPath, w.id, b); err != nil {
			return BlockfileID{}, errkind.Wrap(errkind.Transient, "Writer.Flush", err)
		}
	}
	if err := w.provider.PutSparseIndex(ctx, w.segmentPath, w.id, result.Sparse); err != nil {
		return BlockfileID{}, errkind.Wrap(errkind.Transient, "Writer.Flush", err)
	}
	return w.id, nil
}
