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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embeddb/storecore/keyvalue"
)

func newTestProvider(t *testing.T) (*Provider, string) {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	provider, err := NewProvider(store, 64, 64)
	require.NoError(t, err)
	return provider, "segment/test-segment"
}

func TestWriterCreateRoundTrip(t *testing.T) {
	ctx := context.Background()
	provider, segPath := newTestProvider(t)

	w := NewWriterCreate(provider, segPath, keyvalue.KeyStr, keyvalue.ValueUInt32, DefaultBlockCapBytes)
	for i := 0; i < 50; i++ {
		key := keyvalue.KeyFromStr(fmt.Sprintf("user-%03d", i))
		require.NoError(t, w.Set(ctx, "p", key, keyvalue.ValueOfUInt32(uint32(i))))
	}
	require.NoError(t, w.Delete(ctx, "p", keyvalue.KeyFromStr("user-010")))

	result, err := w.Commit()
	require.NoError(t, err)
	id, err := w.Flush(ctx, result)
	require.NoError(t, err)

	r, err := OpenReader(ctx, provider, segPath, keyvalue.KeyStr, id)
	require.NoError(t, err)
	require.True(t, r.Valid())

	for i := 0; i < 50; i++ {
		key := keyvalue.KeyFromStr(fmt.Sprintf("user-%03d", i))
		v, ok, err := r.Get(ctx, "p", key)
		require.NoError(t, err)
		if i == 10 {
			require.False(t, ok)
			continue
		}
		require.True(t, ok)
		require.Equal(t, uint32(i), v.UInt32())
	}

	count, err := r.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 49, count)
}

func TestWriterForkIsolation(t *testing.T) {
	ctx := context.Background()
	provider, segPath := newTestProvider(t)

	base := NewWriterCreate(provider, segPath, keyvalue.KeyUInt32, keyvalue.ValueStr, DefaultBlockCapBytes)
	for i := uint32(0); i < 10; i++ {
		require.NoError(t, base.Set(ctx, "p", keyvalue.KeyFromUInt32(i), keyvalue.ValueOfStr("base")))
	}
	baseResult, err := base.Commit()
	require.NoError(t, err)
	baseID, err := base.Flush(ctx, baseResult)
	require.NoError(t, err)

	fork, err := NewWriterFork(ctx, provider, segPath, baseID, keyvalue.KeyUInt32, keyvalue.ValueStr, DefaultBlockCapBytes)
	require.NoError(t, err)
	require.NoError(t, fork.Set(ctx, "p", keyvalue.KeyFromUInt32(3), keyvalue.ValueOfStr("forked")))
	require.NoError(t, fork.Delete(ctx, "p", keyvalue.KeyFromUInt32(7)))

	forkResult, err := fork.Commit()
	require.NoError(t, err)
	forkID, err := fork.Flush(ctx, forkResult)
	require.NoError(t, err)

	baseReader, err := OpenReader(ctx, provider, segPath, keyvalue.KeyUInt32, baseID)
	require.NoError(t, err)
	forkReader, err := OpenReader(ctx, provider, segPath, keyvalue.KeyUInt32, forkID)
	require.NoError(t, err)

	// Parent is unaffected by the fork's mutations.
	v, ok, err := baseReader.Get(ctx, "p", keyvalue.KeyFromUInt32(3))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "base", v.Str())
	_, ok, err = baseReader.Get(ctx, "p", keyvalue.KeyFromUInt32(7))
	require.NoError(t, err)
	require.True(t, ok)

	// Fork sees its own mutations plus the parent's untouched rows.
	v, ok, err = forkReader.Get(ctx, "p", keyvalue.KeyFromUInt32(3))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "forked", v.Str())
	_, ok, err = forkReader.Get(ctx, "p", keyvalue.KeyFromUInt32(7))
	require.NoError(t, err)
	require.False(t, ok)
	v, ok, err = forkReader.Get(ctx, "p", keyvalue.KeyFromUInt32(0))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "base", v.Str())
}

func TestWriterSplitOnOversizeDelta(t *testing.T) {
	ctx := context.Background()
	provider, segPath := newTestProvider(t)

	const capBytes = 512
	w := NewWriterCreate(provider, segPath, keyvalue.KeyUInt32, keyvalue.ValueStr, capBytes)
	for i := uint32(0); i < 200; i++ {
		val := fmt.Sprintf("value-%03d-padding-to-grow-the-row", i)
		require.NoError(t, w.Set(ctx, "p", keyvalue.KeyFromUInt32(i), keyvalue.ValueOfStr(val)))
	}
	require.Greater(t, w.sparse.Len(), 1, "oversize deltas must split into multiple blocks")
	require.True(t, w.sparse.Valid())

	result, err := w.Commit()
	require.NoError(t, err)
	for _, b := range result.Blocks {
		raw, err := b.Marshal()
		require.NoError(t, err)
		// Size check on the zstd-compressed block bytes: no block is many
		// times the cap, confirming the split actually partitioned the rows.
		require.Less(t, len(raw), capBytes*20)
	}
	id, err := w.Flush(ctx, result)
	require.NoError(t, err)

	r, err := OpenReader(ctx, provider, segPath, keyvalue.KeyUInt32, id)
	require.NoError(t, err)
	count, err := r.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 200, count)
	for i := uint32(0); i < 200; i++ {
		_, ok, err := r.Get(ctx, "p", keyvalue.KeyFromUInt32(i))
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestSparseIndexValidAfterReplaceAndAdd(t *testing.T) {
	idx := NewSparseIndex(keyvalue.KeyUInt32, NewID())
	require.True(t, idx.Valid())

	newID := NewID()
	err := idx.ReplaceBlock(firstBlockID(idx), newID, keyvalue.NewCompositeKey("", keyvalue.KeyFromUInt32(0)))
	require.NoError(t, err)
	require.True(t, idx.Valid())

	idx.AddBlock(keyvalue.NewCompositeKey("", keyvalue.KeyFromUInt32(100)), NewID())
	require.True(t, idx.Valid())
	require.Equal(t, 2, idx.Len())
}

func firstBlockID(idx *SparseIndex) BlockID {
	entries := idx.Entries()
	return entries[0].BlockID
}

func TestGetRangeOrdering(t *testing.T) {
	ctx := context.Background()
	provider, segPath := newTestProvider(t)

	w := NewWriterCreate(provider, segPath, keyvalue.KeyUInt32, keyvalue.ValueUInt32, DefaultBlockCapBytes)
	for i := uint32(0); i < 20; i++ {
		require.NoError(t, w.Set(ctx, "p", keyvalue.KeyFromUInt32(i), keyvalue.ValueOfUInt32(i*10)))
	}
	result, err := w.Commit()
	require.NoError(t, err)
	id, err := w.Flush(ctx, result)
	require.NoError(t, err)

	r, err := OpenReader(ctx, provider, segPath, keyvalue.KeyUInt32, id)
	require.NoError(t, err)

	rows, err := r.GetRange(ctx, "p", OpGTE, keyvalue.KeyFromUInt32(15))
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for i, row := range rows {
		require.Equal(t, uint32(15+i), row.Key.Key.UInt32())
	}
}
