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

package segment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embeddb/storecore/blockfile"
	"github.com/embeddb/storecore/keyvalue"
)

func newTestProvider(t *testing.T) (*blockfile.Provider, string) {
	t.Helper()
	store, err := blockfile.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	provider, err := blockfile.NewProvider(store, 64, 64)
	require.NoError(t, err)
	return provider, "segment/test-collection"
}

func TestRecordWriterAddNewAndRead(t *testing.T) {
	ctx := context.Background()
	provider, segPath := newTestProvider(t)

	w, err := NewRecordWriter(ctx, provider, segPath, nil, blockfile.DefaultBlockCapBytes)
	require.NoError(t, err)

	rec := &keyvalue.DataRecord{UserID: "alice", Embedding: []float32{1, 2, 3}}
	require.NoError(t, w.ApplyAddNew(ctx, 1, "alice", rec))

	result, err := w.Commit(0)
	require.NoError(t, err)
	ids, err := w.Flush(ctx, result)
	require.NoError(t, err)

	r, err := OpenRecordReader(ctx, provider, segPath, ids)
	require.NoError(t, err)

	offsetID, ok, err := r.OffsetIDForUser(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(1), offsetID)

	userID, ok, err := r.UserForOffsetID(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alice", userID)

	data, err := r.DataForOffsetID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "alice", data.UserID)
	require.Equal(t, []float32{1, 2, 3}, data.Embedding)

	maxID, err := r.MaxOffsetID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(1), maxID)
}

func TestRecordWriterDeleteExisting(t *testing.T) {
	ctx := context.Background()
	provider, segPath := newTestProvider(t)

	w, err := NewRecordWriter(ctx, provider, segPath, nil, blockfile.DefaultBlockCapBytes)
	require.NoError(t, err)
	require.NoError(t, w.ApplyAddNew(ctx, 1, "bob", &keyvalue.DataRecord{UserID: "bob"}))
	result, err := w.Commit(0)
	require.NoError(t, err)
	baseIDs, err := w.Flush(ctx, result)
	require.NoError(t, err)

	w2, err := NewRecordWriter(ctx, provider, segPath, &baseIDs, blockfile.DefaultBlockCapBytes)
	require.NoError(t, err)
	require.NoError(t, w2.ApplyDelete(ctx, 1, "bob"))
	result2, err := w2.Commit(1)
	require.NoError(t, err)
	ids2, err := w2.Flush(ctx, result2)
	require.NoError(t, err)

	r, err := OpenRecordReader(ctx, provider, segPath, ids2)
	require.NoError(t, err)
	_, ok, err := r.OffsetIDForUser(ctx, "bob")
	require.NoError(t, err)
	require.False(t, ok)
	_, err = r.DataForOffsetID(ctx, 1)
	require.Error(t, err)

	maxID, err := r.MaxOffsetID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(1), maxID, "max_offset_id is carried forward even though the row was later deleted")
}

func TestMetadataPostingsIndexAndLookup(t *testing.T) {
	ctx := context.Background()
	provider, segPath := newTestProvider(t)

	w, err := NewMetadataWriter(ctx, provider, segPath, nil, blockfile.DefaultBlockCapBytes)
	require.NoError(t, err)
	require.NoError(t, w.IndexFields(ctx, nil, 1, map[string]string{"color": "red"}))
	require.NoError(t, w.IndexFields(ctx, nil, 2, map[string]string{"color": "red"}))

	result, err := w.Commit()
	require.NoError(t, err)
	id, err := w.Flush(ctx, result)
	require.NoError(t, err)

	r, err := OpenMetadataReader(ctx, provider, segPath, id)
	require.NoError(t, err)
	bm, err := r.Lookup(ctx, "color", "red")
	require.NoError(t, err)
	require.True(t, bm.Contains(1))
	require.True(t, bm.Contains(2))
	require.Equal(t, uint64(2), bm.GetCardinality())

	w2, err := NewMetadataWriter(ctx, provider, segPath, &id, blockfile.DefaultBlockCapBytes)
	require.NoError(t, err)
	require.NoError(t, w2.UnindexFields(ctx, r, 1, map[string]string{"color": "red"}))
	result2, err := w2.Commit()
	require.NoError(t, err)
	id2, err := w2.Flush(ctx, result2)
	require.NoError(t, err)

	r2, err := OpenMetadataReader(ctx, provider, segPath, id2)
	require.NoError(t, err)
	bm2, err := r2.Lookup(ctx, "color", "red")
	require.NoError(t, err)
	require.False(t, bm2.Contains(1))
	require.True(t, bm2.Contains(2))
}
