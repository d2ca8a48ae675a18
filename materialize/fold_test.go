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

package materialize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embeddb/storecore/keyvalue"
)

type fakeSnapshot struct {
	byUser   map[string]uint32
	byOffset map[uint32]*keyvalue.DataRecord
}

func newFakeSnapshot() *fakeSnapshot {
	return &fakeSnapshot{byUser: map[string]uint32{}, byOffset: map[uint32]*keyvalue.DataRecord{}}
}

func (f *fakeSnapshot) put(offsetID uint32, rec *keyvalue.DataRecord) {
	f.byUser[rec.UserID] = offsetID
	f.byOffset[offsetID] = rec
}

func (f *fakeSnapshot) OffsetIDForUser(ctx context.Context, userID string) (uint32, bool, error) {
	id, ok := f.byUser[userID]
	return id, ok, nil
}

func (f *fakeSnapshot) DataForOffsetID(ctx context.Context, offsetID uint32) (*keyvalue.DataRecord, error) {
	return f.byOffset[offsetID], nil
}

func strPtr(s string) *string { return &s }

func TestMaterializeAddOnNewUser(t *testing.T) {
	ctx := context.Background()
	snap := newFakeSnapshot()
	counter := NewOffsetCounter(0)

	records := []LogRecord{
		{UserID: "alice", Operation: Add, Embedding: []float32{1, 2}, Document: &StringDelta{Value: strPtr("hi")}},
	}
	out, err := Materialize(ctx, records, snap, counter)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, AddNew, out[0].Op)
	require.Equal(t, uint32(1), out[0].OffsetID)
	require.Equal(t, []float32{1, 2}, out[0].MergedEmbedding)
	require.Equal(t, "hi", *out[0].MergedDocument)
	require.Nil(t, out[0].PreviousDataRecord)
}

func TestMaterializeAddThenDeleteCollapsesToNothing(t *testing.T) {
	ctx := context.Background()
	snap := newFakeSnapshot()
	counter := NewOffsetCounter(0)

	records := []LogRecord{
		{UserID: "bob", Operation: Add, Embedding: []float32{1}},
		{UserID: "bob", Operation: Delete},
	}
	out, err := Materialize(ctx, records, snap, counter)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestMaterializeUpdateMergesOntoSnapshot(t *testing.T) {
	ctx := context.Background()
	snap := newFakeSnapshot()
	meta := keyvalue.Metadata{"color": keyvalue.ValueOfStr("red"), "size": keyvalue.ValueOfUInt32(3)}
	snap.put(5, &keyvalue.DataRecord{UserID: "carol", Embedding: []float32{9, 9}, Metadata: keyvalue.EncodeMetadata(meta)})
	counter := NewOffsetCounter(5)

	newColor := keyvalue.ValueOfStr("blue")
	records := []LogRecord{
		{UserID: "carol", Operation: Update, MetadataDelta: MetadataDelta{"color": &newColor, "size": nil}},
	}
	out, err := Materialize(ctx, records, snap, counter)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, UpdateExisting, out[0].Op)
	require.Equal(t, uint32(5), out[0].OffsetID)
	require.Equal(t, []float32{9, 9}, out[0].MergedEmbedding, "embedding is untouched by a metadata-only update")
	require.Equal(t, "blue", out[0].MergedMetadata["color"].Str())
	_, hasSize := out[0].MergedMetadata["size"]
	require.False(t, hasSize, "absent-after-delta key must be removed")
	require.NotNil(t, out[0].PreviousDataRecord)
}

func TestMaterializeUpdateOnNonexistentIsDropped(t *testing.T) {
	ctx := context.Background()
	snap := newFakeSnapshot()
	counter := NewOffsetCounter(0)

	records := []LogRecord{{UserID: "dave", Operation: Update}}
	out, err := Materialize(ctx, records, snap, counter)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestMaterializeUpsertOnExistingOverwrites(t *testing.T) {
	ctx := context.Background()
	snap := newFakeSnapshot()
	snap.put(2, &keyvalue.DataRecord{UserID: "erin", Embedding: []float32{1, 1}})
	counter := NewOffsetCounter(2)

	records := []LogRecord{
		{UserID: "erin", Operation: Upsert, Embedding: []float32{7, 7, 7}},
	}
	out, err := Materialize(ctx, records, snap, counter)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, OverwriteExisting, out[0].Op)
	require.Equal(t, uint32(2), out[0].OffsetID)
	require.Equal(t, []float32{7, 7, 7}, out[0].MergedEmbedding)
}

func TestMaterializeDeleteOnExistingEmitsTombstone(t *testing.T) {
	ctx := context.Background()
	snap := newFakeSnapshot()
	snap.put(9, &keyvalue.DataRecord{UserID: "frank"})
	counter := NewOffsetCounter(9)

	records := []LogRecord{{UserID: "frank", Operation: Delete}}
	out, err := Materialize(ctx, records, snap, counter)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, DeleteExisting, out[0].Op)
	require.NotNil(t, out[0].PreviousDataRecord)
}

func TestOffsetCounterMonotonic(t *testing.T) {
	c := NewOffsetCounter(10)
	require.Equal(t, uint32(11), c.Next())
	require.Equal(t, uint32(12), c.Next())
	require.Equal(t, uint32(12), c.Peek())
}
