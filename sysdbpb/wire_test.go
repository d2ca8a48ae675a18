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

package sysdbpb

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestBatchGetSoftDeleteWireRoundTrip(t *testing.T) {
	req := &batchGetSoftDeleteRequest{CollectionIDs: []string{uuid.New().String(), uuid.New().String()}}
	raw, err := req.Marshal()
	require.NoError(t, err)

	var got batchGetSoftDeleteRequest
	require.NoError(t, got.Unmarshal(raw))
	require.Equal(t, req.CollectionIDs, got.CollectionIDs)

	resp := &batchGetSoftDeleteResponse{Entries: []softDeleteEntry{
		{CollectionID: req.CollectionIDs[0], IsSoftDeleted: true},
		{CollectionID: req.CollectionIDs[1], IsSoftDeleted: false},
	}}
	raw, err = resp.Marshal()
	require.NoError(t, err)

	var gotResp batchGetSoftDeleteResponse
	require.NoError(t, gotResp.Unmarshal(raw))
	require.Equal(t, resp.Entries, gotResp.Entries)
}

func TestMemoryClientSoftDeleteAndMarking(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()
	id := uuid.New()
	c.SetSoftDeleted(id, true)

	statuses, err := c.BatchGetCollectionSoftDeleteStatus(ctx, []uuid.UUID{id})
	require.NoError(t, err)
	require.True(t, statuses[id])

	require.NoError(t, c.MarkVersionsForDeletion(ctx, "t", "d", id, []int64{0, 1}))
	require.Equal(t, map[int64]bool{0: true, 1: true}, c.MarkedVersions(id))

	require.NoError(t, c.FinishCollectionDeletion(ctx, "t", "d", id))
	require.True(t, c.IsHardDeleted(id))
}
