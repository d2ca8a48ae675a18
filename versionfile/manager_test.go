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

package versionfile

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/embeddb/storecore/blockfile"
	"github.com/embeddb/storecore/errkind"
)

func sampleFile(collectionID uuid.UUID) *CollectionVersionFile {
	return &CollectionVersionFile{
		CollectionInfoImmutable: CollectionInfoImmutable{
			TenantID:               "t1",
			DatabaseID:             "d1",
			DatabaseName:           "default",
			CollectionID:           collectionID.String(),
			CollectionName:         "docs",
			Dimension:              128,
			CollectionCreationSecs: 1700000000,
		},
		Versions: []VersionInfo{
			{Version: 0, CreatedAtSecs: 1700000000, VersionFileName: "v0"},
			{
				Version:       1,
				CreatedAtSecs: 1700000100,
				SegmentCompactionInfo: []SegmentCompactionInfo{
					{SegmentID: "seg-record", FilePaths: map[string][]string{"record": {"blockfile/abc"}}},
				},
				VersionFileName:     "v1",
				VersionChangeReason: "compaction",
			},
		},
	}
}

func TestCollectionVersionFileRoundTrip(t *testing.T) {
	collectionID := uuid.New()
	f := sampleFile(collectionID)

	raw, err := f.Marshal()
	require.NoError(t, err)

	var got CollectionVersionFile
	require.NoError(t, got.Unmarshal(raw))
	require.Equal(t, f.CollectionInfoImmutable, got.CollectionInfoImmutable)
	require.Equal(t, f.Versions, got.Versions)

	raw2, err := got.Marshal()
	require.NoError(t, err)
	require.Equal(t, raw, raw2, "re-marshaling a decoded file must be byte-identical (spec.md §8 version-file validity)")
}

func TestManagerUploadFetchRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := blockfile.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	mgr := NewManager(store)

	collectionID := uuid.New()
	f := sampleFile(collectionID)

	path, err := mgr.Upload(ctx, f, Compaction)
	require.NoError(t, err)
	require.Contains(t, path, "versionfiles/000001_")
	require.Contains(t, path, "_flush")

	got, err := mgr.Fetch(ctx, path, collectionID, 1)
	require.NoError(t, err)
	require.Equal(t, f.CollectionInfoImmutable, got.CollectionInfoImmutable)
}

func TestManagerFetchRejectsCollectionIDMismatch(t *testing.T) {
	ctx := context.Background()
	store, err := blockfile.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	mgr := NewManager(store)

	f := sampleFile(uuid.New())
	path, err := mgr.Upload(ctx, f, Compaction)
	require.NoError(t, err)

	_, err = mgr.Fetch(ctx, path, uuid.New(), 1)
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.InvariantViolation))
}

func TestManagerFetchRejectsVersionMismatch(t *testing.T) {
	ctx := context.Background()
	store, err := blockfile.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	mgr := NewManager(store)

	collectionID := uuid.New()
	f := sampleFile(collectionID)
	path, err := mgr.Upload(ctx, f, Compaction)
	require.NoError(t, err)

	_, err = mgr.Fetch(ctx, path, collectionID, 2)
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.InvariantViolation))
}
