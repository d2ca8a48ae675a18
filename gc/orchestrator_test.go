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

package gc

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/embeddb/storecore/blockfile"
	"github.com/embeddb/storecore/sysdbpb"
)

func TestOrchestratorDryRunComputesPlanWithoutMutating(t *testing.T) {
	store, err := blockfile.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	for _, f := range []string{"a", "b", "c"} {
		require.NoError(t, store.Put(context.Background(), f, []byte("data")))
	}

	id := uuid.New()
	now := time.Now()
	versionFiles := map[uuid.UUID]*VersionFileView{
		id: {
			CollectionID: id, TenantID: "t1", DatabaseID: "d1",
			Versions: []VersionEntry{
				{Version: 0, CreatedAt: now.Add(-48 * time.Hour), FilePaths: []string{"a"}},
				{Version: 1, CreatedAt: now.Add(-24 * time.Hour), FilePaths: []string{"a", "b"}},
				{Version: 2, CreatedAt: now.Add(-time.Hour), FilePaths: []string{"a", "b", "c"}},
			},
		},
	}

	sysdb := sysdbpb.NewMemoryClient()
	orch := NewOrchestrator(store, sysdb)

	result, err := orch.Run(context.Background(), Input{
		RootCollectionID:  id,
		VersionFiles:      versionFiles,
		CutoffTime:        now.Add(-12 * time.Hour),
		MinVersionsToKeep: 1,
		Mode:              DryRun,
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.NumVersionsDeleted)
	require.Empty(t, result.FilesDeleted, "file 'a' is still referenced by kept version 2")

	require.Nil(t, sysdb.MarkedVersions(id), "dry run must not mark anything at sysdb")
	exists, err := store.Exists(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestOrchestratorDeleteModeRemovesUnreferencedFilesAndMarksSysdb(t *testing.T) {
	store, err := blockfile.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	for _, f := range []string{"v0file", "v1file"} {
		require.NoError(t, store.Put(context.Background(), f, []byte("data")))
	}

	id := uuid.New()
	now := time.Now()
	versionFiles := map[uuid.UUID]*VersionFileView{
		id: {
			CollectionID: id, TenantID: "t1", DatabaseID: "d1",
			Versions: []VersionEntry{
				{Version: 0, CreatedAt: now.Add(-48 * time.Hour), FilePaths: []string{"v0file"}},
				{Version: 1, CreatedAt: now.Add(-time.Hour), FilePaths: []string{"v1file"}},
			},
		},
	}

	sysdb := sysdbpb.NewMemoryClient()
	orch := NewOrchestrator(store, sysdb)

	result, err := orch.Run(context.Background(), Input{
		RootCollectionID:  id,
		VersionFiles:      versionFiles,
		CutoffTime:        now.Add(-12 * time.Hour),
		MinVersionsToKeep: 1,
		Mode:              Delete,
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.NumVersionsDeleted)
	require.ElementsMatch(t, []string{"v0file"}, result.FilesDeleted)

	require.True(t, sysdb.MarkedVersions(id)[0])
	require.True(t, sysdb.DeletedVersions(id)[0])

	exists, err := store.Exists(context.Background(), "v0file")
	require.NoError(t, err)
	require.False(t, exists)

	exists, err = store.Exists(context.Background(), "v1file")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestOrchestratorHardDeletesSoftDeletedLeafCollection(t *testing.T) {
	store, err := blockfile.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	root := uuid.New()
	now := time.Now()
	versionFiles := map[uuid.UUID]*VersionFileView{
		root: {
			CollectionID:  root,
			TenantID:      "t1",
			DatabaseID:    "d1",
			DatabaseName:  "db",
			IsSoftDeleted: true,
			Versions: []VersionEntry{
				{Version: 0, CreatedAt: now.Add(-time.Hour)},
			},
		},
	}

	sysdb := sysdbpb.NewMemoryClient()
	sysdb.SetSoftDeleted(root, true)
	orch := NewOrchestrator(store, sysdb)

	result, err := orch.Run(context.Background(), Input{
		RootCollectionID:  root,
		VersionFiles:      versionFiles,
		CutoffTime:        now,
		MinVersionsToKeep: 0,
		Mode:              Delete,
	})
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{root}, result.HardDeletedCollections)
	require.True(t, sysdb.IsHardDeleted(root))
}
