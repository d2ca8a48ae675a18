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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestConstructGraphSingleCollectionChain(t *testing.T) {
	id := uuid.New()
	vf := &VersionFileView{
		CollectionID: id,
		Versions: []VersionEntry{
			{Version: 0, FilePaths: []string{"a"}},
			{Version: 1, FilePaths: []string{"a", "b"}},
			{Version: 2, FilePaths: []string{"a", "b", "c"}},
		},
	}
	g, err := ConstructGraph(map[uuid.UUID]*VersionFileView{id: vf}, nil)
	require.NoError(t, err)

	root, err := g.Root()
	require.NoError(t, err)
	require.Equal(t, Node{CollectionID: id, Version: 0}, root)

	path, err := g.PathFromRoot(Node{CollectionID: id, Version: 2})
	require.NoError(t, err)
	require.Len(t, path, 3)
}

func TestConstructGraphRejectsUnknownForkParent(t *testing.T) {
	id := uuid.New()
	child := uuid.New()
	vf := &VersionFileView{CollectionID: id, Versions: []VersionEntry{{Version: 0}}}
	_, err := ConstructGraph(map[uuid.UUID]*VersionFileView{id: vf}, []ForkEdge{
		{ParentCollectionID: uuid.New(), ParentForkVersion: 0, ChildCollectionID: child},
	})
	require.Error(t, err)
}

func TestConstructGraphRejectsMultipleRoots(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	versionFiles := map[uuid.UUID]*VersionFileView{
		a: {CollectionID: a, Versions: []VersionEntry{{Version: 0}}},
		b: {CollectionID: b, Versions: []VersionEntry{{Version: 0}}},
	}
	_, err := ConstructGraph(versionFiles, nil)
	require.Error(t, err)
}

// TestGCForkWithEmptyV0 implements spec.md §8 scenario 6: a parent
// collection with versions [0, 1] (v1 owns files), forked at v1 into a
// child whose only version (v0) owns no files. With a cutoff after v1
// and min_versions_to_keep=1, the parent's v1 and the child's v0 must be
// kept and the parent's v0 deleted. v0's only file is also listed by v1,
// so it keeps a reference and no file is deleted. The child's empty file
// set must be treated as the uninitialized-lineage exception rather than
// an invariant violation.
func TestGCForkWithEmptyV0(t *testing.T) {
	parent := uuid.New()
	child := uuid.New()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	versionFiles := map[uuid.UUID]*VersionFileView{
		parent: {
			CollectionID: parent,
			Versions: []VersionEntry{
				{Version: 0, CreatedAt: now.Add(-72 * time.Hour), FilePaths: []string{"parent/v0/a"}},
				{Version: 1, CreatedAt: now.Add(-1 * time.Hour), FilePaths: []string{"parent/v0/a", "parent/v1/b"}},
			},
		},
		child: {
			CollectionID: child,
			Versions: []VersionEntry{
				{Version: 0, CreatedAt: now.Add(-30 * time.Minute)},
			},
		},
	}
	forkEdges := []ForkEdge{{ParentCollectionID: parent, ParentForkVersion: 1, ChildCollectionID: child}}

	g, err := ConstructGraph(versionFiles, forkEdges)
	require.NoError(t, err)

	cutoff := now.Add(-time.Hour / 2)
	actions := ComputeVersionsToDelete(g, versionFiles, cutoff, 1)

	require.Equal(t, Keep, actions[parent][1])
	require.Equal(t, DeleteVersion, actions[parent][0])
	require.Equal(t, Keep, actions[child][0])

	refCounts, err := BuildFileRefCounts(g, versionFiles, actions)
	require.NoError(t, err)
	require.Equal(t, 1, refCounts["parent/v0/a"])
	require.Equal(t, 1, refCounts["parent/v1/b"])

	files := FilesToDelete(refCounts)
	require.Empty(t, files)
}

func TestVerifyUninitializedLineageAllowsForkedV0RegardlessOfParentVersion(t *testing.T) {
	parent := uuid.New()
	child := uuid.New()
	versionFiles := map[uuid.UUID]*VersionFileView{
		parent: {CollectionID: parent, Versions: []VersionEntry{
			{Version: 0, FilePaths: []string{"p/v0"}},
			{Version: 1, FilePaths: []string{"p/v1"}},
		}},
		child: {CollectionID: child, Versions: []VersionEntry{{Version: 0}}},
	}
	forkEdges := []ForkEdge{{ParentCollectionID: parent, ParentForkVersion: 1, ChildCollectionID: child}}
	g, err := ConstructGraph(versionFiles, forkEdges)
	require.NoError(t, err)

	require.NoError(t, verifyUninitializedLineage(g, child, 0))
}

func TestVerifyUninitializedLineageRejectsNonV0Version(t *testing.T) {
	parent := uuid.New()
	versionFiles := map[uuid.UUID]*VersionFileView{
		parent: {CollectionID: parent, Versions: []VersionEntry{
			{Version: 0, FilePaths: []string{"p/v0"}},
			{Version: 1},
		}},
	}
	g, err := ConstructGraph(versionFiles, nil)
	require.NoError(t, err)

	require.Error(t, verifyUninitializedLineage(g, parent, 1))
}
