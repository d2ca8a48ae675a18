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

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestHardDeletionOrderRequiresAllDescendantsSoftDeleted builds a
// three-generation lineage (root -> mid -> leaf) and checks that a
// collection is only offered for hard deletion once every collection
// that forked from it is also soft-deleted (spec.md §4.4.5).
func TestHardDeletionOrderRequiresAllDescendantsSoftDeleted(t *testing.T) {
	root := uuid.New()
	mid := uuid.New()
	leaf := uuid.New()

	versionFiles := map[uuid.UUID]*VersionFileView{
		root: {CollectionID: root, Versions: []VersionEntry{{Version: 0, FilePaths: []string{"r"}}}},
		mid:  {CollectionID: mid, Versions: []VersionEntry{{Version: 0}}},
		leaf: {CollectionID: leaf, Versions: []VersionEntry{{Version: 0}}},
	}
	forkEdges := []ForkEdge{
		{ParentCollectionID: root, ParentForkVersion: 0, ChildCollectionID: mid},
		{ParentCollectionID: mid, ParentForkVersion: 0, ChildCollectionID: leaf},
	}
	g, err := ConstructGraph(versionFiles, forkEdges)
	require.NoError(t, err)

	softDeleted := map[uuid.UUID]bool{root: true, mid: true, leaf: false}
	order, err := HardDeletionOrder(g, softDeleted)
	require.NoError(t, err)
	require.Empty(t, order, "mid cannot hard-delete while leaf is still live")

	softDeleted[leaf] = true
	order, err = HardDeletionOrder(g, softDeleted)
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{root, mid, leaf}, order)

	// Children must precede parents in the returned order.
	pos := make(map[uuid.UUID]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	require.Less(t, pos[leaf], pos[root])
	require.Less(t, pos[mid], pos[root])
}

func TestHardDeletionOrderSkipsLiveCollections(t *testing.T) {
	root := uuid.New()
	child := uuid.New()
	versionFiles := map[uuid.UUID]*VersionFileView{
		root:  {CollectionID: root, Versions: []VersionEntry{{Version: 0, FilePaths: []string{"r"}}}},
		child: {CollectionID: child, Versions: []VersionEntry{{Version: 0}}},
	}
	forkEdges := []ForkEdge{{ParentCollectionID: root, ParentForkVersion: 0, ChildCollectionID: child}}
	g, err := ConstructGraph(versionFiles, forkEdges)
	require.NoError(t, err)

	order, err := HardDeletionOrder(g, map[uuid.UUID]bool{root: false, child: false})
	require.NoError(t, err)
	require.Empty(t, order)
}
