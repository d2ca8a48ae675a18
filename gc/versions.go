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
	"sort"
	"time"

	"github.com/google/uuid"
)

// VersionActions maps a collection's versions to their Keep/Delete
// disposition.
type VersionActions map[int64]Action

// ComputeVersionsToDelete implements spec.md §4.4.3: per collection,
// sort versions, delete every version older than cutoff except the most
// recent minVersionsToKeep and any version that is the fork point of a
// still-live (not soft-deleted) child. Soft-deleted collections have
// every version marked Delete.
func ComputeVersionsToDelete(g *Graph, versionFiles map[uuid.UUID]*VersionFileView, cutoff time.Time, minVersionsToKeep int) map[uuid.UUID]VersionActions {
	result := make(map[uuid.UUID]VersionActions, len(versionFiles))
	byCollection := g.CollectionsByID()

	for collectionID, versions := range byCollection {
		vf := versionFiles[collectionID]
		actions := make(VersionActions, len(versions))

		if vf != nil && vf.IsSoftDeleted {
			for _, v := range versions {
				actions[v] = DeleteVersion
			}
			result[collectionID] = actions
			continue
		}

		sorted := append([]int64(nil), versions...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		keepNewest := make(map[int64]bool, minVersionsToKeep)
		for i := len(sorted) - 1; i >= 0 && len(keepNewest) < minVersionsToKeep; i-- {
			keepNewest[sorted[i]] = true
		}

		createdAt := createdAtIndex(vf)
		for _, v := range sorted {
			if keepNewest[v] {
				actions[v] = Keep
				continue
			}
			if isLiveForkPoint(g, versionFiles, collectionID, v) {
				actions[v] = Keep
				continue
			}
			ts, known := createdAt[v]
			if known && ts.Before(cutoff) {
				actions[v] = DeleteVersion
			} else {
				actions[v] = Keep
			}
		}
		result[collectionID] = actions
	}
	return result
}

func createdAtIndex(vf *VersionFileView) map[int64]time.Time {
	idx := make(map[int64]time.Time)
	if vf == nil {
		return idx
	}
	for _, v := range vf.Versions {
		idx[v.Version] = v.CreatedAt
	}
	return idx
}

func isLiveForkPoint(g *Graph, versionFiles map[uuid.UUID]*VersionFileView, collectionID uuid.UUID, version int64) bool {
	for _, child := range g.ForkChildren(collectionID, version) {
		childVF := versionFiles[child.CollectionID]
		if childVF == nil || !childVF.IsSoftDeleted {
			return true
		}
	}
	return false
}
