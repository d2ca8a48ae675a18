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
	"fmt"

	"github.com/google/uuid"

	"github.com/embeddb/storecore/errkind"
)

// BuildFileRefCounts implements spec.md §4.4.4: initialize every file
// encountered with refcount 0, then increment once per Keep version that
// references it. Files left at 0 afterward are eligible for deletion.
//
// Defensive invariant: a Keep version's file set may be empty only if it
// is v0 of its own collection (the "uninitialized lineage" case, spec.md
// §8 scenario 6 -- a freshly forked child has not compacted anything yet,
// regardless of which version of its parent it forked from). Any other
// empty file set is an InvariantViolation.
func BuildFileRefCounts(g *Graph, versionFiles map[uuid.UUID]*VersionFileView, actions map[uuid.UUID]VersionActions) (map[string]int, error) {
	refCounts := make(map[string]int)

	for collectionID, versionActions := range actions {
		vf := versionFiles[collectionID]
		for version, action := range versionActions {
			files := filePathsAt(vf, version)
			if action == DeleteVersion {
				for _, f := range files {
					if _, ok := refCounts[f]; !ok {
						refCounts[f] = 0
					}
				}
				continue
			}
			if len(files) == 0 {
				if err := verifyUninitializedLineage(g, collectionID, version); err != nil {
					return nil, err
				}
				continue
			}
			for _, f := range files {
				refCounts[f]++
			}
		}
	}
	return refCounts, nil
}

func filePathsAt(vf *VersionFileView, version int64) []string {
	if vf == nil {
		return nil
	}
	for _, v := range vf.Versions {
		if v.Version == version {
			return v.FilePaths
		}
	}
	return nil
}

// verifyUninitializedLineage allows an empty file set only for a
// collection's own v0 (spec.md §8 scenario 6: a child collection forked
// from an already-compacted parent still starts with an empty, never-
// compacted v0 of its own). Only the target node's version is checked --
// not its ancestors' -- since a fork point can legitimately sit at any
// version of the parent while the child itself has yet to compact
// anything.
func verifyUninitializedLineage(g *Graph, collectionID uuid.UUID, version int64) error {
	if version != 0 {
		return errkind.New(errkind.InvariantViolation, "gc.BuildFileRefCounts",
			fmt.Sprintf("version %d of collection %s has no file paths but is not v0", version, collectionID))
	}
	if _, err := g.PathFromRoot(Node{CollectionID: collectionID, Version: version}); err != nil {
		return err
	}
	return nil
}

// FilesToDelete returns every file whose refcount is 0 (spec.md §4.4.4).
func FilesToDelete(refCounts map[string]int) []string {
	var out []string
	for f, c := range refCounts {
		if c == 0 {
			out = append(out, f)
		}
	}
	return out
}
