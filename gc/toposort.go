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
	"github.com/google/uuid"

	"github.com/embeddb/storecore/errkind"
)

// collectionDependencyGraph collapses the version graph to one node per
// collection with a parent -> child edge per fork (original_source/
// garbage_collector/src/types.rs's version_graph_to_collection_
// dependency_graph, supplemented per spec.md §12).
type collectionDependencyGraph struct {
	nodes map[uuid.UUID]struct{}
	out   map[uuid.UUID][]uuid.UUID
	in    map[uuid.UUID][]uuid.UUID
	order []uuid.UUID
}

func versionGraphToCollectionDependencyGraph(g *Graph) *collectionDependencyGraph {
	cg := &collectionDependencyGraph{
		nodes: make(map[uuid.UUID]struct{}),
		out:   make(map[uuid.UUID][]uuid.UUID),
		in:    make(map[uuid.UUID][]uuid.UUID),
	}
	addNode := func(id uuid.UUID) {
		if _, ok := cg.nodes[id]; !ok {
			cg.nodes[id] = struct{}{}
			cg.order = append(cg.order, id)
		}
	}
	for _, n := range g.Nodes() {
		addNode(n.CollectionID)
	}
	for _, from := range g.Nodes() {
		for _, to := range g.out[from] {
			if from.CollectionID != to.CollectionID {
				cg.out[from.CollectionID] = append(cg.out[from.CollectionID], to.CollectionID)
				cg.in[to.CollectionID] = append(cg.in[to.CollectionID], from.CollectionID)
			}
		}
	}
	return cg
}

// toposort is a plain Kahn's-algorithm topological sort: topologically
// sorting a handful of collection nodes per GC run does not warrant a
// graph library (see DESIGN.md).
func (cg *collectionDependencyGraph) toposort() ([]uuid.UUID, error) {
	inDegree := make(map[uuid.UUID]int, len(cg.order))
	for _, id := range cg.order {
		inDegree[id] = len(cg.in[id])
	}
	var queue []uuid.UUID
	for _, id := range cg.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	var sorted []uuid.UUID
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		sorted = append(sorted, n)
		for _, child := range cg.out[n] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	if len(sorted) != len(cg.order) {
		return nil, errkind.New(errkind.InvariantViolation, "gc.toposort", "collection dependency graph has a cycle")
	}
	return sorted, nil
}

// descendants returns every collection reachable from id via dependency
// edges (parent -> child), used to decide "are all children soft
// deleted" below.
func (cg *collectionDependencyGraph) descendants(id uuid.UUID) []uuid.UUID {
	visited := make(map[uuid.UUID]struct{})
	queue := []uuid.UUID{id}
	var out []uuid.UUID
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, child := range cg.out[n] {
			if _, seen := visited[child]; seen {
				continue
			}
			visited[child] = struct{}{}
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

// HardDeletionOrder computes which soft-deleted collections in the
// lineage can be hard-deleted this run, and in what order (spec.md
// §4.4.5): reverse topological order (children before parents), and
// only once every descendant of a collection is already soft-deleted --
// otherwise the lineage graph would lose an edge.
func HardDeletionOrder(g *Graph, softDeleted map[uuid.UUID]bool) ([]uuid.UUID, error) {
	cg := versionGraphToCollectionDependencyGraph(g)
	sorted, err := cg.toposort()
	if err != nil {
		return nil, err
	}

	var out []uuid.UUID
	for i := len(sorted) - 1; i >= 0; i-- {
		id := sorted[i]
		if !softDeleted[id] {
			continue
		}
		allDescendantsSoftDeleted := true
		for _, d := range cg.descendants(id) {
			if !softDeleted[d] {
				allDescendantsSoftDeleted = false
				break
			}
		}
		if allDescendantsSoftDeleted {
			out = append(out, id)
		}
	}
	return out, nil
}
