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

	"github.com/google/uuid"

	"github.com/embeddb/storecore/errkind"
)

// Graph is the version DAG spec.md §3 "Version graph" and §4.4.2
// describe: nodes are (collection_id, version) pairs; edges connect
// successive versions within a collection and fork-source -> child-v0
// across collections.
type Graph struct {
	nodes map[Node]struct{}
	out   map[Node][]Node
	in    map[Node][]Node
	order []Node // insertion order, for deterministic iteration
}

func newGraph() *Graph {
	return &Graph{
		nodes: make(map[Node]struct{}),
		out:   make(map[Node][]Node),
		in:    make(map[Node][]Node),
	}
}

func (g *Graph) addNode(n Node) {
	if _, ok := g.nodes[n]; ok {
		return
	}
	g.nodes[n] = struct{}{}
	g.order = append(g.order, n)
}

func (g *Graph) addEdge(from, to Node) {
	g.addNode(from)
	g.addNode(to)
	g.out[from] = append(g.out[from], to)
	g.in[to] = append(g.in[to], from)
}

// Nodes returns every node in deterministic (insertion) order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.order))
	copy(out, g.order)
	return out
}

// Root returns the unique node with no incoming edge (spec.md §4.4.2
// "The root is the unique node with no incoming edges.").
func (g *Graph) Root() (Node, error) {
	var roots []Node
	for _, n := range g.order {
		if len(g.in[n]) == 0 {
			roots = append(roots, n)
		}
	}
	if len(roots) != 1 {
		return Node{}, errkind.New(errkind.InvariantViolation, "gc.Graph.Root",
			"expected exactly one root node with no incoming edges")
	}
	return roots[0], nil
}

// PathFromRoot returns the sequence of nodes from the graph's root to
// target, inclusive, walking forward edges. Used by the "uninitialized
// lineage" check (spec.md §4.4.4, §8 scenario 6).
func (g *Graph) PathFromRoot(target Node) ([]Node, error) {
	root, err := g.Root()
	if err != nil {
		return nil, err
	}
	path, ok := g.bfsPath(root, target)
	if !ok {
		return nil, errkind.New(errkind.InvariantViolation, "gc.Graph.PathFromRoot",
			"no path from root to target node")
	}
	return path, nil
}

func (g *Graph) bfsPath(from, to Node) ([]Node, bool) {
	if from == to {
		return []Node{from}, true
	}
	type frame struct {
		node Node
		path []Node
	}
	visited := map[Node]struct{}{from: {}}
	queue := []frame{{node: from, path: []Node{from}}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.out[cur.node] {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			path := append(append([]Node(nil), cur.path...), next)
			if next == to {
				return path, true
			}
			queue = append(queue, frame{node: next, path: path})
		}
	}
	return nil, false
}

// CollectionsByID groups every node's version by collection, sorted
// ascending (spec.md §4.4.3 "Per collection: sort its versions").
func (g *Graph) CollectionsByID() map[uuid.UUID][]int64 {
	out := make(map[uuid.UUID][]int64)
	for _, n := range g.order {
		out[n.CollectionID] = append(out[n.CollectionID], n.Version)
	}
	for id := range out {
		sort.Slice(out[id], func(i, j int) bool { return out[id][i] < out[id][j] })
	}
	return out
}

// ForkChildren returns every (child_collection_id, child_version) edge
// whose fork source is (collectionID, version) -- i.e. whether that
// version is "the fork point of a still-live child" (spec.md §4.4.3).
func (g *Graph) ForkChildren(collectionID uuid.UUID, version int64) []Node {
	src := Node{CollectionID: collectionID, Version: version}
	var children []Node
	for _, to := range g.out[src] {
		if to.CollectionID != collectionID {
			children = append(children, to)
		}
	}
	return children
}

// ConstructGraph builds the version DAG from every collection's version
// history plus the lineage file's fork edges (spec.md §4.4.2).
func ConstructGraph(versionFiles map[uuid.UUID]*VersionFileView, forkEdges []ForkEdge) (*Graph, error) {
	g := newGraph()
	for id, vf := range versionFiles {
		if vf == nil || len(vf.Versions) == 0 {
			g.addNode(Node{CollectionID: id, Version: 0})
			continue
		}
		versions := append([]VersionEntry(nil), vf.Versions...)
		sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
		g.addNode(Node{CollectionID: id, Version: versions[0].Version})
		for i := 1; i < len(versions); i++ {
			from := Node{CollectionID: id, Version: versions[i-1].Version}
			to := Node{CollectionID: id, Version: versions[i].Version}
			g.addEdge(from, to)
		}
	}
	for _, e := range forkEdges {
		from := Node{CollectionID: e.ParentCollectionID, Version: e.ParentForkVersion}
		to := Node{CollectionID: e.ChildCollectionID, Version: 0}
		if _, ok := versionFiles[e.ParentCollectionID]; !ok {
			return nil, errkind.New(errkind.InvariantViolation, "gc.ConstructGraph",
				"lineage file references unknown parent collection "+e.ParentCollectionID.String())
		}
		g.addEdge(from, to)
	}
	if _, err := g.Root(); err != nil {
		return nil, err
	}
	return g, nil
}
