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

	"github.com/emicklei/dot"
	"github.com/google/uuid"
)

// RenderGraph renders the version graph (spec.md §4.4.2) as Graphviz DOT
// for operator debugging: one node per (collection, version), solid
// edges within a collection, dashed edges across a fork. actions may be
// nil; when present, a version marked for deletion is drawn filled red.
func RenderGraph(g *Graph, actions map[uuid.UUID]VersionActions) string {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("rankdir", "LR")

	nodeID := func(n Node) string {
		return fmt.Sprintf("%s@v%d", n.CollectionID, n.Version)
	}

	nodes := make(map[Node]dot.Node, len(g.order))
	for _, n := range g.order {
		gn := graph.Node(nodeID(n)).Label(fmt.Sprintf("%s\nv%d", shortID(n.CollectionID), n.Version))
		if actions != nil {
			if va, ok := actions[n.CollectionID]; ok {
				if va[n.Version] == DeleteVersion {
					gn = gn.Attr("style", "filled").Attr("fillcolor", "lightcoral")
				}
			}
		}
		nodes[n] = gn
	}

	for _, from := range g.order {
		for _, to := range g.out[from] {
			e := graph.Edge(nodes[from], nodes[to])
			if from.CollectionID != to.CollectionID {
				e.Attr("style", "dashed").Attr("label", "fork")
			}
		}
	}

	return graph.String()
}

func shortID(id uuid.UUID) string {
	s := id.String()
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
