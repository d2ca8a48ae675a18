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

import "github.com/prometheus/client_golang/prometheus"

// Run-level outcome counters (spec.md §10), one increment per completed
// Orchestrator.Run, partitioned by mode so a dry-run pass never inflates
// the counters a real deletion pass drives alerts off of.
var (
	versionsDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storecore",
		Subsystem: "gc",
		Name:      "versions_deleted_total",
		Help:      "Collection versions marked/deleted by a GC run, partitioned by mode.",
	}, []string{"mode"})

	filesDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storecore",
		Subsystem: "gc",
		Name:      "files_deleted_total",
		Help:      "Object-store files deleted by a GC run, partitioned by mode.",
	}, []string{"mode"})

	collectionsHardDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "storecore",
		Subsystem: "gc",
		Name:      "collections_hard_deleted_total",
		Help:      "Soft-deleted collections finalized (hard-deleted) by a GC run.",
	})
)

func init() {
	prometheus.MustRegister(versionsDeleted, filesDeleted, collectionsHardDeleted)
}
