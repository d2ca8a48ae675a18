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

package blockfile

import "github.com/prometheus/client_golang/prometheus"

// Provider cache metrics (spec.md §10's observability carve-out; process-
// global counters, matching the teacher's own Prometheus usage style).
var (
	cacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storecore",
		Subsystem: "blockfile",
		Name:      "cache_requests_total",
		Help:      "Block read-cache lookups, partitioned by outcome.",
	}, []string{"outcome"})

	blockStoreOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storecore",
		Subsystem: "blockfile",
		Name:      "store_operations_total",
		Help:      "Object-store operations issued by the block Provider, partitioned by op.",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(cacheRequests, blockStoreOps)
}
