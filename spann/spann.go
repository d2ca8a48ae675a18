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

// Package spann is the SPANN cluster store: five blockfiles holding
// quantized member codes, per-cluster centroids, and MVCC-like point
// versions, plus the query path that rotates a probe vector, shortlists
// candidate clusters, and scores members via the bitwise path (spec.md
// §4.3.5-4.3.6).
package spann

import (
	"strconv"

	"github.com/embeddb/storecore/blockfile"
)

// BlockfileIDs names the five blockfiles a SPANN vector segment is
// backed by (spec.md §4.3.5).
type BlockfileIDs struct {
	QuantizedCluster  blockfile.BlockfileID
	EmbeddingMetadata blockfile.BlockfileID
	QuantizedCentroid blockfile.BlockfileID
	RawCentroid       blockfile.BlockfileID
	ScalarMetadata    blockfile.BlockfileID
}

const (
	prefixClusterMembers = "cluster"
	prefixCentroidRaw    = "centroid"
	prefixCentroidCode   = "centroid_code"
	prefixHeadPointer    = "head_pointer"
	prefixCenterVector   = "center"
)

func clusterVersionPrefix(clusterID uint32) string {
	return "cluster_version:" + strconv.FormatUint(uint64(clusterID), 10)
}
