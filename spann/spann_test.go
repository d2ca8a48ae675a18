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

package spann

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embeddb/storecore/blockfile"
	"github.com/embeddb/storecore/quantize"
)

func newTestProvider(t *testing.T) (*blockfile.Provider, string) {
	t.Helper()
	store, err := blockfile.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	provider, err := blockfile.NewProvider(store, 64, 64)
	require.NoError(t, err)
	return provider, "spann/test-collection"
}

func buildCluster(t *testing.T, collectionID string, clusterID uint32, dim int, centroid []float32, points map[uint32][]float32, version uint32) *QuantizedCluster {
	t.Helper()
	rotator := quantize.NewRotator(collectionID, clusterIDKey(clusterID), dim)
	qc := &QuantizedCluster{Dim: dim}
	for pointID, vec := range points {
		residual, err := quantize.Residual(vec, centroid)
		require.NoError(t, err)
		r, err := rotator.Rotate(residual)
		require.NoError(t, err)
		code, err := quantize.EncodeOneBit(r, centroid)
		require.NoError(t, err)
		qc.Members = append(qc.Members, ClusterMember{PointID: pointID, Version: version, Code: code})
	}
	return qc
}

func TestSpannQueryFindsClosestClusterMember(t *testing.T) {
	ctx := context.Background()
	provider, segPath := newTestProvider(t)
	const dim = 32
	const collectionID = "coll-1"

	rng := rand.New(rand.NewSource(1))
	centroidA := make([]float32, dim)
	centroidB := make([]float32, dim)
	for i := range centroidA {
		centroidA[i] = float32(rng.NormFloat64())
		centroidB[i] = float32(rng.NormFloat64()) + 10 // well separated from A
	}

	pointsA := map[uint32][]float32{
		1: addNoise(rng, centroidA, 0.01),
		2: addNoise(rng, centroidA, 0.01),
	}
	pointsB := map[uint32][]float32{
		3: addNoise(rng, centroidB, 0.01),
	}

	clusterA := buildCluster(t, collectionID, 0, dim, centroidA, pointsA, 1)
	clusterB := buildCluster(t, collectionID, 1, dim, centroidB, pointsB, 1)

	w, err := NewWriter(ctx, provider, segPath, nil, blockfile.DefaultBlockCapBytes)
	require.NoError(t, err)

	rotatorA := quantize.NewRotator(collectionID, clusterIDKey(0), dim)
	headResidualA, err := quantize.Residual(centroidA, centroidA)
	require.NoError(t, err)
	headRotA, err := rotatorA.Rotate(headResidualA)
	require.NoError(t, err)
	headCodeA, err := quantize.EncodeOneBit(headRotA, centroidA)
	require.NoError(t, err)

	rotatorB := quantize.NewRotator(collectionID, clusterIDKey(1), dim)
	headResidualB, err := quantize.Residual(centroidB, centroidB)
	require.NoError(t, err)
	headRotB, err := rotatorB.Rotate(headResidualB)
	require.NoError(t, err)
	headCodeB, err := quantize.EncodeOneBit(headRotB, centroidB)
	require.NoError(t, err)

	require.NoError(t, w.PutCluster(ctx, 0, clusterA))
	require.NoError(t, w.PutClusterHead(ctx, 0, centroidA, headCodeA, 1))
	require.NoError(t, w.PutPointVersion(ctx, 0, 1, 1))
	require.NoError(t, w.PutPointVersion(ctx, 0, 2, 1))

	require.NoError(t, w.PutCluster(ctx, 1, clusterB))
	require.NoError(t, w.PutClusterHead(ctx, 1, centroidB, headCodeB, 3))
	require.NoError(t, w.PutPointVersion(ctx, 1, 3, 1))

	result, err := w.Commit()
	require.NoError(t, err)
	ids, err := w.Flush(ctx, result)
	require.NoError(t, err)

	r, err := OpenReader(ctx, provider, segPath, ids, collectionID, dim)
	require.NoError(t, err)

	candidates, err := r.Query(ctx, quantize.EuclideanSquared, centroidA, 2, 10)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	require.Equal(t, uint32(0), candidates[0].ClusterID, "closest point should come from cluster A")
}

func TestSpannVersionFilteringSkipsStaleEntries(t *testing.T) {
	ctx := context.Background()
	provider, segPath := newTestProvider(t)
	const dim = 16
	const collectionID = "coll-2"

	centroid := make([]float32, dim)
	point := make([]float32, dim)
	for i := range point {
		point[i] = float32(i) * 0.1
	}

	qc := buildCluster(t, collectionID, 0, dim, centroid, map[uint32][]float32{1: point}, 1)

	w, err := NewWriter(ctx, provider, segPath, nil, blockfile.DefaultBlockCapBytes)
	require.NoError(t, err)

	rotator := quantize.NewRotator(collectionID, clusterIDKey(0), dim)
	headRot, err := rotator.Rotate(centroid)
	require.NoError(t, err)
	headCode, err := quantize.EncodeOneBit(headRot, centroid)
	require.NoError(t, err)

	require.NoError(t, w.PutCluster(ctx, 0, qc))
	require.NoError(t, w.PutClusterHead(ctx, 0, centroid, headCode, 1))
	// Authoritative version is 2, but the stored member's embedded version
	// is 1 (set above via buildCluster) — simulates a point that moved
	// cluster after the member blob was last rebuilt.
	require.NoError(t, w.PutPointVersion(ctx, 0, 1, 2))

	result, err := w.Commit()
	require.NoError(t, err)
	ids, err := w.Flush(ctx, result)
	require.NoError(t, err)

	r, err := OpenReader(ctx, provider, segPath, ids, collectionID, dim)
	require.NoError(t, err)

	candidates, err := r.Query(ctx, quantize.EuclideanSquared, point, 5, 10)
	require.NoError(t, err)
	require.Empty(t, candidates, "stale member version must be filtered out of results")
}

func addNoise(rng *rand.Rand, v []float32, scale float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = f + float32(rng.NormFloat64()*scale)
	}
	return out
}
