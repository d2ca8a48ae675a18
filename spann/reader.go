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
	"math"
	"sort"

	"github.com/embeddb/storecore/blockfile"
	"github.com/embeddb/storecore/keyvalue"
	"github.com/embeddb/storecore/quantize"
)

// Reader is a read-only, point-in-time view of a SPANN vector segment
// (spec.md §4.3.5). The rotation matrix is never read off disk: it is
// rederived deterministically per cluster from (collectionID, clusterID),
// matching quantize.NewRotator's determinism guarantee, so only the
// center vector and quantized payloads need to round-trip through the
// blockfiles.
type Reader struct {
	quantizedCluster  *blockfile.Reader
	embeddingMetadata *blockfile.Reader
	quantizedCentroid *blockfile.Reader
	rawCentroid       *blockfile.Reader
	scalarMetadata    *blockfile.Reader

	collectionID string
	dim          int
}

// OpenReader opens all five blockfiles comprising ids at segmentPath.
func OpenReader(ctx context.Context, provider *blockfile.Provider, segmentPath string, ids BlockfileIDs, collectionID string, dim int) (*Reader, error) {
	qc, err := blockfile.OpenReader(ctx, provider, segmentPath, keyvalue.KeyUInt32, ids.QuantizedCluster)
	if err != nil {
		return nil, err
	}
	em, err := blockfile.OpenReader(ctx, provider, segmentPath, keyvalue.KeyUInt32, ids.EmbeddingMetadata)
	if err != nil {
		return nil, err
	}
	qct, err := blockfile.OpenReader(ctx, provider, segmentPath, keyvalue.KeyUInt32, ids.QuantizedCentroid)
	if err != nil {
		return nil, err
	}
	rc, err := blockfile.OpenReader(ctx, provider, segmentPath, keyvalue.KeyUInt32, ids.RawCentroid)
	if err != nil {
		return nil, err
	}
	sm, err := blockfile.OpenReader(ctx, provider, segmentPath, keyvalue.KeyUInt32, ids.ScalarMetadata)
	if err != nil {
		return nil, err
	}
	return &Reader{
		quantizedCluster:  qc,
		embeddingMetadata: em,
		quantizedCentroid: qct,
		rawCentroid:       rc,
		scalarMetadata:    sm,
		collectionID:      collectionID,
		dim:               dim,
	}, nil
}

// clusterIDs lists every cluster head currently registered, in no
// particular order. The candidate shortlist in Query scans this set
// directly: the pack carries no ANN-graph library, so the "ask
// quantized_centroid for k nearest heads" step (spec.md §4.3.5 step 2) is
// a brute-force scored scan over quantized head codes rather than a true
// graph walk — see DESIGN.md.
func (r *Reader) clusterIDs(ctx context.Context) ([]uint32, error) {
	rows, err := r.embeddingMetadata.GetRange(ctx, prefixHeadPointer, blockfile.OpPrefix, keyvalue.KeyFromUInt32(0))
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.Key.Key.UInt32())
	}
	return ids, nil
}

// Candidate is one scored point returned by Query.
type Candidate struct {
	ClusterID uint32
	PointID   uint32
	Score     float32
}

// Query rotates queryVec per-candidate-cluster (each cluster owns its own
// deterministic rotation, so there is no single global rotated query),
// shortlists the k nearest cluster heads by scoring their quantized head
// codes, then scores every live member of each shortlisted cluster via
// the bitwise path, filtering out members whose embedded version no
// longer matches scalar_metadata's authoritative version (spec.md
// §4.3.5-4.3.6). Results are returned best-first (ascending distance),
// truncated to topM.
func (r *Reader) Query(ctx context.Context, space quantize.Space, queryVec []float32, k, topM int) ([]Candidate, error) {
	if space == quantize.Cosine {
		queryVec = quantize.Normalize(queryVec)
	}

	ids, err := r.clusterIDs(ctx)
	if err != nil {
		return nil, err
	}

	type headScore struct {
		clusterID uint32
		score     float32
	}
	heads := make([]headScore, 0, len(ids))
	for _, clusterID := range ids {
		score, err := r.scoreHead(ctx, space, clusterID, queryVec)
		if err != nil {
			return nil, err
		}
		heads = append(heads, headScore{clusterID: clusterID, score: score})
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i].score < heads[j].score })
	if k > 0 && len(heads) > k {
		heads = heads[:k]
	}

	var out []Candidate
	for _, h := range heads {
		members, err := r.scoreCluster(ctx, space, h.clusterID, queryVec)
		if err != nil {
			return nil, err
		}
		out = append(out, members...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	if topM > 0 && len(out) > topM {
		out = out[:topM]
	}
	return out, nil
}

// scoreHead rotates queryVec under clusterID's own rotation and scores it
// against that cluster's stored head code, used only to rank clusters for
// the candidate shortlist.
func (r *Reader) scoreHead(ctx context.Context, space quantize.Space, clusterID uint32, queryVec []float32) (float32, error) {
	rotator := quantize.NewRotator(r.collectionID, clusterIDKey(clusterID), r.dim)
	centroid, err := r.centroid(ctx, clusterID)
	if err != nil {
		return 0, err
	}
	residual, err := quantize.Residual(queryVec, centroid)
	if err != nil {
		return 0, err
	}
	rq, err := rotator.Rotate(residual)
	if err != nil {
		return 0, err
	}

	codeVal, ok, err := r.quantizedCentroid.Get(ctx, prefixCentroidCode, keyvalue.KeyFromUInt32(clusterID))
	if err != nil {
		return 0, err
	}
	if !ok {
		return float32(1e38), nil // no head recorded; sorts last
	}
	code, err := decodeCode(r.dim, []byte(codeVal.Str()))
	if err != nil {
		return 0, err
	}

	q := quantize.QueryStats{Norm: vectorNorm(rq), CDotQ: dot(centroid, queryVec)}
	return quantize.ScoreFloat(space, code, rq, q)
}

// scoreCluster loads clusterID's membership, rotates queryVec under the
// cluster's own rotation once, and scores every live (version-matching)
// member via the bitwise path.
func (r *Reader) scoreCluster(ctx context.Context, space quantize.Space, clusterID uint32, queryVec []float32) ([]Candidate, error) {
	blobVal, ok, err := r.quantizedCluster.Get(ctx, prefixClusterMembers, keyvalue.KeyFromUInt32(clusterID))
	if err != nil || !ok {
		return nil, err
	}
	qc, err := decodeCluster([]byte(blobVal.Str()))
	if err != nil {
		return nil, err
	}

	centroid, err := r.centroid(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	rotator := quantize.NewRotator(r.collectionID, clusterIDKey(clusterID), r.dim)
	residual, err := quantize.Residual(queryVec, centroid)
	if err != nil {
		return nil, err
	}
	rq, err := rotator.Rotate(residual)
	if err != nil {
		return nil, err
	}
	qq := quantize.QuantizeQuery(rq, 4)
	q := quantize.QueryStats{Norm: vectorNorm(rq), CDotQ: dot(centroid, queryVec)}

	var out []Candidate
	for _, m := range qc.Members {
		current, ok, err := r.currentVersion(ctx, clusterID, m.PointID)
		if err != nil {
			return nil, err
		}
		if !ok || current != m.Version {
			continue // stale shadow entry (spec.md §4.3.6)
		}
		score, err := quantize.ScoreBitwise(space, m.Code, qq, q)
		if err != nil {
			return nil, err
		}
		out = append(out, Candidate{ClusterID: clusterID, PointID: m.PointID, Score: score})
	}
	return out, nil
}

func (r *Reader) centroid(ctx context.Context, clusterID uint32) ([]float32, error) {
	v, ok, err := r.rawCentroid.Get(ctx, prefixCentroidRaw, keyvalue.KeyFromUInt32(clusterID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return make([]float32, r.dim), nil
	}
	return decodeFloatVector(r.dim, []byte(v.Str()))
}

func (r *Reader) currentVersion(ctx context.Context, clusterID, pointID uint32) (uint32, bool, error) {
	v, ok, err := r.scalarMetadata.Get(ctx, clusterVersionPrefix(clusterID), keyvalue.KeyFromUInt32(pointID))
	if err != nil || !ok {
		return 0, ok, err
	}
	return v.UInt32(), true, nil
}

// clusterIDKey stringifies a cluster id for rotation seeding, grounded on
// quantize.NewRotator taking a string cluster identifier.
func clusterIDKey(clusterID uint32) string {
	return keyvalue.KeyFromUInt32(clusterID).String()
}

func vectorNorm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

func dot(a, b []float32) float32 {
	var sum float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}
