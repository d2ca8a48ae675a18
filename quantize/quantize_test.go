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

package quantize

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v
}

func TestRotatorDeterministicAndOrthogonal(t *testing.T) {
	r1 := NewRotator("coll-a", "cluster-1", 16)
	r2 := NewRotator("coll-a", "cluster-1", 16)
	r3 := NewRotator("coll-a", "cluster-2", 16)

	v := []float32{1, 2, 3, 4, 5, 6, 7, 8, 1, 2, 3, 4, 5, 6, 7, 8}
	out1, err := r1.Rotate(v)
	require.NoError(t, err)
	out2, err := r2.Rotate(v)
	require.NoError(t, err)
	out3, err := r3.Rotate(v)
	require.NoError(t, err)

	require.Equal(t, out1, out2, "same collection/cluster id must produce the identical rotation")
	require.NotEqual(t, out1, out3, "different cluster id must produce a different rotation")

	// Orthogonality: rotation must preserve vector norm (||Pv|| == ||v||).
	var normV, normOut float64
	for i := range v {
		normV += float64(v[i]) * float64(v[i])
		normOut += float64(out1[i]) * float64(out1[i])
	}
	require.InDelta(t, math.Sqrt(normV), math.Sqrt(normOut), 1e-3)
}

func TestResidualAndNormalize(t *testing.T) {
	x := []float32{1, 2, 3}
	c := []float32{0.5, 0.5, 0.5}
	res, err := Residual(x, c)
	require.NoError(t, err)
	require.Equal(t, []float32{0.5, 1.5, 2.5}, res)

	n := Normalize([]float32{3, 4})
	require.InDelta(t, 1.0, math.Sqrt(float64(n[0]*n[0]+n[1]*n[1])), 1e-6)
}

func TestEncodeOneBitHeaderAgainstHandComputed(t *testing.T) {
	r := []float32{1, -1, 2, -2}
	c := []float32{0, 0, 0, 0}
	code, err := EncodeOneBit(r, c)
	require.NoError(t, err)

	require.Equal(t, 4, code.Dim)
	// sign bits: 1>=0 -> 1, -1<0 -> 0, 2>=0 -> 1, -2<0 -> 0
	require.True(t, code.bit(0))
	require.False(t, code.bit(1))
	require.True(t, code.bit(2))
	require.False(t, code.bit(3))

	wantNorm := math.Sqrt(1 + 1 + 4 + 4)
	require.InDelta(t, wantNorm, float64(code.Norm), 1e-5)

	wantAbsSum := 1.0 + 1.0 + 2.0 + 2.0
	wantCorrection := 0.5 * wantAbsSum / wantNorm
	require.InDelta(t, wantCorrection, float64(code.Correction), 1e-5)

	// popcount = 2 set bits out of 4 -> signed_sum = 2*2 - 4 = 0
	require.EqualValues(t, 0, code.SignedSum)

	// radial against the zero centroid is zero.
	require.InDelta(t, 0, float64(code.Radial), 1e-6)
}

func TestEncodeOneBitDimensionMismatch(t *testing.T) {
	_, err := EncodeOneBit([]float32{1, 2}, []float32{1})
	require.Error(t, err)
}

func TestBitwiseAndLUTPathsAgreeExactly(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const dim = 128
	for trial := 0; trial < 5; trial++ {
		r := randomVector(rng, dim)
		c := randomVector(rng, dim)
		code, err := EncodeOneBit(r, c)
		require.NoError(t, err)

		rq := randomVector(rng, dim)
		qq := QuantizeQuery(rq, 4)
		lut := BuildLUTFromQuery(qq)

		bitwiseInner, err := EstimateInnerBitwise(code, qq)
		require.NoError(t, err)
		lutInner, err := EstimateInnerLUT(code, qq, lut)
		require.NoError(t, err)

		require.InDelta(t, float64(bitwiseInner), float64(lutInner), 1e-4,
			"bitwise and LUT paths must compute the same <x_b, q_u> sum")
	}
}

func TestBitwiseFastPathAgreesWithGenericPlaneLoop(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const dim = 256
	r := randomVector(rng, dim)
	c := randomVector(rng, dim)
	code, err := EncodeOneBit(r, c)
	require.NoError(t, err)

	rq := randomVector(rng, dim)
	qq4 := QuantizeQuery(rq, 4)
	qq8 := QuantizeQuery(rq, 8)

	// Bq=4 uses the interleaved fast path; Bq=8 falls back to the generic
	// per-plane loop. Both must be internally consistent estimators of the
	// same quantity up to their own quantization resolution, so neither
	// should blow up or diverge wildly from the float baseline.
	bw4, err := EstimateInnerBitwise(code, qq4)
	require.NoError(t, err)
	bw8, err := EstimateInnerBitwise(code, qq8)
	require.NoError(t, err)
	floatInner, err := EstimateInnerFloat(code, rq)
	require.NoError(t, err)

	require.InDelta(t, float64(floatInner), float64(bw4), 0.5*math.Abs(float64(floatInner))+1,
		"Bq=4 bitwise estimate should be in the neighborhood of the float estimate")
	require.InDelta(t, float64(floatInner), float64(bw8), 0.3*math.Abs(float64(floatInner))+1,
		"Bq=8 bitwise estimate should be within a tighter bound of the float estimate than Bq=4's")
}

func TestDistanceEuclideanRecoversApprox(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	const dim = 512
	x := randomVector(rng, dim)
	c := make([]float32, dim) // zero centroid: residual == x
	code, err := EncodeOneBit(x, c)
	require.NoError(t, err)

	q := QueryStats{Norm: code.Norm, CDotQ: 0}
	dist, err := ScoreFloat(EuclideanSquared, code, x, q)
	require.NoError(t, err)
	// x compared against itself: true squared distance is 0. The 1-bit
	// estimator is lossy, so allow a generous relative tolerance.
	require.Less(t, math.Abs(float64(dist)), 0.25*float64(code.Norm*code.Norm)+1)
}

func TestQuantizeQueryMonotonicLevels(t *testing.T) {
	rq := []float32{-2, -1, 0, 1, 2}
	qq := QuantizeQuery(rq, 4)
	require.Equal(t, 5, qq.Dim)
	require.Equal(t, 4, qq.Bq)
	require.Greater(t, qq.Delta, float32(0))

	values := quantizedValues(qq)
	for i := 1; i < len(values); i++ {
		require.GreaterOrEqual(t, values[i], values[i-1],
			"quantized levels must be monotonic in the input ordering for a sorted input")
	}
}

func TestPopcount(t *testing.T) {
	require.Equal(t, 0, Popcount([]uint64{0}))
	require.Equal(t, 64, Popcount([]uint64{^uint64(0)}))
	require.Equal(t, 1, Popcount([]uint64{1}))
}

func TestEstimateInnerBitwiseDimensionMismatch(t *testing.T) {
	code := &Code{Dim: 4, Bits: make([]uint64, 1)}
	qq := QuantizeQuery([]float32{1, 2, 3}, 4)
	_, err := EstimateInnerBitwise(code, qq)
	require.Error(t, err)
}
