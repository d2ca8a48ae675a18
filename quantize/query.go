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

	"github.com/embeddb/storecore/errkind"
)

// Space names the distance family a cluster store is built for.
type Space int

const (
	EuclideanSquared Space = iota
	InnerProduct
	Cosine
)

// QueryStats are the query-side precomputed quantities the distance
// estimator needs alongside a code's header (spec.md §4.3.3).
type QueryStats struct {
	Norm   float32 // ||r_q||
	CDotQ  float32 // <c, q>
}

// EstimateInnerFloat computes <g, r_q> via the full-precision float path:
// expand each sign bit to ±1.0 and dot with the query residual directly
// (spec.md §4.3.4 "Float path"). Baseline for cold single-query probes.
func EstimateInnerFloat(code *Code, rq []float32) (float32, error) {
	if len(rq) != code.Dim {
		return 0, errkind.New(errkind.Validation, "EstimateInnerFloat", "query dimension mismatch")
	}
	var sum float64
	for i, v := range rq {
		if code.bit(i) {
			sum += float64(v)
		} else {
			sum -= float64(v)
		}
	}
	return float32(0.5 * sum), nil
}

// Distance converts a code header plus an estimated <r, q> inner product
// into the requested distance space. d_est is built so that, in
// expectation over the random rotation, it recovers the true distance
// (spec.md §4.3.3 "unbiased w.r.t. the random rotation").
func Distance(space Space, code *Code, innerRQ float32, q QueryStats) float32 {
	switch space {
	case EuclideanSquared:
		return code.Norm*code.Norm + q.Norm*q.Norm - 2*innerRQ
	case InnerProduct:
		// <x, y> = <r, q> + <r, c>-independent terms recovered from the
		// precomputed radial/c_dot_q cross terms.
		return -(innerRQ + code.Radial + q.CDotQ)
	case Cosine:
		denom := code.Norm * q.Norm
		if denom < 1e-12 {
			return 1
		}
		return 1 - innerRQ/denom
	default:
		return innerRQ
	}
}

// recoverInner turns a raw <g, r_q> estimate into the recovered <r, q>
// inner product via code.Norm / code.Correction (spec.md §4.3.3).
func recoverInner(code *Code, estimateInner float32) float32 {
	if code.Correction == 0 {
		return 0
	}
	return code.Norm * estimateInner / code.Correction
}

// ScoreFloat is the end-to-end float-path score: estimate <g, r_q>,
// recover <r, q>, convert to the requested distance space.
func ScoreFloat(space Space, code *Code, rq []float32, q QueryStats) (float32, error) {
	g, err := EstimateInnerFloat(code, rq)
	if err != nil {
		return 0, err
	}
	return Distance(space, code, recoverInner(code, g), q), nil
}

// QuantizedQuery is a query residual quantized into Bq-bit unsigned codes
// and decomposed into bit-planes aligned to Code's 1-bit layout (spec.md
// §4.3.4 "Bitwise path").
type QuantizedQuery struct {
	Dim    int
	Bq     int
	VMin   float32
	Delta  float32
	SumQU  int64
	Planes []uint64Words // one plane per bit of q_u, each ceil(Dim/64) words
}

type uint64Words []uint64

// QuantizeQuery builds the Bq-bit quantized representation of rq. Bq=4 is
// the recommended, spec-mandated fast-path width.
func QuantizeQuery(rq []float32, bq int) *QuantizedQuery {
	dim := len(rq)
	vMin, vMax := rq[0], rq[0]
	for _, v := range rq[1:] {
		if v < vMin {
			vMin = v
		}
		if v > vMax {
			vMax = v
		}
	}
	levels := float32((1 << uint(bq)) - 1)
	delta := (vMax - vMin) / levels
	if delta < 1e-12 {
		delta = 1e-12
	}

	qu := make([]int, dim)
	var sum int64
	for i, v := range rq {
		u := int(math.Round(float64((v - vMin) / delta)))
		if u < 0 {
			u = 0
		}
		if u > int(levels) {
			u = int(levels)
		}
		qu[i] = u
		sum += int64(u)
	}

	planes := make([]uint64Words, bq)
	for j := range planes {
		planes[j] = make(uint64Words, wordsFor(dim))
	}
	for i, u := range qu {
		for j := 0; j < bq; j++ {
			if u&(1<<uint(j)) != 0 {
				planes[j][i/64] |= 1 << uint(i%64)
			}
		}
	}

	return &QuantizedQuery{Dim: dim, Bq: bq, VMin: vMin, Delta: delta, SumQU: sum, Planes: planes}
}

// EstimateInnerBitwise computes <g, r_q> via the AND+POPCOUNT bitwise
// path (spec.md §4.3.4). The hot loop touches only packed u64 words, no
// float math per code dimension. Dispatches to the interleaved Bq=4 fast
// path when applicable.
func EstimateInnerBitwise(code *Code, qq *QuantizedQuery) (float32, error) {
	if code.Dim != qq.Dim {
		return 0, errkind.New(errkind.Validation, "EstimateInnerBitwise", "code/query dimension mismatch")
	}
	var xbDotQu int64
	if qq.Bq == 4 {
		xbDotQu = xbDotQu4(code, qq)
	} else {
		for j, plane := range qq.Planes {
			pop := 0
			for w := range code.Bits {
				pop += Popcount([]uint64{code.Bits[w] & plane[w]})
			}
			xbDotQu += int64(pop) << uint(j)
		}
	}
	inner := 0.5 * (float64(qq.Delta)*(2*float64(xbDotQu)-float64(qq.SumQU)) + float64(qq.VMin)*float64(code.SignedSum))
	return float32(inner), nil
}

// xbDotQu4 is the Bq=4 fast path spec.md §4.3.4 requires: it interleaves
// all four bit-planes into a single pass over the code's packed words
// instead of one pass per plane.
func xbDotQu4(code *Code, qq *QuantizedQuery) int64 {
	p0, p1, p2, p3 := qq.Planes[0], qq.Planes[1], qq.Planes[2], qq.Planes[3]
	var total int64
	for w := range code.Bits {
		cw := code.Bits[w]
		total += int64(Popcount([]uint64{cw & p0[w]}))
		total += int64(Popcount([]uint64{cw & p1[w]})) << 1
		total += int64(Popcount([]uint64{cw & p2[w]})) << 2
		total += int64(Popcount([]uint64{cw & p3[w]})) << 3
	}
	return total
}

// ScoreBitwise is the end-to-end bitwise-path score.
func ScoreBitwise(space Space, code *Code, qq *QuantizedQuery, q QueryStats) (float32, error) {
	g, err := EstimateInnerBitwise(code, qq)
	if err != nil {
		return 0, err
	}
	return Distance(space, code, recoverInner(code, g), q), nil
}
