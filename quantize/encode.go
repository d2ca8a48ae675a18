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
	"github.com/embeddb/storecore/mathutil"
)

// Code is a 1-bit quantized rotated residual plus its precomputed
// distance-estimation header (spec.md §4.3.2).
type Code struct {
	Dim        int
	Norm       float32
	Correction float32
	Radial     float32
	SignedSum  int32
	Bits       []uint64 // ceil(Dim/64) words, bit i = sign(r_i)
}

func wordsFor(dim int) int { return (dim + 63) / 64 }

func (c *Code) bit(i int) bool {
	return c.Bits[i/64]&(1<<uint(i%64)) != 0
}

func (c *Code) setBit(i int) {
	c.Bits[i/64] |= 1 << uint(i%64)
}

// EncodeOneBit computes the header fields and sign bits from the rotated
// residual r against centroid c in a single fused pass (spec.md §4.3.2,
// supplemented by quantization1bit.rs's fused-pass technique — see
// DESIGN.md).
func EncodeOneBit(r, c []float32) (*Code, error) {
	if len(r) != len(c) {
		return nil, errkind.New(errkind.Validation, "EncodeOneBit", "residual and centroid dimension mismatch")
	}
	dim := len(r)
	code := &Code{Dim: dim, Bits: make([]uint64, wordsFor(dim))}

	var absSum float64
	var normSq float64
	var radial float64
	var popcount int32

	for i, ri := range r {
		fr := float64(ri)
		if fr >= 0 {
			code.setBit(i)
			popcount++
		}
		absSum += math.Abs(fr)
		normSq += fr * fr
		radial += fr * float64(c[i])
	}

	norm := math.Sqrt(normSq)
	code.Norm = float32(norm)
	code.Radial = float32(radial)
	code.SignedSum = 2*popcount - int32(dim)
	if norm > 1e-12 {
		code.Correction = float32(0.5 * absSum / norm)
	}
	return code, nil
}

// Popcount exposes mathutil's bit-count helper for callers scoring codes
// directly (used by the bitwise query path).
func Popcount(words []uint64) int {
	n := 0
	for _, w := range words {
		n += mathutil.Popcount64(w)
	}
	return n
}
