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

import "github.com/embeddb/storecore/errkind"

// QueryLUT is the precomputed nibble lookup table for a single quantized
// query: one 16-entry table per group of 4 dimensions, giving that
// nibble's contribution to <x_b, q_u> for every possible 4-bit sign
// pattern (spec.md §4.3.4 "LUT path"). Built once per query and reused to
// score every candidate code it is compared against.
type QueryLUT struct {
	dim     int
	tables  [][16]int64 // one per nibble position (dim/4, rounded up)
}

// BuildLUT precomputes the nibble table from a quantized query's q_u
// values (the same q_u QuantizeQuery produced, independent of Bq — the
// LUT indexes the *code's* sign-bit nibbles, not the query's bit planes).
func BuildLUT(qu []int) *QueryLUT {
	dim := len(qu)
	nibbles := wordsPerNibble(dim)
	tables := make([][16]int64, nibbles)
	for p := 0; p < nibbles; p++ {
		base := p * 4
		for v := 0; v < 16; v++ {
			var sum int64
			for k := 0; k < 4; k++ {
				idx := base + k
				if idx >= dim {
					continue
				}
				if v&(1<<uint(k)) != 0 {
					sum += int64(qu[idx])
				}
			}
			tables[p][v] = sum
		}
	}
	return &QueryLUT{dim: dim, tables: tables}
}

func wordsPerNibble(dim int) int { return (dim + 3) / 4 }

// quantizedValues recomputes q_u from a QuantizedQuery's bit planes, the
// inverse of the packing QuantizeQuery performed, so BuildLUT can be
// driven directly off a QuantizedQuery without the caller re-deriving qu.
func quantizedValues(qq *QuantizedQuery) []int {
	qu := make([]int, qq.Dim)
	for i := range qu {
		v := 0
		for j, plane := range qq.Planes {
			word := plane[i/64]
			if word&(1<<uint(i%64)) != 0 {
				v |= 1 << uint(j)
			}
		}
		qu[i] = v
	}
	return qu
}

// BuildLUTFromQuery is the common entry point: derive the nibble table
// directly from a QuantizedQuery.
func BuildLUTFromQuery(qq *QuantizedQuery) *QueryLUT {
	return BuildLUT(quantizedValues(qq))
}

// EstimateInnerLUT scores code against the query lut precomputed, via
// nibble table lookups over the code's packed sign bits instead of
// AND+POPCOUNT (spec.md §4.3.4 "LUT path"). For identical (code, query)
// this must equal EstimateInnerBitwise's result exactly, since both
// compute the same <x_b, q_u> by construction.
func EstimateInnerLUT(code *Code, qq *QuantizedQuery, lut *QueryLUT) (float32, error) {
	if code.Dim != lut.dim || code.Dim != qq.Dim {
		return 0, errkind.New(errkind.Validation, "EstimateInnerLUT", "code/query/lut dimension mismatch")
	}
	var xbDotQu int64
	for p, table := range lut.tables {
		nibble := codeNibble(code, p)
		xbDotQu += table[nibble]
	}
	inner := 0.5 * (float64(qq.Delta)*(2*float64(xbDotQu)-float64(qq.SumQU)) + float64(qq.VMin)*float64(code.SignedSum))
	return float32(inner), nil
}

// codeNibble extracts the 4-bit sign pattern for nibble position p
// (dimensions [4p, 4p+4)) from code's packed bit words.
func codeNibble(code *Code, p int) int {
	base := p * 4
	n := 0
	for k := 0; k < 4; k++ {
		idx := base + k
		if idx >= code.Dim {
			continue
		}
		if code.bit(idx) {
			n |= 1 << uint(k)
		}
	}
	return n
}

// ScoreLUT is the end-to-end LUT-path score.
func ScoreLUT(space Space, code *Code, qq *QuantizedQuery, lut *QueryLUT, q QueryStats) (float32, error) {
	g, err := EstimateInnerLUT(code, qq, lut)
	if err != nil {
		return 0, err
	}
	return Distance(space, code, recoverInner(code, g), q), nil
}
