// Copyright 2017 The go-ethereum Authors
// (original work)
// Copyright 2024 The Erigon Authors
// (modifications)
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

// Package mathutil holds small integer helpers: overflow-checked
// arithmetic, ceiling division, and the bit count the quantizer's
// Popcount uses.
package mathutil

import "math/bits"

// SafeAdd returns x+y and whether it overflowed a uint64.
func SafeAdd(x, y uint64) (uint64, bool) {
	sum, carryOut := bits.Add64(x, y, 0)
	return sum, carryOut != 0
}

// SafeMul returns x*y and whether it overflowed a uint64.
func SafeMul(x, y uint64) (uint64, bool) {
	hi, lo := bits.Mul64(x, y)
	return lo, hi != 0
}

// CeilDiv is ceil(x/y) for non-negative ints; y == 0 returns 0.
func CeilDiv(x, y int) int {
	if y == 0 {
		return 0
	}
	return (x + y - 1) / y
}

// RoundUpToMultiple rounds n up to the next multiple of m (m > 0).
func RoundUpToMultiple(n, m int) int {
	if m <= 0 {
		return n
	}
	return CeilDiv(n, m) * m
}

// Popcount64 counts set bits, used by the RaBitQ estimator's hamming
// kernels (AND + POPCOUNT over u64 lanes, spec.md §4.3.4).
func Popcount64(x uint64) int { return bits.OnesCount64(x) }
