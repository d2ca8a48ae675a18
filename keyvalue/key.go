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

// Package keyvalue holds the scalar containers shared by every blockfile:
// the typed composite key, the typed value union, the data record row
// shape, and the Where filter-predicate AST.
package keyvalue

import (
	"fmt"
	"math"
)

// KeyKind tags which variant a KeyWrapper holds.
type KeyKind uint8

const (
	KeyBool KeyKind = iota
	KeyUInt32
	KeyFloat32
	KeyStr
)

func (k KeyKind) String() string {
	switch k {
	case KeyBool:
		return "bool"
	case KeyUInt32:
		return "uint32"
	case KeyFloat32:
		return "float32"
	case KeyStr:
		return "str"
	default:
		return "unknown"
	}
}

// KeyWrapper is a closed sum type over the four key types a blockfile may
// be indexed by. Zero value is the Bool(false) variant; construct with
// the Key* helpers instead of a literal.
type KeyWrapper struct {
	kind KeyKind
	b    bool
	u32  uint32
	f32  float32
	str  string
}

func KeyFromBool(v bool) KeyWrapper    { return KeyWrapper{kind: KeyBool, b: v} }
func KeyFromUInt32(v uint32) KeyWrapper { return KeyWrapper{kind: KeyUInt32, u32: v} }
func KeyFromStr(v string) KeyWrapper   { return KeyWrapper{kind: KeyStr, str: v} }

// KeyFromFloat32 panics on NaN: NaN keys are forbidden by spec.md §3
// ("ordering is lexicographic ... NaN is forbidden").
func KeyFromFloat32(v float32) KeyWrapper {
	if math.IsNaN(float64(v)) {
		panic("keyvalue: NaN is not a valid key")
	}
	return KeyWrapper{kind: KeyFloat32, f32: v}
}

func (k KeyWrapper) Kind() KeyKind { return k.kind }
func (k KeyWrapper) Bool() bool    { return k.b }
func (k KeyWrapper) UInt32() uint32 { return k.u32 }
func (k KeyWrapper) Float32() float32 { return k.f32 }
func (k KeyWrapper) Str() string   { return k.str }

// Compare returns <0, 0, >0. Keys of different kinds compare by kind
// ordinal first; a well-formed blockfile never mixes kinds within one
// sparse index, but CompositeKey.Compare must still total-order mixed
// input defensively.
func (k KeyWrapper) Compare(o KeyWrapper) int {
	if k.kind != o.kind {
		return int(k.kind) - int(o.kind)
	}
	switch k.kind {
	case KeyBool:
		if k.b == o.b {
			return 0
		}
		if !k.b {
			return -1
		}
		return 1
	case KeyUInt32:
		switch {
		case k.u32 < o.u32:
			return -1
		case k.u32 > o.u32:
			return 1
		default:
			return 0
		}
	case KeyFloat32:
		switch {
		case k.f32 < o.f32:
			return -1
		case k.f32 > o.f32:
			return 1
		default:
			return 0
		}
	case KeyStr:
		switch {
		case k.str < o.str:
			return -1
		case k.str > o.str:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

func (k KeyWrapper) String() string {
	switch k.kind {
	case KeyBool:
		return fmt.Sprintf("%t", k.b)
	case KeyUInt32:
		return fmt.Sprintf("%d", k.u32)
	case KeyFloat32:
		return fmt.Sprintf("%g", k.f32)
	case KeyStr:
		return k.str
	default:
		return "<invalid key>"
	}
}

// CompositeKey is the universal blockfile key: an intra-collection
// namespace prefix plus a typed key, ordered lexicographically on prefix
// then on the typed key (spec.md §3).
type CompositeKey struct {
	Prefix string
	Key    KeyWrapper
}

func NewCompositeKey(prefix string, key KeyWrapper) CompositeKey {
	return CompositeKey{Prefix: prefix, Key: key}
}

func (c CompositeKey) Compare(o CompositeKey) int {
	if c.Prefix != o.Prefix {
		if c.Prefix < o.Prefix {
			return -1
		}
		return 1
	}
	return c.Key.Compare(o.Key)
}

func (c CompositeKey) Less(o CompositeKey) bool { return c.Compare(o) < 0 }

func (c CompositeKey) String() string {
	return fmt.Sprintf("%s/%s", c.Prefix, c.Key.String())
}

// MinSentinel returns the smallest possible CompositeKey for a key kind
// (empty prefix, smallest key of that kind), used as the sparse index's leftmost lower bound
// (spec.md §3 "the entry for the leftmost block has a sentinel minimum
// key").
func MinSentinel(kind KeyKind) CompositeKey {
	var k KeyWrapper
	switch kind {
	case KeyBool:
		k = KeyFromBool(false)
	case KeyUInt32:
		k = KeyFromUInt32(0)
	case KeyFloat32:
		k = KeyFromFloat32(float32(math.Inf(-1)))
	case KeyStr:
		k = KeyFromStr("")
	}
	return CompositeKey{Prefix: "", Key: k}
}
