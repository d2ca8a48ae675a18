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

package keyvalue

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompositeKeyOrdering(t *testing.T) {
	keys := []CompositeKey{
		NewCompositeKey("p", KeyFromUInt32(3)),
		NewCompositeKey("p", KeyFromUInt32(1)),
		NewCompositeKey("a", KeyFromUInt32(100)),
		NewCompositeKey("p", KeyFromUInt32(2)),
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	require.Equal(t, "a", keys[0].Prefix)
	require.Equal(t, uint32(1), keys[1].Key.UInt32())
	require.Equal(t, uint32(2), keys[2].Key.UInt32())
	require.Equal(t, uint32(3), keys[3].Key.UInt32())
}

func TestKeyFromFloat32RejectsNaN(t *testing.T) {
	require.Panics(t, func() {
		KeyFromFloat32(float32(math.NaN()))
	})
}

func TestMinSentinelIsSmallest(t *testing.T) {
	sentinel := MinSentinel(KeyUInt32)
	other := NewCompositeKey("p", KeyFromUInt32(0))
	require.True(t, sentinel.Less(other) || sentinel.Compare(other) == 0)
}
