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

package blockfile

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

func float32bits(f float32) uint32    { return math.Float32bits(f) }
func float32frombits(u uint32) float32 { return math.Float32frombits(u) }

func bitmapFromBytes(raw []byte) (*roaring.Bitmap, error) {
	bm := roaring.New()
	if len(raw) == 0 {
		return bm, nil
	}
	if err := bm.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return bm, nil
}
