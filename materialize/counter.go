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

package materialize

import "sync/atomic"

// OffsetCounter is the shared atomic next-offset-ID allocator spec.md
// §4.2.2 names as the engine's sole writer-side synchronization point.
// Safe to share across concurrently running materialization tasks.
type OffsetCounter struct {
	value uint32
}

// NewOffsetCounter seeds the counter from record_reader.max_offset_id();
// the first call to Next returns maxOffsetID+1.
func NewOffsetCounter(maxOffsetID uint32) *OffsetCounter {
	return &OffsetCounter{value: maxOffsetID}
}

// Next atomically reserves and returns the next offset_id. Reservations
// that end up unused (e.g. an Add immediately cancelled by a Delete
// within the same chunk) are simply holes in the ID space — spec.md
// §4.2.2 makes this an explicit non-requirement to avoid.
func (c *OffsetCounter) Next() uint32 { return atomic.AddUint32(&c.value, 1) }

// Peek returns the counter's current value without allocating.
func (c *OffsetCounter) Peek() uint32 { return atomic.LoadUint32(&c.value) }
