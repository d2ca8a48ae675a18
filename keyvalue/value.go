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
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// ValueKind tags which variant a Value holds. A blockfile is typed by a
// single ValueKind for the lifetime of its writer/reader (spec.md §4.1.1
// "the writer is polymorphic over value kind ... use a tagged variant
// with one branch per kind").
type ValueKind uint8

const (
	ValueStr ValueKind = iota
	ValueUInt32
	ValueFloat32
	ValueBool
	ValueInt32Array
	ValueRoaringBitmap
	ValueDataRecord
)

func (v ValueKind) String() string {
	switch v {
	case ValueStr:
		return "str"
	case ValueUInt32:
		return "uint32"
	case ValueFloat32:
		return "float32"
	case ValueBool:
		return "bool"
	case ValueInt32Array:
		return "int32_array"
	case ValueRoaringBitmap:
		return "roaring_bitmap"
	case ValueDataRecord:
		return "data_record"
	default:
		return "unknown"
	}
}

// Value is the closed sum type stored against a CompositeKey.
type Value struct {
	kind    ValueKind
	str     string
	u32     uint32
	f32     float32
	b       bool
	i32s    []int32
	bitmap  *roaring.Bitmap
	record  *DataRecord
}

func ValueOfStr(v string) Value        { return Value{kind: ValueStr, str: v} }
func ValueOfUInt32(v uint32) Value     { return Value{kind: ValueUInt32, u32: v} }
func ValueOfFloat32(v float32) Value   { return Value{kind: ValueFloat32, f32: v} }
func ValueOfBool(v bool) Value         { return Value{kind: ValueBool, b: v} }
func ValueOfInt32Array(v []int32) Value {
	return Value{kind: ValueInt32Array, i32s: append([]int32(nil), v...)}
}
func ValueOfRoaringBitmap(v *roaring.Bitmap) Value {
	return Value{kind: ValueRoaringBitmap, bitmap: v}
}
func ValueOfDataRecord(v *DataRecord) Value { return Value{kind: ValueDataRecord, record: v} }

func (v Value) Kind() ValueKind           { return v.kind }
func (v Value) Str() string               { return v.str }
func (v Value) UInt32() uint32            { return v.u32 }
func (v Value) Float32() float32          { return v.f32 }
func (v Value) Bool() bool                { return v.b }
func (v Value) Int32Array() []int32       { return v.i32s }
func (v Value) RoaringBitmap() *roaring.Bitmap { return v.bitmap }
func (v Value) DataRecord() *DataRecord   { return v.record }

// EncodedLen returns the in-memory serialized byte size of v, length
// prefixes included, used by the block delta to decide whether it must
// split (spec.md §4.1.4 "sizing predicates must precisely compute
// in-memory serialized bytes before commit, because split decisions
// depend on them").
func (v Value) EncodedLen() int {
	switch v.kind {
	case ValueStr:
		return 4 + len(v.str)
	case ValueUInt32, ValueFloat32:
		return 4
	case ValueBool:
		return 1
	case ValueInt32Array:
		return 4 + 4*len(v.i32s)
	case ValueRoaringBitmap:
		if v.bitmap == nil {
			return 0
		}
		return 4 + int(v.bitmap.GetSerializedSizeInBytes())
	case ValueDataRecord:
		return v.record.EncodedLen()
	default:
		return 0
	}
}

func (v Value) String() string {
	switch v.kind {
	case ValueStr:
		return v.str
	case ValueUInt32:
		return fmt.Sprintf("%d", v.u32)
	case ValueFloat32:
		return fmt.Sprintf("%g", v.f32)
	case ValueBool:
		return fmt.Sprintf("%t", v.b)
	case ValueInt32Array:
		return fmt.Sprintf("%v", v.i32s)
	case ValueRoaringBitmap:
		if v.bitmap == nil {
			return "{}"
		}
		return v.bitmap.String()
	case ValueDataRecord:
		return v.record.String()
	default:
		return "<invalid value>"
	}
}

// DataRecord is the structured row the record segment stores: a live
// record's user-facing identity plus its raw embedding. The vector
// segment never stores DataRecords directly — only quantized codes
// (spec.md §3 "raw embeddings live only in the record segment").
type DataRecord struct {
	UserID    string
	Embedding []float32
	Metadata  []byte // opaque, encoded by the metadata codec; nil if absent
	Document  *string
}

// EncodedLen is the serialized size of the record's {id, embedding,
// metadata?, document?} layout, length prefixes and the document
// presence byte included (spec.md §4.1.4).
func (d *DataRecord) EncodedLen() int {
	if d == nil {
		return 0
	}
	n := 4 + len(d.UserID) + 4 + 4*len(d.Embedding) + 4 + len(d.Metadata) + 1
	if d.Document != nil {
		n += 4 + len(*d.Document)
	}
	return n
}

func (d *DataRecord) String() string {
	if d == nil {
		return "<nil>"
	}
	return fmt.Sprintf("DataRecord{user_id:%q, dim:%d}", d.UserID, len(d.Embedding))
}

// Clone returns a deep copy, used when the materializer pins a "previous
// data record" reference that must outlive the reader's block cache
// eviction (spec.md §9).
func (d *DataRecord) Clone() *DataRecord {
	if d == nil {
		return nil
	}
	out := &DataRecord{
		UserID:    d.UserID,
		Embedding: append([]float32(nil), d.Embedding...),
	}
	if d.Metadata != nil {
		out.Metadata = append([]byte(nil), d.Metadata...)
	}
	if d.Document != nil {
		doc := *d.Document
		out.Document = &doc
	}
	return out
}
