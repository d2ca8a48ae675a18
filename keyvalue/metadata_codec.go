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
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeMetadata serializes m into the opaque blob DataRecord.Metadata
// carries on disk. Only the four scalar Value kinds a metadata row can
// hold are supported (spec.md §3); arrays, bitmaps and nested records
// never appear in a metadata map.
func EncodeMetadata(m Metadata) []byte {
	var buf bytes.Buffer
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(m)))
	buf.Write(n[:])
	for k, v := range m {
		writeMetaString(&buf, k)
		buf.WriteByte(byte(v.Kind()))
		switch v.Kind() {
		case ValueStr:
			writeMetaString(&buf, v.Str())
		case ValueUInt32:
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], v.UInt32())
			buf.Write(b[:])
		case ValueFloat32:
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(v.Float32()))
			buf.Write(b[:])
		case ValueBool:
			if v.Bool() {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		}
	}
	return buf.Bytes()
}

// DecodeMetadata is EncodeMetadata's inverse. An empty or nil blob
// decodes to an empty Metadata map.
func DecodeMetadata(raw []byte) (Metadata, error) {
	if len(raw) == 0 {
		return Metadata{}, nil
	}
	r := bytes.NewReader(raw)
	var n [4]byte
	if _, err := r.Read(n[:]); err != nil {
		return nil, err
	}
	count := binary.LittleEndian.Uint32(n[:])
	out := make(Metadata, count)
	for i := uint32(0); i < count; i++ {
		key, err := readMetaString(r)
		if err != nil {
			return nil, err
		}
		kindByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch ValueKind(kindByte) {
		case ValueStr:
			s, err := readMetaString(r)
			if err != nil {
				return nil, err
			}
			out[key] = ValueOfStr(s)
		case ValueUInt32:
			var b [4]byte
			if _, err := r.Read(b[:]); err != nil {
				return nil, err
			}
			out[key] = ValueOfUInt32(binary.LittleEndian.Uint32(b[:]))
		case ValueFloat32:
			var b [4]byte
			if _, err := r.Read(b[:]); err != nil {
				return nil, err
			}
			out[key] = ValueOfFloat32(math.Float32frombits(binary.LittleEndian.Uint32(b[:])))
		case ValueBool:
			b, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			out[key] = ValueOfBool(b != 0)
		default:
			return nil, fmt.Errorf("keyvalue: unsupported metadata value kind %d", kindByte)
		}
	}
	return out, nil
}

func writeMetaString(buf *bytes.Buffer, s string) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
	buf.Write(n[:])
	buf.WriteString(s)
}

func readMetaString(r *bytes.Reader) (string, error) {
	var n [4]byte
	if _, err := r.Read(n[:]); err != nil {
		return "", err
	}
	ln := binary.LittleEndian.Uint32(n[:])
	b := make([]byte, ln)
	if ln > 0 {
		if _, err := r.Read(b); err != nil {
			return "", err
		}
	}
	return string(b), nil
}
