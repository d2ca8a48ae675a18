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

package spann

import (
	"encoding/binary"
	"math"

	"github.com/embeddb/storecore/errkind"
	"github.com/embeddb/storecore/quantize"
)

// encodeCode implements the exact on-disk layout spec.md §6.4 mandates:
// correction, norm, radial as little-endian f32, signed_sum as
// little-endian i32, then the packed sign-bit words, word-aligned so a
// reader can load u64 lanes unconditionally.
func encodeCode(c *quantize.Code) []byte {
	buf := make([]byte, 16+8*len(c.Bits))
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(c.Correction))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(c.Norm))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(c.Radial))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(c.SignedSum))
	for i, w := range c.Bits {
		binary.LittleEndian.PutUint64(buf[16+8*i:24+8*i], w)
	}
	return buf
}

func decodeCode(dim int, raw []byte) (*quantize.Code, error) {
	words := (dim + 63) / 64
	want := 16 + 8*words
	if len(raw) != want {
		return nil, errkind.New(errkind.Validation, "spann.decodeCode", "quantized code length does not match declared dimension")
	}
	c := &quantize.Code{
		Dim:        dim,
		Correction: math.Float32frombits(binary.LittleEndian.Uint32(raw[0:4])),
		Norm:       math.Float32frombits(binary.LittleEndian.Uint32(raw[4:8])),
		Radial:     math.Float32frombits(binary.LittleEndian.Uint32(raw[8:12])),
		SignedSum:  int32(binary.LittleEndian.Uint32(raw[12:16])),
		Bits:       make([]uint64, words),
	}
	for i := range c.Bits {
		c.Bits[i] = binary.LittleEndian.Uint64(raw[16+8*i : 24+8*i])
	}
	return c, nil
}

// encodeFloatVector little-endian packs a raw f32 vector (raw_centroid
// rows, embedding_metadata center vectors).
func encodeFloatVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:4*i+4], math.Float32bits(f))
	}
	return buf
}

func decodeFloatVector(dim int, raw []byte) ([]float32, error) {
	if len(raw) != 4*dim {
		return nil, errkind.New(errkind.Validation, "spann.decodeFloatVector", "float vector length does not match declared dimension")
	}
	out := make([]float32, dim)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i : 4*i+4]))
	}
	return out, nil
}

// ClusterMember is one point's packed code plus the cluster-local version
// it was written at, embedded so a scan can filter staleness without a
// second lookup for the common case (spec.md §4.3.6).
type ClusterMember struct {
	PointID uint32
	Version uint32
	Code    *quantize.Code
}

// QuantizedCluster is the quantized_cluster blockfile's value shape: one
// cluster's full membership, packed codes and all (spec.md §4.3.5).
type QuantizedCluster struct {
	Dim     int
	Members []ClusterMember
}

// encodeCluster serializes a QuantizedCluster as
// [dim u32][count u32]{[point_id u32][version u32][code...]}*count.
func encodeCluster(qc *QuantizedCluster) []byte {
	codeLen := 16 + 8*((qc.Dim+63)/64)
	buf := make([]byte, 8+len(qc.Members)*(8+codeLen))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(qc.Dim))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(qc.Members)))
	off := 8
	for _, m := range qc.Members {
		binary.LittleEndian.PutUint32(buf[off:off+4], m.PointID)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], m.Version)
		copy(buf[off+8:off+8+codeLen], encodeCode(m.Code))
		off += 8 + codeLen
	}
	return buf
}

func decodeCluster(raw []byte) (*QuantizedCluster, error) {
	if len(raw) < 8 {
		return nil, errkind.New(errkind.Validation, "spann.decodeCluster", "truncated cluster header")
	}
	dim := int(binary.LittleEndian.Uint32(raw[0:4]))
	count := int(binary.LittleEndian.Uint32(raw[4:8]))
	codeLen := 16 + 8*((dim+63)/64)
	off := 8
	members := make([]ClusterMember, 0, count)
	for i := 0; i < count; i++ {
		if off+8+codeLen > len(raw) {
			return nil, errkind.New(errkind.Validation, "spann.decodeCluster", "truncated cluster member")
		}
		pointID := binary.LittleEndian.Uint32(raw[off : off+4])
		version := binary.LittleEndian.Uint32(raw[off+4 : off+8])
		code, err := decodeCode(dim, raw[off+8:off+8+codeLen])
		if err != nil {
			return nil, err
		}
		members = append(members, ClusterMember{PointID: pointID, Version: version, Code: code})
		off += 8 + codeLen
	}
	return &QuantizedCluster{Dim: dim, Members: members}, nil
}
