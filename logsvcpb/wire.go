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

// Package logsvcpb is the narrow gRPC client boundary to the log service
// (spec.md §1 "out of scope ... collaborators through narrow interfaces",
// §2 "an external scheduler ... pulls [last_compacted_offset+1, head]
// from the log"). Wire types use the same hand-rolled protowire encoding
// versionfile and sysdbpb use, for the same no-codegen-toolchain reason.
package logsvcpb

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/embeddb/storecore/materialize"
)

type pullLogsRequest struct {
	CollectionID string
	StartOffset  int64
	BatchSize    int32
}

func (r *pullLogsRequest) Marshal() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, r.CollectionID)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.StartOffset))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.BatchSize))
	return b, nil
}

func (r *pullLogsRequest) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case 1:
			s, n := protowire.ConsumeString(data)
			r.CollectionID = s
			return n, errIfNeg(n)
		case 2:
			v, n := protowire.ConsumeVarint(data)
			r.StartOffset = int64(v)
			return n, errIfNeg(n)
		case 3:
			v, n := protowire.ConsumeVarint(data)
			r.BatchSize = int32(v)
			return n, errIfNeg(n)
		default:
			return protowire.ConsumeFieldValue(num, typ, data), nil
		}
	})
}

// logRecordWire mirrors materialize.LogRecord's fields that cross the
// wire: offset, operation, user id, embedding and document. An empty
// embedding or a nil document means "unchanged"; a document delete is
// not distinguished from "unchanged", and metadata deltas are not carried.
type logRecordWire struct {
	LogOffset uint64
	Operation int32
	UserID    string
	Embedding []byte // little-endian f32s, empty means "unchanged"
	Document  *string
}

type pullLogsResponse struct {
	Records       []logRecordWire
	HighWatermark int64
}

func (r *pullLogsResponse) Marshal() ([]byte, error) {
	var b []byte
	for _, rec := range r.Records {
		rb := marshalLogRecord(&rec)
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, rb)
	}
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.HighWatermark))
	return b, nil
}

func (r *pullLogsResponse) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case 1:
			rb, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return n, protowire.ParseError(n)
			}
			var rec logRecordWire
			if err := unmarshalLogRecord(&rec, rb); err != nil {
				return n, err
			}
			r.Records = append(r.Records, rec)
			return n, nil
		case 2:
			v, n := protowire.ConsumeVarint(data)
			r.HighWatermark = int64(v)
			return n, errIfNeg(n)
		default:
			return protowire.ConsumeFieldValue(num, typ, data), nil
		}
	})
}

func marshalLogRecord(r *logRecordWire) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, r.LogOffset)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Operation))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, r.UserID)
	if len(r.Embedding) > 0 {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Embedding)
	}
	if r.Document != nil {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, *r.Document)
	}
	return b
}

func unmarshalLogRecord(r *logRecordWire, data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			r.LogOffset = v
			return n, errIfNeg(n)
		case 2:
			v, n := protowire.ConsumeVarint(data)
			r.Operation = int32(v)
			return n, errIfNeg(n)
		case 3:
			s, n := protowire.ConsumeString(data)
			r.UserID = s
			return n, errIfNeg(n)
		case 4:
			v, n := protowire.ConsumeBytes(data)
			r.Embedding = append([]byte(nil), v...)
			return n, errIfNeg(n)
		case 5:
			s, n := protowire.ConsumeString(data)
			doc := s
			r.Document = &doc
			return n, errIfNeg(n)
		default:
			return protowire.ConsumeFieldValue(num, typ, data), nil
		}
	})
}

func toLogRecord(w logRecordWire) materialize.LogRecord {
	rec := materialize.LogRecord{
		LogOffset: w.LogOffset,
		Operation: materialize.Operation(w.Operation),
		UserID:    w.UserID,
		Document:  nil,
	}
	if len(w.Embedding) > 0 {
		rec.Embedding = decodeFloats(w.Embedding)
	}
	if w.Document != nil {
		rec.Document = &materialize.StringDelta{Value: w.Document}
	}
	return rec
}

func fromLogRecord(r materialize.LogRecord) logRecordWire {
	w := logRecordWire{
		LogOffset: r.LogOffset,
		Operation: int32(r.Operation),
		UserID:    r.UserID,
	}
	if r.Embedding != nil {
		w.Embedding = encodeFloats(r.Embedding)
	}
	if r.Document != nil {
		w.Document = r.Document.Value
	}
	return w
}

func encodeFloats(fs []float32) []byte {
	b := make([]byte, 4*len(fs))
	for i, f := range fs {
		bits := math.Float32bits(f)
		b[4*i+0] = byte(bits)
		b[4*i+1] = byte(bits >> 8)
		b[4*i+2] = byte(bits >> 16)
		b[4*i+3] = byte(bits >> 24)
	}
	return b
}

func decodeFloats(b []byte) []float32 {
	n := len(b) / 4
	fs := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(b[4*i]) | uint32(b[4*i+1])<<8 | uint32(b[4*i+2])<<16 | uint32(b[4*i+3])<<24
		fs[i] = math.Float32frombits(bits)
	}
	return fs
}

func walkFields(data []byte, consume func(num protowire.Number, typ protowire.Type, data []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("logsvcpb: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		m, err := consume(num, typ, data)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("logsvcpb: consume field %d: %w", num, protowire.ParseError(m))
		}
		data = data[m:]
	}
	return nil
}

func errIfNeg(n int) error {
	if n < 0 {
		return fmt.Errorf("logsvcpb: %w", protowire.ParseError(n))
	}
	return nil
}
