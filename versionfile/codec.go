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

package versionfile

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal/Unmarshal hand-roll the CollectionVersionFile wire format on
// top of protowire's low-level varint/length-delimited primitives,
// rather than protoc-generated descriptor code: this environment has no
// Go toolchain available to run protoc, but the wire format itself is
// real protobuf (field tags, varints, length-delimited submessages), so
// any standard protobuf decoder reads these bytes correctly.
//
// Field numbers (kept stable -- they are load-bearing on disk):
//
//	CollectionVersionFile:     1=collection_info_immutable, 2=versions (repeated)
//	CollectionInfoImmutable:   1=tenant_id 2=database_id 3=database_name
//	                           4=collection_id 5=collection_name 6=is_deleted
//	                           7=dimension 8=collection_creation_secs
//	VersionInfo:               1=version 2=created_at_secs 3=marked_for_deletion
//	                           4=segment_compaction_info (repeated) 5=version_change_reason
//	                           6=version_file_name
//	SegmentCompactionInfo:     1=segment_id 2=file_paths (repeated map entry)
//	map entry (string->FilePaths): 1=key 2=value
//	FilePaths:                 1=paths (repeated string)

func (f *CollectionVersionFile) Marshal() ([]byte, error) {
	var b []byte
	info := marshalCollectionInfo(&f.CollectionInfoImmutable)
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, info)
	for _, v := range f.Versions {
		vb := marshalVersionInfo(&v)
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, vb)
	}
	return b, nil
}

func (f *CollectionVersionFile) Unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("versionfile: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return fmt.Errorf("versionfile: consume collection_info_immutable: %w", protowire.ParseError(m))
			}
			if err := unmarshalCollectionInfo(&f.CollectionInfoImmutable, v); err != nil {
				return err
			}
			data = data[m:]
		case 2:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return fmt.Errorf("versionfile: consume version: %w", protowire.ParseError(m))
			}
			var vi VersionInfo
			if err := unmarshalVersionInfo(&vi, v); err != nil {
				return err
			}
			f.Versions = append(f.Versions, vi)
			data = data[m:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("versionfile: skip unknown field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

func marshalCollectionInfo(c *CollectionInfoImmutable) []byte {
	var b []byte
	b = appendString(b, 1, c.TenantID)
	b = appendString(b, 2, c.DatabaseID)
	b = appendString(b, 3, c.DatabaseName)
	b = appendString(b, 4, c.CollectionID)
	b = appendString(b, 5, c.CollectionName)
	b = appendBool(b, 6, c.IsDeleted)
	b = appendInt32(b, 7, c.Dimension)
	b = appendInt64(b, 8, c.CollectionCreationSecs)
	return b
}

func unmarshalCollectionInfo(c *CollectionInfoImmutable, data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case 1:
			s, n := protowire.ConsumeString(data)
			c.TenantID = s
			return n, errIfNeg(n)
		case 2:
			s, n := protowire.ConsumeString(data)
			c.DatabaseID = s
			return n, errIfNeg(n)
		case 3:
			s, n := protowire.ConsumeString(data)
			c.DatabaseName = s
			return n, errIfNeg(n)
		case 4:
			s, n := protowire.ConsumeString(data)
			c.CollectionID = s
			return n, errIfNeg(n)
		case 5:
			s, n := protowire.ConsumeString(data)
			c.CollectionName = s
			return n, errIfNeg(n)
		case 6:
			v, n := protowire.ConsumeVarint(data)
			c.IsDeleted = v != 0
			return n, errIfNeg(n)
		case 7:
			v, n := protowire.ConsumeVarint(data)
			c.Dimension = int32(v)
			return n, errIfNeg(n)
		case 8:
			v, n := protowire.ConsumeVarint(data)
			c.CollectionCreationSecs = int64(v)
			return n, errIfNeg(n)
		default:
			return protowire.ConsumeFieldValue(num, typ, data), nil
		}
	})
}

func marshalVersionInfo(v *VersionInfo) []byte {
	var b []byte
	b = appendInt64(b, 1, v.Version)
	b = appendInt64(b, 2, v.CreatedAtSecs)
	b = appendBool(b, 3, v.MarkedForDeletion)
	for _, seg := range v.SegmentCompactionInfo {
		sb := marshalSegmentCompactionInfo(&seg)
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, sb)
	}
	b = appendString(b, 5, v.VersionChangeReason)
	b = appendString(b, 6, v.VersionFileName)
	return b
}

func unmarshalVersionInfo(v *VersionInfo, data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case 1:
			n64, n := protowire.ConsumeVarint(data)
			v.Version = int64(n64)
			return n, errIfNeg(n)
		case 2:
			n64, n := protowire.ConsumeVarint(data)
			v.CreatedAtSecs = int64(n64)
			return n, errIfNeg(n)
		case 3:
			b, n := protowire.ConsumeVarint(data)
			v.MarkedForDeletion = b != 0
			return n, errIfNeg(n)
		case 4:
			sb, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return n, protowire.ParseError(n)
			}
			var sci SegmentCompactionInfo
			if err := unmarshalSegmentCompactionInfo(&sci, sb); err != nil {
				return n, err
			}
			v.SegmentCompactionInfo = append(v.SegmentCompactionInfo, sci)
			return n, nil
		case 5:
			s, n := protowire.ConsumeString(data)
			v.VersionChangeReason = s
			return n, errIfNeg(n)
		case 6:
			s, n := protowire.ConsumeString(data)
			v.VersionFileName = s
			return n, errIfNeg(n)
		default:
			return protowire.ConsumeFieldValue(num, typ, data), nil
		}
	})
}

func marshalSegmentCompactionInfo(s *SegmentCompactionInfo) []byte {
	var b []byte
	b = appendString(b, 1, s.SegmentID)
	for key, paths := range s.FilePaths {
		var entry []byte
		entry = appendString(entry, 1, key)
		var fp []byte
		for _, p := range paths {
			fp = appendString(fp, 1, p)
		}
		entry = protowire.AppendTag(entry, 2, protowire.BytesType)
		entry = protowire.AppendBytes(entry, fp)
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

func unmarshalSegmentCompactionInfo(s *SegmentCompactionInfo, data []byte) error {
	s.FilePaths = make(map[string][]string)
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case 1:
			str, n := protowire.ConsumeString(data)
			s.SegmentID = str
			return n, errIfNeg(n)
		case 2:
			eb, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return n, protowire.ParseError(n)
			}
			var key string
			var paths []string
			if err := walkFields(eb, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
				switch num {
				case 1:
					str, m := protowire.ConsumeString(data)
					key = str
					return m, errIfNeg(m)
				case 2:
					pb, m := protowire.ConsumeBytes(data)
					if m < 0 {
						return m, protowire.ParseError(m)
					}
					if err := walkFields(pb, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
						if num == 1 {
							str, k := protowire.ConsumeString(data)
							paths = append(paths, str)
							return k, errIfNeg(k)
						}
						return protowire.ConsumeFieldValue(num, typ, data), nil
					}); err != nil {
						return m, err
					}
					return m, nil
				default:
					return protowire.ConsumeFieldValue(num, typ, data), nil
				}
			}); err != nil {
				return n, err
			}
			s.FilePaths[key] = paths
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, data), nil
		}
	})
}

// walkFields drives a field-by-field consumer over a length-delimited
// protobuf submessage body.
func walkFields(data []byte, consume func(num protowire.Number, typ protowire.Type, data []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("versionfile: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		m, err := consume(num, typ, data)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("versionfile: consume field %d: %w", num, protowire.ParseError(m))
		}
		data = data[m:]
	}
	return nil
}

func errIfNeg(n int) error {
	if n < 0 {
		return fmt.Errorf("versionfile: %w", protowire.ParseError(n))
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}
