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

package sysdbpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// batchGetSoftDeleteRequest / Response cover
// BatchGetCollectionSoftDeleteStatus (spec.md §4.4.6 "ConstructGraph").
type batchGetSoftDeleteRequest struct {
	CollectionIDs []string
}

func (r *batchGetSoftDeleteRequest) Marshal() ([]byte, error) {
	var b []byte
	for _, id := range r.CollectionIDs {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, id)
	}
	return b, nil
}

func (r *batchGetSoftDeleteRequest) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		if num == 1 {
			s, n := protowire.ConsumeString(data)
			r.CollectionIDs = append(r.CollectionIDs, s)
			return n, errIfNeg(n)
		}
		return protowire.ConsumeFieldValue(num, typ, data), nil
	})
}

type softDeleteEntry struct {
	CollectionID string
	IsSoftDeleted bool
}

type batchGetSoftDeleteResponse struct {
	Entries []softDeleteEntry
}

func (r *batchGetSoftDeleteResponse) Marshal() ([]byte, error) {
	var b []byte
	for _, e := range r.Entries {
		var eb []byte
		eb = protowire.AppendTag(eb, 1, protowire.BytesType)
		eb = protowire.AppendString(eb, e.CollectionID)
		if e.IsSoftDeleted {
			eb = protowire.AppendTag(eb, 2, protowire.VarintType)
			eb = protowire.AppendVarint(eb, 1)
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, eb)
	}
	return b, nil
}

func (r *batchGetSoftDeleteResponse) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		if num != 1 {
			return protowire.ConsumeFieldValue(num, typ, data), nil
		}
		eb, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return n, protowire.ParseError(n)
		}
		var e softDeleteEntry
		if err := walkFields(eb, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
			switch num {
			case 1:
				s, m := protowire.ConsumeString(data)
				e.CollectionID = s
				return m, errIfNeg(m)
			case 2:
				v, m := protowire.ConsumeVarint(data)
				e.IsSoftDeleted = v != 0
				return m, errIfNeg(m)
			default:
				return protowire.ConsumeFieldValue(num, typ, data), nil
			}
		}); err != nil {
			return n, err
		}
		r.Entries = append(r.Entries, e)
		return n, nil
	})
}

// versionListRequest covers MarkVersionsForDeletion / DeleteVersions
// (spec.md §4.4.5, §4.4.6).
type versionListRequest struct {
	TenantID     string
	DatabaseID   string
	CollectionID string
	Versions     []int64
}

func (r *versionListRequest) Marshal() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, r.TenantID)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, r.DatabaseID)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, r.CollectionID)
	for _, v := range r.Versions {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v))
	}
	return b, nil
}

func (r *versionListRequest) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case 1:
			s, n := protowire.ConsumeString(data)
			r.TenantID = s
			return n, errIfNeg(n)
		case 2:
			s, n := protowire.ConsumeString(data)
			r.DatabaseID = s
			return n, errIfNeg(n)
		case 3:
			s, n := protowire.ConsumeString(data)
			r.CollectionID = s
			return n, errIfNeg(n)
		case 4:
			v, n := protowire.ConsumeVarint(data)
			r.Versions = append(r.Versions, int64(v))
			return n, errIfNeg(n)
		default:
			return protowire.ConsumeFieldValue(num, typ, data), nil
		}
	})
}

type emptyResponse struct{}

func (*emptyResponse) Marshal() ([]byte, error)  { return nil, nil }
func (*emptyResponse) Unmarshal(_ []byte) error { return nil }

// finishCollectionDeletionRequest covers FinishCollectionDeletion (spec.md
// §4.4.5).
type finishCollectionDeletionRequest struct {
	TenantID     string
	DatabaseName string
	CollectionID string
}

func (r *finishCollectionDeletionRequest) Marshal() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, r.TenantID)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, r.DatabaseName)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, r.CollectionID)
	return b, nil
}

func (r *finishCollectionDeletionRequest) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case 1:
			s, n := protowire.ConsumeString(data)
			r.TenantID = s
			return n, errIfNeg(n)
		case 2:
			s, n := protowire.ConsumeString(data)
			r.DatabaseName = s
			return n, errIfNeg(n)
		case 3:
			s, n := protowire.ConsumeString(data)
			r.CollectionID = s
			return n, errIfNeg(n)
		default:
			return protowire.ConsumeFieldValue(num, typ, data), nil
		}
	})
}

func walkFields(data []byte, consume func(num protowire.Number, typ protowire.Type, data []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("sysdbpb: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		m, err := consume(num, typ, data)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("sysdbpb: consume field %d: %w", num, protowire.ParseError(m))
		}
		data = data[m:]
	}
	return nil
}

func errIfNeg(n int) error {
	if n < 0 {
		return fmt.Errorf("sysdbpb: %w", protowire.ParseError(n))
	}
	return nil
}
