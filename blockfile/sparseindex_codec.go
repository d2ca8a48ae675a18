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
	"bytes"
	"encoding/binary"

	"github.com/embeddb/storecore/errkind"
	"github.com/embeddb/storecore/keyvalue"
)

// encodeSparseIndex / decodeSparseIndex serialize a SparseIndex to the
// object-storage blob stored at segment/{segment_id}/{blockfile_uuid}
// alongside its blocks (spec.md §6.1).
func encodeSparseIndex(idx *SparseIndex) []byte {
	entries := idx.Entries()
	var buf bytes.Buffer
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(entries)))
	buf.Write(n[:])
	for _, e := range entries {
		writeString(&buf, e.MinKey.Prefix)
		writeKey(&buf, e.MinKey.Key)
		idBytes, _ := e.BlockID.MarshalBinary()
		buf.Write(idBytes)
	}
	return buf.Bytes()
}

func decodeSparseIndex(kind keyvalue.KeyKind, raw []byte) (*SparseIndex, error) {
	r := bytes.NewReader(raw)
	var n [4]byte
	if _, err := r.Read(n[:]); err != nil {
		return nil, errkind.Wrap(errkind.Validation, "decodeSparseIndex", err)
	}
	count := binary.LittleEndian.Uint32(n[:])
	idx := &SparseIndex{tree: newSparseTree(), kind: kind}
	for i := uint32(0); i < count; i++ {
		prefix, err := readString(r)
		if err != nil {
			return nil, errkind.Wrap(errkind.Validation, "decodeSparseIndex", err)
		}
		key, err := readKey(r, kind)
		if err != nil {
			return nil, errkind.Wrap(errkind.Validation, "decodeSparseIndex", err)
		}
		idBytes := make([]byte, 16)
		if _, err := r.Read(idBytes); err != nil {
			return nil, errkind.Wrap(errkind.Validation, "decodeSparseIndex", err)
		}
		var id BlockID
		if err := id.UnmarshalBinary(idBytes); err != nil {
			return nil, errkind.Wrap(errkind.Validation, "decodeSparseIndex", err)
		}
		idx.tree.ReplaceOrInsert(sparseEntry{MinKey: keyvalue.NewCompositeKey(prefix, key), BlockID: id})
	}
	return idx, nil
}
