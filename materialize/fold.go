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

import (
	"context"

	"github.com/embeddb/storecore/keyvalue"
)

// SnapshotReader is the narrow slice of segment.RecordReader the folding
// algorithm needs. Kept as an interface so fold tests can supply an
// in-memory fake instead of a real blockfile-backed segment.
type SnapshotReader interface {
	OffsetIDForUser(ctx context.Context, userID string) (uint32, bool, error)
	DataForOffsetID(ctx context.Context, offsetID uint32) (*keyvalue.DataRecord, error)
}

// userFold accumulates one user_id's running state across a chunk's
// ordered records (spec.md §4.2.2 "multi-op fold per user_id within one
// chunk collapses to a single terminal materialized record").
type userFold struct {
	existedBefore bool
	exists        bool
	terminal      *MaterializedOp

	offsetID        uint32
	offsetAllocated bool

	embedding []float32
	document  *string
	metadata  keyvalue.Metadata

	previous *keyvalue.DataRecord
}

func newUserFold(ctx context.Context, userID string, reader SnapshotReader) (*userFold, error) {
	f := &userFold{metadata: keyvalue.Metadata{}}
	offsetID, ok, err := reader.OffsetIDForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return f, nil
	}
	rec, err := reader.DataForOffsetID(ctx, offsetID)
	if err != nil {
		return nil, err
	}
	f.existedBefore = true
	f.exists = true
	f.offsetID = offsetID
	f.offsetAllocated = true
	f.previous = rec.Clone()
	f.embedding = append([]float32(nil), rec.Embedding...)
	f.document = rec.Document
	meta, err := keyvalue.DecodeMetadata(rec.Metadata)
	if err != nil {
		return nil, err
	}
	f.metadata = meta
	return f, nil
}

func (f *userFold) applyAdd(rec LogRecord) {
	if f.exists {
		return // Add-on-existing is a no-op (spec.md §4.2.2).
	}
	op := AddNew
	f.terminal = &op
	f.embedding = append([]float32(nil), rec.Embedding...)
	f.document = nil
	if rec.Document != nil {
		f.document = rec.Document.Value
	}
	f.metadata = metadataFromDelta(keyvalue.Metadata{}, rec.MetadataDelta)
	f.exists = true
}

func (f *userFold) applyUpsert(rec LogRecord) {
	op := OverwriteExisting
	if !f.exists {
		op = AddNew
	} else if f.terminal != nil && *f.terminal == AddNew {
		op = AddNew // still a same-chunk creation; keep the AddNew label.
	}
	f.terminal = &op
	f.embedding = append([]float32(nil), rec.Embedding...)
	f.document = nil
	if rec.Document != nil {
		f.document = rec.Document.Value
	}
	f.metadata = metadataFromDelta(keyvalue.Metadata{}, rec.MetadataDelta)
	f.exists = true
}

func (f *userFold) applyUpdate(rec LogRecord) {
	if !f.exists {
		return // Update on a nonexistent row is a no-op (spec.md §4.2.2).
	}
	if f.terminal == nil {
		op := UpdateExisting
		f.terminal = &op
	}
	if rec.Embedding != nil {
		f.embedding = append([]float32(nil), rec.Embedding...)
	}
	if rec.Document != nil {
		f.document = rec.Document.Value
	}
	f.metadata = metadataFromDelta(f.metadata, rec.MetadataDelta)
}

func (f *userFold) applyDelete() {
	if !f.exists {
		return // Delete on a nonexistent row is a no-op (spec.md §4.2.2).
	}
	op := DeleteExisting
	f.terminal = &op
	f.exists = false
}

func metadataFromDelta(base keyvalue.Metadata, delta MetadataDelta) keyvalue.Metadata {
	out := make(keyvalue.Metadata, len(base)+len(delta))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range delta {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = *v
	}
	return out
}

// Materialize folds records (already split by the caller into per-chunk
// groups as the log service delivers them) against reader's snapshot,
// allocating fresh offset_ids from counter for every row that becomes
// newly visible (spec.md §4.2).
func Materialize(ctx context.Context, records []LogRecord, reader SnapshotReader, counter *OffsetCounter) ([]MaterializedLogRecord, error) {
	order := make([]string, 0)
	byUser := make(map[string][]LogRecord)
	for _, r := range records {
		if _, ok := byUser[r.UserID]; !ok {
			order = append(order, r.UserID)
		}
		byUser[r.UserID] = append(byUser[r.UserID], r)
	}

	out := make([]MaterializedLogRecord, 0, len(order))
	for _, userID := range order {
		fold, err := newUserFold(ctx, userID, reader)
		if err != nil {
			return nil, err
		}
		for _, rec := range byUser[userID] {
			switch rec.Operation {
			case Add:
				fold.applyAdd(rec)
			case Upsert:
				fold.applyUpsert(rec)
			case Update:
				fold.applyUpdate(rec)
			case Delete:
				fold.applyDelete()
			}
		}

		if fold.terminal == nil {
			continue
		}
		if *fold.terminal == DeleteExisting && !fold.existedBefore {
			continue // Add-then-Delete within one chunk collapses to nothing.
		}
		if !fold.offsetAllocated {
			fold.offsetID = counter.Next()
			fold.offsetAllocated = true
		}

		mr := MaterializedLogRecord{
			OffsetID:           fold.offsetID,
			UserID:             userID,
			Op:                 *fold.terminal,
			MergedEmbedding:    fold.embedding,
			MergedDocument:     fold.document,
			MergedMetadata:     fold.metadata,
			PreviousDataRecord: fold.previous,
		}
		out = append(out, mr)
	}
	return out, nil
}
