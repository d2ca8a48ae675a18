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

// Package segment is the record segment: the four-blockfile façade that
// holds a collection's live (user_id, offset_id, DataRecord) rows, plus
// the metadata segment's inverted index. The vector segment lives in
// package spann.
package segment

import (
	"context"

	"github.com/google/uuid"

	"github.com/embeddb/storecore/blockfile"
	"github.com/embeddb/storecore/errkind"
	"github.com/embeddb/storecore/keyvalue"
)

const maxOffsetIDKey = "max_offset_id"

// BlockfileIDs names the four blockfiles a record segment is backed by
// (spec.md §4.2.3).
type BlockfileIDs struct {
	UserIDToOffsetID   blockfile.BlockfileID
	OffsetIDToUserID   blockfile.BlockfileID
	OffsetIDToData     blockfile.BlockfileID
	MaxOffsetID        blockfile.BlockfileID
}

// RecordReader is a read-only, point-in-time view of a record segment.
type RecordReader struct {
	userIDToOffsetID *blockfile.Reader
	offsetIDToUserID *blockfile.Reader
	offsetIDToData   *blockfile.Reader
	maxOffsetID      *blockfile.Reader
}

// OpenRecordReader opens all four blockfiles comprising ids at segmentPath.
func OpenRecordReader(ctx context.Context, provider *blockfile.Provider, segmentPath string, ids BlockfileIDs) (*RecordReader, error) {
	u2o, err := blockfile.OpenReader(ctx, provider, segmentPath, keyvalue.KeyStr, ids.UserIDToOffsetID)
	if err != nil {
		return nil, err
	}
	o2u, err := blockfile.OpenReader(ctx, provider, segmentPath, keyvalue.KeyUInt32, ids.OffsetIDToUserID)
	if err != nil {
		return nil, err
	}
	o2d, err := blockfile.OpenReader(ctx, provider, segmentPath, keyvalue.KeyUInt32, ids.OffsetIDToData)
	if err != nil {
		return nil, err
	}
	mo, err := blockfile.OpenReader(ctx, provider, segmentPath, keyvalue.KeyStr, ids.MaxOffsetID)
	if err != nil {
		return nil, err
	}
	return &RecordReader{userIDToOffsetID: u2o, offsetIDToUserID: o2u, offsetIDToData: o2d, maxOffsetID: mo}, nil
}

// OffsetIDForUser resolves a user_id to its offset_id.
func (r *RecordReader) OffsetIDForUser(ctx context.Context, userID string) (uint32, bool, error) {
	v, ok, err := r.userIDToOffsetID.Get(ctx, "", keyvalue.KeyFromStr(userID))
	if err != nil || !ok {
		return 0, ok, err
	}
	return v.UInt32(), true, nil
}

// UserForOffsetID resolves an offset_id back to its user_id.
func (r *RecordReader) UserForOffsetID(ctx context.Context, offsetID uint32) (string, bool, error) {
	v, ok, err := r.offsetIDToUserID.Get(ctx, "", keyvalue.KeyFromUInt32(offsetID))
	if err != nil || !ok {
		return "", ok, err
	}
	return v.Str(), true, nil
}

// DataForOffsetID returns the live DataRecord for offsetID. Absence is a
// Validation error, not a plain miss, and so is a stored record whose id
// or embedding is empty. A row tombstoned by a DeleteExisting is absent
// too (spec.md §4.2.3).
func (r *RecordReader) DataForOffsetID(ctx context.Context, offsetID uint32) (*keyvalue.DataRecord, error) {
	v, ok, err := r.offsetIDToData.Get(ctx, "", keyvalue.KeyFromUInt32(offsetID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errkind.New(errkind.Validation, "RecordReader.DataForOffsetID", "offset_id has no live data record")
	}
	rec := v.DataRecord()
	if rec == nil || rec.UserID == "" || len(rec.Embedding) == 0 {
		return nil, errkind.New(errkind.Validation, "RecordReader.DataForOffsetID", "data record is missing its id or embedding")
	}
	return rec, nil
}

// MaxOffsetID returns the highest offset_id ever committed, or 0 if the
// segment has never received a write. The materializer seeds its shared
// atomic counter from this value + 1 (spec.md §4.2.2).
func (r *RecordReader) MaxOffsetID(ctx context.Context) (uint32, error) {
	v, ok, err := r.maxOffsetID.Get(ctx, "", keyvalue.KeyFromStr(maxOffsetIDKey))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return v.UInt32(), nil
}

// RecordWriter applies a materialized chunk to forked copies of all four
// blockfiles (spec.md §4.2.3).
type RecordWriter struct {
	userIDToOffsetID *blockfile.Writer
	offsetIDToUserID *blockfile.Writer
	offsetIDToData   *blockfile.Writer
	maxOffsetID      *blockfile.Writer

	maxNewOffsetID uint32
	sawNewOffsetID bool
}

// NewRecordWriter forks all four blockfiles of a parent record segment.
// If parent is nil (first write to a brand-new collection), all four are
// created fresh instead.
func NewRecordWriter(ctx context.Context, provider *blockfile.Provider, segmentPath string, parent *BlockfileIDs, capBytes int) (*RecordWriter, error) {
	open := func(keyKind keyvalue.KeyKind, valueKind keyvalue.ValueKind, parentID *blockfile.BlockfileID) (*blockfile.Writer, error) {
		if parentID == nil {
			return blockfile.NewWriterCreate(provider, segmentPath, keyKind, valueKind, capBytes), nil
		}
		return blockfile.NewWriterFork(ctx, provider, segmentPath, *parentID, keyKind, valueKind, capBytes)
	}

	var u2oParent, o2uParent, o2dParent, moParent *blockfile.BlockfileID
	if parent != nil {
		u2oParent, o2uParent, o2dParent, moParent = &parent.UserIDToOffsetID, &parent.OffsetIDToUserID, &parent.OffsetIDToData, &parent.MaxOffsetID
	}

	u2o, err := open(keyvalue.KeyStr, keyvalue.ValueUInt32, u2oParent)
	if err != nil {
		return nil, err
	}
	o2u, err := open(keyvalue.KeyUInt32, keyvalue.ValueStr, o2uParent)
	if err != nil {
		return nil, err
	}
	o2d, err := open(keyvalue.KeyUInt32, keyvalue.ValueDataRecord, o2dParent)
	if err != nil {
		return nil, err
	}
	mo, err := open(keyvalue.KeyStr, keyvalue.ValueUInt32, moParent)
	if err != nil {
		return nil, err
	}
	return &RecordWriter{userIDToOffsetID: u2o, offsetIDToUserID: o2u, offsetIDToData: o2d, maxOffsetID: mo}, nil
}

// ApplyAddNew writes a brand-new record, allocated at offsetID.
func (w *RecordWriter) ApplyAddNew(ctx context.Context, offsetID uint32, userID string, record *keyvalue.DataRecord) error {
	if err := w.userIDToOffsetID.Set(ctx, "", keyvalue.KeyFromStr(userID), keyvalue.ValueOfUInt32(offsetID)); err != nil {
		return err
	}
	if err := w.offsetIDToUserID.Set(ctx, "", keyvalue.KeyFromUInt32(offsetID), keyvalue.ValueOfStr(userID)); err != nil {
		return err
	}
	if err := w.offsetIDToData.Set(ctx, "", keyvalue.KeyFromUInt32(offsetID), keyvalue.ValueOfDataRecord(record)); err != nil {
		return err
	}
	if !w.sawNewOffsetID || offsetID > w.maxNewOffsetID {
		w.maxNewOffsetID = offsetID
		w.sawNewOffsetID = true
	}
	return nil
}

// ApplyOverwrite replaces an existing offset_id's data record in place
// (delete-then-set, since blockfile semantics are write-only, never
// read-modify-write — spec.md §4.2.3).
func (w *RecordWriter) ApplyOverwrite(ctx context.Context, offsetID uint32, record *keyvalue.DataRecord) error {
	key := keyvalue.KeyFromUInt32(offsetID)
	if err := w.offsetIDToData.Delete(ctx, "", key); err != nil {
		return err
	}
	return w.offsetIDToData.Set(ctx, "", key, keyvalue.ValueOfDataRecord(record))
}

// ApplyDelete tombstones offsetID across all three primary blockfiles.
func (w *RecordWriter) ApplyDelete(ctx context.Context, offsetID uint32, userID string) error {
	if err := w.userIDToOffsetID.Delete(ctx, "", keyvalue.KeyFromStr(userID)); err != nil {
		return err
	}
	if err := w.offsetIDToUserID.Delete(ctx, "", keyvalue.KeyFromUInt32(offsetID)); err != nil {
		return err
	}
	return w.offsetIDToData.Delete(ctx, "", keyvalue.KeyFromUInt32(offsetID))
}

// RecordCommitResult is the output of Commit: one CommitResult per
// blockfile, ready to flush atomically.
type RecordCommitResult struct {
	UserIDToOffsetID *blockfile.CommitResult
	OffsetIDToUserID *blockfile.CommitResult
	OffsetIDToData   *blockfile.CommitResult
	MaxOffsetID      *blockfile.CommitResult
}

// Commit freezes all four blockfiles. If no new offset_id was allocated
// in this chunk, max_offset_id is left untouched rather than rewritten
// with a sentinel (spec.md §4.2.3 "if max_new_offset_id > 0").
func (w *RecordWriter) Commit(parentMaxOffsetID uint32) (*RecordCommitResult, error) {
	u2oResult, err := w.userIDToOffsetID.Commit()
	if err != nil {
		return nil, err
	}
	o2uResult, err := w.offsetIDToUserID.Commit()
	if err != nil {
		return nil, err
	}
	o2dResult, err := w.offsetIDToData.Commit()
	if err != nil {
		return nil, err
	}
	if w.sawNewOffsetID && w.maxNewOffsetID > parentMaxOffsetID {
		if err := w.maxOffsetID.Set(context.Background(), "", keyvalue.KeyFromStr(maxOffsetIDKey), keyvalue.ValueOfUInt32(w.maxNewOffsetID)); err != nil {
			return nil, err
		}
	}
	moResult, err := w.maxOffsetID.Commit()
	if err != nil {
		return nil, err
	}
	return &RecordCommitResult{
		UserIDToOffsetID: u2oResult,
		OffsetIDToUserID: o2uResult,
		OffsetIDToData:   o2dResult,
		MaxOffsetID:      moResult,
	}, nil
}

// Flush uploads every blockfile in result and returns the new
// BlockfileIDs the caller must record in the version file (spec.md §6.1).
// Partial-flush failure is surfaced as-is; the caller is expected to retry
// the whole chunk, since blockfile uploads are idempotent under UUID.
func (w *RecordWriter) Flush(ctx context.Context, result *RecordCommitResult) (BlockfileIDs, error) {
	u2oID, err := w.userIDToOffsetID.Flush(ctx, result.UserIDToOffsetID)
	if err != nil {
		return BlockfileIDs{}, err
	}
	o2uID, err := w.offsetIDToUserID.Flush(ctx, result.OffsetIDToUserID)
	if err != nil {
		return BlockfileIDs{}, err
	}
	o2dID, err := w.offsetIDToData.Flush(ctx, result.OffsetIDToData)
	if err != nil {
		return BlockfileIDs{}, err
	}
	moID, err := w.maxOffsetID.Flush(ctx, result.MaxOffsetID)
	if err != nil {
		return BlockfileIDs{}, err
	}
	return BlockfileIDs{UserIDToOffsetID: u2oID, OffsetIDToUserID: o2uID, OffsetIDToData: o2dID, MaxOffsetID: moID}, nil
}

// NewSegmentID allocates a fresh segment identifier for a new collection.
func NewSegmentID() uuid.UUID { return uuid.New() }
