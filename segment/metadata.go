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

package segment

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/embeddb/storecore/blockfile"
	"github.com/embeddb/storecore/keyvalue"
)

// MetadataReader narrows a full Where evaluation down to a candidate
// offset_id set before the more expensive per-record CEL pass runs
// (spec.md §3 names the inverted index as the prefix namespace for
// metadata keys; this is its concrete postings representation).
//
// Postings are keyed by CompositeKey{Prefix: field name, Key: Str(value)}
// -> a RoaringBitmap of offset_ids. Only string-valued equality postings
// are indexed this way; numeric range and boolean predicates fall back to
// a full scalar_metadata scan, consistent with spec.md's scope (the
// inverted index is an optimization, never a correctness requirement).
type MetadataReader struct {
	postings *blockfile.Reader
}

func OpenMetadataReader(ctx context.Context, provider *blockfile.Provider, segmentPath string, id blockfile.BlockfileID) (*MetadataReader, error) {
	r, err := blockfile.OpenReader(ctx, provider, segmentPath, keyvalue.KeyStr, id)
	if err != nil {
		return nil, err
	}
	return &MetadataReader{postings: r}, nil
}

// Lookup returns the posting list for field == value, or an empty bitmap
// if the pair has never been indexed.
func (r *MetadataReader) Lookup(ctx context.Context, field, value string) (*roaring.Bitmap, error) {
	v, ok, err := r.postings.Get(ctx, field, keyvalue.KeyFromStr(value))
	if err != nil {
		return nil, err
	}
	if !ok {
		return roaring.New(), nil
	}
	return v.RoaringBitmap(), nil
}

// MetadataWriter maintains postings across a forked copy of the inverted
// index blockfile.
type MetadataWriter struct {
	postings *blockfile.Writer
}

func NewMetadataWriter(ctx context.Context, provider *blockfile.Provider, segmentPath string, parent *blockfile.BlockfileID, capBytes int) (*MetadataWriter, error) {
	if parent == nil {
		return &MetadataWriter{postings: blockfile.NewWriterCreate(provider, segmentPath, keyvalue.KeyStr, keyvalue.ValueRoaringBitmap, capBytes)}, nil
	}
	w, err := blockfile.NewWriterFork(ctx, provider, segmentPath, *parent, keyvalue.KeyStr, keyvalue.ValueRoaringBitmap, capBytes)
	if err != nil {
		return nil, err
	}
	return &MetadataWriter{postings: w}, nil
}

// IndexFields records offsetID under every (field, value) pair present in
// fields, reading the current posting list for each key (delete-then-set,
// matching the blockfile's write-only mutation model) and adding offsetID
// to it.
func (w *MetadataWriter) IndexFields(ctx context.Context, reader *MetadataReader, offsetID uint32, fields map[string]string) error {
	for field, value := range fields {
		var bm *roaring.Bitmap
		if reader != nil {
			existing, err := reader.Lookup(ctx, field, value)
			if err != nil {
				return err
			}
			bm = existing.Clone()
		} else {
			bm = roaring.New()
		}
		bm.Add(offsetID)
		key := keyvalue.KeyFromStr(value)
		if err := w.postings.Delete(ctx, field, key); err != nil {
			return err
		}
		if err := w.postings.Set(ctx, field, key, keyvalue.ValueOfRoaringBitmap(bm)); err != nil {
			return err
		}
	}
	return nil
}

// UnindexFields removes offsetID from the posting lists for fields,
// used when a DeleteExisting or OverwriteExisting tombstones a record's
// prior metadata.
func (w *MetadataWriter) UnindexFields(ctx context.Context, reader *MetadataReader, offsetID uint32, fields map[string]string) error {
	if reader == nil {
		return nil
	}
	for field, value := range fields {
		existing, err := reader.Lookup(ctx, field, value)
		if err != nil {
			return err
		}
		if !existing.Contains(offsetID) {
			continue
		}
		bm := existing.Clone()
		bm.Remove(offsetID)
		key := keyvalue.KeyFromStr(value)
		if err := w.postings.Delete(ctx, field, key); err != nil {
			return err
		}
		if bm.IsEmpty() {
			continue
		}
		if err := w.postings.Set(ctx, field, key, keyvalue.ValueOfRoaringBitmap(bm)); err != nil {
			return err
		}
	}
	return nil
}

func (w *MetadataWriter) Commit() (*blockfile.CommitResult, error) { return w.postings.Commit() }

func (w *MetadataWriter) Flush(ctx context.Context, result *blockfile.CommitResult) (blockfile.BlockfileID, error) {
	return w.postings.Flush(ctx, result)
}

// MetadataFieldsFromMap flattens a keyvalue.Metadata row into the
// field->string shape IndexFields/UnindexFields key postings by. The
// richer Where AST still evaluates against the original keyvalue.Metadata
// map directly; this flattening only feeds the equality-postings fast
// path, never correctness.
func MetadataFieldsFromMap(m keyvalue.Metadata) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
