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
	"context"

	"github.com/embeddb/storecore/blockfile"
	"github.com/embeddb/storecore/keyvalue"
	"github.com/embeddb/storecore/quantize"
)

// Writer applies cluster rebuilds and version shadow-writes across the
// five SPANN blockfiles (spec.md §4.3.5).
type Writer struct {
	quantizedCluster  *blockfile.Writer
	embeddingMetadata *blockfile.Writer
	quantizedCentroid *blockfile.Writer
	rawCentroid       *blockfile.Writer
	scalarMetadata    *blockfile.Writer
}

// NewWriter forks all five blockfiles of a parent vector segment. If
// parent is nil (first build for a brand-new collection), all five are
// created fresh instead.
func NewWriter(ctx context.Context, provider *blockfile.Provider, segmentPath string, parent *BlockfileIDs, capBytes int) (*Writer, error) {
	open := func(keyKind keyvalue.KeyKind, valueKind keyvalue.ValueKind, parentID *blockfile.BlockfileID) (*blockfile.Writer, error) {
		if parentID == nil {
			return blockfile.NewWriterCreate(provider, segmentPath, keyKind, valueKind, capBytes), nil
		}
		return blockfile.NewWriterFork(ctx, provider, segmentPath, *parentID, keyKind, valueKind, capBytes)
	}

	var qcP, emP, qctP, rcP, smP *blockfile.BlockfileID
	if parent != nil {
		qcP, emP, qctP, rcP, smP = &parent.QuantizedCluster, &parent.EmbeddingMetadata, &parent.QuantizedCentroid, &parent.RawCentroid, &parent.ScalarMetadata
	}

	qc, err := open(keyvalue.KeyUInt32, keyvalue.ValueStr, qcP)
	if err != nil {
		return nil, err
	}
	em, err := open(keyvalue.KeyUInt32, keyvalue.ValueStr, emP)
	if err != nil {
		return nil, err
	}
	qct, err := open(keyvalue.KeyUInt32, keyvalue.ValueStr, qctP)
	if err != nil {
		return nil, err
	}
	rc, err := open(keyvalue.KeyUInt32, keyvalue.ValueStr, rcP)
	if err != nil {
		return nil, err
	}
	sm, err := open(keyvalue.KeyUInt32, keyvalue.ValueUInt32, smP)
	if err != nil {
		return nil, err
	}
	return &Writer{quantizedCluster: qc, embeddingMetadata: em, quantizedCentroid: qct, rawCentroid: rc, scalarMetadata: sm}, nil
}

// PutCluster (re)writes clusterID's full membership, replacing whatever
// was previously stored for it (delete-then-set, matching blockfile's
// write-only row semantics).
func (w *Writer) PutCluster(ctx context.Context, clusterID uint32, qc *QuantizedCluster) error {
	key := keyvalue.KeyFromUInt32(clusterID)
	if err := w.quantizedCluster.Delete(ctx, prefixClusterMembers, key); err != nil {
		return err
	}
	return w.quantizedCluster.Set(ctx, prefixClusterMembers, key, keyvalue.ValueOfStr(string(encodeCluster(qc))))
}

// PutClusterHead records clusterID's raw centroid, its quantized head
// code (what the brute-force candidate scan in Reader.Query probes
// against), the deterministic rotation's center vector, and which member
// point_id serves as the cluster head (spec.md §4.3.5).
func (w *Writer) PutClusterHead(ctx context.Context, clusterID uint32, centroid []float32, headCode *quantize.Code, headPointID uint32) error {
	key := keyvalue.KeyFromUInt32(clusterID)

	if err := w.rawCentroid.Delete(ctx, prefixCentroidRaw, key); err != nil {
		return err
	}
	if err := w.rawCentroid.Set(ctx, prefixCentroidRaw, key, keyvalue.ValueOfStr(string(encodeFloatVector(centroid)))); err != nil {
		return err
	}

	if err := w.quantizedCentroid.Delete(ctx, prefixCentroidCode, key); err != nil {
		return err
	}
	if err := w.quantizedCentroid.Set(ctx, prefixCentroidCode, key, keyvalue.ValueOfStr(string(encodeCode(headCode)))); err != nil {
		return err
	}

	if err := w.embeddingMetadata.Delete(ctx, prefixCenterVector, key); err != nil {
		return err
	}
	if err := w.embeddingMetadata.Set(ctx, prefixCenterVector, key, keyvalue.ValueOfStr(string(encodeFloatVector(centroid)))); err != nil {
		return err
	}

	if err := w.embeddingMetadata.Delete(ctx, prefixHeadPointer, key); err != nil {
		return err
	}
	return w.embeddingMetadata.Set(ctx, prefixHeadPointer, key, keyvalue.ValueOfUInt32(headPointID))
}

// PutPointVersion shadow-writes pointID's authoritative version within
// clusterID. Scoring skips any cluster member whose embedded version
// doesn't match this value (spec.md §4.3.6).
func (w *Writer) PutPointVersion(ctx context.Context, clusterID, pointID, version uint32) error {
	key := keyvalue.KeyFromUInt32(pointID)
	prefix := clusterVersionPrefix(clusterID)
	if err := w.scalarMetadata.Delete(ctx, prefix, key); err != nil {
		return err
	}
	return w.scalarMetadata.Set(ctx, prefix, key, keyvalue.ValueOfUInt32(version))
}

// CommitResult is the output of Commit: one blockfile.CommitResult per
// underlying blockfile, ready to flush atomically.
type CommitResult struct {
	QuantizedCluster  *blockfile.CommitResult
	EmbeddingMetadata *blockfile.CommitResult
	QuantizedCentroid *blockfile.CommitResult
	RawCentroid       *blockfile.CommitResult
	ScalarMetadata    *blockfile.CommitResult
}

// Commit freezes all five blockfiles.
func (w *Writer) Commit() (*CommitResult, error) {
	qcResult, err := w.quantizedCluster.Commit()
	if err != nil {
		return nil, err
	}
	emResult, err := w.embeddingMetadata.Commit()
	if err != nil {
		return nil, err
	}
	qctResult, err := w.quantizedCentroid.Commit()
	if err != nil {
		return nil, err
	}
	rcResult, err := w.rawCentroid.Commit()
	if err != nil {
		return nil, err
	}
	smResult, err := w.scalarMetadata.Commit()
	if err != nil {
		return nil, err
	}
	return &CommitResult{
		QuantizedCluster:  qcResult,
		EmbeddingMetadata: emResult,
		QuantizedCentroid: qctResult,
		RawCentroid:       rcResult,
		ScalarMetadata:    smResult,
	}, nil
}

// Flush uploads every blockfile in result and returns the new
// BlockfileIDs the caller must record in the version file.
func (w *Writer) Flush(ctx context.Context, result *CommitResult) (BlockfileIDs, error) {
	qcID, err := w.quantizedCluster.Flush(ctx, result.QuantizedCluster)
	if err != nil {
		return BlockfileIDs{}, err
	}
	emID, err := w.embeddingMetadata.Flush(ctx, result.EmbeddingMetadata)
	if err != nil {
		return BlockfileIDs{}, err
	}
	qctID, err := w.quantizedCentroid.Flush(ctx, result.QuantizedCentroid)
	if err != nil {
		return BlockfileIDs{}, err
	}
	rcID, err := w.rawCentroid.Flush(ctx, result.RawCentroid)
	if err != nil {
		return BlockfileIDs{}, err
	}
	smID, err := w.scalarMetadata.Flush(ctx, result.ScalarMetadata)
	if err != nil {
		return BlockfileIDs{}, err
	}
	return BlockfileIDs{
		QuantizedCluster:  qcID,
		EmbeddingMetadata: emID,
		QuantizedCentroid: qctID,
		RawCentroid:       rcID,
		ScalarMetadata:    smID,
	}, nil
}
