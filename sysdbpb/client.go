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
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/embeddb/storecore/errkind"
)

// Client is the narrow sysdb surface the GC orchestrator and the
// compaction path depend on (spec.md §4.4, §5 "Sysdb RPCs: GETs
// retried; mutating RPCs retried only on explicit rate-limit").
type Client interface {
	// BatchGetCollectionSoftDeleteStatus reports which of ids are
	// soft-deleted (spec.md §4.4.6 "ConstructGraph").
	BatchGetCollectionSoftDeleteStatus(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error)
	// MarkVersionsForDeletion is the "MarkVersionsAtSysDb" step (spec.md
	// §4.4.6).
	MarkVersionsForDeletion(ctx context.Context, tenantID, databaseID string, collectionID uuid.UUID, versions []int64) error
	// DeleteVersions is the "DeleteVersionsAtSysDb" step (spec.md §4.4.6).
	DeleteVersions(ctx context.Context, tenantID, databaseID string, collectionID uuid.UUID, versions []int64) error
	// FinishCollectionDeletion hard-deletes a soft-deleted collection once
	// every descendant is soft-deleted (spec.md §4.4.5).
	FinishCollectionDeletion(ctx context.Context, tenantID, databaseName string, collectionID uuid.UUID) error
}

// GRPCClient is Client backed by a real gRPC connection, using the
// package's protowire-encoded wire types via the registered
// "storecore-sysdb-wire" codec (no protoc-generated stubs -- see codec.go).
type GRPCClient struct {
	cc *grpc.ClientConn
}

func NewGRPCClient(cc *grpc.ClientConn) *GRPCClient {
	return &GRPCClient{cc: cc}
}

func (c *GRPCClient) invoke(ctx context.Context, method string, req, resp wireMessage) error {
	if err := c.cc.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return errkind.Wrap(errkind.Transient, "sysdbpb.Client."+method, err)
	}
	return nil
}

func (c *GRPCClient) BatchGetCollectionSoftDeleteStatus(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	req := &batchGetSoftDeleteRequest{CollectionIDs: make([]string, len(ids))}
	for i, id := range ids {
		req.CollectionIDs[i] = id.String()
	}
	resp := &batchGetSoftDeleteResponse{}
	if err := c.invoke(ctx, "/chroma.SysDB/BatchGetCollectionSoftDeleteStatus", req, resp); err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]bool, len(resp.Entries))
	for _, e := range resp.Entries {
		id, err := uuid.Parse(e.CollectionID)
		if err != nil {
			return nil, errkind.Wrap(errkind.Validation, "sysdbpb.Client.BatchGetCollectionSoftDeleteStatus", err)
		}
		out[id] = e.IsSoftDeleted
	}
	return out, nil
}

func (c *GRPCClient) MarkVersionsForDeletion(ctx context.Context, tenantID, databaseID string, collectionID uuid.UUID, versions []int64) error {
	req := &versionListRequest{TenantID: tenantID, DatabaseID: databaseID, CollectionID: collectionID.String(), Versions: versions}
	return c.invoke(ctx, "/chroma.SysDB/MarkVersionForDeletion", req, &emptyResponse{})
}

func (c *GRPCClient) DeleteVersions(ctx context.Context, tenantID, databaseID string, collectionID uuid.UUID, versions []int64) error {
	req := &versionListRequest{TenantID: tenantID, DatabaseID: databaseID, CollectionID: collectionID.String(), Versions: versions}
	return c.invoke(ctx, "/chroma.SysDB/DeleteCollectionVersion", req, &emptyResponse{})
}

func (c *GRPCClient) FinishCollectionDeletion(ctx context.Context, tenantID, databaseName string, collectionID uuid.UUID) error {
	req := &finishCollectionDeletionRequest{TenantID: tenantID, DatabaseName: databaseName, CollectionID: collectionID.String()}
	return c.invoke(ctx, "/chroma.SysDB/FinishCollectionDeletion", req, &emptyResponse{})
}

var _ Client = (*GRPCClient)(nil)
