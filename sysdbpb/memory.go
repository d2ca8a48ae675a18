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
	"sync"

	"github.com/google/uuid"
)

// MemoryClient is an in-process Client fake for tests, mirroring the
// original Rust implementation's TestSysDb (original_source/garbage_
// collector/src/garbage_collector_orchestrator_v2.rs's test module).
type MemoryClient struct {
	mu             sync.Mutex
	softDeleted    map[uuid.UUID]bool
	marked         map[uuid.UUID]map[int64]bool
	deleted        map[uuid.UUID]map[int64]bool
	finishedHard   map[uuid.UUID]bool
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		softDeleted: make(map[uuid.UUID]bool),
		marked:      make(map[uuid.UUID]map[int64]bool),
		deleted:     make(map[uuid.UUID]map[int64]bool),
		finishedHard: make(map[uuid.UUID]bool),
	}
}

func (c *MemoryClient) SetSoftDeleted(id uuid.UUID, deleted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.softDeleted[id] = deleted
}

func (c *MemoryClient) IsHardDeleted(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finishedHard[id]
}

func (c *MemoryClient) MarkedVersions(id uuid.UUID) map[int64]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.marked[id]
}

func (c *MemoryClient) DeletedVersions(id uuid.UUID) map[int64]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleted[id]
}

func (c *MemoryClient) BatchGetCollectionSoftDeleteStatus(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		out[id] = c.softDeleted[id]
	}
	return out, nil
}

func (c *MemoryClient) MarkVersionsForDeletion(_ context.Context, _, _ string, collectionID uuid.UUID, versions []int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.marked[collectionID]
	if !ok {
		m = make(map[int64]bool)
		c.marked[collectionID] = m
	}
	for _, v := range versions {
		m[v] = true
	}
	return nil
}

func (c *MemoryClient) DeleteVersions(_ context.Context, _, _ string, collectionID uuid.UUID, versions []int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.deleted[collectionID]
	if !ok {
		m = make(map[int64]bool)
		c.deleted[collectionID] = m
	}
	for _, v := range versions {
		m[v] = true
	}
	return nil
}

func (c *MemoryClient) FinishCollectionDeletion(_ context.Context, _, _ string, collectionID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishedHard[collectionID] = true
	return nil
}

var _ Client = (*MemoryClient)(nil)
