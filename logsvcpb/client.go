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

package logsvcpb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/embeddb/storecore/errkind"
	"github.com/embeddb/storecore/materialize"
)

const codecName = "storecore-logsvc-wire"

type wireMessage interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

type wireCodec struct{}

func (wireCodec) Name() string { return codecName }
func (wireCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("logsvcpb: %T does not implement wireMessage", v)
	}
	return m.Marshal()
}
func (wireCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("logsvcpb: %T does not implement wireMessage", v)
	}
	return m.Unmarshal(data)
}

func init() {
	encoding.RegisterCodec(wireCodec{})
}

// Client pulls a bounded chunk of the log for one collection (spec.md
// §2 step 2, §4.2.1 "Input to materialization"). HighWatermark is the
// log's current head offset, used by the scheduler to decide whether the
// unflushed prefix still exceeds its compaction threshold.
type Client interface {
	PullLogs(ctx context.Context, collectionID string, startOffset int64, batchSize int) ([]materialize.LogRecord, int64, error)
}

// GRPCClient is Client backed by a real gRPC connection.
type GRPCClient struct {
	cc *grpc.ClientConn
}

func NewGRPCClient(cc *grpc.ClientConn) *GRPCClient {
	return &GRPCClient{cc: cc}
}

func (c *GRPCClient) PullLogs(ctx context.Context, collectionID string, startOffset int64, batchSize int) ([]materialize.LogRecord, int64, error) {
	req := &pullLogsRequest{CollectionID: collectionID, StartOffset: startOffset, BatchSize: int32(batchSize)}
	resp := &pullLogsResponse{}
	if err := c.cc.Invoke(ctx, "/chroma.LogService/PullLogs", req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, 0, errkind.Wrap(errkind.Transient, "logsvcpb.Client.PullLogs", err)
	}
	out := make([]materialize.LogRecord, len(resp.Records))
	for i, w := range resp.Records {
		out[i] = toLogRecord(w)
	}
	return out, resp.HighWatermark, nil
}

var _ Client = (*GRPCClient)(nil)

// MemoryClient is an in-process log fake for tests: an append-only slice
// of records per collection, keyed by LogOffset.
type MemoryClient struct {
	mu   sync.Mutex
	logs map[string][]materialize.LogRecord
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{logs: make(map[string][]materialize.LogRecord)}
}

func (c *MemoryClient) Append(collectionID string, rec materialize.LogRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs[collectionID] = append(c.logs[collectionID], rec)
	sort.Slice(c.logs[collectionID], func(i, j int) bool {
		return c.logs[collectionID][i].LogOffset < c.logs[collectionID][j].LogOffset
	})
}

func (c *MemoryClient) PullLogs(_ context.Context, collectionID string, startOffset int64, batchSize int) ([]materialize.LogRecord, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := c.logs[collectionID]
	var out []materialize.LogRecord
	for _, r := range all {
		if int64(r.LogOffset) < startOffset {
			continue
		}
		if len(out) >= batchSize {
			break
		}
		out = append(out, r)
	}
	high := int64(-1)
	if n := len(all); n > 0 {
		high = int64(all[n-1].LogOffset)
	}
	return out, high, nil
}

var _ Client = (*MemoryClient)(nil)
