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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embeddb/storecore/materialize"
)

func TestLogRecordWireRoundTrip(t *testing.T) {
	doc := "hello world"
	rec := materialize.LogRecord{
		LogOffset: 42,
		Operation: materialize.Upsert,
		UserID:    "user-1",
		Embedding: []float32{1.5, -2.25, 0},
		Document:  &materialize.StringDelta{Value: &doc},
	}

	w := fromLogRecord(rec)
	raw := marshalLogRecord(&w)

	var got logRecordWire
	require.NoError(t, unmarshalLogRecord(&got, raw))

	back := toLogRecord(got)
	require.Equal(t, rec.LogOffset, back.LogOffset)
	require.Equal(t, rec.Operation, back.Operation)
	require.Equal(t, rec.UserID, back.UserID)
	require.Equal(t, rec.Embedding, back.Embedding)
	require.Equal(t, *rec.Document.Value, *back.Document.Value)
}

func TestPullLogsRequestResponseWireRoundTrip(t *testing.T) {
	req := &pullLogsRequest{CollectionID: "c1", StartOffset: 10, BatchSize: 100}
	raw, err := req.Marshal()
	require.NoError(t, err)
	var got pullLogsRequest
	require.NoError(t, got.Unmarshal(raw))
	require.Equal(t, *req, got)
}

func TestMemoryClientPullLogsRespectsStartOffsetAndBatchSize(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()
	for i := uint64(0); i < 5; i++ {
		c.Append("c1", materialize.LogRecord{LogOffset: i, Operation: materialize.Add, UserID: "u"})
	}

	recs, high, err := c.PullLogs(ctx, "c1", 2, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, uint64(2), recs[0].LogOffset)
	require.Equal(t, uint64(3), recs[1].LogOffset)
	require.Equal(t, int64(4), high)
}
