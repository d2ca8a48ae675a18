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

package gc

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/embeddb/storecore/blockfile"
	"github.com/embeddb/storecore/sysdbpb"
)

// Orchestrator runs one GC pass over a collection's lineage tree,
// mirroring original_source/garbage_collector/src/
// garbage_collector_orchestrator_v2.rs's task graph: ConstructGraph ->
// ComputeVersionsToDelete -> (MarkVersionsAtSysDb + ListFilesAtVersion)
// -> DeleteUnusedFiles -> DeleteVersionsAtSysDb -> FinalizeHardDeletes.
type Orchestrator struct {
	store blockfile.Store
	sysdb sysdbpb.Client
	log   *logrus.Entry
}

func NewOrchestrator(store blockfile.Store, sysdb sysdbpb.Client) *Orchestrator {
	return &Orchestrator{store: store, sysdb: sysdb, log: logrus.WithField("component", "gc.Orchestrator")}
}

// Run executes one GC pass (spec.md §4.4.6). The barrier between marking
// and file listing in the Rust source collapses here because the file
// paths are already materialized in in.VersionFiles by the caller --
// ListFilesAtVersion has no I/O left to overlap.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Result, error) {
	g, err := ConstructGraph(in.VersionFiles, in.ForkEdges)
	if err != nil {
		return nil, err
	}

	actions := ComputeVersionsToDelete(g, in.VersionFiles, in.CutoffTime, in.MinVersionsToKeep)

	if in.Mode == Delete {
		for collectionID, versionActions := range actions {
			var toMark []int64
			for version, action := range versionActions {
				if action == DeleteVersion {
					toMark = append(toMark, version)
				}
			}
			if len(toMark) == 0 {
				continue
			}
			vf := in.VersionFiles[collectionID]
			if err := o.sysdb.MarkVersionsForDeletion(ctx, vf.TenantID, vf.DatabaseID, collectionID, toMark); err != nil {
				return nil, err
			}
		}
	}

	refCounts, err := BuildFileRefCounts(g, in.VersionFiles, actions)
	if err != nil {
		return nil, err
	}
	filesToDelete := FilesToDelete(refCounts)

	result := &Result{RootCollectionID: in.RootCollectionID}
	for collectionID, versionActions := range actions {
		for _, action := range versionActions {
			if action == DeleteVersion {
				result.NumVersionsDeleted++
			}
		}
	}
	result.FilesDeleted = filesToDelete
	result.NumFilesDeleted = len(filesToDelete)

	versionsDeleted.WithLabelValues(in.Mode.String()).Add(float64(result.NumVersionsDeleted))
	filesDeleted.WithLabelValues(in.Mode.String()).Add(float64(result.NumFilesDeleted))

	if in.Mode == DryRun {
		o.log.WithFields(logrus.Fields{
			"root":            in.RootCollectionID,
			"versions_marked": result.NumVersionsDeleted,
			"files_marked":    result.NumFilesDeleted,
		}).Info("gc dry run complete")
		return result, nil
	}

	if err := o.deleteUnusedFiles(ctx, filesToDelete); err != nil {
		return nil, err
	}

	softDeleted := make(map[uuid.UUID]bool, len(in.VersionFiles))
	for id, vf := range in.VersionFiles {
		softDeleted[id] = vf != nil && vf.IsSoftDeleted
		versionActions := actions[id]
		var toDelete []int64
		for version, action := range versionActions {
			if action == DeleteVersion {
				toDelete = append(toDelete, version)
			}
		}
		if len(toDelete) == 0 {
			continue
		}
		if err := o.sysdb.DeleteVersions(ctx, vf.TenantID, vf.DatabaseID, id, toDelete); err != nil {
			return nil, err
		}
	}

	hardDeletable, err := HardDeletionOrder(g, softDeleted)
	if err != nil {
		return nil, err
	}
	for _, id := range hardDeletable {
		vf := in.VersionFiles[id]
		if err := o.sysdb.FinishCollectionDeletion(ctx, vf.TenantID, vf.DatabaseName, id); err != nil {
			return nil, err
		}
		result.HardDeletedCollections = append(result.HardDeletedCollections, id)
		collectionsHardDeleted.Inc()
	}

	o.log.WithFields(logrus.Fields{
		"root":             in.RootCollectionID,
		"versions_deleted": result.NumVersionsDeleted,
		"files_deleted":    result.NumFilesDeleted,
		"hard_deleted":     len(result.HardDeletedCollections),
	}).Info("gc run complete")
	return result, nil
}

func (o *Orchestrator) deleteUnusedFiles(ctx context.Context, files []string) error {
	for _, f := range files {
		if err := o.store.Delete(ctx, f); err != nil {
			return err
		}
	}
	return nil
}
