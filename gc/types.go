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

// Package gc is the garbage-collection orchestrator (spec.md §4.4): a
// graph-driven reference counter over the fork tree of a collection's
// version files, computing which files no longer belong to any retained
// version and which soft-deleted collections can be hard-deleted.
package gc

import (
	"time"

	"github.com/google/uuid"
)

// Mode carried verbatim from original_source/garbage_collector/src/
// garbage_collector_orchestrator_v2.rs's CleanupMode: DryRun computes
// and reports what would be deleted without touching storage or sysdb.
type Mode int

const (
	DryRun Mode = iota
	Delete
)

func (m Mode) String() string {
	if m == Delete {
		return "delete"
	}
	return "dry_run"
}

// Action is the per-version disposition spec.md §4.4.3 computes.
type Action int

const (
	Keep Action = iota
	DeleteVersion
)

func (a Action) String() string {
	if a == DeleteVersion {
		return "delete"
	}
	return "keep"
}

// Node identifies one vertex of the version graph (spec.md §3 "Version
// graph"): a specific version of a specific collection.
type Node struct {
	CollectionID uuid.UUID
	Version      int64
}

// ForkEdge is one entry of the lineage file: parent collection forked a
// child at ParentForkVersion (spec.md §3 "Lineage file").
type ForkEdge struct {
	ParentCollectionID uuid.UUID
	ParentForkVersion  int64
	ChildCollectionID  uuid.UUID
}

// Input is everything ConstructGraph and the rest of the pipeline need
// for one root collection's lineage tree (spec.md §4.4.1).
type Input struct {
	RootCollectionID  uuid.UUID
	VersionFiles      map[uuid.UUID]*VersionFileView
	ForkEdges         []ForkEdge
	CutoffTime        time.Time
	MinVersionsToKeep int
	Mode              Mode
}

// VersionFileView is the subset of versionfile.CollectionVersionFile the
// GC orchestrator needs, kept separate from the versionfile package type
// so gc has no hard dependency on its wire encoding -- only its shape.
type VersionFileView struct {
	CollectionID  uuid.UUID
	TenantID      string
	DatabaseID    string
	DatabaseName  string
	IsSoftDeleted bool
	Versions      []VersionEntry
}

// VersionEntry is one version's GC-relevant fields.
type VersionEntry struct {
	Version   int64
	CreatedAt time.Time
	FilePaths []string
}

// Result is the structured outcome of one GC run (spec.md §4.4.6
// "Done").
type Result struct {
	RootCollectionID       uuid.UUID
	NumVersionsDeleted     int
	NumFilesDeleted        int
	FilesDeleted           []string
	HardDeletedCollections []uuid.UUID
}
