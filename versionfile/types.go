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

// Package versionfile is the protobuf-shaped snapshot of a collection's
// segment-file layout at one version (spec.md §3 "Version file", §6.2).
package versionfile

// CollectionInfoImmutable is the part of a collection's identity that
// never changes across versions (spec.md §6.2).
type CollectionInfoImmutable struct {
	TenantID               string
	DatabaseID             string
	DatabaseName           string
	CollectionID           string
	CollectionName         string
	IsDeleted              bool
	Dimension              int32
	CollectionCreationSecs int64
}

// SegmentCompactionInfo names one segment's logical-name -> storage-path
// map at a given version (spec.md §6.1 path convention).
type SegmentCompactionInfo struct {
	SegmentID string
	FilePaths map[string][]string
}

// VersionInfo is one entry of a collection's version history (spec.md §3
// "Version file", §6.2). SegmentCompactionInfo is empty only for the
// "uninitialized lineage" case spec.md §4.4.4 carves out.
type VersionInfo struct {
	Version                int64
	CreatedAtSecs          int64
	MarkedForDeletion      bool
	SegmentCompactionInfo  []SegmentCompactionInfo
	VersionChangeReason    string
	VersionFileName        string
}

// CollectionVersionFile is the full protobuf message spec.md §6.2
// mandates. Invariants (enforced by Manager, not by this type): versions
// are monotonically increasing, no two share a VersionFileName, and the
// last version's Version equals the collection's current version.
type CollectionVersionFile struct {
	CollectionInfoImmutable CollectionInfoImmutable
	Versions                []VersionInfo
}

// AllFilePaths flattens every storage path named by v's segments, used by
// the GC orchestrator's reference-counting pass (spec.md §4.4.4).
func (v VersionInfo) AllFilePaths() []string {
	var out []string
	for _, seg := range v.SegmentCompactionInfo {
		for _, paths := range seg.FilePaths {
			out = append(out, paths...)
		}
	}
	return out
}

// LatestVersion returns the file's final VersionInfo, or false if the
// file has no versions.
func (f *CollectionVersionFile) LatestVersion() (VersionInfo, bool) {
	if len(f.Versions) == 0 {
		return VersionInfo{}, false
	}
	return f.Versions[len(f.Versions)-1], true
}
