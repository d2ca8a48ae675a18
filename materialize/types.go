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

// Package materialize folds a chunk of log records against a record
// segment snapshot into the set of writes the record-segment writer must
// apply (spec.md §4.2).
package materialize

import "github.com/embeddb/storecore/keyvalue"

// Operation is the log's operation tag.
type Operation int

const (
	Add Operation = iota
	Update
	Upsert
	Delete
)

func (o Operation) String() string {
	switch o {
	case Add:
		return "add"
	case Update:
		return "update"
	case Upsert:
		return "upsert"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// StringDelta distinguishes "leave unchanged" (nil *StringDelta) from
// "delete" (*StringDelta with Value == nil) from "set" (*StringDelta with
// Value != nil) — the three states spec.md §4.2.2's per-field merge rule
// requires for Update operations.
type StringDelta struct {
	Value *string
}

// MetadataDelta maps a field name to its delta: a nil map entry value
// means delete the key, a non-nil value means overwrite it. A key simply
// absent from the map means "leave unchanged".
type MetadataDelta map[string]*keyvalue.Value

// LogRecord is one entry from the log service's chunk (spec.md §4.2.1).
type LogRecord struct {
	LogOffset     uint64
	Operation     Operation
	UserID        string
	Embedding     []float32 // nil means "unchanged" for Update, full value for Add/Upsert
	MetadataDelta MetadataDelta
	Document      *StringDelta
}

// MaterializedOp is the terminal operation a folded chunk resolves to.
type MaterializedOp int

const (
	AddNew MaterializedOp = iota
	UpdateExisting
	OverwriteExisting
	DeleteExisting
)

func (o MaterializedOp) String() string {
	switch o {
	case AddNew:
		return "add_new"
	case UpdateExisting:
		return "update_existing"
	case OverwriteExisting:
		return "overwrite_existing"
	case DeleteExisting:
		return "delete_existing"
	default:
		return "unknown"
	}
}

// MaterializedLogRecord is materialization's output contract (spec.md
// §4.2.1): a fully resolved record-segment write, ready for the writer to
// apply without any further merging.
type MaterializedLogRecord struct {
	OffsetID uint32
	UserID   string
	Op       MaterializedOp

	MergedEmbedding []float32
	MergedDocument  *string
	MergedMetadata  keyvalue.Metadata

	// PreviousDataRecord is the pre-chunk snapshot row, set for
	// UpdateExisting, OverwriteExisting and DeleteExisting so the caller
	// can unindex its prior metadata postings.
	PreviousDataRecord *keyvalue.DataRecord
}
