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

// Command gc runs one garbage-collection pass over a collection's fork
// lineage: build the version graph, compute which versions and files are
// no longer reachable, and (outside dry-run mode) delete them (spec.md
// §4.4).
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"

	"github.com/embeddb/storecore/blockfile"
	"github.com/embeddb/storecore/gc"
	"github.com/embeddb/storecore/sysdbpb"
	"github.com/embeddb/storecore/versionfile"
)

type cli struct {
	StorageRoot       string   `help:"Local object-store root directory, or an http(s):// object-store endpoint." default:"./data"`
	SysdbAddr         string   `help:"sysdb gRPC address." default:"localhost:50051"`
	RootCollectionID  string   `help:"Root collection UUID of the lineage tree to collect." required:""`
	VersionFilePaths  []string `help:"Version file object-storage paths, one per collection in the lineage, tenant/db/collection encoded in each path." required:""`
	CutoffDays        int      `help:"Delete non-retained versions created more than this many days ago." default:"30"`
	MinVersionsToKeep int      `help:"Always retain this many of a collection's most recent versions." default:"2"`
	DryRun            bool     `help:"Compute and print the plan without deleting anything." default:"true"`
}

func main() {
	var c cli
	kong.Parse(&c, kong.Description("Garbage-collect unreachable versions and files in a collection's fork lineage."))

	log := logrus.WithField("component", "cmd/gc")
	if err := run(context.Background(), &c, log); err != nil {
		log.WithError(err).Error("gc run failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, c *cli, log *logrus.Entry) error {
	rootID, err := uuid.Parse(c.RootCollectionID)
	if err != nil {
		return fmt.Errorf("cmd/gc: invalid --root-collection-id: %w", err)
	}

	store, err := openStore(c.StorageRoot)
	if err != nil {
		return err
	}

	mode := gc.DryRun
	if !c.DryRun {
		mode = gc.Delete
	}

	versionFiles := make(map[uuid.UUID]*gc.VersionFileView, len(c.VersionFilePaths))
	for _, path := range c.VersionFilePaths {
		raw, err := store.Get(ctx, path)
		if err != nil {
			return err
		}
		var f versionfile.CollectionVersionFile
		if err := f.Unmarshal(raw); err != nil {
			return fmt.Errorf("cmd/gc: decoding %s: %w", path, err)
		}
		collectionID, err := uuid.Parse(f.CollectionInfoImmutable.CollectionID)
		if err != nil {
			return fmt.Errorf("cmd/gc: %s has invalid collection id: %w", path, err)
		}
		view := &gc.VersionFileView{
			CollectionID:  collectionID,
			TenantID:      f.CollectionInfoImmutable.TenantID,
			DatabaseID:    f.CollectionInfoImmutable.DatabaseID,
			DatabaseName:  f.CollectionInfoImmutable.DatabaseName,
			IsSoftDeleted: f.CollectionInfoImmutable.IsDeleted,
		}
		for _, v := range f.Versions {
			view.Versions = append(view.Versions, gc.VersionEntry{
				Version:   v.Version,
				CreatedAt: time.Unix(v.CreatedAtSecs, 0).UTC(),
				FilePaths: v.AllFilePaths(),
			})
		}
		versionFiles[collectionID] = view
	}

	sysdbConn, sysdbClient, err := dialSysdb(c.SysdbAddr)
	if err != nil {
		return err
	}
	if sysdbConn != nil {
		defer sysdbConn.Close()
	}

	ids := make([]uuid.UUID, 0, len(versionFiles))
	for id := range versionFiles {
		ids = append(ids, id)
	}
	softDeleted, err := sysdbClient.BatchGetCollectionSoftDeleteStatus(ctx, ids)
	if err != nil {
		return err
	}
	for id, deleted := range softDeleted {
		if view, ok := versionFiles[id]; ok {
			view.IsSoftDeleted = deleted
		}
	}

	orch := gc.NewOrchestrator(store, sysdbClient)
	input := gc.Input{
		RootCollectionID:  rootID,
		VersionFiles:      versionFiles,
		CutoffTime:        time.Now().Add(-time.Duration(c.CutoffDays) * 24 * time.Hour),
		MinVersionsToKeep: c.MinVersionsToKeep,
		Mode:              mode,
	}

	result, err := orch.Run(ctx, input)
	if err != nil {
		return err
	}

	printResult(result, mode)
	log.WithFields(logrus.Fields{
		"mode":             mode,
		"versions_deleted": result.NumVersionsDeleted,
		"files_deleted":    result.NumFilesDeleted,
		"hard_deleted":     len(result.HardDeletedCollections),
	}).Info("gc run complete")
	return nil
}

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

// dialSysdb dials sysdb over gRPC when addr is set. With an empty addr it
// returns a nil connection and an in-process sysdbpb.MemoryClient, which
// keeps the CLI runnable (e.g. in dry-run mode against a fixture) without
// a live sysdb.
func dialSysdb(addr string) (*sysdbGRPCConn, sysdbpb.Client, error) {
	if addr == "" {
		return nil, sysdbpb.NewMemoryClient(), nil
	}
	cc, err := newSysdbConn(addr)
	if err != nil {
		return nil, nil, err
	}
	return cc, sysdbpb.NewGRPCClient(cc.ClientConn), nil
}

func printResult(r *gc.Result, mode gc.Mode) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Mode", "Versions Deleted", "Files Deleted", "Hard-Deleted Collections"})
	t.AppendRow(table.Row{mode.String(), r.NumVersionsDeleted, r.NumFilesDeleted, len(r.HardDeletedCollections)})
	t.Render()

	if len(r.FilesDeleted) == 0 {
		return
	}
	files := table.NewWriter()
	files.SetOutputMirror(os.Stdout)
	files.AppendHeader(table.Row{"File"})
	for _, f := range r.FilesDeleted {
		files.AppendRow(table.Row{f})
	}
	files.Render()
}
