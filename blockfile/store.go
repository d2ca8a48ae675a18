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

package blockfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"

	"github.com/embeddb/storecore/errkind"
)

// Store is the narrow object-storage interface blockfile, versionfile and
// gc all go through. spec.md §1 keeps the concrete object-storage client
// out of scope; this is the boundary interface it crosses.
//
// Paths follow spec.md §6.1's layout convention; callers pass the
// already-formatted segment path (the `segment/{segment_id}` prefix).
type Store interface {
	GetBlock(ctx context.Context, segmentPath string, blockfileID, blockID BlockID) ([]byte, error)
	PutBlock(ctx context.Context, segmentPath string, blockfileID, blockID BlockID, data []byte) error
	GetSparseIndex(ctx context.Context, segmentPath string, blockfileID BlockfileID) ([]byte, error)
	PutSparseIndex(ctx context.Context, segmentPath string, blockfileID BlockfileID, data []byte) error

	// Get/Put/Delete/List are the generic primitives the version-file
	// manager and GC orchestrator use directly against arbitrary keys
	// (version files, lineage files).
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// LocalStore is a filesystem-backed Store used for tests and single-node
// deployments. Writes go through a temp file + flock + rename so a
// concurrent reader never observes a half-written object (spec.md §4.1.1
// "commit must never partially succeed").
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blockfile: creating local store root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func blockPath(segmentPath string, blockfileID, blockID BlockID) string {
	return filepath.Join(segmentPath, blockfileID.String(), "block", blockID.String())
}

func sparseIndexPath(segmentPath string, blockfileID BlockfileID) string {
	return filepath.Join(segmentPath, blockfileID.String())
}

// GetBlock memory-maps the committed block's record-batch file rather than
// reading it through Get's ReadFile path: blocks are the hot, repeatedly
// read path (every Reader.Get on a cache miss lands here), and once
// committed a block's bytes never change under its UUID, so mmap's
// zero-copy page cache hit costs nothing a plain read wouldn't already
// pay, but scales better under concurrent readers (spec.md §6.3 "the
// reader can memory-map it").
func (s *LocalStore) GetBlock(ctx context.Context, segmentPath string, blockfileID, blockID BlockID) ([]byte, error) {
	full := filepath.Join(s.root, blockPath(segmentPath, blockfileID, blockID))
	var f *os.File
	op := func() error {
		var err error
		f, err = os.Open(full)
		if errors.Is(err, os.ErrNotExist) {
			return backoff.Permanent(notFound("LocalStore.GetBlock", full))
		}
		return err
	}
	if err := withRetry(ctx, op); err != nil {
		var perm *errkind.Error
		if errors.As(err, &perm) {
			return nil, perm
		}
		return nil, errkind.Wrap(errkind.Transient, "LocalStore.GetBlock", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "LocalStore.GetBlock", err)
	}
	if fi.Size() == 0 {
		return []byte{}, nil
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "LocalStore.GetBlock", err)
	}
	defer m.Unmap()
	out := make([]byte, len(m))
	copy(out, m)
	return out, nil
}

func (s *LocalStore) PutBlock(ctx context.Context, segmentPath string, blockfileID, blockID BlockID, data []byte) error {
	return s.Put(ctx, blockPath(segmentPath, blockfileID, blockID), data)
}

func (s *LocalStore) GetSparseIndex(ctx context.Context, segmentPath string, blockfileID BlockfileID) ([]byte, error) {
	return s.Get(ctx, sparseIndexPath(segmentPath, blockfileID))
}

func (s *LocalStore) PutSparseIndex(ctx context.Context, segmentPath string, blockfileID BlockfileID, data []byte) error {
	return s.Put(ctx, sparseIndexPath(segmentPath, blockfileID), data)
}

func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	op := func() error {
		b, err := os.ReadFile(filepath.Join(s.root, key))
		if errors.Is(err, os.ErrNotExist) {
			return backoff.Permanent(notFound("LocalStore.Get", key))
		}
		if err != nil {
			return err // transient: retried
		}
		out = b
		return nil
	}
	if err := withRetry(ctx, op); err != nil {
		var perm *errkind.Error
		if errors.As(err, &perm) {
			return nil, perm
		}
		return nil, errkind.Wrap(errkind.Transient, "LocalStore.Get", err)
	}
	return out, nil
}

func (s *LocalStore) Put(ctx context.Context, key string, data []byte) error {
	full := filepath.Join(s.root, key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errkind.Wrap(errkind.Transient, "LocalStore.Put", err)
	}
	lockPath := full + ".lock"
	fl := flock.New(lockPath)
	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return errkind.Wrap(errkind.Transient, "LocalStore.Put", fmt.Errorf("could not acquire write lock for %s", key))
	}
	defer fl.Unlock()

	tmp := full + ".tmp-" + NewID().String()
	op := func() error {
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return err
		}
		return os.Rename(tmp, full)
	}
	if err := withRetry(ctx, op); err != nil {
		os.Remove(tmp)
		return errkind.Wrap(errkind.Transient, "LocalStore.Put", err)
	}
	return nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(filepath.Join(s.root, key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errkind.Wrap(errkind.Transient, "LocalStore.Delete", err)
	}
	return nil
}

func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.root, key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errkind.Wrap(errkind.Transient, "LocalStore.Exists", err)
	}
	return true, nil
}

func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	root := filepath.Join(s.root, prefix)
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() || filepath.Ext(path) == ".lock" {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "LocalStore.List", err)
	}
	return out, nil
}

// withRetry applies the exponential-backoff-with-jitter policy spec.md §5
// mandates for object-storage operations. backoff.Permanent short-circuits
// for NotFound (never retried, spec.md §7).
func withRetry(ctx context.Context, op backoff.Operation) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	return backoff.Retry(op, policy)
}
