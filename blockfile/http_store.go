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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/embeddb/storecore/errkind"
)

// HTTPStore is a Store backed by a remote object-storage HTTP endpoint
// (spec.md §1 keeps the concrete object-storage client out of scope; this
// is one concrete binding of the Store boundary, for deployments where the
// object store sits behind a plain HTTP PUT/GET/DELETE façade rather than
// a local filesystem). Retries ride on retryablehttp's transport-level
// policy instead of LocalStore's backoff.Retry loop, since the failure
// modes here are networked (connection reset, 5xx, timeout) rather than
// local filesystem contention.
type HTTPStore struct {
	base   string
	client *retryablehttp.Client
}

// NewHTTPStore binds an HTTPStore to baseURL (no trailing slash required;
// keys are joined with "/"). Logging is suppressed: callers already wrap
// every Store call in their own structured logging.
func NewHTTPStore(baseURL string) *HTTPStore {
	c := retryablehttp.NewClient()
	c.Logger = nil
	return &HTTPStore{base: strings.TrimRight(baseURL, "/"), client: c}
}

func (s *HTTPStore) keyURL(key string) string {
	return s.base + "/" + url.PathEscape(strings.TrimLeft(key, "/"))
}

func (s *HTTPStore) do(ctx context.Context, method, key string, body []byte) (*http.Response, error) {
	var rc io.ReadSeeker
	if body != nil {
		rc = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, s.keyURL(key), rc)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "HTTPStore."+method, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "HTTPStore."+method, err)
	}
	return resp, nil
}

func (s *HTTPStore) GetBlock(ctx context.Context, segmentPath string, blockfileID, blockID BlockID) ([]byte, error) {
	return s.Get(ctx, blockPath(segmentPath, blockfileID, blockID))
}

func (s *HTTPStore) PutBlock(ctx context.Context, segmentPath string, blockfileID, blockID BlockID, data []byte) error {
	return s.Put(ctx, blockPath(segmentPath, blockfileID, blockID), data)
}

func (s *HTTPStore) GetSparseIndex(ctx context.Context, segmentPath string, blockfileID BlockfileID) ([]byte, error) {
	return s.Get(ctx, sparseIndexPath(segmentPath, blockfileID))
}

func (s *HTTPStore) PutSparseIndex(ctx context.Context, segmentPath string, blockfileID BlockfileID, data []byte) error {
	return s.Put(ctx, sparseIndexPath(segmentPath, blockfileID), data)
}

func (s *HTTPStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.do(ctx, http.MethodGet, key, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, notFound("HTTPStore.Get", key)
	}
	if resp.StatusCode >= 300 {
		return nil, errkind.New(errkind.Transient, "HTTPStore.Get", fmt.Sprintf("unexpected status %d for %s", resp.StatusCode, key))
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "HTTPStore.Get", err)
	}
	return b, nil
}

func (s *HTTPStore) Put(ctx context.Context, key string, data []byte) error {
	resp, err := s.do(ctx, http.MethodPut, key, data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errkind.New(errkind.Transient, "HTTPStore.Put", fmt.Sprintf("unexpected status %d for %s", resp.StatusCode, key))
	}
	return nil
}

func (s *HTTPStore) Delete(ctx context.Context, key string) error {
	resp, err := s.do(ctx, http.MethodDelete, key, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return errkind.New(errkind.Transient, "HTTPStore.Delete", fmt.Sprintf("unexpected status %d for %s", resp.StatusCode, key))
	}
	return nil
}

func (s *HTTPStore) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := s.do(ctx, http.MethodHead, key, nil)
	if err != nil {
		var perm *errkind.Error
		if errors.As(err, &perm) && perm.Kind == errkind.NotFound {
			return false, nil
		}
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return resp.StatusCode < 300, nil
}

// List asks the remote endpoint for every key under prefix via a
// "?prefix=" query, one key per line in the response body -- the simplest
// contract an HTTP object-store façade in front of any real backend
// (S3, GCS, ...) can expose without this module depending on a specific
// cloud SDK.
func (s *HTTPStore) List(ctx context.Context, prefix string) ([]string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.base+"/?prefix="+url.QueryEscape(prefix), nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "HTTPStore.List", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "HTTPStore.List", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, errkind.New(errkind.Transient, "HTTPStore.List", fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "HTTPStore.List", err)
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

var _ Store = (*HTTPStore)(nil)
