// Copyright 2023 Ross Light
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//		 https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package daemonpool

import (
	"context"
	"errors"
	"io"

	"harmonia.dev/cache/internal/daemon"
)

// maxRetries bounds how many times an idempotent read may be retried on
// a fresh connection after a connection-level failure.
const maxRetries = 2

// Client is the logical, single entry point callers use to talk to the
// daemon: it multiplexes onto a [Pool] and retries idempotent reads
// transparently.
type Client struct {
	pool *Pool
}

// NewClient returns a [Client] backed by pool.
func NewClient(pool *Pool) *Client {
	return &Client{pool: pool}
}

// Metrics returns the underlying pool's Prometheus collectors.
func (c *Client) Metrics() *Metrics { return c.pool.Metrics() }

// Close drains the underlying pool.
func (c *Client) Close() error { return c.pool.Close() }

// withRetry runs fn against a freshly acquired connection, retrying on a
// new connection up to maxRetries times if fn fails due to what looks
// like a connection-level problem. fn must not retain the *daemon.Conn
// past its call.
func withRetry[T any](ctx context.Context, c *Client, fn func(*daemon.Conn) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		h, err := c.pool.Acquire(ctx)
		if err != nil {
			return zero, err
		}
		v, err := fn(h.Conn())
		if err != nil {
			h.MarkDirty()
			h.Release()
			var daemonErr *daemon.Error
			if errors.As(err, &daemonErr) {
				// The daemon itself rejected the request; a fresh
				// connection would get the same answer.
				return zero, err
			}
			lastErr = err
			continue
		}
		h.Release()
		return v, nil
	}
	return zero, lastErr
}

// IsValidPath reports whether storePath is present and valid in the
// store, retrying on connection failure.
func (c *Client) IsValidPath(ctx context.Context, storePath string) (bool, error) {
	return withRetry(ctx, c, func(conn *daemon.Conn) (bool, error) {
		return conn.IsValidPath(storePath)
	})
}

// QueryPathFromHashPart resolves hashPart to a full store path, if any
// is registered, retrying on connection failure.
func (c *Client) QueryPathFromHashPart(ctx context.Context, hashPart string) (string, error) {
	return withRetry(ctx, c, func(conn *daemon.Conn) (string, error) {
		return conn.QueryPathFromHashPart(hashPart)
	})
}

// QueryPathInfo retrieves metadata about storePath, retrying on
// connection failure.
func (c *Client) QueryPathInfo(ctx context.Context, storePath string) (daemon.PathInfo, bool, error) {
	type result struct {
		info daemon.PathInfo
		ok   bool
	}
	r, err := withRetry(ctx, c, func(conn *daemon.Conn) (result, error) {
		info, ok, err := conn.QueryPathInfo(storePath)
		return result{info, ok}, err
	})
	return r.info, r.ok, err
}

// QueryValidPaths filters paths down to those the daemon considers
// valid, retrying on connection failure. It never asks the daemon to
// substitute missing paths.
func (c *Client) QueryValidPaths(ctx context.Context, paths []string) ([]string, error) {
	return withRetry(ctx, c, func(conn *daemon.Conn) ([]string, error) {
		return conn.QueryValidPaths(paths, false)
	})
}

// NarFromPath streams the NAR serialization of storePath into w.
//
// The connection acquire and request/stderr phase is retried like the
// other operations, since no bytes have reached the caller yet; once
// streaming into w begins, any failure is terminal — the caller's
// output is truncated and the error is returned, matching the contract
// that mid-stream NAR failures must not silently retry and risk writing
// a corrupt response twice.
func (c *Client) NarFromPath(ctx context.Context, storePath string, w io.Writer) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		h, err := c.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		r, err := h.Conn().NarFromPath(storePath)
		if err != nil {
			h.MarkDirty()
			h.Release()
			var daemonErr *daemon.Error
			if errors.As(err, &daemonErr) {
				return err
			}
			lastErr = err
			continue
		}
		_, copyErr := io.Copy(w, r)
		if copyErr != nil {
			h.MarkDirty()
		}
		h.Release()
		return copyErr
	}
	return lastErr
}
