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

// Package nixstore provides an optional at-rest object-store backend for
// pre-compressed NARs, fronting a [blob.Bucket] so that a NAR already
// compressed and uploaded out-of-band can be served without asking the
// daemon to recompute it on every request.
package nixstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	slashpath "path"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
	"gocloud.dev/gcp"
	"zombiezen.com/go/log"
)

// ErrNotFound is returned by [Bucket] methods when the requested object
// is absent from the bucket, distinct from other I/O errors so callers
// can tell a miss from a failure.
var ErrNotFound = errors.New("nixstore: object not found")

// A Bucket caches compressed NARs, keyed by "<narhash><extension>", in a
// [*blob.Bucket]. A miss is reported as [ErrNotFound] rather than as a
// failure.
type Bucket struct {
	prefix string
	bucket *blob.Bucket
}

// OpenBucket opens a [Bucket] rooted at urlstr using opener, matching the
// teacher's newBucketURLOpener convention for constructing a
// [blob.BucketURLOpener] from the ambient environment.
func OpenBucket(ctx context.Context, opener blob.BucketURLOpener, urlstr string) (*Bucket, error) {
	u, err := parseBucketURL(urlstr)
	if err != nil {
		return nil, fmt.Errorf("nixstore: open bucket: %w", err)
	}
	b, err := opener.OpenBucketURL(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("nixstore: open bucket %s: %w", urlstr, err)
	}
	return &Bucket{prefix: slashpath.Clean(u.Path), bucket: b}, nil
}

// Close releases any resources associated with the bucket.
func (b *Bucket) Close() error {
	return b.bucket.Close()
}

// NewURLOpener builds a [blob.BucketURLOpener] that resolves file://,
// gs://, and s3:// bucket URLs, matching the teacher's
// newBucketURLOpener. GCS credentials fall back to an anonymous client
// when the environment has none configured.
func NewURLOpener(ctx context.Context) (blob.BucketURLOpener, error) {
	mux := new(blob.URLMux)
	mux.RegisterBucket(fileblob.Scheme, &fileblob.URLOpener{})

	gcpCreds, err := gcp.DefaultCredentials(ctx)
	var gcsClient *gcp.HTTPClient
	if err != nil {
		log.Debugf(ctx, "Google credentials not set (%v), using anonymous", err)
		gcsClient = gcp.NewAnonymousHTTPClient(gcp.DefaultTransport())
	} else {
		gcsClient, err = gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(gcpCreds))
		if err != nil {
			return nil, err
		}
	}
	mux.RegisterBucket(gcsblob.Scheme, &gcsblob.URLOpener{Client: gcsClient})
	mux.RegisterBucket(s3blob.Scheme, &s3blob.URLOpener{UseV2: true})
	return mux, nil
}

func parseBucketURL(urlstr string) (*url.URL, error) {
	u, err := url.Parse(urlstr)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("%s: cannot use relative URLs", urlstr)
	}
	if u.Opaque != "" {
		return nil, fmt.Errorf("%s: cannot handle opaque URLs", urlstr)
	}
	return u, nil
}

func (b *Bucket) key(narHash, ext string) string {
	if b.prefix == "" || b.prefix == "." || b.prefix == "/" {
		return narHash + ext
	}
	return slashpath.Join(b.prefix, narHash+ext)
}

// Has reports whether a NAR with the given content hash and extension
// (e.g. ".bz2", ".zst", or "" for uncompressed) is present at rest.
func (b *Bucket) Has(ctx context.Context, narHash, ext string) (bool, error) {
	ok, err := b.bucket.Exists(ctx, b.key(narHash, ext))
	if err != nil {
		return false, fmt.Errorf("nixstore: check %s%s: %w", narHash, ext, err)
	}
	return ok, nil
}

// Open returns a reader over the stored bytes for the given NAR, exactly
// as they were uploaded (the caller is responsible for decompressing per
// ext). The caller must close the returned reader.
func (b *Bucket) Open(ctx context.Context, narHash, ext string) (io.ReadCloser, error) {
	r, err := b.bucket.NewReader(ctx, b.key(narHash, ext), nil)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, fmt.Errorf("nixstore: open %s%s: %w", narHash, ext, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("nixstore: open %s%s: %w", narHash, ext, err)
	}
	return r, nil
}

// WriteFrom uploads r's contents as the NAR identified by narHash/ext,
// overwriting any existing object at that key.
func (b *Bucket) WriteFrom(ctx context.Context, narHash, ext string, r io.Reader) error {
	w, err := b.bucket.NewWriter(ctx, b.key(narHash, ext), nil)
	if err != nil {
		return fmt.Errorf("nixstore: write %s%s: %w", narHash, ext, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("nixstore: write %s%s: %w", narHash, ext, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("nixstore: write %s%s: %w", narHash, ext, err)
	}
	return nil
}
