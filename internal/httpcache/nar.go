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

package httpcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"zombiezen.com/go/log"

	"harmonia.dev/cache/internal/nixbase32"
	"harmonia.dev/cache/internal/nixstore"
	"harmonia.dev/cache/internal/xzcmd"
)

const narContentType = "application/x-nix-archive"

// narExtensions maps the recognized suffix after ".nar" in a /nar URL to
// the compression it names. Narinfo responses use the None suffix
// unless the at-rest bucket holds a pre-compressed copy, in which case
// they advertise that copy's suffix.
var narExtensions = map[string]CompressionType{
	"":     None,
	".bz2": Bzip2,
	".xz":  XZ,
	".zst": Zstandard,
}

// parseNARPath splits "/nar/<narhash>.nar[.ext]" into the NixBase32 narhash
// and the [CompressionType] its extension names. ok is false if
// path isn't under /nar/ or the extension is unrecognized.
func parseNARPath(path string) (narHash string, ext CompressionType, ok bool) {
	rest, ok := strings.CutPrefix(path, "/nar/")
	if !ok {
		return "", "", false
	}
	base, suffix, ok := strings.Cut(rest, ".nar")
	if !ok || base == "" {
		return "", "", false
	}
	ext, recognized := narExtensions[suffix]
	if !recognized {
		return "", "", false
	}
	return base, ext, true
}

// errRangeDone is written back up through [io.Copy] to signal that a
// range-limited write has delivered every byte the client asked for; it
// never reaches the caller as a real failure.
var errRangeDone = errors.New("httpcache: range satisfied")

// rangeWriter adapts an io.Writer to skip the first skip bytes of
// whatever is written to it and stop after remain more bytes, without
// requiring the underlying source to support seeking — necessary because
// NAR bytes are streamed live from the daemon, not read from a seekable
// file.
type rangeWriter struct {
	w      interface{ Write([]byte) (int, error) }
	skip   int64
	remain int64
}

func (rw *rangeWriter) Write(p []byte) (int, error) {
	total := len(p)
	if rw.skip > 0 {
		if int64(total) <= rw.skip {
			rw.skip -= int64(total)
			return total, nil
		}
		p = p[rw.skip:]
		rw.skip = 0
	}
	if rw.remain <= 0 {
		return total, errRangeDone
	}
	if int64(len(p)) > rw.remain {
		p = p[:rw.remain]
	}
	n, err := rw.w.Write(p)
	rw.remain -= int64(n)
	if err != nil {
		return total, err
	}
	if rw.remain <= 0 {
		return total, errRangeDone
	}
	return total, nil
}

// serveNAR answers GET/HEAD /nar/{narhash}.nar[.ext]?hash={outhash}.
func (s *Server) serveNAR(ctx context.Context, w http.ResponseWriter, r *http.Request, narHash string, ext CompressionType) {
	if !nixbase32.ValidString(narHash) {
		http.NotFound(w, r)
		return
	}
	outHash := r.URL.Query().Get("hash")
	if outHash == "" {
		http.NotFound(w, r)
		return
	}

	fullPath, err := s.cfg.Daemon.QueryPathFromHashPart(ctx, outHash)
	if err != nil {
		log.Errorf(ctx, "query hash part %s: %v", outHash, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if fullPath == "" {
		http.NotFound(w, r)
		return
	}

	info, ok, err := s.cfg.Daemon.QueryPathInfo(ctx, fullPath)
	if err != nil {
		log.Errorf(ctx, "query path info %s: %v", fullPath, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	if strings.TrimPrefix(info.NarHash, "sha256:") != narHash {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", narContentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")

	// A non-None extension can only be satisfied from the at-rest
	// bucket, if configured: the daemon always streams uncompressed
	// bytes, and compressing on the fly would make the final size
	// (hence Content-Length and Range) unknowable in advance.
	if ext != None {
		s.serveNARFromBucket(ctx, w, r, narHash, ext)
		return
	}

	total := info.NarSize
	w.Header().Set("Accept-Ranges", "bytes")

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(total, 10))
		if r.Method == http.MethodHead {
			return
		}
		if err := s.cfg.Daemon.NarFromPath(ctx, fullPath, w); err != nil {
			log.Errorf(ctx, "stream nar %s: %v", fullPath, err)
		}
		return
	}

	br, err := parseRange(rangeHeader)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", total))
		http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
		return
	}
	start, end, ok := br.resolve(total)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", total))
		http.Error(w, "range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	length := end - start + 1
	w.Header().Set("Content-Range", contentRangeHeader(start, end, total))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}

	rw := &rangeWriter{w: w, skip: start, remain: length}
	if err := s.cfg.Daemon.NarFromPath(ctx, fullPath, rw); err != nil && !errors.Is(err, errRangeDone) {
		log.Errorf(ctx, "stream nar range %s: %v", fullPath, err)
	}
}

// serveNARFromBucket satisfies a compressed /nar request, preferring an
// already-compressed object in the optional at-rest bucket and falling
// back to transcoding the bucket's uncompressed copy on the fly for
// ext == XZ or ext == Zstandard. Range requests aren't supported against
// this path since compressed sizes aren't known without a HEAD round trip
// the bucket interface doesn't expose uniformly across providers.
func (s *Server) serveNARFromBucket(ctx context.Context, w http.ResponseWriter, r *http.Request, narHash string, ext CompressionType) {
	if s.cfg.Bucket == nil {
		http.NotFound(w, r)
		return
	}
	rc, err := s.cfg.Bucket.Open(ctx, narHash, ext.extension())
	switch {
	case err == nil:
		defer rc.Close()
		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.Copy(w, rc); err != nil {
			log.Errorf(ctx, "stream bucket nar %s%s: %v", narHash, ext.extension(), err)
		}
		return
	case !errors.Is(err, nixstore.ErrNotFound):
		log.Errorf(ctx, "open bucket nar %s%s: %v", narHash, ext.extension(), err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	case ext != XZ && ext != Zstandard:
		http.NotFound(w, r)
		return
	}

	rc, err = s.cfg.Bucket.Open(ctx, narHash, None.extension())
	if errors.Is(err, nixstore.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		log.Errorf(ctx, "open bucket nar %s: %v", narHash, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer rc.Close()
	if r.Method == http.MethodHead {
		return
	}

	if ext == Zstandard {
		zw, err := zstd.NewWriter(w)
		if err != nil {
			log.Errorf(ctx, "transcode bucket nar %s to zstd: %v", narHash, err)
			return
		}
		if _, err := io.Copy(zw, rc); err != nil {
			log.Errorf(ctx, "transcode bucket nar %s to zstd: %v", narHash, err)
			zw.Close()
			return
		}
		if err := zw.Close(); err != nil {
			log.Errorf(ctx, "transcode bucket nar %s to zstd: %v", narHash, err)
		}
		return
	}

	xzw := xzcmd.NewWriter(w, nil)
	if _, err := io.Copy(xzw, rc); err != nil {
		log.Errorf(ctx, "transcode bucket nar %s to xz: %v", narHash, err)
		return
	}
	if err := xzw.Close(); err != nil {
		log.Errorf(ctx, "transcode bucket nar %s to xz: %v", narHash, err)
	}
}
