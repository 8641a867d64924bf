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

// Package httpcache implements the cache's HTTP surface: narinfo, NAR,
// listing, log, and directory-serving endpoints on top of a borrowed
// daemon connection pool.
package httpcache

import (
	"bytes"
	"fmt"
)

const (
	// NARInfoExtension is the file extension for a narinfo file.
	NARInfoExtension = ".narinfo"
	// NARInfoMIMEType is the MIME content type served for a narinfo file.
	NARInfoMIMEType = "text/x-nix-narinfo"
)

// CompressionType names the compression used for a NAR as advertised in
// a narinfo's Compression field and the file extension on its URL.
type CompressionType string

// Known compression types. The cache only ever produces None (when
// transport compression is handled by the HTTP layer, not reflected in
// narinfo) or Zstandard/XZ/Bzip2 for a pre-compressed at-rest backend.
const (
	None      CompressionType = "none"
	Bzip2     CompressionType = "bzip2"
	XZ        CompressionType = "xz"
	Zstandard CompressionType = "zstd"
)

func (ct CompressionType) extension() string {
	switch ct {
	case None, "":
		return ""
	case Bzip2:
		return ".bz2"
	case XZ:
		return ".xz"
	case Zstandard:
		return ".zst"
	default:
		return ""
	}
}

// NARInfo is the in-memory representation of a .narinfo document, built
// fresh from a [daemon.PathInfo] for every request — the cache never
// caches this struct across requests.
type NARInfo struct {
	StorePath   string
	URL         string
	Compression CompressionType
	FileHash    string // base32 hash of the compressed NAR; empty if unknown
	FileSize    int64  // size of the compressed NAR; zero if unknown
	NarHash     string // "sha256:<base32>"
	NarSize     int64
	References  []string // basenames
	Deriver     string   // basename, or empty
	CA          string   // empty if not content-addressed
	Sig         []string
}

// MarshalText encodes info as a .narinfo document.
func (info *NARInfo) MarshalText() ([]byte, error) {
	if info.StorePath == "" {
		return nil, fmt.Errorf("narinfo: StorePath is required")
	}
	if info.URL == "" {
		return nil, fmt.Errorf("narinfo: URL is required")
	}
	if info.NarHash == "" {
		return nil, fmt.Errorf("narinfo: NarHash is required")
	}
	if info.NarSize <= 0 {
		return nil, fmt.Errorf("narinfo: NarSize must be positive")
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "StorePath: %s\n", info.StorePath)
	fmt.Fprintf(&buf, "URL: %s\n", info.URL)
	compression := info.Compression
	if compression == "" {
		compression = None
	}
	fmt.Fprintf(&buf, "Compression: %s\n", compression)
	if info.FileHash != "" {
		fmt.Fprintf(&buf, "FileHash: %s\n", info.FileHash)
	}
	if info.FileSize > 0 {
		fmt.Fprintf(&buf, "FileSize: %d\n", info.FileSize)
	}
	fmt.Fprintf(&buf, "NarHash: %s\n", info.NarHash)
	fmt.Fprintf(&buf, "NarSize: %d\n", info.NarSize)
	if len(info.References) > 0 {
		buf.WriteString("References:")
		for _, ref := range info.References {
			buf.WriteByte(' ')
			buf.WriteString(ref)
		}
		buf.WriteByte('\n')
	}
	if info.Deriver != "" {
		fmt.Fprintf(&buf, "Deriver: %s\n", info.Deriver)
	}
	if info.CA != "" {
		fmt.Fprintf(&buf, "CA: %s\n", info.CA)
	}
	for _, sig := range info.Sig {
		fmt.Fprintf(&buf, "Sig: %s\n", sig)
	}
	return buf.Bytes(), nil
}

// narURL builds the URL field of a narinfo: "nar/<narhash>.nar[.ext]?hash=<outhash>".
// narHashBase32 is the NixBase32 digest part of the uncompressed NAR's
// sha256 hash (without the "sha256:" prefix); outHash is the store path's
// own hash part, carried as a query parameter so /nar requests — which
// are keyed by content hash, not store path hash — can still resolve back
// to a store path without a second persistent index.
func narURL(outHash, narHashBase32 string, compression CompressionType) string {
	return "nar/" + narHashBase32 + ".nar" + compression.extension() + "?hash=" + outHash
}
