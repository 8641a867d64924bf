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
	"io"
	"net/http"
	"strings"

	"zombiezen.com/go/log"

	"harmonia.dev/cache/internal/nixbase32"
	"harmonia.dev/cache/internal/nixhash"
	"harmonia.dev/cache/internal/storepath"
)

// serveNARInfo answers GET/HEAD /{hash}.narinfo. hash is the 32-character
// Nix-Base32 hash part, with the ".narinfo" suffix already stripped by the
// router.
func (s *Server) serveNARInfo(ctx context.Context, w http.ResponseWriter, r *http.Request, hash string) {
	if !nixbase32.ValidString(hash) || len(hash) != storepath.HashPartLen {
		http.NotFound(w, r)
		return
	}

	storeDir := storepath.Directory(s.cfg.VirtualStoreDir)
	fullPath, err := s.cfg.Daemon.QueryPathFromHashPart(ctx, hash)
	if err != nil {
		log.Errorf(ctx, "query hash part %s: %v", hash, err)
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

	p, err := storepath.Parse(storeDir, fullPath)
	if err != nil {
		log.Errorf(ctx, "parse store path %s: %v", fullPath, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	narHashBase32 := strings.TrimPrefix(info.NarHash, "sha256:")
	compression := None
	fileHash, fileSize := "", int64(0)
	if ct, fh, fs, found := s.probeCompressedNAR(ctx, narHashBase32); found {
		compression, fileHash, fileSize = ct, fh, fs
	}
	ni := &NARInfo{
		StorePath:   fullPath,
		URL:         narURL(hash, narHashBase32, compression),
		Compression: compression,
		FileHash:    fileHash,
		FileSize:    fileSize,
		NarHash:     info.NarHash,
		NarSize:     info.NarSize,
		CA:          info.CA,
	}
	for _, ref := range info.References {
		rp, err := storepath.Parse(storeDir, ref)
		if err != nil {
			log.Errorf(ctx, "parse reference %s: %v", ref, err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		ni.References = append(ni.References, rp.BaseName())
	}
	if info.Deriver != "" {
		dp, err := storepath.Parse(storeDir, info.Deriver)
		if err == nil {
			ni.Deriver = dp.BaseName()
		}
	}

	if s.cfg.Signer != nil {
		sigs, err := s.cfg.Signer.Sign(string(storeDir), p.String(), info.NarHash, info.NarSize, info.References)
		if err != nil {
			log.Errorf(ctx, "sign narinfo %s: %v", fullPath, err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		ni.Sig = sigs
	}

	body, err := ni.MarshalText()
	if err != nil {
		log.Errorf(ctx, "marshal narinfo %s: %v", fullPath, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", NARInfoMIMEType)
	w.Write(body)
}

// probeCompressedNAR checks the optional at-rest bucket for a
// pre-compressed copy of the NAR identified by narHashBase32, in
// descending order of preference, and reports its real compression,
// content hash, and size so the narinfo can advertise a URL the client
// will actually be able to fetch that exact representation from. A miss
// across every known extension (or no configured bucket) means the
// cache only has the daemon-streamed, uncompressed NAR to offer.
func (s *Server) probeCompressedNAR(ctx context.Context, narHashBase32 string) (ct CompressionType, fileHash string, fileSize int64, ok bool) {
	if s.cfg.Bucket == nil {
		return "", "", 0, false
	}
	for _, candidate := range []CompressionType{Zstandard, XZ, Bzip2} {
		ext := candidate.extension()
		has, err := s.cfg.Bucket.Has(ctx, narHashBase32, ext)
		if err != nil {
			log.Errorf(ctx, "probe bucket for %s%s: %v", narHashBase32, ext, err)
			continue
		}
		if !has {
			continue
		}
		rc, err := s.cfg.Bucket.Open(ctx, narHashBase32, ext)
		if err != nil {
			log.Errorf(ctx, "open bucket object %s%s: %v", narHashBase32, ext, err)
			continue
		}
		sink := nixhash.NewSink(nixhash.SHA256)
		_, err = io.Copy(sink, rc)
		rc.Close()
		if err != nil {
			log.Errorf(ctx, "hash bucket object %s%s: %v", narHashBase32, ext, err)
			continue
		}
		size, sum := sink.Finish()
		return candidate, sum.Base32(), size, true
	}
	return "", "", 0, false
}
