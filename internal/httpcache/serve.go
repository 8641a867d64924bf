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
	"fmt"
	"html"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"zombiezen.com/go/log"

	"harmonia.dev/cache/internal/nixbase32"
	"harmonia.dev/cache/internal/storepath"
)

// serveStoreFile answers GET/HEAD /serve/{hash}/{tail…}, serving a file
// or directory from inside a store path's real, on-disk location.
// Traversal outside the resolved store path — via "..", an absolute
// component, or a symlink escaping it — is rejected with 403.
func (s *Server) serveStoreFile(ctx context.Context, w http.ResponseWriter, r *http.Request, tail string) {
	hash, rest, _ := strings.Cut(tail, "/")
	if !nixbase32.ValidString(hash) || len(hash) != storepath.HashPartLen {
		http.NotFound(w, r)
		return
	}

	virtualDir := storepath.Directory(s.cfg.VirtualStoreDir)
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
	p, err := storepath.Parse(virtualDir, fullPath)
	if err != nil {
		log.Errorf(ctx, "parse store path %s: %v", fullPath, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	realStoreRoot := filepath.Clean(s.cfg.RealStoreDir)
	realStorePath := filepath.Join(realStoreRoot, p.BaseName())

	rest = strings.TrimPrefix(rest, "/")
	requested := realStorePath
	if rest != "" {
		requested = filepath.Join(realStorePath, rest)
	}

	// requested is already filepath.Join-cleaned, so any ".." in rest has
	// collapsed by now. Check containment before EvalSymlinks touches
	// the filesystem, so a traversal attempt never resolves or stats
	// anything outside realStorePath in the first place.
	if requested != realStorePath && !strings.HasPrefix(requested, realStorePath+string(filepath.Separator)) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	resolved, err := filepath.EvalSymlinks(requested)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if resolved != realStorePath && !strings.HasPrefix(resolved, realStorePath+string(filepath.Separator)) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	info, err := os.Stat(resolved)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if info.IsDir() {
		indexPath := filepath.Join(resolved, "index.html")
		if st, err := os.Stat(indexPath); err == nil && st.Mode().IsRegular() {
			http.ServeFile(w, r, indexPath)
			return
		}
		urlPrefix := path.Join("/serve", hash, rest)
		s.serveDirectoryListing(w, r, urlPrefix, resolved, realStoreRoot)
		return
	}

	http.ServeFile(w, r, resolved)
}

func (s *Server) serveDirectoryListing(w http.ResponseWriter, r *http.Request, urlPrefix, dir, realStoreRoot string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	rel := strings.TrimPrefix(dir, realStoreRoot)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!DOCTYPE html><title>Index of %s</title><h1>Index of %s</h1><ul>", html.EscapeString(rel), html.EscapeString(rel))
	for _, e := range entries {
		name := e.Name()
		href := path.Join(urlPrefix, name)
		label := name
		if e.IsDir() {
			label += "/"
			href += "/"
		}
		fmt.Fprintf(w, `<li><a href="%s">%s</a></li>`, (&url.URL{Path: href}).String(), html.EscapeString(label))
	}
	fmt.Fprint(w, "</ul>")
}
