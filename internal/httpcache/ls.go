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
	"encoding/json"
	"io"
	"net/http"

	"zombiezen.com/go/log"

	"harmonia.dev/cache/internal/nar"
	"harmonia.dev/cache/internal/nixbase32"
	"harmonia.dev/cache/internal/storepath"
)

// serveLS answers GET/HEAD /{hash}.ls with a JSON directory listing built
// by decoding the store path's NAR serialization in event mode, without
// ever materializing file contents.
func (s *Server) serveLS(ctx context.Context, w http.ResponseWriter, r *http.Request, hash string) {
	if !nixbase32.ValidString(hash) || len(hash) != storepath.HashPartLen {
		http.NotFound(w, r)
		return
	}

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
	if valid, err := s.cfg.Daemon.IsValidPath(ctx, fullPath); err != nil {
		log.Errorf(ctx, "is valid path %s: %v", fullPath, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	} else if !valid {
		http.NotFound(w, r)
		return
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.cfg.Daemon.NarFromPath(ctx, fullPath, pw))
	}()
	defer pr.Close()

	listing, err := nar.List(pr)
	if err != nil {
		log.Errorf(ctx, "list nar %s: %v", fullPath, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodHead {
		return
	}
	if err := json.NewEncoder(w).Encode(listing); err != nil {
		log.Errorf(ctx, "encode listing %s: %v", fullPath, err)
	}
}
