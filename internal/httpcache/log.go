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
	"os"
	"path/filepath"

	"github.com/dsnet/compress/bzip2"
	"zombiezen.com/go/log"

	"harmonia.dev/cache/internal/nixbase32"
	"harmonia.dev/cache/internal/storepath"
)

// serveLog answers GET/HEAD /log/{drvbasename}. drvbasename names a
// derivation either by its full store basename ("<hash>-name.drv") or by
// its bare 32-character hash part, in which case it is resolved to a
// basename through the daemon first. Build logs live under the state
// directory's log/nix/drvs/<hash[:2]>/<rest> tree, possibly bzip2
// compressed, and are read directly from local disk rather than through
// the daemon, matching how the rest of the /serve surface works.
func (s *Server) serveLog(ctx context.Context, w http.ResponseWriter, r *http.Request, drvBaseName string) {
	if drvBaseName == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(drvBaseName) == storepath.HashPartLen && nixbase32.ValidString(drvBaseName):
		storeDir := storepath.Directory(s.cfg.VirtualStoreDir)
		drvPath, err := s.cfg.Daemon.QueryPathFromHashPart(ctx, drvBaseName)
		if err != nil {
			log.Errorf(ctx, "query hash part %s: %v", drvBaseName, err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if drvPath == "" {
			http.NotFound(w, r)
			return
		}
		p, err := storepath.Parse(storeDir, drvPath)
		if err != nil {
			log.Errorf(ctx, "parse drv path %s: %v", drvPath, err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		drvBaseName = p.BaseName()
	case len(drvBaseName) > storepath.HashPartLen && nixbase32.ValidString(drvBaseName[:storepath.HashPartLen]):
		// already a full basename
	default:
		http.NotFound(w, r)
		return
	}

	hashPart := drvBaseName[:storepath.HashPartLen]
	rest := drvBaseName[storepath.HashPartLen:]
	logDir := filepath.Join(s.cfg.StateDir, "log", "nix", "drvs", hashPart[:2])
	plainPath := filepath.Join(logDir, hashPart[2:]+rest)
	bz2Path := plainPath + ".bz2"

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	f, err := os.Open(plainPath)
	if err == nil {
		defer f.Close()
		if r.Method == http.MethodHead {
			return
		}
		io.Copy(w, f)
		return
	}
	if !os.IsNotExist(err) {
		log.Errorf(ctx, "open log %s: %v", plainPath, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	f, err = os.Open(bz2Path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	if r.Method == http.MethodHead {
		return
	}
	bz, err := bzip2.NewReader(f, nil)
	if err != nil {
		log.Errorf(ctx, "open bzip2 log %s: %v", bz2Path, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer bz.Close()
	io.Copy(w, bz)
}
