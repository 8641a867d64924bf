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
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"
	"zombiezen.com/go/log"

	"harmonia.dev/cache/internal/daemonpool"
	"harmonia.dev/cache/internal/nixstore"
	"harmonia.dev/cache/internal/signer"
)

// Version is the cache's reported version string, set by the command
// that constructs the [Server].
var Version = "dev"

// Config configures a [Server].
type Config struct {
	// Daemon is the client used to talk to the Nix daemon socket.
	Daemon *daemonpool.Client
	// Signer signs every narinfo's fingerprint. May be nil, in which
	// case no Sig: lines are emitted.
	Signer *signer.Signer
	// VirtualStoreDir is the store directory advertised in narinfo and
	// nix-cache-info, e.g. "/nix/store".
	VirtualStoreDir string
	// RealStoreDir is the store directory on local disk, used to serve
	// /serve. Defaults to VirtualStoreDir.
	RealStoreDir string
	// StateDir is the Nix state directory (holding build logs under
	// state/log), used to serve /log.
	StateDir string
	// Priority is advertised in nix-cache-info; lower wins against
	// other caches.
	Priority int
	// MaxConnectionRate bounds concurrently admitted requests. Zero
	// means unbounded.
	MaxConnectionRate int
	// Metrics records request counts and latencies. A fresh [NewMetrics]
	// is used if nil.
	Metrics *Metrics
	// Bucket, if non-nil, serves compressed /nar requests: a stored
	// pre-compressed copy is sent as is, and a stored uncompressed copy
	// is transcoded to xz or zstd. Compressed requests are never passed
	// to the daemon, and uncompressed requests always stream from it.
	Bucket *nixstore.Bucket
}

// Server is the cache's HTTP handler.
type Server struct {
	cfg Config
	sem *semaphore.Weighted
}

// New returns a [Server] for cfg.
func New(cfg Config) *Server {
	if cfg.RealStoreDir == "" {
		cfg.RealStoreDir = cfg.VirtualStoreDir
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	s := &Server{cfg: cfg}
	if cfg.MaxConnectionRate > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxConnectionRate))
	}
	return s
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.sem != nil {
		ctx := r.Context()
		if err := s.sem.Acquire(ctx, 1); err != nil {
			http.Error(w, "server busy", http.StatusServiceUnavailable)
			return
		}
		defer s.sem.Release(1)
	}

	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	route := s.route(sw, r)
	s.cfg.Metrics.observe(r.Method, route, sw.status, time.Since(start))
}

// statusWriter records the status code written through it.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(p []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(p)
}

// route dispatches the request and returns a route label for metrics,
// e.g. "/{hash}.narinfo" rather than the literal path.
func (s *Server) route(w http.ResponseWriter, r *http.Request) string {
	ctx := r.Context()
	path := r.URL.Path

	switch path {
	case "/":
		methodGetHead(s.serveIndex).ServeHTTP(w, r)
		return "/"
	case "/version":
		methodGetHead(s.serveVersion).ServeHTTP(w, r)
		return "/version"
	case "/health":
		methodGetHead(s.serveHealth).ServeHTTP(w, r)
		return "/health"
	case "/nix-cache-info":
		methodGetHead(s.serveCacheInfo).ServeHTTP(w, r)
		return "/nix-cache-info"
	case "/metrics":
		promhttp.Handler().ServeHTTP(w, r)
		return "/metrics"
	}

	if hash, ok := cutSuffix(path, NARInfoExtension); ok {
		hash = strings.TrimPrefix(hash, "/")
		methodGetHead(func(w http.ResponseWriter, r *http.Request) {
			s.serveNARInfo(ctx, w, r, hash)
		}).ServeHTTP(w, r)
		return "/{hash}.narinfo"
	}

	if narHash, ext, ok := parseNARPath(path); ok {
		methodGetHead(func(w http.ResponseWriter, r *http.Request) {
			s.serveNAR(ctx, w, r, narHash, ext)
		}).ServeHTTP(w, r)
		return "/nar/{narhash}.nar"
	}

	if hash, ok := cutSuffix(path, ".ls"); ok {
		hash = strings.TrimPrefix(hash, "/")
		methodGetHead(func(w http.ResponseWriter, r *http.Request) {
			s.serveLS(ctx, w, r, hash)
		}).ServeHTTP(w, r)
		return "/{hash}.ls"
	}

	if tail, ok := strings.CutPrefix(path, "/log/"); ok {
		methodGetHead(func(w http.ResponseWriter, r *http.Request) {
			s.serveLog(ctx, w, r, tail)
		}).ServeHTTP(w, r)
		return "/log/{drvbasename}"
	}

	if tail, ok := strings.CutPrefix(path, "/serve/"); ok {
		methodGetHead(func(w http.ResponseWriter, r *http.Request) {
			s.serveStoreFile(ctx, w, r, tail)
		}).ServeHTTP(w, r)
		return "/serve/{hash}/{tail}"
	}

	log.Debugf(ctx, "404 %s", path)
	http.NotFound(w, r)
	return "(unmatched)"
}

func methodGetHead(fn func(http.ResponseWriter, *http.Request)) http.Handler {
	h := http.HandlerFunc(fn)
	return handlers.MethodHandler{
		http.MethodGet:  h,
		http.MethodHead: h,
	}
}

func cutSuffix(s, suffix string) (before string, ok bool) {
	if !strings.HasSuffix(s, suffix) {
		return "", false
	}
	return s[:len(s)-len(suffix)], true
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!DOCTYPE html><title>Harmonia cache</title><h1>Harmonia cache</h1><p>Serving %s</p>", s.cfg.VirtualStoreDir)
}

func (s *Server) serveVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, Version)
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "OK\n")
}

const cacheInfoMIMEType = "text/x-nix-cache-info"

func (s *Server) serveCacheInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", cacheInfoMIMEType)
	fmt.Fprintf(w, "StoreDir: %s\nWantMassQuery: 1\nPriority: %d\n", s.cfg.VirtualStoreDir, s.cfg.Priority)
}
