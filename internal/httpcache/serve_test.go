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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestServeStoreFile(t *testing.T) {
	realStore := t.TempDir()
	pkgDir := filepath.Join(realStore, testHash+"-hello-1.0")
	if err := os.MkdirAll(filepath.Join(pkgDir, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pkgDir, "bin", "hello"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	client := startFakeDaemon(t, fakeDaemon{
		hashToPath: map[string]string{testHash: testStorePath},
	})
	s := New(Config{Daemon: client, VirtualStoreDir: "/nix/store", RealStoreDir: realStore})

	req := httptest.NewRequest(http.MethodGet, "/serve/"+testHash+"/bin/hello", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200, body: %s", rec.Code, rec.Body.String())
	}
	if got, want := rec.Body.String(), "#!/bin/sh\n"; got != want {
		t.Errorf("body = %q; want %q", got, want)
	}
}

func TestServeStoreFileRejectsEscape(t *testing.T) {
	realStore := t.TempDir()
	pkgDir := filepath.Join(realStore, testHash+"-hello-1.0")
	if err := os.Mkdir(pkgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	outside := filepath.Join(realStore, "secret")
	if err := os.WriteFile(outside, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(pkgDir, "escape")); err != nil {
		t.Fatal(err)
	}

	client := startFakeDaemon(t, fakeDaemon{
		hashToPath: map[string]string{testHash: testStorePath},
	})
	s := New(Config{Daemon: client, VirtualStoreDir: "/nix/store", RealStoreDir: realStore})

	req := httptest.NewRequest(http.MethodGet, "/serve/"+testHash+"/escape", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d; want 403", rec.Code)
	}
}

// TestServeStoreFileRejectsLiteralTraversal covers the ".." case
// directly, distinct from TestServeStoreFileRejectsEscape's symlink
// case: the escaping target need not exist on disk at all, since the
// containment check must reject the request from the cleaned path
// string alone, before any symlink resolution or stat touches
// anything outside the store path.
func TestServeStoreFileRejectsLiteralTraversal(t *testing.T) {
	realStore := t.TempDir()
	pkgDir := filepath.Join(realStore, testHash+"-hello-1.0")
	if err := os.Mkdir(pkgDir, 0o755); err != nil {
		t.Fatal(err)
	}

	client := startFakeDaemon(t, fakeDaemon{
		hashToPath: map[string]string{testHash: testStorePath},
	})
	s := New(Config{Daemon: client, VirtualStoreDir: "/nix/store", RealStoreDir: realStore})

	req := httptest.NewRequest(http.MethodGet, "/serve/"+testHash+"/../../etc/passwd", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d; want 403, body: %s", rec.Code, rec.Body.String())
	}
}
