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
	"testing"
)

func TestServeNARWholeBody(t *testing.T) {
	narBytes := []byte("pretend this is a NAR stream of bytes")
	client := startFakeDaemon(t, fakeDaemon{
		hashToPath: map[string]string{testHash: testStorePath},
		pathInfo: map[string]fakePathInfo{
			testStorePath: {narHash: testNarHash, narSize: int64(len(narBytes))},
		},
		nar: map[string][]byte{testStorePath: narBytes},
	})
	s := New(Config{Daemon: client, VirtualStoreDir: "/nix/store"})

	req := httptest.NewRequest(http.MethodGet, "/nar/"+testNarHash+".nar?hash="+testHash, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200, body: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != string(narBytes) {
		t.Errorf("body = %q; want %q", got, narBytes)
	}
}

func TestServeNARRange(t *testing.T) {
	narBytes := []byte("0123456789abcdefghij")
	client := startFakeDaemon(t, fakeDaemon{
		hashToPath: map[string]string{testHash: testStorePath},
		pathInfo: map[string]fakePathInfo{
			testStorePath: {narHash: testNarHash, narSize: int64(len(narBytes))},
		},
		nar: map[string][]byte{testStorePath: narBytes},
	})
	s := New(Config{Daemon: client, VirtualStoreDir: "/nix/store"})

	req := httptest.NewRequest(http.MethodGet, "/nar/"+testNarHash+".nar?hash="+testHash, nil)
	req.Header.Set("Range", "bytes=5-9")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d; want 206, body: %s", rec.Code, rec.Body.String())
	}
	if got, want := rec.Body.String(), "56789"; got != want {
		t.Errorf("body = %q; want %q", got, want)
	}
	if got, want := rec.Header().Get("Content-Range"), "bytes 5-9/20"; got != want {
		t.Errorf("Content-Range = %q; want %q", got, want)
	}
}

func TestServeNARMismatchedHashNotFound(t *testing.T) {
	client := startFakeDaemon(t, fakeDaemon{
		hashToPath: map[string]string{testHash: testStorePath},
		pathInfo: map[string]fakePathInfo{
			testStorePath: {narHash: testNarHash, narSize: 4},
		},
	})
	s := New(Config{Daemon: client, VirtualStoreDir: "/nix/store"})

	wrongNarHash := "2222222222222222222222222222222222222222222222222221"
	req := httptest.NewRequest(http.MethodGet, "/nar/"+wrongNarHash+".nar?hash="+testHash, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d; want 404", rec.Code)
	}
}
