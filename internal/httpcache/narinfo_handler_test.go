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
	"strings"
	"testing"
)

const testHash = "11111111111111111111111111111112"
const testNarHash = "1111111111111111111111111111111111111111111111111112"
const testStorePath = "/nix/store/" + testHash + "-hello-1.0"

func TestServeNARInfo(t *testing.T) {
	client := startFakeDaemon(t, fakeDaemon{
		hashToPath: map[string]string{testHash: testStorePath},
		pathInfo: map[string]fakePathInfo{
			testStorePath: {
				narHash: testNarHash,
				narSize: 1234,
			},
		},
	})
	s := New(Config{Daemon: client, VirtualStoreDir: "/nix/store"})

	req := httptest.NewRequest(http.MethodGet, "/"+testHash+".narinfo", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200, body: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if want := "StorePath: " + testStorePath + "\n"; !strings.Contains(body, want) {
		t.Errorf("body = %q; missing %q", body, want)
	}
	if want := "NarSize: 1234\n"; !strings.Contains(body, want) {
		t.Errorf("body = %q; missing %q", body, want)
	}
}

func TestServeNARInfoUnknownHashNotFound(t *testing.T) {
	client := startFakeDaemon(t, fakeDaemon{})
	s := New(Config{Daemon: client, VirtualStoreDir: "/nix/store"})

	req := httptest.NewRequest(http.MethodGet, "/"+testHash+".narinfo", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d; want 404", rec.Code)
	}
}
