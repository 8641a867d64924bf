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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNARURL(t *testing.T) {
	got := narURL("abc123", "def456", None)
	want := "nar/def456.nar?hash=abc123"
	if got != want {
		t.Errorf("narURL(%q, %q, None) = %q; want %q", "abc123", "def456", got, want)
	}

	got = narURL("abc123", "def456", Bzip2)
	want = "nar/def456.nar.bz2?hash=abc123"
	if got != want {
		t.Errorf("narURL(%q, %q, Bzip2) = %q; want %q", "abc123", "def456", got, want)
	}
}

func TestNARInfoMarshalText(t *testing.T) {
	info := &NARInfo{
		StorePath:  "/nix/store/abc-foo",
		URL:        "nar/abc.nar?hash=abc",
		NarHash:    "sha256:abc",
		NarSize:    100,
		References: []string{"abc-foo", "def-bar"},
	}
	data, err := info.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error: %v", err)
	}
	want := "StorePath: /nix/store/abc-foo\n" +
		"URL: nar/abc.nar?hash=abc\n" +
		"Compression: none\n" +
		"NarHash: sha256:abc\n" +
		"NarSize: 100\n" +
		"References: abc-foo def-bar\n"
	if diff := cmp.Diff(want, string(data)); diff != "" {
		t.Errorf("MarshalText() (-want +got):\n%s", diff)
	}
}

func TestNARInfoMarshalTextRequiresFields(t *testing.T) {
	info := &NARInfo{}
	if _, err := info.MarshalText(); err == nil {
		t.Error("MarshalText() on empty NARInfo succeeded; want error")
	}
}
