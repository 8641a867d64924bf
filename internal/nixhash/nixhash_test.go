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

package nixhash

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestSumAndSRI(t *testing.T) {
	h := Sum(SHA256, nil)
	const want = "sha256-47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU="
	if got := h.SRI(); got != want {
		t.Errorf("Sum(SHA256, nil).SRI() = %q; want %q", got, want)
	}
}

func TestParseHashRoundTrip(t *testing.T) {
	want := Sum(SHA256, []byte("hello"))

	for _, s := range []string{want.Base16(), want.Base32(), want.Base64(), want.SRI()} {
		got, err := ParseHash(s)
		if err != nil {
			t.Errorf("ParseHash(%q) error: %v", s, err)
			continue
		}
		if diff := cmp.Diff(want, got, cmpopts.EquateComparable(Hash{})); diff != "" {
			t.Errorf("ParseHash(%q) (-want +got):\n%s", s, diff)
		}
	}
}

func TestParseHashRejectsBadPrefix(t *testing.T) {
	if _, err := ParseHash("notatype:deadbeef"); err == nil {
		t.Error("ParseHash with unknown type succeeded; want error")
	}
}

func TestParseHashRejectsWrongLength(t *testing.T) {
	if _, err := ParseHash("sha256:deadbeef"); err == nil {
		t.Error("ParseHash with short digest succeeded; want error")
	}
}

func TestContextMatchesSum(t *testing.T) {
	c := NewContext(SHA256)
	c.Write([]byte("hel"))
	c.Write([]byte("lo"))
	got, want := c.Finish(), Sum(SHA256, []byte("hello"))
	if diff := cmp.Diff(want, got, cmpopts.EquateComparable(Hash{})); diff != "" {
		t.Errorf("incremental hash (-want +got):\n%s", diff)
	}
}

func TestSink(t *testing.T) {
	sink := NewSink(SHA256)
	sink.Write([]byte("hel"))
	sink.Write([]byte("lo"))
	total, sum := sink.Finish()
	if total != 5 {
		t.Errorf("total = %d; want 5", total)
	}
	if want := Sum(SHA256, []byte("hello")); sum != want {
		t.Errorf("sum = %v; want %v", sum, want)
	}
}
