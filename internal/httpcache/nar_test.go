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
	"bytes"
	"errors"
	"testing"
)

func TestParseNARPath(t *testing.T) {
	tests := []struct {
		path       string
		wantHash   string
		wantExt    CompressionType
		wantOK     bool
	}{
		{path: "/nar/0123456789abcdefghijklmnopqrstuv.nar", wantHash: "0123456789abcdefghijklmnopqrstuv", wantExt: None, wantOK: true},
		{path: "/nar/0123456789abcdefghijklmnopqrstuv.nar.bz2", wantHash: "0123456789abcdefghijklmnopqrstuv", wantExt: Bzip2, wantOK: true},
		{path: "/nar/0123456789abcdefghijklmnopqrstuv.nar.xz", wantHash: "0123456789abcdefghijklmnopqrstuv", wantExt: XZ, wantOK: true},
		{path: "/nar/0123456789abcdefghijklmnopqrstuv.nar.zst", wantHash: "0123456789abcdefghijklmnopqrstuv", wantExt: Zstandard, wantOK: true},
		{path: "/nar/0123456789abcdefghijklmnopqrstuv.nar.gz", wantOK: false},
		{path: "/narinfo/foo", wantOK: false},
		{path: "/nar/", wantOK: false},
	}
	for _, test := range tests {
		hash, ext, ok := parseNARPath(test.path)
		if ok != test.wantOK {
			t.Errorf("parseNARPath(%q) ok = %v; want %v", test.path, ok, test.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if hash != test.wantHash || ext != test.wantExt {
			t.Errorf("parseNARPath(%q) = %q, %q; want %q, %q", test.path, hash, ext, test.wantHash, test.wantExt)
		}
	}
}

func TestRangeWriter(t *testing.T) {
	tests := []struct {
		name   string
		skip   int64
		remain int64
		writes [][]byte
		want   string
	}{
		{
			name:   "WholeWriteWithinBounds",
			skip:   2,
			remain: 3,
			writes: [][]byte{[]byte("hello world")},
			want:   "llo",
		},
		{
			name:   "SkipSpansMultipleWrites",
			skip:   5,
			remain: 5,
			writes: [][]byte{[]byte("ab"), []byte("cd"), []byte("efghij")},
			want:   "fghij",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			rw := &rangeWriter{w: buf, skip: test.skip, remain: test.remain}
			var lastErr error
			for _, p := range test.writes {
				n, err := rw.Write(p)
				if n != len(p) {
					t.Errorf("Write(%q) n = %d; want %d", p, n, len(p))
				}
				if err != nil {
					lastErr = err
				}
			}
			if buf.String() != test.want {
				t.Errorf("buf = %q; want %q", buf.String(), test.want)
			}
			if lastErr != nil && !errors.Is(lastErr, errRangeDone) {
				t.Errorf("unexpected error: %v", lastErr)
			}
		})
	}
}

func TestRangeWriterSignalsCompletion(t *testing.T) {
	buf := new(bytes.Buffer)
	rw := &rangeWriter{w: buf, skip: 0, remain: 3}
	_, err := rw.Write([]byte("abc"))
	if !errors.Is(err, errRangeDone) {
		t.Errorf("Write() error = %v; want errRangeDone", err)
	}
	if buf.String() != "abc" {
		t.Errorf("buf = %q; want %q", buf.String(), "abc")
	}
}
