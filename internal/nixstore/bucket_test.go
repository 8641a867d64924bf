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

package nixstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"gocloud.dev/blob/fileblob"
)

func openTestBucket(t *testing.T) *Bucket {
	t.Helper()
	dir := t.TempDir()
	b, err := fileblob.OpenBucket(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	return &Bucket{prefix: "", bucket: b}
}

func TestBucketWriteOpenHas(t *testing.T) {
	ctx := context.Background()
	b := openTestBucket(t)

	const narHash = "0123456789abcdefghijklmnopqrstuv"
	if ok, err := b.Has(ctx, narHash, ""); err != nil || ok {
		t.Fatalf("Has before write = %v, %v; want false, <nil>", ok, err)
	}

	if err := b.WriteFrom(ctx, narHash, "", bytes.NewReader([]byte("nar bytes"))); err != nil {
		t.Fatalf("WriteFrom: %v", err)
	}

	if ok, err := b.Has(ctx, narHash, ""); err != nil || !ok {
		t.Fatalf("Has after write = %v, %v; want true, <nil>", ok, err)
	}

	rc, err := b.Open(ctx, narHash, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "nar bytes" {
		t.Errorf("read back %q; want %q", data, "nar bytes")
	}
}

func TestBucketOpenMissingReturnsErrNotFound(t *testing.T) {
	ctx := context.Background()
	b := openTestBucket(t)
	_, err := b.Open(ctx, "missing", ".xz")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Open on missing object error = %v; want ErrNotFound", err)
	}
}
