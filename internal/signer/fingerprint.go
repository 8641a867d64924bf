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

// Package signer implements Ed25519 fingerprint signing over narinfo
// fields, with support for multiple simultaneously active keys to allow
// rotation without downtime.
package signer

import (
	"errors"
	"strconv"
	"strings"
)

// Fingerprint errors. These mirror the validation a narinfo's fields must
// pass before they can be meaningfully signed: a signature over a
// malformed fingerprint would be worse than no signature, since it could
// mislead a client into trusting data it shouldn't.
var (
	ErrStorePathTooShort      = errors.New("signer: store path shorter than store directory")
	ErrInvalidStorePrefix     = errors.New("signer: store path does not start with store directory")
	ErrInvalidNarHashPrefix   = errors.New("signer: nar hash must start with \"sha256:\"")
	ErrInvalidNarHashLength   = errors.New("signer: nar hash has the wrong length for sha256")
	ErrInvalidReferencePrefix = errors.New("signer: reference does not start with store directory")
)

// sha256NarHashLen is the length of "sha256:<NixBase32 of 32 bytes>".
const sha256NarHashLen = len("sha256:") + 52

// Fingerprint builds the canonical string that is signed to produce a
// narinfo's Ed25519 signatures:
//
//	1;<storePath>;<narHash>;<narSize>;<comma-joined references>
//
// storePath and every element of references must begin with storeDir;
// narHash must be exactly "sha256:" followed by a 52-character
// Nix-Base32 digest. references is not sorted or deduplicated by this
// function — callers must pass them in the order they should appear,
// which is the daemon's canonical reference order.
func Fingerprint(storeDir, storePath, narHash string, narSize int64, references []string) (string, error) {
	if len(storePath) < len(storeDir) {
		return "", ErrStorePathTooShort
	}
	if storePath[:len(storeDir)] != storeDir {
		return "", ErrInvalidStorePrefix
	}
	if !strings.HasPrefix(narHash, "sha256:") {
		return "", ErrInvalidNarHashPrefix
	}
	if len(narHash) != sha256NarHashLen {
		return "", ErrInvalidNarHashLength
	}
	for _, ref := range references {
		if len(ref) < len(storeDir) {
			return "", ErrStorePathTooShort
		}
		if ref[:len(storeDir)] != storeDir {
			return "", ErrInvalidReferencePrefix
		}
	}

	var sb strings.Builder
	sb.WriteString("1;")
	sb.WriteString(storePath)
	sb.WriteByte(';')
	sb.WriteString(narHash)
	sb.WriteByte(';')
	sb.WriteString(strconv.FormatInt(narSize, 10))
	sb.WriteByte(';')
	for i, ref := range references {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(ref)
	}
	return sb.String(), nil
}
