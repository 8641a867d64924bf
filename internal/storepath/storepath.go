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

// Package storepath parses and validates Nix store paths:
// "<storeDir>/<32-char Nix-Base32 hash>-<name>".
package storepath

import (
	"fmt"
	"strings"

	"harmonia.dev/cache/internal/nixbase32"
)

// HashPartLen is the length in characters of the Nix-Base32 hash part of
// a store path's basename.
const HashPartLen = 32

// digestSize is the number of raw bytes encoded by a store path's hash part
// (20 bytes of SHA-256 truncated via compressHash in the real Nix, but
// Harmonia only ever receives already-formed hash parts from the daemon
// and never recomputes them, so only the length is validated here).
const digestSize = 20

// DefaultStoreDirectory is the conventional Nix store location.
const DefaultStoreDirectory Directory = "/nix/store"

// A Directory is the prefix under which every [Path] in a given store is
// rooted, e.g. "/nix/store".
type Directory string

// Object returns the store path formed by joining dir with baseName,
// validating it.
func (dir Directory) Object(baseName string) (Path, error) {
	return Parse(dir, string(dir)+"/"+baseName)
}

// Path represents a single, validated Nix store path. The zero value is
// not a valid Path.
type Path struct {
	s       string // full path
	dirLen  int    // length of the storeDir prefix, not including trailing slash
	hashEnd int    // offset of the '-' separating hash part from name
}

// Parse validates s as a store path rooted at dir and returns it.
// Parsing is byte-exact: s is never normalized, case-folded, or
// reassembled from components, so String() always returns the exact
// input for a successfully parsed path.
func Parse(dir Directory, s string) (Path, error) {
	prefix := string(dir)
	if !strings.HasPrefix(s, prefix) || len(s) <= len(prefix) || s[len(prefix)] != '/' {
		return Path{}, fmt.Errorf("parse store path %q: does not start with %q", s, prefix)
	}
	base := s[len(prefix)+1:]
	if strings.ContainsRune(base, '/') {
		return Path{}, fmt.Errorf("parse store path %q: base name contains slash", s)
	}
	if len(base) <= HashPartLen+1 {
		return Path{}, fmt.Errorf("parse store path %q: too short", s)
	}
	hashPart := base[:HashPartLen]
	if base[HashPartLen] != '-' {
		return Path{}, fmt.Errorf("parse store path %q: missing '-' after hash part", s)
	}
	if !nixbase32.ValidString(hashPart) {
		return Path{}, fmt.Errorf("parse store path %q: invalid hash part %q", s, hashPart)
	}
	name := base[HashPartLen+1:]
	if !validName(name) {
		return Path{}, fmt.Errorf("parse store path %q: invalid name %q", s, name)
	}
	if len(s) > 211+len(prefix)+1 {
		return Path{}, fmt.Errorf("parse store path %q: exceeds maximum length", s)
	}
	return Path{s: s, dirLen: len(prefix), hashEnd: len(prefix) + 1 + HashPartLen}, nil
}

// validName reports whether name matches the grammar [A-Za-z0-9+._?=-]+.
func validName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		case c == '+' || c == '-' || c == '.' || c == '_' || c == '?' || c == '=':
		default:
			return false
		}
	}
	return true
}

// IsZero reports whether p is the zero Path.
func (p Path) IsZero() bool {
	return p.s == ""
}

// String returns the full store path.
func (p Path) String() string {
	return p.s
}

// Dir returns the store directory p was parsed relative to (without a
// trailing slash).
func (p Path) Dir() Directory {
	return Directory(p.s[:p.dirLen])
}

// HashPart returns the 32-character Nix-Base32 hash part of the path's
// basename, suitable for O(1) lookup routing.
func (p Path) HashPart() string {
	return p.s[p.dirLen+1 : p.hashEnd]
}

// Name returns the portion of the basename after the hash part and its
// separating hyphen.
func (p Path) Name() string {
	return p.s[p.hashEnd+1:]
}

// BaseName returns the path's basename: "<hashPart>-<name>".
func (p Path) BaseName() string {
	return p.s[p.dirLen+1:]
}

// IsDerivation reports whether p names a ".drv" file.
func (p Path) IsDerivation() bool {
	return strings.HasSuffix(p.Name(), ".drv")
}

// HashPart extracts the 32-character Nix-Base32 hash part from a store
// path basename (not a full path), for routing requests that only carry
// the hash part, such as "<hash>.narinfo".
func HashPart(baseNameOrHashPart string) (string, bool) {
	if len(baseNameOrHashPart) < HashPartLen {
		return "", false
	}
	hp := baseNameOrHashPart[:HashPartLen]
	if !nixbase32.ValidString(hp) {
		return "", false
	}
	return hp, true
}
