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

package storepath

import (
	"fmt"
	"strings"

	"harmonia.dev/cache/internal/nixhash"
)

type contentAddressMethod int8

const (
	textIngestionMethod contentAddressMethod = 1 + iota
	flatFileIngestionMethod
	recursiveFileIngestionMethod
)

const (
	caTextPrefix         = "text"
	caFixedPrefix        = "fixed"
	caFixedRecursiveFlag = "r:"
)

// A ContentAddress is a content-addressability assertion attached to a
// [Path], identifying it as "text" (derivation/.drv-like output) or
// "fixed" (fixed-output derivation, hashed flat or recursively as a NAR).
type ContentAddress struct {
	method contentAddressMethod
	hash   nixhash.Hash
}

// TextContentAddress returns a content address for a "text" filesystem
// object with the given hash.
func TextContentAddress(h nixhash.Hash) ContentAddress {
	return ContentAddress{method: textIngestionMethod, hash: h}
}

// FlatFileContentAddress returns a content address for a flat,
// fixed-output derivation with the given hash.
func FlatFileContentAddress(h nixhash.Hash) ContentAddress {
	return ContentAddress{method: flatFileIngestionMethod, hash: h}
}

// RecursiveFileContentAddress returns a content address for a recursive
// (NAR), fixed-output derivation with the given hash.
func RecursiveFileContentAddress(h nixhash.Hash) ContentAddress {
	return ContentAddress{method: recursiveFileIngestionMethod, hash: h}
}

// ParseContentAddress parses a content address in the form
// "text:<ht>:<hash>" or "fixed[:r]:<ht>:<hash>".
func ParseContentAddress(s string) (ContentAddress, error) {
	prefix, rest, ok := strings.Cut(s, ":")
	if !ok {
		return ContentAddress{}, fmt.Errorf("parse content address %q: missing \"text:\" or \"fixed:\" prefix", s)
	}
	var method contentAddressMethod
	switch prefix {
	case caTextPrefix:
		method = textIngestionMethod
	case caFixedPrefix:
		if after, isRecursive := strings.CutPrefix(rest, caFixedRecursiveFlag); isRecursive {
			rest = after
			method = recursiveFileIngestionMethod
		} else {
			method = flatFileIngestionMethod
		}
	default:
		return ContentAddress{}, fmt.Errorf("parse content address %q: invalid prefix %q", s, prefix)
	}
	if !strings.Contains(rest, ":") {
		return ContentAddress{}, fmt.Errorf("parse content address %q: hash must be in form \"<algo>:<hash>\"", s)
	}
	h, err := nixhash.ParseHash(rest)
	if err != nil {
		return ContentAddress{}, fmt.Errorf("parse content address %q: %v", s, err)
	}
	return ContentAddress{method: method, hash: h}, nil
}

// String formats the content address, or returns "" for the zero value.
func (ca ContentAddress) String() string {
	switch ca.method {
	case textIngestionMethod:
		return caTextPrefix + ":" + ca.hash.Base32()
	case flatFileIngestionMethod:
		return caFixedPrefix + ":" + ca.hash.Base32()
	case recursiveFileIngestionMethod:
		return caFixedPrefix + ":" + caFixedRecursiveFlag + ca.hash.Base32()
	default:
		return ""
	}
}

// IsZero reports whether ca is the zero value.
func (ca ContentAddress) IsZero() bool {
	return ca.method == 0
}

// IsText reports whether ca is for a "text" filesystem object.
func (ca ContentAddress) IsText() bool {
	return ca.method == textIngestionMethod
}

// IsFixed reports whether ca is for a fixed-output derivation.
func (ca ContentAddress) IsFixed() bool {
	return ca.method == flatFileIngestionMethod || ca.method == recursiveFileIngestionMethod
}

// IsRecursiveFile reports whether ca is for a fixed-output derivation
// hashed recursively (i.e. over its NAR serialization).
func (ca ContentAddress) IsRecursiveFile() bool {
	return ca.method == recursiveFileIngestionMethod
}

// Hash returns the hash part of the content address.
func (ca ContentAddress) Hash() nixhash.Hash {
	return ca.hash
}

// MarshalText formats ca as in [ContentAddress.String]. It returns an
// error if ca is the zero value.
func (ca ContentAddress) MarshalText() ([]byte, error) {
	s := ca.String()
	if s == "" {
		return nil, fmt.Errorf("marshal content address: invalid content address")
	}
	return []byte(s), nil
}

// UnmarshalText parses data as in [ParseContentAddress].
func (ca *ContentAddress) UnmarshalText(data []byte) error {
	newCA, err := ParseContentAddress(string(data))
	if err != nil {
		return err
	}
	*ca = newCA
	return nil
}
