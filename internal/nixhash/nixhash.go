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

// Package nixhash implements the multi-algorithm, multi-format hash type
// used throughout the Nix store protocol: MD5, SHA-1, SHA-256, and SHA-512
// digests printable as hex, Nix-Base32, standard Base64, or a Subresource
// Integrity expression.
package nixhash

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"harmonia.dev/cache/internal/nixbase32"
)

// base64Encoding is the alphabet used by Nix for base64-printed hashes.
var base64Encoding = base64.StdEncoding

// Type is an enumeration of algorithms supported by [Hash].
type Type int8

// Hash algorithms.
const (
	MD5 Type = 1 + iota
	SHA1
	SHA256
	SHA512
)

// ParseType matches a string to its hash type,
// returning an error if the string does not name a hash type.
func ParseType(s string) (Type, error) {
	allTypes := [...]Type{MD5, SHA1, SHA256, SHA512}
	for _, typ := range allTypes {
		if s == typ.String() {
			return typ, nil
		}
	}
	return 0, fmt.Errorf("%q is not a hash type", s)
}

// Size returns the size of a hash produced by this type in bytes.
func (typ Type) Size() int {
	switch typ {
	case 0:
		return 0
	case MD5:
		return md5.Size
	case SHA1:
		return sha1.Size
	case SHA256:
		return sha256.Size
	case SHA512:
		return sha512.Size
	default:
		panic("invalid hash type")
	}
}

// String returns the name of the hash algorithm.
func (typ Type) String() string {
	switch typ {
	case MD5:
		return "md5"
	case SHA1:
		return "sha1"
	case SHA256:
		return "sha256"
	case SHA512:
		return "sha512"
	default:
		return fmt.Sprintf("Type(%d)", int(typ))
	}
}

// New returns a new [hash.Hash] object for the algorithm.
func (typ Type) New() hash.Hash {
	switch typ {
	case 0:
		return nil
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	case SHA256:
		return sha256.New()
	case SHA512:
		return sha512.New()
	default:
		panic("invalid hash type")
	}
}

// A Hash is the digest produced by a hash algorithm.
// The zero value is an empty hash with no type.
// Equality of two Hash values is over the raw digest bytes and type;
// Hash is comparable with ==.
type Hash struct {
	typ  Type
	hash [sha512.Size]byte
}

// Sum computes the one-shot digest of b using typ.
func Sum(typ Type, b []byte) Hash {
	h := typ.New()
	h.Write(b)
	return sumState(typ, h)
}

// A Context is an incremental hash computation: call [Context.Write]
// zero or more times, then [Context.Finish] to obtain the digest.
type Context struct {
	typ Type
	h   hash.Hash
}

// NewContext starts an incremental hash computation using typ.
func NewContext(typ Type) *Context {
	return &Context{typ: typ, h: typ.New()}
}

// Write adds more data to the running hash. It never returns an error.
func (c *Context) Write(p []byte) (n int, err error) {
	return c.h.Write(p)
}

// Finish returns the digest of all data written so far.
// The Context remains usable for further writes, as with [hash.Hash].
func (c *Context) Finish() Hash {
	return sumState(c.typ, c.h)
}

func sumState(typ Type, h hash.Hash) Hash {
	if h.Size() != typ.Size() {
		panic("hash size does not match hash type")
	}
	out := Hash{typ: typ}
	h.Sum(out.hash[:0])
	return out
}

// ParseHash parses a hash in the format "<type>:<base16|base32|base64>"
// or "<type>-<base64>" (a [Subresource Integrity hash expression]).
// It is a wrapper around [Hash.UnmarshalText].
//
// [Subresource Integrity hash expression]: https://www.w3.org/TR/SRI/#the-integrity-attribute
func ParseHash(s string) (Hash, error) {
	var h Hash
	if err := h.UnmarshalText([]byte(s)); err != nil {
		return Hash{}, err
	}
	return h, nil
}

// Type returns the hash's algorithm. It returns zero for a zero Hash.
func (h Hash) Type() Type {
	return h.typ
}

// IsZero reports whether h is the zero Hash.
func (h Hash) IsZero() bool {
	return h.typ == 0
}

// Append appends the raw digest bytes of the hash to dst
// and returns the resulting slice.
func (h Hash) Append(dst []byte) []byte {
	return append(dst, h.hash[:h.typ.Size()]...)
}

// String returns the result of [Hash.SRI], or "<nil>" for a zero Hash.
func (h Hash) String() string {
	if h.typ == 0 {
		return "<nil>"
	}
	return h.SRI()
}

// Base16 encodes the hash with hex, prefixed by "<type>:".
func (h Hash) Base16() string {
	return string(h.encode(true, hex.EncodedLen, hexEncode))
}

// RawBase16 encodes the hash with hex, without a type prefix.
func (h Hash) RawBase16() string {
	return string(h.encode(false, hex.EncodedLen, hexEncode))
}

func hexEncode(dst, src []byte) {
	hex.Encode(dst, src)
}

// Base32 encodes the hash with Nix-Base32, prefixed by "<type>:".
func (h Hash) Base32() string {
	return string(h.encode(true, nixbase32.EncodedLen, nixbase32Encode))
}

// RawBase32 encodes the hash with Nix-Base32, without a type prefix.
func (h Hash) RawBase32() string {
	return string(h.encode(false, nixbase32.EncodedLen, nixbase32Encode))
}

func nixbase32Encode(dst, src []byte) {
	copy(dst, nixbase32.Encode(src))
}

// Base64 encodes the hash with standard Base64, prefixed by "<type>:".
func (h Hash) Base64() string {
	return string(h.encode(true, base64Encoding.EncodedLen, base64Encoding.Encode))
}

// RawBase64 encodes the hash with standard Base64, without a type prefix.
func (h Hash) RawBase64() string {
	return string(h.encode(false, base64Encoding.EncodedLen, base64Encoding.Encode))
}

// SRI returns the hash in the format of a [Subresource Integrity hash expression]
// (e.g. "sha256-47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=").
//
// [Subresource Integrity hash expression]: https://www.w3.org/TR/SRI/#the-integrity-attribute
func (h Hash) SRI() string {
	b, _ := h.MarshalText()
	return string(b)
}

// MarshalText implements [encoding.TextMarshaler] by formatting h as a
// Subresource Integrity hash expression. It returns an error for a zero Hash.
func (h Hash) MarshalText() ([]byte, error) {
	if h.typ == 0 {
		return nil, fmt.Errorf("nixhash: cannot marshal zero hash")
	}
	buf := h.encode(true, base64Encoding.EncodedLen, base64Encoding.Encode)
	buf[bytes.IndexByte(buf, ':')] = '-'
	return buf, nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
// See [ParseHash] for the accepted formats.
func (h *Hash) UnmarshalText(s []byte) error {
	sep := [1]byte{':'}
	prefix, rest, hasPrefix := bytes.Cut(s, sep[:])
	isSRI := false
	if !hasPrefix {
		sep[0] = '-'
		prefix, rest, isSRI = bytes.Cut(s, sep[:])
		if !isSRI {
			return fmt.Errorf("parse hash %q: missing prefix", s)
		}
	}
	typ, err := ParseType(string(prefix))
	if err != nil {
		return fmt.Errorf("parse hash %q: %v", s, err)
	}
	switch {
	case isSRI && len(rest) != base64Encoding.EncodedLen(typ.Size()):
		return fmt.Errorf("parse hash %q: wrong length for SRI of type %v", s, typ)
	case len(rest) == hex.EncodedLen(typ.Size()):
		var buf [sha512.Size]byte
		if _, err := hex.Decode(buf[:], rest); err != nil {
			return fmt.Errorf("parse hash %q: %v", s, err)
		}
		h.typ, h.hash = typ, buf
	case len(rest) == nixbase32.EncodedLen(typ.Size()):
		decoded, err := nixbase32.Decode(string(rest))
		if err != nil {
			return fmt.Errorf("parse hash %q: %v", s, err)
		}
		var buf [sha512.Size]byte
		copy(buf[:], decoded)
		h.typ, h.hash = typ, buf
	case len(rest) == base64Encoding.EncodedLen(typ.Size()):
		var buf [sha512.Size]byte
		if _, err := base64Encoding.Decode(buf[:], rest); err != nil {
			return fmt.Errorf("parse hash %q: %v", s, err)
		}
		h.typ, h.hash = typ, buf
	default:
		return fmt.Errorf("parse hash %q: wrong length for hash of type %v", s, typ)
	}
	return nil
}

func (h Hash) encode(includeType bool, encodedLen func(int) int, encode func(dst, src []byte)) []byte {
	if h.typ == 0 {
		return nil
	}
	hashLen := h.typ.Size()
	n := encodedLen(hashLen)
	if includeType {
		n += len(h.typ.String()) + 1
	}

	buf := make([]byte, n)
	off := 0
	if includeType {
		off += copy(buf, h.typ.String())
		buf[off] = ':'
		off++
	}
	encode(buf[off:n], h.hash[:hashLen])
	return buf[:n]
}

// Sink is an [io.Writer] that computes a running hash of everything
// written to it, used to hash NAR streams as they are forwarded to
// clients without buffering the whole payload.
type Sink struct {
	typ   Type
	h     hash.Hash
	total int64
}

// NewSink returns a [Sink] that hashes with typ.
func NewSink(typ Type) *Sink {
	return &Sink{typ: typ, h: typ.New()}
}

var _ io.Writer = (*Sink)(nil)

// Write implements [io.Writer], hashing p and accumulating the byte count.
// It never returns an error.
func (s *Sink) Write(p []byte) (int, error) {
	n, err := s.h.Write(p)
	s.total += int64(n)
	return n, err
}

// Finish returns the total number of bytes written and the resulting hash.
func (s *Sink) Finish() (total int64, sum Hash) {
	return s.total, sumState(s.typ, s.h)
}
