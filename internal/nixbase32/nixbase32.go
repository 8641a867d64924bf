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

// Package nixbase32 implements Nix's custom Base32 encoding.
//
// The alphabet omits the characters 'e', 'o', 't', and 'u' to avoid
// accidentally spelling words, and bits are packed least-significant-first
// with the resulting digit sequence reversed relative to the input bytes.
// This matches the encoding nix-store uses for hash parts of store paths
// and for printing hashes.
package nixbase32

import (
	"fmt"
	"strings"
)

const alphabet = "0123456789abcdfghijklmnpqrsvwxyz"

// EncodedLen returns the length of the Nix-Base32 encoding of an input
// buffer of length n.
func EncodedLen(n int) int {
	if n == 0 {
		return 0
	}
	return (n*8-1)/5 + 1
}

// DecodedLen returns the maximum length in bytes of the decoded data
// corresponding to an encoded buffer of length n.
func DecodedLen(n int) int {
	return n * 5 / 8
}

// Encode returns the Nix-Base32 encoding of src.
func Encode(src []byte) string {
	if len(src) == 0 {
		return ""
	}
	n := EncodedLen(len(src))
	dst := make([]byte, n)
	for i := 0; i < n; i++ {
		// dst is filled back-to-front: digit i (from the end) covers bit
		// offset i*5 of the input, read least-significant-bit first.
		b := uint64(n-1-i) * 5
		byteIdx := int(b / 8)
		bitIdx := uint(b % 8)
		c := src[byteIdx] >> bitIdx
		if byteIdx+1 < len(src) {
			c |= src[byteIdx+1] << (8 - bitIdx)
		}
		dst[i] = alphabet[c&0x1f]
	}
	return string(dst)
}

// Decode decodes a Nix-Base32 string back into bytes.
//
// It returns an error if s contains a character outside the alphabet, or
// if s decodes to a value whose high bits (beyond the expected output
// length) are nonzero — which can only happen for a string that is not
// the canonical encoding of any byte slice of the implied length.
func Decode(s string) ([]byte, error) {
	n := DecodedLen(len(s))
	dst := make([]byte, n)
	for i := 0; i < len(s); i++ {
		c := s[len(s)-i-1]
		digit := strings.IndexByte(alphabet, c)
		if digit < 0 {
			return nil, fmt.Errorf("nixbase32: invalid character %q", c)
		}
		b := uint64(i) * 5
		byteIdx := int(b / 8)
		bitIdx := uint(b % 8)
		if byteIdx >= n {
			if digit != 0 {
				return nil, fmt.Errorf("nixbase32: %q is not a valid encoding (trailing bits set)", s)
			}
			continue
		}
		dst[byteIdx] |= byte(digit) << bitIdx
		if byteIdx+1 < n {
			dst[byteIdx+1] |= byte(digit) >> (8 - bitIdx)
		} else if digit>>(8-bitIdx) != 0 {
			return nil, fmt.Errorf("nixbase32: %q is not a valid encoding (trailing bits set)", s)
		}
	}
	return dst, nil
}

// IsValidChar reports whether c is part of the Nix-Base32 alphabet.
func IsValidChar(c byte) bool {
	return '0' <= c && c <= '9' ||
		'a' <= c && c <= 'z' && c != 'e' && c != 'o' && c != 't' && c != 'u'
}

// ValidString reports whether s consists entirely of valid Nix-Base32
// characters.
func ValidString(s string) bool {
	for i := 0; i < len(s); i++ {
		if !IsValidChar(s[i]) {
			return false
		}
	}
	return true
}
