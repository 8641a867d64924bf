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

// Package nar implements the NAR (Nix ARchive) format: the canonical,
// sort-order-sensitive serialization of a filesystem subtree used by Nix
// for cache payloads and for content hashing.
//
// Both [Writer] and [Reader] are event-driven and run in bounded memory
// regardless of archive size: file contents are streamed through
// [io.Reader]/[io.Writer] rather than buffered whole.
package nar

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"
)

// Magic is the literal token that begins every NAR.
const Magic = "nix-archive-1"

// EventKind identifies the kind of a parsed [Event].
type EventKind int8

// Event kinds.
const (
	EventDirectory EventKind = 1 + iota
	EventRegular
	EventSymlink
	EventEndDirectory // end of the current directory's entries
)

// An Event describes one node encountered while reading or writing a NAR,
// in the order the grammar in the package doc prescribes. File contents
// are not part of Event; they are streamed separately through the
// [Reader]/[Writer] methods that return after a File event.
type Event struct {
	Kind EventKind

	// Path is the slash-separated path of this node relative to the NAR
	// root, e.g. "" for the root, "foo/bar" for a nested entry. Set for
	// EventDirectory, EventRegular, and EventSymlink.
	Path string

	// Executable is set for EventRegular.
	Executable bool
	// Size is the declared content length in bytes, set for EventRegular.
	Size int64

	// Target is the symlink target, set for EventSymlink.
	Target string
}

// keywords used by the grammar, each written/read as a framed string.
const (
	kwType      = "type"
	kwDirectory = "directory"
	kwRegular   = "regular"
	kwSymlink   = "symlink"
	kwExecutable = "executable"
	kwContents  = "contents"
	kwTarget    = "target"
	kwEntry     = "entry"
	kwName      = "name"
	kwNode      = "node"
)

// writeFramedString writes s as an 8-byte little-endian length, the bytes
// of s, and zero padding out to the next 8-byte boundary.
func writeFramedString(w io.Writer, s string) error {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(s) > 0 {
		if _, err := io.WriteString(w, s); err != nil {
			return err
		}
	}
	if pad := padLen(len(s)); pad > 0 {
		var zero [8]byte
		if _, err := w.Write(zero[:pad]); err != nil {
			return err
		}
	}
	return nil
}

// padLen returns the number of zero bytes needed to round n up to a
// multiple of 8.
func padLen(n int) int {
	return (8 - n%8) % 8
}

// maxTokenLen bounds the length of any single framed string this package
// will read, guarding against a corrupt or hostile stream claiming an
// absurd allocation.
const maxTokenLen = 1 << 30

// readFramedString reads one framed string as written by
// [writeFramedString].
func readFramedString(r io.Reader) (string, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	if n > maxTokenLen {
		return "", fmt.Errorf("nar: token length %d exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	if pad := padLen(int(n)); pad > 0 {
		var zero [8]byte
		if _, err := io.ReadFull(r, zero[:pad]); err != nil {
			return "", err
		}
		for _, b := range zero[:pad] {
			if b != 0 {
				return "", fmt.Errorf("nar: non-zero padding byte")
			}
		}
	}
	return string(buf), nil
}

// expectString reads one framed string and verifies it equals want.
func expectString(r io.Reader, want string) error {
	got, err := readFramedString(r)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("nar: expected %q, got %q", want, got)
	}
	return nil
}

// ErrHardlink is returned by [Writer] when asked to archive a hard link;
// NAR cannot represent shared inode identity, so the grammar has no node
// for it.
var ErrHardlink = fmt.Errorf("nar: hard links are not representable")

// ErrDeviceNode is returned by [Writer] when asked to archive a device,
// socket, or other special file; only regular files, directories, and
// symlinks are representable.
var ErrDeviceNode = fmt.Errorf("nar: device nodes are not representable")

// ErrOutOfOrder is returned by [Reader] when directory entries are not in
// strictly ascending byte-lexicographic order of name.
var ErrOutOfOrder = fmt.Errorf("nar: directory entries out of order")

// ErrInvalidName is returned for a directory entry name that is empty,
// ".", "..", contains a slash or NUL byte, or is not valid UTF-8.
var ErrInvalidName = fmt.Errorf("nar: invalid entry name")

// ValidEntryName reports whether name is permitted as a NAR directory
// entry's name.
func ValidEntryName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return false
		}
	}
	return utf8.ValidString(name)
}
