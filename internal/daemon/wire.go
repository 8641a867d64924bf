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

// Package daemon implements the Nix daemon's UNIX-socket wire protocol:
// typed encoding and decoding of the operations the cache needs, the
// connection handshake, and the framed stderr stream that can interleave
// with any reply.
package daemon

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// ProtocolVersion is packed as (major<<8 | minor), matching the Nix
// daemon's own encoding.
type ProtocolVersion uint16

// Major and Minor return the two halves of the packed version number.
func (v ProtocolVersion) Major() int { return int(v >> 8) }
func (v ProtocolVersion) Minor() int { return int(v & 0xff) }

func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major(), v.Minor())
}

// newProtocolVersion builds a [ProtocolVersion] from separate major/minor
// components.
func newProtocolVersion(major, minor int) ProtocolVersion {
	return ProtocolVersion(major<<8 | minor&0xff)
}

// ourProtocolVersion is the protocol version this package speaks when it
// handshakes as a client. 1.37 is the version the reference
// implementation pins to; this package negotiates down to whatever a
// live daemon reports, but never communicates above this ceiling.
const ourProtocolVersion = ProtocolVersion(0x0125) // 1.37

// minSupportedProtocolVersion is the lowest daemon protocol version this
// package can speak; below this, operations named in this package either
// didn't exist yet or used an incompatible wire shape.
const minSupportedProtocolVersion = ProtocolVersion(0x0115) // 1.21

// Handshake magic numbers, exchanged verbatim (they spell "cxin"/"oixd"
// when read as little-endian ASCII).
const (
	clientMagic uint64 = 0x6e697863
	serverMagic uint64 = 0x6478696f
)

func padLen(n int) int {
	if r := n % 8; r != 0 {
		return 8 - r
	}
	return 0
}

// reader wraps the primitive decode operations used throughout the wire
// protocol. It is not safe for concurrent use.
type reader struct {
	r *bufio.Reader
}

func newReader(r io.Reader) *reader {
	if br, ok := r.(*bufio.Reader); ok {
		return &reader{r: br}
	}
	return &reader{r: bufio.NewReaderSize(r, 32*1024)}
}

func (r *reader) readUint64() (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (r *reader) readBool() (bool, error) {
	v, err := r.readUint64()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// maxStringLen bounds any single string or byte-array field the daemon
// sends, guarding against a misbehaving or malicious peer claiming an
// enormous length and exhausting memory.
const maxStringLen = 256 << 20 // 256 MiB

func (r *reader) readBytes() ([]byte, error) {
	n, err := r.readUint64()
	if err != nil {
		return nil, err
	}
	if n > maxStringLen {
		return nil, fmt.Errorf("daemon: string field too large (%d bytes)", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, err
	}
	if pad := padLen(int(n)); pad > 0 {
		if _, err := io.CopyN(io.Discard, r.r, int64(pad)); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (r *reader) readString() (string, error) {
	b, err := r.readBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) readStringList() ([]string, error) {
	n, err := r.readUint64()
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		out[i], err = r.readString()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// writer wraps the primitive encode operations used throughout the wire
// protocol. It is not safe for concurrent use.
type writer struct {
	w *bufio.Writer
}

func newWriter(w io.Writer) *writer {
	if bw, ok := w.(*bufio.Writer); ok {
		return &writer{w: bw}
	}
	return &writer{w: bufio.NewWriterSize(w, 32*1024)}
}

var zeroPad [8]byte

func (w *writer) writeUint64(v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.w.Write(buf[:])
	return err
}

func (w *writer) writeBool(v bool) error {
	if v {
		return w.writeUint64(1)
	}
	return w.writeUint64(0)
}

func (w *writer) writeBytes(b []byte) error {
	if err := w.writeUint64(uint64(len(b))); err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if pad := padLen(len(b)); pad > 0 {
		if _, err := w.w.Write(zeroPad[:pad]); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) writeString(s string) error {
	return w.writeBytes([]byte(s))
}

func (w *writer) writeStringList(ss []string) error {
	if err := w.writeUint64(uint64(len(ss))); err != nil {
		return err
	}
	for _, s := range ss {
		if err := w.writeString(s); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) flush() error {
	return w.w.Flush()
}
