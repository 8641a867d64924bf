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

package daemon

import (
	"io"
	"time"
)

// Operation identifies a daemon request. Only the operations the cache
// needs are named here; the daemon protocol has many more.
type Operation uint64

// Operation codes, matching the Nix daemon's WorkerOp enum. These numeric
// values are part of the wire protocol and can never change.
const (
	OpIsValidPath           Operation = 1
	OpQueryValidPaths       Operation = 31
	OpQueryPathInfo         Operation = 26
	OpQueryPathFromHashPart Operation = 29
	OpNarFromPath           Operation = 38
	OpSetOptions            Operation = 19
)

// PathInfo is the information the daemon has about one valid store path.
// Field order matches the wire order of QueryPathInfo's reply:
// deriver, narHash, references, registrationTime, narSize, ultimate,
// signatures, ca.
type PathInfo struct {
	Deriver          string // empty if none
	NarHash          string // "sha256:<base32>"
	References       []string
	RegistrationTime time.Time
	NarSize          int64
	Ultimate         bool
	Signatures       []string
	CA               string // empty if not content-addressed
}

// IsValidPath reports whether storePath is present and valid in the
// daemon's store.
func (c *Conn) IsValidPath(storePath string) (bool, error) {
	if err := c.w.writeUint64(uint64(OpIsValidPath)); err != nil {
		return false, err
	}
	if err := c.w.writeString(storePath); err != nil {
		return false, err
	}
	if err := c.w.flush(); err != nil {
		return false, err
	}
	if err := c.processStderr(nil); err != nil {
		return false, err
	}
	return c.r.readBool()
}

// QueryPathFromHashPart looks up the full store path whose hash part
// (the 32-character NixBase32 prefix of the base name) is hashPart. It
// returns ("", nil) if no such path is registered.
func (c *Conn) QueryPathFromHashPart(hashPart string) (string, error) {
	if err := c.w.writeUint64(uint64(OpQueryPathFromHashPart)); err != nil {
		return "", err
	}
	if err := c.w.writeString(hashPart); err != nil {
		return "", err
	}
	if err := c.w.flush(); err != nil {
		return "", err
	}
	if err := c.processStderr(nil); err != nil {
		return "", err
	}
	return c.r.readString()
}

// QueryPathInfo retrieves metadata about storePath. ok is false if the
// path is not valid in the store, in which case info is zero.
func (c *Conn) QueryPathInfo(storePath string) (info PathInfo, ok bool, err error) {
	if err := c.w.writeUint64(uint64(OpQueryPathInfo)); err != nil {
		return PathInfo{}, false, err
	}
	if err := c.w.writeString(storePath); err != nil {
		return PathInfo{}, false, err
	}
	if err := c.w.flush(); err != nil {
		return PathInfo{}, false, err
	}
	if err := c.processStderr(nil); err != nil {
		return PathInfo{}, false, err
	}
	valid, err := c.r.readBool()
	if err != nil || !valid {
		return PathInfo{}, false, err
	}

	info.Deriver, err = c.r.readString()
	if err != nil {
		return PathInfo{}, false, err
	}
	narHash, err := c.r.readString()
	if err != nil {
		return PathInfo{}, false, err
	}
	info.NarHash = "sha256:" + narHash
	info.References, err = c.r.readStringList()
	if err != nil {
		return PathInfo{}, false, err
	}
	regTime, err := c.r.readUint64()
	if err != nil {
		return PathInfo{}, false, err
	}
	info.RegistrationTime = time.Unix(int64(regTime), 0).UTC()
	narSize, err := c.r.readUint64()
	if err != nil {
		return PathInfo{}, false, err
	}
	info.NarSize = int64(narSize)
	info.Ultimate, err = c.r.readBool()
	if err != nil {
		return PathInfo{}, false, err
	}
	info.Signatures, err = c.r.readStringList()
	if err != nil {
		return PathInfo{}, false, err
	}
	info.CA, err = c.r.readString()
	if err != nil {
		return PathInfo{}, false, err
	}
	return info, true, nil
}

// QueryValidPaths filters paths down to those the daemon considers
// valid. substitute requests that the daemon attempt substitution for
// paths it doesn't already have, which the cache always passes as false
// since it never wants the daemon to trigger a build or fetch on its
// behalf.
func (c *Conn) QueryValidPaths(paths []string, substitute bool) ([]string, error) {
	if err := c.w.writeUint64(uint64(OpQueryValidPaths)); err != nil {
		return nil, err
	}
	if err := c.w.writeStringList(paths); err != nil {
		return nil, err
	}
	if c.version.Minor() >= 27 {
		if err := c.w.writeBool(substitute); err != nil {
			return nil, err
		}
	}
	if err := c.w.flush(); err != nil {
		return nil, err
	}
	if err := c.processStderr(nil); err != nil {
		return nil, err
	}
	return c.r.readStringList()
}

// SetOptions sends the client's option set, which every daemon session
// must do once before issuing any other operation.
func (c *Conn) SetOptions() error {
	if err := c.w.writeUint64(uint64(OpSetOptions)); err != nil {
		return err
	}
	// keepFailed, keepGoing, tryFallback, verbosity, maxBuildJobs,
	// maxSilentTime, useBuildHook (obsolete), verboseBuild,
	// logType (obsolete), printBuildTrace (obsolete), buildCores,
	// useSubstitutes: all zero/false, since the cache never builds.
	zeros := []uint64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	for _, z := range zeros {
		if err := c.w.writeUint64(z); err != nil {
			return err
		}
	}
	if c.version.Minor() >= 12 {
		// Overrides map: empty.
		if err := c.w.writeUint64(0); err != nil {
			return err
		}
	}
	if err := c.w.flush(); err != nil {
		return err
	}
	return c.processStderr(nil)
}

// narChunkReader adapts the daemon's chunked NAR framing — repeated (u64
// len, len bytes, pad) records terminated by a zero-length record — to
// an [io.Reader], for daemons that negotiate the chunked transfer mode.
type narChunkReader struct {
	r         *reader
	remaining int64
	pad       int
	done      bool
}

func (cr *narChunkReader) Read(p []byte) (int, error) {
	for cr.remaining == 0 {
		if cr.done {
			return 0, io.EOF
		}
		if cr.pad > 0 {
			if _, err := io.CopyN(io.Discard, cr.r.r, int64(cr.pad)); err != nil {
				return 0, err
			}
			cr.pad = 0
		}
		n, err := cr.r.readUint64()
		if err != nil {
			return 0, err
		}
		if n == 0 {
			cr.done = true
			return 0, io.EOF
		}
		cr.remaining = int64(n)
		cr.pad = padLen(int(n))
	}
	if int64(len(p)) > cr.remaining {
		p = p[:cr.remaining]
	}
	n, err := cr.r.r.Read(p)
	cr.remaining -= int64(n)
	return n, err
}

// rawNarReader wraps the unchunked transfer mode, where the server
// writes the NAR's bytes directly and its own internal structure
// signals the end. Since the underlying stream has no other framing
// after the NAR, this is just an identity wrapper; it exists so callers
// can treat both modes uniformly.
type rawNarReader struct {
	r *reader
}

func (rr *rawNarReader) Read(p []byte) (int, error) {
	return rr.r.r.Read(p)
}

// NarFromPath requests the NAR serialization of storePath and returns a
// reader over its bytes. The returned reader must be fully drained (or
// the [Conn] discarded) before the connection can be reused. The framed
// stderr stream for this operation has already been consumed when it
// returns. On protocol minor version 23 and later the NAR arrives as
// length-prefixed chunks ended by an empty chunk, which the reader
// unwraps; on older versions the raw NAR bytes follow directly.
func (c *Conn) NarFromPath(storePath string) (io.Reader, error) {
	if err := c.w.writeUint64(uint64(OpNarFromPath)); err != nil {
		return nil, err
	}
	if err := c.w.writeString(storePath); err != nil {
		return nil, err
	}
	if err := c.w.flush(); err != nil {
		return nil, err
	}
	if err := c.processStderr(nil); err != nil {
		return nil, err
	}
	if c.version.Minor() >= 23 {
		return &narChunkReader{r: c.r}, nil
	}
	return &rawNarReader{r: c.r}, nil
}
