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
	"context"
	"fmt"

	"zombiezen.com/go/log"
)

// Framed stderr tags. Every reply to an operation is preceded by zero or
// more of these; STDERR_LAST signals that the operation's own reply
// follows immediately.
const (
	stderrNext          uint64 = 0x6f6c6d67
	stderrRead          uint64 = 0x64617461
	stderrWrite         uint64 = 0x64617416
	stderrLast          uint64 = 0x616c7473
	stderrError         uint64 = 0x63787470
	stderrStartActivity uint64 = 0x53545254
	stderrStopActivity  uint64 = 0x53544f50
	stderrResult        uint64 = 0x52534c54
)

// Error is a structured error reported by the daemon over STDERR_ERROR.
type Error struct {
	Message string
	Level   int
	// Exit is the process exit code the daemon associated with the
	// error, for operations that model a build.
	Exit int
}

func (e *Error) Error() string {
	return fmt.Sprintf("daemon: %s", e.Message)
}

// readInput is invoked when the daemon sends STDERR_READ, requesting
// more bytes of a write-to-store operation's input. It is nil for
// read-only operations, which never receive STDERR_READ.
type readInput func(n int) ([]byte, error)

// processStderr drains the framed stderr stream until STDERR_LAST,
// forwarding informational frames to the log and returning any
// STDERR_ERROR as an *[Error]. readIn is consulted for STDERR_READ
// frames; it may be nil if the operation has no input to stream.
func (c *Conn) processStderr(readIn readInput) error {
	ctx := context.Background()
	for {
		tag, err := c.r.readUint64()
		if err != nil {
			return err
		}
		switch tag {
		case stderrLast:
			return nil
		case stderrNext:
			msg, err := c.r.readString()
			if err != nil {
				return err
			}
			log.Debugf(ctx, "daemon: %s", msg)
		case stderrRead:
			n, err := c.r.readUint64()
			if err != nil {
				return err
			}
			if readIn == nil {
				return fmt.Errorf("daemon: unexpected STDERR_READ")
			}
			buf, err := readIn(int(n))
			if err != nil {
				return err
			}
			if err := c.w.writeBytes(buf); err != nil {
				return err
			}
			if err := c.w.flush(); err != nil {
				return err
			}
		case stderrWrite:
			if _, err := c.r.readBytes(); err != nil {
				return err
			}
		case stderrError:
			e, err := readStderrError(c.r, c.version)
			if err != nil {
				return err
			}
			return e
		case stderrStartActivity:
			if err := skipStartActivity(c.r); err != nil {
				return err
			}
		case stderrStopActivity:
			if _, err := c.r.readUint64(); err != nil {
				return err
			}
		case stderrResult:
			if err := skipResult(c.r); err != nil {
				return err
			}
		default:
			return fmt.Errorf("daemon: unknown stderr tag %#x", tag)
		}
	}
}

func readStderrError(r *reader, version ProtocolVersion) (*Error, error) {
	if version.Minor() < 26 {
		msg, err := r.readString()
		if err != nil {
			return nil, err
		}
		exit, err := r.readUint64()
		if err != nil {
			return nil, err
		}
		return &Error{Message: msg, Exit: int(exit)}, nil
	}

	if _, err := r.readString(); err != nil { // error type name, always "Error"
		return nil, err
	}
	msg, err := r.readString()
	if err != nil {
		return nil, err
	}
	level, err := r.readUint64()
	if err != nil {
		return nil, err
	}
	n, err := r.readUint64() // number of traces
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		if _, err := r.readString(); err != nil { // trace position (usually empty)
			return nil, err
		}
		if _, err := r.readString(); err != nil { // trace message
			return nil, err
		}
	}
	return &Error{Message: msg, Level: int(level)}, nil
}

// skipStartActivity consumes a STDERR_START_ACTIVITY frame's payload,
// which the cache has no use for beyond keeping the stream in sync.
func skipStartActivity(r *reader) error {
	if _, err := r.readUint64(); err != nil { // activity id
		return err
	}
	if _, err := r.readUint64(); err != nil { // level
		return err
	}
	if _, err := r.readUint64(); err != nil { // type
		return err
	}
	if _, err := r.readString(); err != nil { // text
		return err
	}
	n, err := r.readUint64() // field count
	if err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		kind, err := r.readUint64()
		if err != nil {
			return err
		}
		if kind == 0 {
			if _, err := r.readUint64(); err != nil {
				return err
			}
		} else {
			if _, err := r.readString(); err != nil {
				return err
			}
		}
	}
	if _, err := r.readUint64(); err != nil { // parent activity id
		return err
	}
	return nil
}

// skipResult consumes a STDERR_RESULT frame, forwarded from an in-flight
// activity but otherwise unused by the cache.
func skipResult(r *reader) error {
	if _, err := r.readUint64(); err != nil { // activity id
		return err
	}
	if _, err := r.readUint64(); err != nil { // result type
		return err
	}
	n, err := r.readUint64()
	if err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		kind, err := r.readUint64()
		if err != nil {
			return err
		}
		if kind == 0 {
			if _, err := r.readUint64(); err != nil {
				return err
			}
		} else {
			if _, err := r.readString(); err != nil {
				return err
			}
		}
	}
	return nil
}
