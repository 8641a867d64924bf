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
	"errors"
	"fmt"
	"io"
)

// ErrProtocolUnsupported is returned by [Handshake] when the daemon's
// protocol version is older than this package can speak.
var ErrProtocolUnsupported = errors.New("daemon: unsupported protocol version")

// Conn is a handshaked daemon connection: the negotiated version plus the
// framing primitives layered on top of the raw stream. It does not own
// rwc's lifetime; callers are responsible for closing it.
type Conn struct {
	rwc     io.ReadWriteCloser
	r       *reader
	w       *writer
	version ProtocolVersion
	// trusted reports whether the daemon considers this connection to
	// belong to a trusted user, as advertised during the handshake.
	trusted bool
}

// Handshake performs the client side of the daemon protocol handshake
// over rwc and returns a ready-to-use [Conn].
//
// It does not close rwc on error; the caller owns that responsibility.
func Handshake(rwc io.ReadWriteCloser) (*Conn, error) {
	r := newReader(rwc)
	w := newWriter(rwc)

	if err := w.writeUint64(clientMagic); err != nil {
		return nil, fmt.Errorf("daemon: handshake: %w", err)
	}
	if err := w.writeUint64(uint64(ourProtocolVersion)); err != nil {
		return nil, fmt.Errorf("daemon: handshake: %w", err)
	}
	if err := w.flush(); err != nil {
		return nil, fmt.Errorf("daemon: handshake: %w", err)
	}

	magic, err := r.readUint64()
	if err != nil {
		return nil, fmt.Errorf("daemon: handshake: %w", err)
	}
	if magic != serverMagic {
		return nil, fmt.Errorf("daemon: handshake: bad server magic %#x", magic)
	}
	serverVersionRaw, err := r.readUint64()
	if err != nil {
		return nil, fmt.Errorf("daemon: handshake: %w", err)
	}
	serverVersion := ProtocolVersion(serverVersionRaw)

	negotiated := serverVersion
	if ourProtocolVersion < negotiated {
		negotiated = ourProtocolVersion
	}
	if negotiated < minSupportedProtocolVersion {
		return nil, fmt.Errorf("%w: daemon speaks %s, need at least %s",
			ErrProtocolUnsupported, serverVersion, minSupportedProtocolVersion)
	}

	if negotiated.Minor() >= 14 {
		// Obsolete CPU affinity reservation.
		if err := w.writeUint64(0); err != nil {
			return nil, fmt.Errorf("daemon: handshake: %w", err)
		}
	}
	if negotiated.Minor() >= 11 {
		// Obsolete reserve-space flag.
		if err := w.writeBool(false); err != nil {
			return nil, fmt.Errorf("daemon: handshake: %w", err)
		}
	}
	if err := w.flush(); err != nil {
		return nil, fmt.Errorf("daemon: handshake: %w", err)
	}

	c := &Conn{rwc: rwc, r: r, w: w, version: negotiated}

	if negotiated.Minor() >= 33 {
		if _, err := r.readString(); err != nil { // daemon version string
			return nil, fmt.Errorf("daemon: handshake: %w", err)
		}
	}
	if negotiated.Minor() >= 35 {
		trusted, err := r.readUint64()
		if err != nil {
			return nil, fmt.Errorf("daemon: handshake: %w", err)
		}
		c.trusted = trusted == 1
	}

	if err := c.processStderr(nil); err != nil {
		return nil, fmt.Errorf("daemon: handshake: %w", err)
	}

	return c, nil
}

// Version returns the protocol version negotiated with the daemon.
func (c *Conn) Version() ProtocolVersion { return c.version }

// Trusted reports whether the daemon advertised this connection as
// belonging to a trusted user.
func (c *Conn) Trusted() bool { return c.trusted }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.rwc.Close() }
