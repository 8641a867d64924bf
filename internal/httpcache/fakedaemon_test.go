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

package httpcache

// A minimal, self-contained encoder of the same wire shape
// internal/daemon speaks, used only to play the server side of the
// protocol in tests without depending on that package's unexported
// internals. Mirrors internal/daemonpool's own test fake.

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"harmonia.dev/cache/internal/daemon"
	"harmonia.dev/cache/internal/daemonpool"
)

const (
	fakeClientMagic uint64 = 0x6e697863
	fakeServerMagic uint64 = 0x6478696f
	fakeOurVersion  uint64 = 0x0125 // 1.37
	fakeStderrLast  uint64 = 0x616c7473
)

type fakeCodec struct {
	r *bufio.Reader
	w *bufio.Writer
}

func newFakeCodec(conn net.Conn) *fakeCodec {
	return &fakeCodec{r: bufio.NewReader(conn), w: bufio.NewWriter(conn)}
}

func (c *fakeCodec) readUint64() (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (c *fakeCodec) readString() (string, error) {
	n, err := c.readUint64()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return "", err
	}
	if pad := (8 - int(n)%8) % 8; pad > 0 {
		if _, err := io.CopyN(io.Discard, c.r, int64(pad)); err != nil {
			return "", err
		}
	}
	return string(buf), nil
}

func (c *fakeCodec) writeUint64(v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := c.w.Write(buf[:])
	return err
}

func (c *fakeCodec) writeBool(v bool) error {
	if v {
		return c.writeUint64(1)
	}
	return c.writeUint64(0)
}

func (c *fakeCodec) writeString(s string) error {
	if err := c.writeUint64(uint64(len(s))); err != nil {
		return err
	}
	if _, err := c.w.WriteString(s); err != nil {
		return err
	}
	if pad := (8 - len(s)%8) % 8; pad > 0 {
		var zero [8]byte
		if _, err := c.w.Write(zero[:pad]); err != nil {
			return err
		}
	}
	return nil
}

func (c *fakeCodec) writeStringList(ss []string) error {
	if err := c.writeUint64(uint64(len(ss))); err != nil {
		return err
	}
	for _, s := range ss {
		if err := c.writeString(s); err != nil {
			return err
		}
	}
	return nil
}

// writeNarChunked writes data as the single-chunk framing NarFromPath
// uses on protocol >= 1.23: one (len, bytes, pad) record followed by a
// zero-length terminator.
func (c *fakeCodec) writeNarChunked(data []byte) error {
	if err := c.writeUint64(uint64(len(data))); err != nil {
		return err
	}
	if _, err := c.w.Write(data); err != nil {
		return err
	}
	if pad := (8 - len(data)%8) % 8; pad > 0 {
		var zero [8]byte
		if _, err := c.w.Write(zero[:pad]); err != nil {
			return err
		}
	}
	return c.writeUint64(0)
}

func (c *fakeCodec) flush() error { return c.w.Flush() }

// fakePathInfo is what a fakeDaemon op 26 (QueryPathInfo) handler
// replies with for any store path it's configured to know about.
type fakePathInfo struct {
	deriver    string
	narHash    string // bare base32, no "sha256:" prefix
	references []string
	narSize    int64
	ca         string
}

// fakeDaemon configures startFakeDaemon's canned replies, keyed by the
// requests the test expects httpcache to make.
type fakeDaemon struct {
	// hashToPath answers OpQueryPathFromHashPart.
	hashToPath map[string]string
	// pathInfo answers OpQueryPathInfo.
	pathInfo map[string]fakePathInfo
	// validPaths answers OpIsValidPath.
	validPaths map[string]bool
	// nar answers OpNarFromPath.
	nar map[string][]byte
}

// startFakeDaemon listens on a UNIX socket in a temp directory and
// answers connections according to fd until the test ends, returning a
// ready-to-use [daemonpool.Client].
func startFakeDaemon(t *testing.T, fd fakeDaemon) *daemonpool.Client {
	t.Helper()
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "daemon-socket")
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go serveFakeConn(conn, fd)
		}
	}()

	pool := daemonpool.New(daemonpool.Config{SocketPath: socketPath, MaxConnections: 4})
	t.Cleanup(func() { pool.Close() })
	return daemonpool.NewClient(pool)
}

func serveFakeConn(conn net.Conn, fd fakeDaemon) {
	defer conn.Close()
	c := newFakeCodec(conn)

	if _, err := c.readUint64(); err != nil { // client magic
		return
	}
	if _, err := c.readUint64(); err != nil { // client version
		return
	}
	if err := c.writeUint64(fakeServerMagic); err != nil {
		return
	}
	if err := c.writeUint64(fakeOurVersion); err != nil {
		return
	}
	if err := c.flush(); err != nil {
		return
	}
	if _, err := c.readUint64(); err != nil { // affinity
		return
	}
	if _, err := c.readUint64(); err != nil { // reserve space (bool, but read as u64-sized frame)
		return
	}
	if err := c.writeString("fake/1.0"); err != nil {
		return
	}
	if err := c.writeUint64(1); err != nil { // trusted
		return
	}
	if err := c.writeUint64(fakeStderrLast); err != nil {
		return
	}
	if err := c.flush(); err != nil {
		return
	}

	for {
		op, err := c.readUint64()
		if err != nil {
			return
		}
		switch daemon.Operation(op) {
		case daemon.OpSetOptions:
			for i := 0; i < 12; i++ {
				if _, err := c.readUint64(); err != nil {
					return
				}
			}
			if _, err := c.readUint64(); err != nil { // overrides map
				return
			}
			if err := c.writeUint64(fakeStderrLast); err != nil {
				return
			}
			if err := c.flush(); err != nil {
				return
			}
		case daemon.OpIsValidPath:
			path, err := c.readString()
			if err != nil {
				return
			}
			if err := c.writeUint64(fakeStderrLast); err != nil {
				return
			}
			if err := c.writeBool(fd.validPaths[path]); err != nil {
				return
			}
			if err := c.flush(); err != nil {
				return
			}
		case daemon.OpQueryPathFromHashPart:
			hash, err := c.readString()
			if err != nil {
				return
			}
			if err := c.writeUint64(fakeStderrLast); err != nil {
				return
			}
			if err := c.writeString(fd.hashToPath[hash]); err != nil {
				return
			}
			if err := c.flush(); err != nil {
				return
			}
		case daemon.OpQueryPathInfo:
			path, err := c.readString()
			if err != nil {
				return
			}
			if err := c.writeUint64(fakeStderrLast); err != nil {
				return
			}
			info, ok := fd.pathInfo[path]
			if err := c.writeBool(ok); err != nil {
				return
			}
			if ok {
				if err := c.writeString(info.deriver); err != nil {
					return
				}
				if err := c.writeString(info.narHash); err != nil {
					return
				}
				if err := c.writeStringList(info.references); err != nil {
					return
				}
				if err := c.writeUint64(uint64(time.Now().Unix())); err != nil {
					return
				}
				if err := c.writeUint64(uint64(info.narSize)); err != nil {
					return
				}
				if err := c.writeBool(false); err != nil { // ultimate
					return
				}
				if err := c.writeStringList(nil); err != nil { // signatures
					return
				}
				if err := c.writeString(info.ca); err != nil {
					return
				}
			}
			if err := c.flush(); err != nil {
				return
			}
		case daemon.OpNarFromPath:
			path, err := c.readString()
			if err != nil {
				return
			}
			if err := c.writeUint64(fakeStderrLast); err != nil {
				return
			}
			if err := c.writeNarChunked(fd.nar[path]); err != nil {
				return
			}
			if err := c.flush(); err != nil {
				return
			}
		default:
			return
		}
	}
}
