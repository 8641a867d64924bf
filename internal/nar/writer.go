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

package nar

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
)

// Dump walks the filesystem tree rooted at root and writes its NAR
// serialization to w. It runs in bounded memory: file contents are
// streamed directly from disk to w in chunks.
//
// Directory entries are written in strictly ascending byte-lexicographic
// order, as the format requires. Hard links and device/socket/FIFO nodes
// are rejected with [ErrHardlink] or [ErrDeviceNode] respectively, since
// NAR has no node type for either.
func Dump(w io.Writer, root string) error {
	bw := bufio.NewWriter(w)
	if err := writeFramedString(bw, Magic); err != nil {
		return fmt.Errorf("nar: dump %s: %w", root, err)
	}
	if err := dumpNode(bw, root); err != nil {
		return fmt.Errorf("nar: dump %s: %w", root, err)
	}
	return bw.Flush()
}

func dumpNode(w *bufio.Writer, diskPath string) error {
	if err := writeFramedString(w, "("); err != nil {
		return err
	}
	if err := writeFramedString(w, kwType); err != nil {
		return err
	}

	info, err := os.Lstat(diskPath)
	if err != nil {
		return err
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(diskPath)
		if err != nil {
			return err
		}
		if err := writeFramedString(w, kwSymlink); err != nil {
			return err
		}
		if err := writeFramedString(w, kwTarget); err != nil {
			return err
		}
		if err := writeFramedString(w, target); err != nil {
			return err
		}
	case info.Mode().IsDir():
		entries, err := os.ReadDir(diskPath)
		if err != nil {
			return err
		}
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		sort.Strings(names)

		if err := writeFramedString(w, kwDirectory); err != nil {
			return err
		}
		for _, name := range names {
			if !ValidEntryName(name) {
				return fmt.Errorf("entry %q: %w", name, ErrInvalidName)
			}
			if err := writeFramedString(w, kwEntry); err != nil {
				return err
			}
			if err := writeFramedString(w, "("); err != nil {
				return err
			}
			if err := writeFramedString(w, kwName); err != nil {
				return err
			}
			if err := writeFramedString(w, name); err != nil {
				return err
			}
			if err := writeFramedString(w, kwNode); err != nil {
				return err
			}
			if err := dumpNode(w, path.Join(diskPath, name)); err != nil {
				return err
			}
			if err := writeFramedString(w, ")"); err != nil {
				return err
			}
		}
	case info.Mode().IsRegular():
		if info.Sys() != nil && hasMultipleLinks(info) {
			return fmt.Errorf("%s: %w", diskPath, ErrHardlink)
		}
		if err := writeFramedString(w, kwRegular); err != nil {
			return err
		}
		if info.Mode()&0o111 != 0 {
			if err := writeFramedString(w, kwExecutable); err != nil {
				return err
			}
			if err := writeFramedString(w, ""); err != nil {
				return err
			}
		}
		if err := writeFramedString(w, kwContents); err != nil {
			return err
		}
		if err := dumpFileContents(w, diskPath, info.Size()); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%s: %w", diskPath, ErrDeviceNode)
	}

	return writeFramedString(w, ")")
}

func dumpFileContents(w *bufio.Writer, diskPath string, size int64) error {
	f, err := os.Open(diskPath)
	if err != nil {
		return err
	}
	defer f.Close()

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(size))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	n, err := io.CopyN(w, f, size)
	if err != nil && err != io.EOF {
		return err
	}
	if n != size {
		return fmt.Errorf("%s: file size changed during read (declared %d, copied %d)", diskPath, size, n)
	}
	if pad := padLen(int(size)); pad > 0 {
		var zero [8]byte
		if _, err := w.Write(zero[:pad]); err != nil {
			return err
		}
	}
	return nil
}

