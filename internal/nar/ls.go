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
	"fmt"
	"io"
	"path"
)

// ListingEntry is one node in a [Listing], matching the JSON shape of the
// `.ls` HTTP endpoint: `{"type": ..., "size": ..., "executable": ...,
// "target": ..., "entries": {...}}`.
type ListingEntry struct {
	Type       string                   `json:"type"`
	Size       int64                    `json:"size,omitempty"`
	Executable bool                     `json:"executable,omitempty"`
	Target     string                   `json:"target,omitempty"`
	Entries    map[string]*ListingEntry `json:"entries,omitempty"`
}

// Listing is the top-level `.ls` JSON document: `{"version": 1, "root": {...}}`.
// narOffset is intentionally never populated — clients needing random
// access to NAR bytes must use HTTP range requests instead.
type Listing struct {
	Version int           `json:"version"`
	Root    *ListingEntry `json:"root"`
}

// List runs a [Reader] in pure event mode (contents are never
// materialized) and builds the JSON-serializable [Listing] for r, which
// must be a valid NAR.
//
// It relies on the writer's guarantee that a directory's own event always
// precedes any of its children's events in the stream.
func List(r io.Reader) (*Listing, error) {
	nr := NewReader(r)
	root := &ListingEntry{}
	dirs := map[string]*ListingEntry{"": root}

	for {
		ev, err := nr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("nar: list: %w", err)
		}
		switch ev.Kind {
		case EventDirectory:
			e := dirs[ev.Path]
			if e == nil {
				e = &ListingEntry{}
				dirs[ev.Path] = e
				linkChild(dirs, ev.Path, e)
			}
			e.Type = "directory"
			e.Entries = make(map[string]*ListingEntry)
		case EventRegular:
			e := root
			if ev.Path != "" {
				e = &ListingEntry{}
				linkChild(dirs, ev.Path, e)
			}
			e.Type = "regular"
			e.Size = ev.Size
			e.Executable = ev.Executable
			if _, err := io.Copy(io.Discard, nr); err != nil {
				return nil, fmt.Errorf("nar: list: %w", err)
			}
		case EventSymlink:
			e := root
			if ev.Path != "" {
				e = &ListingEntry{}
				linkChild(dirs, ev.Path, e)
			}
			e.Type = "symlink"
			e.Target = ev.Target
		}
	}
	return &Listing{Version: 1, Root: root}, nil
}

// linkChild attaches child under its parent directory's Entries map. The
// parent must already be present in dirs, since the NAR grammar always
// emits a directory's own node before any of its entries.
func linkChild(dirs map[string]*ListingEntry, childPath string, child *ListingEntry) {
	if childPath == "" {
		return
	}
	parentPath := path.Dir(childPath)
	if parentPath == "." {
		parentPath = ""
	}
	parent := dirs[parentPath]
	name := path.Base(childPath)
	parent.Entries[name] = child
}
