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

import (
	"fmt"
	"strconv"
	"strings"
)

// byteRange is a single parsed "bytes=" range spec from a Range header.
// A start of 0 with end -1 covers the entire representation.
type byteRange struct {
	start int64
	end   int64 // -1 if unspecified (meaning "to the end", or a suffix length if start < 0)
}

// isSuffix reports whether start counts backward from the end of the
// representation, as in "Range: bytes=-500".
func (b byteRange) isSuffix() bool { return b.start < 0 }

// resolve pins b against a representation of n bytes, returning the
// concrete, inclusive [start, end] byte offsets. ok is false if the
// range is unsatisfiable for a representation of that size.
func (b byteRange) resolve(n int64) (start, end int64, ok bool) {
	if b.isSuffix() {
		length := -b.start
		if length > n {
			length = n
		}
		return n - length, n - 1, length > 0
	}
	if b.start >= n {
		return 0, 0, false
	}
	end = b.end
	if end < 0 || end >= n {
		end = n - 1
	}
	return b.start, end, true
}

// parseRange parses a single-range-only "bytes=..." Range header value.
// Multi-range requests are accepted but only the first spec is honored,
// matching the degradation the cache allows for NAR bodies.
func parseRange(header string) (byteRange, error) {
	rest, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		unit, _, _ := strings.Cut(header, "=")
		return byteRange{}, fmt.Errorf("httpcache: unsupported range unit %q", unit)
	}
	specs := strings.Split(rest, ",")
	spec := strings.TrimSpace(specs[0])

	start, end, hasDash := strings.Cut(spec, "-")
	switch {
	case hasDash && start == "" && isDigits(end):
		i, err := strconv.ParseInt(end, 10, 64)
		if err != nil {
			return byteRange{}, fmt.Errorf("httpcache: parse range %q: %w", spec, err)
		}
		return byteRange{start: -i, end: -1}, nil
	case hasDash && isDigits(start) && end == "":
		i, err := strconv.ParseInt(start, 10, 64)
		if err != nil {
			return byteRange{}, fmt.Errorf("httpcache: parse range %q: %w", spec, err)
		}
		return byteRange{start: i, end: -1}, nil
	case hasDash && isDigits(start) && isDigits(end):
		i, err := strconv.ParseInt(start, 10, 64)
		if err != nil {
			return byteRange{}, fmt.Errorf("httpcache: parse range %q: %w", spec, err)
		}
		j, err := strconv.ParseInt(end, 10, 64)
		if err != nil {
			return byteRange{}, fmt.Errorf("httpcache: parse range %q: %w", spec, err)
		}
		if j < i {
			return byteRange{}, fmt.Errorf("httpcache: parse range %q: end before start", spec)
		}
		return byteRange{start: i, end: j}, nil
	default:
		return byteRange{}, fmt.Errorf("httpcache: invalid range spec %q", spec)
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func contentRangeHeader(start, end, total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", start, end, total)
}
