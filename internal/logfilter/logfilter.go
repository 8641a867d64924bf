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

// Package logfilter parses env_logger-style filter directives of the
// form "<level>[,<module>=<level>,...]", e.g. "info,access=debug", and
// answers whether a given module/level pair should be logged.
package logfilter

import (
	"fmt"
	"strings"

	"zombiezen.com/go/log"
)

// Filter maps module name prefixes to minimum log levels. The empty
// module name is the default applied to everything without a more
// specific match.
type Filter struct {
	levels map[string]log.Level
}

// Parse parses a directive string like "info,access=debug,daemon=error".
// An empty string is equivalent to "info".
func Parse(directive string) (*Filter, error) {
	if directive == "" {
		directive = "info"
	}
	f := &Filter{levels: make(map[string]log.Level)}
	for _, part := range strings.Split(directive, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		module, levelName, hasModule := strings.Cut(part, "=")
		if !hasModule {
			levelName, module = module, ""
		}
		level, err := parseLevel(levelName)
		if err != nil {
			return nil, fmt.Errorf("logfilter: %q: %w", directive, err)
		}
		f.levels[module] = level
	}
	if _, ok := f.levels[""]; !ok {
		f.levels[""] = log.Info
	}
	return f, nil
}

func parseLevel(s string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.Debug, nil
	case "info":
		return log.Info, nil
	case "warn", "warning":
		return log.Warn, nil
	case "error":
		return log.Error, nil
	default:
		return 0, fmt.Errorf("unknown level %q", s)
	}
}

// Level returns the minimum level configured for module, falling back to
// the default level when module (or any of its dotted-path ancestors) has
// no specific entry.
func (f *Filter) Level(module string) log.Level {
	for m := module; ; {
		if lvl, ok := f.levels[m]; ok {
			return lvl
		}
		idx := strings.LastIndexByte(m, '.')
		if idx < 0 {
			break
		}
		m = m[:idx]
	}
	return f.levels[""]
}
