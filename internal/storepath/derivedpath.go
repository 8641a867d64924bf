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

package storepath

import "strings"

// DerivedPath is a concrete store path, or a reference to one or more
// outputs of a derivation that has not yet been (or does not need to be)
// resolved to concrete output paths.
type DerivedPath struct {
	opaque Path
	drv    Path
	// outputs is nil for Opaque; for Built, nil means "all outputs"
	// (conventionally written as the single output name "*").
	outputs []string
}

// Opaque returns a [DerivedPath] that refers directly to p.
func Opaque(p Path) DerivedPath {
	return DerivedPath{opaque: p}
}

// AllOutputs returns a [DerivedPath] referring to every output of the
// derivation at drvPath.
func AllOutputs(drvPath Path) DerivedPath {
	return DerivedPath{drv: drvPath}
}

// Built returns a [DerivedPath] referring to the named outputs of the
// derivation at drvPath. An empty outputs slice is equivalent to
// [AllOutputs].
func Built(drvPath Path, outputs []string) DerivedPath {
	if len(outputs) == 0 {
		return AllOutputs(drvPath)
	}
	return DerivedPath{drv: drvPath, outputs: outputs}
}

// IsOpaque reports whether dp is a concrete store path.
func (dp DerivedPath) IsOpaque() bool {
	return !dp.opaque.IsZero()
}

// Opaque returns the concrete path dp refers to and true,
// or the zero Path and false if dp is not opaque.
func (dp DerivedPath) Opaque() (Path, bool) {
	return dp.opaque, dp.IsOpaque()
}

// Derivation returns the derivation path dp refers to and true,
// or the zero Path and false if dp is opaque.
func (dp DerivedPath) Derivation() (Path, bool) {
	return dp.drv, !dp.IsOpaque()
}

// Outputs returns the requested output names, or nil if dp refers to all
// outputs or is opaque.
func (dp DerivedPath) Outputs() []string {
	return dp.outputs
}

// IsAllOutputs reports whether dp refers to every output of a derivation.
func (dp DerivedPath) IsAllOutputs() bool {
	return !dp.IsOpaque() && len(dp.outputs) == 0
}

// String formats dp in the conventional "<drvPath>!<out1>,<out2>" form
// used by the Nix CLI, or just the path for an opaque reference. All
// outputs is rendered as "!*".
func (dp DerivedPath) String() string {
	if dp.IsOpaque() {
		return dp.opaque.String()
	}
	if dp.IsAllOutputs() {
		return dp.drv.String() + "!*"
	}
	return dp.drv.String() + "!" + strings.Join(dp.outputs, ",")
}
