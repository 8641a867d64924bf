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

import "testing"

// validHash is 32 characters drawn from the Nix-Base32 alphabet.
const validHash = "a1b2c3d4f5g6h7i8j9k0lmnpqrsvwxyz"

func TestParse(t *testing.T) {
	s := DefaultStoreDirectory.Object
	if _, err := s(validHash + "-hello-1.2.3"); err != nil {
		t.Errorf("valid path rejected: %v", err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"WrongDir", "/nix/storeX/" + validHash + "-hello"},
		{"MissingDash", "/nix/store/" + validHash + "hello"},
		{"ShortHash", "/nix/store/abc-hello"},
		{"EmptyName", "/nix/store/" + validHash + "-"},
		{"SlashInBase", "/nix/store/" + validHash + "-he/llo"},
		{"InvalidHashChar", "/nix/store/" + "e" + validHash[1:] + "-hello"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := Parse(DefaultStoreDirectory, test.path); err == nil {
				t.Errorf("Parse(%q) succeeded; want error", test.path)
			}
		})
	}
}

func TestPathAccessors(t *testing.T) {
	p, err := DefaultStoreDirectory.Object(validHash + "-hello-1.2.3")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := p.HashPart(), validHash; got != want {
		t.Errorf("HashPart() = %q; want %q", got, want)
	}
	if got, want := p.Name(), "hello-1.2.3"; got != want {
		t.Errorf("Name() = %q; want %q", got, want)
	}
	if got, want := p.BaseName(), validHash+"-hello-1.2.3"; got != want {
		t.Errorf("BaseName() = %q; want %q", got, want)
	}
	if got, want := p.Dir(), DefaultStoreDirectory; got != want {
		t.Errorf("Dir() = %q; want %q", got, want)
	}
	if p.IsDerivation() {
		t.Error("IsDerivation() = true; want false")
	}
}

func TestPathIsDerivation(t *testing.T) {
	p, err := DefaultStoreDirectory.Object(validHash + "-hello.drv")
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsDerivation() {
		t.Error("IsDerivation() = false; want true")
	}
}

func TestHashPart(t *testing.T) {
	hp, ok := HashPart(validHash + "-hello")
	if !ok || hp != validHash {
		t.Errorf("HashPart(%q) = %q, %v; want %q, true", validHash+"-hello", hp, ok, validHash)
	}
	if _, ok := HashPart("short"); ok {
		t.Error("HashPart(\"short\") ok = true; want false")
	}
}
