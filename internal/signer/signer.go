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

package signer

import (
	"bufio"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
)

// A Key is a named Ed25519 key as Nix serializes it on disk: one line of
// "<name>:<Base64 of raw key bytes>", where the key is either 32 bytes
// (an Ed25519 seed) or 64 bytes (Nix's historical seed+public-key
// encoding, which is also exactly Go's [ed25519.PrivateKey] layout).
type Key struct {
	Name string
	key  ed25519.PrivateKey // seed+public, 64 bytes
}

// ParseKey parses a single "<name>:<Base64>" line.
func ParseKey(s string) (Key, error) {
	name, b64, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, fmt.Errorf("signer: key %q: missing ':' separator", s)
	}
	if name == "" {
		return Key{}, fmt.Errorf("signer: key %q: empty key name", s)
	}
	b64 = strings.TrimFunc(b64, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return Key{}, fmt.Errorf("signer: key %q: decode base64: %w", name, err)
	}
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	default:
		return Key{}, fmt.Errorf("signer: key %q: invalid length %d (want %d or %d)",
			name, len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)
	}
	return Key{Name: name, key: priv}, nil
}

// LoadKeyFile reads one [Key] from the file at path. A malformed key is a
// startup error per the configuration error model.
func LoadKeyFile(path string) (Key, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Key{}, fmt.Errorf("signer: load key file %s: %w", path, err)
	}
	line := strings.TrimSpace(string(b))
	key, err := ParseKey(line)
	if err != nil {
		return Key{}, fmt.Errorf("signer: load key file %s: %w", path, err)
	}
	return key, nil
}

// PublicKey returns the Ed25519 public key half of k.
func (k Key) PublicKey() ed25519.PublicKey {
	return k.key.Public().(ed25519.PublicKey)
}

// Sign signs msg and returns it formatted as a narinfo "Sig:" value:
// "<name>:<Base64(signature)>".
func (k Key) Sign(msg []byte) string {
	sig := ed25519.Sign(k.key, msg)
	return k.Name + ":" + base64.StdEncoding.EncodeToString(sig)
}

// A Signer holds zero or more active secret keys and signs narinfo
// fingerprints with all of them. Signing with every active key, rather
// than choosing one, means clients only need to trust one key during a
// rotation; a Signer must never be "optimized" down to a single key.
//
// A Signer is immutable after construction and is safe for concurrent use.
type Signer struct {
	keys []Key
}

// New returns a [Signer] that signs with every key in keys.
func New(keys []Key) *Signer {
	cp := make([]Key, len(keys))
	copy(cp, keys)
	return &Signer{keys: cp}
}

// LoadSigner loads a [Signer] from the secret key files named by paths.
func LoadSigner(paths []string) (*Signer, error) {
	keys := make([]Key, 0, len(paths))
	for _, p := range paths {
		k, err := LoadKeyFile(p)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return New(keys), nil
}

// Sign computes, for the store path described by the arguments, one
// "Sig:" line per active key. The fingerprint is computed exactly as in
// [Fingerprint]; an empty Signer returns no lines.
func (s *Signer) Sign(storeDir, storePath, narHash string, narSize int64, references []string) ([]string, error) {
	fp, err := Fingerprint(storeDir, storePath, narHash, narSize, references)
	if err != nil {
		return nil, err
	}
	sigs := make([]string, len(s.keys))
	for i, k := range s.keys {
		sigs[i] = k.Sign([]byte(fp))
	}
	return sigs, nil
}

// Verify reports whether sig (a "<name>:<Base64>" narinfo Sig value)
// is a valid Ed25519 signature over fingerprint by one of trusted.
func Verify(fingerprint, sig string, trusted map[string]ed25519.PublicKey) bool {
	name, b64, ok := strings.Cut(sig, ":")
	if !ok {
		return false
	}
	pub, ok := trusted[name]
	if !ok {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, []byte(fingerprint), raw)
}

// ParsePublicKeyFile reads a trusted public key in the same "<name>:<Base64>"
// format from r, accepting a 32-byte raw Ed25519 public key.
func ParsePublicKeyFile(r io.Reader) (name string, pub ed25519.PublicKey, err error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("signer: empty public key file")
	}
	line := strings.TrimSpace(sc.Text())
	nm, b64, ok := strings.Cut(line, ":")
	if !ok {
		return "", nil, fmt.Errorf("signer: public key %q: missing ':' separator", line)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", nil, fmt.Errorf("signer: public key %q: %w", nm, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return "", nil, fmt.Errorf("signer: public key %q: invalid length %d", nm, len(raw))
	}
	return nm, ed25519.PublicKey(raw), nil
}
