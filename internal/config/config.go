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

// Package config loads Harmonia's TOML configuration file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk configuration for the cache server.
type Config struct {
	Bind              string   `toml:"bind"`
	Workers           int      `toml:"workers"`
	MaxConnectionRate int      `toml:"max_connection_rate"`
	Priority          int      `toml:"priority"`
	SignKeyPaths      []string `toml:"sign_key_paths"`
	VirtualNixStore   string   `toml:"virtual_nix_store"`
	RealNixStore      string   `toml:"real_nix_store"`
	StateDir          string   `toml:"state_dir"`
	DaemonSocket      string   `toml:"daemon_socket"`
	TLSCertPath       string   `toml:"tls_cert_path"`
	TLSKeyPath        string   `toml:"tls_key_path"`
	// NARBucketURL, if set, names a blob.Bucket URL (file://, gs://,
	// s3://) holding pre-compressed NARs served ahead of the daemon.
	NARBucketURL string `toml:"nar_bucket_url"`
}

// Default returns the configuration used when no settings file is
// present, matching the teacher's "works with zero configuration"
// philosophy.
func Default() *Config {
	return &Config{
		Bind:              "[::]:5000",
		Workers:           4,
		MaxConnectionRate: 256,
		Priority:          30,
		VirtualNixStore:   "/nix/store",
		DaemonSocket:      "/nix/var/nix/daemon-socket/socket",
		StateDir:          "/nix/var/nix",
	}
}

// Load reads and parses the TOML configuration file at path, filling in
// defaults for any field the file omits.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be greater than 0")
	}
	if c.RealNixStore == "" {
		c.RealNixStore = c.VirtualNixStore
	}
	return nil
}

// ApplyEnv folds in the deprecated SIGN_KEY_PATHS and HARMONIA_DAEMON_SOCKET
// environment variable overrides, matching the teacher's convention of
// environment variables as an escape hatch rather than the primary
// configuration surface.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("SIGN_KEY_PATHS"); v != "" {
		c.SignKeyPaths = append(c.SignKeyPaths, strings.Fields(v)...)
	}
	if v := os.Getenv("HARMONIA_DAEMON_SOCKET"); v != "" {
		c.DaemonSocket = v
	}
}
