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

// Command harmonia is a thin wrapper that shells out to the ambient nix
// binary, standing in for the operator-facing commands (store queries,
// key generation) that complement the harmonia-cache server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"

	"golang.org/x/sys/unix"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGTERM, unix.SIGINT)
	defer cancel()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "harmonia:", err)
		os.Exit(1)
	}
}

// nixExecutable is the path to the nix CLI this wrapper delegates to. If
// empty, "nix" is searched on the user's PATH, matching the teacher's
// nixstore.Client.Executable convention.
var nixExecutable = os.Getenv("HARMONIA_NIX_BIN")

func run(ctx context.Context, args []string) error {
	exe := nixExecutable
	if exe == "" {
		exe = "nix"
	}
	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(unix.SIGTERM)
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %s: %w", exe, err)
	}
	return nil
}
