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

// Command harmonia-cache serves a local Nix store as an HTTP(S) binary
// cache.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"zombiezen.com/go/bass/runhttp"
	"zombiezen.com/go/log"

	"harmonia.dev/cache/internal/config"
	"harmonia.dev/cache/internal/daemonpool"
	"harmonia.dev/cache/internal/httpcache"
	"harmonia.dev/cache/internal/logfilter"
	"harmonia.dev/cache/internal/nixstore"
	"harmonia.dev/cache/internal/signer"
	"harmonia.dev/cache/internal/socketactivation"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	rootCommand := &cobra.Command{
		Use:           "harmonia-cache",
		Short:         "Nix binary cache server",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	var logDirective string
	rootCommand.PersistentFlags().StringVar(&logDirective, "log", os.Getenv("HARMONIA_LOG"), "logging `filter`, e.g. \"info,access=debug\"")
	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initLogging(logDirective)
	}

	rootCommand.AddCommand(
		newServeCommand(),
		newVersionCommand(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGTERM, unix.SIGINT)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

var initLogOnce sync.Once

func initLogging(directive string) error {
	var outerErr error
	initLogOnce.Do(func() {
		filter, err := logfilter.Parse(directive)
		if err != nil {
			outerErr = fmt.Errorf("harmonia-cache: %w", err)
			return
		}
		log.SetDefault(&log.LevelFilter{
			Min:    filter.Level(""),
			Output: log.New(os.Stderr, "harmonia-cache: ", log.StdFlags, nil),
		})
	})
	return outerErr
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(Version)
			return nil
		},
	}
}

func newServeCommand() *cobra.Command {
	c := &cobra.Command{
		Use:           "serve",
		Short:         "Run the HTTP cache server",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	configPath := c.Flags().String("config", "", "`path` to settings.toml")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), *configPath)
	}
	return c
}

func runServe(ctx context.Context, configPath string) error {
	var cfg *config.Config
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
	}
	cfg.ApplyEnv()

	s, err := signer.LoadSigner(cfg.SignKeyPaths)
	if err != nil {
		return fmt.Errorf("harmonia-cache: %w", err)
	}

	pool := daemonpool.New(daemonpool.Config{
		SocketPath: cfg.DaemonSocket,
	})
	defer pool.Close()
	client := daemonpool.NewClient(pool)

	var bucket *nixstore.Bucket
	if cfg.NARBucketURL != "" {
		opener, err := nixstore.NewURLOpener(ctx)
		if err != nil {
			return fmt.Errorf("harmonia-cache: %w", err)
		}
		bucket, err = nixstore.OpenBucket(ctx, opener, cfg.NARBucketURL)
		if err != nil {
			return fmt.Errorf("harmonia-cache: %w", err)
		}
		defer bucket.Close()
	}

	httpcache.Version = Version
	handler := httpcache.New(httpcache.Config{
		Daemon:            client,
		Signer:            s,
		VirtualStoreDir:   cfg.VirtualNixStore,
		RealStoreDir:      cfg.RealNixStore,
		StateDir:          cfg.StateDir,
		Priority:          cfg.Priority,
		MaxConnectionRate: cfg.MaxConnectionRate,
		Bucket:            bucket,
	})

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       30 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	opts := &runhttp.Options{
		OnStartup: func(ctx context.Context, laddr net.Addr) {
			log.Infof(ctx, "Listening on %v", laddr)
		},
		OnShutdown: func(ctx context.Context) {
			log.Infof(ctx, "Shutting down...")
		},
		OnShutdownError: func(ctx context.Context, err error) {
			log.Errorf(ctx, "Shutdown error: %v", err)
		},
	}

	// runhttp.Serve only knows how to bind srv.Addr itself, so any case
	// that needs a pre-constructed net.Listener (systemd activation, a
	// unix domain socket, or a TLS-wrapped listener) is served manually
	// instead, reusing the same startup/shutdown logging runhttp would do.
	if ln, err := customListener(cfg.Bind, cfg.TLSCertPath, cfg.TLSKeyPath); err != nil {
		return err
	} else if ln != nil {
		return serveListener(ctx, srv, ln, opts)
	}

	srv.Addr = cfg.Bind
	return runhttp.Serve(ctx, srv, opts)
}

// customListener returns a pre-opened listener when the process was
// handed one by systemd socket activation, when bind names a unix domain
// socket path, or when TLS is configured, since all three need a
// net.Listener constructed before serving rather than an address string.
// It returns (nil, nil) when none apply and the caller should let runhttp
// bind normally.
func customListener(bind, tlsCertPath, tlsKeyPath string) (net.Listener, error) {
	ln, err := socketactivation.First()
	if err != nil {
		return nil, err
	}
	if ln == nil {
		if path, ok := strings.CutPrefix(bind, "unix:"); ok {
			ln, err = net.Listen("unix", path)
			if err != nil {
				return nil, err
			}
		}
	}
	if tlsCertPath == "" && tlsKeyPath == "" {
		return ln, nil
	}
	if ln == nil {
		ln, err = net.Listen("tcp", bind)
		if err != nil {
			return nil, err
		}
	}
	if _, ok := ln.Addr().(*net.UnixAddr); ok {
		return nil, fmt.Errorf("harmonia-cache: TLS is not supported on a unix domain socket")
	}
	cert, err := tls.LoadX509KeyPair(tlsCertPath, tlsKeyPath)
	if err != nil {
		return nil, fmt.Errorf("harmonia-cache: load TLS certificate: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}}), nil
}

// serveListener runs srv over a pre-opened listener until ctx is
// canceled, then shuts down gracefully, mirroring runhttp.Serve's
// lifecycle hooks for the cases runhttp itself can't drive.
func serveListener(ctx context.Context, srv *http.Server, ln net.Listener, opts *runhttp.Options) error {
	if opts.OnStartup != nil {
		opts.OnStartup(ctx, ln.Addr())
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		if opts.OnShutdown != nil {
			opts.OnShutdown(ctx)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			if opts.OnShutdownError != nil {
				opts.OnShutdownError(ctx, err)
			}
			return err
		}
		return nil
	}
}
