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

// Package daemonpool multiplexes callers onto a bounded pool of
// handshaked connections to the Nix daemon socket, with fair acquire,
// idle health checks, and bounded retries for idempotent reads.
package daemonpool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"harmonia.dev/cache/internal/daemon"
)

// ErrDraining is returned by [Pool.Acquire] once [Pool.Close] has been
// called.
var ErrDraining = errors.New("daemonpool: pool is draining")

// Config controls a [Pool]'s shape.
type Config struct {
	// SocketPath is the path to the Nix daemon's UNIX socket.
	SocketPath string
	// MaxConnections bounds the number of simultaneously open
	// connections. Zero means a default of 8.
	MaxConnections int
	// IdleTTL is how long a connection may sit idle before it is
	// health-checked (via IsValidPath on a sentinel path) before being
	// handed out again. Zero means a default of 30s.
	IdleTTL time.Duration
	// AcquireTimeout bounds how long [Pool.Acquire] waits in the fair
	// queue before giving up. Zero means no timeout beyond ctx.
	AcquireTimeout time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 8
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Second
	}
	return cfg
}

type pooledConn struct {
	conn     *daemon.Conn
	lastUsed time.Time
	dirty    bool
}

// Pool is a bounded, fair pool of handshaked [daemon.Conn]s to a single
// Nix daemon socket.
type Pool struct {
	cfg     Config
	metrics *Metrics

	mu       sync.Mutex
	idle     []*pooledConn
	total    int
	draining bool
	// waiters is the FIFO of parked acquirers. Each channel receives
	// either a connection handed off directly by release (bypassing
	// idle, so a concurrent non-waiting Acquire can't steal it first),
	// or nil when a slot of capacity merely freed up, telling the
	// waiter to go race tryAcquire for it.
	waiters []chan *pooledConn
}

// New returns a [Pool] for cfg. It does not dial any connections eagerly.
func New(cfg Config) *Pool {
	return &Pool{cfg: cfg.withDefaults(), metrics: newMetrics()}
}

// Metrics returns the pool's Prometheus collectors.
func (p *Pool) Metrics() *Metrics { return p.metrics }

// Handle is a leased connection. The caller must call [Handle.Release]
// exactly once.
type Handle struct {
	pool *Pool
	pc   *pooledConn
}

// Conn returns the underlying handshaked connection.
func (h *Handle) Conn() *daemon.Conn { return h.pc.conn }

// MarkDirty flags the connection as unfit for reuse — the caller
// observed an I/O error, a cancellation mid-operation, or a
// STDERR_ERROR that may have left the stream desynchronized.
func (h *Handle) MarkDirty() { h.pc.dirty = true }

// Release returns the connection to the pool, or closes it if it was
// marked dirty, or if the pool is draining.
func (h *Handle) Release() {
	h.pool.release(h.pc)
}

// Acquire borrows a connection, dialing and handshaking a new one if the
// pool is under capacity, or waiting in a fair FIFO queue otherwise.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	if p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}
	for {
		pc, mustWait, err := p.tryAcquire()
		if err != nil {
			return nil, err
		}
		if !mustWait {
			if err := p.ensureHealthy(ctx, pc); err != nil {
				p.release(pc)
				return nil, err
			}
			return &Handle{pool: p, pc: pc}, nil
		}

		wait := make(chan *pooledConn, 1)
		p.mu.Lock()
		p.waiters = append(p.waiters, wait)
		p.mu.Unlock()

		select {
		case pc := <-wait:
			if pc == nil {
				// Only capacity freed up, not a handed-off connection;
				// loop back and race tryAcquire for it.
				continue
			}
			if err := p.ensureHealthy(ctx, pc); err != nil {
				p.release(pc)
				return nil, err
			}
			return &Handle{pool: p, pc: pc}, nil
		case <-ctx.Done():
			p.removeWaiter(wait)
			return nil, ctx.Err()
		}
	}
}

// tryAcquire either returns an idle connection, dials a new one under
// capacity, or reports that the caller must wait.
func (p *Pool) tryAcquire() (pc *pooledConn, mustWait bool, err error) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return nil, false, ErrDraining
	}
	if n := len(p.idle); n > 0 {
		pc = p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		p.metrics.idleConnections.Dec()
		return pc, false, nil
	}
	if p.total < p.cfg.MaxConnections {
		p.total++
		p.mu.Unlock()
		conn, err := p.dial()
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			p.metrics.connectionErrors.Inc()
			p.wakeOne()
			return nil, false, err
		}
		p.metrics.totalCreated.Inc()
		p.metrics.activeConnections.Inc()
		return &pooledConn{conn: conn, lastUsed: time.Now()}, false, nil
	}
	p.mu.Unlock()
	return nil, true, nil
}

func (p *Pool) dial() (*daemon.Conn, error) {
	nc, err := net.Dial("unix", p.cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("daemonpool: dial %s: %w", p.cfg.SocketPath, err)
	}
	conn, err := daemon.Handshake(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("daemonpool: handshake %s: %w", p.cfg.SocketPath, err)
	}
	if err := conn.SetOptions(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("daemonpool: set options %s: %w", p.cfg.SocketPath, err)
	}
	return conn, nil
}

// sentinelHealthPath is queried to verify an idle connection still
// works. It need not exist; IsValidPath on a missing path is a cheap
// round trip that still exercises the full request/response cycle.
const sentinelHealthPath = "/nix/store/0000000000000000000000000000000-harmonia-health-check"

func (p *Pool) ensureHealthy(ctx context.Context, pc *pooledConn) error {
	if time.Since(pc.lastUsed) < p.cfg.IdleTTL {
		return nil
	}
	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		_, err := pc.conn.IsValidPath(sentinelHealthPath)
		done <- result{err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			pc.dirty = true
			p.metrics.connectionErrors.Inc()
			return fmt.Errorf("daemonpool: health check: %w", r.err)
		}
		return nil
	case <-ctx.Done():
		pc.dirty = true
		return ctx.Err()
	}
}

func (p *Pool) release(pc *pooledConn) {
	p.mu.Lock()
	if pc.dirty || p.draining {
		p.mu.Unlock()
		pc.conn.Close()
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		p.metrics.activeConnections.Dec()
		p.wakeOne()
		return
	}

	pc.lastUsed = time.Now()
	// Hand the connection straight to the oldest waiter, if any, under
	// this same lock: putting it in idle first and waking separately
	// would leave a window where a fresh, non-waiting Acquire steals it
	// out of idle before the parked waiter's channel fires, breaking
	// FIFO order.
	if w, ok := p.nextWaiterLocked(); ok {
		p.mu.Unlock()
		w <- pc
		return
	}
	p.idle = append(p.idle, pc)
	p.mu.Unlock()
	p.metrics.idleConnections.Inc()
}

// nextWaiterLocked pops the oldest parked waiter, if any. p.mu must be
// held.
func (p *Pool) nextWaiterLocked() (chan *pooledConn, bool) {
	if len(p.waiters) == 0 {
		return nil, false
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	return w, true
}

// wakeOne signals the oldest waiter, if any, that a slot of capacity
// freed up, not a live connection. The waiter loops back into
// tryAcquire to race for it.
func (p *Pool) wakeOne() {
	p.mu.Lock()
	w, ok := p.nextWaiterLocked()
	p.mu.Unlock()
	if ok {
		w <- nil
	}
}

func (p *Pool) removeWaiter(w chan *pooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, ww := range p.waiters {
		if ww == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// Close drains the pool: no further tokens are issued to waiting
// acquirers, idle connections are closed immediately, and any
// currently-leased connections are closed as they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.draining = true
	idle := p.idle
	p.idle = nil
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, pc := range idle {
		pc.conn.Close()
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		p.metrics.activeConnections.Dec()
		p.metrics.idleConnections.Dec()
	}
	for _, w := range waiters {
		close(w)
	}
	return nil
}
