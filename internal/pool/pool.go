// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pool implements a typed, per-target TCP connection pool with
// idle/lifetime caps, recycling, and a FIFO wait queue.
//
// # Topology
//
// One targetPool is kept per (host, port) key in a plain map guarded by
// the top-level Pool's mutex; targets are created lazily and live for
// the process lifetime, mirroring other_examples' oriys-nova
// internal/pool/pool.go per-function-config pool registry.
//
// # Concurrency model
//
// Each targetPool guards its idle deque and waiter count with a
// sync.Mutex and wakes waiters with a sync.Cond bound to that mutex,
// mirroring nova's pool waiter/cond discipline. Acquire is FIFO among
// waiters: a waiter increments a ticket counter before
// blocking and is only woken in ticket order.
package pool

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"
)

// Dialer opens a new connection to a target. Exposed so tests can inject
// an in-memory dialer instead of real TCP.
type Dialer func(ctx context.Context, network, address string) (net.Conn, error)

// Config configures every targetPool a Pool creates.
type Config struct {
	MaxSize        int
	MaxIdlePerHost int
	MaxLifetime    time.Duration
	IdleTimeout    time.Duration
	WaitTimeout    time.Duration
	Dial           Dialer
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = 64
	}
	if c.MaxIdlePerHost <= 0 {
		c.MaxIdlePerHost = 8
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = 5 * time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 90 * time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 2 * time.Second
	}
	if c.Dial == nil {
		var d net.Dialer
		c.Dial = d.DialContext
	}
	return c
}

// ErrWaitTimeout is returned by Acquire when no connection became
// available before Config.WaitTimeout elapsed.
type ErrWaitTimeout struct{ Target string }

func (e ErrWaitTimeout) Error() string { return "pool: wait timeout acquiring " + e.Target }

// pooledConn wraps a net.Conn with pool bookkeeping.
type pooledConn struct {
	net.Conn
	createdAt time.Time
	target    string
}

func (c *pooledConn) expired(now time.Time, maxLifetime time.Duration) bool {
	return now.Sub(c.createdAt) > maxLifetime
}

// alive does a cheap liveness probe: a one-byte read with a 1ms deadline
// that returns immediately with io.EOF/err if the peer reset the
// connection, or a deadline-exceeded error (which we treat as "still
// alive, nothing to read") otherwise.
func alive(c net.Conn) bool {
	if err := c.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return false
	}
	defer c.SetReadDeadline(time.Time{})
	one := make([]byte, 1)
	_, err := c.Read(one)
	if err == nil {
		return true // unexpected data; caller will likely discard the conn anyway
	}
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

type idleEntry struct {
	conn    *pooledConn
	idledAt time.Time
}

// targetPool is the per-(host,port) pool.
type targetPool struct {
	target string
	cfg    Config

	mu         sync.Mutex
	cond       *sync.Cond
	idle       []idleEntry
	inUse      int
	waiting    int
	nextTicket uint64
	serving    uint64
}

func newTargetPool(target string, cfg Config) *targetPool {
	tp := &targetPool{target: target, cfg: cfg}
	tp.cond = sync.NewCond(&tp.mu)
	return tp
}

// reapLockedIdle closes and drops idle connections that exceeded
// IdleTimeout or MaxLifetime. Caller must hold tp.mu.
func (tp *targetPool) reapLockedIdle(now time.Time) {
	kept := tp.idle[:0]
	for _, e := range tp.idle {
		if now.Sub(e.idledAt) > tp.cfg.IdleTimeout || e.conn.expired(now, tp.cfg.MaxLifetime) {
			_ = e.conn.Close()
			continue
		}
		kept = append(kept, e)
	}
	tp.idle = kept
}

// Acquire returns a live connection to target, creating one if the pool
// has room, or blocking FIFO on the wait queue up to cfg.WaitTimeout.
func (tp *targetPool) Acquire(ctx context.Context, network, address string) (net.Conn, error) {
	tp.mu.Lock()
	now := time.Now()
	tp.reapLockedIdle(now)

	// privileged is true once this call has won its FIFO ticket: it must
	// then take the very next fast-path attempt unconditionally, even if
	// later waiters are already queued behind it, or winning the ticket
	// would mean nothing.
	privileged := false

	for {
		// A waiter already queued has priority over a fresh arrival: a
		// caller that hasn't won a ticket only takes the fast path (idle
		// reuse or new connection under the cap) when nobody is already
		// waiting, so a stuck waiter can never be bypassed by later
		// callers racing it for a just-freed slot.
		if privileged || tp.waiting == 0 {
			privileged = false
			for len(tp.idle) > 0 {
				e := tp.idle[len(tp.idle)-1]
				tp.idle = tp.idle[:len(tp.idle)-1]
				if e.conn.expired(time.Now(), tp.cfg.MaxLifetime) || !alive(e.conn) {
					tp.mu.Unlock()
					_ = e.conn.Close()
					tp.mu.Lock()
					continue
				}
				tp.inUse++
				tp.mu.Unlock()
				return e.conn, nil
			}

			if tp.inUse < tp.cfg.MaxSize {
				tp.inUse++
				tp.mu.Unlock()
				conn, err := tp.cfg.Dial(ctx, network, address)
				if err != nil {
					tp.mu.Lock()
					tp.inUse--
					tp.mu.Unlock()
					return nil, err
				}
				return &pooledConn{Conn: conn, createdAt: time.Now(), target: tp.target}, nil
			}
		}

		// Block FIFO on the wait queue.
		ticket := tp.nextTicket
		tp.nextTicket++
		tp.waiting++
		deadline := time.Now().Add(tp.cfg.WaitTimeout)
		// Wait until this ticket is at the head of the queue and a
		// connection is free to reuse or there is room to dial one.
		for tp.serving != ticket || (len(tp.idle) == 0 && tp.inUse >= tp.cfg.MaxSize) {
			if !tp.condWaitUntil(deadline) {
				tp.waiting--
				// Every deadline is WaitTimeout after its ticket was issued,
				// so all earlier tickets have expired too: move the head past
				// this ticket so later waiters are not stuck behind it.
				if tp.serving <= ticket {
					tp.serving = ticket + 1
				}
				tp.cond.Broadcast()
				tp.mu.Unlock()
				return nil, ErrWaitTimeout{Target: tp.target}
			}
		}
		tp.waiting--
		tp.serving++
		tp.cond.Broadcast()
		// Won the ticket: take the next fast-path attempt unconditionally.
		privileged = true
	}
}

// condWaitUntil waits on tp.cond until woken or deadline passes. Returns
// false on timeout. Caller must hold tp.mu (sync.Cond.Wait releases and
// reacquires it).
func (tp *targetPool) condWaitUntil(deadline time.Time) bool {
	timer := time.AfterFunc(time.Until(deadline), func() {
		tp.mu.Lock()
		tp.cond.Broadcast()
		tp.mu.Unlock()
	})
	defer timer.Stop()
	tp.cond.Wait()
	return time.Now().Before(deadline)
}

// Release returns conn to the idle set, or closes it if the caller
// reported it unhealthy, it exceeded its lifetime, or the idle set is
// already at MaxIdlePerHost.
func (tp *targetPool) Release(conn net.Conn, healthy bool) {
	pc, ok := conn.(*pooledConn)
	if !ok {
		_ = conn.Close()
		return
	}
	tp.mu.Lock()
	tp.inUse--
	if !healthy || pc.expired(time.Now(), tp.cfg.MaxLifetime) || len(tp.idle) >= tp.cfg.MaxIdlePerHost {
		tp.mu.Unlock()
		_ = pc.Close()
		tp.wake()
		return
	}
	tp.idle = append(tp.idle, idleEntry{conn: pc, idledAt: time.Now()})
	tp.mu.Unlock()
	tp.wake()
}

// Discard closes conn without returning it to idle - used on deadline
// exceeded or any path where the connection must not be reused per
// 
func (tp *targetPool) Discard(conn net.Conn) {
	tp.mu.Lock()
	tp.inUse--
	tp.mu.Unlock()
	_ = conn.Close()
	tp.wake()
}

func (tp *targetPool) wake() {
	tp.mu.Lock()
	tp.cond.Broadcast()
	tp.mu.Unlock()
}

// Stats reports the pool's observable metrics.
type Stats struct {
	Size      int
	Available int
	Waiting   int
}

func (tp *targetPool) Stats() Stats {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return Stats{Size: tp.inUse + len(tp.idle), Available: len(tp.idle), Waiting: tp.waiting}
}

func (tp *targetPool) CloseAll() {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	for _, e := range tp.idle {
		_ = e.conn.Close()
	}
	tp.idle = nil
}

// Pool is the top-level (host,port) -> targetPool map.
type Pool struct {
	cfg Config
	mu  sync.Mutex
	m   map[string]*targetPool
}

// New builds a Pool. cfg is applied to every target.
func New(cfg Config) *Pool {
	return &Pool{cfg: cfg.withDefaults(), m: make(map[string]*targetPool)}
}

func (p *Pool) get(target string) *targetPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tp, ok := p.m[target]; ok {
		return tp
	}
	tp := newTargetPool(target, p.cfg)
	p.m[target] = tp
	return tp
}

// Acquire gets a connection to host:port
func (p *Pool) Acquire(ctx context.Context, host string, port int) (net.Conn, error) {
	target := net.JoinHostPort(host, strconv.Itoa(port))
	return p.get(target).Acquire(ctx, "tcp", target)
}

// Release returns conn to its target pool. healthy indicates whether the
// call that used it completed without a connection-level error.
func (p *Pool) Release(conn net.Conn, healthy bool) {
	pc, ok := conn.(*pooledConn)
	if !ok {
		_ = conn.Close()
		return
	}
	p.get(pc.target).Release(conn, healthy)
}

// Discard closes conn without recycling it - used when a deadline was
// exceeded or the connection is otherwise known-bad.
func (p *Pool) Discard(conn net.Conn) {
	pc, ok := conn.(*pooledConn)
	if !ok {
		_ = conn.Close()
		return
	}
	p.get(pc.target).Discard(conn)
}

// Stats returns per-target observable metrics.
func (p *Pool) Stats() map[string]Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Stats, len(p.m))
	for k, tp := range p.m {
		out[k] = tp.Stats()
	}
	return out
}

// Close closes every idle connection across all targets. In-flight
// connections are left for their borrowers to return or discard.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tp := range p.m {
		tp.CloseAll()
	}
}
