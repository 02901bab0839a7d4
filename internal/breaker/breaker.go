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

// Package breaker implements a three-state circuit breaker per upstream
// target. State transitions are serialized behind a single
// mutex; the guarded call itself always runs outside the lock so a slow
// upstream never blocks other goroutines from reading or transitioning
// the breaker's state. Adapted from other_examples' tartarus/charon
// CircuitBreakerInterface shape, generalized from one ferry-wide breaker
// map to an explicit per-target Registry built as a
// registry-of-independent-state-machines (core.Store/core.Worker).
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when a call is rejected because the breaker is Open.
var ErrOpen = errors.New("breaker-open")

// ErrHalfOpenCap is returned when HalfOpen's concurrent-call cap is hit.
var ErrHalfOpenCap = errors.New("half-open-cap")

// Config configures a single breaker.
type Config struct {
	FailureThreshold int           // consecutive failures to trip Closed -> Open
	SuccessThreshold int           // consecutive successes to trip HalfOpen -> Closed
	Timeout          time.Duration // Open -> HalfOpen after this elapses
	HalfOpenMaxCalls int           // concurrent trial calls allowed in HalfOpen
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 1
	}
	return c
}

// Breaker is a single target's circuit breaker.
type Breaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	halfOpenInFlgt  int
	lastFailureTime time.Time
}

// New builds a Breaker in the Closed state.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), state: Closed}
}

// State reports the current state without mutating it (a peek; the real
// Open -> HalfOpen transition only happens from allow/Call).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// allow decides whether a call may proceed, performing any state
// transition the decision implies, and returns a token that must be
// passed to recordResult once the call completes (recordResult is a
// no-op if allow rejected the call).
func (b *Breaker) allow() (proceed bool, wasHalfOpenTrial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true, false, nil
	case Open:
		if time.Since(b.lastFailureTime) < b.cfg.Timeout {
			return false, false, ErrOpen
		}
		b.state = HalfOpen
		b.successCount = 0
		b.failureCount = 0
		b.halfOpenInFlgt = 0
		fallthrough
	case HalfOpen:
		if b.halfOpenInFlgt >= b.cfg.HalfOpenMaxCalls {
			return false, false, ErrHalfOpenCap
		}
		b.halfOpenInFlgt++
		return true, true, nil
	}
	return true, false, nil
}

func (b *Breaker) recordResult(wasHalfOpenTrial, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if wasHalfOpenTrial {
		b.halfOpenInFlgt--
	}

	switch b.state {
	case Closed:
		if success {
			b.failureCount = 0
			return
		}
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = Open
			b.lastFailureTime = time.Now()
			b.failureCount = 0
			b.successCount = 0
		}
	case HalfOpen:
		if !success {
			b.state = Open
			b.lastFailureTime = time.Now()
			b.failureCount = 0
			b.successCount = 0
			return
		}
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.failureCount = 0
			b.successCount = 0
		}
	case Open:
		// A result arriving for a call that raced a concurrent Open
		// transition; nothing to update.
	}
}

// Call runs fn through the breaker: rejects synchronously with ErrOpen
// or ErrHalfOpenCap when allow refuses the call, otherwise invokes fn
// (outside any lock) and records its outcome.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	proceed, trial, err := b.allow()
	if !proceed {
		return err
	}
	callErr := fn(ctx)
	b.recordResult(trial, callErr == nil)
	return callErr
}

// Registry maps target keys to independent Breaker instances, created
// lazily on first use.
type Registry struct {
	cfg Config
	mu  sync.Mutex
	m   map[string]*Breaker
}

// NewRegistry builds a Registry that constructs breakers with cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, m: make(map[string]*Breaker)}
}

// Get returns (creating if necessary) the Breaker for target.
func (r *Registry) Get(target string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.m[target]; ok {
		return b
	}
	b := New(r.cfg)
	r.m[target] = b
	return b
}

// Snapshot returns the current state of every known target, for the
// metrics/admin surface.
func (r *Registry) Snapshot() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]State, len(r.m))
	for k, b := range r.m {
		out[k] = b.State()
	}
	return out
}
