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

package ratelimit

import "time"

// Config controls one Limiter: every distinct key (a vhost's host name)
// gets its own window of RequestsPerWindow requests per Window.
type Config struct {
	RequestsPerWindow int64
	Window            time.Duration
	IdleEvictionAge   time.Duration
	EvictionInterval  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.RequestsPerWindow <= 0 {
		c.RequestsPerWindow = 600
	}
	if c.IdleEvictionAge <= 0 {
		c.IdleEvictionAge = 10 * c.Window
	}
	if c.EvictionInterval <= 0 {
		c.EvictionInterval = c.Window
	}
	return c
}

// Limiter admits or rejects requests per key under a sliding-window
// budget.
type Limiter struct {
	store  *store
	worker *evictionWorker
}

// New builds a Limiter and starts its background idle-window eviction.
func New(cfg Config) *Limiter {
	cfg = cfg.withDefaults()
	s := newStore(cfg.RequestsPerWindow, cfg.Window)
	w := newEvictionWorker(s, cfg.IdleEvictionAge, cfg.EvictionInterval)
	w.start()
	return &Limiter{store: s, worker: w}
}

// Allow admits one request for key, returning false plus the duration
// the caller should report as Retry-After when the window is exhausted.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	w := l.store.getOrCreate(key)
	ok, retryAfter := w.allow(time.Now())
	if retryAfter < 0 {
		retryAfter = 0
	}
	return ok, retryAfter
}

// Close stops the background eviction worker and releases all windows.
func (l *Limiter) Close() {
	l.worker.stop()
}
