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

import (
	"sync"
	"time"
)

// store holds one window per rate-limited key (typically a vhost's
// host name), grounded on internal/ratelimiter/core.Store's sync.Map
// lazy-allocation idiom: a plain Load is tried first so the hot path
// never allocates once a key is established.
type store struct {
	windows  sync.Map
	budget   int64
	duration time.Duration
}

func newStore(budget int64, duration time.Duration) *store {
	return &store{budget: budget, duration: duration}
}

func (s *store) getOrCreate(key string) *window {
	if actual, ok := s.windows.Load(key); ok {
		return actual.(*window)
	}
	w := newWindow(s.budget, s.duration)
	if actual, loaded := s.windows.LoadOrStore(key, w); loaded {
		w.close()
		return actual.(*window)
	}
	return w
}

func (s *store) forEach(f func(key string, w *window)) {
	s.windows.Range(func(key, value interface{}) bool {
		f(key.(string), value.(*window))
		return true
	})
}

func (s *store) delete(key string) {
	if v, ok := s.windows.LoadAndDelete(key); ok {
		v.(*window).close()
	}
}

func (s *store) closeAll() {
	s.windows.Range(func(_, value interface{}) bool {
		value.(*window).close()
		return true
	})
}
