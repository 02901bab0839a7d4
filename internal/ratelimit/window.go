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

// Package ratelimit implements per-host sliding-window request
// admission on top of the Vector-Scalar Accumulator engine at the
// module root: a host's budget is the VSA's scalar, requests consumed
// in the current window are its vector, and a window rotation is a
// TryRefund back to zero rather than a Commit to a database. The
// sliding behavior itself comes from blending the just-closed window's
// consumed count into the current window's admission check, weighted
// by how much of the current window has elapsed, the same two-bucket
// approximation used by windowed-counter rate limiters generally.
package ratelimit

import (
	"sync/atomic"
	"time"

	vsa "github.com/edgehttp/edge"
)

// window is one host's sliding-window admission state.
type window struct {
	budget   int64
	duration time.Duration

	acc          *vsa.VSA
	prevConsumed atomic.Int64
	windowStart  atomic.Int64 // UnixNano
	lastAccessed atomic.Int64 // UnixNano, for idle eviction
}

func newWindow(budget int64, duration time.Duration) *window {
	w := &window{
		budget:   budget,
		duration: duration,
		acc:      vsa.New(budget),
	}
	now := time.Now()
	w.windowStart.Store(now.UnixNano())
	w.lastAccessed.Store(now.UnixNano())
	return w
}

// allow reports whether one more request fits within the blended
// current+previous window estimate, consuming it from the VSA if so.
func (w *window) allow(now time.Time) (ok bool, retryAfter time.Duration) {
	w.lastAccessed.Store(now.UnixNano())
	w.rotateIfElapsed(now)

	start := time.Unix(0, w.windowStart.Load())
	elapsed := now.Sub(start)
	weight := float64(elapsed) / float64(w.duration)
	if weight > 1 {
		weight = 1
	}
	if weight < 0 {
		weight = 0
	}

	_, consumed := w.acc.State()
	estimated := float64(w.prevConsumed.Load())*(1-weight) + float64(consumed)
	if estimated+1 > float64(w.budget) {
		return false, start.Add(w.duration).Sub(now)
	}
	if !w.acc.TryConsume(1) {
		return false, start.Add(w.duration).Sub(now)
	}
	return true, 0
}

// rotateIfElapsed closes the current window into prevConsumed and opens
// a fresh one once duration has passed, so old consumption ages out
// instead of accumulating forever. A gap of two or more full windows
// (the key went idle) carries no residual load: prevConsumed resets to
// zero rather than blending in consumption from long before the
// current window opened.
func (w *window) rotateIfElapsed(now time.Time) {
	start := time.Unix(0, w.windowStart.Load())
	elapsed := now.Sub(start)
	if elapsed < w.duration {
		return
	}
	_, consumed := w.acc.State()
	if consumed > 0 {
		w.acc.TryRefund(consumed)
	}
	if elapsed < 2*w.duration {
		w.prevConsumed.Store(consumed)
		w.windowStart.Store(start.Add(w.duration).UnixNano())
		return
	}
	w.prevConsumed.Store(0)
	w.windowStart.Store(now.UnixNano())
}

func (w *window) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, w.lastAccessed.Load()))
}

func (w *window) close() {
	w.acc.Close()
}
