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

package metrics

import (
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
)

// KeySampler tracks per-key hit counts at a fixed sampling rate and
// reports the top-N keys by count, adapted from
// internal/ratelimiter/telemetry/churn's deterministic-hash sampling:
// a key is included if its FNV-1a hash falls below a fixed threshold
// derived from SampleRate, so the same key is always either sampled or
// not for the lifetime of the process rather than flapping under RNG.
// Used for Cache hot-key reporting on the admin status surface.
type KeySampler struct {
	threshold uint64
	topN      int

	counts sync.Map // key string -> *atomic.Int64
}

// NewKeySampler builds a sampler. sampleRate is clamped to [0,1];
// topN defaults to 20 when non-positive.
func NewKeySampler(sampleRate float64, topN int) *KeySampler {
	if sampleRate < 0 {
		sampleRate = 0
	}
	if sampleRate > 1 {
		sampleRate = 1
	}
	if topN <= 0 {
		topN = 20
	}
	var thr uint64
	switch {
	case sampleRate <= 0:
		thr = 0
	case sampleRate >= 1:
		thr = ^uint64(0)
	default:
		max := ^uint64(0)
		f := sampleRate * (float64(max) + 1.0)
		if f < 1 {
			f = 1
		}
		thr = uint64(f) - 1
	}
	return &KeySampler{threshold: thr, topN: topN}
}

// Observe records one access to key, subject to the sampler's fixed
// deterministic sampling rate.
func (s *KeySampler) Observe(key string) {
	if s.threshold == 0 || !s.sampled(key) {
		return
	}
	v, ok := s.counts.Load(key)
	if !ok {
		counter := new(atomic.Int64)
		actual, loaded := s.counts.LoadOrStore(key, counter)
		v = actual
		if !loaded {
			counter.Add(1)
			return
		}
	}
	v.(*atomic.Int64).Add(1)
}

func (s *KeySampler) sampled(key string) bool {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64() <= s.threshold
}

// KeyCount is one row of the top-N report.
type KeyCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// TopN returns up to the configured number of sampled keys, ordered by
// count descending.
func (s *KeySampler) TopN() []KeyCount {
	rows := make([]KeyCount, 0, s.topN)
	s.counts.Range(func(k, v any) bool {
		rows = append(rows, KeyCount{Key: k.(string), Count: v.(*atomic.Int64).Load()})
		return true
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].Count > rows[j].Count })
	if len(rows) > s.topN {
		rows = rows[:s.topN]
	}
	return rows
}
