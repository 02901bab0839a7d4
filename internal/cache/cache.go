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

// Package cache implements a three-tier Cache façade:
// an in-process LRU (L1), a shared KV tier over Redis (L2), and a
// content-addressed disk tier (L3). A hit at any tier writes through to
// every strictly-upper tier before returning (soft inclusion).
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/edgehttp/edge/internal/edgelog"
)

// Config controls which tiers are active. L1 always runs (a zero
// capacity means the default of 1024 entries); L2 with no address runs
// against the logging stand-in, so Get/Set never fail (see redis.go);
// L3 is skipped when its root is empty.
type Config struct {
	L1Capacity int
	L2Addr     string // empty disables the real Redis client
	L3Root     string // empty disables the disk tier entirely
}

// Stats is the point-in-time counters for the admin/metrics surface.
type Stats struct {
	Hits   int64
	Misses int64
	L1Len  int
}

// Cache is the three-tier façade. The zero value is not usable; use New.
type Cache struct {
	l1 *lru
	l2 sharedStore
	l3 *disk // nil when L3Root is empty

	hits   atomic.Int64
	misses atomic.Int64
}

// New builds a Cache from cfg.
func New(cfg Config) *Cache {
	c := &Cache{
		l1: newLRU(cfg.L1Capacity),
		l2: newSharedStore(cfg.L2Addr),
	}
	if cfg.L3Root != "" {
		c.l3 = newDisk(cfg.L3Root)
	}
	return c
}

// Get implements the read path: L1 -> L2 -> L3, write-through to every
// strictly upper tier on a lower-tier hit.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := c.l1.get(key); ok {
		c.hits.Add(1)
		return v, true
	}

	if v, ok, err := c.l2.Get(ctx, key); err == nil && ok {
		c.hits.Add(1)
		c.l1.set(key, v, c.l2.TTL(ctx, key))
		return v, true
	} else if err != nil {
		edgelog.With(map[string]interface{}{"key": key, "error": err.Error()}).Warn("cache L2 get failed")
	}

	if c.l3 != nil {
		if v, ttl, ok := c.l3.get(key); ok {
			c.hits.Add(1)
			c.l1.set(key, v, ttl)
			if err := c.l2.SetEX(ctx, key, v, ttl); err != nil {
				edgelog.With(map[string]interface{}{"key": key, "error": err.Error()}).Warn("cache L2 write-through failed")
			}
			return v, true
		}
	}

	c.misses.Add(1)
	return nil, false
}

// Set writes key=value with the given TTL (0 means no expiry) to every
// configured tier in order: L1, L2, L3. Lower-tier failures are logged,
// not returned, provided L1 itself succeeded: errors on lower tiers
// do not fail the write.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.l1.set(key, value, ttl)

	if err := c.l2.SetEX(ctx, key, value, ttl); err != nil {
		edgelog.With(map[string]interface{}{"key": key, "error": err.Error()}).Warn("cache L2 set failed")
	}

	if c.l3 != nil {
		if err := c.l3.set(key, value, ttl); err != nil {
			edgelog.With(map[string]interface{}{"key": key, "error": err.Error()}).Warn("cache L3 set failed")
		}
	}
}

// Delete removes key from every tier.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.l1.delete(key)
	if err := c.l2.Del(ctx, key); err != nil {
		edgelog.With(map[string]interface{}{"key": key, "error": err.Error()}).Warn("cache L2 delete failed")
	}
	if c.l3 != nil {
		if err := c.l3.delete(key); err != nil {
			edgelog.With(map[string]interface{}{"key": key, "error": err.Error()}).Warn("cache L3 delete failed")
		}
	}
}

// Clear empties L1 and, when configured, L3. The L2 shared tier is not
// cleared.
func (c *Cache) Clear(ctx context.Context) {
	c.l1.clear()
	if c.l3 != nil {
		if err := c.l3.clear(); err != nil {
			edgelog.With(map[string]interface{}{"error": err.Error()}).Warn("cache L3 clear failed")
		}
	}
}

// Stats reports hit/miss counters and current L1 occupancy.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), L1Len: c.l1.len()}
}
