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

package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/edgehttp/edge/internal/edgelog"
)

// sharedStore abstracts the minimal SETEX/GET/DEL surface the L2 tier
// needs, so a logging stand-in can sit behind the same interface as the
// real client.
type sharedStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	// TTL reports key's remaining time-to-live (0 meaning no expiry or
	// unknown), so a write-through promotion can carry the same
	// deadline forward instead of making the promoted copy immortal.
	TTL(ctx context.Context, key string) time.Duration
}

// goRedisStore is the production L2 backed by github.com/redis/go-redis/v9.
type goRedisStore struct{ c *redis.Client }

func newGoRedisStore(addr string) *goRedisStore {
	return &goRedisStore{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (s *goRedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *goRedisStore) SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return s.c.Set(ctx, key, value, 0).Err()
	}
	return s.c.SetEx(ctx, key, value, ttl).Err()
}

func (s *goRedisStore) Del(ctx context.Context, key string) error {
	return s.c.Del(ctx, key).Err()
}

func (s *goRedisStore) TTL(ctx context.Context, key string) time.Duration {
	d, err := s.c.TTL(ctx, key).Result()
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// loggingStore is the dependency-free stand-in used when no L2 address
// is configured, matching the "no external dep" fallback pattern in
// internal/ratelimiter/persistence/clients.go.
type loggingStore struct{}

func (loggingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	edgelog.With(map[string]interface{}{"key": key}).Debug("cache L2 (logging stand-in): GET")
	return nil, false, nil
}

func (loggingStore) SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	edgelog.With(map[string]interface{}{"key": key, "bytes": len(value), "ttl": ttl}).Debug("cache L2 (logging stand-in): SETEX")
	return nil
}

func (loggingStore) Del(ctx context.Context, key string) error {
	edgelog.With(map[string]interface{}{"key": key}).Debug("cache L2 (logging stand-in): DEL")
	return nil
}

func (loggingStore) TTL(ctx context.Context, key string) time.Duration {
	return 0
}

// newSharedStore builds the real client when addr is non-empty, else the
// logging stand-in, matching the BuildPersister construction idiom.
func newSharedStore(addr string) sharedStore {
	if addr == "" {
		return loggingStore{}
	}
	return newGoRedisStore(addr)
}
