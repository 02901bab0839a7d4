// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package session

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/edgehttp/edge/internal/edgelog"
)

// redisRecord is the wire shape stored under a session's key, matching
// session.rs's RedisStore serialize-whole-session-as-one-value
// approach rather than hashing every field separately.
type redisRecord struct {
	ID           string            `json:"id"`
	Data         map[string]string `json:"data"`
	CreatedAt    time.Time         `json:"created_at"`
	LastAccessed time.Time         `json:"last_accessed"`
	ExpiresAt    time.Time         `json:"expires_at"`
	UserID       string            `json:"user_id"`
	IPAddress    string            `json:"ip_address"`
	UserAgent    string            `json:"user_agent"`
	CSRFToken    string            `json:"csrf_token"`
}

func toRecord(s *Session) redisRecord {
	return redisRecord{
		ID: s.ID, Data: s.Data, CreatedAt: s.CreatedAt, LastAccessed: s.LastAccessed,
		ExpiresAt: s.ExpiresAt, UserID: s.UserID, IPAddress: s.IPAddress,
		UserAgent: s.UserAgent, CSRFToken: s.CSRFToken,
	}
}

func fromRecord(r redisRecord) *Session {
	return &Session{
		ID: r.ID, Data: r.Data, CreatedAt: r.CreatedAt, LastAccessed: r.LastAccessed,
		ExpiresAt: r.ExpiresAt, UserID: r.UserID, IPAddress: r.IPAddress,
		UserAgent: r.UserAgent, CSRFToken: r.CSRFToken,
	}
}

const sessionKeyPrefix = "session:"
const userSetPrefix = "user-sessions:"

// redisClient abstracts the minimal command surface RedisStore needs,
// mirroring internal/cache's sharedStore seam so a logging stand-in can
// back tests and un-configured deployments without a live Redis.
type redisClient interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// RedisStore persists sessions in Redis, tracking per-user session ids
// in a Set (user-sessions:<uid>) the way session.rs's RedisStore uses
// SADD/SREM/EXPIRE so SessionsForUser never needs a table scan.
type RedisStore struct {
	c redisClient
}

// NewRedisStore builds a RedisStore backed by a live go-redis client at
// addr, or a dependency-free logging stand-in if addr is empty.
func NewRedisStore(addr string) *RedisStore {
	if addr == "" {
		return &RedisStore{c: loggingRedisClient{}}
	}
	return &RedisStore{c: &goRedisClient{c: redis.NewClient(&redis.Options{Addr: addr})}}
}

func (s *RedisStore) Load(ctx context.Context, id string) (*Session, bool, error) {
	raw, ok, err := s.c.Get(ctx, sessionKeyPrefix+id)
	if err != nil || !ok {
		return nil, false, err
	}
	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, err
	}
	return fromRecord(rec), true, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	raw, err := json.Marshal(toRecord(sess))
	if err != nil {
		return err
	}
	return s.c.SetEX(ctx, sessionKeyPrefix+sess.ID, raw, ttl)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.c.Del(ctx, sessionKeyPrefix+id)
}

func (s *RedisStore) SessionsForUser(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.c.SMembers(ctx, userSetPrefix+userID)
	if err != nil {
		return nil, err
	}
	// Set members come back unordered; sort by CreatedAt, oldest first.
	// An id whose record can't be loaded sorts first.
	created := make(map[string]time.Time, len(ids))
	for _, id := range ids {
		if sess, ok, err := s.Load(ctx, id); err == nil && ok {
			created[id] = sess.CreatedAt
		}
	}
	sort.SliceStable(ids, func(i, j int) bool { return created[ids[i]].Before(created[ids[j]]) })
	return ids, nil
}

func (s *RedisStore) TrackUser(ctx context.Context, userID, id string) error {
	if err := s.c.SAdd(ctx, userSetPrefix+userID, id); err != nil {
		return err
	}
	return s.c.Expire(ctx, userSetPrefix+userID, 30*24*time.Hour)
}

func (s *RedisStore) UntrackUser(ctx context.Context, userID, id string) error {
	return s.c.SRem(ctx, userSetPrefix+userID, id)
}

// Cleanup is a no-op: Redis expires session keys natively via SETEX,
// so there is nothing here for a sweep to reclaim.
func (s *RedisStore) Cleanup(ctx context.Context) (int, error) {
	return 0, nil
}

// goRedisClient is the production redisClient, backed by go-redis.
type goRedisClient struct{ c *redis.Client }

func (g *goRedisClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := g.c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (g *goRedisClient) SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return g.c.Set(ctx, key, value, 0).Err()
	}
	return g.c.SetEx(ctx, key, value, ttl).Err()
}

func (g *goRedisClient) Del(ctx context.Context, key string) error {
	return g.c.Del(ctx, key).Err()
}

func (g *goRedisClient) SAdd(ctx context.Context, key, member string) error {
	return g.c.SAdd(ctx, key, member).Err()
}

func (g *goRedisClient) SRem(ctx context.Context, key, member string) error {
	return g.c.SRem(ctx, key, member).Err()
}

func (g *goRedisClient) SMembers(ctx context.Context, key string) ([]string, error) {
	return g.c.SMembers(ctx, key).Result()
}

func (g *goRedisClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return g.c.Expire(ctx, key, ttl).Err()
}

// loggingRedisClient is the dependency-free stand-in used when no Redis
// address is configured, matching internal/cache's loggingStore idiom.
type loggingRedisClient struct{}

func (loggingRedisClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	edgelog.With(map[string]interface{}{"key": key}).Debug("session store (logging stand-in): GET")
	return nil, false, nil
}

func (loggingRedisClient) SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	edgelog.With(map[string]interface{}{"key": key, "ttl": ttl}).Debug("session store (logging stand-in): SETEX")
	return nil
}

func (loggingRedisClient) Del(ctx context.Context, key string) error {
	edgelog.With(map[string]interface{}{"key": key}).Debug("session store (logging stand-in): DEL")
	return nil
}

func (loggingRedisClient) SAdd(ctx context.Context, key, member string) error {
	edgelog.With(map[string]interface{}{"key": key, "member": member}).Debug("session store (logging stand-in): SADD")
	return nil
}

func (loggingRedisClient) SRem(ctx context.Context, key, member string) error {
	edgelog.With(map[string]interface{}{"key": key, "member": member}).Debug("session store (logging stand-in): SREM")
	return nil
}

func (loggingRedisClient) SMembers(ctx context.Context, key string) ([]string, error) {
	return nil, nil
}

func (loggingRedisClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}
