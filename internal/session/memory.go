// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// entry pairs a session with the absolute deadline the store should
// expire it at, independent of the session's own ExpiresAt (the store
// layer owns eviction; Manager owns application-level expiry checks).
type entry struct {
	sess     *Session
	deadline time.Time
}

// MemoryStore is an in-process Store, grounded on session.rs's
// MemoryStore: a mutex-guarded map plus a per-user id set for the
// session cap.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]entry
	byUser   map[string]map[string]struct{}
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]entry),
		byUser:   make(map[string]map[string]struct{}),
	}
}

func (m *MemoryStore) Load(ctx context.Context, id string) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false, nil
	}
	if !e.deadline.IsZero() && time.Now().After(e.deadline) {
		delete(m.sessions, id)
		return nil, false, nil
	}
	return e.sess.clone(), true, nil
}

func (m *MemoryStore) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deadline time.Time
	if ttl > 0 {
		deadline = time.Now().Add(ttl)
	}
	m.sessions[sess.ID] = entry{sess: sess.clone(), deadline: deadline}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) SessionsForUser(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.byUser[userID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.sessions[ids[i]].sess, m.sessions[ids[j]].sess
		if a == nil || b == nil {
			// A tracked id whose record is gone sorts first.
			return a == nil && b != nil
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return ids, nil
}

func (m *MemoryStore) TrackUser(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		m.byUser[userID] = set
	}
	set[id] = struct{}{}
	return nil
}

func (m *MemoryStore) UntrackUser(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.untrackLocked(userID, id)
	return nil
}

func (m *MemoryStore) untrackLocked(userID, id string) {
	if set, ok := m.byUser[userID]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(m.byUser, userID)
		}
	}
}

// Cleanup walks the map once and evicts every entry past its deadline,
// untracking each from its user's set. Load also evicts lazily on
// access, but a session nobody loads again would otherwise never be
// reclaimed; this is the periodic sweep that catches those.
func (m *MemoryStore) Cleanup(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, e := range m.sessions {
		if e.deadline.IsZero() || !now.After(e.deadline) {
			continue
		}
		delete(m.sessions, id)
		if e.sess.UserID != "" {
			m.untrackLocked(e.sess.UserID, id)
		}
		removed++
	}
	return removed, nil
}
