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

// Package session implements session lifecycle management: id/CSRF-token
// generation, cookie-or-created resolution with optional IP/User-Agent
// binding, login/logout semantics including per-user session caps and id
// regeneration on privilege transition, and three interchangeable
// stores. Grounded on original_source/src/session.rs/session_manager.rs
// for the exact field set and id-construction order.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Session is one stored login/anonymous session record.
type Session struct {
	ID           string
	Data         map[string]string
	CreatedAt    time.Time
	LastAccessed time.Time
	ExpiresAt    time.Time
	UserID       string // empty if anonymous
	IPAddress    string
	UserAgent    string
	CSRFToken    string
}

// New builds a fresh Session with a generated id and CSRF token, expiring
// ttl from now.
func New(ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:           generateID(),
		Data:         make(map[string]string),
		CreatedAt:    now,
		LastAccessed: now,
		ExpiresAt:    now.Add(ttl),
		CSRFToken:    generateCSRFToken(),
	}
}

// generateID builds SHA-256(UUIDv4 ‖ 128 random bits ‖ monotonic-time
// bytes) hex.
func generateID() string {
	h := sha256.New()

	id := uuid.New()
	h.Write(id[:])

	var randomBits [16]byte
	_, _ = rand.Read(randomBits[:])
	h.Write(randomBits[:])

	// time.Now() on a monotonic-reading clock carries a monotonic
	// component internally; String() renders it, giving a
	// process-local tiebreaker cheaper than re-deriving nanotime.
	h.Write([]byte(time.Now().String()))

	return hex.EncodeToString(h.Sum(nil))
}

// generateCSRFToken builds a 32-byte crypto/rand token, base64-encoded.
func generateCSRFToken() string {
	var b [32]byte
	_, _ = rand.Read(b[:])
	return base64.StdEncoding.EncodeToString(b[:])
}

func (s *Session) isExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

func (s *Session) refresh(now time.Time, ttl time.Duration) {
	s.LastAccessed = now
	s.ExpiresAt = now.Add(ttl)
}

func (s *Session) regenerateID() {
	s.ID = generateID()
	s.CSRFToken = generateCSRFToken()
}

// clear unbinds the session from its user and wipes its data, leaving
// the record itself (id, timestamps, CSRF token) intact for logout to
// save rather than delete.
func (s *Session) clear() {
	s.UserID = ""
	s.Data = make(map[string]string)
}

// clone returns a deep-enough copy for stores that must not alias the
// caller's map (the in-memory store, notably).
func (s *Session) clone() *Session {
	cp := *s
	cp.Data = make(map[string]string, len(s.Data))
	for k, v := range s.Data {
		cp.Data[k] = v
	}
	return &cp
}
