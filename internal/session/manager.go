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

package session

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls cookie construction and lifecycle rules, field for
// field matching session.rs's SessionConfig.
type Config struct {
	CookieName      string
	Domain          string
	Path            string
	SameSite        SameSite
	Secure          bool
	HTTPOnly        bool
	TTL             time.Duration
	MaxPerUser      int
	BindIPAddress   bool
	BindUserAgent   bool
	CleanupInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.CookieName == "" {
		c.CookieName = "edge_session"
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.SameSite == "" {
		c.SameSite = SameSiteLax
	}
	if c.TTL <= 0 {
		c.TTL = 30 * time.Minute
	}
	if c.MaxPerUser <= 0 {
		c.MaxPerUser = 5
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	return c
}

// Manager ties a Store to the cookie-facing session lifecycle: creation,
// cookie-bound loading with optional IP/UA binding, login (with id
// regeneration and per-user eviction), and logout. Grounded on
// session.rs's SessionManager. It also owns a background sweep that
// periodically calls the Store's Cleanup, mirroring SessionManager::new
// starting its cleanup task before returning.
type Manager struct {
	store Store
	cfg   Config

	stopCh  chan struct{}
	wg      sync.WaitGroup
	stopped uint32
}

// NewManager builds a Manager over store and starts its background
// sweep loop.
func NewManager(store Store, cfg Config) *Manager {
	m := &Manager{store: store, cfg: cfg.withDefaults(), stopCh: make(chan struct{})}
	m.startCleanup()
	return m
}

// startCleanup runs store.Cleanup on every tick of cfg.CleanupInterval
// until Close is called, grounded on internal/ratelimit's evictionWorker
// (ticker + stopCh + WaitGroup + atomic CAS for an idempotent Close).
func (m *Manager) startCleanup() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_, _ = m.store.Cleanup(context.Background())
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Close stops the background sweep loop. Safe to call more than once.
func (m *Manager) Close() {
	if !atomic.CompareAndSwapUint32(&m.stopped, 0, 1) {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
}

// CreateSession starts a new anonymous session bound to the requesting
// client's address and user agent (for later binding checks), and
// persists it.
func (m *Manager) CreateSession(ctx context.Context, r *http.Request) (*Session, error) {
	sess := New(m.cfg.TTL)
	sess.IPAddress = clientAddr(r)
	sess.UserAgent = r.UserAgent()
	if err := m.store.Save(ctx, sess, m.cfg.TTL); err != nil {
		return nil, err
	}
	return sess, nil
}

// LoadSession resolves the session named by the request's cookie. A
// binding mismatch (IP or User-Agent, if configured) is reported
// identically to a missing session: ok=false, no error, so a client
// spoofing its way past one check can't distinguish "wrong cookie" from
// "stolen cookie", per session.rs's load_session.
func (m *Manager) LoadSession(ctx context.Context, r *http.Request) (sess *Session, ok bool, err error) {
	id, found := ExtractSessionID(r, m.cfg.CookieName)
	if !found {
		return nil, false, nil
	}
	sess, ok, err = m.store.Load(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	if sess.isExpired(time.Now()) {
		_ = m.store.Delete(ctx, id)
		return nil, false, nil
	}
	if m.cfg.BindIPAddress && sess.IPAddress != "" && sess.IPAddress != clientAddr(r) {
		return nil, false, nil
	}
	if m.cfg.BindUserAgent && sess.UserAgent != "" && sess.UserAgent != r.UserAgent() {
		return nil, false, nil
	}
	sess.refresh(time.Now(), m.cfg.TTL)
	if err := m.store.Save(ctx, sess, m.cfg.TTL); err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

// Login binds sess to userID, regenerating its id (and CSRF token) so a
// pre-login session id is never valid post-login, then enforces the
// per-user session cap by evicting the oldest tracked session beyond it.
func (m *Manager) Login(ctx context.Context, sess *Session, userID string) error {
	oldID := sess.ID
	sess.regenerateID()
	sess.UserID = userID

	if err := m.store.Save(ctx, sess, m.cfg.TTL); err != nil {
		return err
	}
	if oldID != sess.ID {
		_ = m.store.Delete(ctx, oldID)
	}
	if err := m.store.TrackUser(ctx, userID, sess.ID); err != nil {
		return err
	}

	ids, err := m.store.SessionsForUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(ids) > m.cfg.MaxPerUser {
		for _, evictID := range ids[:len(ids)-m.cfg.MaxPerUser] {
			_ = m.store.Delete(ctx, evictID)
			_ = m.store.UntrackUser(ctx, userID, evictID)
		}
	}
	return nil
}

// Logout untracks sess from its user's session set, then clears its
// bound user id and data and re-saves the record. The record itself
// survives, unlike Destroy, so it keeps occupying its slot in the
// store until it expires naturally or a sweep reclaims it.
func (m *Manager) Logout(ctx context.Context, sess *Session) error {
	if sess.UserID != "" {
		_ = m.store.UntrackUser(ctx, sess.UserID, sess.ID)
	}
	sess.clear()
	return m.store.Save(ctx, sess, m.cfg.TTL)
}

// Destroy removes a session by id without requiring it be loaded first.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// CreateCookie builds the Set-Cookie header value for sess, per the
// Config's Domain/Path/SameSite/Secure/HttpOnly/TTL attributes.
func (m *Manager) CreateCookie(sess *Session) *http.Cookie {
	return &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    sess.ID,
		Domain:   m.cfg.Domain,
		Path:     m.cfg.Path,
		MaxAge:   int(m.cfg.TTL.Seconds()),
		Secure:   m.cfg.Secure,
		HttpOnly: m.cfg.HTTPOnly,
		SameSite: m.cfg.SameSite.toHTTP(),
	}
}

// ExpireCookie builds a Set-Cookie header value that clears the session
// cookie client-side, for use on logout.
func (m *Manager) ExpireCookie() *http.Cookie {
	c := m.CreateCookie(&Session{ID: ""})
	c.MaxAge = -1
	return c
}

// ExtractSessionID reads the session id from the named cookie.
func ExtractSessionID(r *http.Request, cookieName string) (string, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
