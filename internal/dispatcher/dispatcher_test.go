// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package dispatcher

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edgehttp/edge/internal/accesslog"
	"github.com/edgehttp/edge/internal/breaker"
	"github.com/edgehttp/edge/internal/cache"
	"github.com/edgehttp/edge/internal/metrics"
	"github.com/edgehttp/edge/internal/pool"
	"github.com/edgehttp/edge/internal/rewrite"
	"github.com/edgehttp/edge/internal/session"
	"github.com/edgehttp/edge/internal/vhost"
	tfd "github.com/edgehttp/edge/plugin/tfd"
)

type discardCounterSink struct{}

func (discardCounterSink) OnSBatches([]tfd.SBatch) {}

func newTestAccess(t *testing.T) *accesslog.Recorder {
	t.Helper()
	sink, err := accesslog.NewEntryFileSink(filepath.Join(t.TempDir(), "access.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	r := accesslog.NewRecorder(accesslog.Config{}, sink, discardCounterSink{})
	t.Cleanup(r.Close)
	return r
}

func newTestDispatcherWith(t *testing.T, v *vhost.VHost, sessions *session.Manager) *Dispatcher {
	t.Helper()
	reg, err := vhost.Build([]*vhost.VHost{v})
	require.NoError(t, err)
	holder := vhost.NewHolder(reg)

	p := pool.New(pool.Config{})
	t.Cleanup(p.Close)
	breakers := breaker.NewRegistry(breaker.Config{})
	mc := metrics.New()
	access := newTestAccess(t)

	d := New(Config{}, holder, sessions, p, breakers, mc, access, nil)
	t.Cleanup(d.Close)
	return d
}

func newTestDispatcher(t *testing.T, v *vhost.VHost) *Dispatcher {
	return newTestDispatcherWith(t, v, nil)
}

func staticVHost(docRoot string) *vhost.VHost {
	return &vhost.VHost{
		Hosts:   []string{"static.example"},
		Backend: vhost.Backend{Kind: vhost.BackendStatic, DocumentRoot: docRoot},
	}
}

func TestServeHTTPUnknownHostReturns404(t *testing.T) {
	d := newTestDispatcher(t, staticVHost(t.TempDir()))

	r := httptest.NewRequest(http.MethodGet, "http://nobody.example/", nil)
	w := httptest.NewRecorder()
	d.ServeHTTP(w, r)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeHTTPACLDeniesRequest(t *testing.T) {
	v := staticVHost(t.TempDir())
	v.ACL = vhost.ACL{Deny: []string{"*"}}
	d := newTestDispatcher(t, v)

	r := httptest.NewRequest(http.MethodGet, "http://static.example/", nil)
	r.RemoteAddr = "203.0.113.5:1234"
	w := httptest.NewRecorder()
	d.ServeHTTP(w, r)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestServeHTTPRateLimitExceededSetsRetryAfter(t *testing.T) {
	v := staticVHost(t.TempDir())
	v.RequestsPerWindow = 1
	v.Window = int64(time.Minute)
	d := newTestDispatcher(t, v)

	do := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "http://static.example/", nil)
		r.RemoteAddr = "198.51.100.1:1234"
		w := httptest.NewRecorder()
		d.ServeHTTP(w, r)
		return w
	}

	first := do()
	require.NotEqual(t, http.StatusTooManyRequests, first.Code)

	second := do()
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.NotEmpty(t, second.Header().Get("Retry-After"))
}

func TestServeHTTPOversizedBodyReturns413(t *testing.T) {
	v := staticVHost(t.TempDir())
	d := newTestDispatcher(t, v)
	d.cfg.MaxBodyBytes = 4

	r := httptest.NewRequest(http.MethodPost, "http://static.example/", nil)
	r.ContentLength = 1000
	w := httptest.NewRecorder()
	d.ServeHTTP(w, r)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestServeHTTPRewriteRedirectShortCircuits(t *testing.T) {
	v := staticVHost(t.TempDir())
	eng, err := rewrite.Compile([]rewrite.Rule{
		{Pattern: regexp.MustCompile(`^/old$`), Replacement: "/new", Flags: map[rewrite.Flag]bool{rewrite.FlagRedirectPermanent: true}},
	})
	require.NoError(t, err)
	v.Rewrite = eng
	d := newTestDispatcher(t, v)

	r := httptest.NewRequest(http.MethodGet, "http://static.example/old", nil)
	w := httptest.NewRecorder()
	d.ServeHTTP(w, r)

	require.Equal(t, http.StatusMovedPermanently, w.Code)
	require.Equal(t, "/new", w.Header().Get("Location"))
}

func TestServeHTTPRewriteInternalContinuesToBackend(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "target.txt"), []byte("hi"), 0o644))

	v := staticVHost(root)
	eng, err := rewrite.Compile([]rewrite.Rule{
		{Pattern: regexp.MustCompile(`^/alias$`), Replacement: "/target.txt"},
	})
	require.NoError(t, err)
	v.Rewrite = eng
	d := newTestDispatcher(t, v)

	r := httptest.NewRequest(http.MethodGet, "http://static.example/alias", nil)
	w := httptest.NewRecorder()
	d.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "hi", w.Body.String())
}

func TestServeHTTPStaticBackendServesFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("hello world"), 0o644))
	d := newTestDispatcher(t, staticVHost(root))

	r := httptest.NewRequest(http.MethodGet, "http://static.example/index.html", nil)
	w := httptest.NewRecorder()
	d.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "hello world", w.Body.String())
}

func TestServeHTTPSecurityHeadersAlwaysPresent(t *testing.T) {
	d := newTestDispatcher(t, staticVHost(t.TempDir()))

	r := httptest.NewRequest(http.MethodGet, "http://static.example/missing", nil)
	w := httptest.NewRecorder()
	d.ServeHTTP(w, r)

	require.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	require.NotEmpty(t, w.Header().Get("Referrer-Policy"))
	require.NotEmpty(t, w.Header().Get("Permissions-Policy"))
}

func TestServeHTTPSessionCookieSetAndCSRFEnforced(t *testing.T) {
	sessions := session.NewManager(session.NewMemoryStore(), session.Config{TTL: time.Minute})
	t.Cleanup(sessions.Close)
	d := newTestDispatcherWith(t, staticVHost(t.TempDir()), sessions)

	r := httptest.NewRequest(http.MethodGet, "http://static.example/", nil)
	w := httptest.NewRecorder()
	d.ServeHTTP(w, r)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	mutate := httptest.NewRequest(http.MethodPost, "http://static.example/", nil)
	mutate.AddCookie(cookies[len(cookies)-1])
	w2 := httptest.NewRecorder()
	d.ServeHTTP(w2, mutate)
	require.Equal(t, http.StatusForbidden, w2.Code)
}

func TestServeHTTPUnconfiguredBackendReturns404(t *testing.T) {
	v := staticVHost(t.TempDir())
	v.Backend.Kind = vhost.BackendNone
	d := newTestDispatcher(t, v)

	r := httptest.NewRequest(http.MethodGet, "http://static.example/", nil)
	w := httptest.NewRecorder()
	d.ServeHTTP(w, r)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeHTTPStaticBackendCachesResponseBody(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "cached.txt"), []byte("first"), 0o644))

	reg, err := vhost.Build([]*vhost.VHost{staticVHost(root)})
	require.NoError(t, err)
	holder := vhost.NewHolder(reg)
	p := pool.New(pool.Config{})
	t.Cleanup(p.Close)
	d := New(Config{}, holder, nil, p, breaker.NewRegistry(breaker.Config{}), metrics.New(), newTestAccess(t), cache.New(cache.Config{}))
	t.Cleanup(d.Close)

	do := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "http://static.example/cached.txt", nil)
		w := httptest.NewRecorder()
		d.ServeHTTP(w, r)
		return w
	}

	first := do()
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, "first", first.Body.String())
	require.Empty(t, first.Header().Get("X-Cache"))

	require.NoError(t, os.WriteFile(filepath.Join(root, "cached.txt"), []byte("second"), 0o644))

	second := do()
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, "first", second.Body.String())
	require.Equal(t, "HIT", second.Header().Get("X-Cache"))
}

func TestNewCorrelationIDIsHexAndUnique(t *testing.T) {
	a := newCorrelationID()
	b := newCorrelationID()
	require.Len(t, a, 32)
	require.NotEqual(t, a, b)
}
