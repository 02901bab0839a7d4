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

// Package dispatcher wires every other internal package into the nine
// ordered request-pipeline stages: vhost resolution, access control,
// rate limiting, size limits, rewrite, session/CSRF, backend dispatch,
// and observability, with panic recovery wrapped around the whole
// thing. Grounded on internal/proxy.ReverseProxy.ServeHTTP's stage
// ordering and error-to-response mapping, generalized from "one
// backend kind" to "select among Static/Process/Proxy/FastCGI per
// vhost, plus rewrite terminal actions."
package dispatcher

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/edgehttp/edge/internal/accesslog"
	"github.com/edgehttp/edge/internal/breaker"
	"github.com/edgehttp/edge/internal/cache"
	"github.com/edgehttp/edge/internal/edgeerr"
	"github.com/edgehttp/edge/internal/edgelog"
	"github.com/edgehttp/edge/internal/fastcgi"
	"github.com/edgehttp/edge/internal/metrics"
	"github.com/edgehttp/edge/internal/pool"
	"github.com/edgehttp/edge/internal/proxy"
	"github.com/edgehttp/edge/internal/ratelimit"
	"github.com/edgehttp/edge/internal/rewrite"
	"github.com/edgehttp/edge/internal/session"
	"github.com/edgehttp/edge/internal/vhost"
)

// Config controls ambient dispatcher behavior not owned by any one
// vhost: size limits, the Via token, and the opt-in security headers.
type Config struct {
	MaxHeaderBytes int
	MaxBodyBytes   int64

	ViaToken         string
	HSTSMaxAge       int
	ContentSecPolicy string
}

func (c Config) withDefaults() Config {
	if c.MaxHeaderBytes <= 0 {
		c.MaxHeaderBytes = 1 << 20
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 10 << 20
	}
	if c.ViaToken == "" {
		c.ViaToken = "1.1 edged"
	}
	return c
}

// Dispatcher is the top-level http.Handler. One Dispatcher serves every
// vhost in its Registry; per-vhost adapters and rate limiters are built
// lazily on first use and cached for the Dispatcher's lifetime.
type Dispatcher struct {
	cfg      Config
	registry *vhost.Holder
	sessions *session.Manager
	pool     *pool.Pool
	breakers *breaker.Registry
	metrics  *metrics.Collector
	access   *accesslog.Recorder
	cache    *cache.Cache

	mu       sync.RWMutex
	limiters map[*vhost.VHost]*ratelimit.Limiter
	proxies  map[*vhost.VHost]*proxy.ReverseProxy
}

// New builds a Dispatcher. sessions may be nil, in which case stage 6
// (session/CSRF) is skipped entirely. c may be nil, in which case the
// static backend serves every request straight off disk.
func New(cfg Config, registry *vhost.Holder, sessions *session.Manager, p *pool.Pool, breakers *breaker.Registry, mc *metrics.Collector, access *accesslog.Recorder, c *cache.Cache) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg.withDefaults(),
		registry: registry,
		sessions: sessions,
		pool:     p,
		breakers: breakers,
		metrics:  mc,
		access:   access,
		cache:    c,
		limiters: make(map[*vhost.VHost]*ratelimit.Limiter),
		proxies:  make(map[*vhost.VHost]*proxy.ReverseProxy),
	}
}

// Close stops every lazily-created per-vhost limiter and proxy.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range d.limiters {
		l.Close()
	}
	for _, p := range d.proxies {
		p.Close()
	}
}

// ServeHTTP runs the nine-stage request pipeline in order
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	d.metrics.IncActiveConnections()
	defer d.metrics.DecActiveConnections()

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	defer func() {
		if rc := recover(); rc != nil {
			correlationID := newCorrelationID()
			edgelog.With(map[string]interface{}{
				"correlation_id": correlationID,
				"panic":          rc,
			}).Error("dispatcher: recovered panic")
			writeError(rec, edgeerr.Internal(correlationID, nil))
		}
		d.observe(r, rec, start)
	}()

	applySecurityHeaders(rec, d.cfg)

	// Stage 1: resolve vhost.
	host := hostOnly(r.Host)
	reg := d.registry.Load()
	v, ok := reg.Resolve(host)
	if !ok {
		writeError(rec, edgeerr.New(edgeerr.KindNoVHost, "no vhost for "+host))
		return
	}

	// Stage 2: access control.
	peer := peerIP(r)
	if !v.ACL.Allowed(peer) {
		writeError(rec, edgeerr.New(edgeerr.KindAccessDenied, "access denied"))
		return
	}

	// Stage 3: rate limit.
	if v.RequestsPerWindow > 0 {
		limiter := d.limiterFor(v)
		allowed, retryAfter := limiter.Allow(host)
		if !allowed {
			e := edgeerr.RateLimited(int(retryAfter.Seconds()))
			rec.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
			writeError(rec, e)
			return
		}
	}

	// Stage 4: size limits.
	if len(r.Header) > 0 && headerBytes(r) > d.cfg.MaxHeaderBytes {
		writeError(rec, edgeerr.New(edgeerr.KindHeadersTooLarge, "request headers too large"))
		return
	}
	if r.ContentLength > d.cfg.MaxBodyBytes {
		writeError(rec, edgeerr.New(edgeerr.KindRequestTooLarge, "request body too large"))
		return
	}
	r.Body = http.MaxBytesReader(rec, r.Body, d.cfg.MaxBodyBytes)

	// Stage 5: rewrites.
	vars := rewrite.Vars{
		Scheme:        schemeOf(r),
		Host:          host,
		RequestURI:    r.URL.RequestURI(),
		RemoteAddr:    r.RemoteAddr,
		RequestMethod: r.Method,
		QueryString:   r.URL.RawQuery,
	}
	if v.Rewrite != nil {
		action := v.Rewrite.Process(r.URL.Path, vars)
		if handled := applyRewriteAction(rec, r, action); handled {
			return
		}
	}

	// Stage 6: session + CSRF.
	if d.sessions != nil {
		sess, found, err := d.sessions.LoadSession(r.Context(), r)
		if err != nil {
			writeError(rec, edgeerr.Wrap(edgeerr.KindInternal, "session load failed", err))
			return
		}
		if !found {
			sess, err = d.sessions.CreateSession(r.Context(), r)
			if err != nil {
				writeError(rec, edgeerr.Wrap(edgeerr.KindInternal, "session create failed", err))
				return
			}
		}
		http.SetCookie(rec, d.sessions.CreateCookie(sess))
		if !session.ValidateCSRF(r, sess) {
			writeError(rec, edgeerr.New(edgeerr.KindAccessDenied, "csrf validation failed"))
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), sessionContextKey{}, sess))
	}

	// Stage 7 + 8: select and invoke the backend adapter.
	d.dispatchBackend(rec, r, v, host)
}

type sessionContextKey struct{}

// SessionFromContext recovers the session loaded in stage 6, if any.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(*session.Session)
	return sess, ok
}

func (d *Dispatcher) dispatchBackend(w http.ResponseWriter, r *http.Request, v *vhost.VHost, host string) {
	switch v.Backend.Kind {
	case vhost.BackendStatic:
		serveStatic(w, r, v.Backend.DocumentRoot, d.cache)
	case vhost.BackendFastCGI:
		d.serveFastCGI(w, r, v)
	case vhost.BackendProxy, vhost.BackendProcess:
		d.proxyFor(v).ServeHTTP(w, r)
	default:
		writeError(w, edgeerr.New(edgeerr.KindNotFound, "no backend configured for "+host))
	}
}

func (d *Dispatcher) limiterFor(v *vhost.VHost) *ratelimit.Limiter {
	d.mu.RLock()
	l, ok := d.limiters[v]
	d.mu.RUnlock()
	if ok {
		return l
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.limiters[v]; ok {
		return l
	}
	l = ratelimit.New(ratelimit.Config{
		RequestsPerWindow: v.RequestsPerWindow,
		Window:            time.Duration(v.Window),
	})
	d.limiters[v] = l
	return l
}

func (d *Dispatcher) proxyFor(v *vhost.VHost) *proxy.ReverseProxy {
	d.mu.RLock()
	p, ok := d.proxies[v]
	d.mu.RUnlock()
	if ok {
		return p
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.proxies[v]; ok {
		return p
	}
	upstreams := v.Backend.Upstreams
	if v.Backend.Kind == vhost.BackendProcess {
		upstreams = []string{"127.0.0.1:" + strconv.Itoa(v.Backend.ProcessPort)}
	}
	targets := make([]*proxy.Target, len(upstreams))
	for i, addr := range upstreams {
		weight := 1
		if i < len(v.Backend.Weights) {
			weight = v.Backend.Weights[i]
		}
		targets[i] = &proxy.Target{Address: addr, Weight: weight}
	}
	p = proxy.New(proxy.Config{
		Strategy:        proxy.ByName(v.Backend.Strategy),
		Targets:         targets,
		Pool:            d.pool,
		Breakers:        d.breakers,
		ViaToken:        d.cfg.ViaToken,
		HealthCheckPath: v.HealthCheckPath,
	})
	d.proxies[v] = p
	return p
}

func (d *Dispatcher) serveFastCGI(w http.ResponseWriter, r *http.Request, v *vhost.VHost) {
	network := v.Backend.FastCGINetwork
	if network == "" {
		network = "tcp"
	}
	conn, err := net.DialTimeout(network, v.Backend.FastCGIAddr, 5*time.Second)
	if err != nil {
		writeError(w, edgeerr.Wrap(edgeerr.KindUpstreamUnavailable, "fastcgi dial failed", err))
		return
	}
	defer conn.Close()

	resp, err := fastcgi.RoundTrip(conn, r, fastcgi.Config{
		DocumentRoot: v.Backend.ScriptRoot,
		IndexFiles:   v.Backend.IndexFiles,
	})
	if err != nil {
		writeError(w, edgeerr.Wrap(edgeerr.KindUpstreamUnavailable, "fastcgi round trip failed", err))
		return
	}
	for k, vals := range resp.Header {
		for _, val := range vals {
			w.Header().Add(k, val)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func (d *Dispatcher) observe(r *http.Request, rec *statusRecorder, start time.Time) {
	dur := time.Since(start)
	d.metrics.RecordRequest(r.Method, rec.status, dur, r.ContentLength, rec.bytesWritten)
	d.access.Record(accesslog.Entry{
		Time:       start,
		VHost:      hostOnly(r.Host),
		Method:     r.Method,
		Path:       r.URL.Path,
		Status:     rec.status,
		BytesOut:   rec.bytesWritten,
		Duration:   dur,
		RemoteAddr: r.RemoteAddr,
	})
}

func newCorrelationID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// statusRecorder captures the status code and byte count an adapter
// writes, since http.ResponseWriter exposes neither after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
	wroteHeader  bool
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.wroteHeader {
		return
	}
	s.wroteHeader = true
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wroteHeader {
		s.WriteHeader(http.StatusOK)
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytesWritten += int64(n)
	return n, err
}

func headerBytes(r *http.Request) int {
	total := len(r.Method) + len(r.URL.String()) + len(r.Proto)
	for k, vals := range r.Header {
		for _, v := range vals {
			total += len(k) + len(v) + 4
		}
	}
	return total
}

func hostOnly(hostport string) string {
	h, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return h
}

func schemeOf(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}

func peerIP(r *http.Request) net.IP {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if ip := net.ParseIP(firstOf(fwd)); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return net.ParseIP(r.RemoteAddr)
	}
	return net.ParseIP(host)
}

func firstOf(csv string) string {
	for i := 0; i < len(csv); i++ {
		if csv[i] == ',' {
			return csv[:i]
		}
	}
	return csv
}

func writeError(w http.ResponseWriter, e *edgeerr.Error) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(e.Kind.Status())
	_, _ = io.WriteString(w, e.Error())
}
