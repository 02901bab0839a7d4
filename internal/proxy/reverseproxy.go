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

// Package proxy implements a reverse proxy: target
// selection via a pluggable Strategy, connection reuse through
// internal/pool, breaker-guarded dispatch through internal/breaker, and
// streaming request/response copy with size caps and header hygiene.
package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/edgehttp/edge/internal/breaker"
	"github.com/edgehttp/edge/internal/edgeerr"
	"github.com/edgehttp/edge/internal/edgelog"
	"github.com/edgehttp/edge/internal/pool"
)

// hopByHopHeaders are never copied to the upstream request or back to
// the client, grounded on other_examples' vllm_proxy.go copyHeaders.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// Config controls a ReverseProxy instance.
type Config struct {
	Strategy        Strategy
	Targets         []*Target
	Pool            *pool.Pool
	Breakers        *breaker.Registry
	MaxRequestSize  int64
	MaxResponseSize int64
	ViaToken        string // e.g. "1.1 edged"
	HealthCheckPath string
	HealthInterval  time.Duration
	RequestTimeout  time.Duration
}

// ReverseProxy dispatches one request to a backend selected by Strategy.
type ReverseProxy struct {
	cfg Config

	stopHealth chan struct{}
}

// New builds a ReverseProxy and, if cfg.HealthCheckPath is set, starts
// the background liveness prober.
func New(cfg Config) *ReverseProxy {
	if cfg.Strategy == nil {
		cfg.Strategy = &RoundRobin{}
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 10 * time.Second
	}
	p := &ReverseProxy{cfg: cfg, stopHealth: make(chan struct{})}
	if cfg.HealthCheckPath != "" {
		go p.healthLoop()
	}
	return p
}

// Close stops the background health prober.
func (p *ReverseProxy) Close() { close(p.stopHealth) }

func (p *ReverseProxy) healthLoop() {
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.probeAll()
		case <-p.stopHealth:
			return
		}
	}
}

func (p *ReverseProxy) probeAll() {
	for _, t := range p.cfg.Targets {
		live := probeOnce(t.Address, p.cfg.HealthCheckPath)
		if live != t.alive() {
			edgelog.With(map[string]interface{}{"target": t.Address, "live": live}).Info("backend health changed")
		}
		t.markLive(live)
	}
}

func probeOnce(address, path string) bool {
	conn, err := net.DialTimeout("tcp", address, 2*time.Second)
	if err != nil {
		return false
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	req, err := http.NewRequest(http.MethodGet, "http://"+address+path, nil)
	if err != nil {
		return false
	}
	if err := req.Write(conn); err != nil {
		return false
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// ServeHTTP runs one proxied request through target selection, pool
// acquisition, breaker check, upstream call, and response copy.
func (p *ReverseProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := p.cfg.Strategy.Select(p.cfg.Targets, r)
	if target == nil {
		writeErr(w, edgeerr.New(edgeerr.KindUpstreamUnavailable, "no live backend"))
		return
	}

	target.active.Add(1)
	defer target.active.Add(-1)

	host, portStr, err := net.SplitHostPort(target.Address)
	if err != nil {
		writeErr(w, edgeerr.Wrap(edgeerr.KindInternal, "invalid target address", err))
		return
	}
	port := 0
	fmt.Sscanf(portStr, "%d", &port)

	br := p.cfg.Breakers.Get(target.Address)

	var status int
	var respHeader http.Header
	var respBody io.ReadCloser

	err = br.Call(r.Context(), func(ctx context.Context) error {
		conn, dialErr := p.cfg.Pool.Acquire(ctx, host, port)
		if dialErr != nil {
			return dialErr
		}

		upstreamReq, buildErr := p.buildUpstreamRequest(r, target.Address)
		if buildErr != nil {
			p.cfg.Pool.Discard(conn)
			return buildErr
		}

		if p.cfg.RequestTimeout > 0 {
			_ = conn.SetDeadline(time.Now().Add(p.cfg.RequestTimeout))
		}

		if writeErr := upstreamReq.Write(conn); writeErr != nil {
			p.cfg.Pool.Discard(conn)
			return writeErr
		}

		resp, readErr := http.ReadResponse(bufio.NewReader(conn), upstreamReq)
		if readErr != nil {
			p.cfg.Pool.Discard(conn)
			return readErr
		}

		status = resp.StatusCode
		respHeader = resp.Header

		// The connection can't be released until the body is fully
		// streamed to the client; release happens after the copy below.
		respBody = &releaseOnClose{ReadCloser: resp.Body, pool: p.cfg.Pool, conn: conn}

		if status >= 500 {
			return fmt.Errorf("upstream returned %d", status)
		}
		return nil
	})

	if respBody == nil {
		if err != nil {
			if err == breaker.ErrOpen || err == breaker.ErrHalfOpenCap {
				writeErr(w, edgeerr.New(edgeerr.KindBreakerOpen, "backend circuit open"))
				return
			}
			writeErr(w, edgeerr.Wrap(edgeerr.KindUpstreamUnavailable, "backend request failed", err))
			return
		}
		writeErr(w, edgeerr.New(edgeerr.KindUpstreamUnavailable, "no response from backend"))
		return
	}
	defer respBody.Close()

	copyResponseHeaders(w.Header(), respHeader)
	w.Header().Set("Via", viaToken(p.cfg.ViaToken))
	w.WriteHeader(status)

	var body io.Reader = respBody
	if p.cfg.MaxResponseSize > 0 {
		body = io.LimitReader(respBody, p.cfg.MaxResponseSize)
	}
	_, _ = io.Copy(w, body)
}

// buildUpstreamRequest clones r for the upstream hop: strips hop-by-hop
// and Host/Content-Length headers, injects X-Forwarded-*/Forwarded/Via,
// and caps the body at MaxRequestSize.
func (p *ReverseProxy) buildUpstreamRequest(r *http.Request, targetAddr string) (*http.Request, error) {
	out := r.Clone(r.Context())
	out.RequestURI = ""
	out.Host = targetAddr
	out.Header = make(http.Header, len(r.Header))
	for k, vv := range r.Header {
		if hopByHopHeaders[k] || k == "Host" || k == "Content-Length" {
			continue
		}
		for _, v := range vv {
			out.Header.Add(k, v)
		}
	}

	clientIPAddr, _, _ := net.SplitHostPort(r.RemoteAddr)
	if clientIPAddr == "" {
		clientIPAddr = r.RemoteAddr
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	if prior := out.Header.Get("X-Forwarded-For"); prior != "" {
		out.Header.Set("X-Forwarded-For", prior+", "+clientIPAddr)
	} else {
		out.Header.Set("X-Forwarded-For", clientIPAddr)
	}
	out.Header.Set("X-Real-IP", clientIPAddr)
	out.Header.Set("X-Forwarded-Proto", scheme)
	out.Header.Set("Forwarded", fmt.Sprintf("for=%s;host=%s;proto=%s", clientIPAddr, r.Host, scheme))
	out.Header.Set("Via", viaToken(p.cfg.ViaToken))

	if p.cfg.MaxRequestSize > 0 && r.Body != nil {
		out.Body = io.NopCloser(io.LimitReader(r.Body, p.cfg.MaxRequestSize))
	}

	return out, nil
}

func viaToken(configured string) string {
	if configured != "" {
		return configured
	}
	return "1.1 edged"
}

func copyResponseHeaders(dst, src http.Header) {
	for k, vv := range src {
		if hopByHopHeaders[k] {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func writeErr(w http.ResponseWriter, e *edgeerr.Error) {
	w.WriteHeader(e.Kind.Status())
	_, _ = w.Write([]byte(e.Message))
}

// releaseOnClose returns the pool connection on body Close, marking it
// unhealthy if the copy ended in anything but io.EOF-clean closure.
type releaseOnClose struct {
	io.ReadCloser
	pool *pool.Pool
	conn net.Conn
}

func (r *releaseOnClose) Close() error {
	err := r.ReadCloser.Close()
	r.pool.Release(r.conn, err == nil || strings.Contains(err.Error(), "EOF"))
	return err
}
