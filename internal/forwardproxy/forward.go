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

// Package forwardproxy implements an HTTP CONNECT tunnel and PROXY
// protocol v1/v2 parsing (proxyproto.go) for learning a
// client's real address when this listener itself sits behind another
// proxy. Grounded on original_source/src/proxy/forward.rs's
// authenticate-then-splice flow and tunnel_streams' bidirectional
// io.Copy pair, reworked into Go's synchronous net.Conn model.
package forwardproxy

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/edgehttp/edge/internal/edgelog"
)

// Credentials is one set of Basic auth credentials accepted for
// Proxy-Authorization.
type Credentials struct {
	Username string
	Password string
}

// UpstreamProxy chains this proxy's CONNECT tunnels through another
// proxy, authenticating to it with its own credentials.
type UpstreamProxy struct {
	Address string
	Auth    *Credentials
}

// Config controls one Handler.
type Config struct {
	// Credentials required on Proxy-Authorization, nil to disable auth.
	Credentials *Credentials
	Upstream    *UpstreamProxy
	DialTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}

// TunnelResult reports bytes moved in each direction, for access logging.
type TunnelResult struct {
	BytesToTarget int64
	BytesToClient int64
}

// Handler implements the CONNECT method over a hijacked client
// connection.
type Handler struct {
	cfg Config
}

// New builds a Handler.
func New(cfg Config) *Handler {
	return &Handler{cfg: cfg.withDefaults()}
}

// ServeConnect handles one CONNECT request: authenticates, dials the
// target (directly or through an upstream proxy), replies
// "200 Connection Established", and splices clientConn with the target
// bidirectionally until either side closes.
func (h *Handler) ServeConnect(clientConn net.Conn, r *http.Request) (TunnelResult, error) {
	if !h.authenticate(r) {
		writeStatusLine(clientConn, http.StatusProxyAuthRequired, "Proxy Authentication Required")
		_, _ = clientConn.Write([]byte("Proxy-Authenticate: Basic realm=\"edged\"\r\n\r\n"))
		return TunnelResult{}, fmt.Errorf("forwardproxy: authentication failed for %s", r.Host)
	}

	target := r.Host
	if !strings.Contains(target, ":") {
		target += ":443"
	}

	var (
		targetConn net.Conn
		err        error
	)
	if h.cfg.Upstream != nil {
		targetConn, err = h.dialThroughUpstream(target)
	} else {
		targetConn, err = net.DialTimeout("tcp", target, h.cfg.DialTimeout)
	}
	if err != nil {
		writeStatusLine(clientConn, http.StatusBadGateway, "Bad Gateway")
		_, _ = clientConn.Write([]byte("\r\n"))
		return TunnelResult{}, fmt.Errorf("forwardproxy: dialing target %s: %w", target, err)
	}
	defer targetConn.Close()

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return TunnelResult{}, fmt.Errorf("forwardproxy: writing 200 to client: %w", err)
	}

	return splice(clientConn, targetConn), nil
}

func (h *Handler) authenticate(r *http.Request) bool {
	if h.cfg.Credentials == nil {
		return true
	}
	return checkBasicAuth(r.Header.Get("Proxy-Authorization"), *h.cfg.Credentials)
}

func checkBasicAuth(header string, want Credentials) bool {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	return ok && user == want.Username && pass == want.Password
}

// dialThroughUpstream opens a CONNECT tunnel to target via an upstream
// proxy, repeating the Proxy-Authorization exchange with the upstream's
// own credentials, for optional upstream chaining.
func (h *Handler) dialThroughUpstream(target string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", h.cfg.Upstream.Address, h.cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dialing upstream proxy: %w", err)
	}

	req := "CONNECT " + target + " HTTP/1.1\r\nHost: " + target + "\r\n"
	if h.cfg.Upstream.Auth != nil {
		encoded := base64.StdEncoding.EncodeToString(
			[]byte(h.cfg.Upstream.Auth.Username + ":" + h.cfg.Upstream.Auth.Password))
		req += "Proxy-Authorization: Basic " + encoded + "\r\n"
	}
	req += "\r\n"

	if _, err := conn.Write([]byte(req)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing CONNECT to upstream: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading upstream CONNECT response: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("upstream proxy refused CONNECT: %s", resp.Status)
	}

	return conn, nil
}

// splice copies bytes bidirectionally between client and target until
// both directions have finished (either side closing ends its
// direction; the other direction finishes once it observes EOF too).
func splice(client, target net.Conn) TunnelResult {
	var result TunnelResult
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		n, err := io.Copy(target, client)
		result.BytesToTarget = n
		if cw, ok := target.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		} else {
			_ = target.Close()
		}
		if err != nil && !isClosedConnError(err) {
			edgelog.With(map[string]interface{}{"direction": "client->target"}).Debug(err.Error())
		}
	}()

	go func() {
		defer wg.Done()
		n, err := io.Copy(client, target)
		result.BytesToClient = n
		if cw, ok := client.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		} else {
			_ = client.Close()
		}
		if err != nil && !isClosedConnError(err) {
			edgelog.With(map[string]interface{}{"direction": "target->client"}).Debug(err.Error())
		}
	}()

	wg.Wait()
	return result
}

func isClosedConnError(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection")
}

func writeStatusLine(w io.Writer, code int, text string) {
	_, _ = fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", code, text)
}
