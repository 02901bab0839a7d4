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

package dispatcher

import (
	"bytes"
	"context"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/edgehttp/edge/internal/cache"
	"github.com/edgehttp/edge/internal/edgeerr"
)

// staticCacheMaxBytes bounds what serveStatic will write through to c;
// larger files are served straight off disk on every request.
const staticCacheMaxBytes = 1 << 20

// staticCacheTTL is how long a cached static response tier stays fresh.
// There is no invalidation hook tied to file modification yet; a changed
// file on disk is visible again only once this expires.
const staticCacheTTL = 5 * time.Minute

// serveStatic serves one request from a vhost's document root. Path
// traversal is handled by http.Dir/http.FileServer, which cleans the
// request path before joining it to root. c may be nil to skip the
// cache tiers entirely.
func serveStatic(w http.ResponseWriter, r *http.Request, documentRoot string, c *cache.Cache) {
	if documentRoot == "" {
		writeError(w, edgeerr.New(edgeerr.KindNotFound, "no document root configured"))
		return
	}

	if c == nil || r.Method != http.MethodGet {
		http.FileServer(http.Dir(documentRoot)).ServeHTTP(w, r)
		return
	}

	key := documentRoot + ":" + r.URL.Path
	if body, ok := c.Get(r.Context(), key); ok {
		if ct := mime.TypeByExtension(filepath.Ext(r.URL.Path)); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.Header().Set("X-Cache", "HIT")
		w.Write(body)
		return
	}

	cw := &cacheWriter{ResponseWriter: w, buf: &bytes.Buffer{}}
	http.FileServer(http.Dir(documentRoot)).ServeHTTP(cw, r)
	if cw.status == http.StatusOK && cw.buf.Len() > 0 && cw.buf.Len() <= staticCacheMaxBytes {
		c.Set(context.Background(), key, cw.buf.Bytes(), staticCacheTTL)
	}
}

// cacheWriter mirrors statusRecorder's status-capturing wrapper, adding a
// copy of the response body so a cache miss can be written through once
// http.FileServer finishes serving it.
type cacheWriter struct {
	http.ResponseWriter
	buf    *bytes.Buffer
	status int
}

func (c *cacheWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *cacheWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.buf.Write(b)
	return c.ResponseWriter.Write(b)
}
