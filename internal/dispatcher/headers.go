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
	"fmt"
	"net/http"

	"github.com/edgehttp/edge/internal/rewrite"
)

// applySecurityHeaders sets the response security headers: four
// unconditional, two opt-in.
func applySecurityHeaders(w http.ResponseWriter, cfg Config) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
	if cfg.HSTSMaxAge > 0 {
		h.Set("Strict-Transport-Security", fmt.Sprintf("max-age=%d; includeSubDomains; preload", cfg.HSTSMaxAge))
	}
	if cfg.ContentSecPolicy != "" {
		h.Set("Content-Security-Policy", cfg.ContentSecPolicy)
	}
}

// applyRewriteAction executes one rewrite.Action against the response.
// It returns true when the action produced a full response and the
// pipeline must stop; false when it only rewrote the request in place
// (ActionNoMatch, ActionInternal) and the pipeline should continue to
// backend selection.
func applyRewriteAction(w http.ResponseWriter, r *http.Request, action rewrite.Action) bool {
	switch action.Kind {
	case rewrite.ActionNoMatch:
		return false
	case rewrite.ActionInternal:
		r.URL.Path = action.URI
		return false
	case rewrite.ActionForbidden:
		w.WriteHeader(http.StatusForbidden)
		return true
	case rewrite.ActionGone:
		w.WriteHeader(http.StatusGone)
		return true
	case rewrite.ActionRedirect:
		status := http.StatusFound
		if action.Permanent {
			status = http.StatusMovedPermanently
		}
		http.Redirect(w, r, action.URI, status)
		return true
	case rewrite.ActionProxy:
		r.URL.Path = action.URI
		return false
	default:
		return false
	}
}
