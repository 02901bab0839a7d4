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

// Package vhost resolves an inbound host name to a virtual-host record and
// answers per-host access-control checks. A Registry is immutable once
// built; hot reload is handled by swapping the *Registry a caller holds,
// not by mutating one in place (see registry.Holder).
package vhost

import (
	"net"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/edgehttp/edge/internal/rewrite"
)

// BackendKind enumerates the backend kinds a vhost may declare: static,
// process, proxy or fastcgi, with BackendNone when none is set.
type BackendKind int

const (
	BackendNone BackendKind = iota
	BackendStatic
	BackendProcess
	BackendProxy
	BackendFastCGI
)

func (k BackendKind) String() string {
	switch k {
	case BackendStatic:
		return "static"
	case BackendProcess:
		return "process"
	case BackendProxy:
		return "proxy"
	case BackendFastCGI:
		return "fastcgi"
	default:
		return "none"
	}
}

// Backend describes the resolved backend for a vhost.
type Backend struct {
	Kind BackendKind

	DocumentRoot string

	ProcessName string
	ProcessPort int

	Upstreams []string
	Strategy  string
	Weights   []int

	FastCGINetwork string
	FastCGIAddr    string
	ScriptRoot     string
	IndexFiles     []string
}

// ACL is a per-vhost allow/deny list of IP literals, CIDRs, and "*".
type ACL struct {
	Allow []string
	Deny  []string
}

func (a ACL) empty() bool { return len(a.Allow) == 0 && len(a.Deny) == 0 }

func matchesAny(patterns []string, ip net.IP) bool {
	for _, p := range patterns {
		if p == "*" {
			return true
		}
		if strings.Contains(p, "/") {
			_, cidr, err := net.ParseCIDR(p)
			if err == nil && cidr.Contains(ip) {
				return true
			}
			continue
		}
		if literal := net.ParseIP(p); literal != nil && literal.Equal(ip) {
			return true
		}
	}
	return false
}

// Allowed implements deny-first access-control semantics: deny first,
// then allow (if non-empty, absence from it is deny), otherwise permit.
func (a ACL) Allowed(peer net.IP) bool {
	if peer == nil {
		return a.empty()
	}
	if matchesAny(a.Deny, peer) {
		return false
	}
	if len(a.Allow) > 0 {
		return matchesAny(a.Allow, peer)
	}
	return true
}

// VHost is an immutable virtual host record.
type VHost struct {
	Hosts    []string
	Priority int
	Default  bool

	Backend Backend
	ACL     ACL

	RequestsPerWindow int64
	Window            int64 // nanoseconds, to keep VHost free of a time import in hot structs

	HealthCheckPath string

	// Rewrite is this vhost's compiled rule set, or nil if it declares
	// none. The Engine itself holds no back-pointer to the VHost (see
	// internal/rewrite's package doc), so this is a one-way reference.
	Rewrite *rewrite.Engine
}

type wildcard struct {
	re   *regexp.Regexp
	host *VHost
}

// Registry resolves host names to VHost records. Build once; never mutated.
type Registry struct {
	exact     map[string]*VHost
	wildcards []wildcard
	def       *VHost
}

// hostPattern compiles a wildcard host pattern ("*.example.com") into the
// anchored single-label regex.
func hostPattern(pattern string) (*regexp.Regexp, error) {
	if !strings.Contains(pattern, "*") {
		return nil, nil
	}
	parts := strings.SplitN(pattern, "*", 2)
	prefix := regexp.QuoteMeta(parts[0])
	suffix := regexp.QuoteMeta(parts[1])
	return regexp.Compile("^" + prefix + "[^.]+" + suffix + "$")
}

// Build compiles an ordered list of vhosts into a Registry. A vhost with
// multiple host patterns is registered once per pattern. Regex compilation
// failure for any wildcard pattern rejects the whole registry, matching the
// "whole rule set rejected on compile failure" invariant applied here to
// host patterns.
func Build(vhosts []*VHost) (*Registry, error) {
	r := &Registry{exact: make(map[string]*VHost)}
	var wilds []wildcard
	for _, v := range vhosts {
		if v.Default {
			r.def = v
			continue
		}
		for _, h := range v.Hosts {
			re, err := hostPattern(h)
			if err != nil {
				return nil, err
			}
			if re == nil {
				r.exact[strings.ToLower(h)] = v
				continue
			}
			wilds = append(wilds, wildcard{re: re, host: v})
		}
	}
	sort.SliceStable(wilds, func(i, j int) bool {
		return wilds[i].host.Priority > wilds[j].host.Priority
	})
	r.wildcards = wilds
	return r, nil
}

// Resolve is O(1) for an exact match, O(k) for a wildcard scan on
// miss, default on final miss. Returns nil, false if there is no match and
// no default (the dispatcher translates that into a 404).
func (r *Registry) Resolve(host string) (*VHost, bool) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if v, ok := r.exact[host]; ok {
		return v, true
	}
	for _, w := range r.wildcards {
		if w.re.MatchString(host) {
			return w.host, true
		}
	}
	if r.def != nil {
		return r.def, true
	}
	return nil, false
}

// CheckAccess answers vhost access control for a resolved host+peer pair.
func (r *Registry) CheckAccess(host string, peer net.IP) bool {
	v, ok := r.Resolve(host)
	if !ok {
		return false
	}
	return v.ACL.Allowed(peer)
}

// All returns every distinct VHost the registry holds, default included,
// for callers (the dispatcher's adapter/rate-limiter construction) that
// need to provision one resource per vhost up front rather than on
// first request.
func (r *Registry) All() []*VHost {
	seen := make(map[*VHost]bool)
	var out []*VHost
	for _, v := range r.exact {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, w := range r.wildcards {
		if !seen[w.host] {
			seen[w.host] = true
			out = append(out, w.host)
		}
	}
	if r.def != nil && !seen[r.def] {
		out = append(out, r.def)
	}
	return out
}

// Holder is an atomically-swappable reference to the current Registry,
// giving hot reload without locking readers. Grounded on other_examples'
// wudi-gateway internal/gateway/reload.go atomic-swap pattern: the
// dispatcher loads a *Registry once per request and keeps using that
// snapshot even if Store swaps in a new one mid-request.
type Holder struct {
	ptr atomic.Pointer[Registry]
}

// NewHolder wraps an initial Registry.
func NewHolder(initial *Registry) *Holder {
	h := &Holder{}
	h.ptr.Store(initial)
	return h
}

// Load returns the current Registry snapshot.
func (h *Holder) Load() *Registry { return h.ptr.Load() }

// Store atomically replaces the Registry snapshot future Loads will see.
func (h *Holder) Store(r *Registry) { h.ptr.Store(r) }
