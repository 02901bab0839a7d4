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

// Package config loads the TOML configuration file into typed structs and
// applies the defaults a freshly-decoded document needs before it can be
// turned into a vhost.Registry. Config loading and flag parsing are
// external to the routing core; this package exists only to hand the core
// a validated, in-memory description of the world.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root of the TOML document.
type Config struct {
	HTTPAddr  string `toml:"http_addr"`
	HTTPSAddr string `toml:"https_addr"`
	AdminAddr string `toml:"admin_addr"`

	TLSCertFile string `toml:"tls_cert_file"`
	TLSKeyFile  string `toml:"tls_key_file"`

	Log       LogConfig       `toml:"log"`
	AccessLog AccessLogConfig `toml:"access_log"`
	Cache     CacheConfig     `toml:"cache"`

	Limits  LimitsConfig  `toml:"limits"`
	Session SessionConfig `toml:"session"`
	Headers HeadersConfig `toml:"security_headers"`

	VHosts []VHostConfig `toml:"vhost"`
}

// AccessLogConfig names the two JSONL files the recorder appends to: one
// entry per request, and the periodically-flushed byte/status counters.
type AccessLogConfig struct {
	EntryPath string `toml:"entry_path"`
	BatchPath string `toml:"batch_path"`
}

// CacheConfig configures the three cache tiers. L2Addr empty falls back
// to a dependency-free logging stand-in; L3Root empty disables the disk
// tier entirely.
type CacheConfig struct {
	L1Capacity int    `toml:"l1_capacity"`
	L2Addr     string `toml:"l2_addr"`
	L3Root     string `toml:"l3_root"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

// LimitsConfig bounds request header and body size, stage 4 of the
// dispatcher pipeline.
type LimitsConfig struct {
	MaxHeaderBytes int   `toml:"max_header_bytes"`
	MaxBodyBytes   int64 `toml:"max_body_bytes"`
}

// SessionConfig configures the session manager and its cookie.
type SessionConfig struct {
	Store     string `toml:"store"` // "memory", "redis", "file"
	RedisAddr string `toml:"redis_addr"`
	FileRoot  string `toml:"file_root"`

	CookieName string        `toml:"cookie_name"`
	Domain     string        `toml:"domain"`
	Path       string        `toml:"path"`
	SameSite   string        `toml:"same_site"` // strict, lax, none
	Secure     bool          `toml:"secure"`
	HTTPOnly   bool          `toml:"http_only"`
	TTL        time.Duration `toml:"ttl"`
	MaxPerUser int           `toml:"max_per_user"`

	BindIPAddress bool `toml:"bind_ip_address"`
	BindUserAgent bool `toml:"bind_user_agent"`

	CleanupInterval time.Duration `toml:"cleanup_interval"`
}

// HeadersConfig controls the optional security response headers; the
// mandatory ones (X-Frame-Options, X-Content-Type-Options,
// Referrer-Policy, Permissions-Policy) are always added and have no
// config surface.
type HeadersConfig struct {
	HSTSMaxAge int    `toml:"hsts_max_age"` // 0 disables HSTS
	CSP        string `toml:"content_security_policy"`
	ViaToken   string `toml:"via_token"`
}

// VHostConfig is the on-disk shape of a virtual host record.
type VHostConfig struct {
	Hosts    []string `toml:"hosts"`
	Priority int      `toml:"priority"`
	Default  bool     `toml:"default"`

	DocumentRoot string `toml:"document_root"`

	Backend BackendConfig `toml:"backend"`

	RateLimit RateLimitConfig `toml:"rate_limit"`

	Allow []string `toml:"allow"`
	Deny  []string `toml:"deny"`

	Rewrites []RewriteRuleConfig `toml:"rewrite"`

	HealthCheckPath string `toml:"health_check_path"`
}

// BackendConfig describes the single backend, of one of four kinds, a
// vhost dispatches to.
type BackendConfig struct {
	Kind string `toml:"kind"` // "static", "process", "proxy", "fastcgi"

	// process
	ProcessName string            `toml:"process_name"`
	AppType     string            `toml:"app_type"` // node, python, servlet, phpfpm; any other value is rejected
	Command     string            `toml:"command"`
	Args        []string          `toml:"args"`
	Env         map[string]string `toml:"env"`
	WorkDir     string            `toml:"workdir"`
	Port        int               `toml:"port"`
	HealthURL   string            `toml:"health_url"`

	// proxy
	Upstreams []string `toml:"upstreams"`
	Strategy  string   `toml:"strategy"` // round_robin, least_conn, ip_hash, random, weighted
	Weights   []int    `toml:"weights"`

	// fastcgi
	FastCGIAddr    string   `toml:"fastcgi_addr"`
	ScriptRoot     string   `toml:"script_root"`
	IndexFiles     []string `toml:"index_files"`
	FastCGINetwork string   `toml:"fastcgi_network"` // tcp or unix
}

// RateLimitConfig configures the per-host sliding window admission stage.
type RateLimitConfig struct {
	RequestsPerWindow int64         `toml:"requests_per_window"`
	Window            time.Duration `toml:"window"`
}

// RewriteRuleConfig is the on-disk shape of a rewrite rule.
type RewriteRuleConfig struct {
	Pattern     string                 `toml:"pattern"`
	Replacement string                 `toml:"replacement"`
	Flags       []string               `toml:"flags"`
	Conditions  []RewriteConditionConfig `toml:"condition"`
}

// RewriteConditionConfig is the on-disk shape of a rewrite condition.
type RewriteConditionConfig struct {
	Test    string   `toml:"test"`
	Pattern string   `toml:"pattern"`
	Flags   []string `toml:"flags"`
}

// Load decodes the TOML file at path and applies defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	_ = meta // unused, but DecodeFile's second return is kept for future strict-mode checks
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.AdminAddr == "" {
		cfg.AdminAddr = cfg.HTTPAddr
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Limits.MaxHeaderBytes <= 0 {
		cfg.Limits.MaxHeaderBytes = 1 << 20 // 1MiB
	}
	if cfg.Limits.MaxBodyBytes <= 0 {
		cfg.Limits.MaxBodyBytes = 10 << 20 // 10MiB
	}
	if cfg.AccessLog.EntryPath == "" {
		cfg.AccessLog.EntryPath = "access.jsonl"
	}
	if cfg.AccessLog.BatchPath == "" {
		cfg.AccessLog.BatchPath = "access-counters.jsonl"
	}
	if cfg.Cache.L1Capacity <= 0 {
		cfg.Cache.L1Capacity = 1024
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = "memory"
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "session_id"
	}
	if cfg.Session.Path == "" {
		cfg.Session.Path = "/"
	}
	if cfg.Session.SameSite == "" {
		cfg.Session.SameSite = "lax"
	}
	if cfg.Session.TTL <= 0 {
		cfg.Session.TTL = 30 * time.Minute
	}
	if cfg.Session.CleanupInterval <= 0 {
		cfg.Session.CleanupInterval = 5 * time.Minute
	}
	for i := range cfg.VHosts {
		v := &cfg.VHosts[i]
		if v.RateLimit.Window <= 0 {
			v.RateLimit.Window = time.Minute
		}
		if v.Backend.Strategy == "" {
			v.Backend.Strategy = "round_robin"
		}
		if v.Backend.FastCGINetwork == "" {
			v.Backend.FastCGINetwork = "tcp"
		}
		if len(v.Backend.IndexFiles) == 0 {
			v.Backend.IndexFiles = []string{"index.php", "index.html"}
		}
	}
}
