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

package config

import (
	"fmt"
	"regexp"

	"github.com/edgehttp/edge/internal/rewrite"
	"github.com/edgehttp/edge/internal/vhost"
)

// BuildVHosts turns the on-disk VHostConfig list into the in-memory
// *vhost.VHost records vhost.Build consumes. A rewrite rule set that
// fails to compile rejects the whole vhost, matching Build's own
// "whole thing rejected on failure" posture for host patterns.
func BuildVHosts(cfgs []VHostConfig) ([]*vhost.VHost, error) {
	out := make([]*vhost.VHost, 0, len(cfgs))
	for i, c := range cfgs {
		v, err := buildVHost(c)
		if err != nil {
			return nil, fmt.Errorf("vhost %d (%v): %w", i, c.Hosts, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func buildVHost(c VHostConfig) (*vhost.VHost, error) {
	v := &vhost.VHost{
		Hosts:    c.Hosts,
		Priority: c.Priority,
		Default:  c.Default,
		ACL:      vhost.ACL{Allow: c.Allow, Deny: c.Deny},

		RequestsPerWindow: c.RateLimit.RequestsPerWindow,
		Window:            int64(c.RateLimit.Window),

		HealthCheckPath: c.HealthCheckPath,
	}

	backend, err := buildBackend(c)
	if err != nil {
		return nil, err
	}
	v.Backend = backend

	if len(c.Rewrites) > 0 {
		rules, err := buildRewriteRules(c.Rewrites)
		if err != nil {
			return nil, err
		}
		eng, err := rewrite.Compile(rules)
		if err != nil {
			return nil, err
		}
		v.Rewrite = eng
	}

	return v, nil
}

func buildBackend(c VHostConfig) (vhost.Backend, error) {
	b := vhost.Backend{DocumentRoot: c.DocumentRoot}

	switch c.Backend.Kind {
	case "", "static":
		b.Kind = vhost.BackendStatic
	case "process":
		b.Kind = vhost.BackendProcess
		b.ProcessName = c.Backend.ProcessName
		b.ProcessPort = c.Backend.Port
	case "proxy":
		b.Kind = vhost.BackendProxy
		b.Upstreams = c.Backend.Upstreams
		b.Strategy = c.Backend.Strategy
		b.Weights = c.Backend.Weights
	case "fastcgi":
		b.Kind = vhost.BackendFastCGI
		b.FastCGINetwork = c.Backend.FastCGINetwork
		b.FastCGIAddr = c.Backend.FastCGIAddr
		b.ScriptRoot = c.Backend.ScriptRoot
		b.IndexFiles = c.Backend.IndexFiles
	default:
		return vhost.Backend{}, fmt.Errorf("unknown backend kind %q", c.Backend.Kind)
	}
	return b, nil
}

var flagNames = map[string]rewrite.Flag{
	"last":               rewrite.FlagLast,
	"redirect":           rewrite.FlagRedirectTemporary,
	"redirect=temporary": rewrite.FlagRedirectTemporary,
	"redirect=permanent": rewrite.FlagRedirectPermanent,
	"proxy":              rewrite.FlagProxy,
	"forbidden":          rewrite.FlagForbidden,
	"gone":               rewrite.FlagGone,
	"nocase":             rewrite.FlagNoCase,
	"qsappend":           rewrite.FlagQSAppend,
	"qsdiscard":          rewrite.FlagQSDiscard,
	"not":                rewrite.FlagNot,
	"or":                 rewrite.FlagOr,
	"testfile":           rewrite.FlagTestFile,
	"testdir":            rewrite.FlagTestDir,
	"testsize":           rewrite.FlagTestSize,
}

func buildFlags(names []string) (map[rewrite.Flag]bool, error) {
	if len(names) == 0 {
		return nil, nil
	}
	flags := make(map[rewrite.Flag]bool, len(names))
	for _, name := range names {
		f, ok := flagNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown rewrite flag %q", name)
		}
		flags[f] = true
	}
	return flags, nil
}

func buildRewriteRules(cfgs []RewriteRuleConfig) ([]rewrite.Rule, error) {
	rules := make([]rewrite.Rule, 0, len(cfgs))
	for i, rc := range cfgs {
		pattern, err := regexp.Compile(rc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rewrite rule %d: pattern %q: %w", i, rc.Pattern, err)
		}
		flags, err := buildFlags(rc.Flags)
		if err != nil {
			return nil, fmt.Errorf("rewrite rule %d: %w", i, err)
		}
		conds, err := buildConditions(rc.Conditions)
		if err != nil {
			return nil, fmt.Errorf("rewrite rule %d: %w", i, err)
		}
		rules = append(rules, rewrite.Rule{
			Pattern:     pattern,
			Replacement: rc.Replacement,
			Flags:       flags,
			Conditions:  conds,
		})
	}
	return rules, nil
}

func buildConditions(cfgs []RewriteConditionConfig) ([]rewrite.Condition, error) {
	conds := make([]rewrite.Condition, 0, len(cfgs))
	for i, cc := range cfgs {
		var pattern *regexp.Regexp
		if cc.Pattern != "" {
			p, err := regexp.Compile(cc.Pattern)
			if err != nil {
				return nil, fmt.Errorf("condition %d: pattern %q: %w", i, cc.Pattern, err)
			}
			pattern = p
		}
		flags, err := buildFlags(cc.Flags)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		conds = append(conds, rewrite.Condition{TestTemplate: cc.Test, Pattern: pattern, Flags: flags})
	}
	return conds, nil
}
