// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "edge.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTOML(t, `
[[vhost]]
hosts = ["example.com"]
document_root = "/srv/www"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, cfg.HTTPAddr, cfg.AdminAddr)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "text", cfg.Log.Format)
	require.Equal(t, 1<<20, cfg.Limits.MaxHeaderBytes)
	require.Equal(t, int64(10<<20), cfg.Limits.MaxBodyBytes)
	require.Equal(t, 1024, cfg.Cache.L1Capacity)
	require.Equal(t, "memory", cfg.Session.Store)
	require.Equal(t, "round_robin", cfg.VHosts[0].Backend.Strategy)
	require.Equal(t, "tcp", cfg.VHosts[0].Backend.FastCGINetwork)
	require.Equal(t, []string{"index.php", "index.html"}, cfg.VHosts[0].Backend.IndexFiles)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestBuildVHostsStaticBackend(t *testing.T) {
	cfgs := []VHostConfig{
		{
			Hosts:        []string{"static.example"},
			DocumentRoot: "/srv/www",
			Backend:      BackendConfig{Kind: "static"},
			Allow:        []string{"10.0.0.0/8"},
		},
	}
	vhosts, err := BuildVHosts(cfgs)
	require.NoError(t, err)
	require.Len(t, vhosts, 1)
	require.Equal(t, "/srv/www", vhosts[0].Backend.DocumentRoot)
	require.Equal(t, []string{"10.0.0.0/8"}, vhosts[0].ACL.Allow)
}

func TestBuildVHostsUnknownBackendKindErrors(t *testing.T) {
	_, err := BuildVHosts([]VHostConfig{
		{Hosts: []string{"bad.example"}, Backend: BackendConfig{Kind: "carrier-pigeon"}},
	})
	require.Error(t, err)
}

func TestBuildVHostsCompilesRewriteRules(t *testing.T) {
	cfgs := []VHostConfig{
		{
			Hosts:   []string{"rewrite.example"},
			Backend: BackendConfig{Kind: "static"},
			Rewrites: []RewriteRuleConfig{
				{Pattern: `^/old$`, Replacement: "/new", Flags: []string{"redirect=permanent"}},
			},
		},
	}
	vhosts, err := BuildVHosts(cfgs)
	require.NoError(t, err)
	require.NotNil(t, vhosts[0].Rewrite)
}

func TestBuildVHostsRejectsBadRewritePattern(t *testing.T) {
	_, err := BuildVHosts([]VHostConfig{
		{
			Hosts:   []string{"bad.example"},
			Backend: BackendConfig{Kind: "static"},
			Rewrites: []RewriteRuleConfig{
				{Pattern: `(unterminated`, Replacement: "/x"},
			},
		},
	})
	require.Error(t, err)
}

func TestBuildVHostsRejectsUnknownRewriteFlag(t *testing.T) {
	_, err := BuildVHosts([]VHostConfig{
		{
			Hosts:   []string{"bad.example"},
			Backend: BackendConfig{Kind: "static"},
			Rewrites: []RewriteRuleConfig{
				{Pattern: `^/x$`, Replacement: "/y", Flags: []string{"teleport"}},
			},
		},
	})
	require.Error(t, err)
}

func TestBuildRecipesSkipsNonProcessBackends(t *testing.T) {
	recipes, err := BuildRecipes([]VHostConfig{
		{Hosts: []string{"static.example"}, Backend: BackendConfig{Kind: "static"}},
		{Hosts: []string{"proxy.example"}, Backend: BackendConfig{Kind: "proxy", Upstreams: []string{"127.0.0.1:9000"}}},
	})
	require.NoError(t, err)
	require.Empty(t, recipes)
}

func TestBuildRecipesBuildsProcessRecipe(t *testing.T) {
	recipes, err := BuildRecipes([]VHostConfig{
		{
			Hosts: []string{"app.example"},
			Backend: BackendConfig{
				Kind:        "process",
				ProcessName: "app",
				AppType:     "node",
				Command:     "node",
				Args:        []string{"server.js"},
				Port:        4000,
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, recipes, 1)
	require.Equal(t, "app", recipes[0].Name)
	require.Equal(t, 4000, recipes[0].Port)
	require.True(t, recipes[0].AutoRestart)
}

func TestBuildRecipesRejectsMissingProcessName(t *testing.T) {
	_, err := BuildRecipes([]VHostConfig{
		{Hosts: []string{"app.example"}, Backend: BackendConfig{Kind: "process", AppType: "node"}},
	})
	require.Error(t, err)
}

func TestBuildRecipesRejectsUnknownAppType(t *testing.T) {
	_, err := BuildRecipes([]VHostConfig{
		{Hosts: []string{"app.example"}, Backend: BackendConfig{Kind: "process", ProcessName: "app", AppType: "cobol"}},
	})
	require.Error(t, err)
}
