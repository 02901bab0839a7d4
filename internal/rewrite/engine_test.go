// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package rewrite

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimpleRewrite(t *testing.T) {
	eng, err := Compile([]Rule{
		{Pattern: regexp.MustCompile(`^/old/(.*)$`), Replacement: "/new/$1"},
	})
	require.NoError(t, err)
	act := eng.Process("/old/page", Vars{})
	require.Equal(t, ActionInternal, act.Kind)
	require.Equal(t, "/new/page", act.URI)
}

func TestPermanentRedirect(t *testing.T) {
	eng, err := Compile([]Rule{
		{Pattern: regexp.MustCompile(`^/temp$`), Replacement: "/permanent",
			Flags: map[Flag]bool{FlagRedirectPermanent: true}},
	})
	require.NoError(t, err)
	act := eng.Process("/temp", Vars{})
	require.Equal(t, ActionRedirect, act.Kind)
	require.True(t, act.Permanent)
	require.Equal(t, "/permanent", act.URI)
}

func TestConditionOnUserAgent(t *testing.T) {
	eng, err := Compile([]Rule{
		{
			Pattern:     regexp.MustCompile(`^(.*)$`),
			Replacement: "/mobile$1",
			Conditions: []Condition{
				{
					TestTemplate: "$http_user_agent",
					Pattern:      regexp.MustCompile(`Mobile|Android|iPhone`),
					Flags:        map[Flag]bool{FlagNoCase: true},
				},
			},
		},
	})
	require.NoError(t, err)
	v := Vars{Headers: map[string]string{"user-agent": "Mozilla/5.0 iPhone"}}
	act := eng.Process("/page", v)
	require.Equal(t, ActionInternal, act.Kind)
	require.Equal(t, "/mobile/page", act.URI)
}

func TestNoRulesReturnsNoMatch(t *testing.T) {
	eng, err := Compile(nil)
	require.NoError(t, err)
	act := eng.Process("/x", Vars{})
	require.Equal(t, ActionNoMatch, act.Kind)
}

func TestForbiddenTerminatesImmediately(t *testing.T) {
	eng, err := Compile([]Rule{
		{Pattern: regexp.MustCompile(`^/secret`), Replacement: "/secret",
			Flags: map[Flag]bool{FlagForbidden: true}},
	})
	require.NoError(t, err)
	act := eng.Process("/secret/data", Vars{})
	require.Equal(t, ActionForbidden, act.Kind)
}

func TestLastFlagStopsProcessing(t *testing.T) {
	eng, err := Compile([]Rule{
		{Pattern: regexp.MustCompile(`^/a$`), Replacement: "/b", Flags: map[Flag]bool{FlagLast: true}},
		{Pattern: regexp.MustCompile(`^/b$`), Replacement: "/c"},
	})
	require.NoError(t, err)
	act := eng.Process("/a", Vars{})
	require.Equal(t, ActionInternal, act.Kind)
	require.Equal(t, "/b", act.URI)
}

func TestConditionOrFold(t *testing.T) {
	eng, err := Compile([]Rule{
		{
			Pattern:     regexp.MustCompile(`^/x$`),
			Replacement: "/matched",
			Conditions: []Condition{
				{TestTemplate: "$remote_addr", Pattern: regexp.MustCompile(`^10\.`), Flags: map[Flag]bool{FlagOr: true}},
				{TestTemplate: "$remote_addr", Pattern: regexp.MustCompile(`^192\.`)},
			},
		},
	})
	require.NoError(t, err)
	act := eng.Process("/x", Vars{RemoteAddr: "192.168.1.1"})
	require.Equal(t, ActionInternal, act.Kind)
	require.Equal(t, "/matched", act.URI)
}

func TestNotFlagInvertsMatch(t *testing.T) {
	eng, err := Compile([]Rule{
		{
			Pattern:     regexp.MustCompile(`^/y$`),
			Replacement: "/denied-bypass",
			Conditions: []Condition{
				{TestTemplate: "$remote_addr", Pattern: regexp.MustCompile(`^10\.`), Flags: map[Flag]bool{FlagNot: true}},
			},
		},
	})
	require.NoError(t, err)
	act := eng.Process("/y", Vars{RemoteAddr: "192.168.1.1"})
	require.Equal(t, ActionInternal, act.Kind)
	act = eng.Process("/y", Vars{RemoteAddr: "10.0.0.1"})
	require.Equal(t, ActionNoMatch, act.Kind)
}

func TestNonTerminalRewriteEndsAfterSinglePass(t *testing.T) {
	// The engine makes a single top-to-bottom pass, so a matching rule
	// without LAST or a terminal flag is applied once and the pass ends
	// with ActionInternal; the iteration cap is not reached here.
	rules := make([]Rule, 1)
	rules[0] = Rule{Pattern: regexp.MustCompile(`^/z$`), Replacement: "/z2"}
	eng, err := Compile(rules)
	require.NoError(t, err)
	act := eng.Process("/z", Vars{})
	require.Equal(t, ActionInternal, act.Kind)
	require.Equal(t, "/z2", act.URI)
}
