// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsUpToBudget(t *testing.T) {
	l := New(Config{RequestsPerWindow: 3, Window: time.Minute})
	defer l.Close()

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("host-a")
		require.True(t, ok, "request %d should be admitted", i)
	}
	ok, retryAfter := l.Allow("host-a")
	require.False(t, ok)
	require.Greater(t, retryAfter, time.Duration(0))
}

func TestLimiterTracksKeysIndependently(t *testing.T) {
	l := New(Config{RequestsPerWindow: 1, Window: time.Minute})
	defer l.Close()

	ok, _ := l.Allow("host-a")
	require.True(t, ok)
	ok, _ = l.Allow("host-b")
	require.True(t, ok, "a different key must have its own budget")

	ok, _ = l.Allow("host-a")
	require.False(t, ok)
}

func TestWindowRotationRestoresBudget(t *testing.T) {
	w := newWindow(2, 20*time.Millisecond)
	now := time.Now()

	ok, _ := w.allow(now)
	require.True(t, ok)
	ok, _ = w.allow(now)
	require.True(t, ok)
	ok, _ = w.allow(now)
	require.False(t, ok)

	later := now.Add(100 * time.Millisecond)
	ok, _ = w.allow(later)
	require.True(t, ok, "a new window should restore budget")
}

func TestWindowBlendsPreviousWindowConsumption(t *testing.T) {
	w := newWindow(2, 50*time.Millisecond)
	now := time.Now()

	ok, _ := w.allow(now)
	require.True(t, ok)
	ok, _ = w.allow(now)
	require.True(t, ok)

	// Roll into the next window immediately; the full previous
	// consumption should still weigh on admission near the boundary.
	justAfter := now.Add(51 * time.Millisecond)
	ok, _ = w.allow(justAfter)
	require.False(t, ok, "fresh window should still reflect near-total previous-window load")
}

func TestEvictionWorkerRemovesIdleWindows(t *testing.T) {
	s := newStore(5, time.Minute)
	w := newEvictionWorker(s, 10*time.Millisecond, 5*time.Millisecond)
	w.start()
	defer w.stop()

	s.getOrCreate("host-a")
	time.Sleep(50 * time.Millisecond)

	found := false
	s.forEach(func(key string, _ *window) {
		if key == "host-a" {
			found = true
		}
	})
	require.False(t, found, "idle window should have been evicted")
}
