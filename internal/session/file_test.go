// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())
	s := New(time.Minute)
	s.Data["x"] = "1"

	require.NoError(t, store.Save(ctx, s, time.Minute))

	loaded, ok, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, s.ID, loaded.ID)
	require.Equal(t, "1", loaded.Data["x"])
}

func TestFileStoreLoadMissingReturnsNotOK(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())
	_, ok, err := store.Load(ctx, "nonexistent")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileStoreExpiresByTTL(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())
	s := New(time.Hour)
	require.NoError(t, store.Save(ctx, s, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileStoreUserIndexTracksAndUntracks(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())

	require.NoError(t, store.TrackUser(ctx, "u1", "sessA"))
	require.NoError(t, store.TrackUser(ctx, "u1", "sessB"))

	ids, err := store.SessionsForUser(ctx, "u1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"sessA", "sessB"}, ids)

	require.NoError(t, store.UntrackUser(ctx, "u1", "sessA"))
	ids, err = store.SessionsForUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"sessB"}, ids)
}

func TestFileStoreDeleteRemovesFile(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())
	s := New(time.Minute)
	require.NoError(t, store.Save(ctx, s, time.Minute))
	require.NoError(t, store.Delete(ctx, s.ID))

	_, ok, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileStoreCleanupEvictsExpiredAndUntracks(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())

	expired := New(time.Hour)
	expired.UserID = "u1"
	require.NoError(t, store.Save(ctx, expired, time.Millisecond))
	require.NoError(t, store.TrackUser(ctx, "u1", expired.ID))

	live := New(time.Hour)
	require.NoError(t, store.Save(ctx, live, time.Hour))
	time.Sleep(5 * time.Millisecond)

	removed, err := store.Cleanup(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, ok, err := store.Load(ctx, expired.ID)
	require.NoError(t, err)
	require.False(t, ok)

	ids, err := store.SessionsForUser(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, ids)

	_, ok, err = store.Load(ctx, live.ID)
	require.NoError(t, err)
	require.True(t, ok)
}
