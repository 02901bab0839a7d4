// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package session

import (
	"context"
	"time"
)

// Store abstracts session persistence so Manager can run unmodified
// over memory, Redis, or disk-backed storage.
type Store interface {
	// Load returns the session for id, or ok=false if it does not
	// exist or has already expired in the store's own accounting.
	Load(ctx context.Context, id string) (sess *Session, ok bool, err error)
	// Save writes sess, keyed by its ID, with the given TTL.
	Save(ctx context.Context, sess *Session, ttl time.Duration) error
	// Delete removes a session unconditionally.
	Delete(ctx context.Context, id string) error
	// SessionsForUser lists the ids currently tracked for userID,
	// oldest first, used for the per-user session cap.
	SessionsForUser(ctx context.Context, userID string) ([]string, error)
	// TrackUser records that id belongs to userID, for
	// SessionsForUser bookkeeping.
	TrackUser(ctx context.Context, userID, id string) error
	// UntrackUser removes id from userID's tracked set.
	UntrackUser(ctx context.Context, userID, id string) error
	// Cleanup evicts records that have expired and returns how many
	// were removed, for a periodic sweep independent of Load's lazy
	// eviction. Grounded on session.rs's SessionStore::cleanup.
	Cleanup(ctx context.Context) (int, error)
}
