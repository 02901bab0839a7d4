// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// fileRecord is the on-disk envelope: the store's own eviction deadline
// followed by the serialized session, mirroring internal/cache/disk.go's
// deadline-then-payload layout.
type fileRecord struct {
	Deadline time.Time `json:"deadline"`
	Session  redisRecord `json:"session"`
}

// FileStore persists sessions under root, sharded by the first two
// hex characters of the session id (already a sha256 hex digest, so no
// secondary hash is needed) per session.rs's FileStore directory
// layout. Per-user tracking uses one newline-delimited index file per
// user rather than a directory walk, since session ids are opaque and
// cannot be grouped by a filesystem glob.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore builds a FileStore rooted at root. Nothing is created on
// disk until the first write.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (f *FileStore) sessionPath(id string) string {
	shard := id
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(f.root, "sessions", shard, id+".json")
}

func (f *FileStore) userIndexPath(userID string) string {
	return filepath.Join(f.root, "users", userID+".idx")
}

func (f *FileStore) Load(ctx context.Context, id string) (*Session, bool, error) {
	p := f.sessionPath(id)
	raw, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var rec fileRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, err
	}
	if !rec.Deadline.IsZero() && time.Now().After(rec.Deadline) {
		_ = os.Remove(p)
		return nil, false, nil
	}
	return fromRecord(rec.Session), true, nil
}

func (f *FileStore) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	p := f.sessionPath(sess.ID)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	var deadline time.Time
	if ttl > 0 {
		deadline = time.Now().Add(ttl)
	}
	raw, err := json.Marshal(fileRecord{Deadline: deadline, Session: toRecord(sess)})
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (f *FileStore) Delete(ctx context.Context, id string) error {
	err := os.Remove(f.sessionPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (f *FileStore) SessionsForUser(ctx context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readIndex(userID)
}

func (f *FileStore) TrackUser(ctx context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids, err := f.readIndex(userID)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	return f.writeIndex(userID, append(ids, id))
}

func (f *FileStore) UntrackUser(ctx context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids, err := f.readIndex(userID)
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	return f.writeIndex(userID, kept)
}

// Cleanup walks the sessions directory tree, removing every record past
// its deadline and untracking it from its user's index. Load also
// evicts lazily on access, but a session nobody ever reloads would
// otherwise sit on disk forever; this sweep is what actually reclaims
// it.
func (f *FileStore) Cleanup(ctx context.Context) (int, error) {
	root := filepath.Join(f.root, "sessions")
	var expired []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || filepath.Ext(p) != ".json" {
			return nil
		}
		expired = append(expired, p)
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, p := range expired {
		raw, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var rec fileRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		if rec.Deadline.IsZero() || !time.Now().After(rec.Deadline) {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			continue
		}
		if userID := rec.Session.UserID; userID != "" {
			_ = f.UntrackUser(ctx, userID, rec.Session.ID)
		}
		removed++
	}
	return removed, nil
}

func (f *FileStore) readIndex(userID string) ([]string, error) {
	file, err := os.Open(f.userIndexPath(userID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var ids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			ids = append(ids, line)
		}
	}
	return ids, scanner.Err()
}

func (f *FileStore) writeIndex(userID string, ids []string) error {
	p := f.userIndexPath(userID)
	if len(ids) == 0 {
		err := os.Remove(p)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	var buf strings.Builder
	for _, id := range ids {
		buf.WriteString(id)
		buf.WriteByte('\n')
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, []byte(buf.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}
