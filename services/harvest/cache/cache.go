// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache persists completed sessions to a shared directory root.
//
// Layout per session: <root>/<session-id>/{original.har, cookies.json,
// generated.ts, metadata.json}. metadata.json is authoritative; a
// BadgerDB index under <root>/.index accelerates listing and is rebuilt
// from disk whenever it disagrees. Directory writes are staged and
// renamed so a reader observes either the full prior state or the full
// new state, never a mix.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/oscaromsn/harvest/services/harvest/datatypes"
)

// Artifact file names inside one session directory.
const (
	FileHAR      = "original.har"
	FileCookies  = "cookies.json"
	FileScript   = "generated.ts"
	FileMetadata = "metadata.json"
)

// ArtifactKind names a retrievable artifact.
type ArtifactKind string

const (
	ArtifactHAR      ArtifactKind = "har"
	ArtifactCookies  ArtifactKind = "cookies"
	ArtifactScript   ArtifactKind = "script"
	ArtifactMetadata ArtifactKind = "metadata"
)

var artifactFiles = map[ArtifactKind]string{
	ArtifactHAR:      FileHAR,
	ArtifactCookies:  FileCookies,
	ArtifactScript:   FileScript,
	ArtifactMetadata: FileMetadata,
}

const indexDir = ".index"
const indexKeyPrefix = "session/"

// Entry is everything the cache needs from a completed session. The
// caller serializes the trace and snapshot; the cache never reaches
// back into live session state.
type Entry struct {
	SessionID  string
	Prompt     string
	Grade      string
	TotalNodes int
	Analysis   any
	HAR        []byte
	Cookies    []byte
	Script     string
}

// Metadata is the per-session discovery record.
type Metadata struct {
	SessionID     string          `json:"sessionId"`
	CompletedAt   time.Time       `json:"completedAt"`
	Prompt        string          `json:"prompt"`
	Analysis      json.RawMessage `json:"analysis,omitempty"`
	Grade         string          `json:"grade"`
	TotalNodes    int             `json:"totalNodes"`
	CodeGenerated bool            `json:"codeGenerated"`
	Artifacts     []string        `json:"artifacts"`
	LastAccessed  time.Time       `json:"lastAccessed"`
}

// Manifest lists the artifacts one cache call materialized.
type Manifest struct {
	SessionID string   `json:"sessionId"`
	Artifacts []string `json:"artifacts"`
	Root      string   `json:"root"`
}

// Options configures New.
type Options struct {
	Root   string
	Logger *slog.Logger

	// InMemoryIndex keeps the badger index off disk. Tests use it.
	InMemoryIndex bool

	// Watch enables the fsnotify invalidation watcher.
	Watch bool
}

// Cache is the completed-session store.
type Cache struct {
	root   string
	logger *slog.Logger
	db     *badger.DB

	mu   sync.Mutex
	meta map[string]*Metadata

	watcher *watcher
}

// New opens a cache rooted at opts.Root, creating it when absent.
func New(opts Options) (*Cache, error) {
	if opts.Root == "" {
		return nil, errors.New("cache root is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(opts.Root, 0o750); err != nil {
		return nil, fmt.Errorf("create cache root %s: %w", opts.Root, err)
	}

	var bopts badger.Options
	if opts.InMemoryIndex {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopts = badger.DefaultOptions(filepath.Join(opts.Root, indexDir))
	}
	bopts = bopts.WithLogger(nil)
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open cache index: %w", err)
	}

	c := &Cache{
		root:   opts.Root,
		logger: logger,
		db:     db,
		meta:   map[string]*Metadata{},
	}
	if opts.Watch {
		w, err := newWatcher(c)
		if err != nil {
			logger.Warn("cache watcher unavailable", "error", err)
		} else {
			c.watcher = w
		}
	}
	return c, nil
}

// Close releases the index and the watcher.
func (c *Cache) Close() error {
	if c.watcher != nil {
		c.watcher.close()
	}
	return c.db.Close()
}

// Root returns the cache root directory.
func (c *Cache) Root() string { return c.root }

// Cache materializes a session directory and returns the manifest. The
// directory is staged under a temp name and renamed into place.
func (c *Cache) Cache(entry Entry) (*Manifest, error) {
	if entry.SessionID == "" {
		return nil, errors.New("entry without session id")
	}

	meta := &Metadata{
		SessionID:     entry.SessionID,
		CompletedAt:   time.Now().UTC(),
		Prompt:        entry.Prompt,
		Grade:         entry.Grade,
		TotalNodes:    entry.TotalNodes,
		CodeGenerated: entry.Script != "",
		LastAccessed:  time.Now().UTC(),
	}
	if entry.Analysis != nil {
		raw, err := json.Marshal(entry.Analysis)
		if err != nil {
			return nil, datatypes.WrapError(datatypes.CodeCacheWriteFailed, "analysis does not serialize", err)
		}
		meta.Analysis = raw
	}

	files := map[string][]byte{}
	if len(entry.HAR) > 0 {
		files[FileHAR] = entry.HAR
		meta.Artifacts = append(meta.Artifacts, string(ArtifactHAR))
	}
	if len(entry.Cookies) > 0 {
		files[FileCookies] = entry.Cookies
		meta.Artifacts = append(meta.Artifacts, string(ArtifactCookies))
	}
	if entry.Script != "" {
		files[FileScript] = []byte(entry.Script)
		meta.Artifacts = append(meta.Artifacts, string(ArtifactScript))
	}
	meta.Artifacts = append(meta.Artifacts, string(ArtifactMetadata))

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, datatypes.WrapError(datatypes.CodeCacheWriteFailed, "metadata does not serialize", err)
	}
	files[FileMetadata] = metaBytes

	// Stage, then swap. A crash mid-stage leaves only a temp directory
	// that the next scan ignores.
	staged, err := os.MkdirTemp(c.root, ".staging-"+entry.SessionID+"-")
	if err != nil {
		return nil, datatypes.WrapError(datatypes.CodeCacheWriteFailed, "cannot stage session directory", err)
	}
	defer os.RemoveAll(staged)
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(staged, name), data, 0o640); err != nil {
			return nil, datatypes.WrapError(datatypes.CodeCacheWriteFailed, "cannot write "+name, err)
		}
	}
	final := filepath.Join(c.root, entry.SessionID)
	if err := os.RemoveAll(final); err != nil {
		return nil, datatypes.WrapError(datatypes.CodeCacheWriteFailed, "cannot replace prior cache entry", err)
	}
	if err := os.Rename(staged, final); err != nil {
		return nil, datatypes.WrapError(datatypes.CodeCacheWriteFailed, "cannot publish session directory", err)
	}

	c.mu.Lock()
	c.meta[entry.SessionID] = meta
	c.mu.Unlock()
	if err := c.indexPut(entry.SessionID, metaBytes); err != nil {
		// The index is a rebuildable accelerator; disk remains
		// authoritative.
		c.logger.Warn("cache index write failed", "session", entry.SessionID, "error", err)
	}

	c.logger.Info("session cached", "session", entry.SessionID, "artifacts", meta.Artifacts)
	return &Manifest{SessionID: entry.SessionID, Artifacts: meta.Artifacts, Root: c.root}, nil
}

// GetCachedMetadata returns a session's metadata, loading it lazily.
func (c *Cache) GetCachedMetadata(id string) (*Metadata, error) {
	c.mu.Lock()
	if meta, ok := c.meta[id]; ok {
		c.mu.Unlock()
		return meta, nil
	}
	c.mu.Unlock()

	meta, err := c.loadMetadata(id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.meta[id] = meta
	c.mu.Unlock()
	return meta, nil
}

// GetCachedArtifact returns the raw bytes of one artifact and bumps the
// last-accessed timestamp in memory.
func (c *Cache) GetCachedArtifact(id string, kind ArtifactKind) ([]byte, error) {
	name, ok := artifactFiles[kind]
	if !ok {
		return nil, datatypes.NewError(datatypes.CodeCacheMiss, "unknown artifact kind "+string(kind))
	}
	data, err := os.ReadFile(filepath.Join(c.root, id, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, datatypes.NewError(datatypes.CodeCacheMiss,
				fmt.Sprintf("artifact %s for session %s is not cached", kind, id)).WithSession(id)
		}
		return nil, err
	}
	c.mu.Lock()
	if meta, ok := c.meta[id]; ok {
		meta.LastAccessed = time.Now().UTC()
	}
	c.mu.Unlock()
	return data, nil
}

// AllCachedSessions lists every cached session. The badger index
// answers first; a directory scan fills any gap and repairs the index.
func (c *Cache) AllCachedSessions() ([]*Metadata, error) {
	ids := map[string]bool{}
	_ = c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(indexKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids[strings.TrimPrefix(string(it.Item().Key()), indexKeyPrefix)] = true
		}
		return nil
	})

	dirEntries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, err
	}
	onDisk := map[string]bool{}
	for _, de := range dirEntries {
		if !de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		onDisk[de.Name()] = true
		if !ids[de.Name()] {
			// Repair: a directory the index missed.
			if meta, err := c.loadMetadata(de.Name()); err == nil {
				if raw, err := json.Marshal(meta); err == nil {
					_ = c.indexPut(de.Name(), raw)
				}
			}
		}
	}

	var out []*Metadata
	for id := range onDisk {
		meta, err := c.GetCachedMetadata(id)
		if err != nil {
			c.logger.Warn("unreadable cache entry skipped", "session", id, "error", err)
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(out[j].CompletedAt) })
	return out, nil
}

// RemoveCached deletes a session directory and its index entry.
func (c *Cache) RemoveCached(id string) error {
	final := filepath.Join(c.root, id)
	if _, err := os.Stat(final); os.IsNotExist(err) {
		return datatypes.NewError(datatypes.CodeCacheMiss, "session is not cached").WithSession(id)
	}
	if err := os.RemoveAll(final); err != nil {
		return err
	}
	c.forget(id)
	return nil
}

// forget drops in-memory and indexed state for id.
func (c *Cache) forget(id string) {
	c.mu.Lock()
	delete(c.meta, id)
	c.mu.Unlock()
	_ = c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(indexKeyPrefix + id))
	})
}

func (c *Cache) loadMetadata(id string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(c.root, id, FileMetadata))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, datatypes.NewError(datatypes.CodeCacheMiss, "session is not cached").WithSession(id)
		}
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, datatypes.WrapError(datatypes.CodeCacheMiss, "metadata is unreadable", err).WithSession(id)
	}
	return &meta, nil
}

func (c *Cache) indexPut(id string, metaBytes []byte) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(indexKeyPrefix+id), metaBytes)
	})
}
