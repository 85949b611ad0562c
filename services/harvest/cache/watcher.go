// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// watcher invalidates in-memory metadata when session directories are
// changed outside the process, for example by a manual cleanup.
type watcher struct {
	fs    *fsnotify.Watcher
	cache *Cache
	done  chan struct{}
	wg    sync.WaitGroup
}

func newWatcher(c *Cache) (*watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(c.root); err != nil {
		fs.Close()
		return nil, err
	}
	w := &watcher{fs: fs, cache: c, done: make(chan struct{})}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			id := w.sessionFor(ev.Name)
			if id == "" {
				continue
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename|fsnotify.Write|fsnotify.Create) != 0 {
				w.cache.mu.Lock()
				delete(w.cache.meta, id)
				w.cache.mu.Unlock()
				w.cache.logger.Debug("cache entry invalidated", "session", id, "op", ev.Op.String())
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.cache.logger.Warn("cache watcher error", "error", err)
		}
	}
}

// sessionFor maps an event path to a session id, ignoring the index
// and staging directories.
func (w *watcher) sessionFor(path string) string {
	rel, err := filepath.Rel(w.cache.root, path)
	if err != nil || rel == "." {
		return ""
	}
	id := strings.Split(filepath.ToSlash(rel), "/")[0]
	if strings.HasPrefix(id, ".") {
		return ""
	}
	return id
}

func (w *watcher) close() {
	close(w.done)
	w.fs.Close()
	w.wg.Wait()
}
