// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgslcache

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gogpu/framegraph"
)

// DefaultDebounce is how long the watcher waits for further writes before
// invalidating, so an editor's save sequence lands as one reload.
const DefaultDebounce = 100 * time.Millisecond

// Watcher invalidates cache entries when their source files change on
// disk. It watches a directory tree recursively and reacts to .wgsl writes,
// creations, removals and renames; everything else is ignored.
//
// The watcher only marks paths dirty. Recompilation happens on the next
// GetOrLoad, on the caller's goroutine, which keeps shader replacement
// synchronous with the frame loop.
type Watcher struct {
	root     string
	cache    *Cache
	fsw      *fsnotify.Watcher
	debounce time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the settle window for bursts of write events.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher builds a watcher that invalidates c's entries under root.
// Cache paths are interpreted relative to root with slash separators, the
// same form fs.FS uses, so a cache built on os.DirFS(root) pairs directly.
func NewWatcher(root string, c *Cache, opts ...WatcherOption) (*Watcher, error) {
	if c == nil {
		panic("wgslcache: NewWatcher with nil cache")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:     root,
		cache:    c,
		fsw:      fsw,
		debounce: DefaultDebounce,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. It returns after the directory tree is registered;
// event handling runs on a background goroutine until Stop is called or ctx
// is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			// Unreadable subtrees are skipped, not fatal.
			return nil
		}
		return w.fsw.Add(path)
	})
	if err != nil {
		return err
	}
	go w.loop(ctx)
	return nil
}

// Stop ends watching. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fsw.Close()
	})
}

func (w *Watcher) loop(ctx context.Context) {
	log := framegraph.Logger()
	pending := make(map[string]struct{})
	var settle *time.Timer
	var settleC <-chan time.Time

	flush := func() {
		for path := range pending {
			log.Debug("wgslcache: source changed", "path", path)
			w.cache.Invalidate(path)
			delete(pending, path)
		}
		settleC = nil
	}

	for {
		select {
		case <-ctx.Done():
			w.Stop()
			flush()
			return
		case <-w.done:
			flush()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				flush()
				return
			}
			w.handleEvent(ev, pending)
			if len(pending) > 0 {
				if settle == nil {
					settle = time.NewTimer(w.debounce)
				} else {
					settle.Reset(w.debounce)
				}
				settleC = settle.C
			}
		case <-settleC:
			flush()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				flush()
				return
			}
			log.Warn("wgslcache: watch error", "error", err)
		}
	}
}

// handleEvent records a changed shader path, and keeps the recursive watch
// in step when directories appear.
func (w *Watcher) handleEvent(ev fsnotify.Event, pending map[string]struct{}) {
	if ev.Op.Has(fsnotify.Create) {
		// New directories (say, a checkout replacing a shader tree) must
		// join the watch to keep recursion intact.
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			_ = w.fsw.Add(ev.Name)
		}
	}
	if !strings.EqualFold(filepath.Ext(ev.Name), ".wgsl") {
		return
	}
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) &&
		!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	pending[filepath.ToSlash(rel)] = struct{}{}
}
