// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/jeranaias/broadcast-console/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps all pairs in one JSON document. Every mutation rewrites the
// document atomically, so a concurrent reader sees either the old or the new
// version. Writers from different processes serialise on a sibling lock file
// and each applies its change to the document as it is on disk, so a write
// never drops a key another process stored.
type FileStore struct {
	path string

	mu    sync.Mutex
	cache map[string]string
	// seen is the document as Watch subscribers know it: the last reload
	// plus this handle's own writes.
	seen   map[string]string
	closed bool
	subs   []*sink
}

// OpenFile opens (or lazily creates) the document at path.
func OpenFile(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("storage: file backend requires a path")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	data, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, cache: data, seen: clone(data)}, nil
}

// Path returns the document location.
func (f *FileStore) Path() string { return f.path }

func readDocument(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	data := map[string]string{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return data, nil
}

// Get implements Store.
func (f *FileStore) Get(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", ErrClosed
	}
	v, ok := f.cache[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set implements Store.
func (f *FileStore) Set(key, value string) error {
	return f.mutate(func(next map[string]string) bool {
		if old, ok := next[key]; ok && old == value {
			return false
		}
		next[key] = value
		return true
	})
}

// Remove implements Store.
func (f *FileStore) Remove(keys ...string) error {
	return f.mutate(func(next map[string]string) bool {
		changed := false
		for _, k := range keys {
			if _, ok := next[k]; ok {
				delete(next, k)
				changed = true
			}
		}
		return changed
	})
}

func (f *FileStore) mutate(apply func(map[string]string) bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	unlock, err := f.lock()
	if err != nil {
		return err
	}
	defer unlock()

	next, err := readDocument(f.path)
	if err != nil {
		return err
	}
	if !apply(next) {
		f.cache = next
		return nil
	}

	raw, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session document: %w", err)
	}
	if err := util.AtomicWriteFile(f.path, raw, 0600); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	f.cache = next
	// Other writers' keys picked up here stay out of seen so the next
	// reload still reports them.
	apply(f.seen)
	return nil
}

// lock takes the cross-process lock guarding read-modify-write of the
// document. The returned func releases it.
func (f *FileStore) lock() (func(), error) {
	lf, err := os.OpenFile(f.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFD(lf.Fd()); err != nil {
		_ = lf.Close()
		return nil, fmt.Errorf("lock %s: %w", f.path, err)
	}
	return func() {
		_ = unlockFD(lf.Fd())
		_ = lf.Close()
	}, nil
}

func clone(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Close implements Store and ends every Watch.
func (f *FileStore) Close() error {
	f.mu.Lock()
	subs := f.subs
	f.subs = nil
	f.closed = true
	f.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	return nil
}

// =============================================================================
// WATCH
// =============================================================================

// Watch implements Watcher. It watches the document's directory, since an
// atomic rename replaces the file's inode and would drop a file-level watch.
func (f *FileStore) Watch(ctx context.Context) (<-chan Change, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	f.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(f.path), err)
	}

	s := newSink(ctx)
	f.mu.Lock()
	f.subs = append(f.subs, s)
	f.mu.Unlock()

	go f.processEvents(ctx, watcher, s)
	return s.ch, nil
}

func (f *FileStore) processEvents(ctx context.Context, watcher *fsnotify.Watcher, s *sink) {
	defer func() {
		_ = watcher.Close()
		f.dropSink(s)
		s.close()
	}()

	name := filepath.Clean(f.path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			changes, err := f.reload()
			if err != nil {
				log.WithError(err).WithField("path", f.path).Warn("storage: reload after external change failed")
				continue
			}
			f.fanOut(changes)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("storage: watcher error")
		}
	}
}

// reload re-reads the document and returns what subscribers have not seen.
// A document removed outright counts as every key removed.
func (f *FileStore) reload() ([]Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, nil
	}
	cur, err := readDocument(f.path)
	if err != nil {
		return nil, err
	}
	changes := diff(f.seen, cur)
	f.cache = cur
	f.seen = clone(cur)
	return changes, nil
}

func (f *FileStore) fanOut(changes []Change) {
	if len(changes) == 0 {
		return
	}
	f.mu.Lock()
	subs := append([]*sink(nil), f.subs...)
	f.mu.Unlock()
	notify(subs, changes)
}

func (f *FileStore) dropSink(s *sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, other := range f.subs {
		if other == s {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return
		}
	}
}
