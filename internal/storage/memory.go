// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"sort"
	"sync"
)

// memoryBackend is the map shared by every handle returned from Sibling.
type memoryBackend struct {
	mu       sync.Mutex
	data     map[string]string
	watchers map[*memoryWatch]struct{}
}

type memoryWatch struct {
	*sink
	owner *MemoryStore
}

// MemoryStore is an in-process Store. Handles created with Sibling share the
// same data and behave like separate processes for Watch.
type MemoryStore struct {
	backend *memoryBackend
	mu      sync.Mutex
	closed  bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		backend: &memoryBackend{
			data:     make(map[string]string),
			watchers: make(map[*memoryWatch]struct{}),
		},
	}
}

// Sibling returns a second handle onto the same data. Writes through one
// handle are reported to watchers of the other.
func (m *MemoryStore) Sibling() *MemoryStore {
	return &MemoryStore{backend: m.backend}
}

func (m *MemoryStore) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Get implements Store.
func (m *MemoryStore) Get(key string) (string, error) {
	if m.isClosed() {
		return "", ErrClosed
	}
	b := m.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set implements Store.
func (m *MemoryStore) Set(key, value string) error {
	if m.isClosed() {
		return ErrClosed
	}
	b := m.backend
	b.mu.Lock()
	if old, ok := b.data[key]; ok && old == value {
		b.mu.Unlock()
		return nil
	}
	b.data[key] = value
	targets := m.peersLocked()
	b.mu.Unlock()

	notify(targets, []Change{{Key: key, Value: value}})
	return nil
}

// Remove implements Store.
func (m *MemoryStore) Remove(keys ...string) error {
	if m.isClosed() {
		return ErrClosed
	}
	b := m.backend
	b.mu.Lock()
	var changes []Change
	for _, k := range keys {
		if _, ok := b.data[k]; ok {
			delete(b.data, k)
			changes = append(changes, Change{Key: k, Removed: true})
		}
	}
	targets := m.peersLocked()
	b.mu.Unlock()

	notify(targets, changes)
	return nil
}

// Close implements Store. Other siblings stay usable.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Snapshot returns a copy of all stored pairs.
func (m *MemoryStore) Snapshot() map[string]string {
	b := m.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]string, len(b.data))
	for k, v := range b.data {
		out[k] = v
	}
	return out
}

// Keys returns the stored keys in sorted order.
func (m *MemoryStore) Keys() []string {
	snap := m.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Watch implements Watcher.
func (m *MemoryStore) Watch(ctx context.Context) (<-chan Change, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	w := &memoryWatch{sink: newSink(ctx), owner: m}

	b := m.backend
	b.mu.Lock()
	b.watchers[w] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.watchers, w)
		b.mu.Unlock()
		w.close()
	}()
	return w.ch, nil
}

func (m *MemoryStore) peersLocked() []*sink {
	var out []*sink
	for w := range m.backend.watchers {
		if w.owner != m {
			out = append(out, w.sink)
		}
	}
	return out
}
