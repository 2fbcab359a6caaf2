// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned by Get when the key is absent.
	ErrNotFound = errors.New("storage: key not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("storage: store closed")

	// ErrWatchUnsupported is returned by Watch on a backend that cannot
	// observe writes from other processes.
	ErrWatchUnsupported = errors.New("storage: backend does not support watching")

	// ErrUnknownBackend is returned by Open for an unrecognised backend name.
	ErrUnknownBackend = errors.New("storage: unknown backend")
)

// =============================================================================
// INTERFACES
// =============================================================================

// Store is durable key-value string storage. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// Remove deletes the given keys. Absent keys are not an error.
	Remove(keys ...string) error

	// Close releases backend resources.
	Close() error
}

// Change describes a key modified by another writer.
type Change struct {
	Key     string
	Value   string
	Removed bool
}

// Watcher is implemented by stores that can report changes made by other
// processes. Changes made through the watching store itself are not reported.
type Watcher interface {
	// Watch streams external changes until ctx is cancelled, then closes
	// the channel.
	Watch(ctx context.Context) (<-chan Change, error)
}

// =============================================================================
// FACTORY
// =============================================================================

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Backends lists every supported backend name.
var Backends = []string{BackendFile, BackendSQLite, BackendBolt, BackendMemory}

// Options selects and configures a backend.
type Options struct {
	// Backend is one of the Backend* constants. Empty means file.
	Backend string

	// Path is the database or document path. A leading ~ is expanded.
	// Ignored for the memory backend.
	Path string

	// Encrypt wraps the backend in an EncryptedStore.
	Encrypt bool

	// KeyFile holds the random AES key, created on first use.
	// Used when Passphrase is empty.
	KeyFile string

	// Passphrase derives the key with PBKDF2. The salt is kept next to
	// KeyFile with a .salt suffix.
	Passphrase string
}

// Open constructs the store described by opts.
func Open(opts Options) (Store, error) {
	path, err := ExpandPath(opts.Path)
	if err != nil {
		return nil, err
	}

	var s Store
	switch strings.ToLower(opts.Backend) {
	case "", BackendFile:
		s, err = OpenFile(path)
	case BackendSQLite:
		s, err = OpenSQLite(path)
	case BackendBolt:
		s, err = OpenBolt(path)
	case BackendMemory:
		s = NewMemoryStore()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	if !opts.Encrypt {
		return s, nil
	}

	key, err := loadKey(opts)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	defer zeroBytes(key)

	enc, err := NewEncryptedStore(s, key)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return enc, nil
}

func loadKey(opts Options) ([]byte, error) {
	keyFile, err := ExpandPath(opts.KeyFile)
	if err != nil {
		return nil, err
	}
	if keyFile == "" {
		return nil, errors.New("storage: encryption requires a key file path")
	}
	if opts.Passphrase != "" {
		return KeyFromPassphrase(opts.Passphrase, keyFile+".salt")
	}
	return NewFileKeyStore(keyFile).LoadOrCreate()
}

// ExpandPath resolves a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}
	return nil
}
