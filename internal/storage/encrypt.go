// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/jeranaias/broadcast-console/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// EncryptedPrefix marks an encrypted value: ENC:base64(nonce|ciphertext|tag).
const EncryptedPrefix = "ENC:"

// KeySize is the AES-256 key length.
const KeySize = 32

// SaltSize is the PBKDF2 salt length.
const SaltSize = 32

// PBKDF2Iterations follows the OWASP 2023 guidance for PBKDF2-SHA-256.
const PBKDF2Iterations = 600000

var (
	// ErrInvalidCiphertext indicates a value with the prefix but a broken body.
	ErrInvalidCiphertext = errors.New("storage: invalid ciphertext format")
	// ErrDecryptionFailed indicates a wrong key or tampered value.
	ErrDecryptionFailed = errors.New("storage: decryption failed")
)

// =============================================================================
// ENCRYPTED STORE
// =============================================================================

// EncryptedStore seals every value with AES-256-GCM before handing it to the
// wrapped store. Values written before encryption was enabled lack the prefix
// and are returned as-is.
type EncryptedStore struct {
	inner Store
	aead  cipher.AEAD
}

// NewEncryptedStore wraps inner. key must be KeySize bytes; it is not retained.
func NewEncryptedStore(inner Store, key []byte) (*EncryptedStore, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("storage: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &EncryptedStore{inner: inner, aead: aead}, nil
}

// Get implements Store.
func (e *EncryptedStore) Get(key string) (string, error) {
	v, err := e.inner.Get(key)
	if err != nil {
		return "", err
	}
	return e.open(v)
}

// Set implements Store.
func (e *EncryptedStore) Set(key, value string) error {
	sealed, err := e.seal(value)
	if err != nil {
		return err
	}
	return e.inner.Set(key, sealed)
}

// Remove implements Store.
func (e *EncryptedStore) Remove(keys ...string) error {
	return e.inner.Remove(keys...)
}

// Close implements Store.
func (e *EncryptedStore) Close() error {
	return e.inner.Close()
}

// Watch implements Watcher when the wrapped store does. Values that fail to
// decrypt are dropped.
func (e *EncryptedStore) Watch(ctx context.Context) (<-chan Change, error) {
	w, ok := e.inner.(Watcher)
	if !ok {
		return nil, ErrWatchUnsupported
	}
	in, err := w.Watch(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan Change)
	go func() {
		defer close(out)
		for c := range in {
			if !c.Removed {
				plain, err := e.open(c.Value)
				if err != nil {
					continue
				}
				c.Value = plain
			}
			select {
			case out <- c:
			case <-ctx.Done():
				// Drain so the inner watcher can finish.
				for range in {
				}
				return
			}
		}
	}()
	return out, nil
}

func (e *EncryptedStore) seal(plain string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plain), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *EncryptedStore) open(v string) (string, error) {
	if !strings.HasPrefix(v, EncryptedPrefix) {
		return v, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v, EncryptedPrefix))
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	n := e.aead.NonceSize()
	if len(raw) < n+e.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}
	plain, err := e.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// =============================================================================
// KEY MATERIAL
// =============================================================================

// FileKeyStore keeps a random key in a 0600 file.
type FileKeyStore struct {
	path string
}

// NewFileKeyStore returns a key store backed by path.
func NewFileKeyStore(path string) *FileKeyStore {
	return &FileKeyStore{path: path}
}

// LoadOrCreate returns the stored key, generating and saving one on first use.
func (k *FileKeyStore) LoadOrCreate() ([]byte, error) {
	key, err := os.ReadFile(k.path)
	if err == nil {
		if len(key) != KeySize {
			return nil, fmt.Errorf("storage: key file %s has %d bytes, want %d", k.path, len(key), KeySize)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	key = make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := ensureDir(k.path); err != nil {
		return nil, err
	}
	if err := util.AtomicWriteFile(k.path, key, 0600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}

// KeyFromPassphrase derives a key with PBKDF2-SHA-256. The salt is read from
// saltPath, or generated and written there on first use.
func KeyFromPassphrase(passphrase, saltPath string) ([]byte, error) {
	salt, err := os.ReadFile(saltPath)
	if errors.Is(err, os.ErrNotExist) {
		salt = make([]byte, SaltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		if err := ensureDir(saltPath); err != nil {
			return nil, err
		}
		if err := util.AtomicWriteFile(saltPath, salt, 0600); err != nil {
			return nil, fmt.Errorf("write salt: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	return DeriveKey(passphrase, salt), nil
}

// DeriveKey runs PBKDF2-SHA-256 over passphrase and salt.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, KeySize, sha256.New)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
