// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// CONFORMANCE
// =============================================================================

// testStoreConformance runs the behaviour every backend must share.
func testStoreConformance(t *testing.T, open func(t *testing.T) Store) {
	t.Run("get missing", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		_, err := s.Get("authToken")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set get overwrite", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Set("authToken", "tok-1"))
		v, err := s.Get("authToken")
		require.NoError(t, err)
		assert.Equal(t, "tok-1", v)

		require.NoError(t, s.Set("authToken", "tok-2"))
		v, err = s.Get("authToken")
		require.NoError(t, err)
		assert.Equal(t, "tok-2", v)
	})

	t.Run("empty value is stored", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Set("user", ""))
		v, err := s.Get("user")
		require.NoError(t, err)
		assert.Equal(t, "", v)
	})

	t.Run("remove several and absent", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Set("authToken", "t"))
		require.NoError(t, s.Set("user", `{"username":"alice"}`))
		require.NoError(t, s.Set("keep", "1"))

		require.NoError(t, s.Remove("authToken", "user", "never-set"))

		_, err := s.Get("authToken")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Get("user")
		assert.ErrorIs(t, err, ErrNotFound)
		v, err := s.Get("keep")
		require.NoError(t, err)
		assert.Equal(t, "1", v)
	})

	t.Run("remove nothing", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		assert.NoError(t, s.Remove())
	})
}

func TestMemoryStore_Conformance(t *testing.T) {
	testStoreConformance(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestFileStore_Conformance(t *testing.T) {
	testStoreConformance(t, func(t *testing.T) Store {
		s, err := OpenFile(filepath.Join(t.TempDir(), "session.json"))
		require.NoError(t, err)
		return s
	})
}

func TestSQLiteStore_Conformance(t *testing.T) {
	testStoreConformance(t, func(t *testing.T) Store {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "session.db"))
		require.NoError(t, err)
		return s
	})
}

func TestBoltStore_Conformance(t *testing.T) {
	testStoreConformance(t, func(t *testing.T) Store {
		s, err := OpenBolt(filepath.Join(t.TempDir(), "session.bolt"))
		require.NoError(t, err)
		return s
	})
}

func TestEncryptedStore_Conformance(t *testing.T) {
	testStoreConformance(t, func(t *testing.T) Store {
		s, err := NewEncryptedStore(NewMemoryStore(), testKey())
		require.NoError(t, err)
		return s
	})
}

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, KeySize)
}

// =============================================================================
// DURABILITY
// =============================================================================

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	s, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("tokenExpiry", "1700000000000"))
	require.NoError(t, s.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	s, err = OpenFile(path)
	require.NoError(t, err)
	defer s.Close()
	v, err := s.Get("tokenExpiry")
	require.NoError(t, err)
	assert.Equal(t, "1700000000000", v)
}

func TestFileStore_WritersKeepEachOthersKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	a, err := OpenFile(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenFile(path)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Set("authToken", "tok2"))
	require.NoError(t, b.Set("plannedWarningTime", "1700000000000"))
	require.NoError(t, a.Set("tokenExpiry", "1700000060000"))
	require.NoError(t, b.Remove("plannedWarningTime"))

	fresh, err := OpenFile(path)
	require.NoError(t, err)
	defer fresh.Close()

	v, err := fresh.Get("authToken")
	require.NoError(t, err)
	assert.Equal(t, "tok2", v)
	v, err = fresh.Get("tokenExpiry")
	require.NoError(t, err)
	assert.Equal(t, "1700000060000", v)
	_, err = fresh.Get("plannedWarningTime")
	assert.ErrorIs(t, err, ErrNotFound)

	v, err = b.Get("authToken")
	require.NoError(t, err)
	assert.Equal(t, "tok2", v, "write refreshes the handle's view")
}

func TestFileStore_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := OpenFile(path)
	assert.Error(t, err)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("authToken", "abc"))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	v, err := s.Get("authToken")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.bolt")

	s, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("authToken", "abc"))
	require.NoError(t, s.Close())

	s, err = OpenBolt(path)
	require.NoError(t, err)
	defer s.Close()
	v, err := s.Get("authToken")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
}

func TestClosedStores(t *testing.T) {
	dir := t.TempDir()

	mem := NewMemoryStore()
	require.NoError(t, mem.Close())
	assert.ErrorIs(t, mem.Set("k", "v"), ErrClosed)

	file, err := OpenFile(filepath.Join(dir, "s.json"))
	require.NoError(t, err)
	require.NoError(t, file.Close())
	assert.ErrorIs(t, file.Set("k", "v"), ErrClosed)

	bolt, err := OpenBolt(filepath.Join(dir, "s.bolt"))
	require.NoError(t, err)
	require.NoError(t, bolt.Close())
	assert.ErrorIs(t, bolt.Set("k", "v"), ErrClosed)
}

// =============================================================================
// FACTORY
// =============================================================================

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		backend string
		path    string
		want    any
	}{
		{"", filepath.Join(dir, "default.json"), &FileStore{}},
		{BackendFile, filepath.Join(dir, "a.json"), &FileStore{}},
		{BackendSQLite, filepath.Join(dir, "a.db"), &SQLiteStore{}},
		{"BOLT", filepath.Join(dir, "a.bolt"), &BoltStore{}},
		{BackendMemory, "", &MemoryStore{}},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			s, err := Open(Options{Backend: tt.backend, Path: tt.path})
			require.NoError(t, err)
			defer s.Close()
			assert.IsType(t, tt.want, s)
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(Options{Backend: "redis"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestOpen_EncryptedWithKeyFile(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		Backend: BackendFile,
		Path:    filepath.Join(dir, "session.json"),
		Encrypt: true,
		KeyFile: filepath.Join(dir, "keys", "session.key"),
	}

	s, err := Open(opts)
	require.NoError(t, err)
	require.NoError(t, s.Set("authToken", "secret-token"))
	require.NoError(t, s.Close())

	raw, err := os.ReadFile(opts.Path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-token")
	assert.Contains(t, string(raw), EncryptedPrefix)

	// Same key file, same plaintext.
	s, err = Open(opts)
	require.NoError(t, err)
	defer s.Close()
	v, err := s.Get("authToken")
	require.NoError(t, err)
	assert.Equal(t, "secret-token", v)
}

func TestOpen_EncryptRequiresKeyFile(t *testing.T) {
	_, err := Open(Options{Backend: BackendMemory, Encrypt: true})
	assert.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/.broadcast/session.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".broadcast", "session.json"), got)

	got, err = ExpandPath("/tmp/x")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x", got)
}

// =============================================================================
// ENCRYPTION
// =============================================================================

func TestEncryptedStore_PlaintextPassthrough(t *testing.T) {
	inner := NewMemoryStore()
	require.NoError(t, inner.Set("user", `{"username":"legacy"}`))

	s, err := NewEncryptedStore(inner, testKey())
	require.NoError(t, err)

	v, err := s.Get("user")
	require.NoError(t, err)
	assert.Equal(t, `{"username":"legacy"}`, v)
}

func TestEncryptedStore_WrongKey(t *testing.T) {
	inner := NewMemoryStore()
	a, err := NewEncryptedStore(inner, testKey())
	require.NoError(t, err)
	require.NoError(t, a.Set("authToken", "tok"))

	other := bytes.Repeat([]byte{0x07}, KeySize)
	b, err := NewEncryptedStore(inner, other)
	require.NoError(t, err)

	_, err = b.Get("authToken")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestEncryptedStore_TruncatedCiphertext(t *testing.T) {
	inner := NewMemoryStore()
	require.NoError(t, inner.Set("authToken", EncryptedPrefix+"AAAA"))

	s, err := NewEncryptedStore(inner, testKey())
	require.NoError(t, err)
	_, err = s.Get("authToken")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestEncryptedStore_RejectsShortKey(t *testing.T) {
	_, err := NewEncryptedStore(NewMemoryStore(), []byte("short"))
	assert.Error(t, err)
}

func TestEncryptedStore_FreshNoncePerWrite(t *testing.T) {
	inner := NewMemoryStore()
	s, err := NewEncryptedStore(inner, testKey())
	require.NoError(t, err)

	require.NoError(t, s.Set("a", "same"))
	require.NoError(t, s.Set("b", "same"))
	snap := inner.Snapshot()
	assert.NotEqual(t, snap["a"], snap["b"])
	assert.True(t, strings.HasPrefix(snap["a"], EncryptedPrefix))
}

func TestKeyFromPassphrase_StableSalt(t *testing.T) {
	saltPath := filepath.Join(t.TempDir(), "session.key.salt")

	k1, err := KeyFromPassphrase("correct horse", saltPath)
	require.NoError(t, err)
	assert.Len(t, k1, KeySize)

	k2, err := KeyFromPassphrase("correct horse", saltPath)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	salt, err := os.ReadFile(saltPath)
	require.NoError(t, err)
	assert.Len(t, salt, SaltSize)
	assert.NotEqual(t, k1, DeriveKey("wrong", salt))
}

func TestFileKeyStore_RejectsWrongLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.key")
	require.NoError(t, os.WriteFile(path, []byte("tiny"), 0600))

	_, err := NewFileKeyStore(path).LoadOrCreate()
	assert.Error(t, err)
}

// =============================================================================
// WATCH
// =============================================================================

func receive(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "watch channel closed")
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func assertQuiet(t *testing.T, ch <-chan Change, d time.Duration) {
	t.Helper()
	select {
	case c := <-ch:
		t.Fatalf("unexpected change %+v", c)
	case <-time.After(d):
	}
}

func TestMemoryStore_WatchSeesSiblingOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := NewMemoryStore()
	b := a.Sibling()

	ch, err := a.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Set("authToken", "own-write"))
	assertQuiet(t, ch, 50*time.Millisecond)

	require.NoError(t, b.Set("authToken", "from-b"))
	assert.Equal(t, Change{Key: "authToken", Value: "from-b"}, receive(t, ch))

	require.NoError(t, b.Remove("authToken"))
	assert.Equal(t, Change{Key: "authToken", Removed: true}, receive(t, ch))

	cancel()
	for range ch {
	}
}

func TestFileStore_WatchReportsOtherWriter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "session.json")
	a, err := OpenFile(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenFile(path)
	require.NoError(t, err)
	defer b.Close()

	ch, err := a.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Set("authToken", "own"))
	assertQuiet(t, ch, 200*time.Millisecond)

	require.NoError(t, b.Set("authToken", "other"))
	c := receive(t, ch)
	assert.Equal(t, "authToken", c.Key)
	assert.Equal(t, "other", c.Value)

	v, err := a.Get("authToken")
	require.NoError(t, err)
	assert.Equal(t, "other", v, "cache refreshed before notification")

	require.NoError(t, b.Remove("authToken"))
	assert.Equal(t, Change{Key: "authToken", Removed: true}, receive(t, ch))

	cancel()
	for range ch {
	}
}

func TestFileStore_WatchReportsKeysPickedUpByOwnWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "session.json")
	a, err := OpenFile(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenFile(path)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Set("authToken", "from-b"))

	ch, err := a.Watch(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Set("plannedExpiryTime", "1700000000000"))

	c := receive(t, ch)
	assert.Equal(t, Change{Key: "authToken", Value: "from-b"}, c)
	assertQuiet(t, ch, 200*time.Millisecond)

	cancel()
	for range ch {
	}
}

func TestEncryptedStore_WatchDecrypts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := NewMemoryStore()
	a, err := NewEncryptedStore(mem, testKey())
	require.NoError(t, err)
	b, err := NewEncryptedStore(mem.Sibling(), testKey())
	require.NoError(t, err)

	ch, err := a.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Set("authToken", "plain"))
	assert.Equal(t, Change{Key: "authToken", Value: "plain"}, receive(t, ch))

	cancel()
	for range ch {
	}
}

func TestWatchUnsupported(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "s.db"))
	require.NoError(t, err)
	defer s.Close()

	enc, err := NewEncryptedStore(s, testKey())
	require.NoError(t, err)
	_, err = enc.Watch(context.Background())
	assert.ErrorIs(t, err, ErrWatchUnsupported)
}

func TestDiff(t *testing.T) {
	got := diff(
		map[string]string{"a": "1", "b": "2", "c": "3"},
		map[string]string{"a": "1", "b": "20", "d": "4"},
	)
	assert.Equal(t, []Change{
		{Key: "b", Value: "20"},
		{Key: "c", Removed: true},
		{Key: "d", Value: "4"},
	}, got)
}
