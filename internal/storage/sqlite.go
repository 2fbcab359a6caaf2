// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// SQLiteStore keeps pairs in a single kv table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("storage: sqlite backend requires a path")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY
	// between our own goroutines.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000", // other processes may hold the write lock
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, multierr.Append(fmt.Errorf("%s: %w", p, err), db.Close())
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, multierr.Append(fmt.Errorf("create schema: %w", err), db.Close())
	}

	return &SQLiteStore{db: db}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", s.wrap("get", key, err)
	}
	return v, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return s.wrap("set", key, err)
	}
	return nil
}

// Remove implements Store. All keys go in one transaction.
func (s *SQLiteStore) Remove(keys ...string) (err error) {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return s.wrap("begin", "", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
		}
	}()

	for _, k := range keys {
		if _, err = tx.Exec(`DELETE FROM kv WHERE key = ?`, k); err != nil {
			return s.wrap("remove", k, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return s.wrap("commit", "", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) wrap(op, key string, err error) error {
	if errors.Is(err, sql.ErrConnDone) || err.Error() == "sql: database is closed" {
		return ErrClosed
	}
	if key == "" {
		return fmt.Errorf("sqlite %s: %w", op, err)
	}
	return fmt.Errorf("sqlite %s %q: %w", op, key, err)
}
