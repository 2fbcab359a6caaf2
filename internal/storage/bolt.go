// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

// boltBucket holds every session pair.
const boltBucket = "session"

// BoltStore keeps pairs in one bbolt bucket.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens or creates the database at path. It fails after one second
// if another process holds the database lock.
func OpenBolt(path string) (*BoltStore, error) {
	if path == "" {
		return nil, errors.New("storage: bolt backend requires a path")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Get implements Store.
func (b *BoltStore) Get(key string) (string, error) {
	var (
		v     string
		found bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(boltBucket)).Get([]byte(key))
		if raw != nil {
			// raw is only valid inside the transaction.
			v, found = string(raw), true
		}
		return nil
	})
	if err != nil {
		return "", b.wrap("get", err)
	}
	if !found {
		return "", ErrNotFound
	}
	return v, nil
}

// Set implements Store.
func (b *BoltStore) Set(key, value string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return b.wrap("set", err)
	}
	return nil
}

// Remove implements Store.
func (b *BoltStore) Remove(keys ...string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(boltBucket))
		for _, k := range keys {
			if err := bkt.Delete([]byte(k)); err != nil {
				return fmt.Errorf("delete %q: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		return b.wrap("remove", err)
	}
	return nil
}

// Close implements Store.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

func (b *BoltStore) wrap(op string, err error) error {
	if errors.Is(err, berrors.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return fmt.Errorf("bolt %s: %w", op, err)
}
