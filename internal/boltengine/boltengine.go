// Package boltengine wraps go.etcd.io/bbolt behind the same Set/Get/Rm
// surface as internal/engine.Engine, the Go analogue of
// original_source's src/engine/sled.rs SledStore: a second, embedded
// storage engine kept around purely so kvs-bench can compare the
// bespoke log-structured engine against a well-known B+tree store.
package boltengine

import (
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/rust-kv/rust-kv/internal/kverrors"
)

var bucketName = []byte("kv")

// Store is a bbolt-backed key-value store with the same operation
// surface as the log-structured engine, for benchmarking comparisons.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) a bbolt database file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("boltengine: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltengine: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Set stores value under key, overwriting any existing value.
func (s *Store) Set(key, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, value)
	})
}

// Get fetches key's value, copying it out of bbolt's mmap'd page
// before the transaction closes.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key)
		if v == nil {
			return nil
		}
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

// Rm deletes key. It returns kverrors.ErrKeyNotFound if key is absent,
// matching internal/engine.Engine's Rm semantics.
func (s *Store) Rm(key []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b.Get(key) == nil {
			return kverrors.ErrKeyNotFound
		}
		return b.Delete(key)
	})
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}
