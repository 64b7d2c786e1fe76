// Package bboltengine adapts go.etcd.io/bbolt to the same Get/Set/Remove
// contract internal/storage.Engine satisfies, the embedded-B-tree
// alternative spec §4.6 calls out as an engine choice a server can make at
// startup. Only the engine interface is specified; bbolt's own internals
// (its own WAL, its own page cache) are an external collaborator here.
package bboltengine

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/epokhe/kvs/internal/storage"
	"go.etcd.io/bbolt"
)

// EngineName is recorded in the sentinel file shared with internal/storage
// so a directory created by one engine refuses to be reopened by the
// other.
const EngineName = "bbolt"

var bucketName = []byte("kvs")

// Engine wraps one bbolt database file, satisfying the same Get/Set/Remove
// contract as storage.Engine.
type Engine struct {
	db *bbolt.DB
}

// Open opens (or creates) a bbolt-backed database under root, refusing to
// proceed if root was previously used by a different engine.
func Open(root string) (*Engine, error) {
	if err := storage.CheckSentinel(root, EngineName); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(filepath.Join(root, "bbolt.db"), 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("bboltengine: open: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bboltengine: create bucket: %w", err)
	}

	return &Engine{db: db}, nil
}

func (e *Engine) Close() error { return e.db.Close() }

// Get returns the latest value stored for key.
func (e *Engine) Get(key string) (string, error) {
	var value string
	var found bool

	err := e.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v != nil {
			found = true
			value = string(v)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("bboltengine: get %q: %w", key, err)
	}
	if !found {
		return "", fmt.Errorf("%w: %q", storage.ErrKeyNotFound, key)
	}
	return value, nil
}

// Set stores value for key, returning the prior value if one existed.
func (e *Engine) Set(key, value string) (prev string, hadPrev bool, err error) {
	err = e.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if old := b.Get([]byte(key)); old != nil {
			prev, hadPrev = string(old), true
		}
		return b.Put([]byte(key), []byte(value))
	})
	if err != nil {
		return "", false, fmt.Errorf("bboltengine: set %q: %w", key, err)
	}
	return prev, hadPrev, nil
}

// Remove deletes key, failing with storage.ErrKeyNotFound if it was
// already absent.
func (e *Engine) Remove(key string) error {
	err := e.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b.Get([]byte(key)) == nil {
			return storage.ErrKeyNotFound
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return fmt.Errorf("%w: %q", storage.ErrKeyNotFound, key)
		}
		return fmt.Errorf("bboltengine: remove %q: %w", key, err)
	}
	return nil
}
