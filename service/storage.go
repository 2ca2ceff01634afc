package service

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.etcd.io/bbolt"
)

var bucketName = []byte("leaves")

// Storage persists one TreeCacheEntry per CacheKey.
type Storage struct {
	db *bbolt.DB
}

func NewStorage(dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// Load returns an empty entry when nothing is cached for key.
func (s *Storage) Load(key CacheKey) (*TreeCacheEntry, error) {
	entry := &TreeCacheEntry{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key.String()))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return entry, nil
}

// Store replaces the entry for key. The new entry must not move
// LastQueriedBlock backwards and must extend the stored leaves.
func (s *Storage) Store(key CacheKey, entry *TreeCacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if v := b.Get([]byte(key.String())); v != nil {
			var old TreeCacheEntry
			if err := json.Unmarshal(v, &old); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			if entry.LastQueriedBlock < old.LastQueriedBlock {
				return fmt.Errorf("%w: %s block %d < %d", ErrNonMonotonic, key, entry.LastQueriedBlock, old.LastQueriedBlock)
			}
			if !hasPrefix(entry.Leaves, old.Leaves) {
				return fmt.Errorf("%w: %s leaves do not extend cached set", ErrNonMonotonic, key)
			}
		}
		return b.Put([]byte(key.String()), data)
	})
}

func (s *Storage) Delete(key CacheKey) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key.String()))
	})
}

// Keys lists the raw keys of every cached tree.
func (s *Storage) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func hasPrefix(leaves, prefix []common.Hash) bool {
	if len(prefix) > len(leaves) {
		return false
	}
	for i := range prefix {
		if leaves[i] != prefix[i] {
			return false
		}
	}
	return true
}
