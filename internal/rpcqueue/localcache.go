package rpcqueue

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// localCacheBucket is the single bbolt bucket holding memoized responses.
var localCacheBucket = []byte("rpc_request_results")

// LocalCache is a process-local bbolt-backed memo, consulted before the
// raw store so that duplicate RPC traffic within one process lifetime is
// bounded even before a DB round-trip (spec.md §9 domain-stack note: a
// dev/single-node fallback alongside the raw store's own memo table).
type LocalCache struct {
	db *bbolt.DB
}

// OpenLocalCache opens (creating if absent) a bbolt file at path.
func OpenLocalCache(path string) (*LocalCache, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("rpcqueue: open local cache %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(localCacheBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("rpcqueue: create local cache bucket: %w", err)
	}
	return &LocalCache{db: db}, nil
}

func (c *LocalCache) key(chainID, blockNumber uint64, request string) []byte {
	return []byte(fmt.Sprintf("%d:%d:%s", chainID, blockNumber, request))
}

// Get returns a previously cached response, if any.
func (c *LocalCache) Get(chainID, blockNumber uint64, request string) (string, bool) {
	var value []byte
	_ = c.db.View(func(tx *bbolt.Tx) error {
		value = tx.Bucket(localCacheBucket).Get(c.key(chainID, blockNumber, request))
		return nil
	})
	if value == nil {
		return "", false
	}
	return string(value), true
}

// Put stores a response, overwriting any prior entry for the same key.
func (c *LocalCache) Put(chainID, blockNumber uint64, request, result string) {
	_ = c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(localCacheBucket).Put(c.key(chainID, blockNumber, request), []byte(result))
	})
}

// Close closes the underlying bbolt file.
func (c *LocalCache) Close() error { return c.db.Close() }
