package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltCache implements the tools Cache interface using a BoltDB backend. It stores tool observations with
// the time they were stored and treats entries older than the TTL as absent. Transcripts are never
// written here.
type BoltCache struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

type cacheEntry struct {
	Value    string    `json:"value"`
	StoredAt time.Time `json:"storedAt"`
}

var toolResultsBucket = []byte("tool-results")

// NewBoltCache creates a new BoltCache with the specified file path. It initializes the database with the
// required bucket and returns an error if the database cannot be opened or initialized. The database
// file is created with 0600 permissions if it doesn't exist. A non-positive ttl keeps entries forever.
func NewBoltCache(path string, ttl time.Duration) (BoltCache, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltCache{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(toolResultsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return BoltCache{}, fmt.Errorf("failed to create bucket: %w", err)
	}

	return BoltCache{db: db, ttl: ttl, now: time.Now}, nil
}

// Get returns the cached value for key, and false if it is missing or expired.
func (b BoltCache) Get(_ context.Context, key string) (string, bool, error) {
	var entry cacheEntry
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(toolResultsBucket)
		if bucket == nil {
			return nil
		}

		v := bucket.Get([]byte(key))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &entry); err != nil {
			return fmt.Errorf("failed to unmarshal cache entry: %w", err)
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return "", false, err
	}
	if b.expired(entry) {
		return "", false, nil
	}
	return entry.Value, true, nil
}

// Put stores value under key, replacing any previous entry.
func (b BoltCache) Put(_ context.Context, key, value string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(toolResultsBucket)
		if bucket == nil {
			return nil
		}

		v, err := json.Marshal(cacheEntry{Value: value, StoredAt: b.now()})
		if err != nil {
			return fmt.Errorf("failed to marshal cache entry: %w", err)
		}

		return bucket.Put([]byte(key), v)
	})
}

// Prune deletes expired entries and returns how many were removed.
func (b BoltCache) Prune(_ context.Context) (int, error) {
	if b.ttl <= 0 {
		return 0, nil
	}

	removed := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(toolResultsBucket)
		if bucket == nil {
			return nil
		}

		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var entry cacheEntry
			if err := json.Unmarshal(v, &entry); err != nil || b.expired(entry) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("failed to delete cache entry: %w", err)
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// Close releases the database file.
func (b BoltCache) Close() error {
	return b.db.Close()
}

func (b BoltCache) expired(e cacheEntry) bool {
	return b.ttl > 0 && b.now().Sub(e.StoredAt) > b.ttl
}
