package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Size is an image's pixel dimensions.
type Size struct {
	W int `json:"w"`
	H int `json:"h"`
}

func (s Size) Valid() bool { return s.W > 0 && s.H > 0 }

// Cache remembers probed image sizes by URL. Entries expire after the configured TTL;
// a zero TTL keeps them forever.
type Cache struct {
	db  *badger.DB
	ttl time.Duration
}

// OpenCache opens (creating if needed) a badger store in dir.
func OpenCache(dir string, ttl time.Duration) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("probe cache dir is empty")
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open probe cache: %w", err)
	}
	return &Cache{db: db, ttl: ttl}, nil
}

// OpenMemoryCache is an in-memory cache, used when no data root is available and in tests.
func OpenMemoryCache(ttl time.Duration) (*Cache, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open probe cache: %w", err)
	}
	return &Cache{db: db, ttl: ttl}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func key(url string) []byte { return []byte("size:" + url) }

// Get returns the cached size for url. A nil cache always misses.
func (c *Cache) Get(url string) (Size, bool, error) {
	if c == nil {
		return Size{}, false, nil
	}
	var s Size
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(url))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &s)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Size{}, false, nil
	}
	if err != nil {
		return Size{}, false, fmt.Errorf("failed to read probe cache: %w", err)
	}
	return s, true, nil
}

func (c *Cache) Put(url string, s Size) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key(url), data)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Len counts live entries.
func (c *Cache) Len() (int, error) {
	if c == nil {
		return 0, nil
	}
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte("size:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Clear drops every cached size.
func (c *Cache) Clear() error {
	if c == nil {
		return nil
	}
	return c.db.DropPrefix([]byte("size:"))
}
