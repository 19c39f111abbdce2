// Package cache provides persistent, named stores of HTTP responses.
//
// A Storage holds many named stores, e.g. a versioned store populated at install
// time and a runtime store filled while serving. Stores are created when opened
// or when first written to, and deleted as a whole.
//
// Implementations must be thread-safe!
package cache

import (
	"time"
)

// Storage is a set of named stores.
type Storage interface {
	// Open returns the store with the given name, creating it if absent.
	Open(name string) (Store, error)
	// Names returns the names of all existing stores.
	Names() ([]string, error)
	// Has checks if a store with the given name exists.
	Has(name string) (bool, error)
	// Delete removes the store and all its entries.
	// It returns false if there was no such store.
	Delete(name string) (bool, error)
	Close() error
}

// Store is one named container of cache entries.
// A store that has been deleted is created again by the next Put.
type Store interface {
	Name() string
	// Get returns the entry for the given key, if it exists.
	Get(key string) (CacheEntry, bool, error)
	// Put stores the entry, replacing any entry with the same key.
	Put(ce CacheEntry) error
	// Purge removes the entry for the given key.
	Purge(key string) error
	// Has checks if the specified key exists in the store.
	Has(key string) bool
	// AllKeys calls the given callback for each key in the store.
	AllKeys(cb func(string)) error
}

// CacheEntry is a stored response snapshot.
type CacheEntry struct {
	Key      string
	StoredAt time.Time
	// HTTP/1.1 representation of the response.
	Bytes []byte
}
