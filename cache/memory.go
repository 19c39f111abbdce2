package cache

import (
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStorage keeps stores in process memory. Nothing survives a restart.
type MemoryStorage struct {
	mutex  *sync.RWMutex
	stores map[string]*gocache.Cache
}

type memoryStore struct {
	s    *MemoryStorage
	name string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		mutex:  &sync.RWMutex{},
		stores: make(map[string]*gocache.Cache),
	}
}

// bucket returns the entries of the named store, creating them if asked to.
func (m *MemoryStorage) bucket(name string, create bool) *gocache.Cache {
	m.mutex.RLock()
	c, ok := m.stores[name]
	m.mutex.RUnlock()
	if ok || !create {
		return c
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if c, ok = m.stores[name]; !ok {
		c = gocache.New(gocache.NoExpiration, 0)
		m.stores[name] = c
	}
	return c
}

func (m *MemoryStorage) Open(name string) (Store, error) {
	m.bucket(name, true)
	return &memoryStore{s: m, name: name}, nil
}

func (m *MemoryStorage) Names() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStorage) Has(name string) (bool, error) {
	return m.bucket(name, false) != nil, nil
}

func (m *MemoryStorage) Delete(name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.stores[name]
	delete(m.stores, name)
	return ok, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (st *memoryStore) Name() string {
	return st.name
}

func (st *memoryStore) Get(key string) (CacheEntry, bool, error) {
	c := st.s.bucket(st.name, false)
	if c == nil {
		return CacheEntry{Key: key}, false, nil
	}
	value, ok := c.Get(key)
	if !ok {
		return CacheEntry{Key: key}, false, nil
	}
	entry := value.(CacheEntry)
	entry.Bytes = append([]byte{}, entry.Bytes...)
	return entry, true, nil
}

func (st *memoryStore) Put(ce CacheEntry) error {
	if ce.StoredAt.IsZero() {
		ce.StoredAt = time.Now()
	}
	ce.Bytes = append([]byte{}, ce.Bytes...)
	st.s.bucket(st.name, true).Set(ce.Key, ce, gocache.NoExpiration)
	return nil
}

func (st *memoryStore) Purge(key string) error {
	if c := st.s.bucket(st.name, false); c != nil {
		c.Delete(key)
	}
	return nil
}

func (st *memoryStore) Has(key string) bool {
	c := st.s.bucket(st.name, false)
	if c == nil {
		return false
	}
	_, ok := c.Get(key)
	return ok
}

func (st *memoryStore) AllKeys(cb func(string)) error {
	c := st.s.bucket(st.name, false)
	if c == nil {
		return nil
	}
	keys := make([]string, 0, c.ItemCount())
	for key := range c.Items() {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
	return nil
}
