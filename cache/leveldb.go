package cache

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// key layout:
//   s\x00<store>            -> created at (unix seconds)
//   e\x00<store>\x00<key>   -> stored at (unix seconds) + response bytes
const (
	storePrefix = "s\x00"
	entryPrefix = "e\x00"
	sep         = "\x00"
)

type LevelDBStorage struct {
	db *leveldb.DB
}

type leveldbStore struct {
	s    *LevelDBStorage
	name string
}

// NewLevelDBStorage opens (or creates) a LevelDB database in the given directory.
func NewLevelDBStorage(dir string) (*LevelDBStorage, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBStorage{db: db}, nil
}

func (s *LevelDBStorage) Close() error {
	return s.db.Close()
}

func storeKey(name string) []byte {
	return []byte(storePrefix + name)
}

func entriesPrefix(name string) []byte {
	return []byte(entryPrefix + name + sep)
}

func encodeUnix(t time.Time) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t.Unix()))
	return b
}

func (s *LevelDBStorage) ensure(name string) error {
	if ok, err := s.db.Has(storeKey(name), nil); err != nil || ok {
		return err
	}
	return s.db.Put(storeKey(name), encodeUnix(time.Now()), nil)
}

func (s *LevelDBStorage) Open(name string) (Store, error) {
	if err := s.ensure(name); err != nil {
		return nil, err
	}
	return &leveldbStore{s: s, name: name}, nil
}

func (s *LevelDBStorage) Names() ([]string, error) {
	names := make([]string, 0)
	iter := s.db.NewIterator(util.BytesPrefix([]byte(storePrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		names = append(names, string(iter.Key()[len(storePrefix):]))
	}
	return names, iter.Error()
}

func (s *LevelDBStorage) Has(name string) (bool, error) {
	return s.db.Has(storeKey(name), nil)
}

func (s *LevelDBStorage) Delete(name string) (bool, error) {
	found, err := s.Has(name)
	if err != nil || !found {
		return false, err
	}
	batch := new(leveldb.Batch)
	iter := s.db.NewIterator(util.BytesPrefix(entriesPrefix(name)), nil)
	for iter.Next() {
		batch.Delete(append([]byte{}, iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return false, err
	}
	batch.Delete(storeKey(name))
	if err := s.db.Write(batch, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (st *leveldbStore) Name() string {
	return st.name
}

func (st *leveldbStore) entryKey(key string) []byte {
	return append(entriesPrefix(st.name), key...)
}

func (st *leveldbStore) Get(key string) (CacheEntry, bool, error) {
	entry := CacheEntry{Key: key}
	value, err := st.s.db.Get(st.entryKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return entry, false, nil
	}
	if err != nil {
		return entry, false, err
	}
	if len(value) < 8 {
		return entry, false, errors.New("cache: corrupt leveldb entry")
	}
	entry.StoredAt = time.Unix(int64(binary.BigEndian.Uint64(value[:8])), 0)
	entry.Bytes = value[8:]
	return entry, true, nil
}

func (st *leveldbStore) Put(ce CacheEntry) error {
	if ce.StoredAt.IsZero() {
		ce.StoredAt = time.Now()
	}
	if err := st.s.ensure(st.name); err != nil {
		return err
	}
	value := append(encodeUnix(ce.StoredAt), ce.Bytes...)
	return st.s.db.Put(st.entryKey(ce.Key), value, nil)
}

func (st *leveldbStore) Purge(key string) error {
	return st.s.db.Delete(st.entryKey(key), nil)
}

func (st *leveldbStore) Has(key string) bool {
	ok, err := st.s.db.Has(st.entryKey(key), nil)
	return err == nil && ok
}

func (st *leveldbStore) AllKeys(cb func(string)) error {
	prefix := entriesPrefix(st.name)
	keys := make([]string, 0)
	iter := st.s.db.NewIterator(util.BytesPrefix(prefix), nil)
	for iter.Next() {
		keys = append(keys, string(iter.Key()[len(prefix):]))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	for _, key := range keys {
		cb(key)
	}
	return nil
}
