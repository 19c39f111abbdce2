package cache

import (
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	_ "github.com/glebarez/go-sqlite"
)

// MemoryDSN is the data source name of a shared in-memory database.
const MemoryDSN = "file::memory:?cache=shared"

type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

type sqliteStore struct {
	s    *SQLiteStorage
	name string
}

// NewSQLiteStorage creates a new storage with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteStorage(filename string) (*SQLiteStorage, error) {
	if filename == "" {
		filename = MemoryDSN
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	if IsMemoryDSN(filename) {
		// a shared in-memory db lives as long as its last connection
		db.SetMaxOpenConns(1)
	}
	return NewSQLiteStorageFromDB(db)
}

// IsMemoryDSN reports whether the data source name points to an in-memory database.
func IsMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// NewSQLiteStorageFromDB creates the cache tables in an already open database.
func NewSQLiteStorageFromDB(db *sql.DB) (*SQLiteStorage, error) {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS stores (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			store TEXT NOT NULL,
			key TEXT NOT NULL,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (store, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return nil, err
		}
	}
	return &SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

// DB returns the underlying database, e.g. for sharing it with the submission queue.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) write(query string, args ...any) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	return retry.Do(func() error {
		_, err := s.db.Exec(query, args...)
		return err
	}, writeRetryOptions()...)
}

func (s *SQLiteStorage) Open(name string) (Store, error) {
	if err := s.write("INSERT OR IGNORE INTO stores (name, created_at) VALUES (?, ?)", name, time.Now().Unix()); err != nil {
		return nil, err
	}
	return &sqliteStore{s: s, name: name}, nil
}

func (s *SQLiteStorage) Names() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM stores ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) Has(name string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM stores WHERE name = ?", name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLiteStorage) Delete(name string) (bool, error) {
	found, err := s.Has(name)
	if err != nil || !found {
		return false, err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	err = retry.Do(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM entries WHERE store = ?", name); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec("DELETE FROM stores WHERE name = ?", name); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	}, writeRetryOptions()...)
	return err == nil, err
}

func (st *sqliteStore) Name() string {
	return st.name
}

func (st *sqliteStore) Get(key string) (CacheEntry, bool, error) {
	entry := CacheEntry{Key: key}
	var storedAt int64
	err := st.s.db.QueryRow("SELECT stored_at, bytes FROM entries WHERE store = ? AND key = ?", st.name, key).
		Scan(&storedAt, &entry.Bytes)
	if err == sql.ErrNoRows {
		return entry, false, nil
	}
	if err != nil {
		return entry, false, err
	}
	entry.StoredAt = time.Unix(storedAt, 0)
	return entry, true, nil
}

func (st *sqliteStore) Put(ce CacheEntry) error {
	if ce.StoredAt.IsZero() {
		ce.StoredAt = time.Now()
	}
	if err := st.s.write("INSERT OR IGNORE INTO stores (name, created_at) VALUES (?, ?)", st.name, ce.StoredAt.Unix()); err != nil {
		return err
	}
	return st.s.write("INSERT OR REPLACE INTO entries (store, key, stored_at, bytes) VALUES (?, ?, ?, ?)",
		st.name, ce.Key, ce.StoredAt.Unix(), ce.Bytes)
}

func (st *sqliteStore) Purge(key string) error {
	return st.s.write("DELETE FROM entries WHERE store = ? AND key = ?", st.name, key)
}

func (st *sqliteStore) Has(key string) bool {
	var one int
	err := st.s.db.QueryRow("SELECT 1 FROM entries WHERE store = ? AND key = ?", st.name, key).Scan(&one)
	return err == nil
}

// AllKeys reads all keys before calling the callback,
// so the callback may use the store.
func (st *sqliteStore) AllKeys(cb func(string)) error {
	rows, err := st.s.db.Query("SELECT key FROM entries WHERE store = ? ORDER BY key", st.name)
	if err != nil {
		return err
	}
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return err
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, key := range keys {
		cb(key)
	}
	return nil
}
