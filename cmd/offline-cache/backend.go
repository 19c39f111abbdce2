package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/queue"

	"github.com/gofrs/flock"
)

const memoryDB = "memory"

// backend is the storage and submission queue of one cache db.
type backend struct {
	storage cache.Storage
	queue   queue.Queue
	lock    *flock.Flock
}

// openBackend opens the storage of the given provider.
// On-disk dbs are locked so that only one process uses them at a time.
func openBackend(ctx context.Context, provider, db string) (*backend, error) {
	b := &backend{}
	if db != memoryDB && provider != memoryDB {
		b.lock = flock.New(db + ".lock")
		locked, err := b.lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("another offline-cache instance is using %s", db)
		}
	}

	var err error
	switch provider {
	case "sqlite":
		err = b.openSQLite(ctx, db)
	case "leveldb":
		err = b.openLevelDB(ctx, db)
	case "memory":
		b.storage = cache.NewMemoryStorage()
		b.queue, err = queue.OpenSQLiteQueue(ctx, cache.MemoryDSN)
	default:
		err = fmt.Errorf("unsupported cache provider: %s", provider)
	}
	if err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// openSQLite shares one database between the caches and the queue.
func (b *backend) openSQLite(ctx context.Context, db string) error {
	dsn := db
	if db == memoryDB {
		dsn = cache.MemoryDSN
	}
	storage, err := cache.NewSQLiteStorage(dsn)
	if err != nil {
		return err
	}
	b.storage = storage
	b.queue, err = queue.NewSQLiteQueue(ctx, storage.DB())
	return err
}

// openLevelDB keeps the queue in a sqlite file next to the leveldb directory.
func (b *backend) openLevelDB(ctx context.Context, db string) error {
	if db == memoryDB {
		return fmt.Errorf("leveldb provider needs a directory")
	}
	storage, err := cache.NewLevelDBStorage(db)
	if err != nil {
		return err
	}
	b.storage = storage
	b.queue, err = queue.OpenSQLiteQueue(ctx, db+"-queue.db")
	return err
}

func (b *backend) Close() error {
	var errs []error
	if b.queue != nil {
		errs = append(errs, b.queue.Close())
	}
	if b.storage != nil {
		errs = append(errs, b.storage.Close())
	}
	if b.lock != nil {
		errs = append(errs, b.lock.Unlock())
	}
	return errors.Join(errs...)
}
