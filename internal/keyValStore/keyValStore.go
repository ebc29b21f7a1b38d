// Package keyValStore is the badger-backed blob store backend.
package keyValStore

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	cerrors "github.com/i5heu/ouroboros-cryptree/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

type StoreConfig struct {
	Paths            []string // absolute path at the moment only first path is supported
	MinimumFreeSpace int      // in GB
	Logger           *logrus.Logger
	InMemory         bool
}

type KeyValStore struct {
	config       StoreConfig
	badgerDB     *badger.DB
	readCounter  atomic.Uint64
	writeCounter atomic.Uint64
}

func NewKeyValStore(config StoreConfig) (*KeyValStore, error) {
	if config.Logger != nil {
		log = config.Logger
	}

	err := config.checkConfig()
	if err != nil {
		return nil, fmt.Errorf("error checking config for KeyValStore: %w", err)
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(config.Paths[0])
		opts.ValueLogFileSize = 1024 * 1024 * 100 // Set max size of each value log file to 100MB
	}
	opts.Logger = nil
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening badger: %w", err)
	}

	if !config.InMemory {
		if err := displayDiskUsage(config.Paths); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &KeyValStore{
		config:   config,
		badgerDB: db,
	}, nil
}

func (k *KeyValStore) Put(key []byte, content []byte) error {
	k.writeCounter.Add(1)

	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Set(key, content)
	})
	if err != nil {
		log.WithError(err).Error("Error writing key")
		return err
	}
	return nil
}

func (k *KeyValStore) Get(key []byte) ([]byte, error) {
	k.readCounter.Add(1)
	var value []byte
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, cerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error reading key %x: %w", key, err)
	}
	return value, nil
}

func (k *KeyValStore) Delete(key []byte) error {
	k.writeCounter.Add(1)
	return k.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// CountPrefix returns the number of keys starting with prefix.
func (k *KeyValStore) CountPrefix(prefix []byte) (int, error) {
	n := 0
	k.readCounter.Add(1)
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Stats returns the number of reads and writes since opening.
func (k *KeyValStore) Stats() (reads, writes uint64) {
	return k.readCounter.Load(), k.writeCounter.Load()
}

func (k *KeyValStore) Close() error {
	if err := k.Clean(); err != nil {
		log.WithError(err).Warn("Error cleaning db before close")
	}
	reads, writes := k.Stats()
	log.WithFields(logrus.Fields{"reads": reads, "writes": writes}).Info("KeyValStore closed")
	return k.badgerDB.Close()
}

func (k *KeyValStore) Clean() error {
	if k.config.InMemory {
		return nil
	}
	err := k.badgerDB.Sync()
	if err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}

	// flatten the db
	err = k.badgerDB.Flatten(runtime.NumCPU()) // The parameter is the number of concurrent compactions
	if err != nil {
		return fmt.Errorf("error flattening db: %w", err)
	}
	log.Debug("DB Flattened")

	err = k.badgerDB.RunValueLogGC(0.1)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("error cleaning db: %w", err)
	}

	return nil
}
