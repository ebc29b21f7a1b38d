/*
Package ouroboros wires a blob store, the erasure codec and a worker pool
into a handle that opens CRYPTREE sessions.
*/
package ouroboros

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/i5heu/ouroboros-cryptree/internal/boltStore"
	"github.com/i5heu/ouroboros-cryptree/internal/keyValStore"
	"github.com/i5heu/ouroboros-cryptree/pkg/blobstore"
	"github.com/i5heu/ouroboros-cryptree/pkg/erasure"
	"github.com/i5heu/ouroboros-cryptree/pkg/identity"
	"github.com/i5heu/ouroboros-cryptree/pkg/session"
	workerpool "github.com/i5heu/ouroboros-cryptree/pkg/workerPool"
)

// OuroborosDB owns the backend, the shared worker pool and the codec used
// by every session it opens.
type OuroborosDB struct {
	log    *slog.Logger
	config Config

	mu    sync.RWMutex
	kv    blobstore.KV
	store *blobstore.KVStore
	pool  *workerpool.WorkerPool
	codec *erasure.ReedSolomon

	stopGC chan struct{}
	gcDone chan struct{}

	started   atomic.Bool
	closed    atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

var (
	ErrNotStarted = errors.New("ouroboros: not started")
	ErrClosed     = errors.New("ouroboros: closed")
)

// New validates conf and returns an unstarted handle. New does no I/O.
func New(conf Config) (*OuroborosDB, error) { // A
	if err := conf.withDefaults(); err != nil {
		return nil, err
	}
	return &OuroborosDB{
		log:    conf.Logger,
		config: conf,
	}, nil
}

// Start opens the backend and the worker pool. Only the first call has
// effect.
func (ou *OuroborosDB) Start(ctx context.Context) error { // PA
	var startErr error
	ou.startOnce.Do(func() {
		if err := ctx.Err(); err != nil {
			startErr = err
			return
		}
		codec, err := erasure.NewReedSolomon(ou.config.ErasureOriginal, ou.config.ErasureAllowedFailures)
		if err != nil {
			startErr = fmt.Errorf("ouroboros: codec: %w", err)
			return
		}
		kv, err := ou.openBackend()
		if err != nil {
			startErr = err
			return
		}

		ou.mu.Lock()
		ou.kv = kv
		ou.codec = codec
		ou.store = blobstore.NewKVStore(kv, ou.log)
		ou.pool = workerpool.NewWorkerPool(workerpool.Config{WorkerCount: ou.config.Workers})
		ou.mu.Unlock()

		if kvs, ok := kv.(*keyValStore.KeyValStore); ok && ou.config.GarbageCollectionInterval > 0 {
			ou.stopGC = make(chan struct{})
			ou.gcDone = make(chan struct{})
			go ou.garbageCollection(kvs)
		}

		ou.started.Store(true)
		ou.log.Info("store started",
			"backend", string(ou.config.Backend),
			"erasure", fmt.Sprintf("%d+%d", codec.DataShards(), codec.ParityShards()),
			"workers", ou.pool.Workers(),
		)
	})
	return startErr
}

func (ou *OuroborosDB) openBackend() (blobstore.KV, error) {
	switch ou.config.Backend {
	case BackendMemory:
		return blobstore.NewMemoryKV(), nil
	case BackendBolt:
		s, err := boltStore.Open(ou.config.Paths[0], ou.log)
		if err != nil {
			return nil, fmt.Errorf("ouroboros: open bolt: %w", err)
		}
		return s, nil
	default:
		dir := filepath.Join(ou.config.Paths[0], "kv")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("ouroboros: mkdir %s: %w", dir, err)
		}
		s, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
			Paths:            []string{dir},
			MinimumFreeSpace: int(ou.config.MinimumFreeGB),
		})
		if err != nil {
			return nil, fmt.Errorf("ouroboros: open badger: %w", err)
		}
		return s, nil
	}
}

func (ou *OuroborosDB) garbageCollection(kvs *keyValStore.KeyValStore) {
	defer close(ou.gcDone)
	ticker := time.NewTicker(ou.config.GarbageCollectionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ou.stopGC:
			return
		case <-ticker.C:
			if err := kvs.Clean(); err != nil {
				ou.log.Warn("garbage collection failed", "error", err)
			}
		}
	}
}

// Run starts the store, blocks until ctx is canceled and then shuts down
// with a bounded timeout.
func (ou *OuroborosDB) Run(ctx context.Context) error { // A
	if err := ou.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return ou.Close(shutdownCtx)
}

// Close stops background work and closes the backend. Close is idempotent.
func (ou *OuroborosDB) Close(ctx context.Context) error { // A
	var closeErr error
	ou.closeOnce.Do(func() {
		if ou.stopGC != nil {
			close(ou.stopGC)
			select {
			case <-ou.gcDone:
			case <-ctx.Done():
				closeErr = errors.Join(closeErr, fmt.Errorf("ouroboros: wait for gc: %w", ctx.Err()))
			}
		}

		ou.mu.Lock()
		kv, pool := ou.kv, ou.pool
		ou.kv, ou.store, ou.pool = nil, nil, nil
		ou.mu.Unlock()

		if pool != nil {
			pool.Close()
		}
		if kv != nil {
			if err := kv.Close(); err != nil {
				closeErr = errors.Join(closeErr, fmt.Errorf("ouroboros: close backend: %w", err))
			}
		}
		ou.started.Store(false)
		ou.closed.Store(true)
		ou.log.Info("store closed")
	})
	return closeErr
}

// Store returns the blob store once started.
func (ou *OuroborosDB) Store() (blobstore.Store, error) {
	ou.mu.RLock()
	defer ou.mu.RUnlock()
	if ou.store == nil {
		return nil, ou.notReady()
	}
	return ou.store, nil
}

func (ou *OuroborosDB) notReady() error {
	if ou.closed.Load() {
		return ErrClosed
	}
	return ErrNotStarted
}

// Stats counts the entries held by the backend.
func (ou *OuroborosDB) Stats() (blobstore.Stats, error) {
	ou.mu.RLock()
	store := ou.store
	ou.mu.RUnlock()
	if store == nil {
		return blobstore.Stats{}, ou.notReady()
	}
	return store.Stats()
}

// Session opens a UserContext for user over the shared store and pool.
// Closing the session does not close the store.
func (ou *OuroborosDB) Session(user *identity.User) (*session.UserContext, error) { // A
	ou.mu.RLock()
	store, pool, codec := ou.store, ou.pool, ou.codec
	ou.mu.RUnlock()
	if store == nil {
		return nil, ou.notReady()
	}
	return session.NewUserContext(user, store, session.Options{
		Codec:           codec,
		Pool:            pool,
		Logger:          ou.log.With("user", user.Public().String()),
		CompressUploads: ou.config.CompressUploads,
	})
}
