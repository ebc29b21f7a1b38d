package blobstore

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
	cerrors "github.com/i5heu/ouroboros-cryptree/pkg/errors"
	"github.com/i5heu/ouroboros-cryptree/pkg/erasure"
	"github.com/i5heu/ouroboros-cryptree/pkg/identity"
)

// KV is the byte-level backend of KVStore. Get returns errors.ErrNotFound
// for absent keys. Implementations must be safe for concurrent use.
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Close() error
}

var (
	metadataPrefix = []byte("m/")
	fragmentPrefix = []byte("f/")
)

// KVStore implements Store on top of any KV.
type KVStore struct {
	kv     KV
	logger *slog.Logger
}

var _ Store = (*KVStore)(nil)

func NewKVStore(kv KV, logger *slog.Logger) *KVStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &KVStore{kv: kv, logger: logger}
}

func metadataKey(owner, writer identity.PublicKey, mapKey []byte) []byte {
	key := make([]byte, 0, len(metadataPrefix)+2*identity.PublicKeySize+len(mapKey))
	key = append(key, metadataPrefix...)
	key = append(key, owner.Bytes()...)
	key = append(key, writer.Bytes()...)
	return append(key, mapKey...)
}

func fragmentKey(hash []byte) []byte {
	key := make([]byte, 0, len(fragmentPrefix)+len(hash))
	key = append(key, fragmentPrefix...)
	return append(key, hash...)
}

func (s *KVStore) PutMetadata( // A
	ctx context.Context,
	owner, writer identity.PublicKey,
	mapKey, blob, signature []byte,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(mapKey) == 0 {
		return fmt.Errorf("blobstore: empty map key: %w", cerrors.ErrMalformedData)
	}
	if !writer.Verify(MetadataPayload(mapKey, blob), signature) {
		return fmt.Errorf("blobstore: put metadata %x: %w", mapKey, cerrors.ErrBadSignature)
	}
	if err := s.kv.Put(metadataKey(owner, writer, mapKey), blob); err != nil {
		return fmt.Errorf("blobstore: put metadata: %w", err)
	}
	s.logger.Debug("metadata stored",
		"writer", writer.String(),
		"mapKey", hex.EncodeToString(mapKey),
		"size", humanize.Bytes(uint64(len(blob))),
	)
	return nil
}

func (s *KVStore) GetMetadata( // A
	ctx context.Context,
	owner, writer identity.PublicKey,
	mapKey []byte,
) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	blob, err := s.kv.Get(metadataKey(owner, writer, mapKey))
	if err != nil {
		return nil, fmt.Errorf("blobstore: get metadata %x: %w", mapKey, err)
	}
	return blob, nil
}

func (s *KVStore) RemoveMetadata( // A
	ctx context.Context,
	owner, writer identity.PublicKey,
	mapKey, signature []byte,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !writer.Verify(mapKey, signature) {
		return fmt.Errorf("blobstore: remove metadata %x: %w", mapKey, cerrors.ErrBadSignature)
	}
	if err := s.kv.Delete(metadataKey(owner, writer, mapKey)); err != nil {
		return fmt.Errorf("blobstore: remove metadata: %w", err)
	}
	s.logger.Debug("metadata removed", "writer", writer.String(), "mapKey", hex.EncodeToString(mapKey))
	return nil
}

func (s *KVStore) PutFragment(ctx context.Context, hash, data []byte) error { // A
	if err := ctx.Err(); err != nil {
		return err
	}
	if !bytes.Equal(erasure.HashFragment(data), hash) {
		return fmt.Errorf("blobstore: fragment %x does not match its hash: %w", hash, cerrors.ErrMalformedData)
	}
	if err := s.kv.Put(fragmentKey(hash), data); err != nil {
		return fmt.Errorf("blobstore: put fragment: %w", err)
	}
	return nil
}

func (s *KVStore) GetFragment(ctx context.Context, hash []byte) ([]byte, error) { // A
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.kv.Get(fragmentKey(hash))
	if err != nil {
		return nil, fmt.Errorf("blobstore: get fragment %x: %w", hash, err)
	}
	return data, nil
}

// PrefixCounter is implemented by backends able to count keys by prefix.
type PrefixCounter interface {
	CountPrefix(prefix []byte) (int, error)
}

// Stats counts stored entries.
type Stats struct {
	Metadata  int
	Fragments int
}

// Stats counts metadata blobs and fragments. The backend must implement
// PrefixCounter.
func (s *KVStore) Stats() (Stats, error) {
	pc, ok := s.kv.(PrefixCounter)
	if !ok {
		return Stats{}, fmt.Errorf("blobstore: %T cannot count keys", s.kv)
	}
	var st Stats
	var err error
	if st.Metadata, err = pc.CountPrefix(metadataPrefix); err != nil {
		return Stats{}, fmt.Errorf("blobstore: count metadata: %w", err)
	}
	if st.Fragments, err = pc.CountPrefix(fragmentPrefix); err != nil {
		return Stats{}, fmt.Errorf("blobstore: count fragments: %w", err)
	}
	return st, nil
}

// Close closes the backend.
func (s *KVStore) Close() error {
	return s.kv.Close()
}

// MemoryKV is a map-backed KV.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, cerrors.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryKV) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemoryKV) CountPrefix(prefix []byte) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			n++
		}
	}
	return n, nil
}

// Len is the number of stored entries.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryKV) Close() error { return nil }

// NewMemory returns a Store kept entirely in memory.
func NewMemory() *KVStore {
	return NewKVStore(NewMemoryKV(), nil)
}
