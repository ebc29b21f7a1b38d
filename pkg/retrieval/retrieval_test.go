package retrieval

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/i5heu/ouroboros-cryptree/internal/testutil"
	"github.com/i5heu/ouroboros-cryptree/pkg/blobstore"
	"github.com/i5heu/ouroboros-cryptree/pkg/chunk"
	"github.com/i5heu/ouroboros-cryptree/pkg/cryptree"
	cerrors "github.com/i5heu/ouroboros-cryptree/pkg/errors"
	"github.com/i5heu/ouroboros-cryptree/pkg/erasure"
	"github.com/i5heu/ouroboros-cryptree/pkg/identity"
	"github.com/i5heu/ouroboros-cryptree/pkg/symmetric"
	workerpool "github.com/i5heu/ouroboros-cryptree/pkg/workerPool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// faultyStore drops, stalls or corrupts selected fragments and counts
// fetches.
type faultyStore struct {
	blobstore.Store
	mu      sync.Mutex
	missing map[string]bool
	corrupt map[string]bool
	slow    map[string]bool
	fail    error
	fetches atomic.Int32
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		Store:   blobstore.NewMemory(),
		missing: make(map[string]bool),
		corrupt: make(map[string]bool),
		slow:    make(map[string]bool),
	}
}

func (s *faultyStore) GetFragment(ctx context.Context, hash []byte) ([]byte, error) {
	s.fetches.Add(1)
	s.mu.Lock()
	missing, corrupt, slow := s.missing[string(hash)], s.corrupt[string(hash)], s.slow[string(hash)]
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	if missing {
		return nil, cerrors.ErrNotFound
	}
	if slow {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(30 * time.Second):
		}
	}
	data, err := s.Store.GetFragment(ctx, hash)
	if err != nil {
		return nil, err
	}
	if corrupt {
		data[0] ^= 0xff
	}
	return data, nil
}

func (s *faultyStore) drop(hashes ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range hashes {
		s.missing[string(h)] = true
	}
}

type fixture struct {
	store   *faultyStore
	codec   *erasure.ReedSolomon
	pool    *workerpool.WorkerPool
	fetcher *Fetcher
	user    *identity.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec, err := chunk.DefaultCodec()
	require.NoError(t, err)
	user, err := identity.Random()
	require.NoError(t, err)
	pool := workerpool.NewWorkerPool(workerpool.Config{WorkerCount: 8})
	t.Cleanup(pool.Close)

	store := newFaultyStore()
	return &fixture{
		store:   store,
		codec:   codec,
		pool:    pool,
		fetcher: NewFetcher(store, codec, pool, nil),
		user:    user,
	}
}

// upload stores a chunk chain back to front and returns the first
// retriever.
func (f *fixture) upload(t *testing.T, key symmetric.Key, chunks [][]byte) *cryptree.EncryptedChunkRetriever {
	t.Helper()
	ctx := context.Background()

	var next *cryptree.Location
	var first *cryptree.EncryptedChunkRetriever
	for i := len(chunks) - 1; i >= 0; i-- {
		c, err := chunk.New(chunks[i], key)
		require.NoError(t, err)
		enc := c.Encrypt()
		frags, err := enc.GenerateFragments(f.codec)
		require.NoError(t, err)
		for _, fr := range frags {
			require.NoError(t, f.store.PutFragment(ctx, fr.Hash, fr.Data))
		}

		r := &cryptree.EncryptedChunkRetriever{
			ChunkNonce:     c.Nonce,
			ChunkAuth:      enc.Auth(),
			FragmentHashes: chunk.Hashes(frags),
			NextChunk:      next,
		}
		if i == 0 {
			first = r
			break
		}

		loc := cryptree.Location{Owner: f.user.Public(), Writer: f.user.Public(), MapKey: c.MapKey}
		blob := cryptree.FileNode(cryptree.NewFileAccess(key, cryptree.NewFileProperties("", 0), r)).Serialize()
		require.NoError(t, f.store.PutMetadata(ctx, loc.Owner, loc.Writer, loc.MapKey, blob,
			blobstore.SignMetadata(f.user, loc.MapKey, blob)))
		next = &loc
	}
	return first
}

func TestDecryptChunk(t *testing.T) {
	f := newFixture(t)
	key := symmetric.Random()
	data := testutil.RandomBytes(t, 300_000)
	r := f.upload(t, key, [][]byte{data})

	got, err := f.fetcher.DecryptChunk(context.Background(), r, key)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestDecryptChunkToleratesMissingFragments(t *testing.T) {
	f := newFixture(t)
	key := symmetric.Random()
	data := testutil.RandomBytes(t, 100_000)
	r := f.upload(t, key, [][]byte{data})

	f.store.drop(r.FragmentHashes[:chunk.ErasureAllowedFailures]...)
	got, err := f.fetcher.DecryptChunk(context.Background(), r, key)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestDecryptChunkTooManyMissing(t *testing.T) {
	f := newFixture(t)
	key := symmetric.Random()
	r := f.upload(t, key, [][]byte{testutil.RandomBytes(t, 100_000)})

	f.store.drop(r.FragmentHashes[:chunk.ErasureAllowedFailures+1]...)
	_, err := f.fetcher.DecryptChunk(context.Background(), r, key)
	assert.ErrorIs(t, err, cerrors.ErrFragmentMissing)
}

func TestDecryptChunkAllFetchesFail(t *testing.T) {
	f := newFixture(t)
	key := symmetric.Random()
	r := f.upload(t, key, [][]byte{testutil.RandomBytes(t, 100_000)})

	f.store.mu.Lock()
	f.store.fail = io.ErrUnexpectedEOF
	f.store.mu.Unlock()

	_, err := f.fetcher.DecryptChunk(context.Background(), r, key)
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrFragmentMissing)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecryptChunkIgnoresCorruptFragments(t *testing.T) {
	f := newFixture(t)
	key := symmetric.Random()
	data := testutil.RandomBytes(t, 100_000)
	r := f.upload(t, key, [][]byte{data})

	f.store.mu.Lock()
	for _, h := range r.FragmentHashes[:5] {
		f.store.corrupt[string(h)] = true
	}
	f.store.mu.Unlock()

	got, err := f.fetcher.DecryptChunk(context.Background(), r, key)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestDecryptChunkWrongKeyOrAuth(t *testing.T) {
	f := newFixture(t)
	key := symmetric.Random()
	r := f.upload(t, key, [][]byte{[]byte("secret")})

	_, err := f.fetcher.DecryptChunk(context.Background(), r, symmetric.Random())
	assert.ErrorIs(t, err, cerrors.ErrAuthentication)

	tampered := *r
	tampered.ChunkAuth = append([]byte(nil), r.ChunkAuth...)
	tampered.ChunkAuth[0] ^= 1
	_, err = f.fetcher.DecryptChunk(context.Background(), &tampered, key)
	assert.ErrorIs(t, err, cerrors.ErrAuthentication)
}

func TestDecryptChunkRejectsWrongFragmentCount(t *testing.T) {
	f := newFixture(t)
	key := symmetric.Random()
	r := f.upload(t, key, [][]byte{[]byte("x")})

	short := *r
	short.FragmentHashes = r.FragmentHashes[:10]
	_, err := f.fetcher.DecryptChunk(context.Background(), &short, key)
	assert.ErrorIs(t, err, cerrors.ErrMalformedData)
}

func TestGetFragmentsStopsEarly(t *testing.T) {
	f := newFixture(t)
	key := symmetric.Random()
	data := testutil.RandomBytes(t, 100_000)
	r := f.upload(t, key, [][]byte{data})

	f.store.mu.Lock()
	for _, h := range r.FragmentHashes[chunk.ErasureOriginal:] {
		f.store.slow[string(h)] = true
	}
	f.store.mu.Unlock()

	pool := workerpool.NewWorkerPool(workerpool.Config{WorkerCount: len(r.FragmentHashes)})
	defer pool.Close()

	start := time.Now()
	found, err := GetFragments(context.Background(), pool, f.store, r.FragmentHashes, chunk.ErasureOriginal)
	require.NoError(t, err)
	assert.Len(t, found, chunk.ErasureOriginal)
	assert.Less(t, time.Since(start), 10*time.Second)

	fetcher := NewFetcher(f.store, f.codec, pool, nil)
	got, err := fetcher.DecryptChunk(context.Background(), r, key)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestGetFragmentsPartial(t *testing.T) {
	f := newFixture(t)
	r := f.upload(t, symmetric.Random(), [][]byte{testutil.RandomBytes(t, 1000)})
	f.store.drop(r.FragmentHashes[:45]...)

	found, err := GetFragments(context.Background(), f.pool, f.store, r.FragmentHashes, chunk.ErasureOriginal)
	require.NoError(t, err)
	assert.Len(t, found, 5)
}

func TestGetFragmentsCancelled(t *testing.T) {
	f := newFixture(t)
	r := f.upload(t, symmetric.Random(), [][]byte{[]byte("x")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := GetFragments(ctx, f.pool, f.store, r.FragmentHashes, chunk.ErasureOriginal)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCombinerTwoChunkChain(t *testing.T) {
	f := newFixture(t)
	key := symmetric.Random()
	first := testutil.RandomBytes(t, chunk.MaxSize)
	second := []byte{0x42}
	r := f.upload(t, key, [][]byte{first, second})
	require.True(t, r.HasNext())

	got, err := io.ReadAll(NewCombiner(context.Background(), f.fetcher, r, key))
	require.NoError(t, err)
	require.Len(t, got, chunk.MaxSize+1)
	assert.True(t, bytes.Equal(append(first, second...), got))
}

func TestCombinerNextYieldsChunks(t *testing.T) {
	f := newFixture(t)
	key := symmetric.Random()
	chunks := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	r := f.upload(t, key, chunks)

	ctx := context.Background()
	c := NewCombiner(ctx, f.fetcher, r, key)
	for _, want := range chunks {
		got, err := c.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := c.Next(ctx)
	assert.ErrorIs(t, err, cerrors.ErrEndOfStream)
	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCombinerReadByte(t *testing.T) {
	f := newFixture(t)
	key := symmetric.Random()
	r := f.upload(t, key, [][]byte{[]byte("ab"), {}, []byte("c")})

	c := NewCombiner(context.Background(), f.fetcher, r, key)
	var got []byte
	for {
		b, err := c.ReadByte()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, b)
	}
	assert.Equal(t, []byte("abc"), got)
}

func TestCombinerEmptyFile(t *testing.T) {
	f := newFixture(t)
	key := symmetric.Random()
	r := f.upload(t, key, [][]byte{{}})

	got, err := io.ReadAll(NewCombiner(context.Background(), f.fetcher, r, key))
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = NewCombiner(context.Background(), f.fetcher, nil, key).ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestCombinerMissingNextMetadata(t *testing.T) {
	f := newFixture(t)
	key := symmetric.Random()
	r := f.upload(t, key, [][]byte{[]byte("a"), []byte("b")})

	next := r.NextChunk
	require.NoError(t, f.store.RemoveMetadata(context.Background(), next.Owner, next.Writer, next.MapKey,
		blobstore.SignRemoval(f.user, next.MapKey)))

	c := NewCombiner(context.Background(), f.fetcher, r, key)
	b, err := c.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('a'), b)
	_, err = c.ReadByte()
	assert.ErrorIs(t, err, cerrors.ErrNotFound)
}
