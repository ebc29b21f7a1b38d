package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/i5heu/ouroboros-cryptree/pkg/blobstore"
	"github.com/i5heu/ouroboros-cryptree/pkg/chunk"
	"github.com/i5heu/ouroboros-cryptree/pkg/cryptree"
	cerrors "github.com/i5heu/ouroboros-cryptree/pkg/errors"
	"github.com/i5heu/ouroboros-cryptree/pkg/erasure"
	"github.com/i5heu/ouroboros-cryptree/pkg/symmetric"
	workerpool "github.com/i5heu/ouroboros-cryptree/pkg/workerPool"
)

// Fetcher turns a retriever into plaintext.
type Fetcher struct {
	store  blobstore.Store
	codec  erasure.Codec
	pool   *workerpool.WorkerPool
	logger *slog.Logger
}

func NewFetcher(
	store blobstore.Store,
	codec erasure.Codec,
	pool *workerpool.WorkerPool,
	logger *slog.Logger,
) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{store: store, codec: codec, pool: pool, logger: logger}
}

func (f *Fetcher) Store() blobstore.Store { return f.store }

// DecryptChunk fetches the chunk's fragments, recombines them and decrypts
// with dataKey. It fails with errors.ErrFragmentMissing when fewer than k
// fragments are retrievable and errors.ErrAuthentication when the
// recombined chunk does not verify.
func (f *Fetcher) DecryptChunk( // A
	ctx context.Context,
	r *cryptree.EncryptedChunkRetriever,
	dataKey symmetric.Key,
) ([]byte, error) {
	k := f.codec.DataShards()
	total := k + f.codec.ParityShards()
	if len(r.FragmentHashes) != total {
		return nil, fmt.Errorf(
			"retrieval: retriever names %d fragments, codec expects %d: %w",
			len(r.FragmentHashes),
			total,
			cerrors.ErrMalformedData,
		)
	}

	found, err := GetFragments(ctx, f.pool, f.store, r.FragmentHashes, k)
	if err != nil && len(found) == 0 {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("retrieval: no fragment readable: %w: %w", cerrors.ErrFragmentMissing, err)
	}

	arrived := make([][]byte, 0, len(found))
	for _, data := range found {
		arrived = append(arrived, data)
	}
	ordered := erasure.Reorder(arrived, r.FragmentHashes)
	if present := erasure.Present(ordered); present < k {
		return nil, fmt.Errorf(
			"retrieval: %d of %d fragments available, need %d: %w",
			present,
			total,
			k,
			cerrors.ErrFragmentMissing,
		)
	}

	cipher, err := f.codec.Recombine(ordered, chunk.MaxSize)
	if err != nil {
		return nil, fmt.Errorf("retrieval: recombine: %w", err)
	}
	enc, err := chunk.FromParts(r.ChunkAuth, cipher)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}
	plain, err := enc.Decrypt(dataKey, r.ChunkNonce)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}

	f.logger.Debug("chunk decrypted",
		"fragments", erasure.Present(ordered),
		"size", humanize.Bytes(uint64(len(plain))),
	)
	return plain, nil
}

// NextRetriever loads the metadata at loc and returns the retriever it
// carries.
func (f *Fetcher) NextRetriever( // A
	ctx context.Context,
	loc cryptree.Location,
) (*cryptree.EncryptedChunkRetriever, error) {
	blob, err := f.store.GetMetadata(ctx, loc.Owner, loc.Writer, loc.MapKey)
	if err != nil {
		return nil, fmt.Errorf("retrieval: next chunk metadata: %w", err)
	}
	node, err := cryptree.DeserializeNode(blob)
	if err != nil {
		return nil, fmt.Errorf("retrieval: next chunk metadata: %w", err)
	}
	r := node.Access().Retriever
	if r == nil {
		return nil, fmt.Errorf("retrieval: next chunk has no retriever: %w", cerrors.ErrMalformedData)
	}
	return r, nil
}
