// Package retrieval downloads, recombines and decrypts chunk chains.
package retrieval

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-cryptree/pkg/blobstore"
	cerrors "github.com/i5heu/ouroboros-cryptree/pkg/errors"
	"github.com/i5heu/ouroboros-cryptree/pkg/erasure"
	workerpool "github.com/i5heu/ouroboros-cryptree/pkg/workerPool"
)

type fragmentResult struct {
	hash []byte
	data []byte
	err  error
}

// GetFragments fetches fragments concurrently and returns those that
// arrived, keyed by string(hash). Fetching stops once the fragments received
// cover need positions of hashes; outstanding requests are cancelled.
// Missing fragments are not an error. A cancelled ctx is.
func GetFragments( // A
	ctx context.Context,
	pool *workerpool.WorkerPool,
	store blobstore.Store,
	hashes [][]byte,
	need int,
) (map[string][]byte, error) {
	positions := make(map[string]int, len(hashes))
	unique := make([][]byte, 0, len(hashes))
	for _, h := range hashes {
		if positions[string(h)] == 0 {
			unique = append(unique, h)
		}
		positions[string(h)]++
	}

	room := pool.CreateRoom(ctx, len(unique))
	defer room.Cancel()

	for _, h := range unique {
		h := h
		err := room.NewTaskWaitForFreeSlot(func(ctx context.Context) interface{} {
			data, err := store.GetFragment(ctx, h)
			return fragmentResult{hash: h, data: data, err: err}
		})
		if err != nil {
			return nil, fmt.Errorf("retrieval: queue fragment fetch: %w", err)
		}
	}

	found := make(map[string][]byte, len(unique))
	covered := 0
	var firstErr error
	for r := range room.Results() {
		res := r.(fragmentResult)
		if res.err != nil {
			if firstErr == nil && !errors.Is(res.err, cerrors.ErrNotFound) {
				firstErr = res.err
			}
			continue
		}
		if !bytes.Equal(erasure.HashFragment(res.data), res.hash) {
			continue
		}
		found[string(res.hash)] = res.data
		covered += positions[string(res.hash)]
		if covered >= need {
			room.Cancel()
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if covered < need && firstErr != nil {
		return found, fmt.Errorf("retrieval: fragment fetch: %w", firstErr)
	}
	return found, nil
}
