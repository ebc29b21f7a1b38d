package retrieval

import (
	"context"

	cerrors "github.com/i5heu/ouroboros-cryptree/pkg/errors"
	"github.com/i5heu/ouroboros-cryptree/pkg/cryptree"
	"github.com/i5heu/ouroboros-cryptree/pkg/symmetric"
)

// Combiner streams a chunk chain, holding one decrypted chunk at a time.
// It is not restartable.
type Combiner struct {
	ctx     context.Context
	fetcher *Fetcher
	dataKey symmetric.Key
	next    *cryptree.EncryptedChunkRetriever
	started bool
	buf     []byte
	pos     int
}

// NewCombiner starts at first. ctx bounds the fetches made by Read and
// ReadByte.
func NewCombiner(
	ctx context.Context,
	fetcher *Fetcher,
	first *cryptree.EncryptedChunkRetriever,
	dataKey symmetric.Key,
) *Combiner {
	return &Combiner{ctx: ctx, fetcher: fetcher, dataKey: dataKey, next: first}
}

// Next returns the unread rest of the current chunk or, if that is empty,
// the next decrypted chunk. It returns errors.ErrEndOfStream after the last
// one.
func (c *Combiner) Next(ctx context.Context) ([]byte, error) { // A
	if c.pos < len(c.buf) {
		out := c.buf[c.pos:]
		c.buf, c.pos = nil, 0
		return out, nil
	}
	c.buf, c.pos = nil, 0

	r, err := c.advance(ctx)
	if err != nil {
		return nil, err
	}
	return c.fetcher.DecryptChunk(ctx, r, c.dataKey)
}

func (c *Combiner) advance(ctx context.Context) (*cryptree.EncryptedChunkRetriever, error) { // A
	if !c.started {
		c.started = true
		if c.next == nil {
			return nil, cerrors.ErrEndOfStream
		}
		return c.next, nil
	}
	if c.next == nil || !c.next.HasNext() {
		c.next = nil
		return nil, cerrors.ErrEndOfStream
	}
	r, err := c.fetcher.NextRetriever(ctx, *c.next.NextChunk)
	if err != nil {
		return nil, err
	}
	c.next = r
	return r, nil
}

func (c *Combiner) fill() error {
	for c.pos >= len(c.buf) {
		chunk, err := c.Next(c.ctx)
		if err != nil {
			return err
		}
		c.buf, c.pos = chunk, 0
	}
	return nil
}

func (c *Combiner) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := c.fill(); err != nil {
		return 0, err
	}
	n := copy(p, c.buf[c.pos:])
	c.pos += n
	return n, nil
}

func (c *Combiner) ReadByte() (byte, error) {
	if err := c.fill(); err != nil {
		return 0, err
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}
