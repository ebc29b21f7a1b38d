package chunker

import (
	"errors"
	"io"

	boxochunker "github.com/ipfs/boxo/chunker"
)

// Chunker splits a stream of data into chunks.
type Chunker interface {
	// Next returns the next chunk of data.
	// It returns io.EOF when there are no more chunks.
	Next() ([]byte, error)
}

// NewFixedChunker splits r into chunks of exactly size bytes, the last one
// possibly shorter.
func NewFixedChunker(r io.Reader, size int) Chunker {
	return &boxoChunkerWrapper{
		splitter: boxochunker.NewSizeSplitter(r, int64(size)),
	}
}

type boxoChunkerWrapper struct {
	splitter boxochunker.Splitter
}

func (c *boxoChunkerWrapper) Next() ([]byte, error) {
	return c.splitter.NextBytes()
}

// Lookahead wraps a Chunker so callers know whether a chunk is the last
// one before they process it.
type Lookahead struct {
	src     Chunker
	pending []byte
	err     error
	primed  bool
}

func NewLookahead(src Chunker) *Lookahead {
	return &Lookahead{src: src}
}

// Next returns the next chunk and whether more chunks follow. An input that
// yields no chunks at all produces a single empty chunk.
func (l *Lookahead) Next() (data []byte, more bool, err error) {
	if !l.primed {
		l.primed = true
		l.pending, l.err = l.src.Next()
		if errors.Is(l.err, io.EOF) {
			l.pending, l.err = []byte{}, io.EOF
			return l.pending, false, nil
		}
	}
	if l.err != nil {
		return nil, false, l.err
	}

	data = l.pending
	l.pending, l.err = l.src.Next()
	if l.err != nil && !errors.Is(l.err, io.EOF) {
		return nil, false, l.err
	}
	return data, l.err == nil, nil
}
