// Package erasure splits encrypted chunks into k+m content-addressed
// fragments such that any k of them recover the chunk.
package erasure

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	cerrors "github.com/i5heu/ouroboros-cryptree/pkg/errors"
	rs "github.com/klauspost/reedsolomon"
)

// HashSize is the length of a fragment address.
const HashSize = sha256.Size

const lengthHeaderSize = 8

// Codec is the erasure contract used by chunk upload and retrieval.
//
// Split returns DataShards()+ParityShards() fragments. Recombine takes them
// positionally, nil marking a missing fragment, and needs any DataShards()
// of them. truncateTo bounds the recovered length.
type Codec interface {
	DataShards() int
	ParityShards() int
	Split(data []byte) ([][]byte, error)
	Recombine(fragments [][]byte, truncateTo int) ([]byte, error)
}

// ReedSolomon is a systematic Reed-Solomon Codec. Data is framed with an
// 8-byte big-endian length so that padding never leaks into the result.
type ReedSolomon struct {
	k   int
	m   int
	enc rs.Encoder
}

var _ Codec = (*ReedSolomon)(nil)

// NewReedSolomon builds a codec with k data and m parity shards.
func NewReedSolomon(k, m int) (*ReedSolomon, error) { // A
	if k <= 0 {
		return nil, fmt.Errorf("erasure: k (data shards) must be > 0")
	}
	if m < 0 {
		return nil, fmt.Errorf("erasure: m (parity shards) must be >= 0")
	}
	enc, err := rs.New(k, m)
	if err != nil {
		return nil, fmt.Errorf("erasure: new encoder: %w", err)
	}
	return &ReedSolomon{k: k, m: m, enc: enc}, nil
}

func (c *ReedSolomon) DataShards() int   { return c.k }
func (c *ReedSolomon) ParityShards() int { return c.m }

// Total is the number of fragments Split produces.
func (c *ReedSolomon) Total() int { return c.k + c.m }

// Split frames data and encodes it into k+m equally sized fragments.
func (c *ReedSolomon) Split(data []byte) ([][]byte, error) { // PA
	framed := make([]byte, lengthHeaderSize+len(data))
	binary.BigEndian.PutUint64(framed, uint64(len(data)))
	copy(framed[lengthHeaderSize:], data)

	shards, err := c.enc.Split(framed)
	if err != nil {
		return nil, fmt.Errorf("erasure: split: %w", err)
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("erasure: encode shards: %w", err)
	}

	out := make([][]byte, len(shards))
	for i, s := range shards {
		out[i] = append([]byte(nil), s...)
	}
	return out, nil
}

// Recombine reconstructs the data from any k present fragments.
func (c *ReedSolomon) Recombine(fragments [][]byte, truncateTo int) ([]byte, error) { // PA
	n := c.Total()
	if len(fragments) != n {
		return nil, fmt.Errorf(
			"erasure: got %d fragment slots, want %d: %w",
			len(fragments),
			n,
			cerrors.ErrMalformedData,
		)
	}

	shards := make([][]byte, n)
	present := 0
	for i, f := range fragments {
		if f == nil {
			continue
		}
		shards[i] = append([]byte(nil), f...)
		present++
	}
	if present < c.k {
		return nil, fmt.Errorf(
			"erasure: %d of %d fragments present, need %d: %w",
			present,
			n,
			c.k,
			cerrors.ErrFragmentMissing,
		)
	}

	if err := c.enc.ReconstructData(shards); err != nil {
		if errors.Is(err, rs.ErrTooFewShards) {
			return nil, fmt.Errorf("erasure: reconstruct: %w", cerrors.ErrFragmentMissing)
		}
		return nil, fmt.Errorf("erasure: reconstruct: %v: %w", err, cerrors.ErrMalformedData)
	}

	var joined bytes.Buffer
	for _, s := range shards[:c.k] {
		joined.Write(s)
	}
	framed := joined.Bytes()
	if len(framed) < lengthHeaderSize {
		return nil, fmt.Errorf("erasure: missing length header: %w", cerrors.ErrMalformedData)
	}

	size := binary.BigEndian.Uint64(framed)
	if size > uint64(len(framed)-lengthHeaderSize) || size > uint64(truncateTo) {
		return nil, fmt.Errorf(
			"erasure: encoded length %d exceeds bound: %w",
			size,
			cerrors.ErrMalformedData,
		)
	}
	return framed[lengthHeaderSize : lengthHeaderSize+int(size)], nil
}

// HashFragment returns the content address of a fragment.
func HashFragment(fragment []byte) []byte { // A
	sum := sha256.Sum256(fragment)
	return sum[:]
}

// Reorder places fragments at the positions whose expected hash they match.
// A fragment matching several positions fills all of them. Fragments that
// match no position are dropped; unfilled positions stay nil.
func Reorder(fragments [][]byte, expectedHashes [][]byte) [][]byte { // A
	positions := make(map[string][]int, len(expectedHashes))
	for i, h := range expectedHashes {
		positions[string(h)] = append(positions[string(h)], i)
	}

	out := make([][]byte, len(expectedHashes))
	for _, f := range fragments {
		if f == nil {
			continue
		}
		for _, i := range positions[string(HashFragment(f))] {
			out[i] = f
		}
	}
	return out
}

// Present counts the non-nil fragments.
func Present(fragments [][]byte) int {
	n := 0
	for _, f := range fragments {
		if f != nil {
			n++
		}
	}
	return n
}
