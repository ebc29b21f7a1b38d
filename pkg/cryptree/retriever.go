package cryptree

import (
	"bytes"
	"fmt"

	cerrors "github.com/i5heu/ouroboros-cryptree/pkg/errors"
	"github.com/i5heu/ouroboros-cryptree/pkg/erasure"
	"github.com/i5heu/ouroboros-cryptree/pkg/symmetric"
	"github.com/i5heu/ouroboros-cryptree/pkg/wire"
)

const (
	retrieverSimple    byte = 0
	retrieverEncrypted byte = 1
)

// EncryptedChunkRetriever describes one encrypted chunk: its nonce, the
// detached authenticator and the ordered fragment hashes. NextChunk points
// at the metadata of the following chunk, nil on the last one.
type EncryptedChunkRetriever struct {
	ChunkNonce     symmetric.Nonce
	ChunkAuth      []byte
	FragmentHashes [][]byte
	NextChunk      *Location
}

// HasNext reports whether the chain continues.
func (r *EncryptedChunkRetriever) HasNext() bool {
	return r.NextChunk != nil
}

func (r *EncryptedChunkRetriever) writeTo(w *wire.Writer) {
	_ = w.WriteByte(retrieverEncrypted)
	w.WriteArray(r.ChunkNonce[:])
	w.WriteArray(r.ChunkAuth)

	concat := make([]byte, 0, len(r.FragmentHashes)*erasure.HashSize)
	for _, h := range r.FragmentHashes {
		concat = append(concat, h...)
	}
	w.WriteArray(concat)

	if r.NextChunk == nil {
		_ = w.WriteByte(0)
		return
	}
	_ = w.WriteByte(1)
	r.NextChunk.writeTo(w)
}

// Serialize writes the retriever in the form embedded in node metadata.
func (r *EncryptedChunkRetriever) Serialize() []byte {
	w := wire.NewWriter()
	r.writeTo(w)
	return w.Bytes()
}

func DeserializeRetriever(data []byte) (*EncryptedChunkRetriever, error) { // A
	rd := wire.NewReader(data)
	ret, err := readRetriever(rd)
	if err != nil {
		return nil, err
	}
	if err := rd.ExpectEnd(); err != nil {
		return nil, fmt.Errorf("cryptree: retriever: %w", err)
	}
	return ret, nil
}

func readRetriever(r *wire.Reader) (*EncryptedChunkRetriever, error) { // A
	kind, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("cryptree: retriever type: %w", err)
	}
	if kind == retrieverSimple {
		return nil, fmt.Errorf("cryptree: plaintext retrievers are not readable: %w", cerrors.ErrMalformedData)
	}
	if kind != retrieverEncrypted {
		return nil, fmt.Errorf(
			"cryptree: unsupported retriever type %d: %w",
			kind,
			cerrors.ErrMalformedData,
		)
	}

	ret := &EncryptedChunkRetriever{}

	rawNonce, err := r.ReadArray()
	if err != nil {
		return nil, fmt.Errorf("cryptree: retriever nonce: %w", err)
	}
	if ret.ChunkNonce, err = symmetric.NonceFromBytes(rawNonce); err != nil {
		return nil, fmt.Errorf("cryptree: retriever nonce: %w", err)
	}

	if ret.ChunkAuth, err = r.ReadArray(); err != nil {
		return nil, fmt.Errorf("cryptree: retriever auth: %w", err)
	}
	if len(ret.ChunkAuth) != symmetric.Overhead {
		return nil, fmt.Errorf(
			"cryptree: retriever auth of %d bytes: %w",
			len(ret.ChunkAuth),
			cerrors.ErrMalformedData,
		)
	}

	concat, err := r.ReadArray()
	if err != nil {
		return nil, fmt.Errorf("cryptree: retriever hashes: %w", err)
	}
	if len(concat)%erasure.HashSize != 0 {
		return nil, fmt.Errorf(
			"cryptree: retriever hashes of %d bytes: %w",
			len(concat),
			cerrors.ErrMalformedData,
		)
	}
	ret.FragmentHashes = make([][]byte, 0, len(concat)/erasure.HashSize)
	for i := 0; i < len(concat); i += erasure.HashSize {
		ret.FragmentHashes = append(ret.FragmentHashes, concat[i:i+erasure.HashSize])
	}

	hasNext, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("cryptree: retriever next flag: %w", err)
	}
	switch hasNext {
	case 0:
	case 1:
		next, err := readLocation(r)
		if err != nil {
			return nil, fmt.Errorf("cryptree: retriever next: %w", err)
		}
		ret.NextChunk = &next
	default:
		return nil, fmt.Errorf("cryptree: retriever next flag %d: %w", hasNext, cerrors.ErrMalformedData)
	}
	return ret, nil
}

func (r *EncryptedChunkRetriever) Equal(other *EncryptedChunkRetriever) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.ChunkNonce != other.ChunkNonce || !bytes.Equal(r.ChunkAuth, other.ChunkAuth) {
		return false
	}
	if len(r.FragmentHashes) != len(other.FragmentHashes) {
		return false
	}
	for i := range r.FragmentHashes {
		if !bytes.Equal(r.FragmentHashes[i], other.FragmentHashes[i]) {
			return false
		}
	}
	if (r.NextChunk == nil) != (other.NextChunk == nil) {
		return false
	}
	return r.NextChunk == nil || r.NextChunk.Equal(*other.NextChunk)
}
