// Package chunk encrypts fixed-size pieces of file content and turns them
// into erasure-coded fragments.
package chunk

import (
	"fmt"

	cerrors "github.com/i5heu/ouroboros-cryptree/pkg/errors"
	"github.com/i5heu/ouroboros-cryptree/pkg/erasure"
	"github.com/i5heu/ouroboros-cryptree/pkg/symmetric"
)

const (
	FragmentSize           = 128 * 1024
	ErasureOriginal        = 40
	ErasureAllowedFailures = 10
	// MaxSize is the largest plaintext a single chunk carries.
	MaxSize = FragmentSize * ErasureOriginal
)

const mapKeySize = 32

// Chunk is plaintext bound to the key, nonce and map key it is stored under.
type Chunk struct {
	Data   []byte
	Key    symmetric.Key
	Nonce  symmetric.Nonce
	MapKey []byte
}

// New draws a fresh nonce and map key for data.
func New(data []byte, key symmetric.Key) (*Chunk, error) { // A
	if len(data) > MaxSize {
		return nil, fmt.Errorf("chunk: %d bytes exceed max chunk size %d", len(data), MaxSize)
	}
	return &Chunk{
		Data:   data,
		Key:    key,
		Nonce:  key.CreateNonce(),
		MapKey: symmetric.RandomBytes(mapKeySize),
	}, nil
}

func (c *Chunk) Encrypt() *EncryptedChunk {
	enc, _ := NewEncryptedChunk(c.Key.Encrypt(c.Data, c.Nonce))
	return enc
}

// EncryptedChunk is a sealed chunk split into its authenticator and the
// remaining ciphertext. Only Cipher is erasure coded; Auth travels in the
// retriever.
type EncryptedChunk struct {
	auth   []byte
	cipher []byte
}

func NewEncryptedChunk(sealed []byte) (*EncryptedChunk, error) { // A
	if len(sealed) < symmetric.Overhead {
		return nil, fmt.Errorf("chunk: sealed chunk too short: %w", cerrors.ErrMalformedData)
	}
	return &EncryptedChunk{
		auth:   sealed[:symmetric.Overhead],
		cipher: sealed[symmetric.Overhead:],
	}, nil
}

// FromParts rejoins a stored authenticator with recombined ciphertext.
func FromParts(auth, cipher []byte) (*EncryptedChunk, error) { // A
	if len(auth) != symmetric.Overhead {
		return nil, fmt.Errorf("chunk: auth of %d bytes: %w", len(auth), cerrors.ErrMalformedData)
	}
	return &EncryptedChunk{auth: auth, cipher: cipher}, nil
}

func (e *EncryptedChunk) Auth() []byte   { return e.auth }
func (e *EncryptedChunk) Cipher() []byte { return e.cipher }

// Decrypt fails with errors.ErrAuthentication on a wrong key or nonce, or
// on any corrupted byte.
func (e *EncryptedChunk) Decrypt(key symmetric.Key, nonce symmetric.Nonce) ([]byte, error) { // A
	sealed := make([]byte, 0, len(e.auth)+len(e.cipher))
	sealed = append(sealed, e.auth...)
	sealed = append(sealed, e.cipher...)
	plain, err := key.Decrypt(sealed, nonce)
	if err != nil {
		return nil, fmt.Errorf("chunk: decrypt: %w", err)
	}
	return plain, nil
}

// Fragment is one erasure-coded piece, addressed by the SHA-256 of Data.
type Fragment struct {
	Hash []byte
	Data []byte
}

// GenerateFragments erasure codes the ciphertext.
func (e *EncryptedChunk) GenerateFragments(codec erasure.Codec) ([]Fragment, error) { // A
	shards, err := codec.Split(e.cipher)
	if err != nil {
		return nil, fmt.Errorf("chunk: generate fragments: %w", err)
	}
	out := make([]Fragment, len(shards))
	for i, s := range shards {
		out[i] = Fragment{Hash: erasure.HashFragment(s), Data: s}
	}
	return out, nil
}

// Hashes returns the fragment addresses in order.
func Hashes(fragments []Fragment) [][]byte {
	out := make([][]byte, len(fragments))
	for i, f := range fragments {
		out[i] = f.Hash
	}
	return out
}

// DefaultCodec is Reed-Solomon with ErasureOriginal data and
// ErasureAllowedFailures parity fragments.
func DefaultCodec() (*erasure.ReedSolomon, error) {
	return erasure.NewReedSolomon(ErasureOriginal, ErasureAllowedFailures)
}
