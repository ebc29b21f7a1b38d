// Package symmetric wraps NaCl secretbox as the authenticated symmetric
// primitive of the cryptree and builds key-encrypting links on top of it.
package symmetric

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	cerrors "github.com/i5heu/ouroboros-cryptree/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	KeySize   = 32
	NonceSize = 24
	// Overhead is the secretbox authenticator prepended to every ciphertext.
	Overhead = secretbox.Overhead
)

// Nonce is a per-encryption random value. A (key, nonce) pair must never
// protect two different chunks.
type Nonce [NonceSize]byte

// NonceFromBytes copies a serialized nonce.
func NonceFromBytes(b []byte) (Nonce, error) { // A
	var n Nonce
	if len(b) != NonceSize {
		return n, fmt.Errorf(
			"symmetric: nonce must be %d bytes, got %d: %w",
			NonceSize,
			len(b),
			cerrors.ErrMalformedData,
		)
	}
	copy(n[:], b)
	return n, nil
}

// Key is a 32-byte secretbox key.
type Key struct {
	raw [KeySize]byte
}

// Random draws a fresh key from crypto/rand.
func Random() Key { // A
	var k Key
	mustRead(k.raw[:])
	return k
}

// KeyFromBytes wraps raw key bytes.
func KeyFromBytes(b []byte) (Key, error) { // A
	var k Key
	if len(b) != KeySize {
		return k, fmt.Errorf(
			"symmetric: key must be %d bytes, got %d: %w",
			KeySize,
			len(b),
			cerrors.ErrMalformedData,
		)
	}
	copy(k.raw[:], b)
	return k, nil
}

// Raw returns a copy of the key bytes.
func (k Key) Raw() []byte {
	out := make([]byte, KeySize)
	copy(out, k.raw[:])
	return out
}

func (k Key) Equal(other Key) bool {
	return subtle.ConstantTimeCompare(k.raw[:], other.raw[:]) == 1
}

// IsZero reports whether k is the zero value rather than a generated key.
func (k Key) IsZero() bool {
	return k.raw == [KeySize]byte{}
}

// CreateNonce draws a fresh random nonce for use with this key.
func (k Key) CreateNonce() Nonce { // A
	return RandomNonce()
}

// Encrypt seals plaintext. The output is Overhead bytes of authenticator
// followed by the ciphertext.
func (k Key) Encrypt(plaintext []byte, nonce Nonce) []byte { // H
	n := [NonceSize]byte(nonce)
	return secretbox.Seal(nil, plaintext, &n, &k.raw)
}

// Decrypt opens a sealed message. Any failure is reported as
// errors.ErrAuthentication.
func (k Key) Decrypt(ciphertext []byte, nonce Nonce) ([]byte, error) { // H
	n := [NonceSize]byte(nonce)
	plain, ok := secretbox.Open(nil, ciphertext, &n, &k.raw)
	if !ok {
		return nil, cerrors.ErrAuthentication
	}
	if plain == nil {
		plain = []byte{}
	}
	return plain, nil
}

func RandomNonce() Nonce { // A
	var n Nonce
	mustRead(n[:])
	return n
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) []byte { // A
	b := make([]byte, n)
	mustRead(b)
	return b
}

func mustRead(b []byte) {
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("symmetric: crypto/rand failed: %v", err))
	}
}
