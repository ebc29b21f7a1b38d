package symmetric

import (
	"fmt"

	cerrors "github.com/i5heu/ouroboros-cryptree/pkg/errors"
)

// Link is a capability edge: the target key encrypted under the source key.
// Links are immutable; re-keying builds a new Link.
type Link struct {
	Nonce      Nonce
	Ciphertext []byte
}

// LinkFromPair encrypts to under from. It is deterministic in its inputs.
func LinkFromPair(from, to Key, nonce Nonce) Link { // H
	return Link{
		Nonce:      nonce,
		Ciphertext: from.Encrypt(to.raw[:], nonce),
	}
}

// NewLink is LinkFromPair with a fresh nonce.
func NewLink(from, to Key) Link { // A
	return LinkFromPair(from, to, from.CreateNonce())
}

// Target recovers the target key. A wrong source key or a tampered link
// fails with errors.ErrAuthentication.
func (l Link) Target(from Key) (Key, error) { // H
	raw, err := from.Decrypt(l.Ciphertext, l.Nonce)
	if err != nil {
		return Key{}, fmt.Errorf("symmetric: link target: %w", err)
	}
	return KeyFromBytes(raw)
}

// Serialize returns nonce ‖ ciphertext.
func (l Link) Serialize() []byte { // A
	out := make([]byte, 0, NonceSize+len(l.Ciphertext))
	out = append(out, l.Nonce[:]...)
	return append(out, l.Ciphertext...)
}

// DeserializeLink is the inverse of Serialize.
func DeserializeLink(b []byte) (Link, error) { // A
	if len(b) < NonceSize+Overhead {
		return Link{}, fmt.Errorf(
			"symmetric: link of %d bytes is too short: %w",
			len(b),
			cerrors.ErrMalformedData,
		)
	}
	var l Link
	copy(l.Nonce[:], b[:NonceSize])
	l.Ciphertext = append([]byte(nil), b[NonceSize:]...)
	return l, nil
}

func (l Link) Equal(other Link) bool {
	return l.Nonce == other.Nonce && string(l.Ciphertext) == string(other.Ciphertext)
}
