// Package identity holds user key pairs: an ed25519 signing pair for writer
// authentication and a curve25519 box pair for sealing capabilities to a
// recipient.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	cerrors "github.com/i5heu/ouroboros-cryptree/pkg/errors"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/sign"
	"golang.org/x/crypto/scrypt"
)

const (
	// PublicKeySize is sign public key ‖ box public key.
	PublicKeySize = 32 + 32
	// SecretKeySize is sign secret key ‖ box secret key.
	SecretKeySize = 64 + 32
	SignatureSize = sign.Overhead
	nonceSize     = 24
)

// PublicKey identifies an owner or writer in a Location.
type PublicKey struct {
	Sign [32]byte
	Box  [32]byte
}

// PublicKeyFromBytes parses the 64-byte concatenated form.
func PublicKeyFromBytes(b []byte) (PublicKey, error) { // A
	var pk PublicKey
	if len(b) != PublicKeySize {
		return pk, fmt.Errorf(
			"identity: public key must be %d bytes, got %d: %w",
			PublicKeySize,
			len(b),
			cerrors.ErrMalformedData,
		)
	}
	copy(pk.Sign[:], b[:32])
	copy(pk.Box[:], b[32:])
	return pk, nil
}

// Bytes returns sign ‖ box.
func (pk PublicKey) Bytes() []byte {
	out := make([]byte, 0, PublicKeySize)
	out = append(out, pk.Sign[:]...)
	return append(out, pk.Box[:]...)
}

func (pk PublicKey) Equal(other PublicKey) bool {
	return pk.Sign == other.Sign && pk.Box == other.Box
}

func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// Hex is the full lowercase hex encoding of Bytes.
func (pk PublicKey) Hex() string {
	return hex.EncodeToString(pk.Bytes())
}

// String is a short fingerprint for logs.
func (pk PublicKey) String() string {
	sum := sha256.Sum256(pk.Bytes())
	return hex.EncodeToString(sum[:6])
}

// Verify checks a detached signature made by Sign.
func (pk PublicKey) Verify(message, signature []byte) bool { // H
	if len(signature) != SignatureSize {
		return false
	}
	signed := make([]byte, 0, len(signature)+len(message))
	signed = append(signed, signature...)
	signed = append(signed, message...)
	_, ok := sign.Open(nil, signed, &pk.Sign)
	return ok
}

// User is a key pair holder. Only a User can write.
type User struct {
	PublicKey
	signSecret [64]byte
	boxSecret  [32]byte
}

// Random generates a fresh user.
func Random() (*User, error) { // A
	signPub, signSec, err := sign.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate sign key: %w", err)
	}
	boxPub, boxSec, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate box key: %w", err)
	}
	return &User{
		PublicKey:  PublicKey{Sign: *signPub, Box: *boxPub},
		signSecret: *signSec,
		boxSecret:  *boxSec,
	}, nil
}

// FromSecretKeys rebuilds a user from the 96-byte form returned by
// SecretKeys.
func FromSecretKeys(b []byte) (*User, error) { // A
	if len(b) != SecretKeySize {
		return nil, fmt.Errorf(
			"identity: secret keys must be %d bytes, got %d: %w",
			SecretKeySize,
			len(b),
			cerrors.ErrMalformedData,
		)
	}
	u := &User{}
	copy(u.signSecret[:], b[:64])
	copy(u.boxSecret[:], b[64:])
	copy(u.PublicKey.Sign[:], u.signSecret[32:])

	boxPub, err := curve25519.X25519(u.boxSecret[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("identity: derive box public key: %w", err)
	}
	copy(u.PublicKey.Box[:], boxPub)
	return u, nil
}

// SecretKeys returns sign secret ‖ box secret.
func (u *User) SecretKeys() []byte {
	out := make([]byte, 0, SecretKeySize)
	out = append(out, u.signSecret[:]...)
	return append(out, u.boxSecret[:]...)
}

func (u *User) Public() PublicKey {
	return u.PublicKey
}

// Sign returns a detached signature over message.
func (u *User) Sign(message []byte) []byte { // H
	signed := sign.Sign(nil, message, &u.signSecret)
	return signed[:SignatureSize]
}

// SealFor encrypts message so that only target can open it, authenticated as
// coming from u. Output is box ‖ nonce.
func (u *User) SealFor(target PublicKey, message []byte) []byte { // A
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		panic(fmt.Sprintf("identity: crypto/rand failed: %v", err))
	}
	sealed := box.Seal(nil, message, &nonce, &target.Box, &u.boxSecret)
	return append(sealed, nonce[:]...)
}

// OpenFrom reverses SealFor for a message sealed by from.
func (u *User) OpenFrom(from PublicKey, sealed []byte) ([]byte, error) { // A
	if len(sealed) < nonceSize+box.Overhead {
		return nil, fmt.Errorf(
			"identity: sealed message too short: %w",
			cerrors.ErrMalformedData,
		)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[len(sealed)-nonceSize:])
	plain, ok := box.Open(nil, sealed[:len(sealed)-nonceSize], &nonce, &from.Box, &u.boxSecret)
	if !ok {
		return nil, cerrors.ErrAuthentication
	}
	return plain, nil
}

// PasswordParams are the scrypt cost parameters for FromPassword.
type PasswordParams struct {
	N int
	R int
	P int
}

// DefaultPasswordParams matches the parameters existing accounts were
// derived with.
var DefaultPasswordParams = PasswordParams{N: 1 << 17, R: 8, P: 1}

// FromPassword derives a user deterministically from username and password:
// scrypt(sha256(password), username) yields a sign seed and a box secret.
func FromPassword( // A
	username, password string,
	params PasswordParams,
) (*User, error) {
	pwHash := sha256.Sum256([]byte(password))
	keyBytes, err := scrypt.Key(pwHash[:], []byte(username), params.N, params.R, params.P, 64)
	if err != nil {
		return nil, fmt.Errorf("identity: scrypt: %w", err)
	}

	signSecret := ed25519.NewKeyFromSeed(keyBytes[:32])
	secret := make([]byte, 0, SecretKeySize)
	secret = append(secret, signSecret...)
	secret = append(secret, keyBytes[32:64]...)
	return FromSecretKeys(secret)
}

// Equal reports whether both users hold the same secret keys.
func (u *User) Equal(other *User) bool {
	if other == nil {
		return false
	}
	return subtle.ConstantTimeCompare(u.SecretKeys(), other.SecretKeys()) == 1
}
