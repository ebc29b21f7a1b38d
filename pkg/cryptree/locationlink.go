package cryptree

import (
	"fmt"

	"github.com/i5heu/ouroboros-cryptree/pkg/symmetric"
	"github.com/i5heu/ouroboros-cryptree/pkg/wire"
)

// LocationLink is an encrypted pointer to a child: one capability that
// yields both the child's key and its store Location.
//
// The key and the location are sealed under the same source key and nonce,
// so TargetLocation decrypts with the source key, not the recovered target.
type LocationLink struct {
	link symmetric.Link
	loc  []byte
}

// NewLocationLink links from to to and seals location under from.
func NewLocationLink(from, to symmetric.Key, location Location) LocationLink { // A
	nonce := from.CreateNonce()
	return LocationLink{
		link: symmetric.LinkFromPair(from, to, nonce),
		loc:  from.Encrypt(location.Serialize(), nonce),
	}
}

// Target recovers the child's key.
func (l LocationLink) Target(from symmetric.Key) (symmetric.Key, error) { // A
	k, err := l.link.Target(from)
	if err != nil {
		return symmetric.Key{}, fmt.Errorf("cryptree: location link target: %w", err)
	}
	return k, nil
}

// TargetLocation recovers the child's Location with the same source key
// used for Target.
func (l LocationLink) TargetLocation(from symmetric.Key) (Location, error) { // A
	plain, err := from.Decrypt(l.loc, l.link.Nonce)
	if err != nil {
		return Location{}, fmt.Errorf("cryptree: location link location: %w", err)
	}
	loc, err := DeserializeLocation(plain)
	if err != nil {
		return Location{}, fmt.Errorf("cryptree: location link location: %w", err)
	}
	return loc, nil
}

// Resolve returns both the child's key and its Location.
func (l LocationLink) Resolve(from symmetric.Key) (symmetric.Key, Location, error) { // A
	k, err := l.Target(from)
	if err != nil {
		return symmetric.Key{}, Location{}, err
	}
	loc, err := l.TargetLocation(from)
	if err != nil {
		return symmetric.Key{}, Location{}, err
	}
	return k, loc, nil
}

// Serialize writes writeArray(nonce ‖ keyCiphertext) ‖ writeArray(loc).
func (l LocationLink) Serialize() []byte {
	w := wire.NewWriter()
	w.WriteArray(l.link.Serialize())
	w.WriteArray(l.loc)
	return w.Bytes()
}

func DeserializeLocationLink(data []byte) (LocationLink, error) { // A
	r := wire.NewReader(data)

	rawLink, err := r.ReadArray()
	if err != nil {
		return LocationLink{}, fmt.Errorf("cryptree: location link: %w", err)
	}
	link, err := symmetric.DeserializeLink(rawLink)
	if err != nil {
		return LocationLink{}, fmt.Errorf("cryptree: location link: %w", err)
	}
	loc, err := r.ReadArray()
	if err != nil {
		return LocationLink{}, fmt.Errorf("cryptree: location link loc: %w", err)
	}
	if err := r.ExpectEnd(); err != nil {
		return LocationLink{}, fmt.Errorf("cryptree: location link: %w", err)
	}
	return LocationLink{link: link, loc: loc}, nil
}

func (l LocationLink) Equal(other LocationLink) bool {
	return l.link.Equal(other.link) && string(l.loc) == string(other.loc)
}
