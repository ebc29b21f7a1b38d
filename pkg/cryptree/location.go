package cryptree

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/i5heu/ouroboros-cryptree/pkg/identity"
	"github.com/i5heu/ouroboros-cryptree/pkg/symmetric"
	"github.com/i5heu/ouroboros-cryptree/pkg/wire"
)

// MapKeySize is the length of freshly generated map keys.
const MapKeySize = 32

// Location is the store address of a metadata blob.
type Location struct {
	Owner  identity.PublicKey
	Writer identity.PublicKey
	MapKey []byte
}

// NewLocation addresses a fresh random map key under owner and writer.
func NewLocation(owner, writer identity.PublicKey) Location { // A
	return Location{
		Owner:  owner,
		Writer: writer,
		MapKey: symmetric.RandomBytes(MapKeySize),
	}
}

// Serialize writes owner, writer and map key as three length-prefixed arrays.
func (l Location) Serialize() []byte {
	w := wire.NewWriter()
	l.writeTo(w)
	return w.Bytes()
}

func (l Location) writeTo(w *wire.Writer) {
	w.WriteArray(l.Owner.Bytes())
	w.WriteArray(l.Writer.Bytes())
	w.WriteArray(l.MapKey)
}

// DeserializeLocation is the inverse of Serialize. Trailing bytes are
// rejected.
func DeserializeLocation(data []byte) (Location, error) { // A
	r := wire.NewReader(data)
	loc, err := readLocation(r)
	if err != nil {
		return Location{}, err
	}
	if err := r.ExpectEnd(); err != nil {
		return Location{}, fmt.Errorf("cryptree: location: %w", err)
	}
	return loc, nil
}

func readLocation(r *wire.Reader) (Location, error) { // A
	var loc Location

	owner, err := r.ReadArray()
	if err != nil {
		return loc, fmt.Errorf("cryptree: location owner: %w", err)
	}
	if loc.Owner, err = identity.PublicKeyFromBytes(owner); err != nil {
		return loc, fmt.Errorf("cryptree: location owner: %w", err)
	}

	writer, err := r.ReadArray()
	if err != nil {
		return loc, fmt.Errorf("cryptree: location writer: %w", err)
	}
	if loc.Writer, err = identity.PublicKeyFromBytes(writer); err != nil {
		return loc, fmt.Errorf("cryptree: location writer: %w", err)
	}

	// Empty map keys decode as written; lookups on them miss.
	if loc.MapKey, err = r.ReadArray(); err != nil {
		return loc, fmt.Errorf("cryptree: location map key: %w", err)
	}
	return loc, nil
}

func (l Location) Equal(other Location) bool {
	return l.Owner.Equal(other.Owner) &&
		l.Writer.Equal(other.Writer) &&
		bytes.Equal(l.MapKey, other.MapKey)
}

// String is owner/writer/mapKey in short form for logs.
func (l Location) String() string {
	return l.Owner.String() + "/" + l.Writer.String() + "/" + hex.EncodeToString(l.MapKey)
}
