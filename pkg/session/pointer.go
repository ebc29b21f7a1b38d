// Package session is the writer-facing layer over the cryptree: capability
// pointers, sealed entry points and the UserContext that uploads, lists and
// mutates a tree.
package session

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/i5heu/ouroboros-cryptree/pkg/cryptree"
	cerrors "github.com/i5heu/ouroboros-cryptree/pkg/errors"
	"github.com/i5heu/ouroboros-cryptree/pkg/identity"
	"github.com/i5heu/ouroboros-cryptree/pkg/symmetric"
	"github.com/i5heu/ouroboros-cryptree/pkg/wire"
)

const linkPrefix = "/public/"

// FilePointer is a capability for one node: where it lives and the base
// key that opens it. A pointer carrying the writer's secret keys is
// writable.
type FilePointer struct {
	Owner   identity.PublicKey
	Writer  identity.PublicKey
	MapKey  []byte
	BaseKey symmetric.Key
	signer  *identity.User
}

// NewWritablePointer binds a node location to the writer able to sign for
// it.
func NewWritablePointer(loc cryptree.Location, baseKey symmetric.Key, writer *identity.User) (FilePointer, error) {
	if !writer.Public().Equal(loc.Writer) {
		return FilePointer{}, fmt.Errorf("session: writer keys do not match location: %w", cerrors.ErrNotWritable)
	}
	return FilePointer{
		Owner:   loc.Owner,
		Writer:  loc.Writer,
		MapKey:  loc.MapKey,
		BaseKey: baseKey,
		signer:  writer,
	}, nil
}

// NewReadablePointer is a pointer without write capability.
func NewReadablePointer(loc cryptree.Location, baseKey symmetric.Key) FilePointer {
	return FilePointer{
		Owner:   loc.Owner,
		Writer:  loc.Writer,
		MapKey:  loc.MapKey,
		BaseKey: baseKey,
	}
}

func (p FilePointer) Location() cryptree.Location {
	return cryptree.Location{Owner: p.Owner, Writer: p.Writer, MapKey: p.MapKey}
}

func (p FilePointer) IsWritable() bool {
	return p.signer != nil
}

// ReadOnly drops the write capability.
func (p FilePointer) ReadOnly() FilePointer {
	p.signer = nil
	return p
}

// child derives the pointer for an entry below p. Entries written by the
// same writer inherit the write capability.
func (p FilePointer) child(loc cryptree.Location, key symmetric.Key) FilePointer {
	c := NewReadablePointer(loc, key)
	if p.signer != nil && p.signer.Public().Equal(loc.Writer) {
		c.signer = p.signer
	}
	return c
}

// Serialize writes owner ‖ writable flag ‖ writer (secret keys when
// writable, public key otherwise) ‖ mapKey ‖ baseKey.
func (p FilePointer) Serialize() []byte {
	w := wire.NewWriter()
	w.WriteArray(p.Owner.Bytes())
	if p.signer != nil {
		_ = w.WriteByte(1)
		w.WriteArray(p.signer.SecretKeys())
	} else {
		_ = w.WriteByte(0)
		w.WriteArray(p.Writer.Bytes())
	}
	w.WriteArray(p.MapKey)
	w.WriteArray(p.BaseKey.Raw())
	return w.Bytes()
}

func DeserializeFilePointer(data []byte) (FilePointer, error) {
	r := wire.NewReader(data)
	var p FilePointer

	owner, err := r.ReadArray()
	if err != nil {
		return p, fmt.Errorf("session: pointer owner: %w", err)
	}
	if p.Owner, err = identity.PublicKeyFromBytes(owner); err != nil {
		return p, fmt.Errorf("session: pointer owner: %w", err)
	}

	writable, err := r.ReadByte()
	if err != nil {
		return p, fmt.Errorf("session: pointer flag: %w", err)
	}
	writer, err := r.ReadArray()
	if err != nil {
		return p, fmt.Errorf("session: pointer writer: %w", err)
	}
	switch writable {
	case 0:
		if p.Writer, err = identity.PublicKeyFromBytes(writer); err != nil {
			return p, fmt.Errorf("session: pointer writer: %w", err)
		}
	case 1:
		if p.signer, err = identity.FromSecretKeys(writer); err != nil {
			return p, fmt.Errorf("session: pointer writer: %w", err)
		}
		p.Writer = p.signer.Public()
	default:
		return p, fmt.Errorf("session: pointer flag %d: %w", writable, cerrors.ErrMalformedData)
	}

	if p.MapKey, err = r.ReadArray(); err != nil {
		return p, fmt.Errorf("session: pointer map key: %w", err)
	}
	rawKey, err := r.ReadArray()
	if err != nil {
		return p, fmt.Errorf("session: pointer base key: %w", err)
	}
	if p.BaseKey, err = symmetric.KeyFromBytes(rawKey); err != nil {
		return p, fmt.Errorf("session: pointer base key: %w", err)
	}
	if err := r.ExpectEnd(); err != nil {
		return p, fmt.Errorf("session: pointer: %w", err)
	}
	return p, nil
}

// Link renders a read-only share link:
// /public/<owner>/<writer>/<mapKey>/<baseKey>, each part hex encoded.
func (p FilePointer) Link() string {
	return linkPrefix + strings.Join([]string{
		p.Owner.Hex(),
		p.Writer.Hex(),
		hex.EncodeToString(p.MapKey),
		hex.EncodeToString(p.BaseKey.Raw()),
	}, "/")
}

// ParseLink parses a Link into a read-only pointer.
func ParseLink(link string) (FilePointer, error) {
	i := strings.Index(link, linkPrefix)
	if i < 0 {
		return FilePointer{}, fmt.Errorf("session: link lacks %q: %w", linkPrefix, cerrors.ErrMalformedData)
	}
	parts := strings.Split(strings.TrimSuffix(link[i+len(linkPrefix):], "/"), "/")
	if len(parts) != 4 {
		return FilePointer{}, fmt.Errorf("session: link has %d parts: %w", len(parts), cerrors.ErrMalformedData)
	}

	raw := make([][]byte, len(parts))
	for j, part := range parts {
		b, err := hex.DecodeString(part)
		if err != nil {
			return FilePointer{}, fmt.Errorf("session: link part %d: %v: %w", j, err, cerrors.ErrMalformedData)
		}
		raw[j] = b
	}

	owner, err := identity.PublicKeyFromBytes(raw[0])
	if err != nil {
		return FilePointer{}, fmt.Errorf("session: link owner: %w", err)
	}
	writer, err := identity.PublicKeyFromBytes(raw[1])
	if err != nil {
		return FilePointer{}, fmt.Errorf("session: link writer: %w", err)
	}
	key, err := symmetric.KeyFromBytes(raw[3])
	if err != nil {
		return FilePointer{}, fmt.Errorf("session: link key: %w", err)
	}
	if len(raw[2]) == 0 {
		return FilePointer{}, fmt.Errorf("session: link map key empty: %w", cerrors.ErrMalformedData)
	}
	return FilePointer{Owner: owner, Writer: writer, MapKey: raw[2], BaseKey: key}, nil
}
