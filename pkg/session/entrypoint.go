package session

import (
	"fmt"

	cerrors "github.com/i5heu/ouroboros-cryptree/pkg/errors"
	"github.com/i5heu/ouroboros-cryptree/pkg/identity"
	"github.com/i5heu/ouroboros-cryptree/pkg/wire"
)

// EntryPoint hands a root pointer to another user, sealed to their box key.
type EntryPoint struct {
	Pointer   FilePointer
	OwnerName string
	Readers   []string
	Writers   []string
}

func (e EntryPoint) Serialize() []byte {
	w := wire.NewWriter()
	w.WriteArray(e.Pointer.Serialize())
	w.WriteString(e.OwnerName)
	writeStrings(w, e.Readers)
	writeStrings(w, e.Writers)
	return w.Bytes()
}

func writeStrings(w *wire.Writer, ss []string) {
	w.WriteUint32(uint32(len(ss)))
	for _, s := range ss {
		w.WriteString(s)
	}
}

func DeserializeEntryPoint(data []byte) (EntryPoint, error) {
	r := wire.NewReader(data)
	var e EntryPoint

	raw, err := r.ReadArray()
	if err != nil {
		return e, fmt.Errorf("session: entry point pointer: %w", err)
	}
	if e.Pointer, err = DeserializeFilePointer(raw); err != nil {
		return e, err
	}
	if e.OwnerName, err = r.ReadString(); err != nil {
		return e, fmt.Errorf("session: entry point owner: %w", err)
	}
	if e.Readers, err = readStrings(r); err != nil {
		return e, fmt.Errorf("session: entry point readers: %w", err)
	}
	if e.Writers, err = readStrings(r); err != nil {
		return e, fmt.Errorf("session: entry point writers: %w", err)
	}
	if err := r.ExpectEnd(); err != nil {
		return e, fmt.Errorf("session: entry point: %w", err)
	}
	return e, nil
}

func readStrings(r *wire.Reader) ([]string, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if int64(n)*4 > int64(r.Remaining()) {
		return nil, fmt.Errorf("%d strings exceed remaining input: %w", n, cerrors.ErrMalformedData)
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// SealFor encrypts the entry point from sender to recipient.
func (e EntryPoint) SealFor(sender *identity.User, recipient identity.PublicKey) []byte {
	return sender.SealFor(recipient, e.Serialize())
}

// OpenEntryPoint reverses SealFor.
func OpenEntryPoint(recipient *identity.User, sender identity.PublicKey, sealed []byte) (EntryPoint, error) {
	plain, err := recipient.OpenFrom(sender, sealed)
	if err != nil {
		return EntryPoint{}, fmt.Errorf("session: open entry point: %w", err)
	}
	return DeserializeEntryPoint(plain)
}
