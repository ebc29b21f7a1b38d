package cryptree

import (
	"fmt"
	"time"

	"github.com/i5heu/ouroboros-cryptree/pkg/wire"
)

const (
	// AttrHidden marks an entry that listings skip unless asked for all.
	AttrHidden byte = 1
	// AttrCompressed marks file content stored zstd compressed.
	AttrCompressed byte = 2
)

// FileProperties is the encrypted descriptive payload of a node.
type FileProperties struct {
	Name     string
	Size     int64
	Modified time.Time
	Attr     byte
}

// NewFileProperties stamps the current time at millisecond precision.
func NewFileProperties(name string, size int64) FileProperties { // A
	return FileProperties{
		Name:     name,
		Size:     size,
		Modified: time.UnixMilli(time.Now().UnixMilli()),
	}
}

func (p FileProperties) Hidden() bool {
	return p.Attr&AttrHidden != 0
}

func (p FileProperties) Compressed() bool {
	return p.Attr&AttrCompressed != 0
}

// Serialize writes name ‖ size ‖ modified (unix ms) ‖ attr.
func (p FileProperties) Serialize() []byte {
	w := wire.NewWriter()
	w.WriteString(p.Name)
	w.WriteInt64(p.Size)
	w.WriteInt64(p.Modified.UnixMilli())
	_ = w.WriteByte(p.Attr)
	return w.Bytes()
}

func DeserializeFileProperties(data []byte) (FileProperties, error) { // A
	r := wire.NewReader(data)
	var p FileProperties
	var err error

	if p.Name, err = r.ReadString(); err != nil {
		return p, fmt.Errorf("cryptree: properties name: %w", err)
	}
	if p.Size, err = r.ReadInt64(); err != nil {
		return p, fmt.Errorf("cryptree: properties size: %w", err)
	}
	modified, err := r.ReadInt64()
	if err != nil {
		return p, fmt.Errorf("cryptree: properties modified: %w", err)
	}
	p.Modified = time.UnixMilli(modified)
	if p.Attr, err = r.ReadByte(); err != nil {
		return p, fmt.Errorf("cryptree: properties attr: %w", err)
	}
	// Bytes past attr belong to fields newer writers append.
	return p, nil
}

// Equal compares at the wire's millisecond precision.
func (p FileProperties) Equal(other FileProperties) bool {
	return p.Name == other.Name &&
		p.Size == other.Size &&
		p.Modified.UnixMilli() == other.Modified.UnixMilli() &&
		p.Attr == other.Attr
}
