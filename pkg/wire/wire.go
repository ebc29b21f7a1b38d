// Package wire implements the length-prefixed binary layout shared by every
// serialized cryptree object: variable-length fields are written as an
// unsigned 32-bit big-endian length followed by the bytes.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	cerrors "github.com/i5heu/ouroboros-cryptree/pkg/errors"
)

// Writer accumulates a serialized object.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) WriteByte(b byte) error { // A
	return w.buf.WriteByte(b)
}

func (w *Writer) WriteUint32(v uint32) { // A
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	w.buf.Write(tmp[:])
}

func (w *Writer) WriteInt64(v int64) { // A
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	w.buf.Write(tmp[:])
}

// WriteArray writes len(b) as u32 followed by b.
func (w *Writer) WriteArray(b []byte) { // A
	//nolint:gosec // G115: fields larger than 4 GiB are rejected by callers
	w.WriteUint32(uint32(len(b)))
	w.buf.Write(b)
}

func (w *Writer) WriteString(s string) { // A
	w.WriteArray([]byte(s))
}

// Write appends raw bytes without a length prefix.
func (w *Writer) Write(b []byte) (int, error) { // A
	return w.buf.Write(b)
}

func (w *Writer) Len() int {
	return w.buf.Len()
}

// Bytes returns a copy of the accumulated bytes.
func (w *Writer) Bytes() []byte { // A
	out := make([]byte, w.buf.Len())
	copy(out, w.buf.Bytes())
	return out
}

// Reader consumes a serialized object. All read errors wrap
// errors.ErrMalformedData.
type Reader struct {
	data   []byte
	offset int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) Remaining() int {
	return len(r.data) - r.offset
}

func (r *Reader) need(n int, what string) error { // A
	if n < 0 || r.Remaining() < n {
		return fmt.Errorf(
			"wire: %s needs %d bytes, %d left: %w",
			what,
			n,
			r.Remaining(),
			cerrors.ErrMalformedData,
		)
	}
	return nil
}

func (r *Reader) ReadByte() (byte, error) { // A
	if err := r.need(1, "byte"); err != nil {
		return 0, err
	}
	b := r.data[r.offset]
	r.offset++
	return b, nil
}

func (r *Reader) ReadUint32() (uint32, error) { // A
	if err := r.need(4, "uint32"); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.offset : r.offset+4])
	r.offset += 4
	return v, nil
}

func (r *Reader) ReadInt64() (int64, error) { // A
	if err := r.need(8, "int64"); err != nil {
		return 0, err
	}
	raw := binary.BigEndian.Uint64(r.data[r.offset : r.offset+8])
	r.offset += 8
	return int64(raw), nil //nolint:gosec // G115: two's complement round trip
}

// ReadArray reads a u32 length and that many bytes. The returned slice is a
// copy.
func (r *Reader) ReadArray() ([]byte, error) { // A
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if uint64(n) > math.MaxInt32 {
		return nil, fmt.Errorf("wire: array length %d: %w", n, cerrors.ErrMalformedData)
	}
	if err := r.need(int(n), "array"); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.data[r.offset:r.offset+int(n)])
	r.offset += int(n)
	return out, nil
}

func (r *Reader) ReadString() (string, error) { // A
	b, err := r.ReadArray()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadRaw copies exactly n bytes that carry no length prefix.
func (r *Reader) ReadRaw(n int) ([]byte, error) { // A
	if err := r.need(n, "raw"); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.data[r.offset:r.offset+n])
	r.offset += n
	return out, nil
}

// ExpectEnd fails when unread bytes remain.
func (r *Reader) ExpectEnd() error { // A
	if r.Remaining() != 0 {
		return fmt.Errorf(
			"wire: %d trailing bytes: %w",
			r.Remaining(),
			cerrors.ErrMalformedData,
		)
	}
	return nil
}
