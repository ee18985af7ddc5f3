// Package binio provides a bounds-checked little-endian cursor over byte
// buffers, used by the GLM and GLA codecs.
package binio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Faultbox/g2tools/pkg/encoding"
)

// Cursor errors.
var (
	ErrTruncatedData   = errors.New("truncated data")
	ErrMalformedString = errors.New("malformed string: no terminator within bound")
	ErrStringTooLong   = errors.New("string too long")
	ErrOutOfRange      = errors.New("offset out of range")
	ErrNotFixedSize    = errors.New("value has no fixed binary size")
)

// Cursor is a read/write position over a contiguous byte buffer.
// Reads never grow the buffer. Writes overwrite bytes under the position
// and append past the end, so a Cursor created with NewWriter tracks the
// final output length.
type Cursor struct {
	buf []byte
	pos int
}

// NewReader returns a cursor positioned at the start of data.
func NewReader(data []byte) *Cursor {
	return &Cursor{buf: data}
}

// NewWriter returns an empty cursor with room for sizeHint bytes.
func NewWriter(sizeHint int) *Cursor {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Cursor{buf: make([]byte, 0, sizeHint)}
}

// Pos returns the current absolute position.
func (c *Cursor) Pos() int { return c.pos }

// Len returns the buffer length.
func (c *Cursor) Len() int { return len(c.buf) }

// Remaining returns the number of bytes between the position and the end.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

// Bytes returns the underlying buffer.
func (c *Cursor) Bytes() []byte { return c.buf }

// Seek moves to an absolute offset. Seeking to Len() is allowed.
func (c *Cursor) Seek(offset int) error {
	if offset < 0 || offset > len(c.buf) {
		return fmt.Errorf("%w: seek to %d, length %d", ErrOutOfRange, offset, len(c.buf))
	}
	c.pos = offset
	return nil
}

// Skip advances the position by n bytes.
func (c *Cursor) Skip(n int) error {
	if n < 0 || n > c.Remaining() {
		return fmt.Errorf("%w: skip %d at %d, length %d", ErrTruncatedData, n, c.pos, len(c.buf))
	}
	c.pos += n
	return nil
}

// ReadBytes returns the next n bytes. The slice aliases the buffer.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, fmt.Errorf("%w: need %d bytes at %d, have %d", ErrTruncatedData, n, c.pos, c.Remaining())
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// ReadFixed decodes one fixed-size value of type T.
func ReadFixed[T any](c *Cursor) (T, error) {
	var v T
	n := binary.Size(v)
	if n < 0 {
		return v, ErrNotFixedSize
	}
	b, err := c.ReadBytes(n)
	if err != nil {
		return v, err
	}
	if _, err := binary.Decode(b, binary.LittleEndian, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrTruncatedData, err)
	}
	return v, nil
}

// WriteFixed encodes one fixed-size value of type T at the position.
func WriteFixed[T any](c *Cursor, v T) error {
	n := binary.Size(v)
	if n < 0 {
		return ErrNotFixedSize
	}
	dst := c.reserve(n)
	if _, err := binary.Encode(dst, binary.LittleEndian, v); err != nil {
		return err
	}
	return nil
}

// ReadUint8 reads a byte.
func (c *Cursor) ReadUint8() (uint8, error) {
	b, err := c.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint16 reads a little-endian uint16.
func (c *Cursor) ReadUint16() (uint16, error) {
	b, err := c.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadUint32 reads a little-endian uint32.
func (c *Cursor) ReadUint32() (uint32, error) {
	b, err := c.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadInt32 reads a little-endian int32.
func (c *Cursor) ReadInt32() (int32, error) {
	v, err := c.ReadUint32()
	return int32(v), err
}

// ReadFloat32 reads a little-endian IEEE 754 float.
func (c *Cursor) ReadFloat32() (float32, error) {
	return ReadFixed[float32](c)
}

// ReadUint24 reads a 3-byte little-endian unsigned integer.
func (c *Cursor) ReadUint24() (uint32, error) {
	b, err := c.ReadBytes(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, nil
}

// ReadString reads a null-terminated string of at most maxLen bytes
// including the terminator. The position ends after the terminator.
func (c *Cursor) ReadString(maxLen int) (string, error) {
	limit := maxLen
	if limit > c.Remaining() {
		limit = c.Remaining()
	}
	for i := 0; i < limit; i++ {
		if c.buf[c.pos+i] == 0 {
			s := encoding.DecodeName(c.buf[c.pos : c.pos+i])
			c.pos += i + 1
			return s, nil
		}
	}
	if limit < maxLen {
		return "", fmt.Errorf("%w: string at %d runs past end", ErrTruncatedData, c.pos)
	}
	return "", fmt.Errorf("%w: at %d, bound %d", ErrMalformedString, c.pos, maxLen)
}

// ReadFixedString reads a fixed-width null-padded field of size bytes.
// The terminator must fall inside the field.
func (c *Cursor) ReadFixedString(size int) (string, error) {
	start := c.pos
	b, err := c.ReadBytes(size)
	if err != nil {
		return "", err
	}
	for i, ch := range b {
		if ch == 0 {
			return encoding.DecodeName(b[:i]), nil
		}
	}
	return "", fmt.Errorf("%w: field at %d, size %d", ErrMalformedString, start, size)
}

// WriteBytes writes raw bytes at the position.
func (c *Cursor) WriteBytes(p []byte) {
	copy(c.reserve(len(p)), p)
}

// WriteUint8 writes a byte.
func (c *Cursor) WriteUint8(v uint8) {
	c.reserve(1)[0] = v
}

// WriteUint16 writes a little-endian uint16.
func (c *Cursor) WriteUint16(v uint16) {
	binary.LittleEndian.PutUint16(c.reserve(2), v)
}

// WriteUint32 writes a little-endian uint32.
func (c *Cursor) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(c.reserve(4), v)
}

// WriteInt32 writes a little-endian int32.
func (c *Cursor) WriteInt32(v int32) {
	c.WriteUint32(uint32(v))
}

// WriteFloat32 writes a little-endian IEEE 754 float.
func (c *Cursor) WriteFloat32(v float32) {
	binary.LittleEndian.PutUint32(c.reserve(4), math.Float32bits(v))
}

// WriteUint24 writes the low 24 bits of v.
func (c *Cursor) WriteUint24(v uint32) error {
	if v > 0xFFFFFF {
		return fmt.Errorf("%w: %d does not fit in 24 bits", ErrOutOfRange, v)
	}
	b := c.reserve(3)
	b[0], b[1], b[2] = byte(v), byte(v>>8), byte(v>>16)
	return nil
}

// WriteString writes s followed by a terminator. The encoded string plus
// terminator must fit in maxLen bytes.
func (c *Cursor) WriteString(s string, maxLen int) error {
	enc, err := encoding.EncodeName(s)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrStringTooLong, s, err)
	}
	if len(enc)+1 > maxLen {
		return fmt.Errorf("%w: %q is %d bytes, max %d", ErrStringTooLong, s, len(enc), maxLen-1)
	}
	c.WriteBytes(enc)
	c.WriteUint8(0)
	return nil
}

// WriteFixedString writes s into a null-padded field of size bytes.
func (c *Cursor) WriteFixedString(s string, size int) error {
	enc, err := encoding.EncodeName(s)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrStringTooLong, s, err)
	}
	if len(enc) >= size {
		return fmt.Errorf("%w: %q is %d bytes, field holds %d", ErrStringTooLong, s, len(enc), size-1)
	}
	field := c.reserve(size)
	n := copy(field, enc)
	clear(field[n:])
	return nil
}

// PatchInt32At overwrites an int32 at an absolute offset without moving
// the position. Used to back-fill offset tables.
func (c *Cursor) PatchInt32At(offset int, v int32) error {
	if offset < 0 || offset+4 > len(c.buf) {
		return fmt.Errorf("%w: patch at %d, length %d", ErrOutOfRange, offset, len(c.buf))
	}
	binary.LittleEndian.PutUint32(c.buf[offset:], uint32(v))
	return nil
}

// Align writes zero bytes until the position is a multiple of n.
func (c *Cursor) Align(n int) {
	if n <= 1 {
		return
	}
	if pad := c.pos % n; pad != 0 {
		clear(c.reserve(n - pad))
	}
}

// reserve returns the n bytes under the position, growing the buffer as
// needed, and advances past them.
func (c *Cursor) reserve(n int) []byte {
	end := c.pos + n
	if end > len(c.buf) {
		if end > cap(c.buf) {
			grown := make([]byte, len(c.buf), max(end, 2*cap(c.buf)))
			copy(grown, c.buf)
			c.buf = grown
		}
		c.buf = c.buf[:end]
	}
	b := c.buf[c.pos:end]
	c.pos = end
	return b
}
