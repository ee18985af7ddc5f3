// Package formats provides codecs for the Ghoul2 skeletal model (GLM) and
// skeletal animation (GLA) file formats.
//
// Decoders are pure functions over a byte slice and encoders build the
// complete output in memory, so callers decide how bytes are read and
// persisted.
package formats

import (
	"errors"
	"fmt"

	"github.com/Faultbox/g2tools/pkg/binio"
	"github.com/Faultbox/g2tools/pkg/encoding"
)

// Version is the only on-disk version the codecs read and write.
const Version = 6

// NameSize is the width of every fixed-size name field.
const NameSize = 64

// Codec errors.
var (
	ErrBadMagic              = errors.New("bad magic")
	ErrUnsupportedVersion    = errors.New("unsupported version")
	ErrInvalidBoneGraph      = errors.New("invalid bone graph")
	ErrInvalidSurfaceGraph   = errors.New("invalid surface graph")
	ErrInvalidTriangle       = errors.New("invalid triangle")
	ErrInvalidBoneRefTable   = errors.New("invalid bone reference table")
	ErrInvalidWeights        = errors.New("invalid vertex weights")
	ErrTooManyBoneReferences = errors.New("too many bone references in surface")
	ErrInconsistentFrames    = errors.New("bones have different frame counts")
	ErrDefaultSkeleton       = errors.New("default skeleton has no file representation")
	ErrInputTooLarge         = errors.New("input too large")
	ErrLimitExceeded         = errors.New("count exceeds limit")

	// Cursor errors surface unchanged from binio.
	ErrTruncatedData   = binio.ErrTruncatedData
	ErrMalformedString = binio.ErrMalformedString
	ErrStringTooLong   = binio.ErrStringTooLong
	ErrOutOfRange      = binio.ErrOutOfRange
)

// Limits bounds the memory a decoder may commit to for hostile input.
type Limits struct {
	MaxInputSize int // bytes; 0 disables the check
	MaxBones     int
	MaxFrames    int
	MaxSurfaces  int
	MaxLODs      int
	MaxVertices  int // per surface
}

// DefaultLimits returns limits that comfortably fit stock game assets.
func DefaultLimits() Limits {
	return Limits{
		MaxInputSize: 64 << 20,
		MaxBones:     1024,
		MaxFrames:    65536,
		MaxSurfaces:  256,
		MaxLODs:      16,
		MaxVertices:  1 << 20,
	}
}

func (l Limits) checkInput(n int) error {
	if l.MaxInputSize > 0 && n > l.MaxInputSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrInputTooLarge, n, l.MaxInputSize)
	}
	return nil
}

// checkCount validates a count read from a file.
func checkCount(what string, n int32, limit int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative %s count %d", ErrOutOfRange, what, n)
	}
	if limit > 0 && int(n) > limit {
		return fmt.Errorf("%w: %s count %d, limit %d", ErrLimitExceeded, what, n, limit)
	}
	return nil
}

// nameField decodes a fixed-size name whose terminator must fall inside the field.
func nameField(b [NameSize]byte) (string, error) {
	for i, ch := range b {
		if ch == 0 {
			return encoding.DecodeName(b[:i]), nil
		}
	}
	return "", fmt.Errorf("%w: %d-byte name field", ErrMalformedString, NameSize)
}

// putName encodes s into a fixed-size name field.
func putName(s string) ([NameSize]byte, error) {
	var b [NameSize]byte
	enc, err := encoding.EncodeName(s)
	if err != nil {
		return b, fmt.Errorf("%w: %q: %v", ErrStringTooLong, s, err)
	}
	if len(enc) >= NameSize {
		return b, fmt.Errorf("%w: %q is %d bytes, field holds %d", ErrStringTooLong, s, len(enc), NameSize-1)
	}
	copy(b[:], enc)
	return b, nil
}

// seekOffset moves the cursor to base+rel, checking for overflow.
func seekOffset(c *binio.Cursor, base int, rel int32) error {
	return c.Seek(base + int(rel))
}
