// Package encoding provides text encoding utilities for Ghoul2 fixed-size name fields.
package encoding

import (
	"bytes"
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// ErrUnencodable is returned when a name contains runes outside Windows-1252.
var ErrUnencodable = errors.New("name is not representable in Windows-1252")

// DecodeName converts Windows-1252 bytes to a UTF-8 string.
// Returns the bytes as-is if conversion fails.
func DecodeName(data []byte) string {
	if isASCII(data) {
		return string(data)
	}
	result, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), data)
	if err != nil {
		return string(data)
	}
	return string(result)
}

// EncodeName converts a UTF-8 string to Windows-1252 bytes.
func EncodeName(s string) ([]byte, error) {
	if isASCII([]byte(s)) {
		return []byte(s), nil
	}
	if !utf8.ValidString(s) {
		return nil, ErrUnencodable
	}
	result, _, err := transform.Bytes(charmap.Windows1252.NewEncoder(), []byte(s))
	if err != nil {
		return nil, ErrUnencodable
	}
	return result, nil
}

// FixedStringToUTF8 converts a fixed-size Windows-1252 field to UTF-8,
// stopping at the first null byte.
func FixedStringToUTF8(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return DecodeName(data)
}

// NormalizePath normalizes a game path for case-insensitive comparison.
// Ghoul2 paths use forward or back slashes interchangeably.
func NormalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	return strings.ToLower(path)
}

func isASCII(data []byte) bool {
	for _, b := range data {
		if b >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
