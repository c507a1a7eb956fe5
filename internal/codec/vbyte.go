// Package codec implements the variable-byte integer encoding used by the
// posting barrels. Values are written as base-128 groups, least significant
// group first, with the high bit set on the final byte of each value.
package codec

import (
	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
)

// MaxEncodedLen is the most bytes a single uint32 can occupy.
const MaxEncodedLen = 5

// terminator marks the last byte of an encoded value.
const terminator = 0x80

// Encode appends the variable-byte encoding of v to dst and returns the
// extended slice.
func Encode(dst []byte, v uint32) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v&0x7f))
		v >>= 7
	}
	return append(dst, byte(v)|terminator)
}

// EncodedLen returns the number of bytes Encode writes for v.
func EncodedLen(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// Decode reads one variable-byte value from buf starting at off. It returns
// the value and the number of bytes consumed. Truncated input and values
// wider than MaxEncodedLen bytes report corrupt data.
func Decode(buf []byte, off int) (uint32, int, error) {
	var v uint32
	for i := 0; i < MaxEncodedLen; i++ {
		pos := off + i
		if pos >= len(buf) {
			return 0, 0, apperrors.Newf(apperrors.ErrCorruptData,
				"truncated varint at offset %d", off)
		}
		b := buf[pos]
		v |= uint32(b&0x7f) << (7 * i)
		if b&terminator != 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, apperrors.Newf(apperrors.ErrCorruptData,
		"varint at offset %d exceeds %d bytes", off, MaxEncodedLen)
}

// DeltaEncode rewrites sorted ascending values in place as gaps from their
// predecessor. The first value is kept absolute.
func DeltaEncode(values []uint32) {
	for i := len(values) - 1; i > 0; i-- {
		values[i] -= values[i-1]
	}
}

// DeltaDecode reverses DeltaEncode, restoring absolute values in place.
func DeltaDecode(values []uint32) {
	for i := 1; i < len(values); i++ {
		values[i] += values[i-1]
	}
}
