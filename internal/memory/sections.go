package memory

import (
	"encoding/binary"
	"errors"
)

// ErrMalformedSections is returned when the trailing length of a section
// points outside the buffer.
var ErrMalformedSections = errors.New("malformed sections")

// EncodeSections concatenates each part followed by its length as a big
// endian u32.
func EncodeSections(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p) + 4
	}
	out := make([]byte, 0, size)
	for _, p := range parts {
		out = append(out, p...)
		out = binary.BigEndian.AppendUint32(out, uint32(len(p)))
	}
	return out
}

// DecodeSections is the inverse of EncodeSections. Sections are read from the
// end of the buffer.
func DecodeSections(data []byte) ([][]byte, error) {
	var parts [][]byte
	rest := data
	for len(rest) > 0 {
		if len(rest) < 4 {
			return nil, ErrMalformedSections
		}
		n := binary.BigEndian.Uint32(rest[len(rest)-4:])
		rest = rest[:len(rest)-4]
		if uint64(n) > uint64(len(rest)) {
			return nil, ErrMalformedSections
		}
		start := len(rest) - int(n)
		parts = append(parts, rest[start:])
		rest = rest[:start]
	}
	// reverse into encoding order
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return parts, nil
}
