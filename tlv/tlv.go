// Package tlv implements the generic Type-Length-Value codec kernel shared
// by every QMI service payload. It is deliberately ignorant of any
// particular service's tag semantics: callers decide which tags matter and
// skip the rest.
package tlv

import (
	"encoding/binary"
	"fmt"
)

// TLV is one decoded Type-Length-Value field: an 8-bit tag followed by a
// 16-bit little-endian length and that many value bytes.
type TLV struct {
	Tag   byte
	Value []byte
}

// headerSize is the encoded size of a TLV's tag+length prefix.
const headerSize = 1 + 2

// Build encodes a single TLV as tag, little-endian 16-bit length, value.
func Build(tag byte, value []byte) []byte {
	out := make([]byte, headerSize+len(value))
	out[0] = tag
	binary.LittleEndian.PutUint16(out[1:3], uint16(len(value)))
	copy(out[3:], value)
	return out
}

// Concat concatenates already-built TLVs into one outbound TLV area,
// preserving their order.
func Concat(tlvs ...[]byte) []byte {
	total := 0
	for _, t := range tlvs {
		total += len(t)
	}
	out := make([]byte, 0, total)
	for _, t := range tlvs {
		out = append(out, t...)
	}
	return out
}

// Iter walks a TLV area and returns the list of (tag, value) pairs found.
// It terminates cleanly at end-of-buffer. A truncated trailing TLV (fewer
// bytes remaining than the header, or fewer value bytes than declared) is
// reported as an error rather than silently dropped, since that indicates
// a malformed frame rather than an unrecognized tag.
func Iter(data []byte) ([]TLV, error) {
	var out []TLV
	for len(data) > 0 {
		if len(data) < headerSize {
			return nil, fmt.Errorf("tlv: truncated header: %d bytes remaining", len(data))
		}
		tag := data[0]
		length := binary.LittleEndian.Uint16(data[1:3])
		data = data[headerSize:]
		if int(length) > len(data) {
			return nil, fmt.Errorf("tlv: tag 0x%02x declares length %d but only %d bytes remain", tag, length, len(data))
		}
		out = append(out, TLV{Tag: tag, Value: data[:length]})
		data = data[length:]
	}
	return out, nil
}

// Find returns the value of the first TLV with the given tag, skipping any
// others. This is the unknown-TLV-skip compatibility path: a higher-level
// decoder calls Find (or Iter directly) for the tags it knows about and
// silently ignores everything else.
func Find(tlvs []TLV, tag byte) ([]byte, bool) {
	for _, t := range tlvs {
		if t.Tag == tag {
			return t.Value, true
		}
	}
	return nil, false
}
