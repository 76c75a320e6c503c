// Package kvcodec encodes the key tuples and value records of the ring
// store. Keys are type-tagged tuples whose byte order equals element-wise
// order, so range scans over a key family walk it in logical order.
package kvcodec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Element tags. Uint64 payloads are big-endian so numeric order matches byte
// order; strings and bytes are zero-terminated with 0x00 stuffed as 0x00 0xFF
// so a prefix always sorts before any extension of it.
const (
	tagUint64 byte = 0x01
	tagString byte = 0x02
	tagBytes  byte = 0x03
)

// EncodeTuple packs the elements into an order-preserving key. Supported
// element types are uint64, string and []byte; anything else is a programmer
// error and panics, mirroring how tuple layers treat unencodable input.
func EncodeTuple(elems ...interface{}) []byte {
	var buf bytes.Buffer
	for _, e := range elems {
		switch v := e.(type) {
		case uint64:
			buf.WriteByte(tagUint64)
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], v)
			buf.Write(b[:])
		case uint32:
			buf.WriteByte(tagUint64)
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], uint64(v))
			buf.Write(b[:])
		case string:
			buf.WriteByte(tagString)
			writeStuffed(&buf, []byte(v))
		case []byte:
			buf.WriteByte(tagBytes)
			writeStuffed(&buf, v)
		default:
			panic(fmt.Sprintf("kvcodec: unsupported tuple element %T", e))
		}
	}
	return buf.Bytes()
}

// DecodeTuple is the inverse of EncodeTuple. uint32 elements come back as
// uint64.
func DecodeTuple(b []byte) ([]interface{}, error) {
	var out []interface{}
	for len(b) > 0 {
		tag := b[0]
		b = b[1:]
		switch tag {
		case tagUint64:
			if len(b) < 8 {
				return nil, fmt.Errorf("kvcodec: truncated uint64 element")
			}
			out = append(out, binary.BigEndian.Uint64(b[:8]))
			b = b[8:]
		case tagString, tagBytes:
			val, rest, err := readStuffed(b)
			if err != nil {
				return nil, err
			}
			if tag == tagString {
				out = append(out, string(val))
			} else {
				out = append(out, val)
			}
			b = rest
		default:
			return nil, fmt.Errorf("kvcodec: unknown tuple tag 0x%02x", tag)
		}
	}
	return out, nil
}

func writeStuffed(buf *bytes.Buffer, b []byte) {
	for _, c := range b {
		buf.WriteByte(c)
		if c == 0x00 {
			buf.WriteByte(0xFF)
		}
	}
	buf.WriteByte(0x00)
}

func readStuffed(b []byte) (val, rest []byte, err error) {
	var out []byte
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != 0x00 {
			out = append(out, c)
			continue
		}
		if i+1 < len(b) && b[i+1] == 0xFF {
			out = append(out, 0x00)
			i++
			continue
		}
		return out, b[i+1:], nil
	}
	return nil, nil, fmt.Errorf("kvcodec: unterminated string element")
}

// PrefixRange returns the [begin, end) pair covering every key that starts
// with prefix.
func PrefixRange(prefix []byte) (begin, end []byte) {
	begin = prefix
	end = make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xFF {
			end[i]++
			return begin, end[:i+1]
		}
	}
	// All 0xFF: extend instead. Cannot happen for tagged tuples but keeps the
	// helper total.
	return begin, append(end, 0x00)
}
