// Package decode turns raw Flower Power characteristic payloads into values.
package decode

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// Layout is the binary encoding of a characteristic payload.
type Layout uint8

const (
	U16LE     Layout = iota + 1 // little-endian unsigned 16-bit integer
	U8                          // unsigned 8-bit integer
	F32LE                       // little-endian IEEE-754 single precision
	UTF8Trim1                   // UTF-8 text followed by one terminator byte
)

func (l Layout) String() string {
	switch l {
	case U16LE:
		return "u16_le"
	case U8:
		return "u8"
	case F32LE:
		return "f32_le"
	case UTF8Trim1:
		return "utf8_trim1"
	}
	return fmt.Sprintf("layout(%d)", uint8(l))
}

// Size returns the payload length a fixed-width layout requires,
// or 0 when the length is variable.
func (l Layout) Size() int {
	switch l {
	case U16LE:
		return 2
	case U8:
		return 1
	case F32LE:
		return 4
	}
	return 0
}

// DecodeError reports a payload that does not fit its layout.
type DecodeError struct {
	Layout Layout
	Len    int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s (got %d bytes)", e.Layout, e.Reason, e.Len)
}

// Decode converts raw into a Value according to l. It never pads or
// truncates a fixed-width payload.
func Decode(raw []byte, l Layout) (Value, error) {
	fail := func(reason string) (Value, error) {
		return Unknown, &DecodeError{Layout: l, Len: len(raw), Reason: reason}
	}

	if n := l.Size(); n > 0 && len(raw) != n {
		return fail(fmt.Sprintf("expecting %d bytes", n))
	}

	switch l {
	case U16LE:
		return Int(int64(binary.LittleEndian.Uint16(raw))), nil
	case U8:
		return Int(int64(raw[0])), nil
	case F32LE:
		f := float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fail("non-finite float")
		}
		return Float(f), nil
	case UTF8Trim1:
		if len(raw) == 0 {
			return fail("empty string payload")
		}
		if !utf8.Valid(raw) {
			return fail("invalid UTF-8")
		}
		s := string(raw)
		// firmware pads the string with one trailing character
		_, size := utf8.DecodeLastRuneInString(s)
		return String(s[:len(s)-size]), nil
	}
	return fail("unsupported layout")
}

// Encode is the inverse of Decode. Text gets a trailing NUL terminator.
func Encode(v Value, l Layout) ([]byte, error) {
	switch l {
	case U16LE:
		i, ok := v.Int64()
		if !ok || i < 0 || i > math.MaxUint16 {
			return nil, fmt.Errorf("encode %s: %s out of range", l, v)
		}
		return binary.LittleEndian.AppendUint16(nil, uint16(i)), nil
	case U8:
		i, ok := v.Int64()
		if !ok || i < 0 || i > math.MaxUint8 {
			return nil, fmt.Errorf("encode %s: %s out of range", l, v)
		}
		return []byte{byte(i)}, nil
	case F32LE:
		f, ok := v.Float64()
		if !ok {
			return nil, fmt.Errorf("encode %s: %s is not numeric", l, v)
		}
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(f))), nil
	case UTF8Trim1:
		s, ok := v.Text()
		if !ok {
			return nil, fmt.Errorf("encode %s: %s is not text", l, v)
		}
		return append([]byte(s), 0), nil
	}
	return nil, fmt.Errorf("encode: unsupported layout %s", l)
}
