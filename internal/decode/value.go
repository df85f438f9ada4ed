package decode

import (
	"encoding/json"
	"strconv"
)

// Kind identifies what a Value holds.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInt
	KindFloat
	KindString
)

// Value is one decoded characteristic reading.
// The zero Value is Unknown, which no successful decode ever produces.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

// Unknown marks a field that was never successfully decoded.
var Unknown = Value{}

// Int returns an integer Value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float returns a floating point Value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// String returns a text Value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Kind reports what v holds.
func (v Value) Kind() Kind { return v.kind }

// IsUnknown reports whether v is the Unknown sentinel.
func (v Value) IsUnknown() bool { return v.kind == KindUnknown }

// Float64 returns v as a float. ok is false for text and Unknown.
func (v Value) Float64() (f float64, ok bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

// Int64 returns the integer held by v. ok is false unless v is an integer.
func (v Value) Int64() (int64, bool) {
	return v.i, v.kind == KindInt
}

// Text returns the string held by v. ok is false unless v is text.
func (v Value) Text() (string, bool) {
	return v.s, v.kind == KindString
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindString:
		return v.s
	}
	return "unknown"
}

// MarshalJSON renders numbers as JSON numbers, text as a string and
// Unknown as the string "unknown".
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	}
	return json.Marshal("unknown")
}
