package decode

import "math"

// Op selects the scaling applied after decoding.
type Op uint8

const (
	OpIdentity   Op = iota
	OpDiv32Round    // divide by 32, then round to Digits decimals
	OpRound         // round to Digits decimals
)

// Transform is a post-decode scaling rule. The zero Transform is identity.
type Transform struct {
	Op     Op
	Digits int
}

// Identity leaves the decoded value untouched.
var Identity = Transform{}

// Div32Round divides by 32 and keeps digits decimals.
func Div32Round(digits int) Transform { return Transform{Op: OpDiv32Round, Digits: digits} }

// Round keeps digits decimals.
func Round(digits int) Transform { return Transform{Op: OpRound, Digits: digits} }

// Apply scales v. Text and Unknown pass through unchanged.
func (t Transform) Apply(v Value) Value {
	f, ok := v.Float64()
	if !ok {
		return v
	}

	switch t.Op {
	case OpDiv32Round:
		return Float(round(f/32.0, t.Digits))
	case OpRound:
		return Float(round(f, t.Digits))
	}
	return v
}

// round rounds half to even at the given number of decimals.
func round(f float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.RoundToEven(f*p) / p
}
