package decode

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u16(v uint16) []byte { return binary.LittleEndian.AppendUint16(nil, v) }

func f32(v float32) []byte { return binary.LittleEndian.AppendUint32(nil, math.Float32bits(v)) }

func TestDecode_RoundTrip(t *testing.T) {
	cases := []struct {
		layout Layout
		value  Value
	}{
		{U16LE, Int(0)},
		{U16LE, Int(640)},
		{U16LE, Int(math.MaxUint16)},
		{U8, Int(0)},
		{U8, Int(87)},
		{U8, Int(255)},
		{F32LE, Float(0)},
		{F32LE, Float(-12.5)},
		{F32LE, Float(1024.25)},
		{UTF8Trim1, String("1.1.0_2014-01-21")},
		{UTF8Trim1, String("")},
	}
	for _, c := range cases {
		raw, err := Encode(c.value, c.layout)
		require.NoError(t, err, "%s %s", c.layout, c.value)

		got, err := Decode(raw, c.layout)
		require.NoError(t, err, "%s %s", c.layout, c.value)
		assert.Equal(t, c.value, got, "%s", c.layout)
	}
}

func TestDecode_WrongLength(t *testing.T) {
	cases := []struct {
		layout Layout
		raw    []byte
	}{
		{U16LE, nil},
		{U16LE, []byte{0x01}},
		{U16LE, []byte{0x01, 0x02, 0x03}},
		{U8, nil},
		{U8, []byte{0x01, 0x02}},
		{F32LE, []byte{0x01, 0x02, 0x03}},
		{F32LE, []byte{0x01, 0x02, 0x03, 0x04, 0x05}},
	}
	for _, c := range cases {
		v, err := Decode(c.raw, c.layout)
		var de *DecodeError
		require.True(t, errors.As(err, &de), "%s with %d bytes", c.layout, len(c.raw))
		assert.Equal(t, c.layout, de.Layout)
		assert.Equal(t, len(c.raw), de.Len)
		assert.True(t, v.IsUnknown())
	}
}

func TestDecode_Text(t *testing.T) {
	v, err := Decode([]byte("1.1.0\x00"), UTF8Trim1)
	require.NoError(t, err)
	s, ok := v.Text()
	require.True(t, ok)
	assert.Equal(t, "1.1.0", s)

	_, err = Decode([]byte{0xff, 0xfe, 0x00}, UTF8Trim1)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "invalid UTF-8", de.Reason)

	_, err = Decode(nil, UTF8Trim1)
	require.ErrorAs(t, err, &de)
}

func TestDecode_NonFiniteFloat(t *testing.T) {
	_, err := Decode(f32(float32(math.Inf(1))), F32LE)
	var de *DecodeError
	require.ErrorAs(t, err, &de)

	_, err = Decode(f32(float32(math.NaN())), F32LE)
	require.ErrorAs(t, err, &de)
}

func TestTransform_Div32(t *testing.T) {
	v, err := Decode(u16(640), U16LE)
	require.NoError(t, err)
	got, ok := Div32Round(1).Apply(v).Float64()
	require.True(t, ok)
	assert.Equal(t, 20.0, got)

	v, err = Decode(u16(3200), U16LE)
	require.NoError(t, err)
	got, ok = Div32Round(0).Apply(v).Float64()
	require.True(t, ok)
	assert.Equal(t, 100.0, got)

	// 700 / 32 = 21.875
	v, err = Decode(u16(700), U16LE)
	require.NoError(t, err)
	got, _ = Div32Round(1).Apply(v).Float64()
	assert.Equal(t, 21.9, got)
}

func TestTransform_Round(t *testing.T) {
	v, err := Decode(f32(23.456), F32LE)
	require.NoError(t, err)

	got, _ := Round(1).Apply(v).Float64()
	assert.Equal(t, 23.5, got)

	got, _ = Round(0).Apply(v).Float64()
	assert.Equal(t, 23.0, got)

	got, _ = Round(2).Apply(v).Float64()
	assert.Equal(t, 23.46, got)
}

func TestTransform_PassThrough(t *testing.T) {
	assert.Equal(t, Int(42), Identity.Apply(Int(42)))
	assert.Equal(t, String("x"), Round(1).Apply(String("x")))
	assert.True(t, Div32Round(1).Apply(Unknown).IsUnknown())
}

func TestValue_Unknown(t *testing.T) {
	assert.True(t, Unknown.IsUnknown())
	assert.NotEqual(t, Unknown, Int(0))
	assert.NotEqual(t, Unknown, Float(0))
	assert.NotEqual(t, Unknown, String(""))
	assert.False(t, Int(0).IsUnknown())

	_, ok := Unknown.Float64()
	assert.False(t, ok)
	assert.Equal(t, "unknown", Unknown.String())

	b, err := Unknown.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `"unknown"`, string(b))

	b, err = Float(21.5).MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `21.5`, string(b))
}
