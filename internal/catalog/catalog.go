// Package catalog lists the Flower Power characteristics this exporter reads
// and how each payload is decoded.
package catalog

import (
	"fmt"

	"github.com/currantlabs/ble"

	"github.com/r0bj/flowerpower-exporter/internal/decode"
)

// Class is the semantic category of a field.
type Class string

const (
	ClassNone        Class = ""
	ClassIlluminance Class = "illuminance"
	ClassTemperature Class = "temperature"
	ClassHumidity    Class = "humidity"
	ClassBattery     Class = "battery"
)

// Field describes one logical sensor quantity and the characteristic behind it.
type Field struct {
	Key       string
	Name      string
	UUID      ble.UUID
	Layout    decode.Layout
	Transform decode.Transform
	Unit      string
	Icon      string
	Class     Class
}

// Decode applies the field's layout and transform to a raw payload.
func (f Field) Decode(raw []byte) (decode.Value, error) {
	v, err := decode.Decode(raw, f.Layout)
	if err != nil {
		return decode.Unknown, err
	}
	return f.Transform.Apply(v), nil
}

// UnknownFieldError is returned when a key is not part of the catalog.
type UnknownFieldError struct {
	Key string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q", e.Key)
}

// vendor returns the long-form identifier of vendor characteristic n.
func vendor(n uint8) ble.UUID {
	return ble.MustParse(fmt.Sprintf("39e1fa%02x-84a8-11e2-afba-0002a5d5c51b", n))
}

const (
	celsius = "°C"
	percent = "%"
)

// fields is read in this order on every refresh.
var fields = []Field{
	{Key: "firmware", Name: "Firmware version", UUID: ble.UUID16(0x2A26), Layout: decode.UTF8Trim1},
	{Key: "light_intensity", Name: "Light Intensity", UUID: vendor(0x01), Layout: decode.U16LE, Unit: "lx", Class: ClassIlluminance},
	{Key: "soil_ec", Name: "Soil EC", UUID: vendor(0x02), Layout: decode.U16LE, Unit: "dS/m"},
	{Key: "soil_temperature", Name: "Soil Temperature", UUID: vendor(0x03), Layout: decode.U16LE, Transform: decode.Div32Round(1), Unit: celsius, Class: ClassTemperature},
	{Key: "air_temperature", Name: "Air Temperature", UUID: vendor(0x04), Layout: decode.U16LE, Transform: decode.Div32Round(1), Unit: celsius, Class: ClassTemperature},
	{Key: "soil_moisture", Name: "Soil Moisture", UUID: vendor(0x05), Layout: decode.U16LE, Transform: decode.Div32Round(0), Unit: percent, Class: ClassHumidity},
	{Key: "calibrated_soil_moisture", Name: "Calibrated Soil Moisture", UUID: vendor(0x09), Layout: decode.F32LE, Transform: decode.Round(0), Unit: percent, Class: ClassHumidity},
	{Key: "calibrated_air_temperature", Name: "Calibrated Air Temperature", UUID: vendor(0x0A), Layout: decode.F32LE, Transform: decode.Round(1), Unit: celsius, Class: ClassTemperature},
	{Key: "battery_level", Name: "Battery Level", UUID: ble.UUID16(0x2A19), Layout: decode.U8, Unit: percent, Class: ClassBattery},
	{Key: "calibrated_daily_light_integral", Name: "Calibrated Daily Light Integral", UUID: vendor(0x0B), Layout: decode.F32LE, Transform: decode.Round(2), Unit: "mol/m2/d", Class: ClassIlluminance},
}

// Characteristics the firmware exposes that are never read.
var unused = []ble.UUID{
	vendor(0x06), // live mode period
	vendor(0x07), // LED
	vendor(0x08), // last move date
	vendor(0x0C), // calibrated EA
	vendor(0x0D), // calibrated ECB
	vendor(0x0E), // calibrated EC porous
}

var byKey = func() map[string]int {
	m := make(map[string]int, len(fields))
	for i, f := range fields {
		if _, dup := m[f.Key]; dup {
			panic("catalog: duplicate key " + f.Key)
		}
		m[f.Key] = i
	}
	return m
}()

// All returns every field in refresh order. The slice is a copy.
func All() []Field {
	out := make([]Field, len(fields))
	copy(out, fields)
	return out
}

// Keys returns every field key in refresh order.
func Keys() []string {
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.Key
	}
	return keys
}

// Lookup returns the field registered under key.
func Lookup(key string) (Field, error) {
	i, ok := byKey[key]
	if !ok {
		return Field{}, &UnknownFieldError{Key: key}
	}
	return fields[i], nil
}

// Unused returns the vendor characteristics that are known but not read.
func Unused() []ble.UUID {
	out := make([]ble.UUID, len(unused))
	copy(out, unused)
	return out
}
