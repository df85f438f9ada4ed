package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r0bj/flowerpower-exporter/internal/catalog"
	"github.com/r0bj/flowerpower-exporter/internal/decode"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func TestGet_UnknownUntilSet(t *testing.T) {
	c := New()
	for _, key := range catalog.Keys() {
		v, err := c.Get(key)
		require.NoError(t, err, key)
		assert.True(t, v.IsUnknown(), key)
	}

	require.NoError(t, c.Set("soil_ec", decode.Int(0), t0))
	v, err := c.Get("soil_ec")
	require.NoError(t, err)
	assert.False(t, v.IsUnknown())
	assert.Equal(t, decode.Int(0), v)

	e, err := c.Entry("soil_ec")
	require.NoError(t, err)
	assert.Equal(t, t0, e.UpdatedAt)
}

func TestGet_UnknownKey(t *testing.T) {
	c := New()
	var ufe *catalog.UnknownFieldError

	_, err := c.Get("co2")
	require.ErrorAs(t, err, &ufe)

	err = c.Set("co2", decode.Int(400), t0)
	require.ErrorAs(t, err, &ufe)
}

func TestSet_Overwrites(t *testing.T) {
	c := New()
	require.NoError(t, c.Set("air_temperature", decode.Float(19.5), t0))
	require.NoError(t, c.Set("air_temperature", decode.Float(21), t0.Add(time.Hour)))

	v, err := c.Get("air_temperature")
	require.NoError(t, err)
	assert.Equal(t, decode.Float(21), v)
}

func TestSnapshot(t *testing.T) {
	c := New()
	require.NoError(t, c.Set("battery_level", decode.Int(64), t0))

	snap := c.Snapshot()
	assert.Len(t, snap, len(catalog.Keys()))
	assert.Equal(t, decode.Int(64), snap["battery_level"].Value)
	assert.True(t, snap["firmware"].Value.IsUnknown())
}

func TestShouldRefresh(t *testing.T) {
	const interval = 15 * time.Minute
	c := New()

	_, ok := c.LastAttempt()
	assert.False(t, ok)

	assert.True(t, c.ShouldRefresh(t0, interval), "first call")
	assert.False(t, c.ShouldRefresh(t0, interval))
	assert.False(t, c.ShouldRefresh(t0.Add(14*time.Minute), interval))
	assert.True(t, c.ShouldRefresh(t0.Add(interval), interval))

	last, ok := c.LastAttempt()
	require.True(t, ok)
	assert.Equal(t, t0.Add(interval), last)

	// rejected calls do not move the window
	assert.False(t, c.ShouldRefresh(t0.Add(29*time.Minute), interval))
	assert.True(t, c.ShouldRefresh(t0.Add(30*time.Minute), interval))
}

func TestShouldRefresh_FirstCallAnyTime(t *testing.T) {
	assert.True(t, New().ShouldRefresh(time.Time{}, time.Hour))
	assert.True(t, New().ShouldRefresh(t0.Add(-24*time.Hour), time.Hour))
}
