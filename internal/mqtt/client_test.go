package mqtt

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r0bj/flowerpower-exporter/internal/catalog"
	"github.com/r0bj/flowerpower-exporter/internal/reader"
	"github.com/r0bj/flowerpower-exporter/internal/sensor"
	"github.com/r0bj/flowerpower-exporter/internal/session"
	"github.com/r0bj/flowerpower-exporter/internal/session/sessiontest"
)

const addr = "a0:14:3d:08:b4:90"

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestTopic(t *testing.T) {
	assert.Equal(t, "flowerpower/living_room/battery_level", Topic("flowerpower", "living room", "battery_level"))
	assert.Equal(t, "fp/a_b_c_d/state", Topic("fp", "a/b+c#d", "state"))
}

func TestMessages(t *testing.T) {
	battery, err := catalog.Lookup("battery_level")
	require.NoError(t, err)
	p := sessiontest.NewPeripheral().Set(battery.UUID, []byte{64})

	r := reader.New(reader.Identity{Address: addr, Label: "Ficus"},
		sessiontest.NewDialer().Add(addr, p),
		reader.WithLogger(quiet),
		reader.WithConnectOptions(session.Options{Attempts: 1}))
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	_, err = r.Refresh(context.Background(), now)
	require.NoError(t, err)

	msgs, err := Messages("flowerpower", sensor.ForReader(r), now)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "flowerpower/Ficus/battery_level", msgs[0].Topic)
	assert.Equal(t, "64", string(msgs[0].Payload))

	assert.Equal(t, "flowerpower/Ficus/state", msgs[1].Topic)
	var doc DeviceState
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &doc))
	assert.Equal(t, "Ficus", doc.Device)
	assert.Equal(t, addr, doc.Address)
	assert.True(t, now.Equal(doc.Timestamp))
	assert.Len(t, doc.Readings, len(catalog.Keys()))
	assert.JSONEq(t, `64`, string(doc.Readings["battery_level"]))
	assert.JSONEq(t, `"unknown"`, string(doc.Readings["firmware"]))
}

func TestMessages_NoSensors(t *testing.T) {
	msgs, err := Messages("flowerpower", nil, time.Now())
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestDisabledClient(t *testing.T) {
	c := NewClient(Config{}, quiet)
	assert.False(t, c.Enabled())
	assert.False(t, c.IsConnected())
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.PublishDevice(nil))
	c.Disconnect()
}
