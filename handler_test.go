package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r0bj/flowerpower-exporter/internal/catalog"
	"github.com/r0bj/flowerpower-exporter/internal/decode"
	"github.com/r0bj/flowerpower-exporter/internal/reader"
	"github.com/r0bj/flowerpower-exporter/internal/sensor"
	"github.com/r0bj/flowerpower-exporter/internal/session"
	"github.com/r0bj/flowerpower-exporter/internal/session/sessiontest"
)

const testAddr = "a0:14:3d:08:b4:90"

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func testDevice(t *testing.T, label string, d *sessiontest.Dialer) *Device {
	t.Helper()
	r := reader.New(reader.Identity{Address: testAddr, Label: label}, d,
		reader.WithLogger(quiet),
		reader.WithConnectOptions(session.Options{Attempts: 1}))
	return NewDevice(r)
}

func smallPeripheral(t *testing.T) *sessiontest.Peripheral {
	t.Helper()
	battery, err := catalog.Lookup("battery_level")
	require.NoError(t, err)
	firmware, err := catalog.Lookup("firmware")
	require.NoError(t, err)
	fw, err := decode.Encode(decode.String("1.1.0"), firmware.Layout)
	require.NoError(t, err)
	return sessiontest.NewPeripheral().
		Set(battery.UUID, []byte{87}).
		Set(firmware.UUID, fw)
}

func TestReadingsCollector(t *testing.T) {
	d := testDevice(t, "Ficus", sessiontest.NewDialer().Add(testAddr, smallPeripheral(t)))
	c := newReadingsCollector([][]*sensor.Sensor{d.Sensors})

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, mfs, "nothing is exported before the first refresh")

	_, err = d.Reader.Refresh(context.Background(), time.Now())
	require.NoError(t, err)

	expected := `
# HELP flowerpower_battery_level Flower Power Battery Level (%)
# TYPE flowerpower_battery_level gauge
flowerpower_battery_level{location="Ficus"} 87
# HELP flowerpower_firmware_info Flower Power firmware version
# TYPE flowerpower_firmware_info gauge
flowerpower_firmware_info{location="Ficus",version="1.1.0"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"flowerpower_battery_level", "flowerpower_firmware_info"))

	mfs, err = reg.Gather()
	require.NoError(t, err)
	names := []string{}
	for _, mf := range mfs {
		names = append(names, mf.GetName())
	}
	assert.ElementsMatch(t, []string{
		"flowerpower_battery_level",
		"flowerpower_firmware_info",
		"flowerpower_last_update_timestamp_seconds",
	}, names)
}

func TestReadingsHandler(t *testing.T) {
	d := testDevice(t, "Ficus", sessiontest.NewDialer().Add(testAddr, smallPeripheral(t)))
	_, err := d.Reader.Refresh(context.Background(), time.Now())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	readingsHandler([][]*sensor.Sensor{d.Sensors}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readings", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var states []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &states))
	require.Len(t, states, len(catalog.Keys()))

	byKey := map[string]interface{}{}
	for _, st := range states {
		byKey[st["key"].(string)] = st["state"]
	}
	assert.Equal(t, 87.0, byKey["battery_level"])
	assert.Equal(t, "1.1.0", byKey["firmware"])
	assert.Equal(t, "unknown", byKey["soil_moisture"])
}

type recordingPublisher struct {
	calls int
}

func (p *recordingPublisher) PublishDevice(sensors []*sensor.Sensor) error {
	p.calls++
	return nil
}

func TestDeviceRefreshAccounting(t *testing.T) {
	dialer := sessiontest.NewDialer()
	d := testDevice(t, "refresh-accounting", dialer)
	pub := &recordingPublisher{}
	now := time.Now()

	errs := deviceErrorsCounter.WithLabelValues(d.Name())
	before := testutil.ToFloat64(errs)
	d.refresh(context.Background(), now, pub)
	assert.Equal(t, before+1, testutil.ToFloat64(errs))
	assert.Equal(t, 0, pub.calls)

	dialer.Add(testAddr, smallPeripheral(t))
	d.refresh(context.Background(), now.Add(reader.DefaultMinInterval), pub)
	assert.Equal(t, 1, pub.calls)
	assert.Equal(t, before+1, testutil.ToFloat64(errs))

	missing := fieldErrorsCounter.WithLabelValues(d.Name(), "soil_moisture")
	assert.Equal(t, 1.0, testutil.ToFloat64(missing))

	// inside the minimum interval nothing is published
	d.refresh(context.Background(), now.Add(reader.DefaultMinInterval+time.Minute), pub)
	assert.Equal(t, 1, pub.calls)
}

func TestPollStopsWithContext(t *testing.T) {
	d := testDevice(t, "poll-stop", sessiontest.NewDialer().Add(testAddr, smallPeripheral(t)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Poll(ctx, time.Hour, 0, nil)
		close(done)
	}()

	require.Eventually(t, func() bool {
		v, err := d.Reader.Get("battery_level")
		return err == nil && !v.IsUnknown()
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poll did not stop")
	}
}

func TestNewLogger(t *testing.T) {
	var buf strings.Builder
	newLogger(&buf, "json", slog.LevelInfo).Info("hello", "device", "Ficus")
	assert.Contains(t, buf.String(), `"device":"Ficus"`)

	buf.Reset()
	newLogger(&buf, "text", slog.LevelInfo).Debug("hidden")
	assert.Empty(t, buf.String())
}
