package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/r0bj/flowerpower-exporter/internal/reader"
	"github.com/r0bj/flowerpower-exporter/internal/sensor"
)

// Publisher receives the sensors of a device after each refresh
type Publisher interface {
	PublishDevice(sensors []*sensor.Sensor) error
}

// Device is a configured Flower Power with its reader and sensors
type Device struct {
	Reader  *reader.Reader
	Sensors []*sensor.Sensor
}

// NewDevice wires a reader to its sensors
func NewDevice(r *reader.Reader) *Device {
	return &Device{
		Reader:  r,
		Sensors: sensor.ForReader(r),
	}
}

// Name returns the configured label
func (d *Device) Name() string {
	return d.Reader.Identity().Label
}

// refresh asks the reader for a refresh and accounts for the outcome
func (d *Device) refresh(ctx context.Context, now time.Time, pub Publisher) {
	res, err := d.Reader.Refresh(ctx, now)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("Failed to refresh device",
			"device", d.Name(),
			"error", err)
		deviceErrorsCounter.WithLabelValues(d.Name()).Inc()
		return
	}
	if res.Skipped {
		return
	}

	refreshDuration.WithLabelValues(d.Name()).Observe(res.Duration.Seconds())
	for key := range res.Failed {
		fieldErrorsCounter.WithLabelValues(d.Name(), key).Inc()
	}

	if pub == nil {
		return
	}
	if err := pub.PublishDevice(d.Sensors); err != nil {
		slog.Error("Error publishing readings",
			"device", d.Name(),
			"error", err)
	}
}

// Poll refreshes the device every interval until ctx is done.
// The reader itself enforces the minimum spacing between radio sessions.
func (d *Device) Poll(ctx context.Context, interval, startDelay time.Duration, pub Publisher) {
	// Initial delay to stagger device polling
	if startDelay > 0 {
		slog.Info("Delaying first refresh", "device", d.Name(), "waitTime", startDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(startDelay):
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		d.refresh(ctx, time.Now(), pub)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
