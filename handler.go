package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/r0bj/flowerpower-exporter/internal/catalog"
	"github.com/r0bj/flowerpower-exporter/internal/sensor"
)

const namespace = "flowerpower"

var (
	deviceErrorsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "device_errors_total",
		Help:      "Flower Power connection errors",
	},
		[]string{"location"})
	fieldErrorsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "field_errors_total",
		Help:      "Flower Power characteristic read or decode errors",
	},
		[]string{"location", "field"})
	refreshDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "refresh_duration_seconds",
		Help:      "Time spent connected to a Flower Power during one refresh",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
	},
		[]string{"location"})
	adapterResetsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "adapter_resets_total",
		Help:      "Bluetooth adapter resets after repeated connection failures",
	})
)

// readingsCollector exports the cached readings of every device at scrape time.
// It never triggers a refresh.
type readingsCollector struct {
	devices    [][]*sensor.Sensor
	values     map[string]*prometheus.Desc
	firmware   *prometheus.Desc
	lastUpdate *prometheus.Desc
}

func newReadingsCollector(devices [][]*sensor.Sensor) *readingsCollector {
	c := &readingsCollector{
		devices: devices,
		values:  make(map[string]*prometheus.Desc),
		firmware: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "firmware_info"),
			"Flower Power firmware version",
			[]string{"location", "version"}, nil),
		lastUpdate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "last_update_timestamp_seconds"),
			"When a Flower Power field was last read successfully",
			[]string{"location", "field"}, nil),
	}
	for _, f := range catalog.All() {
		if f.Key == "firmware" {
			continue
		}
		help := "Flower Power " + f.Name
		if f.Unit != "" {
			help += " (" + f.Unit + ")"
		}
		c.values[f.Key] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", f.Key),
			help,
			[]string{"location"}, nil)
	}
	return c
}

func (c *readingsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.values {
		ch <- d
	}
	ch <- c.firmware
	ch <- c.lastUpdate
}

func (c *readingsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, sensors := range c.devices {
		for _, s := range sensors {
			st, err := s.Snapshot()
			if err != nil {
				slog.Error("Unable to read sensor state", "sensor", s.UniqueID(), "error", err)
				continue
			}
			if st.Value.IsUnknown() {
				continue
			}

			if f, ok := st.Value.Float64(); ok {
				if d, ok := c.values[st.Key]; ok {
					ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, f, st.Device)
				}
			} else if v, ok := st.Value.Text(); ok {
				ch <- prometheus.MustNewConstMetric(c.firmware, prometheus.GaugeValue, 1, st.Device, v)
			}

			if st.UpdatedAt != nil {
				ch <- prometheus.MustNewConstMetric(c.lastUpdate, prometheus.GaugeValue,
					float64(st.UpdatedAt.UnixNano())/1e9, st.Device, st.Key)
			}
		}
	}
}

// readingsHandler serves the state of every sensor as JSON.
func readingsHandler(devices [][]*sensor.Sensor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		states := []sensor.State{}
		for _, sensors := range devices {
			for _, s := range sensors {
				st, err := s.Snapshot()
				if err != nil {
					slog.Error("Unable to read sensor state", "sensor", s.UniqueID(), "error", err)
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				states = append(states, st)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(states); err != nil {
			slog.Error("Error writing readings", "error", err)
		}
	})
}
