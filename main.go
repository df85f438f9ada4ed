package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/r0bj/flowerpower-exporter/internal/host"
	"github.com/r0bj/flowerpower-exporter/internal/mqtt"
	"github.com/r0bj/flowerpower-exporter/internal/reader"
	"github.com/r0bj/flowerpower-exporter/internal/sensor"
)

const (
	ver string = "1.0.0"
)

var (
	configFile    = flag.String("config-file", "config.ini", "Config file location")
	listenAddress = flag.String("web.listen-address", ":8080", "Address to listen on for web interface and telemetry")
	verbose       = flag.Bool("verbose", false, "Enable verbose output")
	logFormat     = flag.String("log-format", "json", "Log format (json|text)")
)

func newLogger(w io.Writer, format string, level slog.Leveler) *slog.Logger {
	if format == "text" {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	var loggingLevel = new(slog.LevelVar)
	logger := newLogger(os.Stdout, *logFormat, loggingLevel)
	slog.SetDefault(logger)

	if *verbose {
		loggingLevel.Set(slog.LevelDebug)
		slog.Debug("Debug logging enabled")
	}

	slog.Info("Starting", "version", ver)

	slog.Info("Reading configuration")
	config, err := NewConfig(*configFile)
	if err != nil {
		slog.Error("Unable to parse configuration", "error", err)
		return 1
	}

	// One adapter shared by every device, one session at a time
	slog.Info("Starting Linux Device")
	adapter, err := host.NewManager(host.Linux,
		host.WithLogger(logger),
		host.WithResetHook(adapterResetsCounter.Inc))
	if err != nil {
		slog.Error("Failed to initialize BLE device", "error", err)
		return 1
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			slog.Error("Error stopping BLE device", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	publisher := mqtt.NewClient(config.MQTT, logger)
	if publisher.Enabled() {
		go func() {
			if err := publisher.Connect(ctx); err != nil {
				slog.Error("mqtt connect failed", "error", err)
			}
		}()
		defer publisher.Disconnect()
	}

	devices := make([]*Device, 0, len(config.Devices))
	sensors := make([][]*sensor.Sensor, 0, len(config.Devices))
	for _, id := range config.Devices {
		r := reader.New(id, adapter,
			reader.WithMinInterval(config.Polling.MinRefreshInterval),
			reader.WithConnectOptions(config.Polling.ConnectOptions()),
			reader.WithLogger(logger))
		d := NewDevice(r)
		devices = append(devices, d)
		sensors = append(sensors, d.Sensors)
	}

	prometheus.MustRegister(newReadingsCollector(sensors))

	// Start pollers for each device with staggered timing
	var wg sync.WaitGroup
	for i, d := range devices {
		slog.Info("Starting handler for device",
			"device", d.Name(),
			"address", d.Reader.Identity().Address)
		wg.Add(1)
		go func(d *Device, delay time.Duration) {
			defer wg.Done()
			d.Poll(ctx, config.Polling.PollInterval, delay, publisher)
		}(d, time.Duration(i)*config.Polling.Stagger)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/readings", readingsHandler(sensors))
	server := &http.Server{Addr: *listenAddress, Handler: mux}

	go func() {
		<-ctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "address", *listenAddress)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server error", "error", err)
		stop()
		wg.Wait()
		return 1
	}

	wg.Wait()
	return 0
}
