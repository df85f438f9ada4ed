package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"gopkg.in/ini.v1"

	"github.com/r0bj/flowerpower-exporter/internal/mqtt"
	"github.com/r0bj/flowerpower-exporter/internal/reader"
	"github.com/r0bj/flowerpower-exporter/internal/session"
)

// Config represents a configuration
type Config struct {
	Devices []reader.Identity
	Polling Polling
	MQTT    mqtt.Config
}

// Polling controls how often and how patiently devices are read
type Polling struct {
	MinRefreshInterval time.Duration
	PollInterval       time.Duration
	ConnectTimeout     time.Duration
	ConnectAttempts    int
	Stagger            time.Duration
}

// ConnectOptions returns the session settings for a device
func (p Polling) ConnectOptions() session.Options {
	o := session.DefaultOptions()
	o.Timeout = p.ConnectTimeout
	o.Attempts = p.ConnectAttempts
	return o
}

// NewConfig returns a new Config
func NewConfig(file string) (*Config, error) {
	slog.Info("Loading configuration", "file", file)
	return parseConfig(file)
}

// parseConfig reads an ini file name or its raw []byte content
func parseConfig(source interface{}) (*Config, error) {
	cfg, err := ini.Load(source)
	if err != nil {
		return nil, err
	}

	sec, err := cfg.GetSection("Devices")
	if err != nil {
		return nil, err
	}

	devices := []reader.Identity{}
	for i, name := range sec.KeyStrings() {
		addr := sec.Key(name).String()
		hw, err := net.ParseMAC(addr)
		if err != nil || len(hw) != 6 {
			return nil, fmt.Errorf("device %q: invalid address %q", name, addr)
		}
		slog.Info("Configured device", "index", i, "device", name, "address", addr)
		devices = append(devices, reader.Identity{
			Label:   name,
			Address: addr,
		})
	}
	if len(devices) == 0 {
		return nil, errors.New("no devices configured")
	}

	defaults := session.DefaultOptions()
	polling := cfg.Section("Polling")
	p := Polling{
		MinRefreshInterval: polling.Key("min-refresh-interval").MustDuration(reader.DefaultMinInterval),
		PollInterval:       polling.Key("poll-interval").MustDuration(time.Minute),
		ConnectTimeout:     polling.Key("connect-timeout").MustDuration(defaults.Timeout),
		ConnectAttempts:    polling.Key("connect-attempts").MustInt(defaults.Attempts),
		Stagger:            polling.Key("stagger").MustDuration(10 * time.Second),
	}
	if p.MinRefreshInterval < 0 {
		return nil, fmt.Errorf("min-refresh-interval must not be negative, got %v", p.MinRefreshInterval)
	}
	if p.PollInterval <= 0 {
		return nil, fmt.Errorf("poll-interval must be positive, got %v", p.PollInterval)
	}
	if p.ConnectTimeout <= 0 {
		return nil, fmt.Errorf("connect-timeout must be positive, got %v", p.ConnectTimeout)
	}
	if p.ConnectAttempts < 1 {
		return nil, fmt.Errorf("connect-attempts must be at least 1, got %d", p.ConnectAttempts)
	}

	broker := cfg.Section("MQTT")
	qos := broker.Key("qos").MustUint(1)
	if qos > 2 {
		return nil, fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", qos)
	}
	m := mqtt.Config{
		Broker:      broker.Key("broker").String(),
		ClientID:    broker.Key("client-id").MustString("flowerpower-exporter"),
		TopicPrefix: broker.Key("topic-prefix").MustString("flowerpower"),
		Retain:      broker.Key("retain").MustBool(true),
		QoS:         byte(qos),
	}

	return &Config{
		Devices: devices,
		Polling: p,
		MQTT:    m,
	}, nil
}
