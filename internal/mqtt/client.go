// Package mqtt publishes sensor states to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/r0bj/flowerpower-exporter/internal/sensor"
)

// quiesce is the number of milliseconds to wait for in-flight work on disconnect.
const quiesce = 250

// Config holds the broker settings. An empty Broker disables publishing.
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Retain      bool
	QoS         byte
}

// Message is one MQTT publication.
type Message struct {
	Topic   string
	Payload []byte
}

// DeviceState is the JSON document published on <prefix>/<label>/state.
type DeviceState struct {
	Device    string                     `json:"device"`
	Address   string                     `json:"address"`
	Timestamp time.Time                  `json:"timestamp"`
	Readings  map[string]json.RawMessage `json:"readings"`
}

var topicEscaper = strings.NewReplacer(" ", "_", "/", "_", "+", "_", "#", "_")

// Topic returns <prefix>/<label>/<leaf> with MQTT wildcards and separators
// in the label replaced.
func Topic(prefix, label, leaf string) string {
	return strings.Join([]string{prefix, topicEscaper.Replace(label), leaf}, "/")
}

// Messages builds the publications for one device: one per known sensor
// value plus a JSON state document covering every sensor.
func Messages(prefix string, sensors []*sensor.Sensor, now time.Time) ([]Message, error) {
	if len(sensors) == 0 {
		return nil, nil
	}
	id := sensors[0].Device()

	doc := DeviceState{
		Device:    id.Label,
		Address:   id.Address,
		Timestamp: now,
		Readings:  make(map[string]json.RawMessage, len(sensors)),
	}

	var msgs []Message
	for _, s := range sensors {
		v, err := s.State()
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", s.Key(), err)
		}
		doc.Readings[s.Key()] = raw

		if v.IsUnknown() {
			continue
		}
		msgs = append(msgs, Message{
			Topic:   Topic(prefix, id.Label, s.Key()),
			Payload: []byte(v.String()),
		})
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	msgs = append(msgs, Message{Topic: Topic(prefix, id.Label, "state"), Payload: data})
	return msgs, nil
}

// Client publishes device states. A Client with no broker configured
// accepts every publish and sends nothing.
type Client struct {
	client pahomqtt.Client
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool
}

// NewClient prepares a client; it does not connect.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	c := &Client{cfg: cfg, logger: logger}
	if cfg.Broker == "" {
		return c
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = pahomqtt.NewClient(opts)
	return c
}

// Enabled reports whether a broker is configured.
func (c *Client) Enabled() bool { return c.client != nil }

// Connect waits for the initial broker connection or ctx.
func (c *Client) Connect(ctx context.Context) error {
	if !c.Enabled() || c.IsConnected() {
		return nil
	}

	token := c.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// PublishDevice sends the current state of one device's sensors.
func (c *Client) PublishDevice(sensors []*sensor.Sensor) error {
	if !c.Enabled() {
		return nil
	}
	if !c.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	msgs, err := Messages(c.cfg.TopicPrefix, sensors, time.Now())
	if err != nil {
		return err
	}
	for _, m := range msgs {
		token := c.client.Publish(m.Topic, c.cfg.QoS, c.cfg.Retain, m.Payload)
		if !token.WaitTimeout(5 * time.Second) {
			return fmt.Errorf("publish timeout for topic %s", m.Topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", m.Topic, err)
		}
		c.logger.Debug("published", "topic", m.Topic, "bytes", len(m.Payload))
	}
	return nil
}

// IsConnected returns whether the broker connection is up.
func (c *Client) IsConnected() bool {
	if !c.Enabled() {
		return false
	}
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect closes the broker connection.
func (c *Client) Disconnect() {
	if !c.Enabled() {
		return
	}
	c.client.Disconnect(quiesce)
	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
