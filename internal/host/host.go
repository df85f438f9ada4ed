// Package host owns the local Bluetooth adapter shared by every device reader.
package host

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/currantlabs/ble"
	"github.com/currantlabs/ble/linux"
	"golang.org/x/net/context"

	"github.com/r0bj/flowerpower-exporter/internal/session"
)

// DefaultMaxFailures is the number of consecutive connection failures of one
// device after which the adapter is recreated.
const DefaultMaxFailures = 3

// ErrClosed is returned by Dial after Close.
var ErrClosed = errors.New("adapter closed")

// Adapter is a local controller able to connect to peripherals.
type Adapter interface {
	session.Dialer
	Stop() error
}

// Factory opens an Adapter.
type Factory func() (Adapter, error)

type linuxAdapter struct {
	dev *linux.Device
}

// Linux opens the default HCI device.
func Linux() (Adapter, error) {
	dev, err := linux.NewDevice()
	if err != nil {
		return nil, err
	}
	return &linuxAdapter{dev: dev}, nil
}

func (a *linuxAdapter) Dial(ctx context.Context, addr ble.Addr) (session.Client, error) {
	c, err := a.dev.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (a *linuxAdapter) Stop() error {
	return a.dev.Stop()
}

// Manager hands out connections on a single adapter, one at a time.
// A connection holds the adapter until it is cancelled.
type Manager struct {
	factory     Factory
	maxFailures int
	onReset     func()
	log         *slog.Logger

	// sem is held from Dial until the returned client is cancelled.
	sem     chan struct{}
	adapter Adapter
	closed  bool

	mu         sync.Mutex
	failures   map[string]int
	resetAsked bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxFailures overrides DefaultMaxFailures.
func WithMaxFailures(n int) Option {
	return func(m *Manager) { m.maxFailures = n }
}

// WithResetHook registers a function called after every adapter reset.
func WithResetHook(f func()) Option {
	return func(m *Manager) { m.onReset = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager opens the adapter through f.
func NewManager(f Factory, opts ...Option) (*Manager, error) {
	m := &Manager{
		factory:     f,
		maxFailures: DefaultMaxFailures,
		log:         slog.Default(),
		sem:         make(chan struct{}, 1),
		failures:    make(map[string]int),
	}
	for _, o := range opts {
		o(m)
	}

	a, err := f()
	if err != nil {
		return nil, err
	}
	m.adapter = a
	return m, nil
}

// Dial waits for the adapter to be free and connects to addr.
func (m *Manager) Dial(ctx context.Context, addr ble.Addr) (session.Client, error) {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	release := func() { <-m.sem }

	if m.closed {
		release()
		return nil, ErrClosed
	}
	if m.takeResetRequest() {
		m.reset()
	}
	if m.adapter == nil {
		a, err := m.factory()
		if err != nil {
			release()
			m.log.Error("Failed to create new BLE device", "error", err)
			return nil, err
		}
		m.adapter = a
	}

	c, err := m.adapter.Dial(ctx, addr)
	if err != nil {
		release()
		m.recordFailure(addr.String())
		return nil, err
	}
	m.clearFailures(addr.String())

	return &client{Client: c, release: release}, nil
}

// Failures returns the consecutive connection failures recorded for addr.
func (m *Manager) Failures(addr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[ble.NewAddr(addr).String()]
}

// Close stops the adapter once no connection is active.
func (m *Manager) Close() error {
	m.sem <- struct{}{}
	defer func() { <-m.sem }()

	m.closed = true
	if m.adapter == nil {
		return nil
	}
	err := m.adapter.Stop()
	m.adapter = nil
	return err
}

func (m *Manager) recordFailure(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures[addr]++
	if n := m.failures[addr]; n >= m.maxFailures && !m.resetAsked {
		m.log.Warn("Device has accumulated too many errors, requesting reset",
			"address", addr,
			"errorCount", n)
		m.resetAsked = true
	}
}

func (m *Manager) clearFailures(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, addr)
}

func (m *Manager) takeResetRequest() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	asked := m.resetAsked
	m.resetAsked = false
	return asked
}

// reset stops the adapter and forgets all failure counts. The caller holds sem.
func (m *Manager) reset() {
	m.log.Warn("Starting BLE device reset process")
	if m.adapter != nil {
		if err := m.adapter.Stop(); err != nil {
			m.log.Error("Error stopping BLE device", "error", err)
		}
		m.adapter = nil
	}

	m.mu.Lock()
	m.failures = make(map[string]int)
	m.mu.Unlock()

	if m.onReset != nil {
		m.onReset()
	}
}

// client returns the adapter to the Manager when the connection is cancelled.
type client struct {
	session.Client
	once    sync.Once
	release func()
}

func (c *client) CancelConnection() error {
	err := c.Client.CancelConnection()
	c.once.Do(c.release)
	return err
}
