// Package session manages a single short-lived GATT connection to a peripheral.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/currantlabs/ble"
)

var (
	// ErrConnection means no link to the peripheral could be established.
	ErrConnection = errors.New("connection failed")
	// ErrCharacteristicNotFound means the peripheral does not expose the characteristic.
	ErrCharacteristicNotFound = errors.New("characteristic not found")
	// ErrRead means the link-layer read of a characteristic failed.
	ErrRead = errors.New("characteristic read failed")
)

// Client is the part of ble.Client a session uses.
type Client interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	CancelConnection() error
}

// Dialer connects to a peripheral by address.
type Dialer interface {
	Dial(ctx context.Context, addr ble.Addr) (Client, error)
}

// Options bounds a connection attempt.
type Options struct {
	// Timeout applies to each dial attempt.
	Timeout time.Duration
	// Attempts is the number of dials before giving up.
	Attempts int
	// Backoff is the wait before the first retry; it triples on each retry.
	Backoff time.Duration
	Logger  *slog.Logger
}

// DefaultOptions returns the connection settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		Timeout:  30 * time.Second,
		Attempts: 3,
		Backoff:  1 * time.Second,
	}
}

// Session is one open connection. It must be closed exactly once.
type Session struct {
	addr    string
	client  Client
	profile *ble.Profile
	log     *slog.Logger

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// Open dials addr and discovers its GATT profile.
// Every failure is reported as ErrConnection and leaves no link behind.
func Open(ctx context.Context, d Dialer, addr string, opts Options) (*Session, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("address", addr)

	client, err := dial(ctx, d, addr, opts, log)
	if err != nil {
		return nil, err
	}

	log.Debug("Discovering device profile")
	p, err := client.DiscoverProfile(true)
	if err == nil && p == nil {
		err = errors.New("empty profile")
	}
	if err != nil {
		if cerr := client.CancelConnection(); cerr != nil {
			log.Debug("Error disconnecting after failed discovery", "error", cerr)
		}
		return nil, fmt.Errorf("%w: %s: discover profile: %w", ErrConnection, addr, err)
	}

	return &Session{
		addr:    addr,
		client:  client,
		profile: p,
		log:     log,
	}, nil
}

func dial(ctx context.Context, d Dialer, addr string, opts Options, log *slog.Logger) (Client, error) {
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := opts.Backoff

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			log.Info("Retrying connection",
				"attempt", attempt+1,
				"maxAttempts", attempts)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %s: %w", ErrConnection, addr, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 3
		}

		dctx, cancel := ctx, context.CancelFunc(func() {})
		if opts.Timeout > 0 {
			dctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		}
		var client Client
		client, err = d.Dial(dctx, ble.NewAddr(addr))
		cancel()
		if err == nil {
			return client, nil
		}

		log.Info("Connection error", "attempt", attempt+1, "error", err)
		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%w: %s: %w", ErrConnection, addr, err)
}

// Address returns the peripheral address the session is connected to.
func (s *Session) Address() string { return s.addr }

// Read returns the raw value of the characteristic identified by uuid.
// A failed read leaves the session usable for further reads.
func (s *Session) Read(uuid ble.UUID) ([]byte, error) {
	if s.closed {
		return nil, fmt.Errorf("%w: %s: session closed", ErrRead, uuid)
	}
	u := s.profile.Find(ble.NewCharacteristic(uuid))
	if u == nil {
		return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, uuid)
	}
	c, ok := u.(*ble.Characteristic)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, uuid)
	}

	b, err := s.client.ReadCharacteristic(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRead, uuid, err)
	}
	s.log.Debug("Read characteristic", "uuid", uuid.String(), "data", fmt.Sprintf("% x", b))
	return b, nil
}

// Close releases the connection. Calls after the first return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.log.Debug("Disconnecting to save battery")
		s.closed = true
		s.closeErr = s.client.CancelConnection()
	})
	return s.closeErr
}
