// Package sessiontest provides in-memory peripherals for exercising sessions
// without a Bluetooth adapter.
package sessiontest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/currantlabs/ble"

	"github.com/r0bj/flowerpower-exporter/internal/session"
)

// ErrNoDevice is returned when dialing an address with no registered peripheral.
var ErrNoDevice = errors.New("no such device")

// Peripheral is a fake GATT server. Characteristics registered with Set or
// Fail are advertised in the profile; all others are absent.
type Peripheral struct {
	mu sync.Mutex

	values   map[string][]byte
	readErrs map[string]error
	uuids    map[string]ble.UUID

	// PanicOn makes a read of that characteristic panic.
	PanicOn ble.UUID
	// DiscoverErr fails profile discovery.
	DiscoverErr error
	// OnRead, when set, is called before every characteristic read.
	OnRead func(u ble.UUID)

	reads  []string
	closed int
}

// NewPeripheral returns a peripheral with no characteristics.
func NewPeripheral() *Peripheral {
	return &Peripheral{
		values:   make(map[string][]byte),
		readErrs: make(map[string]error),
		uuids:    make(map[string]ble.UUID),
	}
}

// Set advertises u with the given payload.
func (p *Peripheral) Set(u ble.UUID, b []byte) *Peripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uuids[u.String()] = u
	p.values[u.String()] = b
	delete(p.readErrs, u.String())
	return p
}

// Fail advertises u but makes every read of it return err.
func (p *Peripheral) Fail(u ble.UUID, err error) *Peripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uuids[u.String()] = u
	p.readErrs[u.String()] = err
	delete(p.values, u.String())
	return p
}

// Remove stops advertising u.
func (p *Peripheral) Remove(u ble.UUID) *Peripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.uuids, u.String())
	delete(p.values, u.String())
	delete(p.readErrs, u.String())
	return p
}

// Reads returns the characteristics read so far, in order.
func (p *Peripheral) Reads() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.reads...)
}

// Closed returns how many times a connection to p was cancelled.
func (p *Peripheral) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Peripheral) DiscoverProfile(force bool) (*ble.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DiscoverErr != nil {
		return nil, p.DiscoverErr
	}

	var chars []*ble.Characteristic
	for _, u := range p.uuids {
		chars = append(chars, &ble.Characteristic{UUID: u, Property: ble.CharRead})
	}
	return &ble.Profile{Services: []*ble.Service{{UUID: ble.UUID16(0x180F), Characteristics: chars}}}, nil
}

func (p *Peripheral) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := c.UUID.String()
	p.reads = append(p.reads, key)
	if p.OnRead != nil {
		p.OnRead(c.UUID)
	}
	if p.PanicOn != nil && c.UUID.Equal(p.PanicOn) {
		panic("link layer failure reading " + key)
	}
	if err, ok := p.readErrs[key]; ok {
		return nil, err
	}
	b, ok := p.values[key]
	if !ok {
		return nil, errors.New("attribute not found")
	}
	return append([]byte(nil), b...), nil
}

func (p *Peripheral) CancelConnection() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

// Dialer connects to registered peripherals by address.
type Dialer struct {
	mu          sync.Mutex
	peripherals map[string]*Peripheral
	dials       int

	// Err, when set, fails every dial.
	Err error
}

// NewDialer returns a dialer with no peripherals.
func NewDialer() *Dialer {
	return &Dialer{peripherals: make(map[string]*Peripheral)}
}

// Add registers p under addr.
func (d *Dialer) Add(addr string, p *Peripheral) *Dialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peripherals[strings.ToLower(addr)] = p
	return d
}

// SetErr makes subsequent dials fail with err, or succeed again when err is nil.
func (d *Dialer) SetErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Err = err
}

// Dials returns the number of dial attempts.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *Dialer) Dial(ctx context.Context, addr ble.Addr) (session.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Err != nil {
		return nil, d.Err
	}
	p, ok := d.peripherals[strings.ToLower(addr.String())]
	if !ok {
		return nil, ErrNoDevice
	}
	return p, nil
}
