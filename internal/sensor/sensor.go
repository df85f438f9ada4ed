// Package sensor exposes each field of a device as a named, unit-tagged sensor.
package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/r0bj/flowerpower-exporter/internal/cache"
	"github.com/r0bj/flowerpower-exporter/internal/catalog"
	"github.com/r0bj/flowerpower-exporter/internal/decode"
	"github.com/r0bj/flowerpower-exporter/internal/reader"
)

// Source is the device a Sensor reads from. *reader.Reader implements it.
type Source interface {
	Identity() reader.Identity
	Get(key string) (decode.Value, error)
	Entry(key string) (cache.Entry, error)
	Refresh(ctx context.Context, now time.Time) (reader.Result, error)
}

// Sensor is one field of one device.
type Sensor struct {
	src   Source
	field catalog.Field
}

// New returns the sensor for field f of src.
func New(src Source, f catalog.Field) *Sensor {
	return &Sensor{src: src, field: f}
}

// ForReader returns one sensor per catalog field, in catalog order.
func ForReader(src Source) []*Sensor {
	fields := catalog.All()
	out := make([]*Sensor, 0, len(fields))
	for _, f := range fields {
		out = append(out, New(src, f))
	}
	return out
}

func (s *Sensor) Key() string { return s.field.Key }

func (s *Sensor) Name() string {
	return fmt.Sprintf("FlowerPower %s %s", s.src.Identity().Label, s.field.Name)
}

func (s *Sensor) UniqueID() string {
	return fmt.Sprintf("flowerpower-%s-%s", s.src.Identity().Label, s.field.Name)
}

func (s *Sensor) Unit() string { return s.field.Unit }

func (s *Sensor) Icon() string { return s.field.Icon }

func (s *Sensor) Class() catalog.Class { return s.field.Class }

func (s *Sensor) Device() reader.Identity { return s.src.Identity() }

// State returns the latest value. It never contacts the device.
func (s *Sensor) State() (decode.Value, error) {
	return s.src.Get(s.field.Key)
}

// Update asks the device for a refresh; the reader decides whether one is due.
func (s *Sensor) Update(ctx context.Context) error {
	_, err := s.src.Refresh(ctx, time.Now())
	return err
}

// State is the serialised form of a sensor.
type State struct {
	Key       string       `json:"key"`
	Name      string       `json:"name"`
	UniqueID  string       `json:"unique_id"`
	Device    string       `json:"device"`
	Address   string       `json:"address"`
	Unit      string       `json:"unit,omitempty"`
	Icon      string       `json:"icon,omitempty"`
	Class     string       `json:"device_class,omitempty"`
	Value     decode.Value `json:"state"`
	UpdatedAt *time.Time   `json:"updated_at,omitempty"`
}

// Snapshot returns the sensor's description together with its latest value.
func (s *Sensor) Snapshot() (State, error) {
	e, err := s.src.Entry(s.field.Key)
	if err != nil {
		return State{}, err
	}

	id := s.src.Identity()
	st := State{
		Key:      s.field.Key,
		Name:     s.Name(),
		UniqueID: s.UniqueID(),
		Device:   id.Label,
		Address:  id.Address,
		Unit:     s.field.Unit,
		Icon:     s.field.Icon,
		Class:    string(s.field.Class),
		Value:    e.Value,
	}
	if !e.Value.IsUnknown() {
		at := e.UpdatedAt
		st.UpdatedAt = &at
	}
	return st, nil
}
