// Package reader polls one Flower Power device and keeps its latest readings.
package reader

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/r0bj/flowerpower-exporter/internal/cache"
	"github.com/r0bj/flowerpower-exporter/internal/catalog"
	"github.com/r0bj/flowerpower-exporter/internal/decode"
	"github.com/r0bj/flowerpower-exporter/internal/session"
)

// DefaultMinInterval is the minimum spacing between two refresh attempts.
const DefaultMinInterval = 15 * time.Minute

// Identity names a device.
type Identity struct {
	Address string
	Label   string
}

// Result describes one Refresh call.
type Result struct {
	// Skipped is set when the minimum interval had not elapsed.
	Skipped bool
	// Updated lists the fields stored in this refresh, in catalog order.
	Updated []string
	// Failed holds the per-field errors of this refresh.
	Failed   map[string]error
	Duration time.Duration
}

// Reader owns the session lifecycle and the reading cache of one device.
// Refresh must not be called concurrently on the same Reader; Get may be
// called at any time.
type Reader struct {
	id          Identity
	dialer      session.Dialer
	cache       *cache.Cache
	fields      []catalog.Field
	minInterval time.Duration
	connect     session.Options
	log         *slog.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithMinInterval overrides DefaultMinInterval.
func WithMinInterval(d time.Duration) Option {
	return func(r *Reader) { r.minInterval = d }
}

// WithConnectOptions sets how sessions are dialed.
func WithConnectOptions(o session.Options) Option {
	return func(r *Reader) { r.connect = o }
}

// WithLogger sets the logger; the device label and address are added to it.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) { r.log = l }
}

// New returns a Reader for id. No I/O happens until the first Refresh.
func New(id Identity, d session.Dialer, opts ...Option) *Reader {
	r := &Reader{
		id:          id,
		dialer:      d,
		cache:       cache.New(),
		fields:      catalog.All(),
		minInterval: DefaultMinInterval,
		connect:     session.DefaultOptions(),
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.With("device", id.Label, "address", id.Address)
	r.connect.Logger = r.log
	return r
}

// Identity returns the device this reader polls.
func (r *Reader) Identity() Identity { return r.id }

// Get returns the latest value of key without touching the device.
func (r *Reader) Get(key string) (decode.Value, error) {
	return r.cache.Get(key)
}

// Entry returns the latest value of key and when it was read.
func (r *Reader) Entry(key string) (cache.Entry, error) {
	return r.cache.Entry(key)
}

// Snapshot returns the latest value of every field.
func (r *Reader) Snapshot() map[string]cache.Entry {
	return r.cache.Snapshot()
}

// Refresh reads every catalog field from the device unless the previous
// attempt was less than the minimum interval before now.
//
// A connection failure is returned and leaves the cache untouched. Field
// failures are collected in Result.Failed and keep the previous value.
func (r *Reader) Refresh(ctx context.Context, now time.Time) (res Result, err error) {
	if !r.cache.ShouldRefresh(now, r.minInterval) {
		r.log.Debug("Skipping refresh, minimum interval not elapsed")
		return Result{Skipped: true}, nil
	}

	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	r.log.Debug("Updating data")
	s, err := session.Open(ctx, r.dialer, r.id.Address, r.connect)
	if err != nil {
		r.log.Error("Not connected", "error", err)
		return res, err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			r.log.Error("Error disconnecting", "error", cerr)
		}
	}()

	res.Failed = make(map[string]error)
	for _, f := range r.fields {
		if err := ctx.Err(); err != nil {
			r.log.Warn("Refresh interrupted", "field", f.Key, "error", err)
			return res, err
		}

		v, err := r.readField(s, f)
		if err != nil {
			res.Failed[f.Key] = err
			r.logFieldError(f, err)
			continue
		}
		if err := r.cache.Set(f.Key, v, now); err != nil {
			res.Failed[f.Key] = err
			continue
		}
		res.Updated = append(res.Updated, f.Key)
		r.log.Debug("Decoded data", "field", f.Key, "value", v.String())
	}

	r.log.Info("Refresh complete",
		"updated", len(res.Updated),
		"failed", len(res.Failed))
	return res, nil
}

func (r *Reader) readField(s *session.Session, f catalog.Field) (decode.Value, error) {
	raw, err := s.Read(f.UUID)
	if err != nil {
		return decode.Unknown, err
	}
	return f.Decode(raw)
}

func (r *Reader) logFieldError(f catalog.Field, err error) {
	var de *decode.DecodeError
	if errors.As(err, &de) {
		r.log.Warn("Unable to decode data", "field", f.Key, "error", err)
		return
	}
	r.log.Debug("Data not available for now", "field", f.Key, "error", err)
}
