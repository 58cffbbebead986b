package sensorhub

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoSources is returned when a flow would build a runtime that never
// produces a sample.
var ErrNoSources = errors.New("sensorhub: no devices configured and gps disabled")

// Flow builds an EdgeRuntime in two steps: StreamIN names where samples come
// from, StreamOUT names where they go. StreamOUT checks that the acquisition
// side can produce something before anything is dialed.
type Flow struct {
	cfg *Config

	opener Opener
	gps    GPSProvider
	store  *Store
	obs    Observability
	sinks  []Sink
	extra  []EdgeRuntimeOption
}

// FlowOption mutates the Flow after configuration is loaded.
type FlowOption func(*Flow)

// StreamInOption configures the acquisition side: devices, GPS and the store.
type StreamInOption func(*Flow)

// StreamOutOption configures the distribution side.
type StreamOutOption func(*Flow)

// Conf loads YAML from disk and returns a Flow for it.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig starts a Flow from an in-memory Config.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// StreamOUT applies the distribution options, checks the sources and builds
// the runtime. Nothing is started.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*EdgeRuntime, error) {
	if f == nil {
		return nil, fmt.Errorf("flow is nil")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	if err := f.checkSources(); err != nil {
		return nil, err
	}
	return NewEdgeRuntime(f.cfg, f.runtimeOptions()...)
}

// Run builds the runtime and blocks until ctx ends.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

// checkSources rejects overrides the config would silently ignore and a
// runtime with nothing to poll.
func (f *Flow) checkSources() error {
	var errs []error
	if len(f.cfg.Devices) == 0 && !f.cfg.GPS.Enabled {
		errs = append(errs, ErrNoSources)
	}
	if f.opener != nil && len(f.cfg.Devices) == 0 {
		errs = append(errs, errors.New("sensorhub: opener given but no devices configured"))
	}
	if f.gps != nil && !f.cfg.GPS.Enabled {
		errs = append(errs, errors.New("sensorhub: gps provider given but gps.enabled is false"))
	}
	return errors.Join(errs...)
}

func (f *Flow) runtimeOptions() []EdgeRuntimeOption {
	opts := make([]EdgeRuntimeOption, 0, len(f.sinks)+len(f.extra)+4)
	opts = append(opts, f.extra...)
	if f.opener != nil {
		opts = append(opts, WithOpener(f.opener))
	}
	if f.gps != nil {
		opts = append(opts, WithGPSProvider(f.gps))
	}
	if f.store != nil {
		opts = append(opts, WithStore(f.store))
	}
	if f.obs != nil {
		opts = append(opts, WithObservability(f.obs))
	}
	for _, s := range f.sinks {
		opts = append(opts, WithSink(s))
	}
	return opts
}

// WithFlowOptions passes raw runtime options through. Typed StreamIN and
// StreamOUT options are applied after them and win.
func WithFlowOptions(opts ...EdgeRuntimeOption) FlowOption {
	return func(f *Flow) {
		for _, opt := range opts {
			if opt != nil {
				f.extra = append(f.extra, opt)
			}
		}
	}
}

// StreamInDevice adds a device next to the ones in the config file.
func StreamInDevice(d DeviceConfig) StreamInOption {
	return func(f *Flow) {
		d.Poller.ApplyDefaults()
		d.Serial.ApplyDefaults()
		f.cfg.Devices = append(f.cfg.Devices, d)
	}
}

// StreamInOpener drives every configured device through op, e.g. a simulator.
func StreamInOpener(op Opener) StreamInOption {
	return func(f *Flow) {
		if op != nil {
			f.opener = op
		}
	}
}

// StreamInGPS replaces the provider named in gps.provider.
func StreamInGPS(p GPSProvider) StreamInOption {
	return func(f *Flow) {
		if p != nil {
			f.gps = p
		}
	}
}

func StreamInStore(st *Store) StreamInOption {
	return func(f *Flow) {
		if st != nil {
			f.store = st
		}
	}
}

// StreamInObservability replaces the Prometheus backend for the whole runtime.
func StreamInObservability(obs Observability) StreamInOption {
	return func(f *Flow) {
		if obs != nil {
			f.obs = obs
		}
	}
}

func StreamOutSink(s Sink) StreamOutOption {
	return func(f *Flow) {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
}

// StreamOutCallback wraps fn in a callback sink.
func StreamOutCallback(name string, fn BatchHandler) StreamOutOption {
	return func(f *Flow) {
		if fn != nil {
			f.sinks = append(f.sinks, NewCallbackSink(name, fn))
		}
	}
}
