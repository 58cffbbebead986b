package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eldaeon/sensorhub/internal/domain"
	"github.com/eldaeon/sensorhub/internal/ports"
)

// ReconnectConfig drives ERROR_BACKOFF: Attempts reopen tries with a delay
// growing from Initial by Multiplier up to Max, then Cooldown before the
// device is detected again.
type ReconnectConfig struct {
	Attempts   int           `yaml:"attempts"`
	Initial    time.Duration `yaml:"initial"`
	Multiplier float64       `yaml:"multiplier"`
	Max        time.Duration `yaml:"max"`
	Cooldown   time.Duration `yaml:"cooldown"`
}

type Config struct {
	Name                 string          `yaml:"name"`
	Driver               string          `yaml:"driver"`
	Identity             string          `yaml:"identity"`
	Candidates           []string        `yaml:"candidates"`
	MaxCandidates        int             `yaml:"max_candidates"`
	Interval             time.Duration   `yaml:"interval"`
	ErrorDelay           time.Duration   `yaml:"error_delay"`
	MaxConsecutiveErrors int             `yaml:"max_consecutive_errors"`
	Reconnect            ReconnectConfig `yaml:"reconnect"`
}

func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = c.Driver
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 2
	}
	if c.Interval <= 0 {
		c.Interval = 20 * time.Millisecond
	}
	if c.ErrorDelay <= 0 {
		c.ErrorDelay = 50 * time.Millisecond
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 10
	}
	r := &c.Reconnect
	if r.Attempts <= 0 {
		r.Attempts = 3
	}
	if r.Initial <= 0 {
		r.Initial = 500 * time.Millisecond
	}
	if r.Multiplier < 1 {
		r.Multiplier = 2
	}
	if r.Max <= 0 {
		r.Max = 5 * time.Second
	}
	if r.Cooldown <= 0 {
		r.Cooldown = 30 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.Driver == "" {
		return errors.New("driver is required")
	}
	if len(c.Candidates) == 0 {
		return errors.New("at least one candidate path is required")
	}
	return nil
}

// SampleWriter is the store surface a poller needs.
type SampleWriter interface {
	WriteBatch(samples []domain.Sample)
}

// Poller owns one device connection and runs the
// DETECTING → CONNECTED → POLLING ⇄ ERROR_BACKOFF → CLOSED cycle for it.
type Poller struct {
	cfg    Config
	driver ports.Driver
	opener ports.Opener
	store  SampleWriter
	claims *Claims
	obs    ports.Observability
	clock  ports.Clock

	// touched only by the Run goroutine
	conn      ports.Conn
	path      string
	connected bool

	mu     sync.RWMutex
	status Status
}

type Option func(*Poller)

func WithObservability(obs ports.Observability) Option {
	return func(p *Poller) {
		if obs != nil {
			p.obs = obs
		}
	}
}

func WithClock(c ports.Clock) Option {
	return func(p *Poller) {
		if c != nil {
			p.clock = c
		}
	}
}

func WithClaims(c *Claims) Option {
	return func(p *Poller) {
		if c != nil {
			p.claims = c
		}
	}
}

func New(cfg Config, driver ports.Driver, opener ports.Opener, store SampleWriter, opts ...Option) (*Poller, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("poller %s: %w", cfg.Name, err)
	}
	if driver == nil || opener == nil || store == nil {
		return nil, fmt.Errorf("poller %s: driver, opener and store are required", cfg.Name)
	}
	p := &Poller{
		cfg:    cfg,
		driver: driver,
		opener: opener,
		store:  store,
		claims: NewClaims(),
		obs:    ports.NopObservability{},
		clock:  ports.SystemClock{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.status = Status{Name: cfg.Name, Driver: driver.Name(), State: StateDetecting}
	return p, nil
}

func (p *Poller) Name() string { return p.cfg.Name }

func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Run blocks until ctx is cancelled. It returns an error only when initial
// detection finds no device; the slot is then left in NO_DEVICE.
func (p *Poller) Run(ctx context.Context) error {
	defer p.shutdown()

	state := StateDetecting
	for ctx.Err() == nil {
		switch state {
		case StateDetecting:
			err := p.detect(ctx)
			switch {
			case err == nil:
				state = StatePolling
			case ctx.Err() != nil:
				return nil
			case !p.connected:
				p.update(func(s *Status) {
					s.State = StateNoDevice
					s.Degraded = true
					s.LastError = err.Error()
				})
				p.obs.SetGauge("sensorhub_device_degraded", 1, p.cfg.Name)
				p.obs.LogCritical("device_not_found", err, ports.Field{Key: "device", Value: p.cfg.Name})
				return fmt.Errorf("poller %s: no device: %w", p.cfg.Name, err)
			default:
				p.obs.LogError("device_redetect_failed", err, ports.Field{Key: "device", Value: p.cfg.Name})
				if sleepCtx(ctx, p.cfg.Reconnect.Cooldown) != nil {
					return nil
				}
			}
		case StatePolling:
			p.pollLoop(ctx)
			state = StateErrorBackoff
		case StateErrorBackoff:
			if ctx.Err() != nil {
				return nil
			}
			if p.reconnect(ctx) {
				state = StatePolling
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			p.update(func(s *Status) { s.Degraded = true })
			p.obs.SetGauge("sensorhub_device_degraded", 1, p.cfg.Name)
			p.obs.LogError("device_reconnect_exhausted", errors.New(p.Status().LastError),
				ports.Field{Key: "device", Value: p.cfg.Name},
				ports.Field{Key: "cooldown", Value: p.cfg.Reconnect.Cooldown})
			p.claims.Release(p.path, p.cfg.Name)
			if sleepCtx(ctx, p.cfg.Reconnect.Cooldown) != nil {
				return nil
			}
			state = StateDetecting
		}
	}
	return nil
}

// candidates puts the last good path first, then the configured list,
// bounded to MaxCandidates.
func (p *Poller) candidates() []string {
	out := make([]string, 0, len(p.cfg.Candidates)+1)
	seen := make(map[string]bool)
	if p.path != "" {
		out = append(out, p.path)
		seen[p.path] = true
	}
	for _, c := range p.cfg.Candidates {
		if !seen[c] {
			out = append(out, c)
			seen[c] = true
		}
	}
	if len(out) > p.cfg.MaxCandidates {
		out = out[:p.cfg.MaxCandidates]
	}
	return out
}

func (p *Poller) detect(ctx context.Context) error {
	p.setState(StateDetecting)

	var errs []error
	for _, path := range p.candidates() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !p.claims.Claim(path, p.cfg.Name) {
			owner, _ := p.claims.Owner(path)
			errs = append(errs, fmt.Errorf("%s: held by %s", path, owner))
			continue
		}
		conn, err := p.opener.Open(path)
		if err != nil {
			p.claims.Release(path, p.cfg.Name)
			errs = append(errs, err)
			continue
		}
		if err := p.driver.Identify(ctx, conn); err != nil {
			_ = conn.Close()
			p.claims.Release(path, p.cfg.Name)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.obs.LogInfo("device_identify_mismatch",
				ports.Field{Key: "device", Value: p.cfg.Name},
				ports.Field{Key: "path", Value: path},
				ports.Field{Key: "err", Value: err})
			errs = append(errs, err)
			continue
		}

		p.conn = conn
		p.path = path
		p.connected = true
		p.update(func(s *Status) {
			s.State = StateConnected
			s.Path = path
			s.Degraded = false
			s.ConsecutiveErrors = 0
		})
		p.obs.SetGauge("sensorhub_device_degraded", 0, p.cfg.Name)
		p.obs.LogInfo("device_detected",
			ports.Field{Key: "device", Value: p.cfg.Name},
			ports.Field{Key: "model", Value: p.driver.Name()},
			ports.Field{Key: "path", Value: path})
		return nil
	}
	if len(errs) == 0 {
		return errors.New("no candidate paths")
	}
	return errors.Join(errs...)
}

// pollLoop polls on a timer until the connection needs recovery or ctx ends.
func (p *Poller) pollLoop(ctx context.Context) {
	p.setState(StatePolling)
	consecutive := 0

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		start := time.Now()
		samples, err := p.driver.Poll(ctx, p.conn, p.clock.Now())
		p.obs.ObserveLatency("sensorhub_poll_cycle_seconds", time.Since(start).Seconds(), p.cfg.Name)

		if len(samples) > 0 {
			p.store.WriteBatch(samples)
			consecutive = 0
			last := samples[len(samples)-1].Timestamp
			p.update(func(s *Status) {
				s.ConsecutiveErrors = 0
				s.LastSample = last
			})
		}

		next := p.cfg.Interval
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.obs.IncCounter("sensorhub_poll_errors_total", 1, p.cfg.Name, errorKind(err))
			if errors.Is(err, domain.ErrDeviceDisconnected) {
				p.recordError(err, consecutive)
				return
			}
			if len(samples) == 0 {
				consecutive++
			}
			p.recordError(err, consecutive)
			if consecutive >= p.cfg.MaxConsecutiveErrors {
				return
			}
			next = p.cfg.ErrorDelay
		}
		timer.Reset(next)
	}
}

// reconnect closes the connection and reopens the same path with backoff.
// Every reopen is identified again so a device that lost power is woken up.
func (p *Poller) reconnect(ctx context.Context) bool {
	p.setState(StateErrorBackoff)
	p.closeConn()

	delay := p.cfg.Reconnect.Initial
	for attempt := 1; attempt <= p.cfg.Reconnect.Attempts; attempt++ {
		if sleepCtx(ctx, delay) != nil {
			return false
		}
		p.obs.IncCounter("sensorhub_reconnects_total", 1, p.cfg.Name)
		p.update(func(s *Status) { s.Reconnects++ })

		conn, err := p.opener.Open(p.path)
		if err == nil {
			if err = p.driver.Identify(ctx, conn); err != nil {
				_ = conn.Close()
				if ctx.Err() != nil {
					return false
				}
			}
		}
		if err == nil {
			p.conn = conn
			p.update(func(s *Status) {
				s.ConsecutiveErrors = 0
				s.Degraded = false
			})
			p.obs.SetGauge("sensorhub_device_degraded", 0, p.cfg.Name)
			p.obs.LogInfo("device_reconnected",
				ports.Field{Key: "device", Value: p.cfg.Name},
				ports.Field{Key: "path", Value: p.path},
				ports.Field{Key: "attempt", Value: attempt})
			return true
		}
		p.recordError(err, 0)

		delay = time.Duration(float64(delay) * p.cfg.Reconnect.Multiplier)
		if delay > p.cfg.Reconnect.Max {
			delay = p.cfg.Reconnect.Max
		}
	}
	return false
}

func (p *Poller) closeConn() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Close(); err != nil {
		p.obs.LogError("device_close_failed", err, ports.Field{Key: "device", Value: p.cfg.Name})
	}
	p.conn = nil
}

func (p *Poller) shutdown() {
	p.closeConn()
	if p.path != "" {
		p.claims.Release(p.path, p.cfg.Name)
	}
	p.update(func(s *Status) {
		if s.State != StateNoDevice {
			s.State = StateClosed
		}
	})
}

func (p *Poller) setState(st State) {
	p.update(func(s *Status) { s.State = st })
	p.obs.LogInfo("poller_state", ports.Field{Key: "device", Value: p.cfg.Name}, ports.Field{Key: "state", Value: st})
}

func (p *Poller) recordError(err error, consecutive int) {
	p.update(func(s *Status) {
		s.LastError = err.Error()
		s.ConsecutiveErrors = consecutive
	})
}

func (p *Poller) update(fn func(*Status)) {
	p.mu.Lock()
	fn(&p.status)
	p.mu.Unlock()
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrDeviceDisconnected):
		return "disconnected"
	case errors.Is(err, domain.ErrDeviceTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrDeviceMalformedResponse):
		return "malformed"
	default:
		return "other"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
