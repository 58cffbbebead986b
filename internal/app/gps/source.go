package gps

import (
	"context"
	"sync"
	"time"

	"github.com/eldaeon/sensorhub/internal/domain"
	"github.com/eldaeon/sensorhub/internal/ports"
)

type Config struct {
	Enabled    bool          `yaml:"enabled"`
	Provider   string        `yaml:"provider"` // "gpsd", "nmea"
	Addr       string        `yaml:"addr"`
	Device     string        `yaml:"device"`
	Baud       int           `yaml:"baud"`
	Interval   time.Duration `yaml:"interval"`
	FixTimeout time.Duration `yaml:"fix_timeout"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "gpsd"
	}
	if c.Addr == "" {
		c.Addr = "localhost:2947"
	}
	if c.Baud <= 0 {
		c.Baud = 9600
	}
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	if c.FixTimeout <= 0 {
		c.FixTimeout = time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 3 * time.Second
	}
}

// Source wraps a provider so callers always get an answer within the fix
// timeout. Every failure collapses to NoFix.
type Source struct {
	provider ports.GPSProvider
	timeout  time.Duration
	obs      ports.Observability

	mu        sync.Mutex
	hasFix    bool
	lastFix   time.Time
	noFixRun  int
	lastError string
}

func NewSource(p ports.GPSProvider, timeout time.Duration, obs ports.Observability) *Source {
	if timeout <= 0 {
		timeout = time.Second
	}
	if obs == nil {
		obs = ports.NopObservability{}
	}
	return &Source{provider: p, timeout: timeout, obs: obs}
}

type result struct {
	fix domain.Fix
	err error
}

// CurrentFix connects on demand and returns the provider's fix, or NoFix on
// error, invalid fix or timeout.
func (s *Source) CurrentFix(ctx context.Context) domain.Fix {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		if err := s.provider.Connect(ctx); err != nil {
			ch <- result{err: err}
			return
		}
		fix, err := s.provider.Fix(ctx)
		ch <- result{fix: fix, err: err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-ctx.Done():
		r.err = ctx.Err()
	}
	if r.err == nil && !r.fix.Valid {
		r.err = domain.ErrGPSUnavailable
	}
	s.record(r)
	if r.err != nil {
		return domain.NoFix()
	}
	return r.fix
}

// record logs only on fix acquired/lost transitions.
func (s *Source) record(r result) {
	s.mu.Lock()
	had := s.hasFix
	if r.err != nil {
		s.hasFix = false
		s.noFixRun++
		s.lastError = r.err.Error()
	} else {
		s.hasFix = true
		s.noFixRun = 0
		s.lastFix = time.Now()
	}
	now := s.hasFix
	s.mu.Unlock()

	if now {
		s.obs.SetGauge("sensorhub_gps_fix", 1)
	} else {
		s.obs.SetGauge("sensorhub_gps_fix", 0)
		s.obs.IncCounter("sensorhub_gps_nofix_total", 1)
	}
	switch {
	case now && !had:
		s.obs.LogInfo("gps_fix_acquired", ports.Field{Key: "provider", Value: s.provider.Name()})
	case !now && had:
		s.obs.LogError("gps_fix_lost", r.err, ports.Field{Key: "provider", Value: s.provider.Name()})
	}
}

// Status is a point-in-time view of the GPS source.
type Status struct {
	Provider  string    `json:"provider"`
	HasFix    bool      `json:"has_fix"`
	LastFix   time.Time `json:"last_fix"`
	NoFixRun  int       `json:"no_fix_streak"`
	LastError string    `json:"last_error,omitempty"`
}

func (s *Source) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Provider:  s.provider.Name(),
		HasFix:    s.hasFix,
		LastFix:   s.lastFix,
		NoFixRun:  s.noFixRun,
		LastError: s.lastError,
	}
}

func (s *Source) Close() error { return s.provider.Close() }
