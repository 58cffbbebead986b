package gpsd

import (
	"context"
	"fmt"
	"sync"
	"time"

	gpsd "github.com/stratoberry/go-gpsd"

	"github.com/eldaeon/sensorhub/internal/domain"
)

const defaultDialTimeout = 2 * time.Second

// Provider keeps the most recent TPV report from a gpsd daemon.
type Provider struct {
	addr        string
	staleAfter  time.Duration
	dialTimeout time.Duration
	dial        func(addr string) (*gpsd.Session, error)
	now         func() time.Time

	mu       sync.Mutex
	session  *gpsd.Session
	dialing  bool
	last     gpsd.TPVReport
	received time.Time
}

// New returns a provider for the gpsd daemon at addr. dialTimeout bounds the
// TCP connect; zero picks a short default.
func New(addr string, staleAfter, dialTimeout time.Duration) *Provider {
	if staleAfter <= 0 {
		staleAfter = 3 * time.Second
	}
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	p := &Provider{
		addr:        addr,
		staleAfter:  staleAfter,
		dialTimeout: dialTimeout,
		now:         time.Now,
	}
	p.dial = func(a string) (*gpsd.Session, error) { return gpsd.DialTimeout(a, p.dialTimeout) }
	return p
}

func (p *Provider) Name() string { return "gpsd" }

// Connect dials gpsd and starts watching once. A dropped watch clears the
// session so the next call redials. At most one dial runs at a time; callers
// that arrive while it is pending get ErrGPSUnavailable without dialing.
func (p *Provider) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.session != nil {
		p.mu.Unlock()
		return nil
	}
	if p.dialing {
		p.mu.Unlock()
		return fmt.Errorf("%w: dial gpsd %s still pending", domain.ErrGPSUnavailable, p.addr)
	}
	p.dialing = true
	p.mu.Unlock()

	s, err := p.dial(p.addr)
	if err == nil {
		s.AddFilter("TPV", func(r interface{}) {
			if tpv, ok := r.(*gpsd.TPVReport); ok {
				p.onTPV(tpv)
			}
		})
	}

	p.mu.Lock()
	p.dialing = false
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: dial gpsd %s: %v", domain.ErrGPSUnavailable, p.addr, err)
	}
	p.session = s
	p.mu.Unlock()

	done := s.Watch()
	go func() {
		<-done
		p.mu.Lock()
		if p.session == s {
			p.session = nil
		}
		p.mu.Unlock()
	}()
	return nil
}

func (p *Provider) onTPV(r *gpsd.TPVReport) {
	p.mu.Lock()
	p.last = *r
	p.received = p.now()
	p.mu.Unlock()
}

// Fix converts the latest report. Stale reports and mode below 2D count as
// no fix.
func (p *Provider) Fix(context.Context) (domain.Fix, error) {
	p.mu.Lock()
	r, at := p.last, p.received
	p.mu.Unlock()

	if at.IsZero() {
		return domain.NoFix(), fmt.Errorf("%w: no TPV report yet", domain.ErrGPSUnavailable)
	}
	if age := p.now().Sub(at); age > p.staleAfter {
		return domain.NoFix(), fmt.Errorf("%w: last report %s old", domain.ErrGPSUnavailable, age.Round(time.Millisecond))
	}
	if r.Mode < gpsd.Mode2D {
		return domain.NoFix(), fmt.Errorf("%w: mode %d", domain.ErrGPSUnavailable, r.Mode)
	}
	return domain.FixFromMetric(r.Lat, r.Lon, r.Alt, r.Speed), nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	s := p.session
	p.session = nil
	p.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}
