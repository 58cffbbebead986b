package nmea

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	gonmea "github.com/adrianmo/go-nmea"
	serial "go.bug.st/serial"

	"github.com/eldaeon/sensorhub/internal/domain"
)

const metersPerSecondPerKnot = 0.514444

// Provider reads NMEA 0183 sentences from a serial receiver. GGA supplies
// position and altitude, RMC supplies ground speed.
type Provider struct {
	device     string
	baud       int
	staleAfter time.Duration
	open       func(device string, mode *serial.Mode) (io.ReadCloser, error)
	now        func() time.Time

	mu        sync.Mutex
	port      io.ReadCloser
	gga       gonmea.GGA
	ggaAt     time.Time
	rmc       gonmea.RMC
	rmcAt     time.Time
	parseErrs int
}

func New(device string, baud int, staleAfter time.Duration) *Provider {
	if baud <= 0 {
		baud = 9600
	}
	if staleAfter <= 0 {
		staleAfter = 3 * time.Second
	}
	return &Provider{
		device:     device,
		baud:       baud,
		staleAfter: staleAfter,
		open: func(device string, mode *serial.Mode) (io.ReadCloser, error) {
			return serial.Open(device, mode)
		},
		now: time.Now,
	}
}

func (p *Provider) Name() string { return "nmea" }

// Connect opens the port once and starts the sentence reader.
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	port, err := p.open(p.device, &serial.Mode{BaudRate: p.baud})
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", domain.ErrGPSUnavailable, p.device, err)
	}
	p.port = port
	go p.readLoop(port)
	return nil
}

func (p *Provider) readLoop(port io.ReadCloser) {
	sc := bufio.NewScanner(port)
	for sc.Scan() {
		p.handleSentence(sc.Text())
	}
	p.mu.Lock()
	if p.port == port {
		p.port = nil
	}
	p.mu.Unlock()
	_ = port.Close()
}

func (p *Provider) handleSentence(line string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return
	}
	s, err := gonmea.Parse(line)
	if err != nil {
		p.mu.Lock()
		p.parseErrs++
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch m := s.(type) {
	case gonmea.GGA:
		p.gga, p.ggaAt = m, p.now()
	case gonmea.RMC:
		p.rmc, p.rmcAt = m, p.now()
	}
}

// Fix requires a fresh GGA with a position solution. Speed comes from a
// fresh valid RMC and is zero otherwise.
func (p *Provider) Fix(context.Context) (domain.Fix, error) {
	p.mu.Lock()
	gga, ggaAt := p.gga, p.ggaAt
	rmc, rmcAt := p.rmc, p.rmcAt
	p.mu.Unlock()

	now := p.now()
	if ggaAt.IsZero() || now.Sub(ggaAt) > p.staleAfter {
		return domain.NoFix(), fmt.Errorf("%w: no recent GGA", domain.ErrGPSUnavailable)
	}
	if gga.FixQuality == gonmea.Invalid || gga.FixQuality == "" {
		return domain.NoFix(), fmt.Errorf("%w: fix quality %q", domain.ErrGPSUnavailable, gga.FixQuality)
	}

	var speed float64
	if !rmcAt.IsZero() && now.Sub(rmcAt) <= p.staleAfter && rmc.Validity == gonmea.ValidRMC {
		speed = rmc.Speed * metersPerSecondPerKnot
	}
	return domain.FixFromMetric(gga.Latitude, gga.Longitude, gga.Altitude, speed), nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	port := p.port
	p.port = nil
	p.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}
