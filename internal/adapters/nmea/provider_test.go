package nmea

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	serial "go.bug.st/serial"

	"github.com/eldaeon/sensorhub/internal/domain"
)

const (
	ggaFix   = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	ggaNoFix = "$GPGGA,123519,,,,,0,00,,,M,,M,,*6B"
	rmcValid = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
)

func TestFixFromSentences(t *testing.T) {
	p := New("/dev/ttyACM0", 9600, time.Second)
	p.handleSentence(ggaFix)
	p.handleSentence(rmcValid)

	fix, err := p.Fix(context.Background())
	if err != nil {
		t.Fatalf("fix: %v", err)
	}
	if math.Abs(fix.Latitude-48.1173) > 1e-4 || math.Abs(fix.Longitude-11.516666) > 1e-4 {
		t.Fatalf("unexpected position %+v", fix)
	}
	if math.Abs(fix.Altitude-545.4*domain.FeetPerMeter) > 1e-6 {
		t.Fatalf("unexpected altitude %v", fix.Altitude)
	}
	wantSpeed := 22.4 * metersPerSecondPerKnot * domain.MPHPerMeterSecond
	if math.Abs(fix.Speed-wantSpeed) > 1e-6 {
		t.Fatalf("expected speed %v, got %v", wantSpeed, fix.Speed)
	}
}

func TestFixWithoutPositionSolution(t *testing.T) {
	p := New("/dev/ttyACM0", 9600, time.Second)
	p.handleSentence(ggaNoFix)

	if _, err := p.Fix(context.Background()); !errors.Is(err, domain.ErrGPSUnavailable) {
		t.Fatalf("expected ErrGPSUnavailable, got %v", err)
	}
}

func TestGarbageIsIgnored(t *testing.T) {
	p := New("/dev/ttyACM0", 9600, time.Second)
	p.handleSentence("$GPGGA,broken*00")
	p.handleSentence("noise")

	if p.parseErrs != 1 {
		t.Fatalf("expected one parse error, got %d", p.parseErrs)
	}
	if _, err := p.Fix(context.Background()); !errors.Is(err, domain.ErrGPSUnavailable) {
		t.Fatalf("expected ErrGPSUnavailable, got %v", err)
	}
}

func TestStaleSentenceIsNoFix(t *testing.T) {
	now := time.Unix(500, 0)
	p := New("/dev/ttyACM0", 9600, time.Second)
	p.now = func() time.Time { return now }
	p.handleSentence(ggaFix)

	now = now.Add(2 * time.Second)
	if _, err := p.Fix(context.Background()); !errors.Is(err, domain.ErrGPSUnavailable) {
		t.Fatalf("expected stale GGA to be rejected, got %v", err)
	}
}

func TestConnectReadsFromPort(t *testing.T) {
	pr, pw := io.Pipe()
	p := New("/dev/ttyACM0", 4800, time.Second)
	var gotBaud int
	p.open = func(_ string, mode *serial.Mode) (io.ReadCloser, error) {
		gotBaud = mode.BaudRate
		return pr, nil
	}

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if gotBaud != 4800 {
		t.Fatalf("expected baud 4800, got %d", gotBaud)
	}
	go func() { _, _ = io.WriteString(pw, ggaFix+"\r\n") }()

	deadline := time.Now().Add(time.Second)
	for {
		if _, err := p.Fix(context.Background()); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sentence from port never produced a fix")
		}
		time.Sleep(time.Millisecond)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
