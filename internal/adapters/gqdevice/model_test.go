package gqdevice

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/eldaeon/sensorhub/internal/domain"
	"github.com/eldaeon/sensorhub/internal/ports"
)

type stubConn struct {
	replies map[string][]byte
	errs    map[string]error
	writes  []string
}

func (s *stubConn) Exchange(_ context.Context, cmd []byte, _ ports.ResponseShape) ([]byte, error) {
	s.writes = append(s.writes, string(cmd))
	if err, ok := s.errs[string(cmd)]; ok {
		return nil, err
	}
	return s.replies[string(cmd)], nil
}

func (s *stubConn) Write(_ context.Context, cmd []byte) error {
	s.writes = append(s.writes, string(cmd))
	return nil
}

func (s *stubConn) Path() string { return "/dev/stub" }
func (s *stubConn) Close() error { return nil }

func TestDecodeUint32BE(t *testing.T) {
	v, err := DecodeUint32BE([]byte{0x00, 0x00, 0x01, 0x2c})
	if err != nil || v != 300 {
		t.Fatalf("expected 300, got %v (%v)", v, err)
	}
	if _, err := DecodeUint32BE([]byte{1, 2, 3}); !errors.Is(err, domain.ErrDeviceMalformedResponse) {
		t.Fatalf("expected malformed for short payload, got %v", err)
	}
}

func TestDecodeToken(t *testing.T) {
	cases := []struct {
		raw   string
		index int
		want  float64
		ok    bool
	}{
		{"EMF = 1.5 mG\r\n", 2, 1.5, true},
		{"0.042 mW/m2", 0, 0.042, true},
		{"EF = \xff5.3 V/m", 2, 5.3, true},
		{"EMF =", 2, 0, false},
		{"EMF = abc mG", 2, 0, false},
		{"EMF = NaN mG", 2, 0, false},
		{"", 0, 0, false},
	}
	for _, tc := range cases {
		v, err := DecodeToken(tc.index)([]byte(tc.raw))
		if tc.ok {
			if err != nil || v != tc.want {
				t.Fatalf("%q[%d]: expected %v, got %v (%v)", tc.raw, tc.index, tc.want, v, err)
			}
			continue
		}
		if !errors.Is(err, domain.ErrDeviceMalformedResponse) {
			t.Fatalf("%q[%d]: expected malformed, got %v (%v)", tc.raw, tc.index, v, err)
		}
	}
}

func TestIdentifyMatchesPrefix(t *testing.T) {
	m := GMC500()
	m.Settle = 0
	conn := &stubConn{replies: map[string][]byte{"<GETVER>>": []byte("GMC-500+Re 2.42")}}

	if err := m.Identify(context.Background(), conn); err != nil {
		t.Fatalf("identify: %v", err)
	}
	if len(conn.writes) != 2 || conn.writes[0] != "<POWERON>>" {
		t.Fatalf("expected power-on before version query, got %v", conn.writes)
	}
}

func TestIdentifyMismatch(t *testing.T) {
	m := GMC500()
	m.Settle = 0
	conn := &stubConn{replies: map[string][]byte{"<GETVER>>": []byte("GQ-EMF390v2Re 3.70\r\n")}}

	if err := m.Identify(context.Background(), conn); !errors.Is(err, domain.ErrIdentityMismatch) {
		t.Fatalf("expected ErrIdentityMismatch, got %v", err)
	}
}

func TestPollSkipsMalformedReads(t *testing.T) {
	m := EMF390()
	conn := &stubConn{replies: map[string][]byte{
		"<GETEMF>>":            []byte("EMF = 2.5 mG"),
		"<GETEF>>":             []byte("garbage"),
		"<GETRFTOTALDENSITY>>": []byte("0.010 mW/m2"),
	}}
	now := time.Unix(100, 0)

	samples, err := m.Poll(context.Background(), conn, now)
	if !errors.Is(err, domain.ErrDeviceMalformedResponse) {
		t.Fatalf("expected malformed error for EF, got %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected EMF and RF samples, got %+v", samples)
	}
	if samples[0].Channel != domain.EMF || samples[0].Value != 2.5 || !samples[0].Timestamp.Equal(now) {
		t.Fatalf("unexpected EMF sample %+v", samples[0])
	}
	if samples[1].Channel != domain.RF || samples[1].Value != 0.010 {
		t.Fatalf("unexpected RF sample %+v", samples[1])
	}
}

func TestPollAbortsOnDisconnect(t *testing.T) {
	m := GMC500()
	conn := &stubConn{errs: map[string]error{
		"<GETCPMH>>": fmt.Errorf("%w: read: eof", domain.ErrDeviceDisconnected),
	}}

	samples, err := m.Poll(context.Background(), conn, time.Now())
	if !errors.Is(err, domain.ErrDeviceDisconnected) {
		t.Fatalf("expected disconnect, got %v", err)
	}
	if len(samples) != 0 || len(conn.writes) != 1 {
		t.Fatalf("expected cycle aborted after first read, writes=%v", conn.writes)
	}
}

func TestLookup(t *testing.T) {
	m, err := Lookup(DriverEMF390, "GQ-EMF390v2")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if m.Identity != "GQ-EMF390v2" {
		t.Fatalf("expected identity override, got %q", m.Identity)
	}
	if _, err := Lookup("gmc320", ""); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
