package serialport

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eldaeon/sensorhub/internal/domain"
	"github.com/eldaeon/sensorhub/internal/ports"
)

// chunk becomes readable `after` the command was written.
type chunk struct {
	after time.Duration
	data  []byte
}

type fakePort struct {
	mu        sync.Mutex
	replies   map[string][]chunk
	pending   []chunk
	written   time.Time
	timeout   time.Duration
	readErr   error
	resets    int
	closed    bool
	lastWrite []byte
}

func newFakePort(replies map[string][]chunk) *fakePort {
	return &fakePort{replies: replies, timeout: time.Second}
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastWrite = append([]byte(nil), p...)
	f.pending = append([]chunk(nil), f.replies[string(p)]...)
	f.written = time.Now()
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.readErr != nil {
		err := f.readErr
		f.mu.Unlock()
		return 0, err
	}
	timeout := f.timeout
	if len(f.pending) == 0 {
		f.mu.Unlock()
		time.Sleep(timeout)
		return 0, nil
	}
	next := f.pending[0]
	wait := time.Until(f.written.Add(next.after))
	if wait > timeout {
		f.mu.Unlock()
		time.Sleep(timeout)
		return 0, nil
	}
	f.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	n := copy(p, next.data)
	if n < len(next.data) {
		f.pending[0].data = next.data[n:]
	} else {
		f.pending = f.pending[1:]
	}
	return n, nil
}

func (f *fakePort) ResetInputBuffer() error {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
	return nil
}

func (f *fakePort) SetReadTimeout(t time.Duration) error {
	f.mu.Lock()
	f.timeout = t
	f.mu.Unlock()
	return nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

var testCfg = Config{Baud: 115200, FirstByte: 60 * time.Millisecond, Gap: 10 * time.Millisecond}

func TestExchangeQuietFramedCoalescesChunks(t *testing.T) {
	port := newFakePort(map[string][]chunk{
		"<GETEMF>>": {
			{after: 5 * time.Millisecond, data: []byte("EMF = ")},
			{after: 9 * time.Millisecond, data: []byte("1.5 mG")},
		},
	})
	conn := NewConn("/dev/test", port, testCfg)

	resp, err := conn.Exchange(context.Background(), []byte("<GETEMF>>"), ports.QuietFramed)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if string(resp) != "EMF = 1.5 mG" {
		t.Fatalf("expected coalesced response, got %q", resp)
	}
	if port.resets != 1 {
		t.Fatalf("expected input buffer reset before write, got %d", port.resets)
	}
}

func TestExchangeQuietFramedStopsAtGap(t *testing.T) {
	port := newFakePort(map[string][]chunk{
		"<GETVER>>": {
			{after: 2 * time.Millisecond, data: []byte("GQ-EMF390")},
			{after: 200 * time.Millisecond, data: []byte("late")},
		},
	})
	conn := NewConn("/dev/test", port, testCfg)

	resp, err := conn.Exchange(context.Background(), []byte("<GETVER>>"), ports.QuietFramed)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if string(resp) != "GQ-EMF390" {
		t.Fatalf("expected read to end at quiet gap, got %q", resp)
	}
}

func TestExchangeTimesOutWithoutFirstByte(t *testing.T) {
	port := newFakePort(nil)
	conn := NewConn("/dev/test", port, testCfg)

	start := time.Now()
	_, err := conn.Exchange(context.Background(), []byte("<GETCPMH>>"), ports.FixedLength(4))
	if !errors.Is(err, domain.ErrDeviceTimeout) {
		t.Fatalf("expected ErrDeviceTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("first-byte deadline not honoured, took %s", elapsed)
	}
}

func TestExchangeFixedLength(t *testing.T) {
	port := newFakePort(map[string][]chunk{
		"<GETCPMH>>": {
			{after: time.Millisecond, data: []byte{0, 0}},
			{after: 3 * time.Millisecond, data: []byte{0x01, 0x2c, 0xff}},
		},
	})
	conn := NewConn("/dev/test", port, testCfg)

	resp, err := conn.Exchange(context.Background(), []byte("<GETCPMH>>"), ports.FixedLength(4))
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if !bytes.Equal(resp, []byte{0, 0, 0x01, 0x2c}) {
		t.Fatalf("unexpected payload % x", resp)
	}
}

func TestExchangeFixedLengthTruncated(t *testing.T) {
	port := newFakePort(map[string][]chunk{
		"<GETCPML>>": {{after: time.Millisecond, data: []byte{0, 1}}},
	})
	conn := NewConn("/dev/test", port, testCfg)

	_, err := conn.Exchange(context.Background(), []byte("<GETCPML>>"), ports.FixedLength(4))
	if !errors.Is(err, domain.ErrDeviceMalformedResponse) {
		t.Fatalf("expected ErrDeviceMalformedResponse, got %v", err)
	}
}

func TestExchangeReadErrorIsDisconnect(t *testing.T) {
	port := newFakePort(nil)
	port.readErr = errors.New("input/output error")
	conn := NewConn("/dev/test", port, testCfg)

	_, err := conn.Exchange(context.Background(), []byte("<GETEF>>"), ports.QuietFramed)
	if !errors.Is(err, domain.ErrDeviceDisconnected) {
		t.Fatalf("expected ErrDeviceDisconnected, got %v", err)
	}
}

func TestExchangeAfterCloseFails(t *testing.T) {
	port := newFakePort(nil)
	conn := NewConn("/dev/test", port, testCfg)

	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !port.closed {
		t.Fatalf("expected port closed")
	}
	if err := conn.Write(context.Background(), []byte("<POWERON>>")); !errors.Is(err, domain.ErrDeviceDisconnected) {
		t.Fatalf("expected ErrDeviceDisconnected after close, got %v", err)
	}
}
