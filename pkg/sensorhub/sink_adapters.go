package sensorhub

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrChannelSinkClosed is returned when a channel sink is written to after being closed.
var ErrChannelSinkClosed = errors.New("sensorhub: channel sink closed")

// BatchHandler is invoked with ordered batches taken from the export queue.
type BatchHandler func(ctx context.Context, batches []Batch) error

// NewCallbackSink adapts a BatchHandler into a full Sink so callers can plug
// arbitrary functions without defining structs.
func NewCallbackSink(name string, fn BatchHandler) Sink {
	if name == "" {
		name = "callback"
	}
	return &callbackSink{name: name, fn: fn}
}

// NewChannelSink exposes batches via a channel. It returns the sink, the
// read-only channel, and a close function. The runtime also closes the sink
// on shutdown, so ranging over the channel ends once the export queue has
// drained.
func NewChannelSink(name string, buffer int) (Sink, <-chan []Batch, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan []Batch, buffer)
	s := &channelSink{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackSink struct {
	name string
	fn   BatchHandler
}

func (s *callbackSink) WriteBatch(ctx context.Context, batches []Batch) error {
	if s.fn == nil {
		return fmt.Errorf("callback sink %q: nil handler", s.name)
	}
	if len(batches) == 0 {
		return nil
	}
	return s.fn(ctx, copyBatches(batches))
}

func (s *callbackSink) Name() string { return s.name }
func (s *callbackSink) Close() error { return nil }

type channelSink struct {
	name string
	ch   chan []Batch

	// mu keeps close from racing a send in progress
	mu     sync.RWMutex
	closed chan struct{}
	once   sync.Once
}

// WriteBatch blocks until the reader takes the batch, the sink closes or ctx
// expires.
func (s *channelSink) WriteBatch(ctx context.Context, batches []Batch) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	default:
	}

	if len(batches) == 0 {
		return nil
	}

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- copyBatches(batches):
		return nil
	}
}

func (s *channelSink) Name() string { return s.name }

func (s *channelSink) Close() error {
	s.close()
	return nil
}

func (s *channelSink) close() {
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}

// copyBatches detaches the slice handed to user code from the export queue.
func copyBatches(in []Batch) []Batch {
	out := make([]Batch, len(in))
	for i, b := range in {
		out[i] = b
		out[i].Samples = append([]Sample(nil), b.Samples...)
	}
	return out
}
