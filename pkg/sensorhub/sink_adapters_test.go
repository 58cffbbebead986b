package sensorhub

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testBatch(seq uint64) Batch {
	return Batch{
		Seq:     seq,
		Samples: []Sample{{Channel: CPMHigh, Value: float64(seq), Timestamp: time.Unix(int64(seq), 0)}},
	}
}

func TestNewCallbackSink(t *testing.T) {
	var received []Batch
	sink := NewCallbackSink("cb", func(_ context.Context, batches []Batch) error {
		received = append(received, batches...)
		return nil
	})

	input := []Batch{testBatch(41), testBatch(42)}
	if err := sink.WriteBatch(context.Background(), input); err != nil {
		t.Fatalf("WriteBatch returned error: %v", err)
	}
	if len(received) != 2 || received[1].Seq != 42 {
		t.Fatalf("unexpected batches %+v", received)
	}

	input[0].Samples[0].Value = -1
	if received[0].Samples[0].Value != 41 {
		t.Fatalf("expected handler to get a copy of the samples")
	}
	if sink.Name() != "cb" {
		t.Fatalf("unexpected name %q", sink.Name())
	}
}

func TestNewCallbackSinkNilHandler(t *testing.T) {
	sink := NewCallbackSink("", nil)
	if sink.Name() != "callback" {
		t.Fatalf("expected default name, got %q", sink.Name())
	}
	if err := sink.WriteBatch(context.Background(), []Batch{testBatch(1)}); err == nil {
		t.Fatalf("expected error when callback is nil")
	}
}

func TestNewChannelSink(t *testing.T) {
	sink, ch, closeFn := NewChannelSink("chan", 1)
	defer closeFn()

	errCh := make(chan error, 1)
	go func() {
		errCh <- sink.WriteBatch(context.Background(), []Batch{testBatch(7)})
	}()

	var batch []Batch
	select {
	case batch = <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel batch")
	}

	if err := <-errCh; err != nil {
		t.Fatalf("WriteBatch returned error: %v", err)
	}
	if len(batch) != 1 || batch[0].Seq != 7 {
		t.Fatalf("unexpected batch data: %+v", batch)
	}

	closeFn()
	if err := sink.WriteBatch(context.Background(), []Batch{testBatch(8)}); !errors.Is(err, ErrChannelSinkClosed) {
		t.Fatalf("expected ErrChannelSinkClosed, got %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed")
	}
}

func TestChannelSinkRespectsContext(t *testing.T) {
	sink, _, closeFn := NewChannelSink("slow", 0)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sink.WriteBatch(ctx, []Batch{testBatch(1)}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded with no reader, got %v", err)
	}
}

func TestChannelSinkCloseUnblocksWriter(t *testing.T) {
	sink, _, _ := NewChannelSink("blocked", 0)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sink.WriteBatch(context.Background(), []Batch{testBatch(1)})
	}()
	time.Sleep(10 * time.Millisecond)
	if err := sink.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrChannelSinkClosed) {
			t.Fatalf("expected ErrChannelSinkClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("writer still blocked after close")
	}
}
