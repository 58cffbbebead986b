package sensorhub

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

func TestExternalPublisherDeliversBatches(t *testing.T) {
	var (
		mu   sync.Mutex
		seqs []uint64
	)
	pub, err := NewExternalPublisher(&ExternalPublisherConfig{
		Policy: Policy{FlushInterval: 5 * time.Millisecond},
	}, func(_ context.Context, batches []Batch) error {
		mu.Lock()
		defer mu.Unlock()
		for _, b := range batches {
			seqs = append(seqs, b.Seq)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("NewExternalPublisher returned error: %v", err)
	}

	for i := 1; i <= 20; i++ {
		if err := pub.Publish(Sample{Channel: RF, Value: float64(i)}, Sample{Channel: EF, Value: 1}); err != nil {
			t.Fatalf("Publish returned error: %v", err)
		}
	}
	if got := pub.Store().ReadCurrent().Value(RF); got != 20 {
		t.Fatalf("expected current rf 20, got %v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pub.Close(ctx); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seqs) != 20 {
		t.Fatalf("expected 20 batches, got %d", len(seqs))
	}
	for i, s := range seqs {
		if s != uint64(i+1) {
			t.Fatalf("batch %d has seq %d", i, s)
		}
	}
}

func TestExternalPublisherRejectsInvalidSamples(t *testing.T) {
	pub, err := NewExternalPublisher(&ExternalPublisherConfig{}, func(context.Context, []Batch) error { return nil })
	if err != nil {
		t.Fatalf("NewExternalPublisher returned error: %v", err)
	}
	defer pub.Close(context.Background())

	for _, s := range []Sample{
		{Channel: Channel(99), Value: 1},
		{Channel: EMF, Value: math.NaN()},
		{Channel: EMF, Value: math.Inf(1)},
	} {
		if err := pub.Publish(s); !errors.Is(err, ErrInvalidSample) {
			t.Fatalf("%v: expected ErrInvalidSample, got %v", s, err)
		}
	}
	if !pub.Store().ReadCurrent().Empty() {
		t.Fatalf("rejected samples must not reach the store")
	}
}

func TestNewExternalPublisherValidation(t *testing.T) {
	if _, err := NewExternalPublisher(nil, func(context.Context, []Batch) error { return nil }); err == nil {
		t.Fatalf("expected error for nil config")
	}
	if _, err := NewExternalPublisher(&ExternalPublisherConfig{}, nil); err == nil {
		t.Fatalf("expected error for nil handler")
	}
	cfg := &ExternalPublisherConfig{Policy: Policy{OnQueueFull: "block"}}
	if _, err := NewExternalPublisher(cfg, func(context.Context, []Batch) error { return nil }); err == nil {
		t.Fatalf("expected error for blocking queue policy")
	}
}
