package sensorhub

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/eldaeon/sensorhub/internal/adapters/queue"
	"github.com/eldaeon/sensorhub/internal/app/pipeline"
	"github.com/eldaeon/sensorhub/internal/app/store"
	"github.com/eldaeon/sensorhub/internal/ports"
)

// ErrInvalidSample is returned by Publish for samples with an unknown channel
// or a non-finite value.
var ErrInvalidSample = errors.New("sensorhub: invalid sample")

// ExternalPublisherConfig configures the store and export queue used by an
// ExternalPublisher.
type ExternalPublisherConfig struct {
	Policy  Policy
	History HistoryConfig
}

// ExternalPublisher runs the store → queue → sink half of the runtime for
// producers that are not serial instruments, such as replay tools or
// simulators. Samples published here get the same snapshot, history and
// batch semantics as device readings.
type ExternalPublisher struct {
	store    *store.Store
	exporter *pipeline.Exporter

	cancel   context.CancelFunc
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewExternalPublisher wires a store, a bounded queue and handler so callers
// can push arbitrary samples while reusing the export policy.
func NewExternalPublisher(cfg *ExternalPublisherConfig, handler BatchHandler) (*ExternalPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("batch handler is required")
	}
	pol := pipeline.NormalizePolicy(cfg.Policy)
	if pol.OnQueueFull != "drop" && pol.OnQueueFull != "drop_oldest" {
		return nil, fmt.Errorf("policy.on_queue_full must be drop or drop_oldest, got %q", pol.OnQueueFull)
	}

	st := store.New(cfg.History)
	exp := pipeline.NewExporter(
		queue.NewMemQueue(pol.MaxQueueLen),
		[]ports.Sink{NewCallbackSink("external", handler)},
		pol,
		ports.NopObservability{},
	)
	st.AddListener(exp)

	ctx, cancel := context.WithCancel(context.Background())
	pub := &ExternalPublisher{
		store:    st,
		exporter: exp,
		cancel:   cancel,
		doneCh:   make(chan struct{}),
	}
	go func() {
		defer close(pub.doneCh)
		_ = exp.Run(ctx)
	}()
	return pub, nil
}

// Publish writes samples as one store write, so they reach the handler as a
// single batch.
func (p *ExternalPublisher) Publish(samples ...Sample) error {
	for _, s := range samples {
		if !s.Channel.Valid() || math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			return fmt.Errorf("%w: %s=%v", ErrInvalidSample, s.Channel, s.Value)
		}
	}
	if len(samples) == 0 {
		return nil
	}
	p.store.WriteBatch(samples)
	return nil
}

// Store exposes the publisher's store for reads.
func (p *ExternalPublisher) Store() *Store { return p.store }

// Dropped reports batches lost to the queue policy.
func (p *ExternalPublisher) Dropped() int { return p.exporter.Dropped() }

// Close drains the queue into the handler, respecting the provided context.
func (p *ExternalPublisher) Close(ctx context.Context) error {
	p.stopOnce.Do(p.cancel)

	select {
	case <-p.doneCh:
		return p.exporter.Close()
	case <-ctx.Done():
		return ctx.Err()
	}
}
