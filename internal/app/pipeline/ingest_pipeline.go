package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eldaeon/sensorhub/internal/domain"
	"github.com/eldaeon/sensorhub/internal/ports"
)

// NormalizePolicy fills zero fields with the export defaults.
func NormalizePolicy(p ports.Policy) ports.Policy {
	if p.MaxQueueLen <= 0 {
		p.MaxQueueLen = 10_000
	}
	if p.MaxBatchSize <= 0 {
		p.MaxBatchSize = 500
	}
	if p.FlushInterval <= 0 {
		p.FlushInterval = time.Second
	}
	if p.SinkTimeout <= 0 {
		p.SinkTimeout = 5 * time.Second
	}
	if p.OnQueueFull == "" {
		p.OnQueueFull = "drop_oldest"
	}
	return p
}

// Run flushes the queue whenever batches arrive or the flush interval
// passes. On cancellation it drains what is left, then returns. Sink
// writes in flight are bounded by SinkTimeout, not by ctx.
func (e *Exporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.pol.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return nil
		case <-e.q.Ready():
		case <-ticker.C:
		}
		for e.flushOnce(context.WithoutCancel(ctx)) {
		}
	}
}

func (e *Exporter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), e.pol.SinkTimeout)
	defer cancel()
	for e.flushOnce(ctx) {
	}
}

// flushOnce writes one dequeued batch group to every sink. It reports
// whether anything was dequeued.
func (e *Exporter) flushOnce(ctx context.Context) bool {
	batch := e.q.DequeueBatch(e.pol.MaxBatchSize)
	e.obs.SetGauge("sensorhub_export_queue_length", float64(e.q.Len()))
	if len(batch) == 0 {
		return false
	}
	for _, s := range e.sinks {
		e.write(ctx, s, batch)
	}
	return true
}

// write gives each sink its own deadline so one slow sink cannot starve the
// others. Failed writes are logged and not retried.
func (e *Exporter) write(parent context.Context, s ports.Sink, batch []domain.Batch) {
	ctx, cancel := context.WithTimeout(parent, e.pol.SinkTimeout)
	defer cancel()

	start := time.Now()
	if err := s.WriteBatch(ctx, batch); err != nil {
		e.obs.IncCounter("sensorhub_export_errors_total", 1, s.Name())
		e.obs.LogError("sink_write_failed", err,
			ports.Field{Key: "sink", Value: s.Name()},
			ports.Field{Key: "batches", Value: len(batch)})
		return
	}
	e.obs.ObserveLatency("sensorhub_sink_latency_seconds", time.Since(start).Seconds(), s.Name())
	e.obs.IncCounter("sensorhub_export_batches_total", float64(len(batch)), s.Name())
}

// Close closes every sink. Call it after Run has returned.
func (e *Exporter) Close() error {
	var errs []error
	for _, s := range e.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
