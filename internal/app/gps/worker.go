package gps

import (
	"context"
	"time"

	"github.com/eldaeon/sensorhub/internal/domain"
	"github.com/eldaeon/sensorhub/internal/ports"
)

// SampleWriter is the store surface the worker needs.
type SampleWriter interface {
	WriteBatch(samples []domain.Sample)
}

// Worker writes one fix per tick. NoFix is written too, as neutral zeros.
type Worker struct {
	src      *Source
	store    SampleWriter
	interval time.Duration
	clock    ports.Clock
}

func NewWorker(src *Source, store SampleWriter, interval time.Duration, clock ports.Clock) *Worker {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Worker{src: src, store: store, interval: interval, clock: clock}
}

func (w *Worker) Source() *Source { return w.src }

// Run blocks until ctx is cancelled, then closes the provider.
func (w *Worker) Run(ctx context.Context) error {
	defer w.src.Close()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		fix := w.src.CurrentFix(ctx)
		if ctx.Err() != nil {
			return nil
		}
		w.store.WriteBatch(fix.Samples(w.clock.Now()))

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
