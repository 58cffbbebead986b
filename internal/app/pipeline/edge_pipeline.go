package pipeline

import (
	"fmt"
	"sync"

	"github.com/eldaeon/sensorhub/internal/domain"
	"github.com/eldaeon/sensorhub/internal/ports"
)

// Exporter buffers store batches and forwards them to the sinks. OnBatch is
// the store-facing half and never blocks; Run is the sink-facing half.
type Exporter struct {
	q     ports.BatchQueue
	sinks []ports.Sink
	pol   ports.Policy
	obs   ports.Observability

	mu      sync.Mutex
	dropped int
}

func NewExporter(q ports.BatchQueue, sinks []ports.Sink, pol ports.Policy, obs ports.Observability) *Exporter {
	if obs == nil {
		obs = ports.NopObservability{}
	}
	return &Exporter{q: q, sinks: sinks, pol: NormalizePolicy(pol), obs: obs}
}

// OnBatch implements ports.BatchListener.
func (e *Exporter) OnBatch(b domain.Batch) {
	if !enqueueWithPolicy(e.q, b, e.pol, e.obs) {
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
	}
	e.obs.SetGauge("sensorhub_export_queue_length", float64(e.q.Len()))
}

// Dropped reports how many batches never reached the queue.
func (e *Exporter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

func (e *Exporter) Sinks() []ports.Sink { return e.sinks }

// enqueueWithPolicy applies the queue-full policy. It never waits: the
// caller is the store's notification path.
func enqueueWithPolicy(q ports.BatchQueue, b domain.Batch, pol ports.Policy, obs ports.Observability) bool {
	if q.Enqueue(b) {
		return true
	}

	switch pol.OnQueueFull {
	case "drop_oldest":
		if q.DropOldest() {
			obs.IncCounter("sensorhub_export_dropped_total", 1, "drop_oldest")
		}
		if q.Enqueue(b) {
			return true
		}
		obs.IncCounter("sensorhub_export_dropped_total", 1, "drop")
		return false
	case "drop":
		obs.IncCounter("sensorhub_export_dropped_total", 1, "drop")
		obs.LogError("export_queue_full_drop", fmt.Errorf("queue length exceeded capacity %d", pol.MaxQueueLen),
			ports.Field{Key: "seq", Value: b.Seq})
		return false
	default:
		obs.IncCounter("sensorhub_export_dropped_total", 1, "drop")
		obs.LogError("export_policy_invalid", fmt.Errorf("policy=%s", pol.OnQueueFull))
		return false
	}
}
